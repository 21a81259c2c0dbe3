package config

import "os"

// Config holds runtime configuration, sourced from the environment.
type Config struct {
	DBPath       string
	ExtractDir   string
	APIBase      string
	RulesPath    string
	LogLevel     string
	OTLPEndpoint string
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() *Config {
	dbPath := os.Getenv("AQUA_DB_PATH")
	if dbPath == "" {
		dbPath = "data/aquahist.db"
	}

	extractDir := os.Getenv("AQUA_EXTRACT_DIR")
	if extractDir == "" {
		extractDir = "data/extracts"
	}

	apiBase := os.Getenv("AQUA_API_BASE")
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		DBPath:       dbPath,
		ExtractDir:   extractDir,
		APIBase:      apiBase,
		RulesPath:    os.Getenv("AQUA_RULES_PATH"),
		LogLevel:     logLevel,
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}
