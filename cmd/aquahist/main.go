// Command aquahist builds and maintains temporal ownership history for
// aquaculture permits from daily registry extracts.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/havbruk/aquahist/pkg/classifier"
	"github.com/havbruk/aquahist/pkg/config"
	"github.com/havbruk/aquahist/pkg/extract"
	"github.com/havbruk/aquahist/pkg/fdir"
	"github.com/havbruk/aquahist/pkg/observability"
	"github.com/havbruk/aquahist/pkg/reconcile"
	"github.com/havbruk/aquahist/pkg/store"
	"github.com/havbruk/aquahist/pkg/transfers"
	"github.com/havbruk/aquahist/pkg/validate"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch args[1] {
	case "preflight":
		return runPreflightCmd(args[2:], stdout, stderr)
	case "build":
		return runBuildCmd(ctx, args[2:], stdout, stderr, false)
	case "rebuild":
		return runBuildCmd(ctx, args[2:], stdout, stderr, true)
	case "apply":
		return runApplyCmd(ctx, args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(ctx, args[2:], stdout, stderr)
	case "backfill":
		return runBackfillCmd(ctx, args[2:], stdout, stderr)
	case "fetch":
		return runFetchCmd(ctx, args[2:], stdout, stderr)
	case "details":
		return runDetailsCmd(ctx, args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, `Usage: aquahist <command> [flags]

Commands:
  preflight   Check a directory of extracts before building
  build       Apply all unprocessed extracts in date order
  rebuild     Wipe derived state and replay every extract
  apply       Apply a single extract file
  validate    Run integrity checks over the database
  backfill    Fill registration dates from the transfer feed
  fetch       Download today's registry dump
  details     Fetch and cache license details for a permit

Environment:
  AQUA_DB_PATH, AQUA_EXTRACT_DIR, AQUA_API_BASE, AQUA_RULES_PATH,
  LOG_LEVEL, OTEL_EXPORTER_OTLP_ENDPOINT
`)
}

// runtime bundles what most subcommands need.
type runtime struct {
	cfg   *config.Config
	obs   *observability.Provider
	store *store.Store
}

func setup(ctx context.Context, cfg *config.Config) (*runtime, error) {
	obs, err := observability.New(ctx, observability.Config{
		LogLevel:     cfg.LogLevel,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return nil, err
	}
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}
	return &runtime{cfg: cfg, obs: obs, store: s}, nil
}

func (rt *runtime) close(ctx context.Context) {
	_ = rt.store.Close()
	_ = rt.obs.Shutdown(ctx)
}

func (rt *runtime) apiClient() *fdir.Client {
	opts := []fdir.ClientOption{fdir.WithLogger(rt.obs.Logger())}
	if rt.cfg.APIBase != "" {
		opts = append(opts, fdir.WithBaseURL(rt.cfg.APIBase))
	}
	return fdir.NewClient(opts...)
}

func (rt *runtime) loadClassifier(rulesPath string) (classifier.Classifier, error) {
	if rulesPath == "" {
		rulesPath = rt.cfg.RulesPath
	}
	if rulesPath == "" {
		return classifier.Always(false), nil
	}
	rules, err := classifier.Load(rulesPath, classifier.DefaultFilterName)
	if err != nil {
		return nil, err
	}
	return rules, nil
}

func (rt *runtime) engine(rulesPath string, enrich, lenient bool) (*reconcile.Engine, error) {
	cls, err := rt.loadClassifier(rulesPath)
	if err != nil {
		return nil, err
	}
	opts := []reconcile.Option{
		reconcile.WithLogger(rt.obs.Logger()),
		reconcile.WithTracer(rt.obs.Tracer()),
	}
	if enrich {
		adapter := transfers.NewAdapter(rt.apiClient(), rt.store,
			transfers.WithLogger(rt.obs.Logger()))
		opts = append(opts, reconcile.WithEnricher(adapter))
	}
	if lenient {
		opts = append(opts, reconcile.WithLenientDates())
	}
	return reconcile.New(rt.store, cls, opts...), nil
}

func runPreflightCmd(args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("preflight", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", cfg.ExtractDir, "Directory of extract files")
	failOnWarn := cmd.Bool("fail-on-warn", false, "Treat warnings as errors")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	res, err := extract.Preflight(*dir, *failOnWarn)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	res.WriteReport(stdout)
	if !res.OK {
		return 1
	}
	return 0
}

func runBuildCmd(ctx context.Context, args []string, stdout, stderr io.Writer, wipe bool) int {
	name := "build"
	if wipe {
		name = "rebuild"
	}
	cfg := config.Load()
	cmd := flag.NewFlagSet(name, flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", cfg.ExtractDir, "Directory of extract files")
	rules := cmd.String("rules", "", "Classifier rules file (YAML)")
	enrich := cmd.Bool("enrich", false, "Fetch registration dates while applying")
	lenient := cmd.Bool("lenient-dates", false, "Warn instead of fail on title/filename date mismatch")
	skipPreflight := cmd.Bool("skip-preflight", false, "Skip structural checks before applying")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	if !*skipPreflight {
		res, err := extract.Preflight(*dir, false)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if !res.OK {
			res.WriteReport(stderr)
			return 1
		}
	}

	rt, err := setup(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.close(ctx)

	eng, err := rt.engine(*rules, *enrich, *lenient)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	var stats []reconcile.DayStats
	if wipe {
		stats, err = eng.Rebuild(ctx, *dir)
	} else {
		stats, err = eng.BuildDir(ctx, *dir)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	for _, day := range stats {
		printDay(stdout, day)
	}
	_, _ = fmt.Fprintf(stdout, "Applied %d extracts.\n", len(stats))
	return 0
}

func runApplyCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("apply", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	file := cmd.String("file", "", "Extract file to apply (REQUIRED)")
	rules := cmd.String("rules", "", "Classifier rules file (YAML)")
	enrich := cmd.Bool("enrich", false, "Fetch registration dates while applying")
	lenient := cmd.Bool("lenient-dates", false, "Warn instead of fail on title/filename date mismatch")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *file == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -file is required")
		return 2
	}

	rt, err := setup(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.close(ctx)

	eng, err := rt.engine(*rules, *enrich, *lenient)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	stats, err := eng.ApplyFile(ctx, *file)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	printDay(stdout, *stats)
	return 0
}

// runValidateCmd exits 0 when consistent, 2 on integrity violations, so
// cron jobs can alert on the exit code alone.
func runValidateCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	rt, err := setup(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.close(ctx)

	report, err := validate.Run(ctx, rt.store)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	if err := report.Write(stdout); err != nil {
		return 2
	}
	if report.Failed() {
		return 2
	}
	return 0
}

func runBackfillCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("backfill", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	limit := cmd.Int("limit", 0, "Max permits to visit this pass (0 = all)")
	rps := cmd.Float64("rps", 5, "Upstream request rate limit")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	rt, err := setup(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.close(ctx)

	clientOpts := []fdir.ClientOption{
		fdir.WithLogger(rt.obs.Logger()),
		fdir.WithRateLimit(*rps),
	}
	if cfg.APIBase != "" {
		clientOpts = append(clientOpts, fdir.WithBaseURL(cfg.APIBase))
	}
	adapter := transfers.NewAdapter(fdir.NewClient(clientOpts...), rt.store,
		transfers.WithLogger(rt.obs.Logger()))
	worker := transfers.NewBackfill(rt.store, adapter,
		transfers.WithLimit(*limit),
		transfers.WithBackfillLogger(rt.obs.Logger()),
		transfers.WithBackfillTracer(rt.obs.Tracer()))

	stats, err := worker.Run(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Backfill: %d pending, %d visited, %d filled, %d errors.\n",
		stats.Pending, stats.Visited, stats.Filled, stats.Errors)
	return 0
}

func runFetchCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("fetch", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	dir := cmd.String("dir", cfg.ExtractDir, "Directory to save the dump into")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	rt, err := setup(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.close(ctx)

	path, err := rt.apiClient().DownloadDailyDump(ctx, *dir)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "Saved %s\n", path)
	return 0
}

func runDetailsCmd(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.Load()
	cmd := flag.NewFlagSet("details", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	key := cmd.String("permit", "", "Permit key, e.g. H-F-0920 (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *key == "" {
		_, _ = fmt.Fprintln(stderr, "Error: -permit is required")
		return 2
	}

	rt, err := setup(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer rt.close(ctx)

	d, err := rt.apiClient().Details(ctx, *key)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	details := store.LicenseDetails{
		PermitKey:          *key,
		OriginalOwnerOrgNr: d.GrantInformation.OpenLegalEntityNr,
		OriginalOwnerName:  d.GrantInformation.LegalEntityName,
		ProdAreaCode:       d.Placement.ProdAreaCode,
		ProdAreaName:       d.Placement.ProdAreaName,
		ProdAreaStatus:     d.Placement.ProdAreaStatus,
		RawJSON:            string(d.Raw),
		FetchedAt:          nowRFC3339(),
	}
	if err := rt.store.Queries().UpsertLicenseDetails(ctx, details); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "%s: granted to %s (%s)", *key,
		details.OriginalOwnerName, details.OriginalOwnerOrgNr)
	if details.ProdAreaCode != nil {
		_, _ = fmt.Fprintf(stdout, ", production area %d %s [%s]",
			*details.ProdAreaCode, details.ProdAreaName, details.ProdAreaStatus)
	}
	_, _ = fmt.Fprintln(stdout)
	return 0
}

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

func printDay(w io.Writer, d reconcile.DayStats) {
	_, _ = fmt.Fprintf(w, "%s: %d permits, %d new, %d owner changes, %d removed, %d snapshots written\n",
		d.Date, d.Permits, d.New, d.OwnerChanges, d.Removed, d.SnapshotsWritten)
}
