// Package canonicalize produces the deterministic serialization and content
// hash of an extract record. Two records with identical semantic content must
// yield byte-identical canonical JSON and therefore identical hashes; the
// hash is the sole change-detection mechanism of the snapshot store.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/havbruk/aquahist/pkg/permit"
)

// nullMarkers are value spellings treated as "absent", case-insensitively.
var nullMarkers = map[string]struct{}{
	"nan":  {},
	"none": {},
	"null": {},
}

// normValue maps a raw field value to its canonical form: nil for absent
// (empty, whitespace-only, or a null marker), otherwise the trimmed string.
func normValue(v string) *string {
	s := strings.TrimSpace(v)
	if s == "" {
		return nil
	}
	if _, ok := nullMarkers[strings.ToLower(s)]; ok {
		return nil
	}
	return &s
}

// Canonical returns the canonical form of r: field names trimmed, absent
// values as explicit JSON nulls, everything else trimmed.
func Canonical(r permit.Record) map[string]*string {
	out := make(map[string]*string, len(r))
	for k, v := range r {
		out[strings.TrimSpace(k)] = normValue(v)
	}
	return out
}

// CleanRecord returns r with canonical values and absent fields dropped.
// Consumers that want "the record as observed" without null markers — the
// business-rule classifier in particular — use this form.
func CleanRecord(r permit.Record) permit.Record {
	out := make(permit.Record, len(r))
	for k, v := range r {
		if nv := normValue(v); nv != nil {
			out[strings.TrimSpace(k)] = *nv
		}
	}
	return out
}

// JSON returns the RFC 8785 canonical JSON serialization of r's canonical
// form: keys sorted by UTF-8 bytes, compact separators, no HTML escaping.
func JSON(r permit.Record) (string, error) {
	raw, err := json.Marshal(Canonical(r))
	if err != nil {
		return "", fmt.Errorf("canonicalize: marshal record: %w", err)
	}
	c, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize: jcs transform: %w", err)
	}
	return string(c), nil
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashRecord returns the canonical JSON of r and its SHA-256 hex digest.
func HashRecord(r permit.Record) (canonicalJSON, hash string, err error) {
	j, err := JSON(r)
	if err != nil {
		return "", "", err
	}
	return j, HashBytes([]byte(j)), nil
}
