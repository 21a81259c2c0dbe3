// Package permit holds the domain types shared by every stage of the
// reconciliation pipeline: raw extract records, normalized permit keys,
// and the comparison-stable owner identity.
package permit

import (
	"regexp"
	"strings"
)

// Column names of the registry extract. The header is normalized (trimmed)
// on load, so these are the exact lookup keys.
const (
	KeyCol         = "TILL_NR"
	OwnerOrgCol    = "ORG.NR/PERS.NR"
	OwnerNameCol   = "NAVN"
	TimeLimitedCol = "TIDSBEGRENSET"
)

// UnknownOwner is the sentinel identity used when a record carries neither
// an organization number nor an owner name.
const UnknownOwner = "PN:UKJENT"

// Record is one raw extract row, field name to raw string value.
type Record map[string]string

// Clean returns the trimmed value of field, "" when absent.
func (r Record) Clean(field string) string {
	return strings.TrimSpace(r[field])
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// NormalizeKey turns a raw permit number into the stable join key used by
// every table: whitespace collapsed, spaces replaced with "-".
// "H F 0920" becomes "H-F-0920".
func NormalizeKey(s string) string {
	s = strings.TrimSpace(s)
	s = whitespaceRE.ReplaceAllString(s, " ")
	return strings.ReplaceAll(s, " ", "-")
}

// OwnerIdentity derives the comparison-stable owner representation:
// the org/person registration number when present, otherwise a namespaced
// personal-name fallback, otherwise UnknownOwner. Raw name/number pairs have
// noisy formatting; change detection must only ever compare identities.
func OwnerIdentity(orgNr, name string) string {
	if org := strings.TrimSpace(orgNr); org != "" {
		return org
	}
	if n := strings.TrimSpace(name); n != "" {
		return "PN:" + n
	}
	return UnknownOwner
}

// State is the per-permit result of reducing one day's extract: the chosen
// representative row after canonicalization, keyed for change detection.
type State struct {
	Key           string
	OwnerOrgNr    string
	OwnerName     string
	OwnerIdentity string
	RecordJSON    string // canonical serialization of the representative row
	Hash          string // SHA-256 hex of RecordJSON
	TimeLimited   *Date  // from TIDSBEGRENSET, nil when absent or unparseable
}
