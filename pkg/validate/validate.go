// Package validate runs integrity checks over a reconciled store: SCD2
// period invariants, agreement between current state and open periods, and
// freshness of the current table. Checks are read-only.
package validate

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/havbruk/aquahist/pkg/store"
)

// Status of a single check.
type Status string

const (
	StatusOK   Status = "OK"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
)

// sampleCap bounds how many offending rows a check reports.
const sampleCap = 20

// Check is one finished integrity check.
type Check struct {
	Name    string
	Status  Status
	Count   int64
	Samples []string
}

// Report is the outcome of a validation run.
type Report struct {
	Checks []Check
}

// Failed reports whether any check failed outright.
func (r *Report) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return true
		}
	}
	return false
}

// Write renders the report as text.
func (r *Report) Write(w io.Writer) error {
	for _, c := range r.Checks {
		if _, err := fmt.Fprintf(w, "[%-4s] %s", c.Status, c.Name); err != nil {
			return err
		}
		if c.Count > 0 {
			if _, err := fmt.Fprintf(w, " (%d)", c.Count); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		for _, s := range c.Samples {
			if _, err := fmt.Fprintf(w, "         %s\n", s); err != nil {
				return err
			}
		}
	}
	verdict := "database is consistent"
	if r.Failed() {
		verdict = "database has integrity violations"
	}
	_, err := fmt.Fprintf(w, "%s\n", verdict)
	return err
}

type check struct {
	name   string
	query  string
	onFind Status
}

// Each query returns one row per violation, first column a short
// description of the offending row.
var checks = []check{
	{
		name:   "duplicate period starts",
		onFind: StatusFail,
		query: `
			SELECT permit_key || ' / ' || owner_identity || ' @ ' || valid_from
			FROM ownership_history
			GROUP BY permit_key, owner_identity, valid_from
			HAVING COUNT(*) > 1;`,
	},
	{
		name:   "periods ending before they start",
		onFind: StatusFail,
		query: `
			SELECT permit_key || ': ' || valid_from || ' .. ' || valid_to
			FROM ownership_history
			WHERE valid_to IS NOT NULL
			  AND date(valid_to) < date(valid_from);`,
	},
	{
		name:   "permits with multiple open periods",
		onFind: StatusFail,
		query: `
			SELECT permit_key || ' (' || COUNT(*) || ' open)'
			FROM ownership_history
			WHERE valid_to IS NULL
			GROUP BY permit_key
			HAVING COUNT(*) > 1;`,
	},
	{
		name:   "overlapping periods",
		onFind: StatusFail,
		query: `
			WITH ordered AS (
				SELECT permit_key, valid_from,
				       LAG(COALESCE(valid_to, '9999-12-31')) OVER (
				           PARTITION BY permit_key
				           ORDER BY date(valid_from), id
				       ) AS prev_effective_end
				FROM ownership_history
			)
			SELECT permit_key || ': ' || prev_effective_end || ' overlaps ' || valid_from
			FROM ordered
			WHERE prev_effective_end IS NOT NULL
			  AND date(prev_effective_end) >= date(valid_from);`,
	},
	{
		name:   "current owner disagrees with open period",
		onFind: StatusFail,
		query: `
			SELECT c.permit_key || ': current ' || c.owner_identity ||
			       ' vs period ' || COALESCE(h.owner_identity, '<none>')
			FROM permit_current c
			LEFT JOIN ownership_history h
			       ON h.permit_key = c.permit_key AND h.valid_to IS NULL
			WHERE h.owner_identity IS NULL
			   OR h.owner_identity <> c.owner_identity;`,
	},
	{
		name:   "open periods without a current row",
		onFind: StatusFail,
		query: `
			SELECT h.permit_key || ': ' || h.owner_identity
			FROM ownership_history h
			LEFT JOIN permit_current c ON c.permit_key = h.permit_key
			WHERE h.valid_to IS NULL
			  AND c.permit_key IS NULL;`,
	},
	{
		name:   "current rows dated after the latest extract",
		onFind: StatusFail,
		query: `
			SELECT permit_key || ': dated ' || snapshot_date
			FROM permit_current
			WHERE snapshot_date > (SELECT MAX(snapshot_date) FROM snapshots);`,
	},
	{
		name:   "current rows not refreshed by the latest extract",
		onFind: StatusWarn,
		query: `
			SELECT permit_key || ': last seen ' || snapshot_date
			FROM permit_current
			WHERE snapshot_date < (SELECT MAX(snapshot_date) FROM snapshots);`,
	},
}

// Run executes every check against the store.
func Run(ctx context.Context, s *store.Store) (*Report, error) {
	report := &Report{}
	for _, c := range checks {
		done, err := runCheck(ctx, s, c)
		if err != nil {
			return nil, fmt.Errorf("validate: %s: %w", c.name, err)
		}
		report.Checks = append(report.Checks, done)
	}
	return report, nil
}

func runCheck(ctx context.Context, s *store.Store, c check) (Check, error) {
	rows, err := s.DB().QueryContext(ctx, c.query)
	if err != nil {
		return Check{}, err
	}
	defer func() { _ = rows.Close() }()

	out := Check{Name: c.name, Status: StatusOK}
	for rows.Next() {
		var desc string
		if err := rows.Scan(&desc); err != nil {
			return Check{}, err
		}
		out.Count++
		if len(out.Samples) < sampleCap {
			out.Samples = append(out.Samples, strings.TrimSpace(desc))
		}
	}
	if err := rows.Err(); err != nil {
		return Check{}, err
	}
	if out.Count > 0 {
		out.Status = c.onFind
	}
	return out, nil
}
