package validate

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havbruk/aquahist/pkg/store"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := store.New(db)
	require.NoError(t, err)
	return s
}

func exec(t *testing.T, s *store.Store, stmt string, args ...any) {
	t.Helper()
	_, err := s.DB().Exec(stmt, args...)
	require.NoError(t, err)
}

func seedConsistent(t *testing.T, s *store.Store) {
	t.Helper()
	exec(t, s, `INSERT INTO snapshots(snapshot_date, filename, ingested_at) VALUES ('2025-12-22', 'f.csv', 't')`)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from, valid_to)
	            VALUES ('H-F-0920', '915000000', '2025-12-01', '2025-12-20')`)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from)
	            VALUES ('H-F-0920', '916000000', '2025-12-21')`)
	exec(t, s, `INSERT INTO permit_current(permit_key, owner_identity, snapshot_date, row_json)
	            VALUES ('H-F-0920', '916000000', '2025-12-22', '{}')`)
}

func checkByName(t *testing.T, r *Report, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no check named %q", name)
	return Check{}
}

func TestRun_ConsistentStore(t *testing.T) {
	s := newTestStore(t)
	seedConsistent(t, s)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, report.Failed())
	for _, c := range report.Checks {
		assert.Equal(t, StatusOK, c.Status, c.Name)
	}
}

func TestRun_DetectsMultipleOpenPeriods(t *testing.T) {
	s := newTestStore(t)
	seedConsistent(t, s)

	// The schema's partial unique index normally makes this state
	// unreachable; drop it to simulate a corrupted database.
	exec(t, s, `DROP INDEX uq_one_open_period_per_permit`)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from)
	            VALUES ('H-F-0920', '917000000', '2025-12-22')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, report.Failed())

	c := checkByName(t, report, "permits with multiple open periods")
	assert.Equal(t, StatusFail, c.Status)
	assert.EqualValues(t, 1, c.Count)
	require.NotEmpty(t, c.Samples)
	assert.Contains(t, c.Samples[0], "H-F-0920")
}

func TestRun_DetectsNegativePeriod(t *testing.T) {
	s := newTestStore(t)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from, valid_to)
	            VALUES ('N-T-0001', '916000000', '2025-12-21', '2025-12-01')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	c := checkByName(t, report, "periods ending before they start")
	assert.Equal(t, StatusFail, c.Status)
}

func TestRun_DetectsOverlap(t *testing.T) {
	s := newTestStore(t)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from, valid_to)
	            VALUES ('H-F-0920', 'A', '2025-12-01', '2025-12-21')`)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from, valid_to)
	            VALUES ('H-F-0920', 'B', '2025-12-15', '2025-12-31')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	c := checkByName(t, report, "overlapping periods")
	assert.Equal(t, StatusFail, c.Status)
	assert.EqualValues(t, 1, c.Count)
}

func TestRun_DetectsOverlapWithOpenPeriod(t *testing.T) {
	s := newTestStore(t)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from)
	            VALUES ('H-F-0920', 'A', '2025-12-01')`)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from, valid_to)
	            VALUES ('H-F-0920', 'B', '2025-12-15', '2025-12-31')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	c := checkByName(t, report, "overlapping periods")
	assert.Equal(t, StatusFail, c.Status)
	assert.EqualValues(t, 1, c.Count)
	require.NotEmpty(t, c.Samples)
	assert.Contains(t, c.Samples[0], "2025-12-15")
}

func TestRun_DetectsCurrentPeriodDisagreement(t *testing.T) {
	s := newTestStore(t)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from)
	            VALUES ('H-F-0920', '916000000', '2025-12-21')`)
	exec(t, s, `INSERT INTO permit_current(permit_key, owner_identity, snapshot_date, row_json)
	            VALUES ('H-F-0920', '917000000', '2025-12-21', '{}')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	c := checkByName(t, report, "current owner disagrees with open period")
	assert.Equal(t, StatusFail, c.Status)
	require.NotEmpty(t, c.Samples)
	assert.Contains(t, c.Samples[0], "916000000")
}

func TestRun_DetectsOrphanOpenPeriod(t *testing.T) {
	s := newTestStore(t)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from)
	            VALUES ('H-F-0920', '916000000', '2025-12-21')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	c := checkByName(t, report, "open periods without a current row")
	assert.Equal(t, StatusFail, c.Status)
}

func TestRun_StaleCurrentRowIsAWarning(t *testing.T) {
	s := newTestStore(t)
	seedConsistent(t, s)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from)
	            VALUES ('N-T-0001', '915000000', '2025-12-01')`)
	exec(t, s, `INSERT INTO permit_current(permit_key, owner_identity, snapshot_date, row_json)
	            VALUES ('N-T-0001', '915000000', '2025-12-10', '{}')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, report.Failed())

	c := checkByName(t, report, "current rows not refreshed by the latest extract")
	assert.Equal(t, StatusWarn, c.Status)
}

func TestRun_CurrentRowNewerThanLatestExtractFails(t *testing.T) {
	s := newTestStore(t)
	seedConsistent(t, s)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from)
	            VALUES ('N-T-0001', '915000000', '2025-12-01')`)
	exec(t, s, `INSERT INTO permit_current(permit_key, owner_identity, snapshot_date, row_json)
	            VALUES ('N-T-0001', '915000000', '2025-12-30', '{}')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, report.Failed())

	c := checkByName(t, report, "current rows dated after the latest extract")
	assert.Equal(t, StatusFail, c.Status)
	require.NotEmpty(t, c.Samples)
	assert.Contains(t, c.Samples[0], "2025-12-30")
}

func TestReport_Write(t *testing.T) {
	s := newTestStore(t)
	seedConsistent(t, s)
	exec(t, s, `INSERT INTO ownership_history(permit_key, owner_identity, valid_from, valid_to)
	            VALUES ('N-T-0001', '916000000', '2025-12-21', '2025-12-01')`)

	report, err := Run(context.Background(), s)
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, report.Write(&buf))
	out := buf.String()
	assert.Contains(t, out, "[FAIL] periods ending before they start (1)")
	assert.Contains(t, out, "[OK  ] permits with multiple open periods")
	assert.Contains(t, out, "database has integrity violations")
}
