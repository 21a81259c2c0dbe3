package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(db)
	require.NoError(t, err)
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	q := s.Queries()
	ctx := context.Background()

	hash, err := q.LatestSnapshotHash(ctx, "H-F-0920")
	require.NoError(t, err)
	assert.Equal(t, "", hash)

	require.NoError(t, q.InsertSnapshot(ctx, Snapshot{
		SnapshotDate: "2025-12-21", PermitKey: "H-F-0920", RowJSON: `{"a":"1"}`, RowHash: "h1",
	}))
	require.NoError(t, q.InsertSnapshot(ctx, Snapshot{
		SnapshotDate: "2025-12-25", PermitKey: "H-F-0920", RowJSON: `{"a":"2"}`, RowHash: "h2",
	}))

	// Most recent by date, even with gaps.
	hash, err = q.LatestSnapshotHash(ctx, "H-F-0920")
	require.NoError(t, err)
	assert.Equal(t, "h2", hash)

	history, err := q.SnapshotsFor(ctx, "H-F-0920")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2025-12-21", history[0].SnapshotDate)

	n, err := q.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestInsertSnapshot_SameDateReplaces(t *testing.T) {
	s := newTestStore(t)
	q := s.Queries()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, q.InsertSnapshot(ctx, Snapshot{
			SnapshotDate: "2025-12-21", PermitKey: "H-F-0920", RowJSON: `{}`, RowHash: "h",
		}))
	}
	n, err := q.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCurrentStateLifecycle(t *testing.T) {
	s := newTestStore(t)
	q := s.Queries()
	ctx := context.Background()

	state := CurrentState{
		PermitKey:     "H-F-0920",
		OwnerOrgNr:    "916000000",
		OwnerName:     "Havbruk AS",
		OwnerIdentity: "916000000",
		SnapshotDate:  "2025-12-21",
		RowJSON:       `{}`,
	}
	require.NoError(t, q.UpsertCurrent(ctx, state))

	owners, err := q.CurrentOwners(ctx)
	require.NoError(t, err)
	assert.Equal(t, Owner{OrgNr: "916000000", Name: "Havbruk AS", Identity: "916000000"}, owners["H-F-0920"])

	state.SnapshotDate = "2025-12-22"
	state.GrunnrenteLiable = true
	require.NoError(t, q.UpsertCurrent(ctx, state))

	got, err := q.CurrentStateFor(ctx, "H-F-0920")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-22", got.SnapshotDate)
	assert.True(t, got.GrunnrenteLiable)

	keys, err := q.CurrentKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"H-F-0920"}, keys)

	require.NoError(t, q.DeleteCurrent(ctx, "H-F-0920"))
	_, err = q.CurrentStateFor(ctx, "H-F-0920")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCurrentState_EmptyOwnerStoredAsNull(t *testing.T) {
	s := newTestStore(t)
	q := s.Queries()
	ctx := context.Background()

	require.NoError(t, q.UpsertCurrent(ctx, CurrentState{
		PermitKey: "N-T-0001", OwnerIdentity: "PN:Ola Nordmann",
		SnapshotDate: "2025-12-21", RowJSON: `{}`,
	}))

	var orgNr sql.NullString
	err := s.DB().QueryRow(`SELECT owner_orgnr FROM permit_current WHERE permit_key = 'N-T-0001'`).Scan(&orgNr)
	require.NoError(t, err)
	assert.False(t, orgNr.Valid)
}

func TestWipeDerived(t *testing.T) {
	s := newTestStore(t)
	q := s.Queries()
	ctx := context.Background()

	require.NoError(t, q.InsertSnapshot(ctx, Snapshot{SnapshotDate: "2025-12-21", PermitKey: "K", RowJSON: "{}", RowHash: "h"}))
	require.NoError(t, q.MarkExtractProcessed(ctx, "2025-12-21", "f.csv", "2025-12-21T06:00:00Z"))
	require.NoError(t, q.UpsertCurrent(ctx, CurrentState{PermitKey: "K", OwnerIdentity: "X", SnapshotDate: "2025-12-21", RowJSON: "{}"}))
	require.NoError(t, q.OpenPeriod(ctx, Period{PermitKey: "K", OwnerIdentity: "X", ValidFrom: "2025-12-21"}))

	// The external transfer cache is not derived from extracts and survives.
	_, err := q.InsertTransfer(ctx, Transfer{PermitKey: "K", RawJSON: "{}", FetchedAt: "2025-12-21T06:00:00Z"})
	require.NoError(t, err)

	require.NoError(t, q.WipeDerived(ctx))

	n, err := q.CountSnapshots(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	date, err := q.LatestExtractDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", date)

	transfers, err := q.CountTransfers(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, transfers)
}

func TestMarkExtractProcessed(t *testing.T) {
	s := newTestStore(t)
	q := s.Queries()
	ctx := context.Background()

	require.NoError(t, q.MarkExtractProcessed(ctx, "2025-12-21", "a.csv", "t1"))
	require.NoError(t, q.MarkExtractProcessed(ctx, "2025-12-22", "b.csv", "t2"))
	// Re-processing a date replaces its marker.
	require.NoError(t, q.MarkExtractProcessed(ctx, "2025-12-22", "b.csv", "t3"))

	date, err := q.LatestExtractDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2025-12-22", date)
}
