package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LatestSnapshotHash returns the content hash of the permit's most recent
// stored snapshot, "" when the permit has none. "Most recent" is by snapshot
// date: storage is sparse, so the previous record may be arbitrarily old.
func (q *Queries) LatestSnapshotHash(ctx context.Context, permitKey string) (string, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT row_hash
		FROM permit_snapshot
		WHERE permit_key = ?
		ORDER BY snapshot_date DESC
		LIMIT 1;`, permitKey)

	var hash string
	if err := row.Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("latest snapshot hash for %s: %w", permitKey, err)
	}
	return hash, nil
}

// InsertSnapshot writes a snapshot row. Replace-on-conflict keeps re-applying
// the same date idempotent in the rare case the record changed between two
// runs of the same day.
func (q *Queries) InsertSnapshot(ctx context.Context, s Snapshot) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO permit_snapshot(snapshot_date, permit_key, row_json, row_hash)
		VALUES (?, ?, ?, ?);`,
		s.SnapshotDate, s.PermitKey, s.RowJSON, s.RowHash)
	if err != nil {
		return fmt.Errorf("insert snapshot %s/%s: %w", s.SnapshotDate, s.PermitKey, err)
	}
	return nil
}

// SnapshotsFor returns the permit's snapshot history, oldest first. The
// sequence reconstructs every observed state change; dates with no record
// mean the most recent earlier record was still valid.
func (q *Queries) SnapshotsFor(ctx context.Context, permitKey string) ([]Snapshot, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT snapshot_date, permit_key, row_json, row_hash
		FROM permit_snapshot
		WHERE permit_key = ?
		ORDER BY snapshot_date ASC;`, permitKey)
	if err != nil {
		return nil, fmt.Errorf("snapshots for %s: %w", permitKey, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.SnapshotDate, &s.PermitKey, &s.RowJSON, &s.RowHash); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountSnapshots returns the total number of stored snapshot rows.
func (q *Queries) CountSnapshots(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM permit_snapshot;`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// MarkExtractProcessed records that the extract for snapshotDate was applied.
func (q *Queries) MarkExtractProcessed(ctx context.Context, snapshotDate, filename, ingestedAt string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots(snapshot_date, filename, ingested_at)
		VALUES (?, ?, ?);`, snapshotDate, filename, ingestedAt)
	if err != nil {
		return fmt.Errorf("mark extract %s processed: %w", snapshotDate, err)
	}
	return nil
}

// LatestExtractDate returns the newest processed extract date, "" when the
// store is empty.
func (q *Queries) LatestExtractDate(ctx context.Context) (string, error) {
	row := q.db.QueryRowContext(ctx, `SELECT MAX(snapshot_date) FROM snapshots;`)
	var date sql.NullString
	if err := row.Scan(&date); err != nil {
		return "", fmt.Errorf("latest extract date: %w", err)
	}
	return date.String, nil
}
