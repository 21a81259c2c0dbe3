package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CurrentOwners returns the owner columns of every current-state row, keyed
// by permit. This is the "prior day" side of the reconciliation diff.
func (q *Queries) CurrentOwners(ctx context.Context) (map[string]Owner, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT permit_key, owner_orgnr, owner_name, owner_identity
		FROM permit_current;`)
	if err != nil {
		return nil, fmt.Errorf("current owners: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]Owner)
	for rows.Next() {
		var key string
		var orgNr, name sql.NullString
		var identity string
		if err := rows.Scan(&key, &orgNr, &name, &identity); err != nil {
			return nil, err
		}
		out[key] = Owner{OrgNr: orgNr.String, Name: name.String, Identity: identity}
	}
	return out, rows.Err()
}

// UpsertCurrent writes a permit's current state, replacing any prior row.
func (q *Queries) UpsertCurrent(ctx context.Context, s CurrentState) error {
	liable := 0
	if s.GrunnrenteLiable {
		liable = 1
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO permit_current(
			permit_key, owner_orgnr, owner_name, owner_identity, snapshot_date, row_json, grunnrente_pliktig
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(permit_key) DO UPDATE SET
			owner_orgnr=excluded.owner_orgnr,
			owner_name=excluded.owner_name,
			owner_identity=excluded.owner_identity,
			snapshot_date=excluded.snapshot_date,
			row_json=excluded.row_json,
			grunnrente_pliktig=excluded.grunnrente_pliktig;`,
		s.PermitKey, nullable(s.OwnerOrgNr), nullable(s.OwnerName), s.OwnerIdentity,
		s.SnapshotDate, s.RowJSON, liable)
	if err != nil {
		return fmt.Errorf("upsert current %s: %w", s.PermitKey, err)
	}
	return nil
}

// DeleteCurrent removes a permit's current-state row (the permit disappeared
// from the extract).
func (q *Queries) DeleteCurrent(ctx context.Context, permitKey string) error {
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM permit_current WHERE permit_key = ?;`, permitKey); err != nil {
		return fmt.Errorf("delete current %s: %w", permitKey, err)
	}
	return nil
}

// CurrentStateFor returns one current-state row, ErrNotFound when absent.
func (q *Queries) CurrentStateFor(ctx context.Context, permitKey string) (*CurrentState, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT permit_key, owner_orgnr, owner_name, owner_identity, snapshot_date, row_json, grunnrente_pliktig
		FROM permit_current
		WHERE permit_key = ?;`, permitKey)

	var s CurrentState
	var orgNr, name sql.NullString
	var liable int
	err := row.Scan(&s.PermitKey, &orgNr, &name, &s.OwnerIdentity, &s.SnapshotDate, &s.RowJSON, &liable)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("current state for %s: %w", permitKey, err)
	}
	s.OwnerOrgNr = orgNr.String
	s.OwnerName = name.String
	s.GrunnrenteLiable = liable != 0
	return &s, nil
}

// CurrentKeys returns every current permit key in sorted order.
func (q *Queries) CurrentKeys(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT permit_key FROM permit_current ORDER BY permit_key;`)
	if err != nil {
		return nil, fmt.Errorf("current keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
