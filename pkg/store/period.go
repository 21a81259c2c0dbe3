package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const periodColumns = `id, permit_key, owner_orgnr, owner_name, owner_identity,
	valid_from, valid_to, tidsbegrenset, registered_from, registered_to, transfer_id`

// OpenPeriod opens an ownership validity period. Insert-or-ignore against
// the (permit_key, owner_identity, valid_from) unique index makes
// re-application of the same day a no-op.
func (q *Queries) OpenPeriod(ctx context.Context, p Period) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO ownership_history(
			permit_key, owner_orgnr, owner_name, owner_identity, valid_from, valid_to, tidsbegrenset
		)
		VALUES (?, ?, ?, ?, ?, NULL, ?);`,
		p.PermitKey, nullable(p.OwnerOrgNr), nullable(p.OwnerName), p.OwnerIdentity,
		p.ValidFrom, nullableFrom(p.TimeLimited))
	if err != nil {
		return fmt.Errorf("open period %s/%s: %w", p.PermitKey, p.OwnerIdentity, err)
	}
	return nil
}

// CloseOpenPeriod closes the permit's open period at closeDate. The update
// is restricted to open periods whose valid_from predates snapshotDate,
// which prevents a same-day open from being immediately closed when a day is
// re-applied. Returns the number of periods closed (0 or 1 given the
// one-open-period index).
func (q *Queries) CloseOpenPeriod(ctx context.Context, permitKey, closeDate, snapshotDate string) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE ownership_history
		SET valid_to = ?
		WHERE permit_key = ?
		  AND valid_to IS NULL
		  AND date(valid_from) < date(?);`,
		closeDate, permitKey, snapshotDate)
	if err != nil {
		return 0, fmt.Errorf("close open period %s: %w", permitKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("close open period %s: rows affected: %w", permitKey, err)
	}
	return n, nil
}

// FillTimeLimited backfills the TIDSBEGRENSET date into the permit's open
// period when the field first appears in a later extract. Fill-once:
// COALESCE never overwrites an existing value.
func (q *Queries) FillTimeLimited(ctx context.Context, permitKey, timeLimited string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE ownership_history
		SET tidsbegrenset = COALESCE(tidsbegrenset, ?)
		WHERE permit_key = ?
		  AND valid_to IS NULL;`,
		timeLimited, permitKey)
	if err != nil {
		return fmt.Errorf("fill tidsbegrenset %s: %w", permitKey, err)
	}
	return nil
}

// FillRegistration backfills the externally-recorded registration date and
// transfer link onto the permit's open period, matched on the owning org
// number. Fill-once and therefore safe to call repeatedly and from both the
// synchronous enrichment path and the backfill worker. Reports whether a row
// was updated.
func (q *Queries) FillRegistration(ctx context.Context, permitKey, ownerOrgNr, registeredFrom string, transferID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE ownership_history
		SET registered_from = COALESCE(registered_from, ?),
		    transfer_id     = COALESCE(transfer_id, ?)
		WHERE permit_key = ?
		  AND valid_to IS NULL
		  AND owner_orgnr = ?
		  AND (registered_from IS NULL OR transfer_id IS NULL);`,
		registeredFrom, transferID, permitKey, ownerOrgNr)
	if err != nil {
		return false, fmt.Errorf("fill registration %s: %w", permitKey, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fill registration %s: rows affected: %w", permitKey, err)
	}
	return n > 0, nil
}

// OpenPeriodFor returns the permit's open period, ErrNotFound when none.
func (q *Queries) OpenPeriodFor(ctx context.Context, permitKey string) (*Period, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+periodColumns+`
		FROM ownership_history
		WHERE permit_key = ? AND valid_to IS NULL;`, permitKey)

	p, err := scanPeriod(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open period for %s: %w", permitKey, err)
	}
	return p, nil
}

// PeriodsFor returns the permit's full period history ordered by valid_from.
func (q *Queries) PeriodsFor(ctx context.Context, permitKey string) ([]Period, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+periodColumns+`
		FROM ownership_history
		WHERE permit_key = ?
		ORDER BY date(valid_from), id;`, permitKey)
	if err != nil {
		return nil, fmt.Errorf("periods for %s: %w", permitKey, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// KeysPendingRegistration returns permits whose open period is org-owned but
// still lacks a registration date: the pending-enrichment set drained by the
// backfill pass. Served by a partial index, not a table scan.
func (q *Queries) KeysPendingRegistration(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT permit_key
		FROM ownership_history
		WHERE valid_to IS NULL
		  AND registered_from IS NULL
		  AND owner_orgnr IS NOT NULL
		ORDER BY permit_key;`)
	if err != nil {
		return nil, fmt.Errorf("keys pending registration: %w", err)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPeriod(sc rowScanner) (*Period, error) {
	var p Period
	var orgNr, name, validTo, timeLimited, regFrom, regTo sql.NullString
	var transferID sql.NullInt64
	err := sc.Scan(&p.ID, &p.PermitKey, &orgNr, &name, &p.OwnerIdentity,
		&p.ValidFrom, &validTo, &timeLimited, &regFrom, &regTo, &transferID)
	if err != nil {
		return nil, err
	}
	p.OwnerOrgNr = orgNr.String
	p.OwnerName = name.String
	p.ValidTo = strOrNil(validTo)
	p.TimeLimited = strOrNil(timeLimited)
	p.RegisteredFrom = strOrNil(regFrom)
	p.RegisteredTo = strOrNil(regTo)
	if transferID.Valid {
		id := transferID.Int64
		p.TransferID = &id
	}
	return &p, nil
}
