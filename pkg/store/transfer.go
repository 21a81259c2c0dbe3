package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// InsertTransfer appends one cached transfer event and returns its row id.
func (q *Queries) InsertTransfer(ctx context.Context, t Transfer) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO license_transfers(
			permit_key, transfer_key, journal_date, updated_at,
			current_owner_orgnr, current_owner_name, raw_json, fetched_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		t.PermitKey, nullable(t.TransferKey), nullable(t.JournalDate), nullable(t.UpdatedAt),
		nullable(t.OwnerOrgNr), nullable(t.OwnerName), t.RawJSON, t.FetchedAt)
	if err != nil {
		return 0, fmt.Errorf("insert transfer %s: %w", t.PermitKey, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert transfer %s: last id: %w", t.PermitKey, err)
	}
	return id, nil
}

// TransfersFor returns the permit's cached transfer events, newest first.
func (q *Queries) TransfersFor(ctx context.Context, permitKey string) ([]Transfer, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, permit_key, transfer_key, journal_date, updated_at,
		       current_owner_orgnr, current_owner_name, raw_json, fetched_at
		FROM license_transfers
		WHERE permit_key = ?
		ORDER BY COALESCE(journal_date, updated_at) DESC, id DESC;`, permitKey)
	if err != nil {
		return nil, fmt.Errorf("transfers for %s: %w", permitKey, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		var transferKey, journalDate, updatedAt, orgNr, name sql.NullString
		err := rows.Scan(&t.ID, &t.PermitKey, &transferKey, &journalDate, &updatedAt, &orgNr, &name, &t.RawJSON, &t.FetchedAt)
		if err != nil {
			return nil, err
		}
		t.TransferKey = transferKey.String
		t.JournalDate = journalDate.String
		t.UpdatedAt = updatedAt.String
		t.OwnerOrgNr = orgNr.String
		t.OwnerName = name.String
		out = append(out, t)
	}
	return out, rows.Err()
}

// LatestTransferFor returns the most recent cached transfer for the
// (permit, owner org) pair, ordered by journal date falling back to the
// upstream update date. ErrNotFound when the cache holds none.
func (q *Queries) LatestTransferFor(ctx context.Context, permitKey, ownerOrgNr string) (*Transfer, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, permit_key, transfer_key, journal_date, updated_at,
		       current_owner_orgnr, current_owner_name, raw_json, fetched_at
		FROM license_transfers
		WHERE permit_key = ?
		  AND current_owner_orgnr = ?
		ORDER BY COALESCE(journal_date, updated_at) DESC
		LIMIT 1;`, permitKey, ownerOrgNr)

	var t Transfer
	var transferKey, journalDate, updatedAt, orgNr, name sql.NullString
	err := row.Scan(&t.ID, &t.PermitKey, &transferKey, &journalDate, &updatedAt, &orgNr, &name, &t.RawJSON, &t.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest transfer for %s/%s: %w", permitKey, ownerOrgNr, err)
	}
	t.TransferKey = transferKey.String
	t.JournalDate = journalDate.String
	t.UpdatedAt = updatedAt.String
	t.OwnerOrgNr = orgNr.String
	t.OwnerName = name.String
	return &t, nil
}

// CountTransfers returns the total size of the transfer cache.
func (q *Queries) CountTransfers(ctx context.Context) (int64, error) {
	var n int64
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM license_transfers;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return n, nil
}

// UpsertLicenseDetails stores the cached external detail record for a
// permit, replacing any prior fetch.
func (q *Queries) UpsertLicenseDetails(ctx context.Context, d LicenseDetails) error {
	var code sql.NullInt64
	if d.ProdAreaCode != nil {
		code = sql.NullInt64{Int64: *d.ProdAreaCode, Valid: true}
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO license_details(
			permit_key, original_owner_orgnr, original_owner_name,
			prod_area_code, prod_area_name, prod_area_status, raw_json, fetched_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(permit_key) DO UPDATE SET
			original_owner_orgnr=excluded.original_owner_orgnr,
			original_owner_name=excluded.original_owner_name,
			prod_area_code=excluded.prod_area_code,
			prod_area_name=excluded.prod_area_name,
			prod_area_status=excluded.prod_area_status,
			raw_json=excluded.raw_json,
			fetched_at=excluded.fetched_at;`,
		d.PermitKey, nullable(d.OriginalOwnerOrgNr), nullable(d.OriginalOwnerName),
		code, nullable(d.ProdAreaName), nullable(d.ProdAreaStatus), d.RawJSON, d.FetchedAt)
	if err != nil {
		return fmt.Errorf("upsert license details %s: %w", d.PermitKey, err)
	}
	return nil
}

// LicenseDetailsFor returns the cached detail record, ErrNotFound when the
// permit has never been fetched.
func (q *Queries) LicenseDetailsFor(ctx context.Context, permitKey string) (*LicenseDetails, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT permit_key, original_owner_orgnr, original_owner_name,
		       prod_area_code, prod_area_name, prod_area_status, raw_json, fetched_at
		FROM license_details
		WHERE permit_key = ?;`, permitKey)

	var d LicenseDetails
	var orgNr, name, areaName, areaStatus sql.NullString
	var code sql.NullInt64
	err := row.Scan(&d.PermitKey, &orgNr, &name, &code, &areaName, &areaStatus, &d.RawJSON, &d.FetchedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("license details for %s: %w", permitKey, err)
	}
	d.OriginalOwnerOrgNr = orgNr.String
	d.OriginalOwnerName = name.String
	if code.Valid {
		c := code.Int64
		d.ProdAreaCode = &c
	}
	d.ProdAreaName = areaName.String
	d.ProdAreaStatus = areaStatus.String
	return &d, nil
}
