package store

// Owner is the slice of a current-state row that change detection needs.
type Owner struct {
	OrgNr    string
	Name     string
	Identity string
}

// CurrentState is one row of permit_current: the latest confirmed state of a
// permit. Mutated in place each run; history lives in permit_snapshot and
// ownership_history.
type CurrentState struct {
	PermitKey        string
	OwnerOrgNr       string
	OwnerName        string
	OwnerIdentity    string
	SnapshotDate     string
	RowJSON          string
	GrunnrenteLiable bool
}

// Snapshot is one row of permit_snapshot: a dated, content-hashed copy of a
// permit's canonical record, written only when the hash changed.
type Snapshot struct {
	SnapshotDate string
	PermitKey    string
	RowJSON      string
	RowHash      string
}

// Period is one SCD2 ownership validity period. ValidTo == nil means the
// period is open (current ownership). RegisteredFrom/RegisteredTo and
// TransferID are enrichment fields backfilled from the external transfer
// feed, fill-once.
type Period struct {
	ID             int64
	PermitKey      string
	OwnerOrgNr     string
	OwnerName      string
	OwnerIdentity  string
	ValidFrom      string
	ValidTo        *string
	TimeLimited    *string
	RegisteredFrom *string
	RegisteredTo   *string
	TransferID     *int64
}

// Transfer is one cached external transfer event. Append-only; never mutated
// after insertion.
type Transfer struct {
	ID          int64
	PermitKey   string
	TransferKey string
	JournalDate string
	UpdatedAt   string
	OwnerOrgNr  string
	OwnerName   string
	RawJSON     string
	FetchedAt   string
}

// LicenseDetails is the cached external detail record for a permit: the
// original grantee and the production-area placement.
type LicenseDetails struct {
	PermitKey          string
	OriginalOwnerOrgNr string
	OriginalOwnerName  string
	ProdAreaCode       *int64
	ProdAreaName       string
	ProdAreaStatus     string
	RawJSON            string
	FetchedAt          string
}
