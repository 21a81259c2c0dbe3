// Package transfers links the external license-transfer feed to ownership
// history: it caches fetched transfer events and backfills the
// externally-recorded registration date onto open periods.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/havbruk/aquahist/pkg/fdir"
	"github.com/havbruk/aquahist/pkg/store"
)

// Adapter fetches a permit's transfer history, caches it, and fills the
// registration date onto the permit's open period. It satisfies the
// reconciliation engine's enricher contract.
type Adapter struct {
	client *fdir.Client
	store  *store.Store
	log    *slog.Logger
	now    func() time.Time
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.log = l }
}

// NewAdapter builds an Adapter over the given API client and store.
func NewAdapter(client *fdir.Client, s *store.Store, opts ...AdapterOption) *Adapter {
	a := &Adapter{client: client, store: s, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enrich fetches the permit's transfer history, caches any events not yet
// seen, and fills the open period's registration date from the newest event
// recorded for ownerOrgNr. A permit unknown to the feed is not an error;
// the period simply stays unregistered.
func (a *Adapter) Enrich(ctx context.Context, permitKey, ownerOrgNr string) error {
	history, err := a.client.Transfers(ctx, permitKey)
	if err != nil {
		if errors.Is(err, fdir.ErrNotFound) {
			a.log.Debug("no transfer history upstream", "permit", permitKey)
			return nil
		}
		return fmt.Errorf("fetch transfers for %s: %w", permitKey, err)
	}
	q := a.store.Queries()

	cached, err := q.TransfersFor(ctx, permitKey)
	if err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(cached))
	for _, t := range cached {
		seen[t.RawJSON] = struct{}{}
	}

	fetchedAt := a.now().UTC().Format(time.RFC3339)
	for _, ev := range history.Transfers {
		raw := string(ev.Raw)
		if _, ok := seen[raw]; ok {
			continue
		}
		_, err := q.InsertTransfer(ctx, store.Transfer{
			PermitKey:   permitKey,
			TransferKey: ev.TransferKey,
			JournalDate: ev.JournalDate,
			UpdatedAt:   ev.UpdatedAt,
			OwnerOrgNr:  ev.IdentityNr,
			OwnerName:   ev.OfficialName,
			RawJSON:     raw,
			FetchedAt:   fetchedAt,
		})
		if err != nil {
			return err
		}
	}

	latest, err := q.LatestTransferFor(ctx, permitKey, ownerOrgNr)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.log.Debug("no transfer event for current owner",
				"permit", permitKey, "owner", ownerOrgNr)
			return nil
		}
		return err
	}

	registeredFrom := registrationDate(latest)
	if registeredFrom == "" {
		return nil
	}
	filled, err := q.FillRegistration(ctx, permitKey, ownerOrgNr, registeredFrom, latest.ID)
	if err != nil {
		return err
	}
	if filled {
		a.log.Info("registration date filled",
			"permit", permitKey, "owner", ownerOrgNr, "registered_from", registeredFrom)
	}
	return nil
}

// registrationDate picks the event's journal date, falling back to the date
// part of the upstream update timestamp.
func registrationDate(t *store.Transfer) string {
	if t.JournalDate != "" {
		return t.JournalDate
	}
	if len(t.UpdatedAt) >= 10 {
		return t.UpdatedAt[:10]
	}
	return ""
}
