package transfers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/havbruk/aquahist/pkg/store"
)

// BackfillStats summarizes one backfill pass.
type BackfillStats struct {
	Pending int
	Visited int
	Filled  int
	Errors  int
}

// Backfill drains the pending-registration set: permits whose open period is
// org-owned but still lacks an externally-recorded registration date. Each
// pass is resumable; filled periods drop out of the set permanently.
type Backfill struct {
	store    *store.Store
	adapter  *Adapter
	log      *slog.Logger
	tracer   trace.Tracer
	limit    int
	progress int
}

// BackfillOption configures a Backfill.
type BackfillOption func(*Backfill)

// WithLimit caps how many permits a single pass visits. Zero means all.
func WithLimit(n int) BackfillOption {
	return func(b *Backfill) { b.limit = n }
}

// WithBackfillLogger replaces the default logger.
func WithBackfillLogger(l *slog.Logger) BackfillOption {
	return func(b *Backfill) { b.log = l }
}

// WithBackfillTracer records a span per pass on the given tracer.
func WithBackfillTracer(t trace.Tracer) BackfillOption {
	return func(b *Backfill) { b.tracer = t }
}

// NewBackfill builds a Backfill worker over the store and adapter.
func NewBackfill(s *store.Store, a *Adapter, opts ...BackfillOption) *Backfill {
	b := &Backfill{
		store:    s,
		adapter:  a,
		log:      slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("transfers"),
		progress: 50,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run performs one backfill pass. Per-permit failures are logged and
// counted, not fatal; the permit stays pending for the next pass. The pass
// stops early only on context cancellation.
func (b *Backfill) Run(ctx context.Context) (*BackfillStats, error) {
	ctx, span := b.tracer.Start(ctx, "transfers.backfill")
	defer span.End()

	stats, err := b.run(ctx)
	if stats != nil {
		span.SetAttributes(
			attribute.Int("backfill.pending", stats.Pending),
			attribute.Int("backfill.visited", stats.Visited),
			attribute.Int("backfill.filled", stats.Filled),
			attribute.Int("backfill.errors", stats.Errors),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return stats, err
}

func (b *Backfill) run(ctx context.Context) (*BackfillStats, error) {
	q := b.store.Queries()
	keys, err := q.KeysPendingRegistration(ctx)
	if err != nil {
		return nil, err
	}
	stats := &BackfillStats{Pending: len(keys)}
	if b.limit > 0 && len(keys) > b.limit {
		keys = keys[:b.limit]
	}
	b.log.Info("backfill pass starting", "pending", stats.Pending, "visiting", len(keys))
	start := time.Now()

	for i, key := range keys {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		open, err := q.OpenPeriodFor(ctx, key)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return stats, err
		}
		stats.Visited++

		wasPending := open.RegisteredFrom == nil
		if err := b.adapter.Enrich(ctx, key, open.OwnerOrgNr); err != nil {
			b.log.Warn("backfill fetch failed", "permit", key, "error", err)
			stats.Errors++
			continue
		}
		if wasPending {
			refreshed, err := q.OpenPeriodFor(ctx, key)
			if err == nil && refreshed.RegisteredFrom != nil {
				stats.Filled++
			}
		}

		if (i+1)%b.progress == 0 {
			b.log.Info("backfill progress",
				"visited", i+1, "of", len(keys),
				"filled", stats.Filled, "errors", stats.Errors,
				"elapsed", time.Since(start).Round(time.Second).String())
		}
	}

	b.log.Info("backfill pass finished",
		"visited", stats.Visited, "filled", stats.Filled, "errors", stats.Errors)
	return stats, nil
}
