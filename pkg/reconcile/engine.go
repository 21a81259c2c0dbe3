// Package reconcile turns daily full-dump extracts into temporal ownership
// history. Each day is applied in a single transaction: representative rows
// are hashed against the sparse snapshot store, ownership changes open and
// close validity periods, and the confirmed current state is replaced.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/havbruk/aquahist/pkg/canonicalize"
	"github.com/havbruk/aquahist/pkg/classifier"
	"github.com/havbruk/aquahist/pkg/extract"
	"github.com/havbruk/aquahist/pkg/permit"
	"github.com/havbruk/aquahist/pkg/store"
)

// Enricher resolves the externally-recorded registration date for a permit's
// open period. Enrichment is best-effort: it runs after the day's
// transaction commits, and failures leave the period in the pending set for
// a later backfill pass.
type Enricher interface {
	Enrich(ctx context.Context, permitKey, ownerOrgNr string) error
}

// DayStats summarizes one applied extract.
type DayStats struct {
	Date             string
	Permits          int
	New              int
	OwnerChanges     int
	Removed          int
	Unchanged        int
	SnapshotsWritten int
	RowErrors        int
	Enriched         int
	EnrichErrors     int
}

// Engine applies extracts against a store. Safe for sequential use; days
// must be applied in chronological order.
type Engine struct {
	store      *store.Store
	classifier classifier.Classifier
	enricher   Enricher
	log        *slog.Logger
	tracer     trace.Tracer
	lenient    bool

	now func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithEnricher attaches a post-commit registration enricher.
func WithEnricher(e Enricher) Option {
	return func(eng *Engine) { eng.enricher = e }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.log = l }
}

// WithTracer records a span per applied extract on the given tracer.
func WithTracer(t trace.Tracer) Option {
	return func(eng *Engine) { eng.tracer = t }
}

// WithLenientDates downgrades a title/filename date mismatch from an error
// to a warning. The filename date wins.
func WithLenientDates() Option {
	return func(eng *Engine) { eng.lenient = true }
}

// New builds an Engine over the given store. cls decides the liability flag
// stored on current state; pass classifier.Always(false) to skip
// classification.
func New(s *store.Store, cls classifier.Classifier, opts ...Option) *Engine {
	eng := &Engine{
		store:      s,
		classifier: cls,
		log:        slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer("reconcile"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(eng)
	}
	return eng
}

// ApplyFile loads and applies a single extract file.
func (eng *Engine) ApplyFile(ctx context.Context, path string) (*DayStats, error) {
	ex, err := extract.Load(path)
	if err != nil {
		return nil, err
	}
	return eng.ApplyExtract(ctx, ex)
}

// ApplyExtract applies one loaded extract. The whole day commits or rolls
// back atomically; re-applying an already-processed day is a no-op apart
// from refreshed current-state timestamps.
func (eng *Engine) ApplyExtract(ctx context.Context, ex *extract.Extract) (*DayStats, error) {
	ctx, span := eng.tracer.Start(ctx, "reconcile.apply_extract",
		trace.WithAttributes(attribute.String("extract.date", ex.Date.String())))
	defer span.End()

	stats, err := eng.applyExtract(ctx, ex)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("permits.total", stats.Permits),
		attribute.Int("permits.new", stats.New),
		attribute.Int("permits.owner_changes", stats.OwnerChanges),
		attribute.Int("permits.removed", stats.Removed),
		attribute.Int("snapshots.written", stats.SnapshotsWritten),
	)
	return stats, nil
}

func (eng *Engine) applyExtract(ctx context.Context, ex *extract.Extract) (*DayStats, error) {
	if ex.Mismatched() {
		if !eng.lenient {
			return nil, fmt.Errorf("%s: %w (title %s, filename %s)",
				ex.Path, extract.ErrDateMismatch, ex.TitleDate, ex.Date)
		}
		eng.log.Warn("title date disagrees with filename date, using filename date",
			"path", ex.Path, "title_date", ex.TitleDate.String(), "file_date", ex.Date.String())
	}
	if missing := extract.MissingColumns(ex.Header); len(missing) > 0 {
		return nil, fmt.Errorf("%s: missing required columns %v", ex.Path, missing)
	}

	snapshotDate := ex.Date
	stats := &DayStats{Date: snapshotDate.String()}
	reps := extract.SelectRepresentative(ex.Rows)

	states := make(map[string]dayState, len(reps))
	for key, rec := range reps {
		st, err := reduceRecord(key, rec)
		if err != nil {
			eng.log.Error("skipping permit", "permit", key, "date", stats.Date, "error", err)
			stats.RowErrors++
			continue
		}
		states[key] = dayState{State: st, record: rec}
	}
	stats.Permits = len(states)

	tx, err := eng.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	q := eng.store.WithTx(tx)

	current, err := q.CurrentOwners(ctx)
	if err != nil {
		return nil, err
	}

	var pending []pendingEnrichment

	for _, key := range sortedKeys(states) {
		st := states[key]

		prevHash, err := q.LatestSnapshotHash(ctx, key)
		if err != nil {
			return nil, err
		}
		if st.Hash != prevHash {
			err := q.InsertSnapshot(ctx, store.Snapshot{
				SnapshotDate: stats.Date,
				PermitKey:    key,
				RowJSON:      st.RecordJSON,
				RowHash:      st.Hash,
			})
			if err != nil {
				return nil, err
			}
			stats.SnapshotsWritten++
		}

		owner, known := current[key]
		switch {
		case !known:
			if err := eng.openPeriod(ctx, q, st.State, snapshotDate); err != nil {
				return nil, err
			}
			stats.New++
			pending = appendPending(pending, st.State)

		case owner.Identity != st.OwnerIdentity:
			closeDate := snapshotDate.PrevDay().String()
			if _, err := q.CloseOpenPeriod(ctx, key, closeDate, stats.Date); err != nil {
				return nil, err
			}
			if err := eng.openPeriod(ctx, q, st.State, snapshotDate); err != nil {
				return nil, err
			}
			eng.log.Info("ownership change",
				"permit", key, "date", stats.Date,
				"from", owner.Identity, "to", st.OwnerIdentity)
			stats.OwnerChanges++
			pending = appendPending(pending, st.State)

		default:
			if st.TimeLimited != nil {
				if err := q.FillTimeLimited(ctx, key, st.TimeLimited.String()); err != nil {
					return nil, err
				}
			}
			stats.Unchanged++
		}

		err = q.UpsertCurrent(ctx, store.CurrentState{
			PermitKey:        key,
			OwnerOrgNr:       st.OwnerOrgNr,
			OwnerName:        st.OwnerName,
			OwnerIdentity:    st.OwnerIdentity,
			SnapshotDate:     stats.Date,
			RowJSON:          st.RecordJSON,
			GrunnrenteLiable: eng.classifier.Liable(canonicalize.CleanRecord(st.record)),
		})
		if err != nil {
			return nil, err
		}
	}

	// Permits absent from today's extract have left the registry: their
	// open period ends and they drop out of current state.
	for key := range current {
		if _, present := states[key]; present {
			continue
		}
		closeDate := snapshotDate.PrevDay().String()
		if _, err := q.CloseOpenPeriod(ctx, key, closeDate, stats.Date); err != nil {
			return nil, err
		}
		if err := q.DeleteCurrent(ctx, key); err != nil {
			return nil, err
		}
		eng.log.Info("permit removed", "permit", key, "date", stats.Date)
		stats.Removed++
	}

	err = q.MarkExtractProcessed(ctx, stats.Date, ex.Path, eng.now().UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	eng.enrich(ctx, stats, pending)

	eng.log.Info("extract applied",
		"date", stats.Date, "permits", stats.Permits,
		"new", stats.New, "owner_changes", stats.OwnerChanges,
		"removed", stats.Removed, "snapshots", stats.SnapshotsWritten)
	return stats, nil
}

// BuildDir applies every extract in dir, in date order, skipping dates the
// store has already processed. Resumable: a failed run picks up where it
// stopped.
func (eng *Engine) BuildDir(ctx context.Context, dir string) ([]DayStats, error) {
	files, err := extract.ListFiles(dir)
	if err != nil {
		return nil, err
	}
	latest, err := eng.store.Queries().LatestExtractDate(ctx)
	if err != nil {
		return nil, err
	}

	var all []DayStats
	for _, path := range files {
		date, err := extract.DateFromFilename(path)
		if err != nil {
			return all, err
		}
		if latest != "" && date.String() <= latest {
			eng.log.Debug("extract already processed", "path", path)
			continue
		}
		stats, err := eng.ApplyFile(ctx, path)
		if err != nil {
			return all, fmt.Errorf("apply %s: %w", path, err)
		}
		all = append(all, *stats)
	}
	return all, nil
}

// Rebuild wipes all derived state and replays every extract in dir.
// External caches survive, so a rebuild needs no network access.
func (eng *Engine) Rebuild(ctx context.Context, dir string) ([]DayStats, error) {
	if err := eng.store.Queries().WipeDerived(ctx); err != nil {
		return nil, err
	}
	eng.log.Info("derived state wiped, replaying extracts", "dir", dir)
	return eng.BuildDir(ctx, dir)
}

func (eng *Engine) openPeriod(ctx context.Context, q *store.Queries, st permit.State, date permit.Date) error {
	var timeLimited *string
	if st.TimeLimited != nil {
		s := st.TimeLimited.String()
		timeLimited = &s
	}
	return q.OpenPeriod(ctx, store.Period{
		PermitKey:     st.Key,
		OwnerOrgNr:    st.OwnerOrgNr,
		OwnerName:     st.OwnerName,
		OwnerIdentity: st.OwnerIdentity,
		ValidFrom:     date.String(),
		TimeLimited:   timeLimited,
	})
}

func (eng *Engine) enrich(ctx context.Context, stats *DayStats, pending []pendingEnrichment) {
	if eng.enricher == nil || len(pending) == 0 {
		return
	}
	for _, p := range pending {
		if err := eng.enricher.Enrich(ctx, p.key, p.orgNr); err != nil {
			eng.log.Warn("registration enrichment failed, left for backfill",
				"permit", p.key, "error", err)
			stats.EnrichErrors++
			continue
		}
		stats.Enriched++
	}
}

type dayState struct {
	permit.State
	record permit.Record
}

type pendingEnrichment struct {
	key   string
	orgNr string
}

// appendPending queues an org-owned permit for registration enrichment.
// Person-owned permits have no presence in the transfer feed.
func appendPending(pending []pendingEnrichment, st permit.State) []pendingEnrichment {
	if st.OwnerOrgNr == "" {
		return pending
	}
	return append(pending, pendingEnrichment{key: st.Key, orgNr: st.OwnerOrgNr})
}

// reduceRecord turns a representative raw row into comparable permit state.
func reduceRecord(key string, rec permit.Record) (permit.State, error) {
	canonicalJSON, hash, err := canonicalize.HashRecord(rec)
	if err != nil {
		return permit.State{}, fmt.Errorf("canonicalize: %w", err)
	}
	orgNr := rec.Clean(permit.OwnerOrgCol)
	name := rec.Clean(permit.OwnerNameCol)
	st := permit.State{
		Key:           key,
		OwnerOrgNr:    orgNr,
		OwnerName:     name,
		OwnerIdentity: permit.OwnerIdentity(orgNr, name),
		RecordJSON:    canonicalJSON,
		Hash:          hash,
	}
	if raw := rec.Clean(permit.TimeLimitedCol); raw != "" {
		if d, err := permit.ParseDMY(raw); err == nil {
			st.TimeLimited = &d
		}
	}
	return st, nil
}

func sortedKeys(m map[string]dayState) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
