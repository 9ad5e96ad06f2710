package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/metric"
	"DealMetrics/internal/observability"
	"DealMetrics/internal/store"
)

// Runner coordinates one engine per registered rollup over shared state
// stores. Wiring is explicit: every calculator is registered with the store
// holding its state, plus any auxiliary stores its transitions read.
type Runner struct {
	engines map[string]*Engine
	stores  map[string]store.Store
	aux     *storeAux
	workers int
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewRunner(workers int, log zerolog.Logger, metrics *observability.Metrics) *Runner {
	return &Runner{
		engines: make(map[string]*Engine),
		stores:  make(map[string]store.Store),
		aux:     &storeAux{stores: make(map[string]store.Store)},
		workers: workers,
		log:     log,
		metrics: metrics,
	}
}

// Register wires a calculator to the store holding its rollup's state. The
// rollup also becomes readable through aux lookups of other calculators.
func (r *Runner) Register(calc metric.Calculator, st store.Store) {
	name := calc.Schema().Name
	r.engines[name] = New(calc, st, r.aux, r.workers, r.log.With().Str("rollup", name).Logger(), r.metrics)
	r.stores[name] = st
	r.aux.stores[name] = st
}

// RegisterAux wires a store for a passthrough entity (no calculator) so that
// transitions can read it and ingestion can append to it.
func (r *Runner) RegisterAux(rollup string, st store.Store) {
	r.stores[rollup] = st
	r.aux.stores[rollup] = st
}

// Rollups returns the registered calculator rollup names.
func (r *Runner) Rollups() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	return names
}

// Calculate folds a batch through a single rollup and returns the emitted
// rows without persisting them.
func (r *Runner) Calculate(ctx context.Context, rollup string, deals []*deal.Deal) ([]store.Row, error) {
	eng, ok := r.engines[rollup]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, rollup)
	}
	return eng.Calculate(ctx, deals)
}

// CalculateAll folds a batch through every registered rollup, then appends
// each rollup's rows to its store. All folds complete before any append: a
// failure in any rollup leaves every store untouched by this batch.
func (r *Runner) CalculateAll(ctx context.Context, deals []*deal.Deal) (map[string][]store.Row, error) {
	results := make(map[string][]store.Row, len(r.engines))
	for name, eng := range r.engines {
		rows, err := eng.Calculate(ctx, deals)
		if err != nil {
			return nil, fmt.Errorf("rollup %s: %w", name, err)
		}
		results[name] = rows
	}

	for name, rows := range results {
		if len(rows) == 0 {
			continue
		}
		if err := r.appendRows(ctx, name, rows); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// AppendSnapshots persists a batch of daily balance/equity snapshots to the
// snapshot store. Duplicate (login, date) rows are absorbed by the store's
// idempotent append.
func (r *Runner) AppendSnapshots(ctx context.Context, snaps []*metric.DailySnapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	rows := make([]store.Row, len(snaps))
	for i, s := range snaps {
		rows[i] = s
	}
	return r.appendRows(ctx, metric.RollupDailySnapshot, rows)
}

func (r *Runner) appendRows(ctx context.Context, rollup string, rows []store.Row) error {
	st, ok := r.stores[rollup]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConfigured, rollup)
	}
	start := time.Now()
	if err := st.Append(ctx, rollup, rows); err != nil {
		if r.metrics != nil {
			r.metrics.StoreAppendErrors.WithLabelValues(rollup).Inc()
		}
		return fmt.Errorf("appending %d rows to %s: %w", len(rows), rollup, err)
	}
	if r.metrics != nil {
		r.metrics.StoreAppendDuration.WithLabelValues(rollup).Observe(time.Since(start).Seconds())
	}
	return nil
}

// storeAux routes read-only as-of lookups to the registered stores.
type storeAux struct {
	stores map[string]store.Store
}

func (a *storeAux) AsOf(ctx context.Context, rollup string, key store.Key, unix int64) (store.Row, error) {
	st, ok := a.stores[rollup]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotConfigured, rollup)
	}
	return st.GetAsOf(ctx, rollup, key, unix)
}
