// Package engine folds deal batches into rollup state rows. One Engine
// drives one calculator; the Runner coordinates an engine per rollup over
// shared state stores.
package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"DealMetrics/internal/deal"
	"DealMetrics/internal/metric"
	"DealMetrics/internal/observability"
	"DealMetrics/internal/store"
)

// DefaultWorkers bounds the partition worker pool when no explicit size is
// configured.
const DefaultWorkers = 8

// Engine folds deal batches into state rows for a single rollup.
//
// A batch is processed in four phases: partition by grouping key, sort each
// partition by (timestamp, deal_id), fold each partition sequentially from
// its latest stored state, and gather the emitted rows. Partitions are
// independent and run on a bounded worker pool; the fold within a partition
// is strictly sequential. No rows are returned unless every partition
// succeeded.
type Engine struct {
	calc    metric.Calculator
	store   store.Store
	aux     metric.Aux
	workers int
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(calc metric.Calculator, st store.Store, aux metric.Aux, workers int, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{
		calc:    calc,
		store:   st,
		aux:     aux,
		workers: workers,
		log:     log,
		metrics: metrics,
	}
}

// Calculate folds a batch and returns the emitted rows without appending
// them. An empty batch, or a batch whose every deal is already absorbed,
// yields (nil, nil). Deals at or below a partition's cursor are skipped:
// re-submission of an overlapping batch is a no-op for the overlap.
func (e *Engine) Calculate(ctx context.Context, deals []*deal.Deal) ([]store.Row, error) {
	if len(deals) == 0 {
		return nil, nil
	}

	rollup := e.calc.Schema().Name
	start := time.Now()

	partitions, keys, err := e.partition(deals)
	if err != nil {
		if e.metrics != nil {
			e.metrics.BatchFailures.WithLabelValues(rollup, "malformed").Inc()
		}
		return nil, err
	}

	results := make(map[store.Key][]store.Row, len(keys))
	var mu sync.Mutex
	var firstErr error

	jobs := make(chan store.Key)
	var wg sync.WaitGroup
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for key := range jobs {
				rows, foldErr := e.foldPartition(workCtx, key, partitions[key])
				mu.Lock()
				if foldErr != nil {
					if firstErr == nil {
						firstErr = foldErr
					}
					mu.Unlock()
					cancel()
					continue
				}
				results[key] = rows
				mu.Unlock()
			}
		}()
	}

	for _, key := range keys {
		select {
		case jobs <- key:
		case <-workCtx.Done():
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		if e.metrics != nil {
			e.metrics.BatchFailures.WithLabelValues(rollup, "transition").Inc()
		}
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Per-partition emission order is preserved; partitions are concatenated
	// in deterministic key order.
	var out []store.Row
	for _, key := range keys {
		out = append(out, results[key]...)
	}

	if e.metrics != nil {
		e.metrics.BatchesProcessed.WithLabelValues(rollup).Inc()
		e.metrics.BatchDuration.WithLabelValues(rollup).Observe(time.Since(start).Seconds())
		e.metrics.RowsEmitted.WithLabelValues(rollup).Add(float64(len(out)))
	}
	e.log.Debug().
		Str("rollup", rollup).
		Int("deals", len(deals)).
		Int("partitions", len(keys)).
		Int("rows", len(out)).
		Msg("batch folded")

	return out, nil
}

// partition groups the batch by grouping key and sorts each group by
// (timestamp, deal_id) ascending. The stable sort keeps input order for
// fully tied deals. Returned keys are sorted for deterministic iteration.
func (e *Engine) partition(deals []*deal.Deal) (map[store.Key][]*deal.Deal, []store.Key, error) {
	rollup := e.calc.Schema().Name
	partitions := make(map[store.Key][]*deal.Deal)

	for _, d := range deals {
		key, err := e.calc.GroupKey(d)
		if errors.Is(err, metric.ErrSkipDeal) {
			continue
		}
		if err != nil {
			return nil, nil, &MalformedDealError{Rollup: rollup, DealID: d.DealID, Err: err}
		}
		partitions[key] = append(partitions[key], d)
	}

	keys := make([]store.Key, 0, len(partitions))
	for key := range partitions {
		keys = append(keys, key)
		group := partitions[key]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Timestamp != group[j].Timestamp {
				return group[i].Timestamp < group[j].Timestamp
			}
			return group[i].DealID < group[j].DealID
		})
		if e.metrics != nil {
			e.metrics.PartitionSize.WithLabelValues(rollup).Observe(float64(len(group)))
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	return partitions, keys, nil
}

// foldPartition runs the sequential fold for one grouping key.
func (e *Engine) foldPartition(ctx context.Context, key store.Key, group []*deal.Deal) ([]store.Row, error) {
	rollup := e.calc.Schema().Name

	state, err := e.store.GetLatest(ctx, rollup, key)
	if err != nil {
		return nil, &StateLoadError{Rollup: rollup, Key: key, Err: err}
	}
	if state == nil {
		state = e.calc.Zero(key)
	}

	var out []store.Row
	skipped := 0
	for _, d := range group {
		// The cursor is the sole idempotence mechanism: anything at or below
		// it has already been absorbed.
		if d.DealID <= state.Cursor() {
			skipped++
			continue
		}
		next, err := e.calc.Transition(ctx, d, state, e.aux)
		if err != nil {
			return nil, &TransitionError{Rollup: rollup, Key: key, DealID: d.DealID, Err: err}
		}
		out = append(out, next)
		state = next
	}

	if e.metrics != nil {
		e.metrics.DealsAbsorbed.WithLabelValues(rollup).Add(float64(len(out)))
		e.metrics.DealsSkipped.WithLabelValues(rollup).Add(float64(skipped))
		if len(out) > 0 {
			e.metrics.LatestCursor.WithLabelValues(rollup).Set(float64(state.Cursor()))
		}
	}
	return out, nil
}
