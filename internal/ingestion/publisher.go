package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"DealMetrics/internal/metric"
	"DealMetrics/internal/observability"
	"DealMetrics/internal/store"
)

// Publisher streams computed rollup rows to downstream consumers. Rows go
// out only after their append committed; publish failures are non-fatal
// because consumers can read the state store directly.
// Subjects follow the pattern metrics.out.{rollup}.
type Publisher struct {
	js      jetstream.JetStream
	schemas map[string]metric.Schema
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewPublisher(js jetstream.JetStream, schemas map[string]metric.Schema, log zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		schemas: schemas,
		log:     log,
		metrics: metrics,
	}
}

// PublishResults publishes the emitted rows of every stream-out rollup.
func (p *Publisher) PublishResults(ctx context.Context, results map[string][]store.Row) {
	for rollup, rows := range results {
		schema, ok := p.schemas[rollup]
		if !ok || !schema.StreamOut {
			continue
		}
		subject := fmt.Sprintf("metrics.out.%s", rollup)
		for _, row := range rows {
			if err := p.publishRow(ctx, subject, row); err != nil {
				if p.metrics != nil {
					p.metrics.PublishErrors.WithLabelValues(rollup).Inc()
				}
				p.log.Warn().Err(err).Str("rollup", rollup).Int64("cursor", row.Cursor()).Msg("publish failed")
				continue
			}
			if p.metrics != nil {
				p.metrics.PublishedRows.WithLabelValues(rollup).Inc()
			}
		}
	}
}

func (p *Publisher) publishRow(ctx context.Context, subject string, row store.Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound rollup stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "METRICS_OUT",
		Subjects:  []string{"metrics.out.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log.Info().Str("stream", "METRICS_OUT").Msg("ensured outbound stream")
	return nil
}
