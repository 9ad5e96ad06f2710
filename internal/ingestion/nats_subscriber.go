package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Inbound subjects. Deals and history snapshots arrive on separate subjects
// so they can scale and retry independently.
const (
	SubjectDeals     = "metrics.deals"
	SubjectSnapshots = "metrics.history"
)

// RawBatch is one undecoded inbound message. Ack after the batch is folded
// and appended; Nak to request redelivery on transient failure. BatchID is
// assigned on receipt and threads through the processing logs.
type RawBatch struct {
	BatchID  string
	Subject  string
	Data     []byte
	Received time.Time
	Ack      func()
	Nak      func()
}

// SubjectConfig maps one inbound subject to its durable consumer.
type SubjectConfig struct {
	Subject      string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard inbound subject wiring.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: SubjectDeals, ConsumerName: "metrics-deals", StreamName: "METRICS_DEALS"},
		{Subject: SubjectSnapshots, ConsumerName: "metrics-history", StreamName: "METRICS_HISTORY"},
	}
}

// Subscriber feeds inbound batches from JetStream into batchChan for the
// orchestrator loop to decode and fold.
type Subscriber struct {
	js        jetstream.JetStream
	batchChan chan<- RawBatch
	log       zerolog.Logger
	consumers []jetstream.ConsumeContext
}

func NewSubscriber(js jetstream.JetStream, batchChan chan<- RawBatch, log zerolog.Logger) *Subscriber {
	return &Subscriber{
		js:        js,
		batchChan: batchChan,
		log:       log,
	}
}

// Subscribe creates durable consumers for the configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *Subscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		cc, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawBatch{
				BatchID:  uuid.NewString(),
				Subject:  msg.Subject(),
				Data:     msg.Data(),
				Received: time.Now(),
				Ack:      func() { msg.Ack() },
				Nak:      func() { msg.Nak() },
			}

			select {
			case s.batchChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, cc)
		s.log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the inbound streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "METRICS_DEALS",
			Subjects:  []string{SubjectDeals},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "METRICS_HISTORY",
			Subjects:  []string{SubjectSnapshots},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (s *Subscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	s.log.Info().Msg("subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
