package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"DealMetrics/internal/config"
	"DealMetrics/internal/engine"
	"DealMetrics/internal/ingestion"
	"DealMetrics/internal/metric"
	"DealMetrics/internal/observability"
	"DealMetrics/internal/persistence"
	"DealMetrics/internal/query"
	"DealMetrics/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	log := observability.NewLogger("dealmetrics")

	cfg, err := config.Load(os.Getenv("METRICS_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("postgres ping")
	}

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	// --- State stores ---
	factories := metric.RowFactories()
	var st store.Store = store.NewPostgresStore(db, factories)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unreachable, running without cache")
		} else {
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.RedisTTLSecs)*time.Second, factories, metrics)
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis cache enabled")
		}
	}

	// --- Engine wiring ---
	runner := engine.NewRunner(cfg.Workers, observability.NewLogger("engine"), metrics)
	runner.Register(metric.NewDailyAccountCalculator(), st)
	runner.Register(metric.NewAccountByDealCalculator(), st)
	runner.Register(metric.NewSymbolByDealCalculator(), st)
	runner.Register(metric.NewPositionByDealCalculator(), st)
	runner.RegisterAux(metric.RollupDailySnapshot, st)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	natsLog := observability.NewLogger("ingestion")
	if err := ingestion.EnsureStreams(ctx, js, natsLog); err != nil {
		log.Fatal().Err(err).Msg("ensure inbound streams")
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, natsLog); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	batchChan := make(chan ingestion.RawBatch, cfg.BatchChanSize)
	subscriber := ingestion.NewSubscriber(js, batchChan, natsLog)
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}
	defer subscriber.Stop()

	publisher := ingestion.NewPublisher(js, metric.Registry(), observability.NewLogger("publisher"), metrics)

	// --- Metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server")
		}
	}()

	// --- Query API ---
	stores := make(map[string]store.Store)
	for _, name := range runner.Rollups() {
		stores[name] = st
	}
	stores[metric.RollupDailySnapshot] = st
	apiSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: query.NewServer(stores, metric.Registry(), health, observability.NewLogger("query"), metrics).Router(),
	}
	go func() {
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("api server")
		}
	}()

	health.SetReady(true)
	log.Info().
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Int("workers", cfg.Workers).
		Msg("dealmetrics running")

	// --- Main loop ---
	for {
		select {
		case <-sigChan:
			log.Info().Msg("shutdown signal received")
			health.SetReady(false)
			cancel()

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			apiSrv.Shutdown(shutdownCtx)
			metricsSrv.Shutdown(shutdownCtx)
			return

		case raw := <-batchChan:
			processBatch(ctx, raw, runner, publisher, metrics, log)
		}
	}
}

// processBatch decodes one inbound message, folds or appends it, publishes
// the results, and acks. Transient failures nak for redelivery; undecodable
// messages ack so a poison message cannot loop forever.
func processBatch(ctx context.Context, raw ingestion.RawBatch, runner *engine.Runner, publisher *ingestion.Publisher, metrics *observability.Metrics, log zerolog.Logger) {
	metrics.IngestBatches.WithLabelValues(raw.Subject).Inc()
	log = log.With().Str("batch_id", raw.BatchID).Logger()

	switch raw.Subject {
	case ingestion.SubjectDeals:
		deals, err := ingestion.ParseDealBatch(raw.Data)
		if err != nil {
			metrics.IngestParseErrors.WithLabelValues(raw.Subject).Inc()
			log.Error().Err(err).Msg("undecodable deal batch dropped")
			raw.Ack()
			return
		}
		results, err := runner.CalculateAll(ctx, deals)
		if err != nil {
			metrics.IngestNaks.WithLabelValues(raw.Subject).Inc()
			log.Warn().Err(err).Int("deals", len(deals)).Msg("batch fold failed, requesting redelivery")
			raw.Nak()
			return
		}
		publisher.PublishResults(ctx, results)
		raw.Ack()

	case ingestion.SubjectSnapshots:
		snaps, err := ingestion.ParseSnapshotBatch(raw.Data)
		if err != nil {
			metrics.IngestParseErrors.WithLabelValues(raw.Subject).Inc()
			log.Error().Err(err).Msg("undecodable snapshot batch dropped")
			raw.Ack()
			return
		}
		if err := runner.AppendSnapshots(ctx, snaps); err != nil {
			metrics.IngestNaks.WithLabelValues(raw.Subject).Inc()
			log.Warn().Err(err).Int("snapshots", len(snaps)).Msg("snapshot append failed, requesting redelivery")
			raw.Nak()
			return
		}
		raw.Ack()

	default:
		log.Warn().Str("subject", raw.Subject).Msg("message on unexpected subject dropped")
		raw.Ack()
	}
}
