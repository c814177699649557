// Package main is the entry point for the riskforge service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"riskforge/internal/alerting"
	"riskforge/internal/api"
	"riskforge/internal/autonomous"
	"riskforge/internal/cache"
	"riskforge/internal/config"
	"riskforge/internal/connector"
	"riskforge/internal/consumer"
	"riskforge/internal/correlation"
	apperrors "riskforge/internal/errors"
	"riskforge/internal/finding"
	"riskforge/internal/graph"
	"riskforge/internal/ingest"
	"riskforge/internal/kafka"
	"riskforge/internal/logging"
	"riskforge/internal/middleware"
	"riskforge/internal/queue"
	"riskforge/internal/schema"
	"riskforge/internal/scoring"
	"riskforge/internal/search"
	"riskforge/internal/startup"
	"riskforge/internal/storage"
	"riskforge/internal/storage/s3"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	if os.Getenv("RISKFORGE_ENV") == "production" {
		apperrors.SetProductionMode(true)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"api_port", cfg.Server.APIPort,
		"queue_size", cfg.Queue.Size,
		"auth_enabled", cfg.Auth.Enabled,
		"storage_enabled", cfg.Storage.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"archive_enabled", cfg.Archive.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Startup diagnostics. Port conflicts and broken config abort
	// startup, degraded backends only warn.
	if os.Getenv("RISKFORGE_SKIP_DIAGNOSTICS") != "1" {
		diag := startup.NewDiagnostics(cfg, logger)
		diag.RunAll(ctx)
		if diag.HasErrors() {
			slog.Error("startup diagnostics failed")
			os.Exit(1)
		}
	}

	// Core components
	validator := schema.NewValidatorWithConfig(schema.ValidatorConfig{
		MaxAge:    cfg.Validation.MaxEventAge,
		MaxFuture: cfg.Validation.MaxFuture,
	})
	eventQueue := queue.NewRingBuffer(cfg.Queue.Size)

	// Storage layer
	var (
		chClient      *storage.ClickHouseClient
		batchWriter   *storage.BatchWriter
		queueConsumer *consumer.Consumer
		ledgerStore   *storage.LedgerStore
		quarantine    *storage.QuarantineWriter
		graphStore    graph.Store
		findingStore  finding.Store
	)

	if cfg.Storage.Enabled {
		slog.Info("initializing ClickHouse storage",
			"hosts", cfg.Storage.ClickHouse.Hosts,
			"database", cfg.Storage.ClickHouse.Database,
		)

		chClient, err = storage.NewClickHouseClient(cfg.Storage.ClickHouse)
		if err != nil {
			slog.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}

		slog.Info("running database migrations")
		migrator := storage.NewMigrator(chClient)
		if err := migrator.Run(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}

		chGraph := graph.NewClickHouseStore(chClient)
		if err := chGraph.Migrate(ctx); err != nil {
			slog.Error("failed to migrate graph tables", "error", err)
			os.Exit(1)
		}
		graphStore = chGraph

		retention := storage.NewRetentionManager(chClient, cfg.Storage.Retention)
		if err := retention.ApplyTTLs(ctx); err != nil {
			slog.Warn("failed to apply retention TTLs", "error", err)
		}

		batchWriter = storage.NewBatchWriter(chClient, cfg.Storage.BatchWriter)
		queueConsumer = consumer.New(eventQueue, batchWriter, cfg.Consumer)
		queueConsumer.Start(ctx)

		ledgerStore = storage.NewLedgerStore(chClient)
		quarantine = storage.NewQuarantineWriter(chClient)
		findingStore = storage.NewFindingStore(chClient)

		slog.Info("storage initialized successfully")
	} else {
		graphStore = graph.NewMemoryStore()
		findingStore = finding.NewMemoryStore()
		go drainQueue(ctx, eventQueue)
	}

	// Kafka transport
	var (
		producer  *kafka.Producer
		publisher *kafka.EventPublisher
	)

	if cfg.Kafka.Enabled {
		ensureTopics(ctx, cfg, logger)

		producer, err = kafka.NewProducer(&cfg.Kafka.Client, logger)
		if err != nil {
			slog.Error("failed to create kafka producer", "error", err)
			os.Exit(1)
		}
		publisher = kafka.NewEventPublisher(producer, cfg.Kafka.Topics, logger)
	}

	// Finding archival
	var findingArchiver finding.Archiver
	if cfg.Archive.Enabled {
		s3Client, err := s3.NewClient(ctx, &cfg.Archive.S3, logger)
		if err != nil {
			slog.Error("failed to create s3 client", "error", err)
			os.Exit(1)
		}
		findingArchiver = s3.NewFindingArchiver(s3.NewArchiver(s3Client, &cfg.Archive.Archiver, logger))
	}

	// Findings and correlation
	var findingPub finding.Publisher
	if publisher != nil {
		findingPub = publisher
	}
	synthesizer := finding.NewSynthesizer(findingStore, findingPub, logger)
	findingService := finding.NewService(findingStore, findingPub, findingArchiver, logger)

	var ledger correlation.Store
	if ledgerStore != nil {
		ledger = ledgerStore
	}
	correlator := correlation.NewManager(cfg.Correlation, ledger, synthesizer, logger)
	if ledger != nil {
		if err := correlator.Restore(ctx, cfg.Validation.MaxEventAge); err != nil {
			slog.Warn("failed to restore correlation ledger", "error", err)
		}
	}
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := correlator.PruneStale(cfg.Validation.MaxEventAge); n > 0 {
					slog.Info("pruned stale correlation groups", "removed", n)
				}
			}
		}
	}()

	// Risk scoring
	scoreCache := cache.NewScoreCache(cfg.Cache, logger)
	rules := scoring.NewRules(cfg.Scoring.Weights)
	engine := scoring.NewEngine(graphStore, rules, scoreCache, logger)

	// Alerting
	var hub *alerting.Hub
	var notifier autonomous.Notifier
	if cfg.Alerting.Enabled {
		channels := cfg.Alerting.Channels(func(format string, args ...interface{}) {
			logger.Info(fmt.Sprintf(format, args...))
		})
		hub = alerting.NewHub(cfg.Alerting.Delivery, channels, logger)
		notifier = hub
	}

	var incident autonomous.IncidentReporter
	if cfg.Alerting.IncidentURL != "" {
		incident = alerting.NewIncidentClient(cfg.Alerting.IncidentURL, cfg.Alerting.IncidentAPIKey)
	}
	var threat autonomous.ThreatAnalyzer
	if cfg.Alerting.ThreatURL != "" {
		threat = alerting.NewThreatClient(cfg.Alerting.ThreatURL)
	}

	// Autonomous risk management
	dispatcher := autonomous.NewDispatcher(incident, threat, notifier, logger)

	var riskPub autonomous.Publisher
	if publisher != nil {
		riskPub = publisher
	}
	riskManager := autonomous.NewManager(cfg.Autonomous, graphStore, dispatcher, riskPub, logger)
	go riskManager.Run(ctx)

	// Periodic full re-score keeps graph scores fresh for entities with
	// no recent event activity and feeds the risk monitor so states can
	// decay back toward normal.
	if cfg.Scoring.RescoreInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Scoring.RescoreInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					report, err := engine.ScoreAllOfType(ctx, "", 0, cfg.Scoring.Batch)
					if err != nil {
						slog.Warn("batch rescore failed", "error", err)
						continue
					}
					for _, res := range report.Scored {
						riskManager.Observe(ctx, res.EntityID, string(res.EntityType), res.Composite*100)
						if _, err := synthesizer.FromScore(ctx, ingest.ScoreInputFromResult(res)); err != nil {
							slog.Warn("score-driven finding failed",
								"entity_id", res.EntityID,
								"error", err)
						}
					}
					if len(report.Failed) > 0 {
						slog.Warn("batch rescore incomplete",
							"scored", len(report.Scored),
							"failed", len(report.Failed))
					}
				}
			}
		}()
	}

	// Processing pipeline
	deps := ingest.PipelineDeps{
		Validator:  validator,
		Queue:      eventQueue,
		Graph:      graphStore,
		Correlator: correlator,
		Scorer:     engine,
		Observer:   riskManager,
		Findings:   synthesizer,
		Logger:     logger,
	}
	if publisher != nil {
		deps.DLQ = publisher
	}
	if quarantine != nil {
		deps.Quarantine = quarantine
	}
	pipeline := ingest.NewPipeline(deps)

	// Upstream gateway connector
	var gatewayIngester *connector.Ingester
	if cfg.Connector.Enabled {
		gatewayClient := connector.NewClient(cfg.Connector.Client)
		gatewayIngester = connector.NewIngester(gatewayClient, pipeline, cfg.Connector, logger)
		gatewayIngester.Start(ctx)
	}

	// Kafka consumers
	var eventConsumers *kafka.ConsumerGroup
	var findingConsumer *kafka.Consumer

	if cfg.Kafka.Enabled {
		eventConsumers, err = kafka.NewConsumerGroup(&cfg.Kafka.Client, cfg.Consumer.Workers, pipeline.HandleMessage, logger)
		if err != nil {
			slog.Error("failed to create event consumers", "error", err)
			os.Exit(1)
		}
		if err := eventConsumers.Start(); err != nil {
			slog.Error("failed to start event consumers", "error", err)
			os.Exit(1)
		}

		if hub != nil {
			findingsCfg := cfg.Kafka.Client
			findingsCfg.Topic = cfg.Kafka.Topics.Findings
			findingsCfg.ConsumerGroup = cfg.Kafka.FindingsConsumerGroup
			findingConsumer, err = kafka.NewConsumer(&findingsCfg, hub.HandleFindingMessage, logger)
			if err != nil {
				slog.Error("failed to create findings consumer", "error", err)
				os.Exit(1)
			}
			if err := findingConsumer.StartAsync(); err != nil {
				slog.Error("failed to start findings consumer", "error", err)
				os.Exit(1)
			}
		}
	}

	// Ingest HTTP server
	ingestHandler := ingest.NewHandler(pipeline).
		WithMaxPayload(cfg.Ingest.MaxPayloadSize).
		WithMaxBatch(cfg.Ingest.MaxBatchSize)

	ingestMux := http.NewServeMux()
	ingestMux.HandleFunc("POST /v1/events", ingestHandler.HandleEvents)
	ingestMux.HandleFunc("GET /health", ingestHandler.HealthCheck)
	ingestMux.HandleFunc("GET /metrics", ingestHandler.Metrics)

	ingestServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      ingest.WithMiddleware(ingestMux, cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting ingest server", "address", ingestServer.Addr)
		if err := ingestServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ingest server error", "error", err)
			os.Exit(1)
		}
	}()

	// Analyst API server
	apiMux := http.NewServeMux()
	api.NewHandler(findingService, dispatcher, riskManager, graphStore, logger).WithScorer(engine).RegisterRoutes(apiMux)
	if chClient != nil {
		search.NewHandler(search.NewExecutor(chClient.DB()), logger).RegisterRoutes(apiMux)
	}

	secureHeaders := middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig(), logger)
	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.APIPort),
		Handler:      secureHeaders(ingest.WithMiddleware(apiMux, cfg)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting api server", "address", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop accepting new requests
	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("ingest server shutdown error", "error", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("api server shutdown error", "error", err)
	}

	// Stop consuming new events
	if gatewayIngester != nil {
		gatewayIngester.Stop()
	}
	if eventConsumers != nil {
		if err := eventConsumers.Stop(); err != nil {
			slog.Error("event consumers stop error", "error", err)
		}
	}
	if findingConsumer != nil {
		if err := findingConsumer.Stop(); err != nil {
			slog.Error("findings consumer stop error", "error", err)
		}
	}

	// Stop background loops
	cancel()

	if queueConsumer != nil {
		queueConsumer.Stop()
	}
	if batchWriter != nil {
		if err := batchWriter.Close(); err != nil {
			slog.Error("batch writer close error", "error", err)
		}
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			slog.Error("producer close error", "error", err)
		}
	}
	if hub != nil {
		hub.Stop()
	}
	if err := scoreCache.Close(); err != nil {
		slog.Error("score cache close error", "error", err)
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			slog.Error("clickhouse close error", "error", err)
		}
	}

	eventQueue.Close()

	// Log final metrics
	queueMetrics := eventQueue.Metrics()
	pipelineMetrics := pipeline.Metrics()
	slog.Info("shutdown complete",
		"events_pushed", queueMetrics.Pushed,
		"events_popped", queueMetrics.Popped,
		"events_dropped", queueMetrics.Dropped,
		"events_processed", pipelineMetrics.Processed,
		"duplicates", pipelineMetrics.Duplicates,
		"malformed", pipelineMetrics.Malformed,
		"dead_letters", pipelineMetrics.DeadLetters,
	)
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: logging.RedactAttr}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// ensureTopics creates the pipeline topics if they do not already exist.
// Failures are logged and not fatal: the broker may create them on first
// use or an operator may have restricted topic administration.
func ensureTopics(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	admin, err := kafka.NewAdmin(&cfg.Kafka.Client, logger)
	if err != nil {
		slog.Warn("failed to create kafka admin", "error", err)
		return
	}

	topics := []string{
		cfg.Kafka.Client.Topic,
		cfg.Kafka.Topics.Findings,
		cfg.Kafka.Topics.RiskEvents,
		cfg.Kafka.Topics.DLQ,
	}
	for _, topic := range topics {
		err := admin.EnsureTopic(ctx, kafka.TopicConfig{
			Name:              topic,
			Partitions:        cfg.Kafka.Client.Partitions,
			ReplicationFactor: cfg.Kafka.Client.ReplicationFactor,
			RetentionMs:       cfg.Kafka.Client.RetentionMs,
		})
		if err != nil {
			slog.Warn("failed to ensure topic", "topic", topic, "error", err)
		}
	}
}

// drainQueue consumes events when storage is disabled so the raw event
// queue does not fill up. Used for development without ClickHouse.
func drainQueue(ctx context.Context, q *queue.RingBuffer) {
	slog.Info("queue drain started (no storage configured)")

	for {
		select {
		case <-ctx.Done():
			slog.Info("queue drain stopping")
			return
		default:
		}

		event, err := q.PopWithTimeout(100 * time.Millisecond)
		if err != nil {
			if err == queue.ErrQueueEmpty {
				continue
			}
			if err == queue.ErrQueueClosed {
				return
			}
			continue
		}

		slog.Debug("event drained",
			"event_id", event.EventID,
			"event_type", event.EventType,
			"source", event.SourceSystemID,
		)
	}
}
