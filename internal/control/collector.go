package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/vietddude/collector/internal/api"
	"github.com/vietddude/collector/internal/core/config"
	"github.com/vietddude/collector/internal/core/lifecycle"
	"github.com/vietddude/collector/internal/core/worker"
	"github.com/vietddude/collector/internal/infra/kafka"
	redisclient "github.com/vietddude/collector/internal/infra/redis"
	"github.com/vietddude/collector/internal/infra/replay"
	"github.com/vietddude/collector/internal/infra/storage"
	"github.com/vietddude/collector/internal/infra/storage/memory"
	"github.com/vietddude/collector/internal/infra/storage/postgres"
	"github.com/vietddude/collector/internal/processing/alerting"
	"github.com/vietddude/collector/internal/processing/emitter"
	"github.com/vietddude/collector/internal/processing/envelope"
	"github.com/vietddude/collector/internal/processing/health"
	"github.com/vietddude/collector/internal/processing/ingest"
	"github.com/vietddude/collector/internal/processing/management"
	"github.com/vietddude/collector/internal/processing/retry"
)

// Collector is the main application struct that owns every component.
type Collector struct {
	cfg *config.AppConfig

	manager  *lifecycle.DefaultManager
	repo     storage.ExceptionRepository
	emitter  emitter.Emitter
	alerts   *alerting.Engine
	pool     *retry.Pool
	orch     *retry.Orchestrator
	service  *management.Service
	handlers map[string]kafka.Handler

	consumer     *kafka.Consumer
	autoRetrier  *retry.AutoRetrier
	retention    *worker.Retention
	healthMon    *health.Monitor
	healthServer *health.Server
	grpcServer   *health.GRPCServer
	limiter      *api.RateLimiter

	store       *memory.MemoryStorage
	db          *postgres.DB
	redisClient *redisclient.Client

	cancel context.CancelFunc
	log    *slog.Logger
}

// NewCollector wires every component from cfg. Empty database, Redis or
// broker settings select the in-process fallbacks.
func NewCollector(ctx context.Context, cfg *config.AppConfig) (*Collector, error) {
	c := &Collector{cfg: cfg, log: slog.Default().With("component", "collector")}

	// 1. Storage
	var ledger storage.AlertLedger
	components := []health.Component{}
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		c.db = db
		c.repo = postgres.NewExceptionRepo(db)
		ledger = postgres.NewAlertLedger(db)
		components = append(components, health.Component{Name: "postgres", Critical: true, Check: db.Health})
		c.log.Info("Using PostgreSQL storage")
	} else {
		c.store = memory.NewMemoryStorage()
		c.repo = memory.NewExceptionRepo(c.store)
		ledger = memory.NewAlertLedger(c.store)
		components = append(components, health.Component{Name: "memory", Critical: true, Check: c.store.Health})
		c.log.Info("Using Memory storage")
	}

	// 2. Redis: retry locks, alert ledger, dead-letter parking
	var locker retry.Locker = retry.NewLocalLocker()
	var parker ingest.Parker
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			c.log.Warn("Failed to connect to Redis, using process-local locks", "error", err)
		} else {
			c.redisClient = client
			locker = client
			ledger = redisclient.NewAlertLedger(client, cfg.Alerting.LedgerTTL)
			parker = redisclient.NewDeadLetterRepo(client, cfg.Redis.DeadLetterTTL)
			components = append(components, health.Component{Name: "redis", Check: client.Health})
		}
	}

	// 3. Outbound events
	codec, err := envelope.NewCodec(cfg.Events.Source)
	if err != nil {
		return nil, err
	}
	var publisher emitter.Publisher = emitter.NewLogPublisher()
	var dltPublisher ingest.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Kafka.Config)
		publisher = kp
		dltPublisher = kp
		brokers := cfg.Kafka.Brokers
		components = append(components, health.Component{
			Name:  "kafka",
			Check: func(ctx context.Context) error { return kafka.Ping(ctx, brokers) },
		})
	} else {
		c.log.Info("No Kafka brokers configured, outbound events are logged only")
	}
	c.emitter = emitter.NewEventEmitter(codec, publisher)

	// 4. Lifecycle and alerting
	c.manager = lifecycle.NewManager(c.repo)
	rules := alerting.NewRules(cfg.Alerting.CustomerFacingTypes(), cfg.Retry.MaxAttemptsFor)
	c.alerts = alerting.NewEngine(rules, ledger, c.emitter)
	c.manager.SetTransitionCallback(c.alerts.OnTransition)

	// 5. Retry
	backoff := &retry.Backoff{InitialDelay: cfg.Retry.InitialDelay, MaxDelay: cfg.Retry.MaxDelay}
	c.pool = retry.NewPool(cfg.Retry.Workers, cfg.Retry.QueueSize)
	c.orch = retry.NewOrchestrator(retry.Config{
		MaxAttempts: cfg.Retry.MaxAttemptsFor,
		Timeout:     cfg.Retry.Timeout,
	}, c.manager, replay.NewClient(cfg.Replay), c.emitter, locker, c.pool)
	if cfg.Retry.Auto.Enabled {
		c.autoRetrier = retry.NewAutoRetrier(c.repo, c.orch, backoff, cfg.Retry.Auto.Interval)
	}

	// 6. Ingestion
	dead := ingest.NewDeadLetterSink(dltPublisher, parker, cfg.Kafka.DeadLetterSuffix)
	pipelines := ingest.NewPipelines(codec, ingest.NewCapturer(c.manager, c.emitter), dead)
	c.handlers = make(map[string]kafka.Handler)
	for topic, h := range ingest.Handlers(pipelines) {
		if slices.Contains(cfg.Kafka.Topics, topic) {
			c.handlers[topic] = h
		}
	}
	if len(cfg.Kafka.Brokers) > 0 {
		c.consumer = kafka.NewConsumer(cfg.Kafka.Config, c.handlers)
	}

	// 7. Query side, retention and HTTP surface
	c.service = management.NewService(c.manager, c.repo, c.emitter, c.orch.MaxAttempts)
	c.retention = worker.NewRetention(cfg.Retention.ResolvedTTL, c.repo, c.manager)

	c.limiter = api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	routes := api.NewHandler(c.service, c.orch, c.limiter).Routes()

	c.healthMon = health.NewMonitor(components, c.pool.Depth, c.manager.RecentTransitions)
	c.healthServer = health.NewServer(c.healthMon, cfg.Server.Port, routes)
	if cfg.Server.GRPCPort > 0 {
		c.grpcServer = health.NewGRPCServer(c.healthMon, cfg.Server.GRPCPort)
	}

	return c, nil
}

// Start starts the collector and all its components. It returns immediately.
func (c *Collector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	// Start HTTP Server
	go func() {
		if err := c.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("HTTP server failed", "error", err)
		}
	}()

	if c.grpcServer != nil {
		go func() {
			if err := c.grpcServer.Start(ctx); err != nil {
				c.log.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	if c.db != nil {
		c.db.StartMetricsCollector(ctx)
	}

	if c.consumer != nil {
		if err := c.consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
	}

	if c.autoRetrier != nil {
		c.log.Info("Starting automatic retries", "interval", c.cfg.Retry.Auto.Interval)
		go c.autoRetrier.Start(ctx)
	}

	c.log.Info("Starting retention worker", "resolved_ttl", c.cfg.Retention.ResolvedTTL)
	go c.retention.Start(ctx)

	c.log.Info("Collector started",
		"port", c.cfg.Server.Port,
		"topics", len(c.handlers),
		"consuming", c.consumer != nil,
	)
	return nil
}

// Stop drains in-flight work and releases every connection.
func (c *Collector) Stop(ctx context.Context) error {
	c.log.Info("Stopping Collector...")
	if c.cancel != nil {
		c.cancel()
	}

	var err error
	for _, step := range c.shutdownSteps() {
		if serr := step.run(ctx); serr != nil {
			c.log.Warn("Shutdown step failed", "step", step.name, "error", serr)
			if err == nil {
				err = serr
			}
		}
	}
	return err
}

type shutdownStep struct {
	name string
	run  func(ctx context.Context) error
}

// shutdownSteps lists teardown in order. Intake stops first and the HTTP
// server drains before the retry pool, so an accepted retry always has a
// worker to run on.
func (c *Collector) shutdownSteps() []shutdownStep {
	var steps []shutdownStep
	if c.consumer != nil {
		steps = append(steps, shutdownStep{"kafka-consumer", func(context.Context) error {
			c.consumer.Wait()
			return c.consumer.Close()
		}})
	}
	steps = append(steps, shutdownStep{"http", c.healthServer.Stop})
	if c.grpcServer != nil {
		steps = append(steps, shutdownStep{"grpc", func(context.Context) error {
			c.grpcServer.Stop()
			return nil
		}})
	}
	steps = append(steps,
		shutdownStep{"retry-pool", c.pool.Stop},
		shutdownStep{"alerts", func(context.Context) error {
			c.alerts.Wait()
			return nil
		}},
		shutdownStep{"publisher", func(context.Context) error { return c.emitter.Close() }},
		shutdownStep{"rate-limiter", func(context.Context) error {
			c.limiter.Close()
			return nil
		}},
	)
	if c.redisClient != nil {
		steps = append(steps, shutdownStep{"redis", func(context.Context) error { return c.redisClient.Close() }})
	}
	if c.db != nil {
		steps = append(steps, shutdownStep{"database", func(context.Context) error { return c.db.Close() }})
	}
	return steps
}
