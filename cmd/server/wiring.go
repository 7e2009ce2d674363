package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	approvalhandler "qcgate/internal/approval/handler"
	"qcgate/internal/approval/service"
	approvalstore "qcgate/internal/approval/store"
	"qcgate/internal/approver"
	"qcgate/internal/audit"
	"qcgate/internal/auth/token"
	"qcgate/internal/cascade"
	"qcgate/internal/directory"
	"qcgate/internal/notification"
	"qcgate/internal/platform/config"
	"qcgate/internal/platform/database"
	"qcgate/internal/platform/health"
	"qcgate/internal/platform/kafka/producer"
	"qcgate/internal/platform/metrics"
	"qcgate/internal/platform/middleware"
	redisplatform "qcgate/internal/platform/redis"
	"qcgate/internal/platform/tracer"
	"qcgate/internal/policy"
	policyhandler "qcgate/internal/policy/handler"
	policystore "qcgate/internal/policy/store"
	"qcgate/internal/seeder"
	"qcgate/internal/subject"
	id "qcgate/pkg/domain"
	"qcgate/pkg/platform/circuit"
)

const (
	maxBodyBytes      = 1 << 20
	poolStatsInterval = 15 * time.Second
	auditStopTimeout  = 15 * time.Second
)

// app owns everything main has to close on shutdown.
type app struct {
	router     http.Handler
	log        *slog.Logger
	dispatcher *notification.Dispatcher
	auditor    *audit.Worker
	producer   *producer.Producer
	redis      *redisplatform.Client
	pool       *database.Pool
	stopStats  context.CancelFunc
	closeOnce  sync.Once
}

// Close drains pending notifications before the transports they use.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		if a.stopStats != nil {
			a.stopStats()
		}
		if a.dispatcher != nil {
			a.dispatcher.Close()
		}
		if a.auditor != nil {
			ctx, cancel := context.WithTimeout(context.Background(), auditStopTimeout)
			if err := a.auditor.Stop(ctx); err != nil {
				a.log.Warn("audit worker stop timed out", "error", err)
			}
			cancel()
		}
		if a.producer != nil {
			_ = a.producer.Close()
		}
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				a.log.Warn("redis close failed", "error", err)
			}
		}
		if a.pool != nil {
			if err := a.pool.Close(); err != nil {
				a.log.Warn("database close failed", "error", err)
			}
		}
	})
}

type storage struct {
	requests  service.Store
	subjects  subject.Store
	directory approver.Directory
	audit     audit.Store
	tx        service.TxRunner
}

func buildApp(ctx context.Context, cfg config.Server, log *slog.Logger) (_ *app, err error) {
	a := &app{log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	checks := health.New(cfg.Environment)

	if a.pool, err = database.New(ctx, cfg.Database); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if a.pool != nil {
		if err = database.Migrate(ctx, a.pool.DB()); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		checks.RegisterChecker(a.pool)
	}

	if a.redis, err = redisplatform.New(ctx, cfg.Redis); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if a.redis != nil {
		checks.RegisterChecker(a.redis)
		statsCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
		a.stopStats = stop
		go recordPoolStats(statsCtx, a.redis)
	}

	if cfg.Notification.KafkaBrokers != "" {
		if a.producer, err = producer.New(producer.DefaultConfig(cfg.Notification.KafkaBrokers), log); err != nil {
			return nil, fmt.Errorf("create kafka producer: %w", err)
		}
		checks.RegisterChecker(a.producer)
	}

	st, err := buildStorage(ctx, cfg, a, log)
	if err != nil {
		return nil, err
	}

	rules, err := buildPolicySource(ctx, cfg, a.pool, log)
	if err != nil {
		return nil, err
	}
	engineTracer := tracer.NewOTel(otel.Tracer("qcgate"))
	engine := policy.NewEngine(rules, policy.WithLogger(log), policy.WithTracer(engineTracer))
	resolver := approver.New(st.directory, engine,
		approver.WithLogger(log),
		approver.WithFallbackRole(cfg.Policy.FallbackApproverRole),
	)

	var sink audit.Sink = audit.NewLogSink(log)
	if a.producer != nil {
		sink = audit.NewKafkaSink(a.producer, cfg.Audit.Topic)
	}
	a.auditor = audit.NewWorker(st.audit, sink,
		audit.WithPollInterval(cfg.Audit.PollInterval),
		audit.WithRetention(cfg.Audit.Retention),
		audit.WithWorkerLogger(log),
	)
	a.auditor.Start()

	a.dispatcher = notification.NewDispatcher(buildPublisher(cfg, a, log),
		notification.WithLogger(log),
		notification.WithBuffer(cfg.Notification.Buffer),
	)
	effects := cascade.New(a.dispatcher, cascade.WithLogger(log))

	approvals := service.New(st.requests, st.subjects, st.tx, engine, resolver, effects,
		service.WithLogger(log),
		service.WithTracer(engineTracer),
	)
	tokens := token.NewService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.TokenTTL)

	a.router = newRouter(cfg, log, checks, tokens,
		approvalhandler.New(approvals, log),
		policyhandler.New(engine, resolver, rules, id.RoleID(cfg.AdminRole), log),
	)
	return a, nil
}

// buildStorage picks PostgreSQL when a pool is configured and the in-memory
// stores otherwise. A redis lock backend wraps either transaction runner.
func buildStorage(ctx context.Context, cfg config.Server, a *app, log *slog.Logger) (storage, error) {
	var st storage
	if a.pool != nil {
		db := a.pool.DB()
		st = storage{
			requests:  approvalstore.NewPostgres(db),
			subjects:  subject.NewPostgres(db),
			directory: directory.NewPostgres(db),
			audit:     audit.NewPostgres(db),
			tx:        newApprovalPostgresTx(db, cfg.TxTimeout),
		}
		if cfg.SeedFile != "" {
			log.Warn("SEED_FILE ignored with a database configured", "path", cfg.SeedFile)
		}
	} else {
		requests := approvalstore.New()
		subjects := subject.NewInMemoryStore()
		dir := directory.NewMemory()
		outbox := audit.NewMemoryStore()
		st = storage{
			requests:  requests,
			subjects:  subjects,
			directory: dir,
			audit:     outbox,
			tx: service.NewShardedTx(service.Stores{Requests: requests, Subjects: subjects, Audit: outbox},
				cfg.TxTimeout),
		}
		if cfg.SeedFile != "" {
			if err := seeder.New(dir, subjects, log).SeedFile(ctx, cfg.SeedFile); err != nil {
				return storage{}, fmt.Errorf("seed: %w", err)
			}
		}
	}

	if cfg.LockBackend == config.LockRedis {
		locker := redisplatform.NewLocker(a.redis.Client, redisplatform.WithLockTTL(cfg.LockTTL))
		st.tx = service.NewLockedTx(locker, st.tx)
	}
	return st, nil
}

// buildPolicySource prefers a YAML policy file, then the database, then the
// built-in defaults. An empty database is seeded with the defaults.
func buildPolicySource(ctx context.Context, cfg config.Server, pool *database.Pool, log *slog.Logger) (*policystore.Cached, error) {
	var source policystore.Loader
	switch {
	case cfg.Policy.File != "":
		rs, err := policystore.LoadFile(cfg.Policy.File)
		if err != nil {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
		mem, err := policystore.NewMemory(rs)
		if err != nil {
			return nil, fmt.Errorf("load policy file: %w", err)
		}
		log.Info("policy loaded from file", "path", cfg.Policy.File, "rules", len(rs.Rules))
		source = mem
	case pool != nil:
		pg := policystore.NewPostgres(pool.DB())
		rs, err := pg.LoadRuleSet(ctx)
		if err != nil {
			return nil, fmt.Errorf("load policy: %w", err)
		}
		if len(rs.Rules) == 0 {
			if err := pg.Save(ctx, policy.DefaultRuleSet()); err != nil {
				return nil, fmt.Errorf("seed default policy: %w", err)
			}
			log.Info("database policy empty, default rules installed")
		}
		source = pg
	default:
		mem, err := policystore.NewMemory(policy.DefaultRuleSet())
		if err != nil {
			return nil, fmt.Errorf("load default policy: %w", err)
		}
		source = mem
	}
	return policystore.NewCached(source, cfg.Policy.CacheTTL), nil
}

// buildPublisher sends notifications to Kafka when brokers are configured.
// The Redis inbox takes over while the Kafka breaker is open, and is the
// only sink when Kafka is absent. Without either, events stay in memory.
func buildPublisher(cfg config.Server, a *app, log *slog.Logger) notification.Publisher {
	var inbox notification.Publisher
	if a.redis != nil {
		inbox = notification.NewRedisPublisher(a.redis.Client, cfg.Notification.InboxSize)
	}
	if a.producer == nil {
		if inbox != nil {
			return inbox
		}
		log.Warn("no notification transport configured, events kept in memory")
		return notification.NewMemoryPublisher()
	}

	kafka := notification.NewKafkaPublisher(a.producer, cfg.Notification.Topic)
	if inbox == nil {
		return kafka
	}
	return notification.NewGuarded(kafka, inbox, circuit.New("kafka_notifications"), log)
}

func newRouter(cfg config.Server, log *slog.Logger, checks *health.Handler, tokens *token.Service,
	approvals *approvalhandler.Handler, policies *policyhandler.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(metrics.HTTP)

	checks.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.BodyLimit(maxBodyBytes))
		r.Use(middleware.ContentTypeJSON)
		r.Use(middleware.Timeout(cfg.WriteTimeout))
		r.Use(middleware.RequireAuth(tokens, log))
		approvals.Register(r)
		policies.Register(r)
	})
	return r
}

func recordPoolStats(ctx context.Context, client *redisplatform.Client) {
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.RecordPoolStats()
		}
	}
}
