package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	robfig "github.com/robfig/cron/v3"

	"github.com/yejikwon7/multi-agent/internal/analytics"
	"github.com/yejikwon7/multi-agent/internal/circuitbreaker"
	"github.com/yejikwon7/multi-agent/internal/config"
	"github.com/yejikwon7/multi-agent/internal/cron"
	"github.com/yejikwon7/multi-agent/internal/dispatcher"
	"github.com/yejikwon7/multi-agent/internal/history"
	"github.com/yejikwon7/multi-agent/internal/history/postgres"
	"github.com/yejikwon7/multi-agent/internal/metrics"
	"github.com/yejikwon7/multi-agent/internal/pipeline"
	"github.com/yejikwon7/multi-agent/internal/reconciler"
	"github.com/yejikwon7/multi-agent/internal/registrar"
	"github.com/yejikwon7/multi-agent/internal/registrar/eventbridge"
	"github.com/yejikwon7/multi-agent/internal/scheduler"
	"github.com/yejikwon7/multi-agent/internal/transport/channel"
	"github.com/yejikwon7/multi-agent/internal/trigger"

	_ "github.com/lib/pq"
)

// localRole stands in for the IAM role when alerts are delivered in-process.
const localRole = "local"

// cronParserAdapter adapts internal/cron.Parser to scheduler.CronParser interface.
type cronParserAdapter struct {
	parser *cron.Parser
}

func (a *cronParserAdapter) Parse(expression string, timezone string) (scheduler.CronSchedule, error) {
	sched, err := a.parser.Parse(expression, timezone)
	if err != nil {
		return nil, err
	}
	return &cronScheduleAdapter{sched: sched}, nil
}

// cronScheduleAdapter adapts a robfig schedule to scheduler.CronSchedule interface.
type cronScheduleAdapter struct {
	sched robfig.Schedule
}

func (a *cronScheduleAdapter) Next(after time.Time) time.Time {
	return a.sched.Next(after)
}

// openHistory returns the postgres store when HISTORY_DATABASE_URL is set and
// the JSON file store otherwise. db is nil for the file backend.
func openHistory(ctx context.Context, cfg config.Config) (store history.Store, db *sql.DB, err error) {
	if cfg.HistoryDatabaseURL == "" {
		fs := history.NewFileStore(cfg.HistoryFile)
		log.Printf("concierge: history backend=file path=%s", fs.Path())
		return fs, nil, nil
	}

	db, err = sql.Open("postgres", cfg.HistoryDatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open history database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.HistoryOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("connect history database: %w", err)
	}

	pg := postgres.New(db, cfg.HistoryOpTimeout)
	if err := pg.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	log.Println("concierge: history backend=postgres")
	return pg, db, nil
}

// startMetrics serves promhttp on its own port. Both results are nil when
// metrics are disabled.
func startMetrics(cfg config.Config) (*metrics.PrometheusSink, *http.Server) {
	if !cfg.MetricsEnabled {
		log.Println("concierge: METRICS_ENABLED not set; metrics disabled")
		return nil, nil
	}

	sink := metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
	log.Printf("concierge: metrics enabled (port=%s, path=%s)", cfg.MetricsPort, cfg.MetricsPath)

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	srv := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: mux,
	}
	go func() {
		log.Printf("concierge: metrics server listening on :%s", cfg.MetricsPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("concierge: metrics server error: %v", err)
		}
	}()
	return sink, srv
}

// eventBridgeClient returns nil when registration is disabled or AWS
// configuration cannot be loaded; the registrar then skips with "no client".
func eventBridgeClient(ctx context.Context, cfg config.Config) registrar.Client {
	if !cfg.SchedulerEnabled {
		return nil
	}
	client, err := eventbridge.New(ctx, cfg.AWSRegion)
	if err != nil {
		log.Printf("concierge: eventbridge unavailable, alerts will be skipped: %v", err)
		return nil
	}
	return client
}

func newRegistrar(cfg config.Config, client registrar.Client, sink *metrics.PrometheusSink, rdb *redis.Client) *registrar.Registrar {
	regCfg := registrar.Config{
		Enabled:     cfg.SchedulerEnabled,
		TargetARN:   cfg.TargetARN,
		RoleARN:     cfg.RoleARN,
		Group:       cfg.ScheduleGroup,
		NamePrefix:  cfg.NamePrefix,
		CallTimeout: cfg.SchedulerCallTimeout,
	}
	if cfg.SchedulerBackend == config.BackendLocal {
		regCfg.TargetARN = cfg.NotifyWebhookURL
		regCfg.RoleARN = localRole
	}

	reg := registrar.New(regCfg, client)
	if sink != nil {
		reg = reg.WithMetrics(sink)
	}
	if rdb != nil {
		reg = reg.WithAnalytics(analytics.NewRedisSink(rdb))
	}
	return reg
}

// redisClient returns nil when REDIS_ADDR is not set.
func redisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		log.Println("concierge: REDIS_ADDR not set; analytics disabled")
		return nil
	}
	log.Printf("concierge: analytics enabled (redis=%s)", cfg.RedisAddr)
	return redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
}

func newOrchestrator(cfg config.Config, gen pipeline.Generator, reg pipeline.AlertRegistrar, store history.Store, sink *metrics.PrometheusSink) (*pipeline.Orchestrator, error) {
	loc, err := trigger.LoadLocation(cfg.DepartureTimezone)
	if err != nil {
		return nil, err
	}

	orch := pipeline.New(
		pipeline.Config{
			Recipient:      cfg.RecipientEmail,
			StageTimeout:   cfg.StageTimeout,
			HistoryTimeout: cfg.HistoryOpTimeout,
			HistoryBackend: cfg.HistoryBackend(),
		},
		gen,
		trigger.New(loc),
		reg,
		store,
	)
	if sink != nil {
		orch = orch.WithMetrics(sink)
	}
	return orch, nil
}

// localBackend is the in-process replacement for EventBridge: jobs are held
// in memory, fired by the scheduler onto the bus and posted by the
// dispatcher to NOTIFY_WEBHOOK_URL.
type localBackend struct {
	store      *scheduler.MemoryStore
	bus        *channel.EventBus
	scheduler  *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher
	reconciler *reconciler.Reconciler // nil unless RECONCILE_ENABLED
}

func newLocalBackend(cfg config.Config, sink *metrics.PrometheusSink) *localBackend {
	store := scheduler.NewMemoryStore()

	var busOpts []channel.Option
	if sink != nil {
		busOpts = append(busOpts, channel.WithMetrics(sink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	sched := scheduler.New(
		scheduler.Config{TickInterval: cfg.TickInterval, Retention: cfg.JobRetention},
		store,
		&cronParserAdapter{parser: cron.NewParser()},
		bus,
	)

	disp := dispatcher.New(
		dispatcher.Config{
			URL:          cfg.NotifyWebhookURL,
			Secret:       cfg.NotifyWebhookSecret,
			DrainTimeout: cfg.DispatcherDrainTimeout,
		},
		store,
		dispatcher.NewHTTPWebhookSender(),
	)
	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("concierge: circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	var rec *reconciler.Reconciler
	if cfg.ReconcileEnabled {
		rec = reconciler.New(
			reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			},
			store,
			bus,
		)
	}

	if sink != nil {
		sched = sched.WithMetrics(sink)
		disp = disp.WithMetrics(sink)
		if rec != nil {
			rec = rec.WithMetrics(sink)
		}
	}

	return &localBackend{
		store:      store,
		bus:        bus,
		scheduler:  sched,
		dispatcher: disp,
		reconciler: rec,
	}
}
