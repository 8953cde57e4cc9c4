// Package main is the gateway's composition root: it loads configuration,
// constructs the logger, and wires every internal/ package together into one
// App via an explicit constructor chain (no package-level singleton) so
// every dependency is visible at the call site.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"marketdatagw/internal/admin"
	"marketdatagw/internal/config"
	"marketdatagw/internal/fingerprint"
	"marketdatagw/internal/health"
	"marketdatagw/internal/hotcache"
	"marketdatagw/internal/logging"
	"marketdatagw/internal/mapping"
	"marketdatagw/internal/metrics"
	"marketdatagw/internal/orchestrator"
	"marketdatagw/internal/rulecache"
	"marketdatagw/internal/rulestore"
	"marketdatagw/internal/serializer"
	"marketdatagw/internal/streamcache"
	"marketdatagw/internal/taskqueue"
	"marketdatagw/internal/warmcache"
)

// App holds every wired component and the background goroutines that keep
// them swept and invalidation-coherent.
type App struct {
	Config config.Config
	Log    *zap.Logger

	Codec       serializer.Serializer
	Hot         *hotcache.Cache
	Warm        *warmcache.Cache
	StreamWarm  *warmcache.Cache
	RuleStore   rulestore.Store
	RuleCache   *rulecache.Namespaces
	Orchestrator *orchestrator.Orchestrator
	StreamCache *streamcache.Cache
	Mapping     mapping.Engine
	Metrics     *metrics.Metrics
	TaskQueue   *taskqueue.Limiter
	Admin       *admin.Ops
	Limits      fingerprint.Limits

	checkers []health.Checker

	redisClients []*redis.Client
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

// New wires every component from cfg. It does not start background
// goroutines or verify the Postgres/Redis connections — call Start for that.
func New(cfg config.Config) (*App, error) {
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("gateway: build logger: %w", err)
	}

	codec, err := serializer.New(cfg.SerializerType)
	if err != nil {
		return nil, fmt.Errorf("gateway: build serializer: %w", err)
	}
	if cfg.CompressionThresholdBytes > 0 {
		codec = serializer.CompressingSerializer{Inner: codec, ThresholdBytes: cfg.CompressionThresholdBytes}
	}

	baseClient := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		DB:          cfg.Redis.BaseDB,
		DialTimeout: cfg.Redis.ConnectTimeout,
	})
	streamClient := redis.NewClient(&redis.Options{
		Addr:        fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		DB:          cfg.Redis.StreamDB,
		DialTimeout: cfg.Redis.ConnectTimeout,
	})

	redisCfg := warmcache.Config{
		CommandTimeout:   cfg.Redis.CommandTimeout,
		KeyPrefix:        cfg.Redis.KeyPrefix,
		TLSEnabled:       cfg.Redis.TLSEnabled,
		ScanCount:        cfg.Redis.ScanCount,
		ScanIterationCap: cfg.Redis.ScanIterationCap,
	}
	warm := warmcache.NewFromClient(baseClient, redisCfg)
	streamWarm := warmcache.NewFromClient(streamClient, redisCfg)
	hot := hotcache.New(cfg.HotCacheCapacity)

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(prometheus.NewRegistry())
	}

	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("gateway: connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	}
	store := rulestore.NewGormStore(db, m)
	if err := store.AutoMigrate(); err != nil {
		return nil, fmt.Errorf("gateway: migrate rule store: %w", err)
	}

	ruleCache := rulecache.New(hot, warm, codec, nil, log, cfg.TTLs.Default, cfg.TTLs.SemiStaticBasicInfo, m)

	strategies := map[orchestrator.Strategy]orchestrator.StrategyConfig{
		orchestrator.StrategyStrong: {TTL: cfg.TTLs.RealtimeStockQuote, OriginTimeout: cfg.Origin.Strong},
		orchestrator.StrategyWeak:   {TTL: cfg.TTLs.SemiStaticBasicInfo, OriginTimeout: cfg.Origin.Weak},
	}
	orch := orchestrator.New(hot, warm, codec, strategies, log, m)

	streamCache := streamcache.New(cfg.TTLs.StreamHot, streamWarm, codec, log)

	tq := taskqueue.New(cfg.TaskQueueConcurrency, cfg.Origin.Weak, log)
	adminOps := admin.New(store, ruleCache, log, m)

	limits := fingerprint.Limits{MaxObjectDepth: cfg.Limits.MaxObjectDepth, MaxObjectFields: cfg.Limits.MaxObjectFields}

	app := &App{
		Config:       cfg,
		Log:          log,
		Codec:        codec,
		Hot:          hot,
		Warm:         warm,
		StreamWarm:   streamWarm,
		RuleStore:    store,
		RuleCache:    ruleCache,
		Orchestrator: orch,
		StreamCache:  streamCache,
		Mapping:      mapping.NewEngine(),
		Metrics:      m,
		TaskQueue:    tq,
		Admin:        adminOps,
		Limits:       limits,
		redisClients: []*redis.Client{baseClient, streamClient},
		stopChan:     make(chan struct{}),
	}
	app.checkers = []health.Checker{
		health.CapAtWarning(health.WarmCacheChecker(warm)),
		health.OrchestratorChecker(orch),
		health.RuleStoreChecker(store),
	}
	return app, nil
}

// Health aggregates every registered subsystem checker.
func (a *App) Health(ctx context.Context) health.Report {
	return health.Aggregate(ctx, a.checkers)
}

// Start launches the background goroutines that keep the in-process caches
// swept and the rule cache's cross-instance shadow coherent: a hot-cache
// sweep ticker and a stream-cache sweep ticker, each on its own goroutine,
// and the rule-cache invalidation subscriber's pub/sub receive loop.
func (a *App) Start(ctx context.Context) {
	a.RuleCache.SubscribeInvalidations(ctx)

	a.wg.Add(2)
	go a.runSweep("hot cache", a.stopChan, time.Minute, func() int { return a.Hot.Sweep() })
	go a.runSweep("stream cache", a.stopChan, time.Minute, func() int { return a.StreamCache.Sweep() })
}

func (a *App) runSweep(name string, stop <-chan struct{}, interval time.Duration, sweep func() int) {
	defer a.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := sweep(); n > 0 {
				a.Log.Debug("gateway: sweep removed expired entries", logging.Component(name), zap.Int("removed", n))
				if a.Metrics != nil {
					for i := 0; i < n; i++ {
						a.Metrics.Emit(metrics.Event{Name: "eviction"})
					}
				}
			}
		}
	}
}

// Shutdown stops every background goroutine, waits for them to exit, and
// closes the Redis connections (independent of request workers, so
// shutdown is symmetric: stop the workers, then the connections they use).
func (a *App) Shutdown() error {
	close(a.stopChan)
	a.wg.Wait()
	a.TaskQueue.Shutdown()

	var firstErr error
	for _, c := range a.redisClients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	_ = a.Log.Sync()
	return firstErr
}
