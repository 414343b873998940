// Package gateway wires the storage gateway's components into one running
// process: the session store (C1), search index (C2), driver registry
// (C3/C4/C5), VFS facade (C7), upload coordinator (C6), and background job
// engine (C8/C9), fronted by metrics and health reporting.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/objectfs/storage-gateway/internal/cache"
	"github.com/objectfs/storage-gateway/internal/circuit"
	"github.com/objectfs/storage-gateway/internal/config"
	"github.com/objectfs/storage-gateway/internal/driver"
	"github.com/objectfs/storage-gateway/internal/driver/s3"
	"github.com/objectfs/storage-gateway/internal/driver/telegram"
	"github.com/objectfs/storage-gateway/internal/fsfacade"
	"github.com/objectfs/storage-gateway/internal/health"
	"github.com/objectfs/storage-gateway/internal/indexjobs"
	"github.com/objectfs/storage-gateway/internal/jobstore"
	"github.com/objectfs/storage-gateway/internal/metrics"
	"github.com/objectfs/storage-gateway/internal/searchindex"
	"github.com/objectfs/storage-gateway/internal/session"
	"github.com/objectfs/storage-gateway/internal/task"
	"github.com/objectfs/storage-gateway/internal/upload"
	gwerrors "github.com/objectfs/storage-gateway/pkg/errors"
	"github.com/objectfs/storage-gateway/pkg/types"
)

// Gateway owns every long-lived component and their start/stop order.
type Gateway struct {
	cfg    *config.Configuration
	logger *slog.Logger

	Sessions    *session.Store
	SearchIndex *searchindex.Store
	Drivers     *driver.Registry
	Breakers    *circuit.Manager
	Facade      *fsfacade.Facade
	Coordinator *upload.Coordinator
	Engine      *task.Engine
	Metrics     *metrics.Collector
	Health      *health.Checker

	started bool
}

// New builds a Gateway from cfg without starting anything. Construction can
// fail if a driver's storage_config is malformed or the task registry and
// catalog disagree about which task types exist (SPEC_FULL.md §4.8's
// startup consistency check).
func New(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{cfg: cfg, logger: logger}

	g.Sessions = session.New()
	g.SearchIndex = searchindex.New()

	entryCache := cache.NewEntryCache(nil)

	if cfg.Network.CircuitBreaker.Enabled {
		g.Breakers = circuit.NewManager(circuit.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.Network.CircuitBreaker.Timeout,
			ReadyToTrip: func(counts circuit.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.Network.CircuitBreaker.FailureThreshold)
			},
		})
	}

	g.Drivers = driver.NewRegistry()
	for _, sc := range cfg.Storage {
		d, err := g.buildDriver(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("storage_config %q: %w", sc.ID, err)
		}
		if g.Breakers != nil {
			d = driver.NewCircuitBreakerDriverFromManager(sc.ID, d, g.Breakers)
		}
		g.Drivers.Register(sc.ID, d)
	}

	g.Facade = fsfacade.New(g.Drivers, g.SearchIndex, entryCache)
	for _, m := range cfg.Mounts {
		g.Facade.RegisterMount(types.Mount{
			ID:              m.ID,
			StorageConfigID: m.StorageConfigID,
			RootPrefix:      m.RootPath,
		})
	}

	g.Coordinator = upload.New(g.Sessions, g.Drivers, &cfg.Multipart, logger)

	registry := task.NewRegistry()
	catalog := task.NewCatalog()
	rebuild := indexjobs.NewRebuildHandler(g.SearchIndex, g.Facade,
		cfg.Index.DirtyBatchSize, cfg.Index.DirtyBatchSizeMin, cfg.Index.DirtyBatchSizeMax, logger)
	applyDirty := indexjobs.NewApplyDirtyHandler(g.SearchIndex, g.Facade,
		cfg.Index.DirtyBatchSize, cfg.Index.DirtyBatchSizeMin, cfg.Index.DirtyBatchSizeMax, logger)
	registry.Register(rebuild)
	registry.Register(applyDirty)
	catalog.Register(types.TaskCatalogEntry{
		TaskType:        indexjobs.RebuildTaskType,
		Visibility:      types.VisibilityOwnerOnly,
		RetryCapability: types.RetryCopyRetry,
		MaxConcurrency:  1,
		DefaultTimeout:  30 * time.Minute,
	})
	catalog.Register(types.TaskCatalogEntry{
		TaskType:        indexjobs.ApplyDirtyTaskType,
		Visibility:      types.VisibilityAdminOnly,
		RetryCapability: types.RetryCopyRetry,
		MaxConcurrency:  1,
		DefaultTimeout:  5 * time.Minute,
	})

	engine, err := task.NewEngine(jobstore.New(), registry, catalog, &cfg.TaskEngine, logger)
	if err != nil {
		return nil, err
	}
	g.Engine = engine

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Global.MetricsPort,
		Namespace: "storagegateway",
		Labels:    cfg.Monitoring.Metrics.CustomLabels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics collector: %w", err)
	}
	g.Metrics = collector

	checker, err := health.NewChecker(&health.Config{
		Enabled:       cfg.Monitoring.HealthChecks.Enabled,
		CheckInterval: cfg.Monitoring.HealthChecks.Interval,
		Timeout:       cfg.Monitoring.HealthChecks.Timeout,
		HTTPEnabled:   true,
		HTTPPort:      cfg.Global.HealthPort,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize health checker: %w", err)
	}
	g.Health = checker
	g.registerHealthChecks()

	return g, nil
}

// buildDriver constructs the types.Driver for one configured storage_config.
func (g *Gateway) buildDriver(ctx context.Context, sc config.StorageConfig) (types.Driver, error) {
	switch sc.Type {
	case "s3":
		if sc.S3 == nil {
			return nil, gwerrors.Validation(gwerrors.ErrCodeInvalidConfig, "storage_config missing s3 settings")
		}
		rootPrefix := ""
		for _, m := range g.cfg.Mounts {
			if m.StorageConfigID == sc.ID {
				rootPrefix = m.RootPath
				break
			}
		}
		s3cfg := s3.DefaultConfig()
		s3cfg.Bucket = sc.S3.Bucket
		s3cfg.Region = sc.S3.Region
		s3cfg.Endpoint = sc.S3.Endpoint
		s3cfg.AccessKeyID = sc.S3.AccessKeyID
		s3cfg.SecretAccessKey = sc.S3.SecretAccessKey
		s3cfg.ForcePathStyle = sc.S3.ForcePathStyle
		if sc.S3.URLTTLSeconds > 0 {
			s3cfg.URLTTL = time.Duration(sc.S3.URLTTLSeconds) * time.Second
		}
		return s3.New(ctx, s3cfg, rootPrefix, g.logger)
	case "telegram":
		if sc.Telegram == nil {
			return nil, gwerrors.Validation(gwerrors.ErrCodeInvalidConfig, "storage_config missing telegram settings")
		}
		tcfg := telegram.DefaultConfig()
		tcfg.BotToken = sc.Telegram.BotToken
		tcfg.ChatID = sc.Telegram.ChatID
		if sc.Telegram.ConcurrencyLimit > 0 {
			tcfg.Concurrency = sc.Telegram.ConcurrencyLimit
		}
		if sc.Telegram.ChunkPollSeconds > 0 {
			tcfg.PollInterval = time.Duration(sc.Telegram.ChunkPollSeconds) * time.Second
		}
		botAPI := telegram.NewHTTPBotAPI(tcfg.BotToken, tcfg.BaseURL, nil)
		return telegram.New(tcfg, sc.ID, botAPI, g.Sessions, g.logger), nil
	default:
		return nil, gwerrors.Validation(gwerrors.ErrCodeInvalidConfig, "unknown storage type: "+sc.Type)
	}
}

// registerHealthChecks wires the driver reachability probes to the real
// driver registry. The cache check always passes: the metadata cache is
// in-process and has nothing to reach.
func (g *Gateway) registerHealthChecks() {
	_ = g.Health.RegisterCheck("ping", "process liveness", health.CategoryCore, health.PriorityCritical, health.PingCheck())

	for _, sc := range g.cfg.Storage {
		id := sc.ID
		_ = g.Health.RegisterCheck("driver:"+id, "storage_config "+id+" reachable",
			health.CategoryStorage, health.PriorityCritical,
			health.StorageCheck(func(ctx context.Context) error {
				d, err := g.Drivers.Get(id)
				if err != nil {
					return err
				}
				_, err = d.Exists(ctx, "/")
				return err
			}))
	}

	_ = g.Health.RegisterCheck("cache", "metadata cache reachable", health.CategoryCache, health.PriorityLow,
		health.CacheCheck(func(ctx context.Context) error { return nil }))

	if g.Breakers != nil {
		_ = g.Health.RegisterCheck("circuit_breakers", "no storage_config breaker is tripped open",
			health.CategoryNetwork, health.PriorityHigh,
			health.StorageCheck(func(ctx context.Context) error { return g.Breakers.HealthCheck() }))
	}
}

// Start brings up the background workers and HTTP listeners. It does not
// block; callers own the process lifetime and call Stop on shutdown.
func (g *Gateway) Start(ctx context.Context) error {
	if g.started {
		return fmt.Errorf("gateway already started")
	}

	g.logger.Info("starting storage gateway")

	if err := g.Metrics.Start(ctx); err != nil {
		return fmt.Errorf("failed to start metrics collector: %w", err)
	}
	if err := g.Health.Start(ctx); err != nil {
		return fmt.Errorf("failed to start health checker: %w", err)
	}

	g.Coordinator.StartReaper(g.cfg.Multipart.SessionExpiry / 4)
	g.Engine.Run(ctx)

	g.started = true
	g.logger.Info("storage gateway started")
	return nil
}

// Stop drains the job engine and tears down the background components in
// reverse start order.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.started {
		return fmt.Errorf("gateway not started")
	}

	g.logger.Info("stopping storage gateway")

	g.Coordinator.StopReaper()
	g.Engine.Stop()

	var lastErr error
	if err := g.Health.Stop(); err != nil {
		g.logger.Warn("error stopping health checker", "error", err)
		lastErr = err
	}
	if err := g.Metrics.Stop(ctx); err != nil {
		g.logger.Warn("error stopping metrics collector", "error", err)
		lastErr = err
	}

	g.started = false
	g.logger.Info("storage gateway stopped")
	return lastErr
}
