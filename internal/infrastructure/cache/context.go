package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ContextConfig collects the settings of every tier.
type ContextConfig struct {
	Local               MemoryCacheConfig
	Remote              RemoteConfig
	RemoteEnabled       bool
	Orchestrator        OrchestratorConfig
	StatsReportInterval time.Duration
}

// CacheContext owns the process-wide cache state: registry, counters, both
// tiers and the orchestrator. It is built once at startup and handed to every
// consumer; tests build their own for isolation.
type CacheContext struct {
	Registry     *Registry
	Stats        *Stats
	Local        *MemoryCache
	Remote       *RemoteClient
	Orchestrator *Orchestrator

	reportInterval time.Duration
	recorder       Recorder
	logger         *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewCacheContext builds every tier. Nothing touches the network until Start.
func NewCacheContext(cfg ContextConfig, registry *Registry, recorder Recorder, logger *zap.Logger) *CacheContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if registry == nil {
		registry = NewDefaultRegistry()
	}

	stats := NewStats(recorder)
	local := NewMemoryCache(cfg.Local, logger.With(zap.String("component", "local_cache")))

	cc := &CacheContext{
		Registry:       registry,
		Stats:          stats,
		Local:          local,
		reportInterval: cfg.StatsReportInterval,
		recorder:       recorder,
		logger:         logger,
	}

	var remote RemoteTier
	if cfg.RemoteEnabled {
		cc.Remote = NewRemoteClient(cfg.Remote, recorder, logger)
		remote = cc.Remote
	}
	cc.Orchestrator = NewOrchestrator(local, remote, registry, stats, cfg.Orchestrator, logger)
	return cc
}

// Start connects the remote tier and launches the background tasks. A remote
// connect failure is logged and otherwise ignored.
func (cc *CacheContext) Start(ctx context.Context) {
	cc.mu.Lock()
	if cc.started {
		cc.mu.Unlock()
		return
	}
	cc.started = true
	cc.mu.Unlock()

	if cc.Remote != nil {
		_ = cc.Remote.Connect(ctx)
	}
	cc.Local.Start(context.Background())

	if cc.reportInterval > 0 {
		reportCtx, cancel := context.WithCancel(context.Background())
		cc.mu.Lock()
		cc.cancel = cancel
		cc.done = make(chan struct{})
		done := cc.done
		cc.mu.Unlock()
		go cc.report(reportCtx, done)
	}

	cc.logger.Info("Cache context started",
		zap.Bool("remote_enabled", cc.Remote != nil),
		zap.Int64("local_max_bytes", cc.Local.Usage().MaxUsageBytes),
	)
}

// Stop halts the background tasks and disconnects the remote tier.
func (cc *CacheContext) Stop(ctx context.Context) error {
	cc.mu.Lock()
	if !cc.started {
		cc.mu.Unlock()
		return nil
	}
	cc.started = false
	cancel, done := cc.cancel, cc.done
	cc.cancel, cc.done = nil, nil
	cc.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	cc.Local.Stop()

	if cc.Remote != nil {
		if err := cc.Remote.Disconnect(); err != nil {
			return err
		}
	}
	cc.logger.Info("Cache context stopped")
	return nil
}

func (cc *CacheContext) report(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(cc.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cc.reportOnce()
		}
	}
}

func (cc *CacheContext) reportOnce() {
	usage := cc.Local.Usage()
	cc.recorder.RecordLocalUsage(usage)

	for _, st := range cc.Stats.All() {
		cc.logger.Info("Cache statistics",
			zap.String("data_type", st.DataType),
			zap.Int64("hits", st.Hits),
			zap.Int64("misses", st.Misses),
			zap.Int64("sets", st.Sets),
			zap.Int64("deletes", st.Deletes),
			zap.Float64("hit_rate", st.HitRate),
		)
	}
	cc.logger.Info("Local cache usage",
		zap.Int("entries", usage.TotalEntries),
		zap.Int64("usage_bytes", usage.CurrentUsageBytes),
		zap.Float64("usage_pct", usage.UsagePercentage),
	)
}
