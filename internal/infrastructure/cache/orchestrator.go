package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// RemoteTier is the subset of RemoteClient the orchestrator relies on.
type RemoteTier interface {
	GetWithTTL(ctx context.Context, key string, opts ...Option) ([]byte, time.Duration, bool)
	Set(ctx context.Context, key string, value []byte, opts ...Option) bool
	Del(ctx context.Context, key string, opts ...Option) bool
	Flush(ctx context.Context, pattern string) int
}

// Fetcher loads a value on a full miss. found=false means "no such value":
// nothing is cached and the caller receives a miss.
type Fetcher[T any] func(ctx context.Context) (value T, found bool, err error)

// OrchestratorConfig tunes the multi-tier behaviour.
type OrchestratorConfig struct {
	// Dedupe collapses concurrent fetches of the same key into one call.
	// Without it, concurrent misses each run their fetcher and each write
	// the result.
	Dedupe bool
	// LocalMaxTTL caps the TTL of L1 entries. Zero means the strategy TTL.
	LocalMaxTTL time.Duration
}

// Orchestrator composes the local tier and the remote tier behind one API.
// Lookups go L1 → L2 → fetcher; L2 hits are promoted into L1; writes go
// through both tiers. Counters are kept per data type regardless of which
// tier answered.
type Orchestrator struct {
	local    *MemoryCache
	remote   RemoteTier
	registry *Registry
	stats    *Stats
	codec    *Codec
	cfg      OrchestratorConfig

	group  singleflight.Group
	tracer trace.Tracer
	logger *zap.Logger
}

// NewOrchestrator wires the tiers together. remote may be nil for a
// local-only deployment.
func NewOrchestrator(local *MemoryCache, remote RemoteTier, registry *Registry, stats *Stats, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewDefaultRegistry()
	}
	if stats == nil {
		stats = NewStats(nil)
	}
	return &Orchestrator{
		local:    local,
		remote:   remote,
		registry: registry,
		stats:    stats,
		codec:    NewCodec(),
		cfg:      cfg,
		tracer:   otel.Tracer("storefront-backend/cache"),
		logger:   logger.With(zap.String("component", "cache_orchestrator")),
	}
}

// Registry returns the strategy registry in use.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Local returns the in-process tier.
func (o *Orchestrator) Local() *MemoryCache {
	return o.local
}

func localKey(prefix, key string) string {
	return prefix + ":" + key
}

func (o *Orchestrator) localTTL(ttl time.Duration) time.Duration {
	if o.cfg.LocalMaxTTL > 0 && ttl > o.cfg.LocalMaxTTL {
		return o.cfg.LocalMaxTTL
	}
	return ttl
}

// promotionTTL is the L1 lifetime of a copy promoted from L2: never longer
// than what the remote entry has left. A remote entry without expiry gets the
// strategy TTL.
func (o *Orchestrator) promotionTTL(prefix string, remaining time.Duration) time.Duration {
	ttl := o.registry.Lookup(prefix).TTL
	if remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	return o.localTTL(ttl)
}

// lookup returns the JSON payload of prefix:key from the nearest tier that
// holds a readable copy. Undecodable entries are misses and are left in
// place until they expire.
func (o *Orchestrator) lookup(ctx context.Context, prefix, key string) ([]byte, bool) {
	lk := localKey(prefix, key)
	if data, ok := o.local.Get(lk); ok {
		payload, err := o.codec.Unwrap(data, prefix)
		if err == nil {
			return payload, true
		}
		o.logger.Warn("Local cache entry unreadable", zap.String("key", lk), zap.Error(err))
	}

	if o.remote == nil {
		return nil, false
	}
	data, remaining, ok := o.remote.GetWithTTL(ctx, key, WithPrefix(prefix))
	if !ok {
		return nil, false
	}
	payload, err := o.codec.Unwrap(data, prefix)
	if err != nil {
		o.logger.Warn("Remote cache entry unreadable", zap.String("key", lk), zap.Error(err))
		return nil, false
	}
	if ttl := o.promotionTTL(prefix, remaining); ttl > 0 {
		o.local.Set(lk, data, ttl)
	}
	return payload, true
}

// store writes an encoded envelope through both tiers.
func (o *Orchestrator) store(ctx context.Context, prefix, key string, data []byte, ttl time.Duration) {
	o.local.Set(localKey(prefix, key), data, o.localTTL(ttl))
	if o.remote != nil {
		o.remote.Set(ctx, key, data, WithPrefix(prefix), WithTTL(ttl))
	}
	o.stats.Set(prefix)
}

func (o *Orchestrator) encode(prefix string, value any) ([]byte, error) {
	return o.codec.Encode(prefix, value, o.registry.Lookup(prefix).Compression)
}

// GetRaw returns the JSON payload cached under prefix:key, counting a hit or
// a miss.
func (o *Orchestrator) GetRaw(ctx context.Context, prefix, key string) ([]byte, bool) {
	payload, ok := o.lookup(ctx, prefix, key)
	if ok {
		o.stats.Hit(prefix)
	} else {
		o.stats.Miss(prefix)
	}
	return payload, ok
}

// SetRaw caches an already-serialized JSON payload.
func (o *Orchestrator) SetRaw(ctx context.Context, prefix, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = o.registry.Lookup(prefix).TTL
	}
	data, err := o.codec.Wrap(prefix, payload, o.registry.Lookup(prefix).Compression)
	if err != nil {
		return err
	}
	o.store(ctx, prefix, key, data, ttl)
	return nil
}

// Delete removes prefix:key from both tiers.
func (o *Orchestrator) Delete(ctx context.Context, prefix, key string) {
	o.local.Delete(localKey(prefix, key))
	if o.remote != nil {
		o.remote.Del(ctx, key, WithPrefix(prefix))
	}
	o.stats.Delete(prefix)
}

// InvalidatePattern drops every key under prefix whose raw key contains
// pattern, in L1 immediately and in L2 via a scan. An empty pattern drops the
// whole prefix.
func (o *Orchestrator) InvalidatePattern(ctx context.Context, prefix, pattern string) int {
	n := o.local.DeleteMatching(prefix+":", pattern)
	remotePattern := prefix + ":*"
	if pattern != "" {
		remotePattern = prefix + ":*" + pattern + "*"
	}
	if o.remote != nil {
		n += o.remote.Flush(ctx, remotePattern)
	}
	o.stats.Delete(prefix)
	o.logger.Debug("Invalidated cache pattern",
		zap.String("prefix", prefix),
		zap.String("pattern", pattern),
		zap.Int("removed", n),
	)
	return n
}

// FlushAll clears the local tier and the remote namespace.
func (o *Orchestrator) FlushAll(ctx context.Context) {
	o.local.Clear()
	if o.remote != nil {
		o.remote.Flush(ctx, "")
	}
	o.logger.Info("Flushed all cache tiers")
}

// ShouldRefresh reports whether the local copy of prefix:key has crossed its
// strategy's refresh threshold. Advisory only.
func (o *Orchestrator) ShouldRefresh(prefix, key string) bool {
	left, ok := o.local.Remaining(localKey(prefix, key))
	if !ok {
		return false
	}
	return o.registry.ShouldRefresh(prefix, left)
}

// Stats returns the per-data-type snapshots.
func (o *Orchestrator) Stats() []CacheStats {
	return o.stats.All()
}

// StatsFor returns the snapshot of one data type.
func (o *Orchestrator) StatsFor(prefix string) CacheStats {
	return o.stats.Snapshot(prefix)
}

// ResetStats clears all counters.
func (o *Orchestrator) ResetStats() {
	o.stats.Reset()
}

type fetched[T any] struct {
	value T
	found bool
}

// fetchAndStore runs fetch, optionally de-duplicated per key, and caches a
// found result with ttl (or the strategy TTL).
func fetchAndStore[T any](ctx context.Context, o *Orchestrator, prefix, key string, fetch Fetcher[T], ttl time.Duration) (T, bool, error) {
	run := func() (any, error) {
		ctx, span := o.tracer.Start(ctx, "cache.fetch", trace.WithAttributes(
			attribute.String("cache.prefix", prefix),
			attribute.String("cache.key", key),
		))
		defer span.End()

		value, found, err := fetch(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if found {
			if ttl <= 0 {
				ttl = o.registry.Lookup(prefix).TTL
			}
			data, encErr := o.encode(prefix, value)
			if encErr != nil {
				o.logger.Warn("Fetched value not cacheable", zap.String("key", localKey(prefix, key)), zap.Error(encErr))
			} else {
				o.store(ctx, prefix, key, data, ttl)
			}
		}
		return fetched[T]{value: value, found: found}, nil
	}

	var (
		res any
		err error
	)
	if o.cfg.Dedupe {
		res, err, _ = o.group.Do(localKey(prefix, key), run)
	} else {
		res, err = run()
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	f := res.(fetched[T])
	return f.value, f.found, nil
}

// Get looks prefix:key up through the tiers. On a full miss with a non-nil
// fetch, the fetched value is stored in both tiers with the strategy TTL and
// returned. Fetch errors are returned unchanged; cache trouble never is.
func Get[T any](ctx context.Context, o *Orchestrator, prefix, key string, fetch Fetcher[T]) (T, bool, error) {
	if payload, ok := o.lookup(ctx, prefix, key); ok {
		var v T
		err := json.Unmarshal(payload, &v)
		if err == nil {
			o.stats.Hit(prefix)
			return v, true, nil
		}
		o.logger.Warn("Cached payload does not match requested type",
			zap.String("key", localKey(prefix, key)),
			zap.String("type", fmt.Sprintf("%T", v)),
			zap.Error(err),
		)
	}
	o.stats.Miss(prefix)

	if fetch == nil {
		var zero T
		return zero, false, nil
	}
	return fetchAndStore(ctx, o, prefix, key, fetch, 0)
}

// Set writes value through both tiers with the strategy TTL of prefix.
func Set[T any](ctx context.Context, o *Orchestrator, prefix, key string, value T) error {
	return SetWithTTL(ctx, o, prefix, key, value, 0)
}

// SetWithTTL writes value through both tiers. ttl <= 0 uses the strategy TTL.
// Only encoding failures are reported; a failed remote write is not.
func SetWithTTL[T any](ctx context.Context, o *Orchestrator, prefix, key string, value T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = o.registry.Lookup(prefix).TTL
	}
	data, err := o.encode(prefix, value)
	if err != nil {
		return err
	}
	o.store(ctx, prefix, key, data, ttl)
	return nil
}

// GetOrSet returns the cached value or builds it with factory and caches it
// with ttl (strategy TTL when ttl <= 0).
func GetOrSet[T any](ctx context.Context, o *Orchestrator, prefix, key string, factory func(context.Context) (T, error), ttl time.Duration) (T, error) {
	if payload, ok := o.lookup(ctx, prefix, key); ok {
		var v T
		if err := json.Unmarshal(payload, &v); err == nil {
			o.stats.Hit(prefix)
			return v, nil
		}
	}
	o.stats.Miss(prefix)

	v, _, err := fetchAndStore(ctx, o, prefix, key, func(ctx context.Context) (T, bool, error) {
		v, err := factory(ctx)
		return v, err == nil, err
	}, ttl)
	return v, err
}
