// Package loaders collapses concurrent single-item loads into batched fetches.
package loaders

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	cerrors "storefront-backend/internal/errors"
	"storefront-backend/internal/infrastructure/cache"
)

const (
	defaultBatchWindow  = 2 * time.Millisecond
	defaultMaxBatchSize = 100
	defaultMemoSize     = 1000
	batchKeyPrefix      = "batch:"
)

// BatchFunction is the function that performs the actual batch loading.
// Keys absent from the returned map are reported to their callers as nil.
type BatchFunction[K comparable, V any] func(context.Context, []K) (map[K]V, error)

// Result holds the result of a batch load operation
type Result[V any] struct {
	Value *V
	Error error
}

// pendingRequest represents a pending load request
type pendingRequest[V any] struct {
	ctx    context.Context
	result chan Result[V]
}

// SizeObserver is told the size of every underlying fetch.
type SizeObserver interface {
	ObserveBatchSize(loader string, size int)
}

// BatcherConfig configures one batcher.
type BatcherConfig struct {
	// Name is the data-type tag. It labels metrics and is the cache prefix
	// under which batch results are stored.
	Name         string
	BatchWindow  time.Duration
	MaxBatchSize int
	MemoSize     int
	// MemoTTL defaults to the strategy TTL of Name.
	MemoTTL time.Duration
}

// BatcherMetrics holds metrics for the batcher
type BatcherMetrics struct {
	Name           string  `json:"name"`
	TotalBatches   int64   `json:"totalBatches"`
	TotalFetches   int64   `json:"totalFetches"`
	TotalRequests  int64   `json:"totalRequests"`
	AvgBatchSize   float64 `json:"avgBatchSize"`
	MemoHits       int64   `json:"memoHits"`
	BatchCacheHits int64   `json:"batchCacheHits"`
	MemoEntries    int     `json:"memoEntries"`
}

// Batcher coalesces Load calls issued within one batch window into a single
// call of its BatchFunction.
//
// Within a window identical keys are fetched once and every caller gets its
// own copy of the result. Windows larger than MaxBatchSize are split into
// chunks fetched in parallel. Before fetching, a chunk is looked up in the
// orchestrator under "batch:<sorted,ids>"; fetched chunks are stored there
// with the strategy TTL of the batcher's data type. Individual results are
// also memoized in an expirable LRU, which is the only state Clear and
// ClearAll touch.
type Batcher[K comparable, V any] struct {
	name         string
	batchFn      BatchFunction[K, V]
	batchWindow  time.Duration
	maxBatchSize int

	orch     *cache.Orchestrator
	memo     *expirable.LRU[K, V]
	observer SizeObserver

	// State management
	pending map[K][]*pendingRequest[V]
	mu      sync.Mutex
	timer   *time.Timer

	// Metrics
	metricsMu      sync.RWMutex
	totalBatches   int64
	totalFetches   int64
	totalRequests  int64
	batchSizeSum   int64
	memoHits       int64
	batchCacheHits int64

	logger *zap.Logger
}

// keyed pairs a key with its string form, used for ordering and batch keys.
type keyed[K comparable] struct {
	key K
	id  string
}

// NewBatcher creates a new batcher. orch and observer may be nil.
func NewBatcher[K comparable, V any](
	cfg BatcherConfig,
	batchFn BatchFunction[K, V],
	orch *cache.Orchestrator,
	observer SizeObserver,
	logger *zap.Logger,
) *Batcher[K, V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchWindow <= 0 {
		cfg.BatchWindow = defaultBatchWindow
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.MemoSize <= 0 {
		cfg.MemoSize = defaultMemoSize
	}
	if cfg.MemoTTL <= 0 {
		cfg.MemoTTL = cache.DefaultStrategy.TTL
		if orch != nil {
			cfg.MemoTTL = orch.Registry().Lookup(cfg.Name).TTL
		}
	}

	return &Batcher[K, V]{
		name:         cfg.Name,
		batchFn:      batchFn,
		batchWindow:  cfg.BatchWindow,
		maxBatchSize: cfg.MaxBatchSize,
		orch:         orch,
		memo:         expirable.NewLRU[K, V](cfg.MemoSize, nil, cfg.MemoTTL),
		observer:     observer,
		pending:      make(map[K][]*pendingRequest[V]),
		logger:       logger.With(zap.String("loader", cfg.Name)),
	}
}

// BatchKey composes the cache key of a batch from its ids. The ids are sorted
// so the key does not depend on request order.
func BatchKey(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return batchKeyPrefix + strings.Join(sorted, ",")
}

func validateKey(id string) error {
	if strings.TrimSpace(id) == "" {
		return cerrors.NewInvalidBatchKey(id, "id is empty")
	}
	if strings.Contains(id, ",") {
		return cerrors.NewInvalidBatchKey(id, "id contains a comma")
	}
	return nil
}

// Load loads a single value, batching with other concurrent requests. A nil
// value with a nil error means the key does not exist.
func (b *Batcher[K, V]) Load(ctx context.Context, key K) (*V, error) {
	if err := validateKey(fmt.Sprint(key)); err != nil {
		return nil, err
	}

	if v, ok := b.memo.Get(key); ok {
		b.metricsMu.Lock()
		b.totalRequests++
		b.memoHits++
		b.metricsMu.Unlock()
		return &v, nil
	}

	resultChan := make(chan Result[V], 1)
	req := &pendingRequest[V]{
		ctx:    ctx,
		result: resultChan,
	}

	b.mu.Lock()
	b.pending[key] = append(b.pending[key], req)

	// Check if we should dispatch immediately (batch size limit)
	shouldDispatch := len(b.pending) >= b.maxBatchSize
	if shouldDispatch {
		if b.timer != nil {
			b.timer.Stop()
			b.timer = nil
		}
		go b.dispatch()
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.batchWindow, b.dispatch)
	}
	b.mu.Unlock()

	b.metricsMu.Lock()
	b.totalRequests++
	b.metricsMu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.Value, result.Error
	}
}

// LoadMany loads multiple values. The result is aligned with keys, with nil
// slots for missing keys and for keys whose load failed; the first failure in
// key order is returned alongside.
func (b *Batcher[K, V]) LoadMany(ctx context.Context, keys []K) ([]*V, error) {
	results := make([]*V, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = b.Load(ctx, key)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Prime seeds the memo with a known value.
func (b *Batcher[K, V]) Prime(key K, value V) {
	b.memo.Add(key, value)
}

// Clear drops key from the memo. Batch results already stored in the
// orchestrator are left alone.
func (b *Batcher[K, V]) Clear(key K) {
	b.memo.Remove(key)
}

// ClearAll drops every memoized result. Batch results already stored in the
// orchestrator are left alone.
func (b *Batcher[K, V]) ClearAll() {
	b.memo.Purge()
}

// dispatch executes the batch function for all pending requests
func (b *Batcher[K, V]) dispatch() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.timer = nil
		b.mu.Unlock()
		return
	}
	requests := b.pending
	b.pending = make(map[K][]*pendingRequest[V])
	b.timer = nil
	b.mu.Unlock()

	keys := make([]keyed[K], 0, len(requests))
	for key := range requests {
		keys = append(keys, keyed[K]{key: key, id: fmt.Sprint(key)})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })

	// The fetch serves every waiting caller, so it carries the values of the
	// first live request but not its cancellation.
	ctx := context.Background()
	for _, reqs := range requests {
		if reqs[0].ctx.Err() == nil {
			ctx = context.WithoutCancel(reqs[0].ctx)
			break
		}
	}

	batchID := uuid.NewString()
	b.metricsMu.Lock()
	b.totalBatches++
	b.metricsMu.Unlock()

	b.logger.Debug("Executing batch",
		zap.String("batchId", batchID),
		zap.Int("batchSize", len(keys)),
	)

	var wg sync.WaitGroup
	for start := 0; start < len(keys); start += b.maxBatchSize {
		end := min(start+b.maxBatchSize, len(keys))
		chunk := keys[start:end]
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.loadChunk(ctx, batchID, chunk, requests)
		}()
	}
	wg.Wait()
}

// loadChunk resolves one size-bounded chunk, from the batch cache when
// possible, and delivers the results.
func (b *Batcher[K, V]) loadChunk(ctx context.Context, batchID string, chunk []keyed[K], requests map[K][]*pendingRequest[V]) {
	ids := make([]string, len(chunk))
	for i, k := range chunk {
		ids[i] = k.id
	}
	batchKey := BatchKey(ids)

	var err error
	values := b.cached(ctx, batchKey, len(chunk))
	if values == nil {
		values, err = b.fetch(ctx, batchID, chunk)
		if err == nil {
			b.store(ctx, batchKey, values)
		}
	}

	for i, k := range chunk {
		if err == nil && values[i] != nil {
			b.memo.Add(k.key, *values[i])
		}
		for _, req := range requests[k.key] {
			var result Result[V]
			switch {
			case err != nil:
				result.Error = fmt.Errorf("batch load failed: %w", err)
			case values[i] != nil:
				v := *values[i]
				result.Value = &v
			}
			req.result <- result
		}
	}
}

func (b *Batcher[K, V]) fetch(ctx context.Context, batchID string, chunk []keyed[K]) ([]*V, error) {
	keys := make([]K, len(chunk))
	for i, k := range chunk {
		keys[i] = k.key
	}
	if b.observer != nil {
		b.observer.ObserveBatchSize(b.name, len(keys))
	}

	startTime := time.Now()
	results, err := b.batchFn(ctx, keys)
	duration := time.Since(startTime)

	b.metricsMu.Lock()
	b.totalFetches++
	b.batchSizeSum += int64(len(keys))
	b.metricsMu.Unlock()

	b.logger.Debug("Batch executed",
		zap.String("batchId", batchID),
		zap.Int("requested", len(keys)),
		zap.Int("returned", len(results)),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	if err != nil {
		return nil, err
	}

	values := make([]*V, len(chunk))
	for i, k := range chunk {
		if v, ok := results[k.key]; ok {
			values[i] = &v
		}
	}
	return values, nil
}

// cached returns the stored result list of batchKey, or nil.
func (b *Batcher[K, V]) cached(ctx context.Context, batchKey string, n int) []*V {
	if b.orch == nil {
		return nil
	}
	payload, ok := b.orch.GetRaw(ctx, b.name, batchKey)
	if !ok {
		return nil
	}
	var values []*V
	if err := json.Unmarshal(payload, &values); err != nil || len(values) != n {
		b.logger.Warn("Cached batch unusable, refetching", zap.String("key", batchKey), zap.Error(err))
		return nil
	}
	b.metricsMu.Lock()
	b.batchCacheHits++
	b.metricsMu.Unlock()
	return values
}

func (b *Batcher[K, V]) store(ctx context.Context, batchKey string, values []*V) {
	if b.orch == nil {
		return
	}
	if err := cache.Set(ctx, b.orch, b.name, batchKey, values); err != nil {
		b.logger.Warn("Failed to cache batch", zap.String("key", batchKey), zap.Error(err))
	}
}

// Metrics returns batching metrics
func (b *Batcher[K, V]) Metrics() BatcherMetrics {
	b.metricsMu.RLock()
	defer b.metricsMu.RUnlock()

	avgBatchSize := float64(0)
	if b.totalFetches > 0 {
		avgBatchSize = float64(b.batchSizeSum) / float64(b.totalFetches)
	}

	return BatcherMetrics{
		Name:           b.name,
		TotalBatches:   b.totalBatches,
		TotalFetches:   b.totalFetches,
		TotalRequests:  b.totalRequests,
		AvgBatchSize:   avgBatchSize,
		MemoHits:       b.memoHits,
		BatchCacheHits: b.batchCacheHits,
		MemoEntries:    b.memo.Len(),
	}
}
