package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	cerrors "storefront-backend/internal/errors"
)

const flushBatchSize = 500

// errNotReady short-circuits operations while the remote tier is down.
var errNotReady = errors.New("remote cache not ready")

// RemoteConfig holds configuration for the shared Redis tier.
type RemoteConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	DB             int
	ConnectTimeout time.Duration
	OpTimeout      time.Duration
	HealthInterval time.Duration
	KeyPrefix      string
	DefaultTTL     time.Duration
}

// Addr returns host:port.
func (c RemoteConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// RemoteStats describes the connection state of the remote tier.
type RemoteStats struct {
	Ready        bool   `json:"ready"`
	Connections  int64  `json:"connections"`
	Failures     int64  `json:"failures"`
	BreakerState string `json:"breakerState"`
}

type opOptions struct {
	prefix string
	ttl    time.Duration
}

// Option adjusts a single remote operation.
type Option func(*opOptions)

// WithPrefix places the key under a data-type prefix inside the base namespace.
func WithPrefix(prefix string) Option {
	return func(o *opOptions) { o.prefix = prefix }
}

// WithTTL overrides the default TTL of a write.
func WithTTL(ttl time.Duration) Option {
	return func(o *opOptions) { o.ttl = ttl }
}

// RemoteClient wraps a go-redis client with a fail-open contract: reads that
// fail for any reason are misses, writes that fail are "not cached". Nothing
// here returns an error for transient trouble except Connect, and callers
// are free to ignore that too.
type RemoteClient struct {
	cfg     RemoteConfig
	mu      sync.RWMutex
	client  *redis.Client
	breaker *gobreaker.CircuitBreaker

	ready       atomic.Bool
	connections atomic.Int64
	failures    atomic.Int64

	stopMonitor context.CancelFunc
	monitorDone chan struct{}

	recorder Recorder
	tracer   trace.Tracer
	logger   *zap.Logger
}

// NewRemoteClient creates a client. No connection is made until Connect.
func NewRemoteClient(cfg RemoteConfig, recorder Recorder, logger *zap.Logger) *RemoteClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = TTLMedium
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "storefront"
	}

	c := &RemoteClient{
		cfg:      cfg,
		recorder: recorder,
		tracer:   otel.Tracer("storefront-backend/cache"),
		logger:   logger.With(zap.String("component", "remote_cache")),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Remote cache circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return c
}

// Connect dials Redis and pings it with exponential backoff bounded by the
// connect timeout. A health monitor keeps running afterwards, so a client
// whose first connect failed becomes ready once Redis is reachable.
func (c *RemoteClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil {
		c.client = redis.NewClient(&redis.Options{
			Addr:         c.cfg.Addr(),
			Username:     c.cfg.Username,
			Password:     c.cfg.Password,
			DB:           c.cfg.DB,
			DialTimeout:  c.cfg.ConnectTimeout,
			ReadTimeout:  c.cfg.OpTimeout,
			WriteTimeout: c.cfg.OpTimeout,
			MaxRetries:   1,
			OnConnect: func(ctx context.Context, cn *redis.Conn) error {
				n := c.connections.Add(1)
				c.logger.Debug("Remote cache connection established", zap.Int64("connections", n))
				return nil
			},
		})
	}
	client := c.client
	c.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = c.cfg.ConnectTimeout

	err := backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}, backoff.WithContext(bo, ctx))

	c.startMonitor()

	if err != nil {
		c.ready.Store(false)
		c.logger.Warn("Remote cache unreachable, continuing without it",
			zap.String("addr", c.cfg.Addr()),
			zap.Error(err),
		)
		return cerrors.Connection(cerrors.CodeRemoteUnavailable, "redis connect failed").
			WithDetails(c.cfg.Addr()).WithCause(err).Build()
	}

	c.ready.Store(true)
	c.logger.Info("Remote cache connected",
		zap.String("addr", c.cfg.Addr()),
		zap.Int("db", c.cfg.DB),
		zap.String("prefix", c.cfg.KeyPrefix),
	)
	return nil
}

func (c *RemoteClient) startMonitor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopMonitor != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.stopMonitor = cancel
	c.monitorDone = make(chan struct{})
	go c.monitor(ctx, c.monitorDone)
}

// monitor pings Redis periodically and flips readiness on transitions.
func (c *RemoteClient) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := c.Ping(ctx)
			wasReady := c.ready.Load()
			switch {
			case err == nil && !wasReady:
				c.ready.Store(true)
				c.logger.Info("Remote cache reconnected", zap.String("addr", c.cfg.Addr()))
			case err != nil && wasReady:
				c.ready.Store(false)
				c.logger.Warn("Remote cache lost, degrading to local tier", zap.Error(err))
			}
		}
	}
}

// Disconnect stops the health monitor and closes the connection pool.
func (c *RemoteClient) Disconnect() error {
	c.mu.Lock()
	stop, done := c.stopMonitor, c.monitorDone
	c.stopMonitor, c.monitorDone = nil, nil
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	c.ready.Store(false)
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	c.logger.Info("Remote cache disconnected")
	return nil
}

// Ready reports whether the last health check succeeded.
func (c *RemoteClient) Ready() bool {
	return c.ready.Load()
}

// Ping checks connectivity directly, bypassing the readiness flag.
func (c *RemoteClient) Ping(ctx context.Context) error {
	client := c.conn()
	if client == nil {
		return cerrors.Connection(cerrors.CodeRemoteUnavailable, "redis client not connected").Build()
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// Stats returns connection statistics.
func (c *RemoteClient) Stats() RemoteStats {
	return RemoteStats{
		Ready:        c.ready.Load(),
		Connections:  c.connections.Load(),
		Failures:     c.failures.Load(),
		BreakerState: c.breaker.State().String(),
	}
}

func (c *RemoteClient) conn() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Key composes basePrefix:[prefix:]rawKey.
func (c *RemoteClient) Key(rawKey string, opts ...Option) string {
	o := c.options(opts)
	return c.namespaced(o.prefix, rawKey)
}

func (c *RemoteClient) namespaced(prefix, rawKey string) string {
	if prefix == "" {
		return c.cfg.KeyPrefix + ":" + rawKey
	}
	return c.cfg.KeyPrefix + ":" + prefix + ":" + rawKey
}

func (c *RemoteClient) options(opts []Option) opOptions {
	o := opOptions{ttl: c.cfg.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = c.cfg.DefaultTTL
	}
	return o
}

// exec runs fn against the live client under the breaker, an op timeout and a
// span. It returns errNotReady without calling fn when the tier is down.
func (c *RemoteClient) exec(ctx context.Context, op, key string, fn func(context.Context, *redis.Client) (any, error)) (any, error) {
	client := c.conn()
	if client == nil || !c.ready.Load() {
		return nil, errNotReady
	}

	ctx, span := c.tracer.Start(ctx, "redis."+op, trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	res, err := c.breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
		defer cancel()
		return fn(opCtx, client)
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.fail(op, key, err)
	}
	return res, err
}

func (c *RemoteClient) fail(op, key string, err error) {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return
	}
	c.failures.Add(1)
	c.recorder.RecordRemoteFailure(op)
	c.logger.Warn("Remote cache operation failed, treating as miss",
		zap.String("operation", op),
		zap.String("key", key),
		zap.Error(err),
	)
}

// Get returns the raw bytes stored under key.
func (c *RemoteClient) Get(ctx context.Context, key string, opts ...Option) ([]byte, bool) {
	o := c.options(opts)
	full := c.namespaced(o.prefix, key)
	res, err := c.exec(ctx, "get", full, func(ctx context.Context, rc *redis.Client) (any, error) {
		return rc.Get(ctx, full).Bytes()
	})
	if err != nil {
		return nil, false
	}
	return res.([]byte), true
}

type valueWithTTL struct {
	data []byte
	ttl  time.Duration
}

// GetWithTTL returns the raw bytes stored under key together with the key's
// remaining lifetime, read in one pipeline. ttl is zero when the key has no
// expiry.
func (c *RemoteClient) GetWithTTL(ctx context.Context, key string, opts ...Option) ([]byte, time.Duration, bool) {
	o := c.options(opts)
	full := c.namespaced(o.prefix, key)
	res, err := c.exec(ctx, "get", full, func(ctx context.Context, rc *redis.Client) (any, error) {
		var (
			get  *redis.StringCmd
			pttl *redis.DurationCmd
		)
		if _, err := rc.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			get = pipe.Get(ctx, full)
			pttl = pipe.PTTL(ctx, full)
			return nil
		}); err != nil {
			return nil, err
		}
		data, err := get.Bytes()
		if err != nil {
			return nil, err
		}
		ttl := pttl.Val()
		if ttl < 0 {
			ttl = 0
		}
		return valueWithTTL{data: data, ttl: ttl}, nil
	})
	if err != nil {
		return nil, 0, false
	}
	v := res.(valueWithTTL)
	return v.data, v.ttl, true
}

// GetJSON decodes the stored JSON value into dst. Malformed payloads are misses.
func (c *RemoteClient) GetJSON(ctx context.Context, key string, dst any, opts ...Option) bool {
	data, ok := c.Get(ctx, key, opts...)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("Remote cache payload could not be decoded, treating as miss",
			zap.String("key", c.Key(key, opts...)),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Set stores value with the option TTL (or the default TTL).
func (c *RemoteClient) Set(ctx context.Context, key string, value []byte, opts ...Option) bool {
	o := c.options(opts)
	full := c.namespaced(o.prefix, key)
	_, err := c.exec(ctx, "set", full, func(ctx context.Context, rc *redis.Client) (any, error) {
		return nil, rc.Set(ctx, full, value, o.ttl).Err()
	})
	return err == nil
}

// SetJSON marshals value as JSON and stores it.
func (c *RemoteClient) SetJSON(ctx context.Context, key string, value any, opts ...Option) bool {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("Remote cache value could not be encoded", zap.String("key", key), zap.Error(err))
		return false
	}
	return c.Set(ctx, key, data, opts...)
}

// Del removes key.
func (c *RemoteClient) Del(ctx context.Context, key string, opts ...Option) bool {
	o := c.options(opts)
	full := c.namespaced(o.prefix, key)
	_, err := c.exec(ctx, "del", full, func(ctx context.Context, rc *redis.Client) (any, error) {
		return rc.Del(ctx, full).Result()
	})
	return err == nil
}

// Exists reports whether key is present. Unknown is reported as false.
func (c *RemoteClient) Exists(ctx context.Context, key string, opts ...Option) bool {
	o := c.options(opts)
	full := c.namespaced(o.prefix, key)
	res, err := c.exec(ctx, "exists", full, func(ctx context.Context, rc *redis.Client) (any, error) {
		return rc.Exists(ctx, full).Result()
	})
	if err != nil {
		return false
	}
	return res.(int64) > 0
}

// MGet returns one slot per key; missing keys and every slot on failure are nil.
func (c *RemoteClient) MGet(ctx context.Context, keys []string, opts ...Option) [][]byte {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out
	}
	o := c.options(opts)
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.namespaced(o.prefix, k)
	}
	res, err := c.exec(ctx, "mget", full[0], func(ctx context.Context, rc *redis.Client) (any, error) {
		return rc.MGet(ctx, full...).Result()
	})
	if err != nil {
		return out
	}
	for i, v := range res.([]interface{}) {
		if s, isStr := v.(string); isStr {
			out[i] = []byte(s)
		}
	}
	return out
}

// MSet writes all entries with the same TTL in one pipeline.
func (c *RemoteClient) MSet(ctx context.Context, entries map[string][]byte, opts ...Option) bool {
	if len(entries) == 0 {
		return true
	}
	o := c.options(opts)
	_, err := c.exec(ctx, "mset", o.prefix, func(ctx context.Context, rc *redis.Client) (any, error) {
		pipe := rc.Pipeline()
		for k, v := range entries {
			pipe.Set(ctx, c.namespaced(o.prefix, k), v, o.ttl)
		}
		_, err := pipe.Exec(ctx)
		return nil, err
	})
	return err == nil
}

// Flush deletes keys in the namespace. An empty pattern clears the whole
// namespace; otherwise pattern is matched below the base prefix, with a
// trailing "*" added when it carries no glob of its own. Keys written while
// the scan runs may survive; their TTL bounds the staleness.
func (c *RemoteClient) Flush(ctx context.Context, pattern string) int {
	match := c.cfg.KeyPrefix + ":*"
	if pattern != "" {
		if !strings.ContainsAny(pattern, "*?[") {
			pattern += "*"
		}
		match = c.cfg.KeyPrefix + ":" + pattern
	}

	res, err := c.exec(ctx, "flush", match, func(ctx context.Context, rc *redis.Client) (any, error) {
		return c.scanAndDelete(ctx, rc, match)
	})
	if err != nil {
		return 0
	}
	deleted := res.(int)
	c.logger.Info("Flushed remote cache keys",
		zap.String("match", match),
		zap.Int("count", deleted),
	)
	return deleted
}

func (c *RemoteClient) scanAndDelete(ctx context.Context, rc *redis.Client, match string) (int, error) {
	// Flush may touch many keys; give it more room than a single op.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 20*c.cfg.OpTimeout)
	defer cancel()

	var (
		cursor  uint64
		pending []string
		deleted int
	)
	for {
		keys, next, err := rc.Scan(ctx, cursor, match, flushBatchSize).Result()
		if err != nil {
			return deleted, err
		}
		pending = append(pending, keys...)
		if len(pending) >= flushBatchSize || (next == 0 && len(pending) > 0) {
			n, err := rc.Del(ctx, pending...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
			pending = pending[:0]
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}
