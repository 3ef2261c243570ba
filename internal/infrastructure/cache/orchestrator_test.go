package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newLocalOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	local := NewMemoryCache(MemoryCacheConfig{MaxBytes: 1 << 20}, nil)
	return NewOrchestrator(local, nil, NewDefaultRegistry(), NewStats(nil), cfg, nil)
}

func newTieredOrchestrator(t *testing.T) (*Orchestrator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	remote := NewRemoteClient(remoteConfigFor(t, mr), nil, nil)
	require.NoError(t, remote.Connect(context.Background()))
	t.Cleanup(func() { _ = remote.Disconnect() })

	local := NewMemoryCache(MemoryCacheConfig{MaxBytes: 1 << 20}, nil)
	return NewOrchestrator(local, remote, NewDefaultRegistry(), NewStats(nil), OrchestratorConfig{Dedupe: true}, nil), mr
}

func TestOrchestratorRoundTrip(t *testing.T) {
	ctx := context.Background()
	o, mr := newTieredOrchestrator(t)

	t.Run("Should return what was set", func(t *testing.T) {
		require.NoError(t, Set(ctx, o, TypeProducts, "42", product{ID: "42", Name: "Widget"}))

		got, ok, err := Get[product](ctx, o, TypeProducts, "42", nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Widget", got.Name)
		assert.True(t, mr.Exists("test:products:42"))
		assert.Equal(t, TTLMedium, mr.TTL("test:products:42"))
	})

	t.Run("Should drop invalidated entries from both tiers", func(t *testing.T) {
		o.InvalidatePattern(ctx, TypeProducts, "42")

		_, ok, err := Get[product](ctx, o, TypeProducts, "42", nil)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.False(t, mr.Exists("test:products:42"))
	})

	t.Run("Should promote remote hits into the local tier", func(t *testing.T) {
		require.NoError(t, Set(ctx, o, TypeCategories, "shoes", []string{"boots", "sandals"}))
		o.Local().Clear()

		got, ok, err := Get[[]string](ctx, o, TypeCategories, "shoes", nil)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []string{"boots", "sandals"}, got)

		_, inLocal := o.Local().Get("categories:shoes")
		assert.True(t, inLocal)
	})

	t.Run("Should honour an explicit TTL", func(t *testing.T) {
		require.NoError(t, SetWithTTL(ctx, o, TypeProducts, "7", product{ID: "7"}, time.Minute))
		assert.Equal(t, time.Minute, mr.TTL("test:products:7"))
	})

	t.Run("Should delete from both tiers", func(t *testing.T) {
		o.Delete(ctx, TypeProducts, "7")
		_, ok := o.GetRaw(ctx, TypeProducts, "7")
		assert.False(t, ok)
		assert.False(t, mr.Exists("test:products:7"))
	})

	t.Run("Should round-trip raw payloads", func(t *testing.T) {
		require.NoError(t, o.SetRaw(ctx, TypeSearch, "q=boots", []byte(`[1,2,3]`), 0))
		payload, ok := o.GetRaw(ctx, TypeSearch, "q=boots")
		require.True(t, ok)
		assert.JSONEq(t, `[1,2,3]`, string(payload))
	})

	t.Run("Should flush everything", func(t *testing.T) {
		o.FlushAll(ctx)
		assert.Empty(t, mr.Keys())
		assert.Equal(t, 0, o.Local().Usage().TotalEntries)
	})
}

func TestOrchestratorFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("Should fetch once and then serve from cache", func(t *testing.T) {
		o := newLocalOrchestrator(OrchestratorConfig{})
		var calls int
		fetch := func(context.Context) (product, bool, error) {
			calls++
			return product{ID: "1", Name: "Lamp"}, true, nil
		}

		for i := 0; i < 3; i++ {
			got, ok, err := Get(ctx, o, TypeProducts, "1", fetch)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Lamp", got.Name)
		}
		assert.Equal(t, 1, calls)

		snap := o.StatsFor(TypeProducts)
		assert.Equal(t, int64(2), snap.Hits)
		assert.Equal(t, int64(1), snap.Misses)
		assert.Equal(t, int64(1), snap.Sets)
	})

	t.Run("Should not cache a value that was not found", func(t *testing.T) {
		o := newLocalOrchestrator(OrchestratorConfig{})
		var calls int
		fetch := func(context.Context) (product, bool, error) {
			calls++
			return product{}, false, nil
		}

		_, ok, err := Get(ctx, o, TypeProducts, "404", fetch)
		require.NoError(t, err)
		assert.False(t, ok)
		_, _, _ = Get(ctx, o, TypeProducts, "404", fetch)
		assert.Equal(t, 2, calls)
		assert.Equal(t, int64(0), o.StatsFor(TypeProducts).Sets)
	})

	t.Run("Should propagate fetch errors and cache nothing", func(t *testing.T) {
		o := newLocalOrchestrator(OrchestratorConfig{})
		boom := errors.New("db down")

		_, _, err := Get(ctx, o, TypeProducts, "1", func(context.Context) (product, bool, error) {
			return product{}, false, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, o.Local().Usage().TotalEntries)
	})

	t.Run("Should build with the factory on GetOrSet", func(t *testing.T) {
		o := newLocalOrchestrator(OrchestratorConfig{})
		var calls int
		factory := func(context.Context) (int, error) {
			calls++
			return 99, nil
		}

		v, err := GetOrSet(ctx, o, "counters", "answer", factory, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 99, v)
		v, err = GetOrSet(ctx, o, "counters", "answer", factory, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, 99, v)
		assert.Equal(t, 1, calls)

		left, ok := o.Local().Remaining("counters:answer")
		require.True(t, ok)
		assert.LessOrEqual(t, left, time.Minute)
	})

	t.Run("Should collapse concurrent fetches of one key", func(t *testing.T) {
		o := newLocalOrchestrator(OrchestratorConfig{Dedupe: true})
		var calls atomic.Int32
		release := make(chan struct{})
		fetch := func(context.Context) (product, bool, error) {
			calls.Add(1)
			<-release
			return product{ID: "5", Name: "Chair"}, true, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, ok, err := Get(ctx, o, TypeProducts, "5", fetch)
				assert.NoError(t, err)
				assert.True(t, ok)
				assert.Equal(t, "Chair", got.Name)
			}()
		}
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestOrchestratorStats(t *testing.T) {
	ctx := context.Background()
	o := newLocalOrchestrator(OrchestratorConfig{})
	const misses, hits = 4, 6

	for i := 0; i < misses; i++ {
		_, ok := o.GetRaw(ctx, TypeReviews, "r1")
		require.False(t, ok)
	}
	require.NoError(t, Set(ctx, o, TypeReviews, "r1", "great"))
	for i := 0; i < hits; i++ {
		_, ok, _ := Get[string](ctx, o, TypeReviews, "r1", nil)
		require.True(t, ok)
	}

	snap := o.StatsFor(TypeReviews)
	assert.InDelta(t, float64(hits)/float64(misses+hits), snap.HitRate, 1e-9)
	assert.Equal(t, int64(1), snap.Sets)

	o.ResetStats()
	assert.Empty(t, o.Stats())
}

func TestOrchestratorFailOpen(t *testing.T) {
	ctx := context.Background()
	o, mr := newTieredOrchestrator(t)
	mr.Close()

	assert.NotPanics(t, func() {
		require.NoError(t, Set(ctx, o, TypeProducts, "1", product{ID: "1", Name: "Desk"}))
		got, ok, err := Get[product](ctx, o, TypeProducts, "1", nil)
		require.NoError(t, err)
		assert.True(t, ok, "local tier still serves")
		assert.Equal(t, "Desk", got.Name)

		o.Local().Clear()
		got, ok, err = Get(ctx, o, TypeProducts, "1", func(context.Context) (product, bool, error) {
			return product{ID: "1", Name: "Desk"}, true, nil
		})
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Desk", got.Name)

		o.Delete(ctx, TypeProducts, "1")
		o.InvalidatePattern(ctx, TypeProducts, "")
	})
}

func TestOrchestratorLocalTTLCap(t *testing.T) {
	o := newLocalOrchestrator(OrchestratorConfig{LocalMaxTTL: time.Minute})
	require.NoError(t, Set(context.Background(), o, TypeCategories, "all", []string{"a"}))

	left, ok := o.Local().Remaining("categories:all")
	require.True(t, ok)
	assert.LessOrEqual(t, left, time.Minute)
	assert.False(t, o.ShouldRefresh(TypeCategories, "missing"))
	assert.True(t, o.ShouldRefresh(TypeCategories, "all"), "capped entry is below the refresh threshold")
}

func TestOrchestratorPromotionTTL(t *testing.T) {
	ctx := context.Background()

	t.Run("Should not outlive the remote entry", func(t *testing.T) {
		o, mr := newTieredOrchestrator(t)
		clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		o.Local().now = clock.Now

		require.NoError(t, SetWithTTL(ctx, o, TypePages, "products:short", []int{1, 2}, time.Second))
		o.Local().Clear()

		_, ok, err := Get[[]int](ctx, o, TypePages, "products:short", nil)
		require.NoError(t, err)
		require.True(t, ok)
		left, ok := o.Local().Remaining("pages:products:short")
		require.True(t, ok)
		assert.LessOrEqual(t, left, time.Second)

		mr.FastForward(1500 * time.Millisecond)
		clock.Advance(1500 * time.Millisecond)

		_, ok, err = Get[[]int](ctx, o, TypePages, "products:short", nil)
		require.NoError(t, err)
		assert.False(t, ok, "expired entry must not be served")
	})

	t.Run("Should use the strategy TTL for remote keys without expiry", func(t *testing.T) {
		o, mr := newTieredOrchestrator(t)
		clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		o.Local().now = clock.Now

		data, err := o.codec.Encode(TypeProducts, product{ID: "9"}, false)
		require.NoError(t, err)
		require.NoError(t, mr.Set("test:products:9", string(data)))

		_, ok, err := Get[product](ctx, o, TypeProducts, "9", nil)
		require.NoError(t, err)
		require.True(t, ok)
		left, ok := o.Local().Remaining("products:9")
		require.True(t, ok)
		assert.Equal(t, TTLMedium, left)
	})

	t.Run("Should still apply the local cap", func(t *testing.T) {
		o, _ := newTieredOrchestrator(t)
		o.cfg.LocalMaxTTL = 10 * time.Second
		clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		o.Local().now = clock.Now

		require.NoError(t, SetWithTTL(ctx, o, TypeProducts, "5", product{ID: "5"}, time.Minute))
		o.Local().Clear()

		_, ok, err := Get[product](ctx, o, TypeProducts, "5", nil)
		require.NoError(t, err)
		require.True(t, ok)
		left, ok := o.Local().Remaining("products:5")
		require.True(t, ok)
		assert.Equal(t, 10*time.Second, left)
	})
}

func TestRemoteClientGetWithTTL(t *testing.T) {
	ctx := context.Background()
	c, mr := newConnectedClient(t)

	t.Run("Should return the remaining lifetime", func(t *testing.T) {
		require.True(t, c.Set(ctx, "k", []byte("v"), WithTTL(30*time.Second)))
		mr.FastForward(10 * time.Second)

		data, ttl, ok := c.GetWithTTL(ctx, "k")
		require.True(t, ok)
		assert.Equal(t, []byte("v"), data)
		assert.Equal(t, 20*time.Second, ttl)
	})

	t.Run("Should miss on an absent key", func(t *testing.T) {
		_, _, ok := c.GetWithTTL(ctx, "absent")
		assert.False(t, ok)
	})
}
