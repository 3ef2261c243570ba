package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheContext(t *testing.T) {
	ctx := context.Background()

	t.Run("Should run local-only without a remote tier", func(t *testing.T) {
		cc := NewCacheContext(ContextConfig{}, nil, nil, nil)
		cc.Start(ctx)
		defer cc.Stop(ctx)

		assert.Nil(t, cc.Remote)
		require.NoError(t, Set(ctx, cc.Orchestrator, TypeProducts, "1", "lamp"))
		got, ok, err := Get[string](ctx, cc.Orchestrator, TypeProducts, "1", nil)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "lamp", got)
	})

	t.Run("Should keep separate state per context", func(t *testing.T) {
		a := NewCacheContext(ContextConfig{}, nil, nil, nil)
		b := NewCacheContext(ContextConfig{}, nil, nil, nil)

		require.NoError(t, Set(ctx, a.Orchestrator, TypeProducts, "1", "lamp"))
		_, ok := b.Orchestrator.GetRaw(ctx, TypeProducts, "1")
		assert.False(t, ok)
		assert.Empty(t, b.Stats.Snapshot(TypeProducts).Sets)
	})

	t.Run("Should connect the remote tier on start", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cc := NewCacheContext(ContextConfig{
			Remote:        remoteConfigFor(t, mr),
			RemoteEnabled: true,
		}, nil, nil, nil)
		cc.Start(ctx)
		assert.True(t, cc.Remote.Ready())

		require.NoError(t, cc.Stop(ctx))
		assert.False(t, cc.Remote.Ready())
	})

	t.Run("Should start even when the remote tier is down", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		cfg := remoteConfigFor(t, mr)
		cfg.ConnectTimeout = 50 * time.Millisecond
		mr.Close()

		cc := NewCacheContext(ContextConfig{Remote: cfg, RemoteEnabled: true}, nil, nil, nil)
		cc.Start(ctx)
		defer cc.Stop(ctx)

		assert.False(t, cc.Remote.Ready())
		require.NoError(t, Set(ctx, cc.Orchestrator, TypeUsers, "u1", "ana"))
		_, ok := cc.Orchestrator.GetRaw(ctx, TypeUsers, "u1")
		assert.True(t, ok)
	})

	t.Run("Should report usage periodically", func(t *testing.T) {
		rec := newCountingRecorder()
		cc := NewCacheContext(ContextConfig{StatsReportInterval: 5 * time.Millisecond}, nil, rec, nil)
		cc.Start(ctx)

		assert.Eventually(t, func() bool {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			return len(rec.usage) > 0
		}, time.Second, 5*time.Millisecond)
		require.NoError(t, cc.Stop(ctx))
		require.NoError(t, cc.Stop(ctx))
	})
}
