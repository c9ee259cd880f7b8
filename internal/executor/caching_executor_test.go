package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolrun/internal/cache"
	"toolrun/internal/registry"
	"toolrun/internal/toolrun"
)

func newTestExecutor(t *testing.T) (*CachingExecutor, *int) {
	t.Helper()
	reg := registry.NewInMemoryToolRegistry()
	calls := 0
	require.NoError(t, reg.Register(registry.ToolMetadata{ID: "echo"}, ToolFunc(func(ctx context.Context, params map[string]any) (any, error) {
		calls++
		return params["x"], nil
	})))
	base := NewBaseExecutor(reg)
	ec := cache.NewExecutionCache(cache.NewStore(0, 0), time.Hour)
	return NewCachingExecutor(base, ec), &calls
}

func TestCachingExecutorPassthroughWhenDisabled(t *testing.T) {
	exec, calls := newTestExecutor(t)
	req := toolrun.ExecuteRequest{ToolID: "echo", Params: map[string]any{"x": 1}}
	result, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, *calls)

	_, err = exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, *calls, "without EnableCaching every call reaches the underlying executor")
}

func TestCachingExecutorHitAvoidsSecondCall(t *testing.T) {
	exec, calls := newTestExecutor(t)
	req := toolrun.ExecuteRequest{
		ToolID: "echo",
		Params: map[string]any{"x": 1},
		Context: toolrun.ExecutionContext{
			AdditionalData: map[string]any{"EnableCaching": true},
		},
	}

	first, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.Nil(t, first.Metadata["cache_hit"])

	second, err := exec.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1, *calls, "cache hit must not call the underlying executor again")
	assert.Equal(t, true, second.Metadata["cache_hit"])
	assert.EqualValues(t, 1, second.Metadata["hit_count"])
}

func TestCachingExecutorStatisticsIncludesCacheCounts(t *testing.T) {
	exec, _ := newTestExecutor(t)
	req := toolrun.ExecuteRequest{
		ToolID: "echo",
		Params: map[string]any{"x": 1},
		Context: toolrun.ExecutionContext{
			AdditionalData: map[string]any{"EnableCaching": true},
		},
	}
	_, _ = exec.Execute(context.Background(), req)
	_, _ = exec.Execute(context.Background(), req)

	stats := exec.Statistics()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
}

func TestCachingExecutorDispose(t *testing.T) {
	exec, _ := newTestExecutor(t)
	assert.NoError(t, exec.Dispose())
}
