package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeRunsStepsInOrderAndReachesRunning(t *testing.T) {
	var order []int
	m := NewManager(WithMaintenanceInterval(0))
	m.OnInit(func(ctx context.Context) error { order = append(order, 1); return nil })
	m.OnInit(func(ctx context.Context) error { order = append(order, 2); return nil })

	require.NoError(t, m.Initialize(context.Background()))
	assert.Equal(t, StateRunning, m.State())
	assert.Equal(t, []int{1, 2}, order)
}

func TestInitializeFailureStopsManager(t *testing.T) {
	m := NewManager(WithMaintenanceInterval(0))
	m.OnInit(func(ctx context.Context) error { return errors.New("boom") })

	err := m.Initialize(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, m.State())
}

func TestShutdownRunsStepsAndReachesStopped(t *testing.T) {
	var ran atomic.Bool
	m := NewManager(WithMaintenanceInterval(0))
	require.NoError(t, m.Initialize(context.Background()))

	m.OnShutdown(func(ctx context.Context) error { ran.Store(true); return nil })
	require.NoError(t, m.Shutdown(context.Background()))

	assert.Equal(t, StateStopped, m.State())
	assert.True(t, ran.Load())
}

func TestShutdownBeforeRunningIsRejected(t *testing.T) {
	m := NewManager()
	err := m.Shutdown(context.Background())
	assert.Error(t, err)
}

func TestMaintenanceLoopInvokesRegisteredTasks(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(WithMaintenanceInterval(20 * time.Millisecond))
	m.OnMaintenance(func(ctx context.Context) { calls.Add(1) })

	require.NoError(t, m.Initialize(context.Background()))
	time.Sleep(70 * time.Millisecond)
	require.NoError(t, m.Shutdown(context.Background()))

	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestDoubleInitializeIsRejected(t *testing.T) {
	m := NewManager(WithMaintenanceInterval(0))
	require.NoError(t, m.Initialize(context.Background()))
	assert.Error(t, m.Initialize(context.Background()))
}
