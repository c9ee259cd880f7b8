// Package lifecycle implements the Lifecycle Manager: the state machine
// governing startup, steady-state maintenance, and graceful shutdown of
// the tool execution runtime.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"toolrun/internal/runtimeerr"
	"toolrun/internal/telemetry"
	"toolrun/internal/toolrun"
)

// State is one node of the lifecycle state machine.
type State string

const (
	StateUninitialized State = "Uninitialized"
	StateInitializing  State = "Initializing"
	StateRunning       State = "Running"
	StateShuttingDown  State = "ShuttingDown"
	StateStopped       State = "Stopped"
)

// validTransitions enumerates the only state changes Manager permits.
var validTransitions = map[State][]State{
	StateUninitialized: {StateInitializing},
	StateInitializing:  {StateRunning, StateStopped},
	StateRunning:       {StateShuttingDown},
	StateShuttingDown:  {StateStopped},
	StateStopped:       {},
}

// InitStep is one unit of startup work (tool discovery, registry warm-up,
// profile loading). A returned error aborts Initialize.
type InitStep func(ctx context.Context) error

// ShutdownStep is one unit of teardown work (draining running executions,
// disposing the executor, flushing telemetry).
type ShutdownStep func(ctx context.Context) error

// MaintenanceTask runs periodically while the manager is Running.
type MaintenanceTask func(ctx context.Context)

// Manager drives the runtime through Uninitialized -> Initializing ->
// Running -> ShuttingDown -> Stopped, running registered init/shutdown
// steps and periodic maintenance in between. It is grounded on the Result
// Store's own cleanup-ticker idiom (a stoppable background goroutine
// guarded by sync.Once) generalized into a full state machine.
type Manager struct {
	mu    sync.RWMutex
	state State

	initSteps     []InitStep
	shutdownSteps []ShutdownStep
	maintenance   []MaintenanceTask

	maintenanceInterval time.Duration
	initTimeout         time.Duration
	shutdownTimeout     time.Duration

	executor toolrun.Executor
	security toolrun.SecurityManager

	logger *telemetry.Logger

	stopMaintenance chan struct{}
	maintWG         sync.WaitGroup
	stopOnce        sync.Once
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithExecutor attaches the executor whose running executions are
// inspected/disposed during shutdown.
func WithExecutor(e toolrun.Executor) Option {
	return func(m *Manager) { m.executor = e }
}

// WithSecurityManager attaches the collaborator whose ClearOldViolations
// is invoked as periodic maintenance.
func WithSecurityManager(s toolrun.SecurityManager) Option {
	return func(m *Manager) { m.security = s }
}

// WithMaintenanceInterval overrides the default 5-minute maintenance tick.
func WithMaintenanceInterval(d time.Duration) Option {
	return func(m *Manager) { m.maintenanceInterval = d }
}

// WithTimeouts overrides the Initializing/ShuttingDown timeouts.
func WithTimeouts(initTimeout, shutdownTimeout time.Duration) Option {
	return func(m *Manager) {
		m.initTimeout = initTimeout
		m.shutdownTimeout = shutdownTimeout
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager constructs a Manager in StateUninitialized.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		state:               StateUninitialized,
		maintenanceInterval: 5 * time.Minute,
		initTimeout:         30 * time.Second,
		shutdownTimeout:     30 * time.Second,
		logger:              telemetry.Default().WithComponent("lifecycle"),
		stopMaintenance:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnInit registers a startup step, run in registration order during
// Initialize.
func (m *Manager) OnInit(step InitStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initSteps = append(m.initSteps, step)
}

// OnShutdown registers a teardown step, run in registration order during
// Shutdown.
func (m *Manager) OnShutdown(step ShutdownStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownSteps = append(m.shutdownSteps, step)
}

// OnMaintenance registers a periodic task run on every maintenance tick
// while Running.
func (m *Manager) OnMaintenance(task MaintenanceTask) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maintenance = append(m.maintenance, task)
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	allowed := validTransitions[m.state]
	for _, s := range allowed {
		if s == to {
			m.logger.WithField("from", string(m.state)).WithField("to", string(to)).Info("lifecycle transition")
			m.state = to
			return nil
		}
	}
	return runtimeerr.Newf(runtimeerr.CodeInvalidArgument, "invalid lifecycle transition: %s -> %s", m.state, to)
}

// Initialize runs every registered InitStep in order, bounded by
// initTimeout, then transitions to Running and starts the maintenance
// loop. A step failure transitions the manager directly to Stopped and
// returns the error; Initialize is not retryable once failed.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.transition(StateInitializing); err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, m.initTimeout)
	defer cancel()

	m.mu.RLock()
	steps := append([]InitStep(nil), m.initSteps...)
	m.mu.RUnlock()

	for i, step := range steps {
		if err := step(initCtx); err != nil {
			_ = m.transition(StateStopped)
			return runtimeerr.Wrapf(err, runtimeerr.CodeInternal, "init step %d failed", i)
		}
	}

	if err := m.transition(StateRunning); err != nil {
		return err
	}

	m.startMaintenanceLoop()
	return nil
}

func (m *Manager) startMaintenanceLoop() {
	if m.maintenanceInterval <= 0 {
		return
	}
	m.maintWG.Add(1)
	go func() {
		defer m.maintWG.Done()
		ticker := time.NewTicker(m.maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.runMaintenance()
			case <-m.stopMaintenance:
				return
			}
		}
	}()
}

func (m *Manager) runMaintenance() {
	ctx := context.Background()

	if m.security != nil {
		if err := m.security.ClearOldViolations(ctx, time.Now().Add(-24*time.Hour)); err != nil {
			m.logger.WithField("error", err.Error()).Warn("security maintenance failed")
		}
	}

	m.mu.RLock()
	tasks := append([]MaintenanceTask(nil), m.maintenance...)
	m.mu.RUnlock()

	for _, task := range tasks {
		task(ctx)
	}
}

// Shutdown stops the maintenance loop, cancels any running executions via
// the attached executor, and runs every registered ShutdownStep in order,
// bounded by shutdownTimeout. It transitions to Stopped regardless of
// step failures, collecting and returning them joined.
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.transition(StateShuttingDown); err != nil {
		return err
	}

	m.stopOnce.Do(func() { close(m.stopMaintenance) })
	m.maintWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
	defer cancel()

	if m.executor != nil {
		for _, running := range m.executor.RunningExecutions() {
			m.executor.CancelByCorrelationID(running.CorrelationID)
		}
		if d, ok := m.executor.(toolrun.Disposable); ok {
			if err := d.Dispose(); err != nil {
				m.logger.WithField("error", err.Error()).Warn("executor disposal failed")
			}
		}
	}

	m.mu.RLock()
	steps := append([]ShutdownStep(nil), m.shutdownSteps...)
	m.mu.RUnlock()

	var errs []error
	for i, step := range steps {
		if err := step(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown step %d: %w", i, err))
		}
	}

	_ = m.transition(StateStopped)

	if len(errs) > 0 {
		return runtimeerr.Newf(runtimeerr.CodeInternal, "shutdown completed with %d error(s): %v", len(errs), errs)
	}
	return nil
}
