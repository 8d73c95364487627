package application

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dstn-dev/autoenroll/internal/domain"
)

// Runner is one registration run in execution form. The orchestrator
// satisfies it; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context) domain.RunResult
	Status() domain.RunStatus
}

// RunnerFactory builds a fresh Runner per run slot.
type RunnerFactory func() Runner

// RunHandle identifies a started run.
type RunHandle string

var ErrRunNotFound = fmt.Errorf("run not found")

type runSlot struct {
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}

	result domain.RunResult
}

// Manager owns run slots: it starts runs up to a concurrency cap, exposes
// their live status, relays cancellation, and hands out terminal results.
type Manager struct {
	factory RunnerFactory
	slots   *semaphore.Weighted
	active  atomic.Int64

	mu   sync.Mutex
	runs map[RunHandle]*runSlot
}

func NewManager(factory RunnerFactory, maxConcurrent int64) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{
		factory: factory,
		slots:   semaphore.NewWeighted(maxConcurrent),
		runs:    make(map[RunHandle]*runSlot),
	}
}

// StartRun acquires a run slot (blocking while the cap is reached) and
// launches a run on it.
func (m *Manager) StartRun(ctx context.Context) (RunHandle, error) {
	if err := m.slots.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire run slot: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	slot := &runSlot{
		runner: m.factory(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	handle := RunHandle(uuid.NewString())

	m.mu.Lock()
	m.runs[handle] = slot
	m.mu.Unlock()

	m.active.Add(1)
	go func() {
		defer func() {
			m.active.Add(-1)
			m.slots.Release(1)
			cancel()
			close(slot.done)
		}()
		slot.result = slot.runner.Run(runCtx)
	}()

	return handle, nil
}

// CancelRun signals the run's context. The run settles to Cancelled within
// one stage boundary.
func (m *Manager) CancelRun(handle RunHandle) error {
	slot, err := m.slot(handle)
	if err != nil {
		return err
	}
	slot.cancel()
	return nil
}

// GetStatus returns the run's current stage and attempt counters.
func (m *Manager) GetStatus(handle RunHandle) (domain.RunStatus, error) {
	slot, err := m.slot(handle)
	if err != nil {
		return domain.RunStatus{}, err
	}
	return slot.runner.Status(), nil
}

// Result blocks until the run completes or ctx is done.
func (m *Manager) Result(ctx context.Context, handle RunHandle) (domain.RunResult, error) {
	slot, err := m.slot(handle)
	if err != nil {
		return domain.RunResult{}, err
	}

	select {
	case <-ctx.Done():
		return domain.RunResult{}, ctx.Err()
	case <-slot.done:
		return slot.result, nil
	}
}

// ActiveRuns reports how many runs are currently executing.
func (m *Manager) ActiveRuns() int64 {
	return m.active.Load()
}

func (m *Manager) slot(handle RunHandle) (*runSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	slot, ok := m.runs[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, handle)
	}
	return slot, nil
}
