// Package lifecycle manages which inference backend is resident in the
// bounded memory budget. Residency is modeled as an explicit state machine
// with synchronous release, so the invariant "at most one resident model" is
// structurally enforced rather than left to collector timing.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"finsynth/internal/config"
	"finsynth/internal/logging"
)

var (
	// ErrResourceBusy is returned by TryAcquire while another model is resident.
	ErrResourceBusy = errors.New("another model is resident")

	// ErrInsufficientResource is returned when a model's declared footprint
	// exceeds the memory ceiling. Fatal for the run: the ceiling is a hard
	// platform constraint, retrying cannot change it.
	ErrInsufficientResource = errors.New("model footprint exceeds memory ceiling")

	// ErrForeignHandle is returned by Release for a handle this manager did
	// not issue or has already released.
	ErrForeignHandle = errors.New("handle is not the resident handle")
)

// State is one phase of the residency state machine.
type State string

const (
	StateUnloaded  State = "unloaded"
	StateLoading   State = "loading"
	StateResident  State = "resident"
	StateUnloading State = "unloading"
)

// Loader performs the actual backend load/unload. Load must leave the model
// serving; Unload must not return until the backing memory is reclaimed.
type Loader interface {
	Load(ctx context.Context, spec config.ModelSpec) error
	Unload(ctx context.Context, spec config.ModelSpec) error
}

// Handle represents one resident backend. At most one non-released Handle
// exists per manager at any instant.
type Handle struct {
	Spec     config.ModelSpec
	acquired time.Time
	released bool
}

// Transition is one recorded state change, kept for run auditing and the
// residency-invariant tests.
type Transition struct {
	Model string
	From  State
	To    State
	At    time.Time
}

// Manager owns the residency state. It is the only component that transitions
// model state; everything else just holds a Handle.
type Manager struct {
	cfg    config.LifecycleConfig
	loader Loader

	slot chan struct{} // capacity 1: the single residency slot

	mu      sync.Mutex
	state   State
	current *Handle
	trace   []Transition
}

// NewManager creates a manager over the given loader.
func NewManager(cfg config.LifecycleConfig, loader Loader) *Manager {
	m := &Manager{
		cfg:    cfg,
		loader: loader,
		slot:   make(chan struct{}, 1),
		state:  StateUnloaded,
	}
	m.slot <- struct{}{}
	return m
}

// Acquire loads the requested model, blocking while another handle is
// resident. The wait and the load are bounded by the caller's context and by
// the configured acquire timeout, whichever expires first.
func (m *Manager) Acquire(ctx context.Context, spec config.ModelSpec) (*Handle, error) {
	if err := m.checkFootprint(spec); err != nil {
		return nil, err
	}

	if m.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.AcquireTimeout)
		defer cancel()
	}

	select {
	case <-m.slot:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for residency slot: %w", ctx.Err())
	}
	return m.load(ctx, spec)
}

// TryAcquire is the non-blocking variant: it fails with ErrResourceBusy
// instead of waiting for the slot.
func (m *Manager) TryAcquire(ctx context.Context, spec config.ModelSpec) (*Handle, error) {
	if err := m.checkFootprint(spec); err != nil {
		return nil, err
	}

	select {
	case <-m.slot:
	default:
		return nil, fmt.Errorf("%w: %s", ErrResourceBusy, spec.Name)
	}
	return m.load(ctx, spec)
}

// Release synchronously unloads the handle's backend. The backing memory is
// reclaimed before Release returns: a caller may immediately Acquire a
// different model and observe the freed budget.
func (m *Manager) Release(ctx context.Context, h *Handle) error {
	m.mu.Lock()
	if h == nil || h.released || m.current != h {
		m.mu.Unlock()
		return ErrForeignHandle
	}
	m.transitionLocked(h.Spec.Name, StateUnloading)
	m.mu.Unlock()

	err := m.loader.Unload(ctx, h.Spec)

	m.mu.Lock()
	h.released = true
	m.current = nil
	m.transitionLocked(h.Spec.Name, StateUnloaded)
	m.mu.Unlock()

	m.slot <- struct{}{}

	if err != nil {
		return fmt.Errorf("unload %s: %w", h.Spec.Name, err)
	}
	logging.Get(logging.CategoryLifecycle).Info("model released",
		zap.String("model", h.Spec.Name),
		zap.Duration("resident_for", time.Since(h.acquired)))
	return nil
}

// Resident returns the currently resident model name, if any.
func (m *Manager) Resident() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.Spec.Name, true
}

// Trace returns a copy of the recorded state transitions.
func (m *Manager) Trace() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.trace))
	copy(out, m.trace)
	return out
}

func (m *Manager) checkFootprint(spec config.ModelSpec) error {
	if spec.MemoryMB > m.cfg.MemoryCeilingMB {
		return fmt.Errorf("%w: %s needs %d MB, ceiling is %d MB",
			ErrInsufficientResource, spec.Name, spec.MemoryMB, m.cfg.MemoryCeilingMB)
	}
	return nil
}

// load runs Loading -> Resident while holding the slot. On failure the slot
// is returned so later acquisitions are not wedged.
func (m *Manager) load(ctx context.Context, spec config.ModelSpec) (*Handle, error) {
	log := logging.Get(logging.CategoryLifecycle)

	m.mu.Lock()
	m.transitionLocked(spec.Name, StateLoading)
	m.mu.Unlock()

	log.Info("loading model", zap.String("model", spec.Name), zap.Int("memory_mb", spec.MemoryMB))
	if err := m.loader.Load(ctx, spec); err != nil {
		m.mu.Lock()
		m.transitionLocked(spec.Name, StateUnloaded)
		m.mu.Unlock()
		m.slot <- struct{}{}
		return nil, fmt.Errorf("load %s: %w", spec.Name, err)
	}

	h := &Handle{Spec: spec, acquired: time.Now()}
	m.mu.Lock()
	m.current = h
	m.transitionLocked(spec.Name, StateResident)
	m.mu.Unlock()
	return h, nil
}

// transitionLocked records a state change. Callers hold m.mu.
func (m *Manager) transitionLocked(model string, to State) {
	m.trace = append(m.trace, Transition{Model: model, From: m.state, To: to, At: time.Now()})
	m.state = to
}
