package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"finsynth/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLoader records load/unload ordering and can inject failures.
type fakeLoader struct {
	mu       sync.Mutex
	events   []string
	loadErr  error
	unloadMs time.Duration
}

func (l *fakeLoader) Load(_ context.Context, spec config.ModelSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loadErr != nil {
		return l.loadErr
	}
	l.events = append(l.events, "load:"+spec.Name)
	return nil
}

func (l *fakeLoader) Unload(_ context.Context, spec config.ModelSpec) error {
	if l.unloadMs > 0 {
		time.Sleep(l.unloadMs)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "unload:"+spec.Name)
	return nil
}

func (l *fakeLoader) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	copy(out, l.events)
	return out
}

func testManager(loader Loader) *Manager {
	return NewManager(config.LifecycleConfig{MemoryCeilingMB: 8192}, loader)
}

func spec(name string, mb int) config.ModelSpec {
	return config.ModelSpec{Name: name, MemoryMB: mb}
}

func TestSingleResidency(t *testing.T) {
	loader := &fakeLoader{}
	m := testManager(loader)
	ctx := context.Background()

	h1, err := m.Acquire(ctx, spec("stage1", 5200))
	if err != nil {
		t.Fatalf("Acquire stage1: %v", err)
	}

	if _, err := m.TryAcquire(ctx, spec("stage2", 6400)); !errors.Is(err, ErrResourceBusy) {
		t.Fatalf("TryAcquire while resident: got %v, want ErrResourceBusy", err)
	}

	if err := m.Release(ctx, h1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	h2, err := m.TryAcquire(ctx, spec("stage2", 6400))
	if err != nil {
		t.Fatalf("TryAcquire after release: %v", err)
	}
	if err := m.Release(ctx, h2); err != nil {
		t.Fatalf("Release stage2: %v", err)
	}

	want := []string{"load:stage1", "unload:stage1", "load:stage2", "unload:stage2"}
	got := loader.Events()
	if len(got) != len(want) {
		t.Fatalf("loader events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("loader events = %v, want %v", got, want)
		}
	}
}

func TestReleaseIsSynchronous(t *testing.T) {
	loader := &fakeLoader{unloadMs: 50 * time.Millisecond}
	m := testManager(loader)
	ctx := context.Background()

	h, err := m.Acquire(ctx, spec("stage1", 5200))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	// Unload must already be observable when Release returns.
	events := loader.Events()
	if len(events) != 2 || events[1] != "unload:stage1" {
		t.Fatalf("unload not complete at Release return: %v", events)
	}
	if _, resident := m.Resident(); resident {
		t.Error("model still resident after Release")
	}
}

func TestAcquireBlocksUntilRelease(t *testing.T) {
	loader := &fakeLoader{}
	m := testManager(loader)
	ctx := context.Background()

	h, err := m.Acquire(ctx, spec("stage1", 5200))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	acquired := make(chan *Handle)
	go func() {
		h2, err := m.Acquire(ctx, spec("stage2", 6400))
		if err != nil {
			panic(fmt.Sprintf("blocked Acquire failed: %v", err))
		}
		acquired <- h2
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire completed while first handle still resident")
	case <-time.After(30 * time.Millisecond):
	}

	if err := m.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	select {
	case h2 := <-acquired:
		if err := m.Release(ctx, h2); err != nil {
			t.Fatalf("Release stage2: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Acquire did not proceed after Release")
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	loader := &fakeLoader{}
	m := testManager(loader)

	h, err := m.Acquire(context.Background(), spec("stage1", 5200))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() {
		if err := m.Release(context.Background(), h); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, spec("stage2", 6400)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire with expired context: got %v, want deadline exceeded", err)
	}
}

func TestAcquireTimeoutBoundsSlotWait(t *testing.T) {
	loader := &fakeLoader{}
	m := NewManager(config.LifecycleConfig{MemoryCeilingMB: 8192, AcquireTimeout: 20 * time.Millisecond}, loader)

	h, err := m.Acquire(context.Background(), spec("stage1", 5200))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() {
		if err := m.Release(context.Background(), h); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}()

	// No caller deadline: the configured timeout alone must bound the wait.
	if _, err := m.Acquire(context.Background(), spec("stage2", 6400)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire past the configured timeout: got %v, want deadline exceeded", err)
	}
}

func TestInsufficientResource(t *testing.T) {
	m := testManager(&fakeLoader{})

	_, err := m.Acquire(context.Background(), spec("huge", 999999))
	if !errors.Is(err, ErrInsufficientResource) {
		t.Fatalf("oversized model: got %v, want ErrInsufficientResource", err)
	}
	// The slot must not be consumed by the rejected acquire.
	h, err := m.TryAcquire(context.Background(), spec("stage1", 5200))
	if err != nil {
		t.Fatalf("TryAcquire after rejection: %v", err)
	}
	if err := m.Release(context.Background(), h); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestLoadFailureReturnsSlot(t *testing.T) {
	loader := &fakeLoader{loadErr: errors.New("server down")}
	m := testManager(loader)

	if _, err := m.Acquire(context.Background(), spec("stage1", 5200)); err == nil {
		t.Fatal("expected load failure")
	}

	loader.mu.Lock()
	loader.loadErr = nil
	loader.mu.Unlock()

	h, err := m.TryAcquire(context.Background(), spec("stage1", 5200))
	if err != nil {
		t.Fatalf("slot wedged after load failure: %v", err)
	}
	if err := m.Release(context.Background(), h); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestReleaseForeignHandle(t *testing.T) {
	m := testManager(&fakeLoader{})
	ctx := context.Background()

	if err := m.Release(ctx, nil); !errors.Is(err, ErrForeignHandle) {
		t.Errorf("nil handle: got %v, want ErrForeignHandle", err)
	}

	h, err := m.Acquire(ctx, spec("stage1", 5200))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := m.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := m.Release(ctx, h); !errors.Is(err, ErrForeignHandle) {
		t.Errorf("double release: got %v, want ErrForeignHandle", err)
	}
}

func TestTraceNeverOverlapsResidency(t *testing.T) {
	loader := &fakeLoader{}
	m := testManager(loader)
	ctx := context.Background()

	for _, name := range []string{"stage1", "stage2", "stage1"} {
		h, err := m.Acquire(ctx, spec(name, 5000))
		if err != nil {
			t.Fatalf("Acquire %s: %v", name, err)
		}
		if err := m.Release(ctx, h); err != nil {
			t.Fatalf("Release %s: %v", name, err)
		}
	}

	trace := m.Trace()
	resident := false
	for _, tr := range trace {
		switch tr.To {
		case StateResident:
			if resident {
				t.Fatalf("overlapping residency in trace: %+v", trace)
			}
			resident = true
		case StateUnloaded:
			resident = false
		}
	}
	if resident {
		t.Error("trace ends with a model still resident")
	}
}
