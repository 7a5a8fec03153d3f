package shutdown

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"renderfleet/internal/pkg/logger"
)

func newTestLogger() *logger.Logger {
	var buf bytes.Buffer
	return logger.New(logger.Config{
		Level:  "debug",
		Format: "json",
		Output: &buf,
	})
}

func TestRegister(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	mgr.Register("test", func(ctx context.Context) error {
		return nil
	})

	if len(mgr.handlers) != 1 {
		t.Fatalf("expected 1 handler, got %d", len(mgr.handlers))
	}
	if mgr.handlers[0].Name != "test" {
		t.Errorf("expected handler name 'test', got %s", mgr.handlers[0].Name)
	}
}

func TestShutdownRunsHandlersLIFO(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	var mu sync.Mutex
	var order []string
	add := func(name string) {
		mgr.RegisterSimple(name, func() {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		})
	}
	add("store")
	add("keeper")
	add("release")

	mgr.Shutdown()

	want := []string{"release", "keeper", "store"}
	for i, name := range want {
		if order[i] != name {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

func TestShutdownIdempotent(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	var calls int
	mgr.RegisterSimple("once", func() { calls++ })

	mgr.Shutdown()
	mgr.Shutdown()

	if calls != 1 {
		t.Errorf("expected handler to run once, ran %d times", calls)
	}
}

func TestShutdownContinuesAfterError(t *testing.T) {
	mgr := NewManager(newTestLogger(), 5*time.Second)

	var ran bool
	mgr.RegisterSimple("first", func() { ran = true })
	mgr.Register("failing", func(ctx context.Context) error {
		return errors.New("cleanup failed")
	})

	mgr.Shutdown()

	if !ran {
		t.Error("expected later handlers to run despite earlier failure")
	}
}

func TestDone(t *testing.T) {
	mgr := NewManager(newTestLogger(), time.Second)
	mgr.Shutdown()

	select {
	case <-mgr.Done():
	case <-time.After(time.Second):
		t.Error("expected Done channel to be closed after shutdown")
	}
}
