package mongobase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCircuitBreaker_StateTransitions(t *testing.T) {
	cb := NewCircuitBreaker(3, 50*time.Millisecond)
	ctx := context.Background()

	if cb.State() != CircuitClosed {
		t.Errorf("Expected initial state closed, got %s", cb.State())
	}

	testErr := errors.New("redis down")
	for i := 0; i < 3; i++ {
		if err := cb.Execute(ctx, func() error { return testErr }); !errors.Is(err, testErr) {
			t.Fatalf("Expected the call's own error, got %v", err)
		}
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("Expected state open after 3 failures, got %s", cb.State())
	}

	err := cb.Execute(ctx, func() error {
		t.Error("Should not execute when circuit is open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("An open circuit should be retryable")
	}

	time.Sleep(100 * time.Millisecond)

	if err := cb.Execute(ctx, func() error { return nil }); err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("Expected state closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(5, time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cb.Execute(ctx, func() error { return errors.New("boom") })
	}
	if cb.Failures() != 3 {
		t.Errorf("Expected 3 failures, got %d", cb.Failures())
	}

	cb.Execute(ctx, func() error { return nil })
	if cb.Failures() != 0 {
		t.Errorf("Expected failures reset to 0 after success, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(2, 30*time.Millisecond).
		WithStateChangeCallback(func(from, to CircuitState) {
			transitions = append(transitions, string(from)+"->"+string(to))
		})
	ctx := context.Background()
	testErr := errors.New("boom")

	cb.Execute(ctx, func() error { return testErr })
	cb.Execute(ctx, func() error { return testErr })
	time.Sleep(60 * time.Millisecond)
	cb.Execute(ctx, func() error { return nil })

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(2, 30*time.Millisecond)
	ctx := context.Background()
	testErr := errors.New("boom")

	cb.Execute(ctx, func() error { return testErr })
	cb.Execute(ctx, func() error { return testErr })
	time.Sleep(60 * time.Millisecond)
	cb.Execute(ctx, func() error { return testErr })

	if cb.State() != CircuitOpen {
		t.Errorf("Expected state open after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := cb.Execute(ctx, func() error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("fn should not run with a cancelled context")
	}
	if cb.State() != CircuitClosed || cb.Failures() != 0 {
		t.Errorf("Cancellation must not count as failure: state=%s failures=%d", cb.State(), cb.Failures())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	cb.Execute(context.Background(), func() error { return errors.New("boom") })
	if cb.State() != CircuitOpen {
		t.Fatal("Circuit should be open")
	}

	cb.Reset()

	if cb.State() != CircuitClosed {
		t.Errorf("Expected state closed after reset, got %s", cb.State())
	}
	if cb.Failures() != 0 {
		t.Errorf("Expected 0 failures after reset, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_ConcurrentAccess(t *testing.T) {
	cb := NewCircuitBreaker(10, 100*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Execute(context.Background(), func() error {
				time.Sleep(5 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	if cb.State() != CircuitClosed {
		t.Errorf("Expected state closed after concurrent successful requests, got %s", cb.State())
	}
}
