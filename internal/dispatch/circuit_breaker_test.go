package dispatch

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 30*time.Second)

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("expected closed circuit to allow attempt %d", i)
		}
		cb.RecordFailure()
	}

	if cb.State() != CircuitOpen {
		t.Fatalf("expected circuit to be open after %d consecutive failures, got %s", 3, cb.State())
	}
	if cb.Allow() {
		t.Fatal("expected open circuit to reject further attempts")
	}
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.Allow()
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected half-open circuit to allow a test request after cooldown")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half_open, got %s", cb.State())
	}
}

func TestCircuitBreakerRecordFailureDuringHalfOpenReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.Allow()
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow() // transitions to half-open, consumes one test slot

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("expected failure during half-open to reopen circuit, got %s", cb.State())
	}
}
