package circuitbreaker

import (
	"testing"
	"time"
)

func TestTripsOpenAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 1, time.Minute)

	for i := 0; i < 2; i++ {
		cb.RecordFailure()
	}
	if !cb.AllowRequest() {
		t.Fatal("breaker tripped before the threshold")
	}
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
	if cb.AllowRequest() {
		t.Fatal("open breaker must block requests before the timeout")
	}
}

func TestHalfOpenProbeAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	if cb.AllowRequest() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.AllowRequest() {
		t.Fatal("breaker should let a probe through after the timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.GetState())
	}

	// Two probe successes close it
	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.GetState())
	}
}

func TestFailedProbeReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !cb.AllowRequest() {
		t.Fatal("probe expected")
	}
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", cb.GetState())
	}
}

func TestSuccessResetsClosedFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(2, 1, time.Minute)
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Fatal("interleaved successes must keep the breaker closed")
	}
}

func TestStateChangeCallback(t *testing.T) {
	cb := NewCircuitBreaker(1, 1, time.Minute)
	var transitions []State
	cb.SetStateChangeCallback(func(from, to State) {
		transitions = append(transitions, to)
	})
	cb.RecordFailure()
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Fatalf("transitions = %v", transitions)
	}
}
