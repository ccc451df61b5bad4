package remote

import (
	"testing"
	"time"
)

func TestBackoffDelay_DoublesUpToCeiling(t *testing.T) {
	t.Parallel()

	base := 500 * time.Millisecond
	max := 30 * time.Second

	want := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, w := range want {
		attempt := i + 1
		if got := backoffDelay(attempt, base, max); got != w {
			t.Errorf("backoffDelay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestBackoffDelay_LargeAttemptDoesNotOverflow(t *testing.T) {
	t.Parallel()

	got := backoffDelay(10_000, 500*time.Millisecond, 30*time.Second)
	if got != 30*time.Second {
		t.Fatalf("got %v, want ceiling", got)
	}
}

func TestReconnectPolicy_ResetRestartsSequence(t *testing.T) {
	t.Parallel()

	p := reconnectPolicy{baseDelay: 500 * time.Millisecond, maxDelay: 30 * time.Second}

	if got := p.next(); got != 500*time.Millisecond {
		t.Fatalf("first delay = %v", got)
	}
	if got := p.next(); got != 1*time.Second {
		t.Fatalf("second delay = %v", got)
	}

	p.reset()
	if got := p.next(); got != 500*time.Millisecond {
		t.Fatalf("delay after reset = %v, want base", got)
	}
}

func TestHeartbeat_IdleFor(t *testing.T) {
	t.Parallel()

	var hb heartbeat
	start := time.Now()
	hb.touch(start)

	if got := hb.idleFor(start.Add(3 * time.Second)); got != 3*time.Second {
		t.Errorf("idleFor = %v, want 3s", got)
	}

	hb.touch(start.Add(10 * time.Second))
	if got := hb.idleFor(start.Add(12 * time.Second)); got != 2*time.Second {
		t.Errorf("idleFor after touch = %v, want 2s", got)
	}
}
