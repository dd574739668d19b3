package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(WithThreshold(3))
	fail := errors.New("boom")

	b.Record(fail)
	b.Record(fail)
	if !b.Allow() {
		t.Fatal("breaker opened below threshold")
	}
	b.Record(fail)
	if b.Allow() {
		t.Fatal("breaker should be open after 3 failures")
	}
	if b.State() != Open {
		t.Fatalf("state = %v", b.State())
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(WithThreshold(3))
	fail := errors.New("boom")

	b.Record(fail)
	b.Record(fail)
	b.Record(nil) // resets the streak
	b.Record(fail)
	b.Record(fail)
	if !b.Allow() {
		t.Fatal("non-consecutive failures should not open the breaker")
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(
		WithThreshold(1),
		WithCooldown(30*time.Second),
		WithRecovery(2),
		WithBreakerClock(func() time.Time { return now }),
	)
	fail := errors.New("boom")

	b.Record(fail)
	if b.Allow() {
		t.Fatal("should be open")
	}

	// Cooldown elapses → half-open probe allowed.
	now = now.Add(31 * time.Second)
	if !b.Allow() {
		t.Fatal("cooldown elapsed, probe should be allowed")
	}
	if b.State() != HalfOpen {
		t.Fatalf("state = %v, want half-open", b.State())
	}

	// One success is not enough; two close it.
	b.Record(nil)
	if b.State() != HalfOpen {
		t.Fatalf("state after 1 success = %v", b.State())
	}
	b.Record(nil)
	if b.State() != Closed {
		t.Fatalf("state after 2 successes = %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(
		WithThreshold(1),
		WithCooldown(time.Second),
		WithBreakerClock(func() time.Time { return now }),
	)
	fail := errors.New("boom")

	b.Record(fail)
	now = now.Add(2 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("state = %v", b.State())
	}
	b.Record(fail)
	if b.State() != Open {
		t.Fatalf("failed probe should reopen, state = %v", b.State())
	}
	// And the cooldown restarts from the probe failure.
	if b.Allow() {
		t.Fatal("reopened breaker should reject immediately")
	}
}

// flipProber reports the reachability sequence it was given, then repeats
// the last value.
type flipProber struct {
	mu   sync.Mutex
	seq  []bool
	idx  int
	seen chan struct{}
}

func (p *flipProber) Health(context.Context) error {
	p.mu.Lock()
	up := p.seq[p.idx]
	if p.idx < len(p.seq)-1 {
		p.idx++
	}
	p.mu.Unlock()
	if p.seen != nil {
		select {
		case p.seen <- struct{}{}:
		default:
		}
	}
	if up {
		return nil
	}
	return errors.New("unreachable")
}

func TestMonitorTransitions(t *testing.T) {
	probe := &flipProber{seq: []bool{true, false, true}, seen: make(chan struct{}, 16)}
	m := NewMonitor(probe, WithInterval(5*time.Millisecond))

	var mu sync.Mutex
	var transitions []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		transitions = append(transitions, online)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Start(ctx)

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(transitions)
		mu.Unlock()
		if n >= 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("saw %d transitions, want 3", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	got := append([]bool(nil), transitions[:3]...)
	mu.Unlock()
	want := []bool{true, false, true}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", got, want)
		}
	}
	if !m.Online() {
		t.Fatal("monitor should be online after last probe")
	}
}

func TestMonitorUnsubscribe(t *testing.T) {
	probe := &flipProber{seq: []bool{true}}
	m := NewMonitor(probe, WithInterval(time.Hour))

	calls := 0
	cancelSub := m.Subscribe(func(bool) { calls++ })
	cancelSub()

	// Drive a transition directly; the cancelled subscriber stays silent.
	m.setOnline(true)
	if calls != 0 {
		t.Fatalf("cancelled subscriber ran %d times", calls)
	}
}

func TestMonitorStartsOffline(t *testing.T) {
	m := NewMonitor(&flipProber{seq: []bool{true}})
	if m.Online() {
		t.Fatal("monitor must start offline until the first probe")
	}
}

func TestMonitorNoCallbackWithoutChange(t *testing.T) {
	m := NewMonitor(&flipProber{seq: []bool{true}})
	calls := 0
	m.Subscribe(func(bool) { calls++ })

	m.setOnline(true)
	m.setOnline(true) // no change, no callback
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
