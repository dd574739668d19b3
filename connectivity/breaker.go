package connectivity

import (
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	Closed   State = iota // calls pass through
	Open                  // calls rejected without touching the network
	HalfOpen              // probe calls allowed to test recovery
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker fails fast against a backend that keeps refusing commits, so a
// queue drain against a dead endpoint spends milliseconds instead of one
// HTTP timeout per entry. Thread-safe.
type Breaker struct {
	mu        sync.Mutex
	state     State
	failures  int
	successes int

	threshold int           // consecutive failures before opening
	cooldown  time.Duration // open duration before a half-open probe
	recovery  int           // half-open successes before closing

	lastFailure time.Time
	now         func() time.Time
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithThreshold sets the consecutive-failure count that opens the breaker.
func WithThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// WithCooldown sets how long the breaker stays open before allowing a probe.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.cooldown = d }
}

// WithRecovery sets how many half-open successes close the breaker.
func WithRecovery(n int) BreakerOption {
	return func(b *Breaker) { b.recovery = n }
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = fn }
}

// NewBreaker creates a breaker with defaults: 5 failures to open, 30s
// cooldown, 2 successes to close again.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:     Closed,
		threshold: 5,
		cooldown:  30 * time.Second,
		recovery:  2,
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has elapsed moves to half-open and allows the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.step()
	return b.state != Open
}

// Record feeds the outcome of a call back into the breaker; err == nil is a
// success.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		switch b.state {
		case HalfOpen:
			b.successes++
			if b.successes >= b.recovery {
				b.state = Closed
				b.failures = 0
				b.successes = 0
			}
		case Closed:
			b.failures = 0
		}
		return
	}

	b.lastFailure = b.now()
	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = Open
		}
	case HalfOpen:
		// A failed probe goes straight back to open.
		b.state = Open
		b.successes = 0
	}
}

// State returns the current position, applying the cooldown transition.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.step()
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failures = 0
	b.successes = 0
}

// step moves open → half-open once the cooldown has elapsed. Caller holds mu.
func (b *Breaker) step() {
	if b.state == Open && b.now().Sub(b.lastFailure) >= b.cooldown {
		b.state = HalfOpen
		b.successes = 0
	}
}
