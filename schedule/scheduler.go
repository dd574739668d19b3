package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConfigSource loads the recurrence specification from the external
// configuration store. The scheduler never persists config itself.
type ConfigSource interface {
	ReportConfig(ctx context.Context) (Config, error)
}

// Reporter executes the scheduled action: one outbound call carrying the
// trigger source and the fire timestamp.
type Reporter interface {
	TriggerReport(ctx context.Context, source string, firedAt time.Time) error
}

// DefaultMaxTimerDelay mirrors the 32-bit-millisecond ceiling of common
// platform timer implementations (~24.8 days). Delays beyond it are bridged
// rather than armed directly.
const DefaultMaxTimerDelay = time.Duration(1<<31-1) * time.Millisecond

// DefaultBridgeStep is how long a bridge timer sleeps before re-evaluating.
const DefaultBridgeStep = 24 * time.Hour

// TriggerSource is the marker sent with scheduler-initiated reports.
const TriggerSource = "scheduler"

// Status is the read-only introspection result. NextFireTime is recomputed
// live from the current config, never read back from a stored value.
type Status struct {
	Active        bool          `json:"active"`
	NextFireTime  time.Time     `json:"next_fire_time,omitzero"`
	TimeUntilNext time.Duration `json:"time_until_next"`
}

// Scheduler keeps at most one timer armed for the next fire time and
// re-arms after every fire, whether or not the report call succeeded.
type Scheduler struct {
	source   ConfigSource
	reporter Reporter
	logger   *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) *time.Timer
	maxDelay  time.Duration
	bridge    time.Duration

	mu      sync.Mutex
	cfg     Config
	timer   *time.Timer // the single outstanding timer, nil when disarmed
	next    time.Time   // fire time the current timer was computed for
	active  bool
	baseCtx context.Context
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option { return func(s *Scheduler) { s.now = fn } }

// WithTimerFactory replaces time.AfterFunc (for testing).
func WithTimerFactory(fn func(time.Duration, func()) *time.Timer) Option {
	return func(s *Scheduler) { s.afterFunc = fn }
}

// WithMaxTimerDelay overrides the single-timer ceiling.
func WithMaxTimerDelay(d time.Duration) Option { return func(s *Scheduler) { s.maxDelay = d } }

// WithBridgeStep overrides the bridge re-evaluation interval.
func WithBridgeStep(d time.Duration) Option { return func(s *Scheduler) { s.bridge = d } }

// New creates a stopped Scheduler. Call Initialize to load config and arm.
func New(source ConfigSource, reporter Reporter, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:    source,
		reporter:  reporter,
		logger:    slog.Default(),
		now:       time.Now,
		afterFunc: time.AfterFunc,
		maxDelay:  DefaultMaxTimerDelay,
		bridge:    DefaultBridgeStep,
		baseCtx:   context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize loads the recurrence config and, if enabled, arms the first
// timer. A failed load leaves the scheduler inert — it is not retried;
// the caller recovers by calling Initialize again or UpdateConfiguration.
func (s *Scheduler) Initialize(ctx context.Context) error {
	cfg, err := s.source.ReportConfig(ctx)
	if err != nil {
		s.logger.Error("schedule: config load failed, scheduler stays inert", "error", err)
		return fmt.Errorf("schedule: initialize: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx = ctx
	s.cfg = cfg.Normalize()
	if !s.cfg.Enabled {
		s.disarmLocked()
		s.active = false
		s.logger.Info("schedule: reporting disabled")
		return nil
	}
	s.scheduleNextLocked()
	return nil
}

// UpdateConfiguration replaces the held config, disarms the current timer
// and re-arms when the new config is enabled.
func (s *Scheduler) UpdateConfiguration(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.Normalize()
	s.disarmLocked()
	if !s.cfg.Enabled {
		s.active = false
		s.logger.Info("schedule: reporting disabled by update")
		return
	}
	s.scheduleNextLocked()
}

// Status recomputes the next fire time from the live config so the answer
// is always consistent with what the next real fire would be.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	cfg := s.cfg
	active := s.active
	s.mu.Unlock()

	fire, ok := NextFireTime(cfg, s.now())
	if !ok {
		return Status{Active: false}
	}
	return Status{
		Active:        active,
		NextFireTime:  fire,
		TimeUntilNext: fire.Sub(s.now()),
	}
}

// Stop disarms the timer and marks the scheduler inactive. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked()
	s.active = false
}

// timersArmed reports how many timers are currently outstanding. By
// construction it can only ever be 0 or 1; tests assert exactly that.
func (s *Scheduler) timersArmed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		return 1
	}
	return 0
}

// scheduleNextLocked disarms any existing timer and arms one for the next
// fire time. Caller holds mu.
func (s *Scheduler) scheduleNextLocked() {
	s.disarmLocked()

	now := s.now()
	fire, ok := NextFireTime(s.cfg, now)
	if !ok {
		s.active = false
		return
	}

	delay := fire.Sub(now)
	if delay <= 0 {
		// Clock skew or a computation edge: nudge one day forward and try
		// once more; a second non-positive delay skips this arm cycle.
		fire, ok = NextFireTime(s.cfg, now.AddDate(0, 0, 1))
		if ok {
			delay = fire.Sub(now)
		}
		if !ok || delay <= 0 {
			s.logger.Error("schedule: non-positive delay after nudge, skipping arm cycle",
				"fire_time", fire, "delay", delay)
			s.active = false
			return
		}
	}

	if delay > s.maxDelay {
		// Too far out for a single timer: sleep a bridge step and
		// re-evaluate. The bridge never fires the action itself.
		s.timer = s.afterFunc(s.bridge, s.onBridge)
		s.next = fire
		s.active = true
		s.logger.Info("schedule: fire time beyond timer ceiling, bridging",
			"fire_time", fire, "bridge", s.bridge)
		return
	}

	s.timer = s.afterFunc(delay, s.onFire)
	s.next = fire
	s.active = true
	s.logger.Info("schedule: armed", "fire_time", fire, "delay", delay)
}

// disarmLocked clears the outstanding timer, if any. Caller holds mu.
func (s *Scheduler) disarmLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) onBridge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.timer = nil
	s.scheduleNextLocked()
}

func (s *Scheduler) onFire() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	firedFor := s.next
	ctx := s.baseCtx
	s.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := s.reporter.TriggerReport(callCtx, TriggerSource, s.now())
	cancel()
	if err != nil {
		// Logged only: a transient report failure must not stop recurrence.
		s.logger.Error("schedule: report trigger failed", "error", err, "fire_time", firedFor)
	} else {
		s.logger.Info("schedule: report triggered", "fire_time", firedFor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	s.scheduleNextLocked()
}
