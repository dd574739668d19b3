// Package syncer moves stock transactions from the device to the backend.
// Online it commits directly; offline, or when a commit fails, it parks the
// movement in the durable queue and drains the queue once connectivity
// comes back.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vizionmakeit-commits/stockflow/queue"
	"github.com/vizionmakeit-commits/stockflow/stock"
)

// DefaultMaxAttempts is the per-transaction retry ceiling. A transaction
// that has failed this many drain attempts moves to the dead-letter list.
const DefaultMaxAttempts = 5

// DefaultRetryBackoff is the pause before one more drain pass when a pass
// left failures behind.
const DefaultRetryBackoff = 30 * time.Second

// DefaultSettleDelay is how long to wait after an offline-to-online
// transition before draining, giving the link a moment to stabilise.
const DefaultSettleDelay = 2 * time.Second

// Network exposes the connectivity state the syncer keys off.
// *connectivity.Monitor satisfies it.
type Network interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

// Committer sends one transaction to the backend. *remote.Client satisfies
// it.
type Committer interface {
	CommitTransaction(ctx context.Context, tx stock.Transaction) error
}

// Receipt describes how ProcessTransaction disposed of a movement.
type Receipt struct {
	// Offline is true when the movement was queued instead of committed.
	Offline bool `json:"offline"`
	// QueuedID is the queue bookkeeping id, set only when Offline.
	QueuedID string `json:"queued_id,omitempty"`
}

// Result summarises one drain pass.
type Result struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Syncer owns the submit path and the queue drain. One drain runs at a
// time; a drain requested while another is in flight is a no-op.
type Syncer struct {
	net    Network
	commit Committer
	queue  *queue.Queue
	logger *slog.Logger

	maxAttempts int
	backoff     time.Duration
	settle      time.Duration
	afterFunc   func(time.Duration, func()) *time.Timer

	inFlight   atomic.Bool
	synced     atomic.Int64
	failed     atomic.Int64
	dead       atomic.Int64
	lastSynced atomic.Int64
	lastFailed atomic.Int64

	mu          sync.Mutex
	retryTimer  *time.Timer
	settleTimer *time.Timer
	unsubscribe func()
	closed      bool
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithMaxAttempts sets the per-transaction retry ceiling.
func WithMaxAttempts(n int) Option { return func(s *Syncer) { s.maxAttempts = n } }

// WithRetryBackoff sets the pause before the single post-drain retry pass.
func WithRetryBackoff(d time.Duration) Option { return func(s *Syncer) { s.backoff = d } }

// WithSettleDelay sets the wait between regaining connectivity and draining.
func WithSettleDelay(d time.Duration) Option { return func(s *Syncer) { s.settle = d } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Syncer) { s.logger = l } }

// WithTimerFactory replaces time.AfterFunc (for testing).
func WithTimerFactory(fn func(time.Duration, func()) *time.Timer) Option {
	return func(s *Syncer) { s.afterFunc = fn }
}

// New creates a Syncer. Call Start to react to connectivity transitions.
func New(net Network, commit Committer, q *queue.Queue, opts ...Option) *Syncer {
	s := &Syncer{
		net:         net,
		commit:      commit,
		queue:       q,
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultRetryBackoff,
		settle:      DefaultSettleDelay,
		afterFunc:   time.AfterFunc,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start subscribes to connectivity transitions: when the link comes back,
// a drain is scheduled after the settle delay.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsubscribe != nil || s.closed {
		return
	}
	s.unsubscribe = s.net.Subscribe(func(online bool) {
		if !online {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return
		}
		if s.settleTimer != nil {
			s.settleTimer.Stop()
		}
		s.settleTimer = s.afterFunc(s.settle, func() {
			s.SyncPending(ctx)
		})
	})
}

// Close unsubscribes from the network and stops pending timers. Idempotent.
func (s *Syncer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

// ProcessTransaction submits one movement. Online it tries the backend
// once and falls back to the queue on failure; offline it queues directly.
// The returned error is non-nil only when even queueing failed, in which
// case the movement is lost and the caller must surface that.
func (s *Syncer) ProcessTransaction(ctx context.Context, tx stock.Transaction) (Receipt, error) {
	if s.net.Online() {
		err := s.commit.CommitTransaction(ctx, tx)
		if err == nil {
			s.synced.Add(1)
			return Receipt{}, nil
		}
		s.logger.Warn("syncer: direct commit failed, queueing",
			"kind", tx.Kind, "item", tx.ItemID, "error", err)
	}

	id, err := s.queue.Enqueue(tx)
	if err != nil {
		return Receipt{}, fmt.Errorf("syncer: queue transaction: %w", err)
	}
	s.logger.Info("syncer: transaction queued", "id", id, "kind", tx.Kind, "item", tx.ItemID)
	return Receipt{Offline: true, QueuedID: id}, nil
}

// SyncPending drains the queue once, in FIFO order. If another drain is
// already running it returns a zero Result immediately. Entries that fail
// stay queued with their attempt count bumped; entries at the retry
// ceiling move to the dead-letter list. If any entry failed, one retry
// pass is scheduled after the backoff.
func (s *Syncer) SyncPending(ctx context.Context) (Result, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return Result{}, nil
	}
	defer s.inFlight.Store(false)

	pending, err := s.queue.List()
	if err != nil {
		return Result{}, fmt.Errorf("syncer: load pending: %w", err)
	}
	if len(pending) == 0 {
		return Result{}, nil
	}

	var res Result
	for _, p := range pending {
		if !s.net.Online() {
			s.logger.Info("syncer: connectivity lost mid-drain, stopping")
			break
		}
		if err := s.commit.CommitTransaction(ctx, p.Tx); err != nil {
			attempts, ierr := s.queue.IncrementAttempts(p.ID)
			if ierr != nil {
				s.logger.Error("syncer: attempt bookkeeping failed", "id", p.ID, "error", ierr)
			}
			if attempts >= s.maxAttempts {
				if derr := s.queue.MoveToDeadLetter(p.ID, err.Error()); derr != nil {
					s.logger.Error("syncer: dead-letter move failed", "id", p.ID, "error", derr)
				} else {
					s.dead.Add(1)
					s.logger.Error("syncer: transaction abandoned after retry ceiling",
						"id", p.ID, "attempts", attempts, "error", err)
				}
				continue
			}
			res.Failed++
			s.failed.Add(1)
			s.logger.Warn("syncer: sync failed, kept queued",
				"id", p.ID, "attempts", attempts, "error", err)
			continue
		}
		if err := s.queue.Dequeue(p.ID); err != nil {
			s.logger.Error("syncer: dequeue failed after commit", "id", p.ID, "error", err)
			continue
		}
		res.Synced++
		s.synced.Add(1)
	}

	s.lastSynced.Store(int64(res.Synced))
	s.lastFailed.Store(int64(res.Failed))
	if res.Failed > 0 {
		s.scheduleRetry(ctx)
	}
	s.logger.Info("syncer: drain finished", "synced", res.Synced, "failed", res.Failed)
	return res, nil
}

// scheduleRetry arms one backoff timer for another drain pass. A timer
// already armed is left alone; there is no retry loop beyond this.
func (s *Syncer) scheduleRetry(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.retryTimer != nil {
		return
	}
	s.retryTimer = s.afterFunc(s.backoff, func() {
		s.mu.Lock()
		s.retryTimer = nil
		closed := s.closed
		s.mu.Unlock()
		if closed || !s.net.Online() {
			return
		}
		s.SyncPending(ctx)
	})
}

// Status reports counters and queue depth for the admin surface.
func (s *Syncer) Status() map[string]any {
	depth, err := s.queue.Count()
	if err != nil {
		depth = -1
	}
	return map[string]any{
		"online":       s.net.Online(),
		"pending":      depth,
		"synced":       s.synced.Load(),
		"failed":       s.failed.Load(),
		"dead_letters": s.dead.Load(),
		"last_drain": map[string]int64{
			"synced": s.lastSynced.Load(),
			"failed": s.lastFailed.Load(),
		},
	}
}
