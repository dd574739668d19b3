// Package queue is the durable list of not-yet-committed stock movements.
// Entries are appended when a commit cannot happen immediately and drained
// in enqueue order by the syncer.
//
// Every mutation is a whole-list read-modify-write against the local store;
// there are no partial updates. The queue therefore assumes a single writer
// per process — see the localstore package doc.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vizionmakeit-commits/stockflow/idgen"
	"github.com/vizionmakeit-commits/stockflow/localstore"
	"github.com/vizionmakeit-commits/stockflow/stock"
)

// Blob keys for the two record sets this package owns.
const (
	DefaultKey           = "stockflow.pending_transactions"
	DefaultDeadLetterKey = "stockflow.dead_letters"
)

// PendingTransaction is a queued movement plus its bookkeeping fields.
// The business payload is never edited after enqueue; only Attempts moves,
// and only upward.
type PendingTransaction struct {
	ID        string            `json:"id"`
	CreatedAt int64             `json:"created_at"` // unix milliseconds
	Attempts  int               `json:"attempts"`
	Tx        stock.Transaction `json:"transaction"`
}

// DeadLetter is a transaction dropped at the retry ceiling, kept as a
// durable audit trail instead of being lost outright.
type DeadLetter struct {
	PendingTransaction
	Reason    string `json:"reason"`
	DroppedAt int64  `json:"dropped_at"` // unix milliseconds
}

// Queue owns the pending list and the dead-letter list.
type Queue struct {
	store   localstore.Store
	key     string
	deadKey string
	newID   idgen.Generator
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithKey overrides the pending-list blob key.
func WithKey(k string) Option { return func(q *Queue) { q.key = k } }

// WithDeadLetterKey overrides the dead-letter blob key.
func WithDeadLetterKey(k string) Option { return func(q *Queue) { q.deadKey = k } }

// WithIDGenerator sets the entry id generator.
func WithIDGenerator(gen idgen.Generator) Option { return func(q *Queue) { q.newID = gen } }

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option { return func(q *Queue) { q.now = fn } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(q *Queue) { q.logger = l } }

// New creates a Queue over store. Entry ids default to "txn_<millis>-<rand>"
// so ids sort by creation time and survive rapid successive enqueues.
func New(store localstore.Store, opts ...Option) *Queue {
	q := &Queue{
		store:   store,
		key:     DefaultKey,
		deadKey: DefaultDeadLetterKey,
		newID:   idgen.Prefixed("txn_", idgen.TimeRandom(9)),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends tx with a fresh id, attempts=0 and the current timestamp,
// persists the whole list and returns the id.
func (q *Queue) Enqueue(tx stock.Transaction) (string, error) {
	list, err := q.loadPending()
	if err != nil {
		return "", err
	}
	entry := PendingTransaction{
		ID:        q.newID(),
		CreatedAt: q.now().UnixMilli(),
		Attempts:  0,
		Tx:        tx,
	}
	list = append(list, entry)
	if err := q.savePending(list); err != nil {
		return "", err
	}
	q.logger.Debug("queue: enqueued", "id", entry.ID, "kind", tx.Kind, "pending", len(list))
	return entry.ID, nil
}

// Dequeue removes the entry with the given id; absent ids are a no-op.
func (q *Queue) Dequeue(id string) error {
	list, err := q.loadPending()
	if err != nil {
		return err
	}
	kept := list[:0]
	for _, e := range list {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(list) {
		return nil
	}
	return q.savePending(kept)
}

// IncrementAttempts bumps the attempt counter of the entry with the given id
// and returns the updated count. Absent ids return 0 without error — the
// entry was already dequeued by a competing pass.
func (q *Queue) IncrementAttempts(id string) (int, error) {
	list, err := q.loadPending()
	if err != nil {
		return 0, err
	}
	attempts := 0
	for i := range list {
		if list[i].ID == id {
			list[i].Attempts++
			attempts = list[i].Attempts
			break
		}
	}
	if attempts == 0 {
		return 0, nil
	}
	if err := q.savePending(list); err != nil {
		return 0, err
	}
	return attempts, nil
}

// List returns the pending entries in enqueue order — the sync order.
func (q *Queue) List() ([]PendingTransaction, error) {
	return q.loadPending()
}

// Count returns the number of pending entries.
func (q *Queue) Count() (int, error) {
	list, err := q.loadPending()
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// MoveToDeadLetter removes the entry with the given id from the pending list
// and appends it to the dead-letter list with the drop reason. Absent ids
// are a no-op.
func (q *Queue) MoveToDeadLetter(id, reason string) error {
	list, err := q.loadPending()
	if err != nil {
		return err
	}
	var dropped *PendingTransaction
	kept := list[:0]
	for _, e := range list {
		if e.ID == id {
			e := e
			dropped = &e
			continue
		}
		kept = append(kept, e)
	}
	if dropped == nil {
		return nil
	}

	dead, err := q.loadDead()
	if err != nil {
		return err
	}
	dead = append(dead, DeadLetter{
		PendingTransaction: *dropped,
		Reason:             reason,
		DroppedAt:          q.now().UnixMilli(),
	})
	if err := q.saveDead(dead); err != nil {
		return err
	}
	if err := q.savePending(kept); err != nil {
		return err
	}
	q.logger.Warn("queue: transaction dead-lettered",
		"id", id, "attempts", dropped.Attempts, "reason", reason)
	return nil
}

// DeadLetters returns the dropped entries in drop order.
func (q *Queue) DeadLetters() ([]DeadLetter, error) {
	return q.loadDead()
}

// PurgeDeadLetters clears the dead-letter list.
func (q *Queue) PurgeDeadLetters() error {
	if err := q.store.Remove(q.deadKey); err != nil {
		return fmt.Errorf("queue: purge dead letters: %w", err)
	}
	return nil
}

func (q *Queue) loadPending() ([]PendingTransaction, error) {
	raw, ok, err := q.store.Get(q.key)
	if err != nil {
		return nil, fmt.Errorf("queue: load: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var list []PendingTransaction
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("queue: decode: %w", err)
	}
	return list, nil
}

func (q *Queue) savePending(list []PendingTransaction) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("queue: encode: %w", err)
	}
	if err := q.store.Set(q.key, string(raw)); err != nil {
		return fmt.Errorf("queue: persist: %w", err)
	}
	return nil
}

func (q *Queue) loadDead() ([]DeadLetter, error) {
	raw, ok, err := q.store.Get(q.deadKey)
	if err != nil {
		return nil, fmt.Errorf("queue: load dead letters: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var list []DeadLetter
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, fmt.Errorf("queue: decode dead letters: %w", err)
	}
	return list, nil
}

func (q *Queue) saveDead(list []DeadLetter) error {
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("queue: encode dead letters: %w", err)
	}
	if err := q.store.Set(q.deadKey, string(raw)); err != nil {
		return fmt.Errorf("queue: persist dead letters: %w", err)
	}
	return nil
}
