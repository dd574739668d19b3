// Package cache owns the local snapshot of reference items and stock rows:
// freshness policy, read-through to the network, and fallback when the
// network is gone.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vizionmakeit-commits/stockflow/localstore"
	"github.com/vizionmakeit-commits/stockflow/stock"
)

// FormatVersion tags stored entries. An entry with a different version is
// treated as absent so old snapshots never deserialize into new shapes.
const FormatVersion = 1

// DefaultTTL is the freshness window: entries older than this are never
// served as fresh.
const DefaultTTL = 30 * time.Minute

// DefaultKey is the blob key the snapshot lives under.
const DefaultKey = "stockflow.data_cache"

// ErrNoCachedDataOffline is returned by GetData when the device is offline
// and no snapshot exists. The caller is expected to surface a retry
// affordance; there is no local fallback.
var ErrNoCachedDataOffline = errors.New("cache: offline and no cached data available")

// Entry is the stored snapshot.
type Entry struct {
	Items       []stock.Item     `json:"reference_items"`
	Rows        []stock.StockRow `json:"stock_rows"`
	LastUpdated time.Time        `json:"last_updated"`
	Version     int              `json:"version"`
}

// Data is what GetData hands back to the UI layer.
type Data struct {
	Items     []stock.Item
	Rows      []stock.StockRow
	FromCache bool
}

// Fetcher loads the full current reference and stock sets from the network.
type Fetcher interface {
	FetchReference(ctx context.Context) ([]stock.Item, []stock.StockRow, error)
}

// Manager is the cache owner. No other component touches the cache blob.
type Manager struct {
	store  localstore.Store
	fetch  Fetcher
	online func() bool
	ttl    time.Duration
	key    string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the freshness window.
func WithTTL(d time.Duration) Option { return func(m *Manager) { m.ttl = d } }

// WithKey overrides the blob key (used by tests sharing a store).
func WithKey(k string) Option { return func(m *Manager) { m.key = k } }

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option { return func(m *Manager) { m.now = fn } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// New creates a Manager. online reports the device's current connectivity;
// it is consulted on every read.
func New(store localstore.Store, fetch Fetcher, online func() bool, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		fetch:  fetch,
		online: online,
		ttl:    DefaultTTL,
		key:    DefaultKey,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// GetData returns the reference and stock sets.
//
// Offline: the stored snapshot if one exists (stale or not — it is the only
// data there is), else ErrNoCachedDataOffline. Online: a fresh snapshot is
// served from the cache unless forceRefresh is set; otherwise the network is
// fetched and the cache atomically replaced. A failed fetch falls back to
// any stored snapshot; with no snapshot the fetch error propagates.
func (m *Manager) GetData(ctx context.Context, forceRefresh bool) (Data, error) {
	entry, ok := m.load()

	if !m.online() {
		if ok {
			return Data{Items: entry.Items, Rows: entry.Rows, FromCache: true}, nil
		}
		return Data{}, ErrNoCachedDataOffline
	}

	if !forceRefresh && ok && m.fresh(entry) {
		return Data{Items: entry.Items, Rows: entry.Rows, FromCache: true}, nil
	}

	items, rows, err := m.fetch.FetchReference(ctx)
	if err != nil {
		if ok {
			m.logger.Warn("cache: refresh failed, serving stored snapshot",
				"error", err, "snapshot_age", m.now().Sub(entry.LastUpdated))
			return Data{Items: entry.Items, Rows: entry.Rows, FromCache: true}, nil
		}
		return Data{}, fmt.Errorf("cache: refresh: %w", err)
	}

	m.SetCachedData(items, rows)
	return Data{Items: items, Rows: rows, FromCache: false}, nil
}

// SetCachedData replaces the snapshot, stamped with the current time. On a
// quota failure the existing snapshot is cleared once and the write retried
// a single time; a second failure is logged and swallowed — a full store
// must never fail a read path.
func (m *Manager) SetCachedData(items []stock.Item, rows []stock.StockRow) {
	entry := Entry{
		Items:       items,
		Rows:        rows,
		LastUpdated: m.now(),
		Version:     FormatVersion,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		m.logger.Warn("cache: marshal snapshot failed", "error", err)
		return
	}

	err = m.store.Set(m.key, string(raw))
	var quotaErr *localstore.ErrQuotaExceeded
	if errors.As(err, &quotaErr) {
		m.logger.Warn("cache: store quota exceeded, clearing and retrying once", "error", err)
		if rmErr := m.store.Remove(m.key); rmErr != nil {
			m.logger.Warn("cache: clear before retry failed", "error", rmErr)
		}
		err = m.store.Set(m.key, string(raw))
	}
	if err != nil {
		m.logger.Warn("cache: snapshot write failed", "error", err)
	}
}

// HasCachedData reports whether a non-expired snapshot exists.
func (m *Manager) HasCachedData() bool {
	entry, ok := m.load()
	return ok && m.fresh(entry)
}

// ClearCache unconditionally removes the stored snapshot.
func (m *Manager) ClearCache() {
	if err := m.store.Remove(m.key); err != nil {
		m.logger.Warn("cache: clear failed", "error", err)
	}
}

// load reads and decodes the stored entry. A corrupt or version-mismatched
// blob is deleted and reported as absent.
func (m *Manager) load() (Entry, bool) {
	raw, ok, err := m.store.Get(m.key)
	if err != nil {
		m.logger.Warn("cache: read failed", "error", err)
		return Entry{}, false
	}
	if !ok {
		return Entry{}, false
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Version != FormatVersion {
		m.logger.Warn("cache: discarding unreadable snapshot",
			"error", err, "version", entry.Version)
		m.store.Remove(m.key)
		return Entry{}, false
	}
	return entry, true
}

func (m *Manager) fresh(e Entry) bool {
	return m.now().Sub(e.LastUpdated) < m.ttl
}
