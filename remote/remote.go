// Package remote is the HTTP client for the central inventory backend. It
// covers the five calls the pipeline needs: committing a movement, pulling
// reference data, reading and saving the report configuration, triggering a
// report, and the health probe the connectivity monitor polls.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vizionmakeit-commits/stockflow/connectivity"
	"github.com/vizionmakeit-commits/stockflow/schedule"
	"github.com/vizionmakeit-commits/stockflow/stock"
)

// ErrStatus is returned when the backend answers with a non-2xx status.
type ErrStatus struct {
	Op   string
	Code int
}

func (e *ErrStatus) Error() string {
	return fmt.Sprintf("remote: %s returned status %d", e.Op, e.Code)
}

// Client talks to the backend over JSON/HTTP. The zero value is not usable;
// use NewClient.
type Client struct {
	base    string
	http    *http.Client
	breaker *connectivity.Breaker
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Default: 15s timeout.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithBreaker guards CommitTransaction with a circuit breaker, so a queue
// drain against a dead backend fails fast instead of timing out per entry.
func WithBreaker(b *connectivity.Breaker) Option { return func(c *Client) { c.breaker = b } }

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient creates a client for the backend at base, e.g.
// "https://inventory.example.com/api".
func NewClient(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("remote: base url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("remote: invalid base url %q: %w", base, err)
	}
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// CommitTransaction sends one movement to the backend. When a breaker is
// configured the call is guarded: an open breaker returns *ErrBreakerOpen
// without touching the network, and every outcome feeds back into it.
func (c *Client) CommitTransaction(ctx context.Context, tx stock.Transaction) error {
	if c.breaker != nil && !c.breaker.Allow() {
		return &connectivity.ErrBreakerOpen{Endpoint: c.base + "/transactions"}
	}
	err := c.post(ctx, "/transactions", tx, nil)
	if c.breaker != nil {
		c.breaker.Record(err)
	}
	return err
}

// CommitTransactions posts the given movements back-to-back, stopping at
// the first failure. Used for decomposed transfers; the legs get no
// atomicity, the caller reconciles by correlation id.
func (c *Client) CommitTransactions(ctx context.Context, txs []stock.Transaction) error {
	for i, tx := range txs {
		if err := c.CommitTransaction(ctx, tx); err != nil {
			return fmt.Errorf("remote: transaction %d of %d: %w", i+1, len(txs), err)
		}
	}
	return nil
}

// reference is the wire shape of the reference endpoint.
type reference struct {
	Items []stock.Item     `json:"items"`
	Stock []stock.StockRow `json:"stock"`
}

// FetchReference pulls the full item catalog and current stock rows.
func (c *Client) FetchReference(ctx context.Context) ([]stock.Item, []stock.StockRow, error) {
	var ref reference
	if err := c.get(ctx, "/reference", &ref); err != nil {
		return nil, nil, err
	}
	return ref.Items, ref.Stock, nil
}

// ReportSettings is the backend's report configuration document. It carries
// the recurrence fields plus the alert toggles that ride along with them.
type ReportSettings struct {
	ReportEnabled      bool   `json:"report_enabled"`
	Frequency          string `json:"frequency"`
	Day                string `json:"day"`
	Hour               string `json:"hour"`
	AlertLowStock      bool   `json:"alert_low_stock"`
	AlertNegativeStock bool   `json:"alert_negative_stock"`
}

// Schedule extracts the recurrence part of the settings.
func (s ReportSettings) Schedule() schedule.Config {
	return schedule.Config{
		Enabled:   s.ReportEnabled,
		Frequency: schedule.Frequency(s.Frequency),
		Day:       s.Day,
		Hour:      s.Hour,
	}
}

// FetchReportSettings reads the full settings document.
func (c *Client) FetchReportSettings(ctx context.Context) (ReportSettings, error) {
	var s ReportSettings
	if err := c.get(ctx, "/report-config", &s); err != nil {
		return ReportSettings{}, err
	}
	return s, nil
}

// SaveReportSettings replaces the settings document.
func (c *Client) SaveReportSettings(ctx context.Context, s ReportSettings) error {
	return c.put(ctx, "/report-config", s)
}

// ReportConfig loads just the recurrence config, for the scheduler.
func (c *Client) ReportConfig(ctx context.Context) (schedule.Config, error) {
	s, err := c.FetchReportSettings(ctx)
	if err != nil {
		return schedule.Config{}, err
	}
	return s.Schedule(), nil
}

// TriggerReport asks the backend to generate and send a report now.
func (c *Client) TriggerReport(ctx context.Context, source string, firedAt time.Time) error {
	body := map[string]any{
		"source":   source,
		"fired_at": firedAt.UTC().Format(time.RFC3339),
	}
	return c.post(ctx, "/reports/trigger", body, nil)
}

// Health probes the backend. Any error, including a non-2xx status, means
// unreachable.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *Client) put(ctx context.Context, path string, in any) error {
	return c.do(ctx, http.MethodPut, path, in, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: %s: encode: %w", op, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remote: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &ErrStatus{Op: op, Code: resp.StatusCode}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("remote: %s: decode: %w", op, err)
		}
	}
	return nil
}
