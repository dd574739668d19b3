// Package httpapi exposes the local admin surface: submitting movements,
// inspecting the pipeline, forcing a drain, and editing the report
// configuration. It is meant for the POS frontend on the same machine, so
// the router stays small and JSON-only.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/vizionmakeit-commits/stockflow/cache"
	"github.com/vizionmakeit-commits/stockflow/eventlog"
	"github.com/vizionmakeit-commits/stockflow/idgen"
	"github.com/vizionmakeit-commits/stockflow/queue"
	"github.com/vizionmakeit-commits/stockflow/remote"
	"github.com/vizionmakeit-commits/stockflow/schedule"
	"github.com/vizionmakeit-commits/stockflow/stock"
	"github.com/vizionmakeit-commits/stockflow/syncer"
)

// Pipeline is the submit-and-drain surface of the syncer.
type Pipeline interface {
	ProcessTransaction(ctx context.Context, tx stock.Transaction) (syncer.Receipt, error)
	SyncPending(ctx context.Context) (syncer.Result, error)
	Status() map[string]any
}

// Reference serves the cached item catalog and stock rows.
type Reference interface {
	GetData(ctx context.Context, forceRefresh bool) (cache.Data, error)
}

// ReportStore reads and writes the backend report settings document.
type ReportStore interface {
	FetchReportSettings(ctx context.Context) (remote.ReportSettings, error)
	SaveReportSettings(ctx context.Context, s remote.ReportSettings) error
}

// Schedules is the live scheduler the PUT handler re-arms.
type Schedules interface {
	UpdateConfiguration(cfg schedule.Config)
	Status() schedule.Status
}

// DeadLetters exposes the abandoned-transaction list.
type DeadLetters interface {
	DeadLetters() ([]queue.DeadLetter, error)
	PurgeDeadLetters() error
}

// Trail is the durable event trail. Nil disables recording.
type Trail interface {
	Record(ctx context.Context, e eventlog.Event)
	Recent(ctx context.Context, limit int) ([]eventlog.Event, error)
}

// Server wires the pipeline components behind the admin router.
type Server struct {
	pipeline Pipeline
	ref      Reference
	reports  ReportStore
	sched    Schedules
	dead     DeadLetters
	trail    Trail
	newID    idgen.Generator
}

// Option configures a Server.
type Option func(*Server)

// WithTrail enables event recording and the /events endpoint.
func WithTrail(t Trail) Option { return func(s *Server) { s.trail = t } }

// WithIDGenerator sets the correlation id generator for transfers.
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Server) { s.newID = gen } }

// NewServer creates the admin surface over the given components.
func NewServer(p Pipeline, ref Reference, reports ReportStore, sched Schedules, dead DeadLetters, opts ...Option) *Server {
	s := &Server{
		pipeline: p,
		ref:      ref,
		reports:  reports,
		sched:    sched,
		dead:     dead,
		newID:    idgen.Prefixed("trf_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router builds the chi router. With a non-empty user every endpoint except
// /health requires basic auth against the bcrypt hash.
func (s *Server) Router(user, passwordHash string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		if user != "" {
			r.Use(basicAuth(user, passwordHash))
		}
		r.Get("/status", s.handleStatus)
		r.Post("/transactions", s.handleSubmit)
		r.Post("/sync", s.handleSync)
		r.Get("/data", s.handleData)
		r.Get("/report-config", s.handleGetReportConfig)
		r.Put("/report-config", s.handlePutReportConfig)
		r.Get("/dead-letters", s.handleDeadLetters)
		r.Delete("/dead-letters", s.handlePurgeDeadLetters)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// basicAuth checks credentials against a bcrypt hash.
func basicAuth(user, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || u != user ||
				bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="stockflow"`)
				jsonErr(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.sched.Status()
	out := map[string]any{
		"pipeline": s.pipeline.Status(),
		"schedule": st,
	}
	writeJSON(w, http.StatusOK, out)
}

// transactionRequest is the submit payload. Kind "transfer" is an intent
// that decomposes into its two movement legs; every other kind maps to one
// movement. Quantity is always positive here; the sign follows the kind.
type transactionRequest struct {
	Kind        string    `json:"kind"`
	ActorID     string    `json:"actor_id"`
	ItemID      string    `json:"item_id"`
	Quantity    float64   `json:"quantity"`
	Unit        string    `json:"unit"`
	UnitCost    float64   `json:"unit_cost"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination,omitempty"`
	OccurredAt  time.Time `json:"occurred_at,omitzero"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Quantity <= 0 {
		jsonErr(w, "quantity must be positive", http.StatusBadRequest)
		return
	}
	at := req.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var txs []stock.Transaction
	if strings.EqualFold(req.Kind, "transfer") {
		if req.Source == "" || req.Destination == "" {
			jsonErr(w, "transfer requires source and destination", http.StatusBadRequest)
			return
		}
		out, in := stock.DecomposeTransfer(s.newID(), req.ActorID, req.ItemID,
			req.Unit, req.Quantity, req.UnitCost, req.Source, req.Destination, at)
		txs = []stock.Transaction{out, in}
	} else {
		qty := req.Quantity
		switch stock.Kind(req.Kind) {
		case stock.KindExit, stock.KindSale, stock.KindTransferOut:
			qty = -qty
		}
		txs = []stock.Transaction{{
			Kind:        stock.Kind(req.Kind),
			OccurredAt:  at,
			ActorID:     req.ActorID,
			Source:      req.Source,
			Destination: req.Destination,
			ItemID:      req.ItemID,
			Quantity:    qty,
			Unit:        req.Unit,
			Cost:        stock.Valuation(qty, req.UnitCost),
		}}
	}

	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			jsonErr(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	receipts := make([]syncer.Receipt, 0, len(txs))
	for _, tx := range txs {
		receipt, err := s.pipeline.ProcessTransaction(r.Context(), tx)
		if err != nil {
			jsonErr(w, err.Error(), http.StatusInternalServerError)
			return
		}
		receipts = append(receipts, receipt)
		s.record(r.Context(), tx, receipt)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"receipts": receipts})
}

func (s *Server) record(ctx context.Context, tx stock.Transaction, receipt syncer.Receipt) {
	if s.trail == nil {
		return
	}
	typ := eventlog.TypeTransactionSubmitted
	entity := string(tx.Kind) + ":" + tx.ItemID
	if receipt.Offline {
		typ = eventlog.TypeTransactionQueued
		entity = receipt.QueuedID
	}
	s.trail.Record(ctx, eventlog.Event{
		EventType: typ,
		EntityID:  entity,
		ActorID:   tx.ActorID,
		Success:   true,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.SyncPending(r.Context())
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.trail != nil {
		details, _ := json.Marshal(res)
		s.trail.Record(r.Context(), eventlog.Event{
			EventType: eventlog.TypeSyncCompleted,
			Details:   string(details),
			Success:   res.Failed == 0,
		})
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"
	data, err := s.ref.GetData(r.Context(), force)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, cache.ErrNoCachedDataOffline) {
			status = http.StatusServiceUnavailable
		}
		jsonErr(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleGetReportConfig(w http.ResponseWriter, r *http.Request) {
	settings, err := s.reports.FetchReportSettings(r.Context())
	if err != nil {
		jsonErr(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutReportConfig(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 16*1024)

	var settings remote.ReportSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		jsonErr(w, "invalid request body", http.StatusBadRequest)
		return
	}
	cfg := settings.Schedule()
	if err := cfg.Validate(); err != nil {
		jsonErr(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.reports.SaveReportSettings(r.Context(), settings); err != nil {
		jsonErr(w, err.Error(), http.StatusBadGateway)
		return
	}
	// Re-arm with the new recurrence only after the save stuck.
	s.sched.UpdateConfiguration(cfg)
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, _ *http.Request) {
	letters, err := s.dead.DeadLetters()
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if letters == nil {
		letters = []queue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

func (s *Server) handlePurgeDeadLetters(w http.ResponseWriter, _ *http.Request) {
	if err := s.dead.PurgeDeadLetters(); err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		jsonErr(w, "event trail disabled", http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := s.trail.Recent(r.Context(), limit)
	if err != nil {
		jsonErr(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []eventlog.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}
