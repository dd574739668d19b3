// Package stock defines the business records carried by the transaction
// pipeline: reference items, per-location stock rows, and stock movements.
package stock

import (
	"fmt"
	"strings"
	"time"
)

// Kind classifies a stock movement.
type Kind string

const (
	KindEntry       Kind = "entry"        // stock received into a location
	KindExit        Kind = "exit"         // stock removed from a location
	KindTransferOut Kind = "transfer_out" // outbound leg of a transfer
	KindTransferIn  Kind = "transfer_in"  // inbound leg of a transfer
	KindAdjustment  Kind = "adjustment"   // manual correction, either sign
	KindSale        Kind = "sale"         // recipe-based consumption
)

// Valid reports whether k is a known movement kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEntry, KindExit, KindTransferOut, KindTransferIn, KindAdjustment, KindSale:
		return true
	}
	return false
}

// Item is a reference product as served by the remote reference endpoint.
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Unit     string  `json:"unit"`
	UnitCost float64 `json:"cost"`
}

// StockRow is the current quantity of one item at one location.
type StockRow struct {
	ItemID   string  `json:"item_id"`
	Location string  `json:"location"`
	Quantity float64 `json:"quantity"`
	Cost     float64 `json:"cost"`
}

// Transaction is a single stock movement intent. Quantity is signed:
// positive for movements into Destination, negative for movements out of
// Source. Cost is the monetary valuation of the moved quantity.
type Transaction struct {
	Kind        Kind      `json:"kind"`
	OccurredAt  time.Time `json:"occurred_at"`
	ActorID     string    `json:"actor_id"`
	Source      string    `json:"source,omitempty"`
	Destination string    `json:"destination,omitempty"`
	ItemID      string    `json:"item_id"`
	Quantity    float64   `json:"quantity"`
	Unit        string    `json:"unit"`
	Cost        float64   `json:"cost"`

	// CorrelationID links the two legs of a decomposed transfer. Empty for
	// standalone movements. The pipeline gives the pair no atomicity; the
	// id exists so the backend and the dead-letter trail can reconcile a
	// half-applied transfer.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Valuation computes the monetary cost of moving qty units at unitCost.
// The result carries the sign of qty.
func Valuation(qty, unitCost float64) float64 {
	return qty * unitCost
}

// Validate checks the structural invariants of a movement before it enters
// the pipeline.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return fmt.Errorf("stock: unknown movement kind %q", t.Kind)
	}
	if strings.TrimSpace(t.ItemID) == "" {
		return fmt.Errorf("stock: %s movement missing item id", t.Kind)
	}
	if t.Quantity == 0 {
		return fmt.Errorf("stock: %s movement has zero quantity", t.Kind)
	}
	switch t.Kind {
	case KindEntry, KindTransferIn:
		if t.Quantity < 0 {
			return fmt.Errorf("stock: %s quantity must be positive, got %v", t.Kind, t.Quantity)
		}
		if t.Destination == "" {
			return fmt.Errorf("stock: %s movement missing destination", t.Kind)
		}
	case KindExit, KindSale, KindTransferOut:
		if t.Quantity > 0 {
			return fmt.Errorf("stock: %s quantity must be negative, got %v", t.Kind, t.Quantity)
		}
		if t.Source == "" {
			return fmt.Errorf("stock: %s movement missing source", t.Kind)
		}
	}
	return nil
}

// DecomposeTransfer splits a transfer of qty units of item from one location
// to another into its two movement legs. Both legs share a correlation id
// and the same timestamp; qty must be positive.
func DecomposeTransfer(correlationID, actorID, itemID, unit string, qty, unitCost float64, from, to string, at time.Time) (out, in Transaction) {
	out = Transaction{
		Kind:          KindTransferOut,
		OccurredAt:    at,
		ActorID:       actorID,
		Source:        from,
		Destination:   to,
		ItemID:        itemID,
		Quantity:      -qty,
		Unit:          unit,
		Cost:          Valuation(-qty, unitCost),
		CorrelationID: correlationID,
	}
	in = Transaction{
		Kind:          KindTransferIn,
		OccurredAt:    at,
		ActorID:       actorID,
		Source:        from,
		Destination:   to,
		ItemID:        itemID,
		Quantity:      qty,
		Unit:          unit,
		Cost:          Valuation(qty, unitCost),
		CorrelationID: correlationID,
	}
	return out, in
}

// SameBusinessFields reports whether two transactions carry identical
// business payloads, ignoring bookkeeping (ids, attempts) which live outside
// this type.
func SameBusinessFields(a, b Transaction) bool {
	return a.Kind == b.Kind &&
		a.OccurredAt.Equal(b.OccurredAt) &&
		a.ActorID == b.ActorID &&
		a.Source == b.Source &&
		a.Destination == b.Destination &&
		a.ItemID == b.ItemID &&
		a.Quantity == b.Quantity &&
		a.Unit == b.Unit &&
		a.Cost == b.Cost &&
		a.CorrelationID == b.CorrelationID
}
