/*
Package stock provides the stock-ledger reconciliation engine.

PURPOSE:
  Given the raw, heterogeneous events recorded for one item across the two
  physical stores (sales, purchases, transfers, conversions, returns,
  stock-takes, wastage), the engine rebuilds a chronologically ordered
  running-balance ledger per store and checks it against independently
  recorded snapshots.

KEY CONCEPTS IN THIS FILE (types.go):
  - Levels: stock per store at a point in time (store 1, store 2, total)
  - RawRecord: an as-recorded Transaction, Operation or Snapshot
  - Event: the normalized unit the ledger builder replays
  - Point: an event plus the running balance before and after it

PIPELINE:
  raw records -> Normalizer -> Build -> Validator -> Report

DESIGN PRINCIPLES:
  1. Precision: quantities are decimal.Decimal kilograms, replay is exact
  2. Purity: Normalize, Build and Validate have no side effects
  3. Closed union: RawRecord is sealed, every variant is matched explicitly
  4. Diagnostics never count: Meta and SubLegs are carried, never replayed

SEE ALSO:
  - normalize.go: raw records to events
  - ledger.go: ordering and replay
  - reconcile.go: validation report and issues
  - service.go: fetch + pipeline orchestration
*/
package stock

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string

// StoreNo identifies one of the two physical stock locations.
type StoreNo int

const (
	Store1 StoreNo = 1
	Store2 StoreNo = 2
)

func (s StoreNo) Valid() bool { return s == Store1 || s == Store2 }

// =============================================================================
// LEVELS - Stock held per store
// =============================================================================

// Levels is a per-store stock level (or a per-store change, when used as a delta).
type Levels struct {
	Store1 decimal.Decimal `json:"store1"`
	Store2 decimal.Decimal `json:"store2"`
}

func NewLevels(store1, store2 float64) Levels {
	return Levels{Store1: decimal.NewFromFloat(store1), Store2: decimal.NewFromFloat(store2)}
}

// DeltaAt returns a Levels value with q applied to a single store.
func DeltaAt(store StoreNo, q decimal.Decimal) Levels {
	switch store {
	case Store1:
		return Levels{Store1: q, Store2: decimal.Zero}
	case Store2:
		return Levels{Store1: decimal.Zero, Store2: q}
	default:
		return Levels{Store1: decimal.Zero, Store2: decimal.Zero}
	}
}

func (l Levels) Total() decimal.Decimal { return l.Store1.Add(l.Store2) }
func (l Levels) Add(o Levels) Levels    { return Levels{Store1: l.Store1.Add(o.Store1), Store2: l.Store2.Add(o.Store2)} }
func (l Levels) Sub(o Levels) Levels    { return Levels{Store1: l.Store1.Sub(o.Store1), Store2: l.Store2.Sub(o.Store2)} }
func (l Levels) Neg() Levels            { return Levels{Store1: l.Store1.Neg(), Store2: l.Store2.Neg()} }
func (l Levels) IsZero() bool           { return l.Store1.IsZero() && l.Store2.IsZero() }
func (l Levels) Equal(o Levels) bool    { return l.Store1.Equal(o.Store1) && l.Store2.Equal(o.Store2) }

// At returns the level of a single store (zero for an invalid store).
func (l Levels) At(store StoreNo) decimal.Decimal {
	switch store {
	case Store1:
		return l.Store1
	case Store2:
		return l.Store2
	default:
		return decimal.Zero
	}
}

// Within reports whether both stores differ from o by at most eps.
func (l Levels) Within(o Levels, eps decimal.Decimal) bool {
	return withinEps(l.Store1, o.Store1, eps) && withinEps(l.Store2, o.Store2, eps)
}

// Magnitude is |store1| + |store2|, used to rank movements.
func (l Levels) Magnitude() decimal.Decimal { return l.Store1.Abs().Add(l.Store2.Abs()) }

// MarshalJSON adds the derived total so consumers don't recompute it.
func (l Levels) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Store1 decimal.Decimal `json:"store1"`
		Store2 decimal.Decimal `json:"store2"`
		Total  decimal.Decimal `json:"total"`
	}{l.Store1, l.Store2, l.Total()})
}

func withinEps(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// DefaultEpsilon is the balance tolerance in kilograms.
var DefaultEpsilon = decimal.New(1, -3)

// =============================================================================
// RAW RECORDS - As recorded by the point-of-sale and stock screens
// =============================================================================

// RawRecord is one of Transaction, Operation or Snapshot. The set is closed.
type RawRecord interface {
	RecordID() string
	OccurredAt() time.Time
	// Items lists every item the record touches, in record order.
	Items() []ItemID
	sealed()
}

// Line is one item row of a transaction or stock operation.
type Line struct {
	Item     ItemID
	Quantity decimal.Decimal
}

type TradeType string

const (
	TradeBuying  TradeType = "Buying"
	TradeSelling TradeType = "Selling"
)

// Transaction is a buy/sell trade at one store.
type Transaction struct {
	ID       string
	Type     TradeType
	At       time.Time
	Store    StoreNo
	Lines    []Line
	Active   bool
	BillCode string
	Customer string
	Comments string
}

func (t Transaction) RecordID() string      { return t.ID }
func (t Transaction) OccurredAt() time.Time { return t.At }
func (Transaction) sealed()                 {}

func (t Transaction) Items() []ItemID { return lineItems(t.Lines) }

// Operation is a non-trade stock movement (transfer, adjustment, stock-take, ...).
// Code is the operation-type code resolved through the Classifier.
type Operation struct {
	ID          string
	Code        string
	At          time.Time
	Store       StoreNo
	ToStore     StoreNo // transfers only
	Lines       []Line
	Wastage     decimal.Decimal
	Surplus     decimal.Decimal
	Active      bool
	Lorry       string
	Destination string
	Comments    string
	Conversion  *Conversion
}

func (o Operation) RecordID() string      { return o.ID }
func (o Operation) OccurredAt() time.Time { return o.At }
func (Operation) sealed()                 {}

// Items includes both sides of a conversion.
func (o Operation) Items() []ItemID {
	items := lineItems(o.Lines)
	if c := o.Conversion; c != nil {
		items = append(items, c.FromItem, c.ToItem)
	}
	return items
}

// Conversion records one item being turned into another.
type Conversion struct {
	FromItem ItemID
	ToItem   ItemID
	FromQty  decimal.Decimal
	ToQty    decimal.Decimal
}

// Snapshot is an independently recorded stock level for one item.
// It bounds a ledger and is never replayed as a delta.
type Snapshot struct {
	ID     string         `json:"id"`
	Item   ItemID         `json:"item"`
	At     time.Time      `json:"at"`
	Levels Levels         `json:"levels"`
	Reason SnapshotReason `json:"reason"`
}

func (s Snapshot) RecordID() string      { return s.ID }
func (s Snapshot) OccurredAt() time.Time { return s.At }
func (Snapshot) sealed()                 {}

func (s Snapshot) Items() []ItemID { return []ItemID{s.Item} }

func lineItems(lines []Line) []ItemID {
	items := make([]ItemID, 0, len(lines))
	for _, l := range lines {
		items = append(items, l.Item)
	}
	return items
}

type SnapshotReason string

const (
	SnapshotStockTake SnapshotReason = "stock_take" // physical count
	SnapshotTerminal  SnapshotReason = "terminal"   // terminal's cached state
	SnapshotManual    SnapshotReason = "manual"
)

// =============================================================================
// LEDGER EVENT - Normalized unit consumed by the builder
// =============================================================================

type EventType string

const (
	TypeBuying       EventType = "Buying"
	TypeSelling      EventType = "Selling"
	TypeAdjIn        EventType = "Adjustment In"
	TypeAdjOut       EventType = "Adjustment Out"
	TypeOpening      EventType = "Opening Stock"
	TypeTransferIn   EventType = "Transfer In"
	TypeTransferOut  EventType = "Transfer Out"
	TypeTransfer     EventType = "Transfer" // classification only, resolved to a direction
	TypeTransferS1S2 EventType = "Transfer S1→S2"
	TypeTransferS2S1 EventType = "Transfer S2→S1"
	TypeStockTake    EventType = "Stock Take"
	TypeStockClear   EventType = "Stock Clear"
	TypeConversion   EventType = "Conversion"
	TypeWastage      EventType = "Wastage"
	TypeReturn       EventType = "Stock Return"
	TypeSnapshot     EventType = "Snapshot"
	TypeUnknown      EventType = "Unknown"
)

// EventSource names the raw record kind an event came from.
type EventSource string

const (
	SourceTransaction EventSource = "transaction"
	SourceOperation   EventSource = "stock_operation"
	SourceSnapshot    EventSource = "snapshot"
)

// Boundary marks where a snapshot event sits relative to the requested window.
type Boundary int

const (
	BoundaryNone       Boundary = iota // trade or stock operation
	BoundaryOpening                    // at or before window start
	BoundaryCheckpoint                 // strictly inside the window
	BoundaryClosing                    // at or after window end
)

func (b Boundary) String() string {
	switch b {
	case BoundaryOpening:
		return "opening"
	case BoundaryCheckpoint:
		return "checkpoint"
	case BoundaryClosing:
		return "closing"
	default:
		return ""
	}
}

func (b Boundary) MarshalJSON() ([]byte, error) { return json.Marshal(b.String()) }

func (b *Boundary) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "opening":
		*b = BoundaryOpening
	case "checkpoint":
		*b = BoundaryCheckpoint
	case "closing":
		*b = BoundaryClosing
	default:
		*b = BoundaryNone
	}
	return nil
}

// Event is a normalized ledger event. Delta is the only field that affects arithmetic.
type Event struct {
	ID       string      `json:"id"`
	At       time.Time   `json:"at"`
	Type     EventType   `json:"type"`
	Source   EventSource `json:"source"`
	Boundary Boundary    `json:"boundary,omitempty"`
	Delta    Levels      `json:"delta"`
	Recorded *Levels     `json:"recorded,omitempty"` // snapshot events only
	Meta     Meta        `json:"meta"`
}

// Meta is a diagnostic payload carried through the ledger.
type Meta struct {
	Code         string          `json:"code,omitempty"`
	BillCode     string          `json:"bill_code,omitempty"`
	Customer     string          `json:"customer,omitempty"`
	Lorry        string          `json:"lorry,omitempty"`
	Destination  string          `json:"destination,omitempty"`
	Comments     string          `json:"comments,omitempty"`
	Wastage      decimal.Decimal `json:"wastage"`
	Surplus      decimal.Decimal `json:"surplus"`
	Unattributed decimal.Decimal `json:"unattributed"` // quantity that could not be placed on a store
	SubLegs      []SubLeg        `json:"sub_legs,omitempty"`
}

// SubLeg is one leg of a composite transfer+conversion event.
type SubLeg struct {
	Kind     string          `json:"kind"`
	Item     ItemID          `json:"item"`
	Store    StoreNo         `json:"store"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (e Event) priority() int {
	switch e.Boundary {
	case BoundaryOpening:
		return 0
	case BoundaryClosing:
		return 2
	default:
		return 1
	}
}

// =============================================================================
// LEDGER POINT - Replay output
// =============================================================================

// Point is an event with the running balance immediately before and after it.
type Point struct {
	Event
	Before    Levels `json:"before"`
	After     Levels `json:"after"`
	Synthetic bool   `json:"synthetic,omitempty"`
}
