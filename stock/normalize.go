/*
normalize.go - Raw records to ledger events

PURPOSE:
  Converts the three kinds of raw record into a single Event shape with a
  timestamp, per-store deltas and a classification. One item at a time:
  only the queried item's lines contribute.

RULES:
  Transaction:  Buying adds, Selling subtracts the recorded line quantity
  Operation:    code -> Classification; the Direction decides the sign
  Transfer:     one event touching both stores,
                  from: -q
                  to:   +(q - wastage + surplus)
                wastage/surplus are kept in Meta for the tooltip
  Conversion:   only the net effect on the queried item is represented
  Snapshot:     zero-delta boundary marker, never replayed as a delta

DEGRADATION:
  Unknown codes, unknown trade types and store numbers outside {1, 2} become
  TypeUnknown events with zero delta and the quantity in Meta.Unattributed.
  A single bad row never aborts the report.
*/
package stock

import (
	"github.com/shopspring/decimal"
)

// Normalizer maps raw records to events. It holds no mutable state.
type Normalizer struct {
	Classifier *Classifier
}

func NewNormalizer(c *Classifier) *Normalizer {
	if c == nil {
		c = DefaultClassifier()
	}
	return &Normalizer{Classifier: c}
}

// Normalize converts records for one item into events, in input order.
// The window is used to validate the request and to place snapshot markers.
func (n *Normalizer) Normalize(records []RawRecord, item ItemID, window Window) ([]Event, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(records))
	for _, r := range records {
		var (
			ev Event
			ok bool
		)
		switch rec := r.(type) {
		case Transaction:
			ev, ok = n.transaction(rec, item)
		case Operation:
			ev, ok = n.operation(rec, item)
		case Snapshot:
			ev, ok = snapshotMarker(rec, item, window)
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (n *Normalizer) transaction(tx Transaction, item ItemID) (Event, bool) {
	if !tx.Active {
		return Event{}, false
	}
	qty := sumLines(tx.Lines, item)
	if qty.IsZero() {
		return Event{}, false
	}

	ev := Event{
		ID:     tx.ID,
		At:     tx.At,
		Source: SourceTransaction,
		Meta: Meta{
			Code:     string(tx.Type),
			BillCode: tx.BillCode,
			Customer: tx.Customer,
			Comments: tx.Comments,
		},
	}

	var signed decimal.Decimal
	switch tx.Type {
	case TradeBuying:
		ev.Type = TypeBuying
		signed = qty
	case TradeSelling:
		ev.Type = TypeSelling
		signed = qty.Neg()
	default:
		return unknown(ev, qty), true
	}

	if !tx.Store.Valid() {
		return unknown(ev, signed), true
	}
	ev.Delta = DeltaAt(tx.Store, signed)
	return ev, true
}

func (n *Normalizer) operation(op Operation, item ItemID) (Event, bool) {
	if !op.Active {
		return Event{}, false
	}
	qty := sumLines(op.Lines, item)
	converted := decimal.Zero
	if op.Conversion != nil && op.Conversion.ToItem == item {
		converted = op.Conversion.ToQty.Abs()
	}
	if qty.IsZero() && converted.IsZero() {
		return Event{}, false
	}

	ev := Event{
		ID:     op.ID,
		At:     op.At,
		Source: SourceOperation,
		Meta: Meta{
			Code:        op.Code,
			Lorry:       op.Lorry,
			Destination: op.Destination,
			Comments:    op.Comments,
			Wastage:     op.Wastage,
			Surplus:     op.Surplus,
		},
	}

	cls, ok := n.Classifier.Classify(op.Code)
	if !ok {
		return unknown(ev, qty.Add(converted)), true
	}
	ev.Type = cls.Type

	if cls.Direction == DirTransfer {
		return transfer(ev, op, item, qty, converted)
	}

	store := op.Store
	if cls.Store != 0 {
		store = cls.Store
	}

	var signed decimal.Decimal
	switch cls.Direction {
	case DirInbound:
		signed = qty.Abs()
	case DirOutbound:
		signed = qty.Abs().Neg()
	default:
		signed = qty
	}

	if !store.Valid() {
		return unknown(ev, signed.Add(converted)), true
	}
	ev.Delta = DeltaAt(store, signed)

	if op.Conversion != nil {
		dest := op.ToStore
		if !dest.Valid() {
			dest = store
		}
		ev.Meta.SubLegs = conversionLegs(op.Conversion, store, dest)
		ev.Delta = ev.Delta.Add(DeltaAt(dest, converted))
	}

	if ev.Delta.IsZero() {
		return Event{}, false
	}
	return ev, true
}

// transfer builds a two-store event. When the transfer carries a conversion it is
// a composite event: the sub-legs explain it, the aggregated Delta is what replays.
func transfer(ev Event, op Operation, item ItemID, qty, converted decimal.Decimal) (Event, bool) {
	from, to := op.Store, op.ToStore
	if !from.Valid() || !to.Valid() || from == to {
		return unknown(ev, qty.Add(converted)), true
	}
	if from == Store1 {
		ev.Type = TypeTransferS1S2
	} else {
		ev.Type = TypeTransferS2S1
	}

	out := qty.Abs()
	in := out.Sub(op.Wastage).Add(op.Surplus)

	if op.Conversion == nil {
		ev.Delta = DeltaAt(from, out.Neg()).Add(DeltaAt(to, in))
		return ev, true
	}

	var legs []SubLeg
	if !out.IsZero() {
		legs = append(legs,
			SubLeg{Kind: "transfer_out", Item: item, Store: from, Quantity: out.Neg()},
			SubLeg{Kind: "transfer_in", Item: item, Store: to, Quantity: in},
			SubLeg{Kind: "conversion_out", Item: item, Store: to, Quantity: in.Neg()},
		)
		if op.Conversion.ToItem != item {
			legs = append(legs, SubLeg{Kind: "conversion_in", Item: op.Conversion.ToItem, Store: to, Quantity: op.Conversion.ToQty.Abs()})
		}
	}
	if !converted.IsZero() {
		legs = append(legs, SubLeg{Kind: "conversion_in", Item: item, Store: to, Quantity: converted})
	}
	ev.Meta.SubLegs = legs
	ev.Delta = sumLegs(legs, item)

	if ev.Delta.IsZero() {
		return Event{}, false
	}
	return ev, true
}

func conversionLegs(c *Conversion, from, to StoreNo) []SubLeg {
	return []SubLeg{
		{Kind: "conversion_out", Item: c.FromItem, Store: from, Quantity: c.FromQty.Abs().Neg()},
		{Kind: "conversion_in", Item: c.ToItem, Store: to, Quantity: c.ToQty.Abs()},
	}
}

func snapshotMarker(s Snapshot, item ItemID, w Window) (Event, bool) {
	if s.Item != item {
		return Event{}, false
	}
	recorded := s.Levels
	ev := Event{
		ID:       s.ID,
		At:       s.At,
		Type:     TypeSnapshot,
		Source:   SourceSnapshot,
		Recorded: &recorded,
		Meta:     Meta{Code: string(s.Reason)},
	}
	switch {
	case !s.At.After(w.Start):
		ev.Boundary = BoundaryOpening
	case !s.At.Before(w.End):
		ev.Boundary = BoundaryClosing
	default:
		ev.Boundary = BoundaryCheckpoint
	}
	return ev, true
}

func unknown(ev Event, q decimal.Decimal) Event {
	ev.Type = TypeUnknown
	ev.Delta = Levels{}
	ev.Meta.Unattributed = q
	return ev
}

func sumLines(lines []Line, item ItemID) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		if l.Item == item {
			total = total.Add(l.Quantity)
		}
	}
	return total
}

func sumLegs(legs []SubLeg, item ItemID) Levels {
	var total Levels
	for _, leg := range legs {
		if leg.Item == item {
			total = total.Add(DeltaAt(leg.Store, leg.Quantity))
		}
	}
	return total
}
