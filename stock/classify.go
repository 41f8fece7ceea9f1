package stock

import (
	"fmt"
	"sort"
)

// =============================================================================
// CLASSIFICATION - Operation-type code to event type
// =============================================================================

// Direction decides how a line quantity becomes a per-store delta.
type Direction int

const (
	DirInbound  Direction = iota + 1 // +|q| on the operation's store
	DirOutbound                      // -|q| on the operation's store
	DirSigned                        // q as recorded (stock-take corrections)
	DirTransfer                      // -|q| on Store, +(|q| - wastage + surplus) on ToStore
)

func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	case DirSigned:
		return "signed"
	case DirTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Classification is one row of the classification table.
type Classification struct {
	Type      EventType
	Direction Direction
	Store     StoreNo // non-zero pins the store regardless of the record's store
}

// directions lists the event types an operation code may be mapped to.
var directions = map[EventType]Direction{
	TypeAdjIn:       DirInbound,
	TypeAdjOut:      DirOutbound,
	TypeOpening:     DirInbound,
	TypeTransferIn:  DirInbound,
	TypeTransferOut: DirOutbound,
	TypeTransfer:    DirTransfer,
	TypeStockTake:   DirSigned,
	TypeStockClear:  DirOutbound,
	TypeConversion:  DirOutbound,
	TypeWastage:     DirOutbound,
	TypeReturn:      DirInbound,
}

// DefaultClassification returns the built-in code table.
func DefaultClassification() map[string]Classification {
	return map[string]Classification{
		"AdjIn":        {Type: TypeAdjIn, Direction: DirInbound},
		"AdjOut":       {Type: TypeAdjOut, Direction: DirOutbound},
		"Opening":      {Type: TypeOpening, Direction: DirInbound},
		"TransferIn":   {Type: TypeTransferIn, Direction: DirInbound},
		"TransferOut":  {Type: TypeTransferOut, Direction: DirOutbound},
		"Transfer":     {Type: TypeTransfer, Direction: DirTransfer},
		"StockTake":    {Type: TypeStockTake, Direction: DirSigned},
		"StockClear":   {Type: TypeStockClear, Direction: DirOutbound},
		"StockClearS1": {Type: TypeStockClear, Direction: DirOutbound, Store: Store1},
		"StockClearS2": {Type: TypeStockClear, Direction: DirOutbound, Store: Store2},
		"Conversion":   {Type: TypeConversion, Direction: DirOutbound},
		"Wastage":      {Type: TypeWastage, Direction: DirOutbound},
		"Return":       {Type: TypeReturn, Direction: DirInbound},
	}
}

// Classifier resolves operation codes. It is read-only after construction.
type Classifier struct {
	table map[string]Classification
}

func DefaultClassifier() *Classifier {
	return &Classifier{table: DefaultClassification()}
}

// NewClassifier builds a classifier from the defaults plus code -> type-name overrides.
func NewClassifier(overrides map[string]string) (*Classifier, error) {
	table := DefaultClassification()
	for code, name := range overrides {
		t := EventType(name)
		dir, ok := directions[t]
		if !ok {
			return nil, fmt.Errorf("classification %q -> %q: %w", code, name, ErrUnknownType)
		}
		table[code] = Classification{Type: t, Direction: dir}
	}
	return &Classifier{table: table}, nil
}

// Classify returns the classification for code; ok is false for unknown codes.
func (c *Classifier) Classify(code string) (Classification, bool) {
	if c == nil {
		c = DefaultClassifier()
	}
	cls, ok := c.table[code]
	return cls, ok
}

// Codes returns the known codes in sorted order. A nil Classifier lists the defaults.
func (c *Classifier) Codes() []string {
	if c == nil {
		c = DefaultClassifier()
	}
	codes := make([]string, 0, len(c.table))
	for code := range c.table {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
