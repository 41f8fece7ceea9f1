package stock_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockledger/stock"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const rice = stock.ItemID("RICE")

func day(d, h, m int) time.Time {
	return time.Date(2025, time.March, d, h, m, 0, 0, time.UTC)
}

func kg(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lines(q string) []stock.Line {
	return []stock.Line{{Item: rice, Quantity: kg(q)}}
}

func marchFirst() stock.Window {
	return stock.Window{Start: day(1, 0, 0), End: day(2, 0, 0).Add(-time.Nanosecond)}
}

func sale(id string, at time.Time, store stock.StoreNo, q string) stock.Transaction {
	return stock.Transaction{ID: id, Type: stock.TradeSelling, At: at, Store: store, Lines: lines(q), Active: true}
}

func purchase(id string, at time.Time, store stock.StoreNo, q string) stock.Transaction {
	return stock.Transaction{ID: id, Type: stock.TradeBuying, At: at, Store: store, Lines: lines(q), Active: true}
}

func op(id, code string, at time.Time, store stock.StoreNo, q string) stock.Operation {
	return stock.Operation{ID: id, Code: code, At: at, Store: store, Lines: lines(q), Active: true}
}

func snap(id string, at time.Time, s1, s2 float64) stock.Snapshot {
	return stock.Snapshot{ID: id, Item: rice, At: at, Levels: stock.NewLevels(s1, s2), Reason: stock.SnapshotStockTake}
}

func assertLevels(t *testing.T, s1, s2 string, got stock.Levels, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, kg(s1).Equal(got.Store1), append([]any{"store 1: want %s got %s", s1, got.Store1}, msgAndArgs...)...)
	assert.True(t, kg(s2).Equal(got.Store2), append([]any{"store 2: want %s got %s", s2, got.Store2}, msgAndArgs...)...)
}

func normalize(t *testing.T, records ...stock.RawRecord) []stock.Event {
	t.Helper()
	events, err := stock.NewNormalizer(nil).Normalize(records, rice, marchFirst())
	require.NoError(t, err)
	return events
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestNormalize_Selling_SubtractsOnStore(t *testing.T) {
	// GIVEN: A sale of 5 kg on store 1
	// WHEN: Normalized
	// THEN: One Selling event with delta (-5, 0)
	events := normalize(t, sale("s-1", day(1, 10, 0), stock.Store1, "5"))

	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeSelling, events[0].Type)
	assert.Equal(t, stock.SourceTransaction, events[0].Source)
	assertLevels(t, "-5", "0", events[0].Delta)
}

func TestNormalize_Buying_AddsOnStore(t *testing.T) {
	events := normalize(t, purchase("b-1", day(1, 9, 0), stock.Store2, "12.25"))

	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeBuying, events[0].Type)
	assertLevels(t, "0", "12.25", events[0].Delta)
}

func TestNormalize_InactiveAndZeroRecords_Dropped(t *testing.T) {
	// GIVEN: A voided sale, a zero-quantity sale, and a sale of another item
	voided := sale("s-void", day(1, 10, 0), stock.Store1, "5")
	voided.Active = false
	zero := sale("s-zero", day(1, 11, 0), stock.Store1, "0")
	other := stock.Transaction{
		ID: "s-other", Type: stock.TradeSelling, At: day(1, 12, 0), Store: stock.Store1, Active: true,
		Lines: []stock.Line{{Item: "SUGAR", Quantity: kg("3")}},
	}

	// WHEN: Normalized for RICE
	events := normalize(t, voided, zero, other)

	// THEN: Nothing survives
	assert.Empty(t, events)
}

func TestNormalize_MultipleLines_SameItem_Summed(t *testing.T) {
	tx := sale("s-1", day(1, 10, 0), stock.Store1, "2")
	tx.Lines = append(tx.Lines, stock.Line{Item: rice, Quantity: kg("3.5")}, stock.Line{Item: "SUGAR", Quantity: kg("9")})

	events := normalize(t, tx)

	require.Len(t, events, 1)
	assertLevels(t, "-5.5", "0", events[0].Delta)
}

func TestNormalize_BadStore_DegradesToUnknown(t *testing.T) {
	// GIVEN: A sale recorded against store 3
	// WHEN: Normalized
	// THEN: Unknown with zero delta, quantity kept as unattributed
	events := normalize(t, sale("s-1", day(1, 10, 0), 3, "5"))

	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeUnknown, events[0].Type)
	assert.True(t, events[0].Delta.IsZero())
	assert.True(t, kg("-5").Equal(events[0].Meta.Unattributed))
}

func TestNormalize_UnknownTradeType_DegradesToUnknown(t *testing.T) {
	tx := sale("s-1", day(1, 10, 0), stock.Store1, "5")
	tx.Type = "Barter"

	events := normalize(t, tx)

	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeUnknown, events[0].Type)
	assert.True(t, kg("5").Equal(events[0].Meta.Unattributed))
}

// =============================================================================
// STOCK OPERATIONS
// =============================================================================

func TestNormalize_Transfer_OneEventBothStores(t *testing.T) {
	// GIVEN: 30 kg moved S1 -> S2 with 1.5 kg wastage
	tr := op("t-1", "Transfer", day(1, 11, 0), stock.Store1, "30")
	tr.ToStore = stock.Store2
	tr.Wastage = kg("1.5")

	// WHEN: Normalized
	events := normalize(t, tr)

	// THEN: One event, store 1 -30, store 2 +28.5, wastage kept in Meta
	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeTransferS1S2, events[0].Type)
	assertLevels(t, "-30", "28.5", events[0].Delta)
	assert.True(t, kg("1.5").Equal(events[0].Meta.Wastage))
}

func TestNormalize_Transfer_WithoutWastage_IsNeutral(t *testing.T) {
	tr := op("t-1", "Transfer", day(1, 11, 0), stock.Store2, "40")
	tr.ToStore = stock.Store1

	events := normalize(t, tr)

	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeTransferS2S1, events[0].Type)
	assert.True(t, events[0].Delta.Total().IsZero(), "transfer without wastage or surplus moves stock, it does not create it")
}

func TestNormalize_Transfer_SameStore_DegradesToUnknown(t *testing.T) {
	tr := op("t-1", "Transfer", day(1, 11, 0), stock.Store1, "10")
	tr.ToStore = stock.Store1

	events := normalize(t, tr)

	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeUnknown, events[0].Type)
	assert.True(t, events[0].Delta.IsZero())
}

func TestNormalize_OperationDirections(t *testing.T) {
	tests := []struct {
		code   string
		qty    string
		store  stock.StoreNo
		typ    stock.EventType
		s1, s2 string
	}{
		{"AdjIn", "4", stock.Store1, stock.TypeAdjIn, "4", "0"},
		{"AdjOut", "4", stock.Store1, stock.TypeAdjOut, "-4", "0"},
		{"AdjOut", "-4", stock.Store2, stock.TypeAdjOut, "0", "-4"},
		{"Return", "2.5", stock.Store2, stock.TypeReturn, "0", "2.5"},
		{"StockTake", "-1", stock.Store1, stock.TypeStockTake, "-1", "0"},
		{"StockTake", "3", stock.Store1, stock.TypeStockTake, "3", "0"},
		{"StockClearS2", "7", stock.Store1, stock.TypeStockClear, "0", "-7"},
		{"Wastage", "0.5", stock.Store1, stock.TypeWastage, "-0.5", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.code+"/"+tt.qty, func(t *testing.T) {
			events := normalize(t, op("o-1", tt.code, day(1, 12, 0), tt.store, tt.qty))

			require.Len(t, events, 1)
			assert.Equal(t, tt.typ, events[0].Type)
			assertLevels(t, tt.s1, tt.s2, events[0].Delta)
		})
	}
}

func TestNormalize_UnknownCode_ZeroDeltaUnattributed(t *testing.T) {
	events := normalize(t, op("o-1", "Repack", day(1, 12, 0), stock.Store1, "3"))

	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeUnknown, events[0].Type)
	assert.Equal(t, "Repack", events[0].Meta.Code)
	assert.True(t, events[0].Delta.IsZero())
	assert.True(t, kg("3").Equal(events[0].Meta.Unattributed))
}

func TestNormalize_Conversion_OnlyQueriedItemNetEffect(t *testing.T) {
	// GIVEN: 40 kg PADDY converted to 26 kg RICE on store 1
	conv := stock.Operation{
		ID: "c-1", Code: "Conversion", At: day(1, 13, 0), Store: stock.Store1, Active: true,
		Lines:      []stock.Line{{Item: "PADDY", Quantity: kg("40")}},
		Conversion: &stock.Conversion{FromItem: "PADDY", ToItem: rice, FromQty: kg("40"), ToQty: kg("26")},
	}

	// WHEN: Normalized for RICE
	events := normalize(t, conv)

	// THEN: +26 on store 1; the PADDY leg only shows in sub-legs
	require.Len(t, events, 1)
	assert.Equal(t, stock.TypeConversion, events[0].Type)
	assertLevels(t, "26", "0", events[0].Delta)
	require.Len(t, events[0].Meta.SubLegs, 2)
	assert.Equal(t, stock.ItemID("PADDY"), events[0].Meta.SubLegs[0].Item)
}

func TestNormalize_Conversion_SourceItemLoses(t *testing.T) {
	conv := stock.Operation{
		ID: "c-1", Code: "Conversion", At: day(1, 13, 0), Store: stock.Store1, Active: true,
		Lines:      lines("40"),
		Conversion: &stock.Conversion{FromItem: rice, ToItem: "FLOUR", FromQty: kg("40"), ToQty: kg("38")},
	}

	events := normalize(t, conv)

	require.Len(t, events, 1)
	assertLevels(t, "-40", "0", events[0].Delta)
}

func TestNormalize_TransferWithConversion_CompositeEvent(t *testing.T) {
	// GIVEN: 20 kg RICE sent S1 -> S2 and converted to FLOUR on arrival
	tr := stock.Operation{
		ID: "tc-1", Code: "Transfer", At: day(1, 14, 0), Store: stock.Store1, ToStore: stock.Store2, Active: true,
		Lines:      lines("20"),
		Conversion: &stock.Conversion{FromItem: rice, ToItem: "FLOUR", FromQty: kg("20"), ToQty: kg("19")},
	}

	// WHEN: Normalized for RICE
	events := normalize(t, tr)

	// THEN: One event; RICE leaves store 1 and never stays on store 2
	require.Len(t, events, 1)
	assertLevels(t, "-20", "0", events[0].Delta)
	assert.Len(t, events[0].Meta.SubLegs, 4)
}

// =============================================================================
// SNAPSHOTS AND RANGE
// =============================================================================

func TestNormalize_Snapshot_ZeroDeltaBoundaries(t *testing.T) {
	events := normalize(t,
		snap("open", day(1, 0, 0), 100, 50),
		snap("mid", day(1, 12, 0), 90, 50),
		snap("close", day(2, 0, 0), 80, 50),
	)

	require.Len(t, events, 3)
	wantBoundary := []stock.Boundary{stock.BoundaryOpening, stock.BoundaryCheckpoint, stock.BoundaryClosing}
	for i, ev := range events {
		assert.Equal(t, stock.TypeSnapshot, ev.Type)
		assert.True(t, ev.Delta.IsZero(), "snapshots never replay as deltas")
		assert.Equal(t, wantBoundary[i], ev.Boundary)
		require.NotNil(t, ev.Recorded)
	}
}

func TestNormalize_InvertedWindow_Rejected(t *testing.T) {
	w := stock.Window{Start: day(2, 0, 0), End: day(1, 0, 0)}

	_, err := stock.NewNormalizer(nil).Normalize(nil, rice, w)

	assert.ErrorIs(t, err, stock.ErrInvalidRange)
	var rangeErr *stock.InvalidRangeError
	assert.ErrorAs(t, err, &rangeErr)
}
