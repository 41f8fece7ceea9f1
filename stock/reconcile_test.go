package stock_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockledger/stock"
)

func reconcile(t *testing.T, opening, closing stock.Snapshot, records ...stock.RawRecord) stock.Report {
	t.Helper()
	all := append([]stock.RawRecord{opening, closing}, records...)
	points := stock.Build(normalize(t, all...), opening)
	return stock.NewValidator(stock.DefaultEpsilon).Validate(points, opening.Levels, closing.Levels)
}

func wastedTransfer() stock.Operation {
	tr := op("t-1", "Transfer", day(1, 11, 0), stock.Store1, "30")
	tr.ToStore = stock.Store2
	tr.Wastage = kg("1.5")
	return tr
}

// =============================================================================
// BALANCED LEDGERS
// =============================================================================

func TestValidate_DailySale_Balanced(t *testing.T) {
	// GIVEN: Opening 100/50, sales of 5 and 15 on store 1, closing 80/50
	opening := snap("open", day(1, 0, 0), 100, 50)
	closing := snap("close", day(2, 0, 0), 80, 50)

	// WHEN: Reconciled
	report := reconcile(t, opening, closing,
		sale("s-1", day(1, 10, 0), stock.Store1, "5"),
		sale("s-2", day(1, 15, 0), stock.Store1, "15"),
	)

	// THEN: Valid, one Selling row of -20 on store 1
	assert.True(t, report.Valid)
	assert.Empty(t, report.Issues)
	assert.True(t, report.Discrepancy.IsZero())
	assertLevels(t, "80", "50", report.Expected)
	require.Len(t, report.ByType, 1)
	assert.Equal(t, stock.TypeSelling, report.ByType[0].Type)
	assert.True(t, kg("-20").Equal(report.ByType[0].Store1))
	assert.True(t, kg("0").Equal(report.ByType[0].Store2))
	assert.True(t, kg("-20").Equal(report.ByType[0].Net))
	assert.Equal(t, 2, report.ByType[0].Count)
	assert.Equal(t, 2, report.EventCount)
}

func TestValidate_TransferWithWastage_Balanced(t *testing.T) {
	opening := snap("open", day(1, 0, 0), 100, 0)
	closing := snap("close", day(2, 0, 0), 70, 28.5)

	report := reconcile(t, opening, closing, wastedTransfer())

	assert.True(t, report.Valid)
	assertLevels(t, "-30", "28.5", report.DeltaSum)
	require.Len(t, report.ByType, 1)
	assert.Equal(t, stock.TypeTransferS1S2, report.ByType[0].Type)
	assert.True(t, kg("-1.5").Equal(report.ByType[0].Net), "net of a transfer is the wastage lost")
}

func TestValidate_WithinEpsilon_IsValid(t *testing.T) {
	opening := snap("open", day(1, 0, 0), 100, 50)
	closing := snap("close", day(2, 0, 0), 95.0005, 50)

	report := reconcile(t, opening, closing, sale("s-1", day(1, 10, 0), stock.Store1, "5"))

	assert.True(t, report.Valid)
}

func TestValidate_EmptyRange_ValidWhenSnapshotsAgree(t *testing.T) {
	opening := snap("open", day(1, 0, 0), 100, 50)

	points := stock.Build(nil, opening)
	report := stock.NewValidator(stock.DefaultEpsilon).Validate(points, opening.Levels, opening.Levels)

	assert.True(t, report.Valid)
	assert.Empty(t, report.ByType)
	assert.Zero(t, report.EventCount)
}

// =============================================================================
// DISCREPANCIES
// =============================================================================

func TestValidate_InducedDiscrepancy_PointsAtWastedTransfer(t *testing.T) {
	// GIVEN: The wasted transfer, but the closing count says store 2 holds 30
	opening := snap("open", day(1, 0, 0), 100, 0)
	closing := snap("close", day(2, 0, 0), 70, 30)

	// WHEN: Reconciled
	report := reconcile(t, opening, closing, wastedTransfer())

	// THEN: Invalid by +1.5 on store 2 and the transfer is the first candidate
	assert.False(t, report.Valid)
	assertLevels(t, "0", "1.5", report.Discrepancy)
	require.NotEmpty(t, report.Issues)
	first := report.Issues[0]
	assert.Equal(t, stock.IssueEvent, first.Kind)
	assert.Equal(t, "t-1", first.EventID)
	assert.True(t, first.Matches)
	assert.Contains(t, first.Reason, "its wastage equals the store 2 discrepancy of +1.5")
	assert.Contains(t, first.Reason, "Heuristic candidate, not a proven cause.")
}

func TestValidate_MatchingEventRanksAboveLargerErrorProne(t *testing.T) {
	// GIVEN: A large manual adjustment and a small sale equal to the discrepancy
	opening := snap("open", day(1, 0, 0), 100, 0)
	closing := snap("close", day(2, 0, 0), 75.75, 0)

	report := reconcile(t, opening, closing,
		op("o-1", "AdjOut", day(1, 9, 0), stock.Store1, "20"),
		sale("s-1", day(1, 10, 0), stock.Store1, "4.25"),
	)

	// THEN: 100 - 20 - 4.25 balances
	assert.True(t, report.Valid)

	// AND WHEN: The closing count missed the sale
	closing = snap("close", day(2, 0, 0), 80, 0)
	report = reconcile(t, opening, closing,
		op("o-1", "AdjOut", day(1, 9, 0), stock.Store1, "20"),
		sale("s-1", day(1, 10, 0), stock.Store1, "4.25"),
	)

	// THEN: The matching sale outranks the bigger adjustment
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 2)
	assert.Equal(t, "s-1", report.Issues[0].EventID)
	assert.True(t, report.Issues[0].Matches)
	assert.Equal(t, "o-1", report.Issues[1].EventID)
	assert.False(t, report.Issues[1].Matches)
}

func TestValidate_UnknownEvent_IsCandidate(t *testing.T) {
	opening := snap("open", day(1, 0, 0), 100, 0)
	closing := snap("close", day(2, 0, 0), 97, 0)

	report := reconcile(t, opening, closing, op("o-1", "Repack", day(1, 12, 0), stock.Store1, "3"))

	assert.False(t, report.Valid)
	assert.Equal(t, 1, report.UnknownEvents)
	require.Len(t, report.Issues, 1)
	assert.True(t, report.Issues[0].Matches, "unattributed 3 kg equals the store 1 gap")
	assert.Contains(t, report.Issues[0].Reason, "not attributed to a store")
}

func TestValidate_CheckpointDrift_ReportedFirst(t *testing.T) {
	// GIVEN: A mid-day count that already disagrees with the ledger
	opening := snap("open", day(1, 0, 0), 100, 0)
	mid := snap("mid", day(1, 12, 0), 93, 0)
	closing := snap("close", day(2, 0, 0), 88, 0)

	// WHEN: Reconciled
	report := reconcile(t, opening, closing,
		sale("s-1", day(1, 10, 0), stock.Store1, "5"),
		mid,
		sale("s-2", day(1, 15, 0), stock.Store1, "5"),
	)

	// THEN: The checkpoint narrows the drift to [opening, mid]
	assert.False(t, report.Valid)
	assertLevels(t, "-2", "0", report.Discrepancy)
	require.NotEmpty(t, report.Issues)
	first := report.Issues[0]
	assert.Equal(t, stock.IssueCheckpoint, first.Kind)
	assert.Equal(t, "mid", first.EventID)
	require.NotNil(t, first.From)
	assert.True(t, first.From.Equal(day(1, 0, 0)))
	assertLevels(t, "-2", "0", first.Delta)
}

func TestValidate_NoCandidates_WindowIssue(t *testing.T) {
	// GIVEN: Only plain sales and a gap none of them explains
	opening := snap("open", day(1, 0, 0), 100, 0)
	closing := snap("close", day(2, 0, 0), 50, 0)

	report := reconcile(t, opening, closing, sale("s-1", day(1, 10, 0), stock.Store1, "5"))

	// THEN: One window-level issue
	assert.False(t, report.Valid)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, stock.IssueWindow, report.Issues[0].Kind)
	assert.Contains(t, report.Issues[0].Reason, "Heuristic candidate")
}

func TestValidate_CheckpointsDoNotCount(t *testing.T) {
	opening := snap("open", day(1, 0, 0), 100, 0)
	report := reconcile(t, opening, snap("close", day(2, 0, 0), 100, 0), snap("mid", day(1, 12, 0), 100, 0))

	assert.True(t, report.Valid)
	assert.Zero(t, report.EventCount)
	assert.Empty(t, report.ByType)
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestValidate_Randomized_DiscrepancyIsClosingMinusExpected(t *testing.T) {
	// Any ledger balances against its own replayed closing, and any
	// perturbation shows up as exactly that perturbation.
	rng := rand.New(rand.NewSource(7))
	codes := []string{"AdjIn", "AdjOut", "Return", "Wastage", "StockTake"}

	for round := 0; round < 50; round++ {
		opening := snap("open", day(1, 0, 0), float64(rng.Intn(500)), float64(rng.Intn(500)))
		var records []stock.RawRecord
		for i := 0; i < 1+rng.Intn(30); i++ {
			at := day(1, rng.Intn(24), rng.Intn(60))
			store := stock.StoreNo(1 + rng.Intn(2))
			q := decimal.New(int64(1+rng.Intn(5000)), -2).String()
			id := decimal.NewFromInt(int64(i)).String()
			switch rng.Intn(4) {
			case 0:
				records = append(records, sale("s-"+id, at, store, q))
			case 1:
				records = append(records, purchase("b-"+id, at, store, q))
			case 2:
				tr := op("t-"+id, "Transfer", at, store, q)
				tr.ToStore = 3 - store
				records = append(records, tr)
			default:
				records = append(records, op("o-"+id, codes[rng.Intn(len(codes))], at, store, q))
			}
		}

		points := stock.Build(normalize(t, append(records, opening)...), opening)
		replayed := stock.Closing(points)
		v := stock.NewValidator(stock.DefaultEpsilon)

		balanced := v.Validate(points, opening.Levels, replayed)
		require.True(t, balanced.Valid, "round %d", round)

		shift := stock.Levels{Store1: decimal.New(int64(1+rng.Intn(100)), -1), Store2: decimal.Zero}
		off := v.Validate(points, opening.Levels, replayed.Add(shift))
		require.False(t, off.Valid, "round %d", round)
		assert.True(t, off.Discrepancy.Equal(shift), "round %d", round)
		assert.NotEmpty(t, off.Issues, "round %d", round)
	}
}

func TestNewValidator_NegativeEpsilon_FallsBack(t *testing.T) {
	v := stock.NewValidator(kg("-1"))

	assert.True(t, stock.DefaultEpsilon.Equal(v.Epsilon))
}
