/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	stock records for demos. Each scenario creates bounding snapshots plus
	the trades and stock operations in between, with deterministic IDs.

AVAILABLE SCENARIOS:

	daily-sale:          two sales on store 1, balanced
	transfer-wastage:    S1→S2 transfer of 30 kg with 1.5 kg wastage, balanced
	induced-discrepancy: same transfer, closing stock-take off by 1.5 kg on store 2
	mixed-week:          purchases, sales, transfer, adjustment, conversion,
	                     return, stock-take, an unknown code and a checkpoint

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Save snapshots, trades, stock operations
 3. Drop cached results of the scenario items

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "induced-discrepancy"}

	then GET /api/items/RICE/ledger?from=2025-03-01&to=2025-03-01

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description, item and window
 2. Add a fixture function to 'fixtures'

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ingest handlers use the same store methods
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockledger/config"
	"github.com/warp/stockledger/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const scenarioItem = stock.ItemID("RICE")

var scenarios = []ScenarioDTO{
	{
		ID:          "daily-sale",
		Name:        "Daily Sale",
		Description: "Two sales on store 1; opening 100/50, closing 80/50",
		Item:        string(scenarioItem),
		From:        "2025-03-01",
		To:          "2025-03-01",
	},
	{
		ID:          "transfer-wastage",
		Name:        "Transfer With Wastage",
		Description: "30 kg S1→S2 with 1.5 kg wastage; closing 70/28.5",
		Item:        string(scenarioItem),
		From:        "2025-03-01",
		To:          "2025-03-01",
	},
	{
		ID:          "induced-discrepancy",
		Name:        "Induced Discrepancy",
		Description: "Same transfer, but the closing stock-take counts 30 kg on store 2",
		Item:        string(scenarioItem),
		From:        "2025-03-01",
		To:          "2025-03-01",
	},
	{
		ID:          "mixed-week",
		Name:        "Mixed Week",
		Description: "A week of purchases, sales, transfer, adjustment, conversion, return and stock-take",
		Item:        string(scenarioItem),
		From:        "2025-03-03",
		To:          "2025-03-09",
	},
}

// fixture is the record set a scenario writes.
type fixture struct {
	snapshots    []stock.Snapshot
	transactions []stock.Transaction
	operations   []stock.Operation
}

var fixtures = map[string]func() fixture{
	"daily-sale":          dailySaleFixture,
	"transfer-wastage":    func() fixture { return transferFixture(stock.NewLevels(70, 28.5)) },
	"induced-discrepancy": func() fixture { return transferFixture(stock.NewLevels(70, 30)) },
	"mixed-week":          mixedWeekFixture,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if _, ok := fixtures[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		config.LogError(h.logger(), "api", "LoadScenario", req.ScenarioID, nil, err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all records.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	if err := h.Service.InvalidateAll(ctx); err != nil {
		config.LogError(h.logger(), "api", "reset", "result cache", nil, err)
	}
	return nil
}

// loadScenario resets the store and writes the fixture of id.
func (h *Handler) loadScenario(ctx context.Context, id string) error {
	build, ok := fixtures[id]
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}
	if err := h.reset(ctx); err != nil {
		return err
	}

	fx := build()
	for _, s := range fx.snapshots {
		if err := h.Store.SaveSnapshot(ctx, s); err != nil {
			return err
		}
	}
	for _, tx := range fx.transactions {
		if err := h.Store.SaveTransaction(ctx, tx); err != nil {
			return err
		}
	}
	for _, op := range fx.operations {
		if err := h.Store.SaveOperation(ctx, op); err != nil {
			return err
		}
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.invalidate(ctx, []stock.ItemID{scenarioItem})
	return nil
}

// =============================================================================
// SCENARIO FIXTURES
// =============================================================================

func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func kg(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func line(q string) []stock.Line {
	return []stock.Line{{Item: scenarioItem, Quantity: kg(q)}}
}

func snapshot(id string, t time.Time, s1, s2 float64, reason stock.SnapshotReason) stock.Snapshot {
	return stock.Snapshot{ID: id, Item: scenarioItem, At: t, Levels: stock.NewLevels(s1, s2), Reason: reason}
}

func dailySaleFixture() fixture {
	return fixture{
		snapshots: []stock.Snapshot{
			snapshot("snap-open", at(1, 0, 0), 100, 50, stock.SnapshotStockTake),
			snapshot("snap-close", at(2, 0, 0), 80, 50, stock.SnapshotTerminal),
		},
		transactions: []stock.Transaction{
			{ID: "sale-1", Type: stock.TradeSelling, At: at(1, 10, 0), Store: stock.Store1, Lines: line("5"), Active: true, BillCode: "B-1001", Customer: "Walk-in"},
			{ID: "sale-2", Type: stock.TradeSelling, At: at(1, 15, 30), Store: stock.Store1, Lines: line("15"), Active: true, BillCode: "B-1002", Customer: "Hotel Lanka"},
		},
	}
}

func transferFixture(closing stock.Levels) fixture {
	return fixture{
		snapshots: []stock.Snapshot{
			snapshot("snap-open", at(1, 0, 0), 100, 0, stock.SnapshotStockTake),
			{ID: "snap-close", Item: scenarioItem, At: at(2, 0, 0), Levels: closing, Reason: stock.SnapshotStockTake},
		},
		operations: []stock.Operation{
			{
				ID:          "op-transfer-1",
				Code:        "Transfer",
				At:          at(1, 11, 0),
				Store:       stock.Store1,
				ToStore:     stock.Store2,
				Lines:       line("30"),
				Wastage:     kg("1.5"),
				Active:      true,
				Lorry:       "WP-4521",
				Destination: "Store 2",
			},
		},
	}
}

func mixedWeekFixture() fixture {
	return fixture{
		snapshots: []stock.Snapshot{
			snapshot("snap-open", at(3, 0, 0), 200, 40, stock.SnapshotStockTake),
			snapshot("snap-mid", at(6, 0, 0), 175, 80, stock.SnapshotTerminal),
			snapshot("snap-close", at(10, 0, 0), 170, 85, stock.SnapshotStockTake),
		},
		transactions: []stock.Transaction{
			{ID: "buy-1", Type: stock.TradeBuying, At: at(3, 9, 0), Store: stock.Store1, Lines: line("50"), Active: true, BillCode: "P-301"},
			{ID: "sale-1", Type: stock.TradeSelling, At: at(3, 15, 0), Store: stock.Store1, Lines: line("12.5"), Active: true, BillCode: "B-2001"},
			{ID: "sale-2", Type: stock.TradeSelling, At: at(5, 8, 0), Store: stock.Store2, Lines: line("19.5"), Active: true, BillCode: "B-2002"},
			{ID: "sale-3", Type: stock.TradeSelling, At: at(9, 17, 0), Store: stock.Store1, Lines: line("30"), Active: true, BillCode: "B-2003"},
			{ID: "sale-void", Type: stock.TradeSelling, At: at(9, 18, 0), Store: stock.Store1, Lines: line("10"), Active: false, BillCode: "B-2004", Comments: "voided"},
		},
		operations: []stock.Operation{
			{ID: "op-transfer", Code: "Transfer", At: at(4, 10, 0), Store: stock.Store1, ToStore: stock.Store2, Lines: line("60"), Wastage: kg("0.5"), Active: true, Lorry: "WP-4521"},
			{ID: "op-adjout", Code: "AdjOut", At: at(5, 18, 0), Store: stock.Store1, Lines: line("2.5"), Active: true, Comments: "torn bag"},
			{
				ID:     "op-convert",
				Code:   "Conversion",
				At:     at(6, 11, 0),
				Store:  stock.Store1,
				Lines:  []stock.Line{{Item: "PADDY", Quantity: kg("40")}},
				Active: true,
				Conversion: &stock.Conversion{
					FromItem: "PADDY",
					ToItem:   scenarioItem,
					FromQty:  kg("40"),
					ToQty:    kg("26"),
				},
			},
			{ID: "op-return", Code: "Return", At: at(7, 14, 0), Store: stock.Store2, Lines: line("5"), Active: true},
			{ID: "op-stocktake", Code: "StockTake", At: at(8, 9, 0), Store: stock.Store1, Lines: line("-1"), Active: true},
			{ID: "op-repack", Code: "Repack", At: at(8, 12, 0), Store: stock.Store1, Lines: line("3"), Active: true},
		},
	}
}
