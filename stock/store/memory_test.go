package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stockledger/stock"
	"github.com/warp/stockledger/stock/store"
)

const rice = stock.ItemID("RICE")

func at(d, h int) time.Time {
	return time.Date(2025, time.March, d, h, 0, 0, 0, time.UTC)
}

func snapshot(id string, t time.Time) stock.Snapshot {
	return stock.Snapshot{ID: id, Item: rice, At: t, Levels: stock.NewLevels(1, 2)}
}

func TestMemory_SnapshotLookups(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	// Inserted out of order
	require.NoError(t, m.SaveSnapshot(ctx, snapshot("s-3", at(3, 0))))
	require.NoError(t, m.SaveSnapshot(ctx, snapshot("s-1", at(1, 0))))
	require.NoError(t, m.SaveSnapshot(ctx, snapshot("s-2", at(2, 0))))

	before, err := m.SnapshotAtOrBefore(ctx, rice, at(2, 0))
	require.NoError(t, err)
	assert.Equal(t, "s-2", before.ID)

	after, err := m.SnapshotAtOrAfter(ctx, rice, at(2, 1))
	require.NoError(t, err)
	assert.Equal(t, "s-3", after.ID)

	none, err := m.SnapshotAtOrBefore(ctx, rice, at(0, 23))
	require.NoError(t, err)
	assert.Nil(t, none)

	all, err := m.Snapshots(ctx, rice)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"s-1", "s-2", "s-3"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestMemory_SaveSnapshot_ReplacesByID(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveSnapshot(ctx, snapshot("s-1", at(1, 0))))
	require.NoError(t, m.SaveSnapshot(ctx, snapshot("s-1", at(5, 0))))

	all, err := m.Snapshots(ctx, rice)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, at(5, 0), all[0].At)
}

func TestMemory_Records_FiltersByItemAndWindow(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	w := stock.Window{Start: at(1, 0), End: at(2, 0).Add(-time.Nanosecond)}
	one := decimal.NewFromInt(1)

	require.NoError(t, m.SaveTransaction(ctx, stock.Transaction{ID: "in", At: at(1, 9), Lines: []stock.Line{{Item: rice, Quantity: one}}}))
	require.NoError(t, m.SaveTransaction(ctx, stock.Transaction{ID: "late", At: at(2, 0), Lines: []stock.Line{{Item: rice, Quantity: one}}}))
	require.NoError(t, m.SaveTransaction(ctx, stock.Transaction{ID: "other", At: at(1, 9), Lines: []stock.Line{{Item: "SUGAR", Quantity: one}}}))
	require.NoError(t, m.SaveOperation(ctx, stock.Operation{
		ID: "conv", At: at(1, 10), Lines: []stock.Line{{Item: "PADDY", Quantity: one}},
		Conversion: &stock.Conversion{FromItem: "PADDY", ToItem: rice, FromQty: one, ToQty: one},
	}))
	require.NoError(t, m.SaveSnapshot(ctx, snapshot("open", at(1, 0))))
	require.NoError(t, m.SaveSnapshot(ctx, snapshot("mid", at(1, 12))))

	records, err := m.Records(ctx, rice, w)
	require.NoError(t, err)

	var ids []string
	for _, r := range records {
		ids = append(ids, r.RecordID())
	}
	assert.ElementsMatch(t, []string{"in", "conv", "mid"}, ids)
}

func TestMemory_Runs_NewestFirst(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, m.SaveRun(ctx, stock.Run{ID: id, Item: rice}))
	}
	require.NoError(t, m.SaveRun(ctx, stock.Run{ID: "x", Item: "SUGAR"}))

	runs, err := m.Runs(ctx, rice, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)

	require.NoError(t, m.Reset(ctx))
	runs, err = m.Runs(ctx, rice, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestMemory_SaveSnapshot_ReplaceMovesItem(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveSnapshot(ctx, snapshot("s-1", at(1, 0))))
	moved := snapshot("s-1", at(1, 0))
	moved.Item = "SUGAR"
	require.NoError(t, m.SaveSnapshot(ctx, moved))

	rices, err := m.Snapshots(ctx, rice)
	require.NoError(t, err)
	assert.Empty(t, rices, "old copy is gone")
	sugars, err := m.Snapshots(ctx, "SUGAR")
	require.NoError(t, err)
	assert.Len(t, sugars, 1)
}

func TestMemory_RecordItems(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	one := decimal.NewFromInt(1)

	require.NoError(t, m.SaveTransaction(ctx, stock.Transaction{ID: "t-1", Lines: []stock.Line{{Item: rice, Quantity: one}}}))
	require.NoError(t, m.SaveOperation(ctx, stock.Operation{
		ID: "op-1", Conversion: &stock.Conversion{FromItem: "PADDY", ToItem: rice, FromQty: one, ToQty: one},
	}))
	require.NoError(t, m.SaveSnapshot(ctx, snapshot("s-1", at(1, 0))))

	items, err := m.RecordItems(ctx, stock.SourceTransaction, "t-1")
	require.NoError(t, err)
	assert.Equal(t, []stock.ItemID{rice}, items)

	items, err = m.RecordItems(ctx, stock.SourceOperation, "op-1")
	require.NoError(t, err)
	assert.Equal(t, []stock.ItemID{"PADDY", rice}, items)

	items, err = m.RecordItems(ctx, stock.SourceSnapshot, "s-1")
	require.NoError(t, err)
	assert.Equal(t, []stock.ItemID{rice}, items)

	items, err = m.RecordItems(ctx, stock.SourceTransaction, "missing")
	require.NoError(t, err)
	assert.Nil(t, items)
}
