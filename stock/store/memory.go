// Package store provides in-process stock.Source implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/stockledger/stock"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	transactions []stock.Transaction
	operations   []stock.Operation
	snapshots    map[stock.ItemID][]stock.Snapshot // sorted by At
	runs         []stock.Run
}

func NewMemory() *Memory {
	return &Memory{snapshots: make(map[stock.ItemID][]stock.Snapshot)}
}

func (m *Memory) SaveTransaction(_ context.Context, tx stock.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = upsert(m.transactions, tx, func(t stock.Transaction) string { return t.ID })
	return nil
}

func (m *Memory) SaveOperation(_ context.Context, op stock.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = upsert(m.operations, op, func(o stock.Operation) string { return o.ID })
	return nil
}

// SaveSnapshot inserts (or replaces by ID) a snapshot, keeping per-item order.
func (m *Memory) SaveSnapshot(_ context.Context, s stock.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The id may have been saved under another item before.
	for item, snaps := range m.snapshots {
		for i := range snaps {
			if snaps[i].ID == s.ID {
				m.snapshots[item] = append(snaps[:i], snaps[i+1:]...)
				break
			}
		}
	}
	snaps := m.snapshots[s.Item]

	// Binary search for insertion point
	i := sort.Search(len(snaps), func(i int) bool {
		return snaps[i].At.After(s.At)
	})
	snaps = append(snaps, stock.Snapshot{})
	copy(snaps[i+1:], snaps[i:])
	snaps[i] = s
	m.snapshots[s.Item] = snaps
	return nil
}

// RecordItems returns the items touched by the stored record of kind with id,
// or nil when there is none.
func (m *Memory) RecordItems(_ context.Context, kind stock.EventSource, id string) ([]stock.ItemID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch kind {
	case stock.SourceTransaction:
		for _, tx := range m.transactions {
			if tx.ID == id {
				return tx.Items(), nil
			}
		}
	case stock.SourceOperation:
		for _, op := range m.operations {
			if op.ID == id {
				return op.Items(), nil
			}
		}
	case stock.SourceSnapshot:
		for _, snaps := range m.snapshots {
			for _, s := range snaps {
				if s.ID == id {
					return s.Items(), nil
				}
			}
		}
	}
	return nil, nil
}

// Reset drops everything.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = nil
	m.operations = nil
	m.snapshots = make(map[stock.ItemID][]stock.Snapshot)
	m.runs = nil
	return nil
}

// SaveRun appends a reconciliation outcome.
func (m *Memory) SaveRun(_ context.Context, run stock.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// Runs returns the newest runs of item first.
func (m *Memory) Runs(_ context.Context, item stock.ItemID, limit int) ([]stock.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.Run
	for i := len(m.runs) - 1; i >= 0; i-- {
		if m.runs[i].Item != item {
			continue
		}
		out = append(out, m.runs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// =============================================================================
// stock.Source
// =============================================================================

func (m *Memory) Records(_ context.Context, item stock.ItemID, w stock.Window) ([]stock.RawRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []stock.RawRecord
	for _, tx := range m.transactions {
		if w.Contains(tx.At) && touches(tx.Lines, item) {
			out = append(out, tx)
		}
	}
	for _, op := range m.operations {
		if !w.Contains(op.At) {
			continue
		}
		if touches(op.Lines, item) || (op.Conversion != nil && op.Conversion.ToItem == item) {
			out = append(out, op)
		}
	}
	for _, s := range m.snapshots[item] {
		if s.At.After(w.Start) && s.At.Before(w.End) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) SnapshotAtOrBefore(_ context.Context, item stock.ItemID, at time.Time) (*stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.snapshots[item]
	i := sort.Search(len(snaps), func(i int) bool {
		return snaps[i].At.After(at)
	})
	if i == 0 {
		return nil, nil
	}
	s := snaps[i-1]
	return &s, nil
}

func (m *Memory) SnapshotAtOrAfter(_ context.Context, item stock.ItemID, at time.Time) (*stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.snapshots[item]
	i := sort.Search(len(snaps), func(i int) bool {
		return !snaps[i].At.Before(at)
	})
	if i == len(snaps) {
		return nil, nil
	}
	s := snaps[i]
	return &s, nil
}

// Snapshots returns all snapshots of item in time order.
func (m *Memory) Snapshots(_ context.Context, item stock.ItemID) ([]stock.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]stock.Snapshot, len(m.snapshots[item]))
	copy(out, m.snapshots[item])
	return out, nil
}

func touches(lines []stock.Line, item stock.ItemID) bool {
	for _, l := range lines {
		if l.Item == item {
			return true
		}
	}
	return false
}

func upsert[T any](list []T, v T, id func(T) string) []T {
	for i := range list {
		if id(list[i]) == id(v) {
			list[i] = v
			return list
		}
	}
	return append(list, v)
}
