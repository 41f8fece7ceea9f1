/*
source.go - Read interfaces between the engine and storage

PURPOSE:
  The engine never talks to a database. It asks a Source for the raw rows
  of one item in one window and for the two bounding snapshots.

KEY INTERFACES:
  Source:      raw records + boundary snapshot lookup (read-only)
  ResultCache: optional cache of finished reconciliations
  RunLog:      optional append-only history of reconciliation outcomes

CONTRACT:
  Records(ctx, item, w) returns
    - transactions and stock operations with Start <= At <= End
      that have at least one line (or conversion target) for item
    - snapshots for item strictly inside (Start, End)
  Order is irrelevant; the ledger builder sorts. Service asks for the span
  between the two boundary snapshots, which may be wider than the window
  the caller requested.

  SnapshotAtOrBefore / SnapshotAtOrAfter return (nil, nil) when no snapshot
  exists. A missing boundary is a domain condition, not a storage failure.

IMPLEMENTATIONS:
  - stock/store/memory.go: in-memory, for tests and the demo server
  - store/sqlite, store/mysql: database-backed via store/sqldb
  - cache/redis.go: ResultCache over Redis

SEE ALSO:
  - service.go: the consumer of these interfaces
*/
package stock

import (
	"context"
	"time"
)

// Source supplies raw records and boundary snapshots for one item.
type Source interface {
	// Records returns trades and stock operations in [Start, End] and
	// snapshots strictly inside the window.
	Records(ctx context.Context, item ItemID, w Window) ([]RawRecord, error)

	// SnapshotAtOrBefore returns the latest snapshot with At <= at, or nil.
	SnapshotAtOrBefore(ctx context.Context, item ItemID, at time.Time) (*Snapshot, error)

	// SnapshotAtOrAfter returns the earliest snapshot with At >= at, or nil.
	SnapshotAtOrAfter(ctx context.Context, item ItemID, at time.Time) (*Snapshot, error)
}

// ResultCache stores finished reconciliations. Implementations must treat
// Invalidate as "every cached window for this item is stale" and
// InvalidateAll as the same for every item.
type ResultCache interface {
	Get(ctx context.Context, item ItemID, w Window) (*Result, bool, error)
	Put(ctx context.Context, item ItemID, w Window, res *Result) error
	Invalidate(ctx context.Context, item ItemID) error
	InvalidateAll(ctx context.Context) error
}

// Run is the recorded outcome of one reconciliation.
type Run struct {
	ID          string    `json:"id"`
	Item        ItemID    `json:"item"`
	Window      Window    `json:"window"`
	Valid       bool      `json:"valid"`
	Discrepancy Levels    `json:"discrepancy"`
	Issues      int       `json:"issues"`
	RanAt       time.Time `json:"ran_at"`
}

// RunLog keeps reconciliation history. Append-only.
type RunLog interface {
	SaveRun(ctx context.Context, run Run) error
	// Runs returns the newest runs of item first; limit <= 0 means all.
	Runs(ctx context.Context, item ItemID, limit int) ([]Run, error)
}
