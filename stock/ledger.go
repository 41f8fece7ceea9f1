/*
ledger.go - Ordering and replay

PURPOSE:
  Merges normalized events into one timeline and replays them from the
  opening snapshot, producing the running per-store balance before and
  after every event. This is what the stock-events screen and the graphs
  draw.

ORDERING:
  Events are sorted by (At, priority, source, ID):
    priority 0: opening snapshot marker
    priority 1: trades, stock operations, checkpoint snapshots
    priority 2: closing snapshot marker
  So "opening stock" always reads as the state BEFORE a same-instant sale,
  and the closing marker reads as the state AFTER a same-instant sale.

REPLAY:
  acc := opening
  for each event:  Before = acc; acc += Delta; After = acc
  Strictly sequential; decimal arithmetic is exact, so identical input
  always yields identical output.
*/
package stock

import (
	"sort"
)

var sourceRank = map[EventSource]int{
	SourceSnapshot:    0,
	SourceOperation:   1,
	SourceTransaction: 2,
}

// Build orders events and replays them from the opening snapshot.
// With no events it returns one synthetic point at the opening level.
func Build(events []Event, opening Snapshot) []Point {
	if len(events) == 0 {
		return []Point{{
			Event: Event{
				ID:       opening.ID,
				At:       opening.At,
				Type:     TypeSnapshot,
				Source:   SourceSnapshot,
				Boundary: BoundaryOpening,
			},
			Before:    opening.Levels,
			After:     opening.Levels,
			Synthetic: true,
		}}
	}

	ordered := make([]Event, len(events))
	copy(ordered, events)
	Sort(ordered)

	points := make([]Point, 0, len(ordered))
	acc := opening.Levels
	for _, e := range ordered {
		before := acc
		acc = acc.Add(e.Delta)
		points = append(points, Point{Event: e, Before: before, After: acc})
	}
	return points
}

// Sort orders events in place by (At, priority, source, ID). The sort is stable.
func Sort(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if pa, pb := a.priority(), b.priority(); pa != pb {
			return pa < pb
		}
		if ra, rb := sourceRank[a.Source], sourceRank[b.Source]; ra != rb {
			return ra < rb
		}
		return a.ID < b.ID
	})
}

// Closing returns the balance after the last point.
func Closing(points []Point) Levels {
	if len(points) == 0 {
		return Levels{}
	}
	return points[len(points)-1].After
}

// DeltaSum sums deltas of all non-synthetic points.
func DeltaSum(points []Point) Levels {
	var sum Levels
	for _, p := range points {
		if p.Synthetic {
			continue
		}
		sum = sum.Add(p.Delta)
	}
	return sum
}
