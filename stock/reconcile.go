/*
reconcile.go - Reconciliation against independently recorded snapshots

PURPOSE:
  Proves (or fails to prove) that the deltas between two snapshots account
  for the full observed change:

    Expected = Opening + Σ Delta
    Valid    = |Expected - Closing| <= Epsilon   (per store)

  Closing is NOT derived from the same event stream (it is a stock-take or
  the terminal's own state), so this is a genuine cross-check.

EXPLANATION:
  When invalid, Issues lists candidate causes, best first:
    1. The first checkpoint snapshot that disagrees with the running balance
       (narrows the drift to one period)
    2. Events whose delta, wastage, surplus or unattributed quantity equals a
       store's discrepancy
    3. Error-prone events (manual adjustments, stock-take, stock-clear,
       conversions, transfers with wastage/surplus, Unknown) by |delta| desc
  Every reason says it is a heuristic candidate. None of this is a proof.

MOVEMENT SUMMARY:
  ByType is always filled, valid or not.
*/
package stock

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REPORT
// =============================================================================

// Report is the outcome of one reconciliation. Valid=false is a finding, not an error.
type Report struct {
	Opening       Levels         `json:"opening"`
	Closing       Levels         `json:"closing"`
	ByType        []TypeMovement `json:"by_type"`
	DeltaSum      Levels         `json:"delta_sum"`
	Expected      Levels         `json:"expected"`
	Actual        Levels         `json:"actual"`
	Valid         bool           `json:"valid"`
	Discrepancy   Levels         `json:"discrepancy"`
	Issues        []Issue        `json:"issues"`
	EventCount    int            `json:"event_count"`
	UnknownEvents int            `json:"unknown_events"`
}

// TypeMovement is one row of the movement summary.
type TypeMovement struct {
	Type   EventType       `json:"type"`
	Store1 decimal.Decimal `json:"store1"`
	Store2 decimal.Decimal `json:"store2"`
	Net    decimal.Decimal `json:"net"`
	Count  int             `json:"count"`
}

type IssueKind string

const (
	IssueEvent      IssueKind = "event"
	IssueCheckpoint IssueKind = "checkpoint"
	IssueWindow     IssueKind = "window"
)

// Issue is a candidate explanation for a discrepancy.
type Issue struct {
	Kind    IssueKind  `json:"kind"`
	EventID string     `json:"event_id,omitempty"`
	Type    EventType  `json:"type,omitempty"`
	Code    string     `json:"code,omitempty"`
	At      time.Time  `json:"at"`
	From    *time.Time `json:"from,omitempty"` // period issues only
	Delta   Levels     `json:"delta"`
	Matches bool       `json:"matches"` // a quantity equals a store discrepancy
	Reason  string     `json:"reason"`
}

// =============================================================================
// VALIDATOR
// =============================================================================

type Validator struct {
	Epsilon decimal.Decimal
}

// NewValidator returns a validator; a negative epsilon falls back to DefaultEpsilon.
func NewValidator(eps decimal.Decimal) *Validator {
	if eps.IsNegative() {
		eps = DefaultEpsilon
	}
	return &Validator{Epsilon: eps}
}

// Validate checks opening + Σdeltas against closing and explains any mismatch.
func (v *Validator) Validate(points []Point, opening, closing Levels) Report {
	sum := DeltaSum(points)
	expected := opening.Add(sum)

	r := Report{
		Opening:  opening,
		Closing:  closing,
		ByType:   byType(points),
		DeltaSum: sum,
		Expected: expected,
		Actual:   closing,
		Issues:   []Issue{},
	}
	for _, p := range points {
		if p.Synthetic || p.Source == SourceSnapshot {
			continue
		}
		r.EventCount++
		if p.Type == TypeUnknown {
			r.UnknownEvents++
		}
	}

	r.Valid = expected.Within(closing, v.Epsilon)
	if r.Valid {
		return r
	}
	r.Discrepancy = closing.Sub(expected)
	r.Issues = v.explain(points, r.Discrepancy)
	return r
}

func byType(points []Point) []TypeMovement {
	rows := []TypeMovement{}
	index := map[EventType]int{}
	for _, p := range points {
		if p.Synthetic || p.Source == SourceSnapshot {
			continue
		}
		i, ok := index[p.Type]
		if !ok {
			i = len(rows)
			index[p.Type] = i
			rows = append(rows, TypeMovement{Type: p.Type, Store1: decimal.Zero, Store2: decimal.Zero, Net: decimal.Zero})
		}
		rows[i].Store1 = rows[i].Store1.Add(p.Delta.Store1)
		rows[i].Store2 = rows[i].Store2.Add(p.Delta.Store2)
		rows[i].Net = rows[i].Store1.Add(rows[i].Store2)
		rows[i].Count++
	}
	return rows
}

// =============================================================================
// EXPLANATION HEURISTICS
// =============================================================================

type candidate struct {
	issue     Issue
	magnitude decimal.Decimal
	order     int
}

func (v *Validator) explain(points []Point, disc Levels) []Issue {
	issues := []Issue{}
	if drift, ok := v.checkpointDrift(points); ok {
		issues = append(issues, drift)
	}

	var candidates []candidate
	for i, p := range points {
		if p.Synthetic || p.Source == SourceSnapshot {
			continue
		}
		m, matched := v.match(p.Event, disc)
		if !matched && !errorProne(p.Event) {
			continue
		}
		candidates = append(candidates, candidate{
			issue: Issue{
				Kind:    IssueEvent,
				EventID: p.ID,
				Type:    p.Type,
				Code:    p.Meta.Code,
				At:      p.At,
				Delta:   p.Delta,
				Matches: matched,
				Reason:  eventReason(p.Event, m, matched),
			},
			magnitude: p.Delta.Magnitude().Add(p.Meta.Unattributed.Abs()),
			order:     i,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.issue.Matches != b.issue.Matches {
			return a.issue.Matches
		}
		if !a.magnitude.Equal(b.magnitude) {
			return a.magnitude.GreaterThan(b.magnitude)
		}
		return a.order < b.order
	})
	for _, c := range candidates {
		issues = append(issues, c.issue)
	}

	if len(issues) == 0 && len(points) > 0 {
		from := points[0].At
		to := points[len(points)-1].At
		issues = append(issues, Issue{
			Kind:  IssueWindow,
			At:    to,
			From:  &from,
			Delta: disc,
			Reason: fmt.Sprintf("no error-prone or matching movement between %s and %s; the discrepancy (%s) may come from unrecorded movements. %s",
				formatTime(from), formatTime(to), formatLevels(disc), heuristicNote),
		})
	}
	return issues
}

// checkpointDrift finds the first in-window snapshot that disagrees with the ledger.
func (v *Validator) checkpointDrift(points []Point) (Issue, bool) {
	if len(points) == 0 {
		return Issue{}, false
	}
	since := points[0].At
	for _, p := range points {
		if p.Source != SourceSnapshot || p.Recorded == nil {
			continue
		}
		if p.Boundary != BoundaryCheckpoint {
			if p.Boundary == BoundaryOpening {
				since = p.At
			}
			continue
		}
		if p.After.Within(*p.Recorded, v.Epsilon) {
			since = p.At
			continue
		}
		drift := p.Recorded.Sub(p.After)
		from := since
		return Issue{
			Kind:    IssueCheckpoint,
			EventID: p.ID,
			Type:    TypeSnapshot,
			Code:    p.Meta.Code,
			At:      p.At,
			From:    &from,
			Delta:   drift,
			Reason: fmt.Sprintf("snapshot at %s records %s but the ledger reaches %s; drift (%s) first appears between %s and %s. %s",
				formatTime(p.At), formatLevels(*p.Recorded), formatLevels(p.After), formatLevels(drift),
				formatTime(from), formatTime(p.At), heuristicNote),
		}, true
	}
	return Issue{}, false
}

type matchInfo struct {
	field string
	store StoreNo
	value decimal.Decimal
}

// match reports whether one of the event's quantities equals a store discrepancy.
func (v *Validator) match(e Event, disc Levels) (matchInfo, bool) {
	for _, s := range []StoreNo{Store1, Store2} {
		d := disc.At(s).Abs()
		if d.LessThanOrEqual(v.Epsilon) {
			continue
		}
		fields := []struct {
			name  string
			value decimal.Decimal
		}{
			{"movement", e.Delta.At(s)},
			{"wastage", e.Meta.Wastage},
			{"surplus", e.Meta.Surplus},
			{"unattributed quantity", e.Meta.Unattributed},
		}
		for _, f := range fields {
			if withinEps(f.value.Abs(), d, v.Epsilon) {
				return matchInfo{field: f.name, store: s, value: disc.At(s)}, true
			}
		}
	}
	return matchInfo{}, false
}

func errorProne(e Event) bool {
	switch e.Type {
	case TypeAdjIn, TypeAdjOut, TypeStockTake, TypeStockClear, TypeConversion, TypeUnknown:
		return true
	case TypeTransferS1S2, TypeTransferS2S1:
		return !e.Meta.Wastage.IsZero() || !e.Meta.Surplus.IsZero() || len(e.Meta.SubLegs) > 0
	}
	return false
}

const heuristicNote = "Heuristic candidate, not a proven cause."

func eventReason(e Event, m matchInfo, matched bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s at %s", e.Type, formatTime(e.At))
	if e.Meta.Code != "" || e.ID != "" {
		fmt.Fprintf(&b, " (code %s, id %s)", e.Meta.Code, e.ID)
	}
	fmt.Fprintf(&b, ": moved store 1 %s, store 2 %s", signed(e.Delta.Store1), signed(e.Delta.Store2))
	if !e.Meta.Wastage.IsZero() {
		fmt.Fprintf(&b, ", wastage %s", e.Meta.Wastage)
	}
	if !e.Meta.Surplus.IsZero() {
		fmt.Fprintf(&b, ", surplus %s", e.Meta.Surplus)
	}
	if !e.Meta.Unattributed.IsZero() {
		fmt.Fprintf(&b, ", %s kg not attributed to a store", e.Meta.Unattributed)
	}
	if matched {
		fmt.Fprintf(&b, "; its %s equals the store %d discrepancy of %s", m.field, m.store, signed(m.value))
	} else {
		fmt.Fprintf(&b, "; %s", proneReason(e))
	}
	b.WriteString(". ")
	b.WriteString(heuristicNote)
	return b.String()
}

func proneReason(e Event) string {
	switch e.Type {
	case TypeAdjIn, TypeAdjOut:
		return "manual adjustments are frequently mis-keyed"
	case TypeStockTake:
		return "stock-take corrections overwrite counted stock"
	case TypeStockClear:
		return "stock clears write off whole balances"
	case TypeConversion:
		return "conversions move stock between item ledgers"
	case TypeUnknown:
		return "the operation code is not in the classification table"
	case TypeTransferS1S2, TypeTransferS2S1:
		if len(e.Meta.SubLegs) > 0 {
			return "composite transfer with conversion"
		}
		return "transfer with declared wastage or surplus"
	}
	return "error-prone movement"
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.String()
	}
	return d.String()
}

func formatLevels(l Levels) string {
	return fmt.Sprintf("store 1 %s, store 2 %s", l.Store1, l.Store2)
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }
