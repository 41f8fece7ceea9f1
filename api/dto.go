/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

QUANTITIES:
  Requests take decimal.Decimal (JSON number or quoted string), so ingest
  is exact. Responses carry float64 for the charting frontend.

VALIDATION:
  Request structs carry go-playground/validator tags; handlers call
  h.validate.Struct before converting.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/stockledger/stock"
)

// =============================================================================
// INGEST REQUESTS
// =============================================================================

// LineRequest is one item line.
type LineRequest struct {
	Item     string          `json:"item" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

// TransactionRequest records a trade. Store numbers are not range-checked here:
// the normalizer degrades unknown stores to Unknown events.
type TransactionRequest struct {
	ID       string        `json:"id"`
	Type     string        `json:"type" validate:"required,oneof=Buying Selling"`
	At       string        `json:"at" validate:"required"`
	Store    int           `json:"store" validate:"gte=0"`
	Lines    []LineRequest `json:"lines" validate:"required,min=1,dive"`
	Active   *bool         `json:"active"`
	BillCode string        `json:"bill_code"`
	Customer string        `json:"customer"`
	Comments string        `json:"comments"`
}

// ConversionRequest describes one item turned into another.
type ConversionRequest struct {
	FromItem string          `json:"from_item" validate:"required"`
	ToItem   string          `json:"to_item" validate:"required"`
	FromQty  decimal.Decimal `json:"from_qty"`
	ToQty    decimal.Decimal `json:"to_qty"`
}

// OperationRequest records a stock operation.
type OperationRequest struct {
	ID          string             `json:"id"`
	Code        string             `json:"code" validate:"required"`
	At          string             `json:"at" validate:"required"`
	Store       int                `json:"store" validate:"gte=0"`
	ToStore     int                `json:"to_store" validate:"gte=0"`
	Lines       []LineRequest      `json:"lines" validate:"required_without=Conversion,dive"`
	Wastage     decimal.Decimal    `json:"wastage"`
	Surplus     decimal.Decimal    `json:"surplus"`
	Active      *bool              `json:"active"`
	Lorry       string             `json:"lorry"`
	Destination string             `json:"destination"`
	Comments    string             `json:"comments"`
	Conversion  *ConversionRequest `json:"conversion"`
}

// SnapshotRequest records an independently observed stock level.
type SnapshotRequest struct {
	ID     string          `json:"id"`
	Item   string          `json:"item" validate:"required"`
	At     string          `json:"at" validate:"required"`
	Store1 decimal.Decimal `json:"store1"`
	Store2 decimal.Decimal `json:"store2"`
	Reason string          `json:"reason" validate:"omitempty,oneof=stock_take terminal manual"`
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// IngestResponse acknowledges a stored record.
type IngestResponse struct {
	ID    string   `json:"id"`
	Kind  string   `json:"kind"`
	Items []string `json:"items"`
}

// =============================================================================
// REPORT RESPONSES
// =============================================================================

// LevelsDTO is a per-store level with its total.
type LevelsDTO struct {
	Store1 float64 `json:"store1"`
	Store2 float64 `json:"store2"`
	Total  float64 `json:"total"`
}

// SubLegDTO is one leg of a composite transfer.
type SubLegDTO struct {
	Kind     string  `json:"kind"`
	Item     string  `json:"item"`
	Store    int     `json:"store"`
	Quantity float64 `json:"quantity"`
}

// PointDTO is one ledger row: the event and the running balance around it.
type PointDTO struct {
	ID           string      `json:"id"`
	At           string      `json:"at"`
	Type         string      `json:"type"`
	Source       string      `json:"source"`
	Boundary     string      `json:"boundary,omitempty"`
	Delta        LevelsDTO   `json:"delta"`
	Before       LevelsDTO   `json:"before"`
	After        LevelsDTO   `json:"after"`
	Recorded     *LevelsDTO  `json:"recorded,omitempty"`
	Code         string      `json:"code,omitempty"`
	BillCode     string      `json:"bill_code,omitempty"`
	Customer     string      `json:"customer,omitempty"`
	Lorry        string      `json:"lorry,omitempty"`
	Destination  string      `json:"destination,omitempty"`
	Comments     string      `json:"comments,omitempty"`
	Wastage      float64     `json:"wastage,omitempty"`
	Surplus      float64     `json:"surplus,omitempty"`
	Unattributed float64     `json:"unattributed,omitempty"`
	SubLegs      []SubLegDTO `json:"sub_legs,omitempty"`
	Synthetic    bool        `json:"synthetic,omitempty"`
}

// TypeMovementDTO is one row of the movement summary.
type TypeMovementDTO struct {
	Type   string  `json:"type"`
	Store1 float64 `json:"store1"`
	Store2 float64 `json:"store2"`
	Net    float64 `json:"net"`
	Count  int     `json:"count"`
}

// IssueDTO is a candidate explanation of a discrepancy.
type IssueDTO struct {
	Kind    string    `json:"kind"`
	EventID string    `json:"event_id,omitempty"`
	Type    string    `json:"type,omitempty"`
	Code    string    `json:"code,omitempty"`
	From    string    `json:"from,omitempty"`
	At      string    `json:"at"`
	Delta   LevelsDTO `json:"delta"`
	Matches bool      `json:"matches"`
	Reason  string    `json:"reason"`
}

// ReportDTO is the reconciliation verdict.
type ReportDTO struct {
	Valid         bool              `json:"valid"`
	Opening       LevelsDTO         `json:"opening"`
	Closing       LevelsDTO         `json:"closing"`
	DeltaSum      LevelsDTO         `json:"delta_sum"`
	Expected      LevelsDTO         `json:"expected"`
	Actual        LevelsDTO         `json:"actual"`
	Discrepancy   LevelsDTO         `json:"discrepancy"`
	ByType        []TypeMovementDTO `json:"by_type"`
	Issues        []IssueDTO        `json:"issues"`
	EventCount    int               `json:"event_count"`
	UnknownEvents int               `json:"unknown_events"`
}

// SnapshotDTO is a recorded stock level.
type SnapshotDTO struct {
	ID     string    `json:"id"`
	Item   string    `json:"item"`
	At     string    `json:"at"`
	Levels LevelsDTO `json:"levels"`
	Reason string    `json:"reason,omitempty"`
}

// LedgerResponse is the stock-events screen payload.
type LedgerResponse struct {
	Item    string      `json:"item"`
	From    string      `json:"from"`
	To      string      `json:"to"`
	Opening SnapshotDTO `json:"opening"`
	Closing SnapshotDTO `json:"closing"`
	Points  []PointDTO  `json:"points"`
	Report  ReportDTO   `json:"report"`
}

// ReconciliationResponse is the report without the ledger rows.
type ReconciliationResponse struct {
	Item   string    `json:"item"`
	From   string    `json:"from"`
	To     string    `json:"to"`
	Report ReportDTO `json:"report"`
}

// RunDTO is one recorded reconciliation.
type RunDTO struct {
	ID          string    `json:"id"`
	Item        string    `json:"item"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Valid       bool      `json:"valid"`
	Discrepancy LevelsDTO `json:"discrepancy"`
	Issues      int       `json:"issues"`
	RanAt       string    `json:"ran_at"`
}

// ClassificationDTO is one row of the code table.
type ClassificationDTO struct {
	Code      string `json:"code"`
	Type      string `json:"type"`
	Direction string `json:"direction"`
	Store     int    `json:"store,omitempty"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Item        string `json:"item"`
	From        string `json:"from"`
	To          string `json:"to"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func toLevelsDTO(l stock.Levels) LevelsDTO {
	return LevelsDTO{
		Store1: l.Store1.InexactFloat64(),
		Store2: l.Store2.InexactFloat64(),
		Total:  l.Total().InexactFloat64(),
	}
}

func toPointDTO(p stock.Point) PointDTO {
	dto := PointDTO{
		ID:           p.ID,
		At:           formatTime(p.At),
		Type:         string(p.Type),
		Source:       string(p.Source),
		Boundary:     p.Boundary.String(),
		Delta:        toLevelsDTO(p.Delta),
		Before:       toLevelsDTO(p.Before),
		After:        toLevelsDTO(p.After),
		Code:         p.Meta.Code,
		BillCode:     p.Meta.BillCode,
		Customer:     p.Meta.Customer,
		Lorry:        p.Meta.Lorry,
		Destination:  p.Meta.Destination,
		Comments:     p.Meta.Comments,
		Wastage:      p.Meta.Wastage.InexactFloat64(),
		Surplus:      p.Meta.Surplus.InexactFloat64(),
		Unattributed: p.Meta.Unattributed.InexactFloat64(),
		Synthetic:    p.Synthetic,
	}
	if p.Recorded != nil {
		rec := toLevelsDTO(*p.Recorded)
		dto.Recorded = &rec
	}
	for _, leg := range p.Meta.SubLegs {
		dto.SubLegs = append(dto.SubLegs, SubLegDTO{
			Kind:     leg.Kind,
			Item:     string(leg.Item),
			Store:    int(leg.Store),
			Quantity: leg.Quantity.InexactFloat64(),
		})
	}
	return dto
}

func toReportDTO(r stock.Report) ReportDTO {
	dto := ReportDTO{
		Valid:         r.Valid,
		Opening:       toLevelsDTO(r.Opening),
		Closing:       toLevelsDTO(r.Closing),
		DeltaSum:      toLevelsDTO(r.DeltaSum),
		Expected:      toLevelsDTO(r.Expected),
		Actual:        toLevelsDTO(r.Actual),
		Discrepancy:   toLevelsDTO(r.Discrepancy),
		ByType:        make([]TypeMovementDTO, len(r.ByType)),
		Issues:        make([]IssueDTO, len(r.Issues)),
		EventCount:    r.EventCount,
		UnknownEvents: r.UnknownEvents,
	}
	for i, m := range r.ByType {
		dto.ByType[i] = TypeMovementDTO{
			Type:   string(m.Type),
			Store1: m.Store1.InexactFloat64(),
			Store2: m.Store2.InexactFloat64(),
			Net:    m.Net.InexactFloat64(),
			Count:  m.Count,
		}
	}
	for i, is := range r.Issues {
		dto.Issues[i] = IssueDTO{
			Kind:    string(is.Kind),
			EventID: is.EventID,
			Type:    string(is.Type),
			Code:    is.Code,
			At:      formatTime(is.At),
			Delta:   toLevelsDTO(is.Delta),
			Matches: is.Matches,
			Reason:  is.Reason,
		}
		if is.From != nil {
			dto.Issues[i].From = formatTime(*is.From)
		}
	}
	return dto
}

func toSnapshotDTO(s stock.Snapshot) SnapshotDTO {
	return SnapshotDTO{
		ID:     s.ID,
		Item:   string(s.Item),
		At:     formatTime(s.At),
		Levels: toLevelsDTO(s.Levels),
		Reason: string(s.Reason),
	}
}

func toLedgerResponse(res *stock.Result) LedgerResponse {
	points := make([]PointDTO, len(res.Points))
	for i, p := range res.Points {
		points[i] = toPointDTO(p)
	}
	return LedgerResponse{
		Item:    string(res.Item),
		From:    formatTime(res.Window.Start),
		To:      formatTime(res.Window.End),
		Opening: toSnapshotDTO(res.Opening),
		Closing: toSnapshotDTO(res.Closing),
		Points:  points,
		Report:  toReportDTO(res.Report),
	}
}

func toRunDTO(r stock.Run) RunDTO {
	return RunDTO{
		ID:          r.ID,
		Item:        string(r.Item),
		From:        formatTime(r.Window.Start),
		To:          formatTime(r.Window.End),
		Valid:       r.Valid,
		Discrepancy: toLevelsDTO(r.Discrepancy),
		Issues:      r.Issues,
		RanAt:       formatTime(r.RanAt),
	}
}

func (l LineRequest) toLine() stock.Line {
	return stock.Line{Item: stock.ItemID(l.Item), Quantity: l.Quantity}
}

func toLines(reqs []LineRequest) []stock.Line {
	lines := make([]stock.Line, len(reqs))
	for i, l := range reqs {
		lines[i] = l.toLine()
	}
	return lines
}

func activeOrDefault(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}
