/*
Package export renders a reconciliation as an Excel workbook.

SHEETS:
  Ledger:  one row per ledger point (time, type, code, deltas, before/after)
  Summary: opening, closing, movement by type, expected vs actual, verdict
  Issues:  candidate explanations (only rows when the report is invalid)

Quantities are written as numbers; decimals are converted with
InexactFloat64 since spreadsheet cells are float64 anyway.
*/
package export

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/warp/stockledger/stock"
	"github.com/xuri/excelize/v2"
)

const (
	SheetLedger  = "Ledger"
	SheetSummary = "Summary"
	SheetIssues  = "Issues"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

const timeLayout = "2006-01-02 15:04:05"

// Workbook builds the three-sheet workbook for res.
func Workbook(res *stock.Result) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetLedger); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetSummary, SheetIssues} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := writeLedger(f, res, bold); err != nil {
		return nil, err
	}
	if err := writeSummary(f, res, bold); err != nil {
		return nil, err
	}
	if err := writeIssues(f, res, bold); err != nil {
		return nil, err
	}
	return f, nil
}

// Write streams the workbook of res to w.
func Write(w io.Writer, res *stock.Result) error {
	f, err := Workbook(res)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// Filename is the suggested attachment name.
func Filename(res *stock.Result) string {
	return fmt.Sprintf("stock-%s-%s-%s.xlsx", res.Item,
		res.Window.Start.UTC().Format("20060102"), res.Window.End.UTC().Format("20060102"))
}

func writeLedger(f *excelize.File, res *stock.Result, header int) error {
	rows := [][]any{{
		"Time", "Type", "Code", "Source", "Boundary", "ID",
		"Δ Store 1", "Δ Store 2", "Before S1", "Before S2", "After S1", "After S2", "After Total",
		"Wastage", "Surplus", "Unattributed", "Comments",
	}}
	for _, p := range res.Points {
		rows = append(rows, []any{
			p.At.UTC().Format(timeLayout),
			string(p.Type),
			p.Meta.Code,
			string(p.Source),
			p.Boundary.String(),
			p.ID,
			num(p.Delta.Store1), num(p.Delta.Store2),
			num(p.Before.Store1), num(p.Before.Store2),
			num(p.After.Store1), num(p.After.Store2), num(p.After.Total()),
			num(p.Meta.Wastage), num(p.Meta.Surplus), num(p.Meta.Unattributed),
			p.Meta.Comments,
		})
	}
	return writeRows(f, SheetLedger, rows, header)
}

func writeSummary(f *excelize.File, res *stock.Result, header int) error {
	r := res.Report
	verdict := "VALID"
	if !r.Valid {
		verdict = "INVALID"
	}

	rows := [][]any{
		{"Item", string(res.Item)},
		{"From", res.Window.Start.UTC().Format(timeLayout)},
		{"To", res.Window.End.UTC().Format(timeLayout)},
		{"Result", verdict},
		{},
		{"", "Store 1", "Store 2", "Total"},
		levelsRow("Opening", r.Opening),
		levelsRow("Σ Movements", r.DeltaSum),
		levelsRow("Expected", r.Expected),
		levelsRow("Actual (closing)", r.Actual),
		levelsRow("Discrepancy", r.Discrepancy),
		{},
		{"Type", "Store 1", "Store 2", "Net", "Count"},
	}
	for _, m := range r.ByType {
		rows = append(rows, []any{string(m.Type), num(m.Store1), num(m.Store2), num(m.Net), m.Count})
	}

	if err := writeRows(f, SheetSummary, rows, 0); err != nil {
		return err
	}
	for _, row := range []int{6, 13} {
		if err := f.SetRowStyle(SheetSummary, row, row, header); err != nil {
			return err
		}
	}
	return nil
}

func writeIssues(f *excelize.File, res *stock.Result, header int) error {
	rows := [][]any{{"Kind", "Event", "Type", "Code", "From", "At", "Δ Store 1", "Δ Store 2", "Matches", "Reason"}}
	for _, is := range res.Report.Issues {
		from := ""
		if is.From != nil {
			from = is.From.UTC().Format(timeLayout)
		}
		rows = append(rows, []any{
			string(is.Kind), is.EventID, string(is.Type), is.Code,
			from, is.At.UTC().Format(timeLayout),
			num(is.Delta.Store1), num(is.Delta.Store2),
			is.Matches, is.Reason,
		})
	}
	return writeRows(f, SheetIssues, rows, header)
}

// writeRows writes rows from A1; header > 0 styles the first row.
func writeRows(f *excelize.File, sheet string, rows [][]any, header int) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	if header > 0 {
		return f.SetRowStyle(sheet, 1, 1, header)
	}
	return nil
}

func levelsRow(label string, l stock.Levels) []any {
	return []any{label, num(l.Store1), num(l.Store2), num(l.Total())}
}

func num(d decimal.Decimal) float64 { return d.InexactFloat64() }
