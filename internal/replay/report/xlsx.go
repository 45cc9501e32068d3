package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/kubev2v/role-normalizer/internal/replay"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet  = "Summary"
	itemsSheet    = "Items"
	failuresSheet = "Failures"
)

// XLSXRenderer writes one sheet per report section.
type XLSXRenderer struct{}

func NewXLSXRenderer() *XLSXRenderer {
	return &XLSXRenderer{}
}

func (x *XLSXRenderer) SupportedFormat() Format {
	return FormatXLSX
}

func (x *XLSXRenderer) Render(w io.Writer, r *replay.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	summary := [][]any{{"Category", "Count", "Rate"}}
	for _, c := range replay.Categories {
		summary = append(summary, []any{string(c), r.Counts[c], r.Rate(c)})
	}
	summary = append(summary, []any{}, []any{"Entries", r.Entries}, []any{"Compared titles", r.Total()}, []any{"Failed entries", len(r.Failures)})
	if err := writeSheet(f, summarySheet, summary); err != nil {
		return err
	}

	items := [][]any{{"Category", "Title", "Production", "Candidate"}}
	for _, c := range itemized {
		for _, item := range r.Items(c) {
			items = append(items, []any{string(c), item.Title, cellID(item.ProductionID), cellID(item.CandidateID)})
		}
	}
	if err := writeSheet(f, itemsSheet, items); err != nil {
		return err
	}

	if len(r.Failures) > 0 {
		failures := [][]any{{"Line", "Titles", "Error"}}
		for _, fl := range r.Failures {
			failures = append(failures, []any{fl.Line, strings.Join(fl.Titles, "|"), fl.Err.Error()})
		}
		if err := writeSheet(f, failuresSheet, failures); err != nil {
			return err
		}
	}

	index, err := f.GetSheetIndex(summarySheet)
	if err != nil {
		return err
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx report: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]any) error {
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}
	for i, row := range rows {
		for j, value := range row {
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell %s!%s: %w", sheet, cell, err)
			}
		}
	}
	return nil
}

func cellID(id *int64) any {
	if id == nil {
		return ""
	}
	return *id
}
