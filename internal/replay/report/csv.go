package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/kubev2v/role-normalizer/internal/replay"
)

type CSVRenderer struct{}

func NewCSVRenderer() *CSVRenderer {
	return &CSVRenderer{}
}

func (c *CSVRenderer) SupportedFormat() Format {
	return FormatCSV
}

func (c *CSVRenderer) Render(w io.Writer, r *replay.Report) error {
	var csvRows [][]string

	csvRows = append(csvRows, []string{"ROLE NORMALIZATION REPLAY REPORT"})
	csvRows = append(csvRows, []string{fmt.Sprintf("Entries: %d", r.Entries), fmt.Sprintf("Compared titles: %d", r.Total()), fmt.Sprintf("Failed entries: %d", len(r.Failures))})
	csvRows = append(csvRows, []string{""})

	csvRows = c.addSummary(csvRows, r)
	csvRows = c.addItems(csvRows, r)
	csvRows = c.addFailures(csvRows, r)

	return writeRows(w, csvRows)
}

func (c *CSVRenderer) addSummary(csvRows [][]string, r *replay.Report) [][]string {
	csvRows = append(csvRows, []string{"SUMMARY"})
	csvRows = append(csvRows, []string{"Category", "Count", "Rate"})
	for _, cat := range replay.Categories {
		csvRows = append(csvRows, []string{string(cat), fmt.Sprintf("%d", r.Counts[cat]), formatRate(r, cat)})
	}
	csvRows = append(csvRows, []string{""})
	return csvRows
}

func (c *CSVRenderer) addItems(csvRows [][]string, r *replay.Report) [][]string {
	csvRows = append(csvRows, []string{"ITEMIZED RESULTS"})
	csvRows = append(csvRows, []string{"Category", "Title", "Production", "Candidate"})
	for _, cat := range itemized {
		for _, item := range r.Items(cat) {
			csvRows = append(csvRows, []string{string(cat), item.Title, formatID(item.ProductionID), formatID(item.CandidateID)})
		}
	}
	csvRows = append(csvRows, []string{""})
	return csvRows
}

func (c *CSVRenderer) addFailures(csvRows [][]string, r *replay.Report) [][]string {
	if len(r.Failures) == 0 {
		return csvRows
	}
	csvRows = append(csvRows, []string{"FAILED ENTRIES"})
	csvRows = append(csvRows, []string{"Line", "Titles", "Error"})
	for _, f := range r.Failures {
		csvRows = append(csvRows, []string{fmt.Sprintf("%d", f.Line), strings.Join(f.Titles, "|"), f.Err.Error()})
	}
	return csvRows
}

func writeRows(w io.Writer, csvRows [][]string) error {
	writer := csv.NewWriter(w)

	for _, row := range csvRows {
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}

	return nil
}
