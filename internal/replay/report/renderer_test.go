package report_test

import (
	"bytes"
	"encoding/csv"
	"errors"
	"time"

	"github.com/kubev2v/role-normalizer/internal/replay"
	"github.com/kubev2v/role-normalizer/internal/replay/report"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"
	"sigs.k8s.io/yaml"
)

func id(v int64) *int64 {
	return &v
}

func newTestReport() *replay.Report {
	results := []replay.ComparisonResult{
		{Title: "Vendedor", ProductionID: id(1164), CandidateID: id(1164), Category: replay.MatchNormalized},
		{Title: "Qualquer cargo", Category: replay.MatchUnnormalized},
		{Title: "Analista", ProductionID: id(5), CandidateID: id(7), Category: replay.Difference},
		{Title: "Gerente", ProductionID: id(42), Category: replay.Regression},
		{Title: "Tec enfermagem", CandidateID: id(1474), Category: replay.Improvement},
	}
	counts := map[replay.Category]int{}
	for _, r := range results {
		counts[r.Category]++
	}
	return &replay.Report{
		Entries:  4,
		Results:  results,
		Counts:   counts,
		Failures: []replay.Failure{{Line: 9, Titles: []string{"broken"}, Err: errors.New("service unavailable")}},
		Elapsed:  1500 * time.Millisecond,
	}
}

var _ = Describe("report renderers", func() {
	It("rejects unknown formats", func() {
		_, err := report.NewRenderer("pdf")
		Expect(err).NotTo(BeNil())
	})

	It("renders text", func() {
		r, err := report.NewRenderer(report.FormatText)
		Expect(err).To(BeNil())

		var buf bytes.Buffer
		Expect(r.Render(&buf, newTestReport())).To(Succeed())

		out := buf.String()
		Expect(out).To(ContainSubstring("Replayed 4 log entries"))
		Expect(out).To(ContainSubstring("match_normalized"))
		Expect(out).To(ContainSubstring("20.00%"))
		Expect(out).To(ContainSubstring("Analista"))
		Expect(out).To(ContainSubstring("service unavailable"))
		Expect(out).To(ContainSubstring("were regressions"))
	})

	It("renders csv", func() {
		r, err := report.NewRenderer(report.FormatCSV)
		Expect(err).To(BeNil())

		var buf bytes.Buffer
		Expect(r.Render(&buf, newTestReport())).To(Succeed())

		reader := csv.NewReader(&buf)
		reader.FieldsPerRecord = -1
		rows, err := reader.ReadAll()
		Expect(err).To(BeNil())
		Expect(rows).To(ContainElement([]string{"difference", "1", "20.00%"}))
		Expect(rows).To(ContainElement([]string{"difference", "Analista", "5", "7"}))
		Expect(rows).To(ContainElement([]string{"regression", "Gerente", "42", "-"}))
		Expect(rows).To(ContainElement([]string{"9", "broken", "service unavailable"}))
	})

	It("renders xlsx", func() {
		r, err := report.NewRenderer(report.FormatXLSX)
		Expect(err).To(BeNil())

		var buf bytes.Buffer
		Expect(r.Render(&buf, newTestReport())).To(Succeed())

		f, err := excelize.OpenReader(&buf)
		Expect(err).To(BeNil())
		defer f.Close()

		Expect(f.GetSheetList()).To(Equal([]string{"Summary", "Items", "Failures"}))

		rows, err := f.GetRows("Items")
		Expect(err).To(BeNil())
		Expect(rows).To(HaveLen(4))
		Expect(rows[1]).To(Equal([]string{"difference", "Analista", "5", "7"}))
	})

	It("renders yaml", func() {
		r, err := report.NewRenderer(report.FormatYAML)
		Expect(err).To(BeNil())

		var buf bytes.Buffer
		Expect(r.Render(&buf, newTestReport())).To(Succeed())

		var doc map[string]any
		Expect(yaml.Unmarshal(buf.Bytes(), &doc)).To(Succeed())
		Expect(doc["entries"]).To(BeNumerically("==", 4))
		Expect(doc["items"]).To(HaveLen(3))
		Expect(doc["failures"]).To(HaveLen(1))
	})
})
