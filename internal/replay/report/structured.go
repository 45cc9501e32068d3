package report

import (
	"encoding/json"
	"io"

	"github.com/kubev2v/role-normalizer/internal/replay"
	"sigs.k8s.io/yaml"
)

type categorySummary struct {
	Category replay.Category `json:"category"`
	Count    int             `json:"count"`
	Rate     float64         `json:"rate"`
}

type item struct {
	Category   replay.Category `json:"category"`
	Title      string          `json:"title"`
	Production *int64          `json:"production"`
	Candidate  *int64          `json:"candidate"`
}

type failure struct {
	Line   int      `json:"line"`
	Titles []string `json:"titles"`
	Error  string   `json:"error"`
}

type document struct {
	Entries  int               `json:"entries"`
	Compared int               `json:"compared"`
	Elapsed  string            `json:"elapsed"`
	Summary  []categorySummary `json:"summary"`
	Items    []item            `json:"items"`
	Failures []failure         `json:"failures,omitempty"`
}

// StructuredRenderer renders the report as json or yaml.
type StructuredRenderer struct {
	format Format
}

func NewStructuredRenderer(format Format) *StructuredRenderer {
	return &StructuredRenderer{format: format}
}

func (s *StructuredRenderer) SupportedFormat() Format {
	return s.format
}

func (s *StructuredRenderer) Render(w io.Writer, r *replay.Report) error {
	doc := document{
		Entries:  r.Entries,
		Compared: r.Total(),
		Elapsed:  r.Elapsed.String(),
		Items:    []item{},
	}
	for _, c := range replay.Categories {
		doc.Summary = append(doc.Summary, categorySummary{Category: c, Count: r.Counts[c], Rate: r.Rate(c)})
	}
	for _, c := range itemized {
		for _, i := range r.Items(c) {
			doc.Items = append(doc.Items, item{Category: c, Title: i.Title, Production: i.ProductionID, Candidate: i.CandidateID})
		}
	}
	for _, f := range r.Failures {
		doc.Failures = append(doc.Failures, failure{Line: f.Line, Titles: f.Titles, Error: f.Err.Error()})
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if s.format == FormatYAML {
		if data, err = yaml.JSONToYAML(data); err != nil {
			return err
		}
	}
	_, err = w.Write(data)
	return err
}
