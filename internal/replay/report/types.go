package report

import (
	"fmt"
	"io"

	"github.com/kubev2v/role-normalizer/internal/replay"
)

type Format string

const (
	FormatText Format = "text"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var Formats = []string{string(FormatText), string(FormatCSV), string(FormatXLSX), string(FormatJSON), string(FormatYAML)}

type Renderer interface {
	Render(w io.Writer, r *replay.Report) error
	SupportedFormat() Format
}

func NewRenderer(format Format) (Renderer, error) {
	switch format {
	case FormatText:
		return NewTextRenderer(), nil
	case FormatCSV:
		return NewCSVRenderer(), nil
	case FormatXLSX:
		return NewXLSXRenderer(), nil
	case FormatJSON, FormatYAML:
		return NewStructuredRenderer(format), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

var categoryTitles = map[replay.Category]string{
	replay.MatchUnnormalized: "Non-normalized matches",
	replay.MatchNormalized:   "Normalized matches",
	replay.Difference:        "Differences",
	replay.Regression:        "Regressions",
	replay.Improvement:       "Improvements",
}

var categoryDetails = map[replay.Category]string{
	replay.MatchUnnormalized: "matched - not normalized",
	replay.MatchNormalized:   "matched - normalized to same role ID",
	replay.Difference:        "differed - normalized to distinct role IDs",
	replay.Regression:        "were regressions - could be normalized before but can't be normalized now",
	replay.Improvement:       "were improvements - couldn't be normalized before but can be normalized now",
}

// itemized categories are listed title by title.
var itemized = []replay.Category{replay.Difference, replay.Regression, replay.Improvement}

func formatID(id *int64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}

func formatRate(r *replay.Report, c replay.Category) string {
	return fmt.Sprintf("%.2f%%", 100*r.Rate(c))
}
