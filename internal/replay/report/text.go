package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kubev2v/role-normalizer/internal/replay"
)

type TextRenderer struct{}

func NewTextRenderer() *TextRenderer {
	return &TextRenderer{}
}

func (t *TextRenderer) SupportedFormat() Format {
	return FormatText
}

func (t *TextRenderer) Render(out io.Writer, r *replay.Report) error {
	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)

	fmt.Fprintf(w, "Replayed %d log entries in %s\n", r.Entries, r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Compared titles: %d\tFailed entries: %d\n\n", r.Total(), len(r.Failures))

	fmt.Fprintln(w, "CATEGORY\tCOUNT\tRATE")
	for _, c := range replay.Categories {
		fmt.Fprintf(w, "%s\t%d\t%s\n", c, r.Counts[c], formatRate(r, c))
	}
	fmt.Fprintln(w)

	for _, c := range itemized {
		items := r.Items(c)
		fmt.Fprintf(w, "%s (%d, %s)\n", categoryTitles[c], r.Counts[c], formatRate(r, c))
		if len(items) == 0 {
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintln(w, "TITLE\tPRODUCTION\tCANDIDATE")
		for _, item := range items {
			fmt.Fprintf(w, "%s\t%s\t%s\n", item.Title, formatID(item.ProductionID), formatID(item.CandidateID))
		}
		fmt.Fprintln(w)
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "FAILED LINE\tTITLES\tERROR")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "%d\t%s\t%v\n", f.Line, strings.Join(f.Titles, ", "), f.Err)
		}
		fmt.Fprintln(w)
	}

	for _, c := range replay.Categories {
		fmt.Fprintf(w, "%d (%s) requests %s\n", r.Counts[c], formatRate(r, c), categoryDetails[c])
	}

	return w.Flush()
}
