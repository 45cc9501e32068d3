package replay

import "time"

// Report summarizes a replay run.
type Report struct {
	Entries  int
	Results  []ComparisonResult
	Counts   map[Category]int
	Failures []Failure
	Elapsed  time.Duration
}

func newReport(entries int) *Report {
	counts := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		counts[c] = 0
	}
	return &Report{Entries: entries, Counts: counts}
}

func (r *Report) add(result ComparisonResult) {
	r.Results = append(r.Results, result)
	r.Counts[result.Category]++
}

// Total is the number of compared titles.
func (r *Report) Total() int {
	return len(r.Results)
}

// Rate is the share of compared titles in category c, between 0 and 1.
func (r *Report) Rate(c Category) float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Counts[c]) / float64(r.Total())
}

// Items lists the results of category c, one per distinct title.
func (r *Report) Items(c Category) []ComparisonResult {
	var items []ComparisonResult
	seen := map[string]struct{}{}
	for _, res := range r.Results {
		if res.Category != c {
			continue
		}
		if _, ok := seen[res.Title]; ok {
			continue
		}
		seen[res.Title] = struct{}{}
		items = append(items, res)
	}
	return items
}
