package replay

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	columnDatetime = "log_datetime"
	columnURI      = "api_uri"
	columnRequest  = "api_request"
	columnResponse = "api_response"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// LogEntry is one recorded production request and its response.
type LogEntry struct {
	Line       int
	Timestamp  time.Time
	URI        string
	Titles     []string
	Production []*int64
}

type ParseStats struct {
	Rows    int
	Invalid int
}

type logRequest struct {
	Titles []string `json:"titles"`
}

// legacyMatch is an element of the object form of a response: title -> matches.
type legacyMatch struct {
	RoleID         roleID `json:"role_id"`
	NormalizedRole string `json:"normalized_role"`
}

// roleID accepts a number, a numeric string or null.
type roleID struct {
	value *int64
}

func (r *roleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid role id %s: %w", data, err)
	}
	r.value = &v
	return nil
}

// ParseLog reads a replay log. Rows without a usable request or with a
// response that does not fit the request are skipped and counted as invalid.
func ParseLog(r io.Reader) ([]LogEntry, ParseStats, error) {
	var stats ParseStats

	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, stats, fmt.Errorf("failed to read log header: %w", err)
	}
	columns := buildColumnMap(header)
	for _, name := range []string{columnRequest, columnResponse} {
		if _, ok := columns[name]; !ok {
			return nil, stats, fmt.Errorf("log header misses the %q column", name)
		}
	}

	logger := zap.S().Named("replay")

	var entries []LogEntry
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("failed to read log around line %d: %w", line, err)
		}
		stats.Rows++

		entry, err := parseRow(row, columns)
		if err != nil {
			logger.Debugw("skipping invalid log line", "line", line, "error", err)
			stats.Invalid++
			continue
		}
		entry.Line = line
		entries = append(entries, entry)
	}

	if stats.Invalid > 0 {
		logger.Warnw("invalid log lines skipped", "count", stats.Invalid)
	}

	return entries, stats, nil
}

func parseRow(row []string, columns map[string]int) (LogEntry, error) {
	var entry LogEntry

	entry.Timestamp = parseTimestamp(columnValue(row, columns, columnDatetime))
	entry.URI = columnValue(row, columns, columnURI)

	request := columnValue(row, columns, columnRequest)
	if request == "" {
		return entry, errors.New("empty request")
	}
	var req logRequest
	if err := json.Unmarshal([]byte(request), &req); err != nil {
		return entry, fmt.Errorf("invalid request: %w", err)
	}
	if len(req.Titles) == 0 {
		return entry, errors.New("request has no titles")
	}
	entry.Titles = req.Titles

	production, err := parseResponse(columnValue(row, columns, columnResponse), req.Titles)
	if err != nil {
		return entry, err
	}
	entry.Production = production

	return entry, nil
}

// parseResponse decodes either the array form or the legacy object form.
// An empty response means nothing was normalized.
func parseResponse(response string, titles []string) ([]*int64, error) {
	response = strings.TrimSpace(response)
	ids := make([]*int64, len(titles))

	switch {
	case response == "" || response == "null":
		return ids, nil
	case strings.HasPrefix(response, "["):
		var raw []roleID
		if err := json.Unmarshal([]byte(response), &raw); err != nil {
			return nil, fmt.Errorf("invalid response: %w", err)
		}
		if len(raw) != len(titles) {
			return nil, fmt.Errorf("response has %d ids for %d titles", len(raw), len(titles))
		}
		for i, id := range raw {
			ids[i] = id.value
		}
		return ids, nil
	default:
		var matches map[string][]legacyMatch
		if err := json.Unmarshal([]byte(response), &matches); err != nil {
			return nil, fmt.Errorf("invalid response: %w", err)
		}
		for i, title := range titles {
			if m := matches[title]; len(m) > 0 {
				ids[i] = m[0].RoleID.value
			}
		}
		return ids, nil
	}
}

// Sample returns limit entries picked at random with seed. It returns
// entries unchanged when limit is not positive or not smaller than the log.
func Sample(entries []LogEntry, limit int, seed int64) []LogEntry {
	if limit <= 0 || limit >= len(entries) {
		return entries
	}
	shuffled := slices.Clone(entries)
	rnd := rand.New(rand.NewSource(seed))
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	return shuffled[:limit]
}

// NonNormalizedTitles returns the sorted titles production could not normalize.
func NonNormalizedTitles(entries []LogEntry) []string {
	var titles []string
	for _, e := range entries {
		for i, t := range e.Titles {
			if e.Production[i] == nil {
				titles = append(titles, t)
			}
		}
	}
	slices.Sort(titles)
	return slices.Compact(titles)
}

func buildColumnMap(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		columns[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	return columns
}

func columnValue(row []string, columns map[string]int, name string) string {
	i, ok := columns[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
