package routine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kubev2v/role-normalizer/internal/store/model"
)

// emptyPayloadBytes is the size of `{"titles":[]}`.
const emptyPayloadBytes = 13

// Limits bound a single normalization request.
type Limits struct {
	// MaxTitles is the maximum number of titles sent in one request.
	MaxTitles int
	// MaxBytes is the maximum size of the serialized titles payload. Zero disables it.
	MaxBytes int
	// Dedup sends identical titles of a batch once.
	Dedup bool
}

// Batch is one normalization request together with the records it serves.
type Batch struct {
	Records []model.RoleRecord
	Titles  []string
	// Slots[i] is the position in Titles holding the title of Records[i].
	Slots []int
}

// MakeBatches splits records into requests honoring limits. Record order is
// kept within and across batches.
func MakeBatches(records []model.RoleRecord, limits Limits) ([]Batch, error) {
	if limits.MaxTitles <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", limits.MaxTitles)
	}
	if len(records) == 0 {
		return nil, nil
	}

	var (
		batches []Batch
		current Batch
		size    = emptyPayloadBytes
		slots   = map[string]int{}
	)

	flush := func() {
		if len(current.Records) > 0 {
			batches = append(batches, current)
		}
		current = Batch{}
		size = emptyPayloadBytes
		slots = map[string]int{}
	}

	for _, rec := range records {
		if limits.Dedup {
			if slot, ok := slots[rec.RawTitle]; ok {
				current.Records = append(current.Records, rec)
				current.Slots = append(current.Slots, slot)
				continue
			}
		}

		cost := titleBytes(rec.RawTitle)
		if limits.MaxBytes > 0 && emptyPayloadBytes+cost > limits.MaxBytes {
			return nil, NewErrMalformedRecord(rec, "title exceeds the request payload limit")
		}
		if len(current.Titles) > 0 {
			cost++ // separator
		}

		if len(current.Titles) >= limits.MaxTitles || (limits.MaxBytes > 0 && size+cost > limits.MaxBytes) {
			flush()
			cost = titleBytes(rec.RawTitle)
		}

		current.Titles = append(current.Titles, rec.RawTitle)
		current.Slots = append(current.Slots, len(current.Titles)-1)
		current.Records = append(current.Records, rec)
		size += cost
		if limits.Dedup {
			slots[rec.RawTitle] = len(current.Titles) - 1
		}
	}
	flush()

	return batches, nil
}

// PayloadSize returns the size of the serialized request for titles.
func PayloadSize(titles []string) int {
	size := emptyPayloadBytes
	for i, t := range titles {
		if i > 0 {
			size++
		}
		size += titleBytes(t)
	}
	return size
}

// partition separates records that cannot be sent to the service.
func partition(records []model.RoleRecord, maxBytes int) (valid []model.RoleRecord, malformed []*ErrMalformedRecord) {
	valid = make([]model.RoleRecord, 0, len(records))
	for _, rec := range records {
		switch {
		case strings.TrimSpace(rec.RawTitle) == "":
			malformed = append(malformed, NewErrMalformedRecord(rec, "empty title"))
		case maxBytes > 0 && emptyPayloadBytes+titleBytes(rec.RawTitle) > maxBytes:
			malformed = append(malformed, NewErrMalformedRecord(rec, "title exceeds the request payload limit"))
		default:
			valid = append(valid, rec)
		}
	}
	return valid, malformed
}

func titleBytes(title string) int {
	b, err := json.Marshal(title)
	if err != nil {
		return len(title) + 2
	}
	return len(b)
}
