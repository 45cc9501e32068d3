package events

import (
	"encoding/json"
	"time"
)

const (
	ReindexMessageKind string = "role_normalization.events.reindex"
	eventSource        string = "role-normalizer"
)

// Event is the envelope handed to writers.
type Event struct {
	ID     string          `json:"id"`
	Source string          `json:"source"`
	Type   string          `json:"type"`
	Time   time.Time       `json:"time"`
	Data   json.RawMessage `json:"data"`
}

// ReindexEvent lists owners whose records received a canonical role and
// must be re-indexed downstream.
type ReindexEvent struct {
	Dataset  string   `json:"dataset"`
	OwnerIDs []uint64 `json:"owner_ids"`
}
