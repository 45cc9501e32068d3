package events

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/kubev2v/role-normalizer/internal/store/model"
)

// ReindexPublisher turns owner ids into reindex events.
type ReindexPublisher struct {
	producer *EventProducer
}

func NewReindexPublisher(producer *EventProducer) *ReindexPublisher {
	return &ReindexPublisher{producer: producer}
}

func (p *ReindexPublisher) PublishReindex(ctx context.Context, dataset model.Dataset, ownerIDs []uint64) error {
	data, err := json.Marshal(ReindexEvent{Dataset: dataset.String(), OwnerIDs: ownerIDs})
	if err != nil {
		return err
	}
	return p.producer.Write(ctx, ReindexMessageKind, bytes.NewReader(data))
}
