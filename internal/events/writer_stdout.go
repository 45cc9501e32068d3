package events

import (
	"context"

	"go.uber.org/zap"
)

// StdoutWriter logs events instead of sending them anywhere.
type StdoutWriter struct{}

func (s *StdoutWriter) Write(ctx context.Context, topic string, e Event) error {
	zap.S().Named("stdout_writer").Infow("event wrote", "id", e.ID, "type", e.Type, "topic", topic, "data", string(e.Data))
	return nil
}

func (s *StdoutWriter) Close(_ context.Context) error {
	return nil
}
