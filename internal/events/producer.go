package events

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultTopic string = "role_normalization.events"

// Writer is the interface to be implemented by the underlying writer.
type Writer interface {
	Write(ctx context.Context, topic string, e Event) error
	Close(ctx context.Context) error
}

// EventProducer is a wrapper around a Writer with the buffer.
// It has a buffer to store pending events to not block the caller if the writer takes time to write the event.
type EventProducer struct {
	buffer           *buffer
	startConsumingCh chan any
	doneCh           chan any
	stoppedCh        chan any
	writer           Writer
	topic            string
}

func NewEventProducer(w Writer, opts ...ProducerOptions) *EventProducer {
	ep := &EventProducer{
		buffer:           newBuffer(),
		startConsumingCh: make(chan any, 1),
		doneCh:           make(chan any),
		stoppedCh:        make(chan any),
		writer:           w,
		topic:            defaultTopic,
	}

	for _, o := range opts {
		o(ep)
	}

	go ep.run()
	return ep
}

func (ep *EventProducer) Write(ctx context.Context, kind string, body io.Reader) error {
	d, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	ep.buffer.PushBack(&message{
		Kind: kind,
		Data: d,
	})

	// wake up the consumer if it is waiting
	select {
	case ep.startConsumingCh <- struct{}{}:
	default:
	}

	return nil
}

// Close stops the producer after the pending events were handed to the writer.
func (ep *EventProducer) Close() error {
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g, ctx := errgroup.WithContext(closeCtx)
	g.Go(func() error {
		close(ep.doneCh)
		select {
		case <-ep.stoppedCh:
		case <-ctx.Done():
			return ctx.Err()
		}
		return ep.writer.Close(ctx)
	})
	if err := g.Wait(); err != nil {
		zap.S().Named("event_producer").Errorf("event producer closed with error: %s", err)
		return err
	}

	zap.S().Named("event_producer").Info("event producer closed")

	return nil
}

func (ep *EventProducer) run() {
	defer close(ep.stoppedCh)

	for {
		msg := ep.buffer.Pop()
		if msg == nil {
			select {
			case <-ep.startConsumingCh:
				continue
			case <-ep.doneCh:
				return
			}
		}

		ep.send(msg)
	}
}

func (ep *EventProducer) send(msg *message) {
	e := Event{
		ID:     uuid.NewString(),
		Source: eventSource,
		Type:   msg.Kind,
		Time:   time.Now().UTC(),
		Data:   msg.Data,
	}

	if err := ep.writer.Write(context.TODO(), ep.topic, e); err != nil {
		zap.S().Named("event_producer").Errorw("failed to send message", "error", err, "id", e.ID, "type", e.Type)
	}
}
