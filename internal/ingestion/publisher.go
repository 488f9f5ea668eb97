package ingestion

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// EventPublisher publishes wire envelopes to the event stream. The event
// uid is used as the JetStream message id, so republishing a capture
// within the stream's duplicate window is deduplicated server-side.
type EventPublisher struct {
	js     jetstream.JetStream
	logger zerolog.Logger
}

func NewEventPublisher(js jetstream.JetStream, logger zerolog.Logger) *EventPublisher {
	return &EventPublisher{js: js, logger: logger}
}

// Publish validates one wire envelope and publishes it to its type subject.
func (p *EventPublisher) Publish(ctx context.Context, data []byte) error {
	evt, err := ParseEvent(data)
	if err != nil {
		return err
	}

	subject := SubjectFor(evt.EventType().String())
	ack, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(evt.IdempotencyKey()))
	if err != nil {
		return fmt.Errorf("publish %s: %w", evt.IdempotencyKey(), err)
	}

	if ack.Duplicate {
		p.logger.Debug().Str("event_uid", evt.IdempotencyKey()).Msg("publish deduplicated by stream")
	}
	return nil
}
