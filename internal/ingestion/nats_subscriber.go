package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Default JetStream layout. Every decoded log is published to
// SubjectPrefix + "." + <event type> on a single stream so that one
// consumer sees all events in publish order.
const (
	DefaultStream   = "GEB_EVENTS"
	SubjectPrefix   = "geb.events"
	DefaultConsumer = "gebledger"
)

// NATSSubscriber consumes decoded events from NATS JetStream and feeds them
// to the processor loop via eventChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumer  jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is an undecoded message, ready for ParseRawEvent.
type RawEvent struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
	TermFunc  func() // Call to stop redelivery of a message that can never apply

	// NakDelayFunc NAKs with a redelivery delay.
	NakDelayFunc func(delay time.Duration)
}

// SubscriptionConfig names the stream, filter subject and durable consumer.
type SubscriptionConfig struct {
	StreamName   string
	Subject      string
	ConsumerName string
	AckWait      time.Duration
	// BackOff spaces redeliveries of a message whose ack wait expired.
	BackOff []time.Duration
	// MaxDeliver stays unbounded: the server drops a message after its last
	// delivery, and a dropped event would let later events apply on
	// incomplete state.
	MaxDeliver int
}

func DefaultSubscription() SubscriptionConfig {
	return SubscriptionConfig{
		StreamName:   DefaultStream,
		Subject:      SubjectPrefix + ".>",
		ConsumerName: DefaultConsumer,
		AckWait:      30 * time.Second,
		BackOff:      []time.Duration{30 * time.Second, time.Minute, 5 * time.Minute},
		MaxDeliver:   -1,
	}
}

// SubjectFor returns the publish subject of an event type.
func SubjectFor(eventType string) string {
	return SubjectPrefix + "." + eventType
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		logger:    logger,
	}
}

// Subscribe creates the durable consumer and starts delivery. MaxAckPending
// is 1: the next message is only delivered once the previous one is acked,
// which keeps chain order across redeliveries.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, cfg SubscriptionConfig) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		BackOff:       cfg.BackOff,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: 1,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawEvent{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc: func() {
				if err := msg.Ack(); err != nil {
					ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("ack failed")
				}
			},
			NakFunc: func() {
				if err := msg.Nak(); err != nil {
					ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("nak failed")
				}
			},
			NakDelayFunc: func(delay time.Duration) {
				if err := msg.NakWithDelay(delay); err != nil {
					ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("delayed nak failed")
				}
			},
			TermFunc: func() {
				if err := msg.Term(); err != nil {
					ns.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("term failed")
				}
			},
		}

		select {
		case ns.eventChan <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
	}

	ns.consumer = consumerContext
	ns.logger.Info().
		Str("stream", cfg.StreamName).
		Str("subject", cfg.Subject).
		Str("consumer", cfg.ConsumerName).
		Msg("subscribed")

	return nil
}

// EnsureStream creates the event stream if it doesn't exist.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name string, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: 24 * time.Hour,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", name, err)
	}
	logger.Info().Str("stream", name).Msg("ensured stream")
	return nil
}

// Stop stops message delivery.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.logger.Info().Msg("NATS subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("gebledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
