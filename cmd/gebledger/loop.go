package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"GebLedger/internal/core"
	"GebLedger/internal/ingestion"
	"GebLedger/internal/observability"

	"github.com/rs/zerolog"
)

// ingestLoop applies messages one at a time and settles each one with
// JetStream:
//   - applied or duplicate: ack
//   - unparseable or out of order: term
//   - fails the same way on every delivery: nak after stallDelay and
//     report the stall until the event applies
//   - anything else: nak for immediate redelivery
type ingestLoop struct {
	processor  *core.Processor
	metrics    *observability.Metrics
	health     *observability.HealthChecker
	stallDelay time.Duration
	logger     zerolog.Logger
}

func (l *ingestLoop) run(ctx context.Context, in <-chan ingestion.RawEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-in:
			l.handle(ctx, raw)
		}
	}
}

func (l *ingestLoop) handle(ctx context.Context, raw ingestion.RawEvent) {
	eventType := strings.TrimPrefix(raw.Subject, ingestion.SubjectPrefix+".")

	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		l.metrics.ParseErrors.WithLabelValues(eventType).Inc()
		l.logger.Error().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable event")
		raw.TermFunc()
		return
	}

	err = l.processor.ProcessEvent(ctx, evt)
	switch {
	case err == nil:
		raw.AckFunc()
		l.metrics.IngestToApply.WithLabelValues(eventType).Observe(time.Since(raw.Timestamp).Seconds())
		if pos, ok := l.processor.Position(); ok {
			l.health.SetLastBlock(pos.BlockNumber)
		}
		if l.health.IsStalled() {
			l.health.SetStalled(false)
			l.metrics.IngestStalled.Set(0)
			l.logger.Info().Str("event_uid", evt.IdempotencyKey()).Msg("stalled event applied, ingestion resumed")
		}

	case errors.Is(err, core.ErrOutOfOrder):
		l.logger.Error().Err(err).Str("event_uid", evt.IdempotencyKey()).Msg("dropping out-of-order event")
		raw.TermFunc()

	case core.IsPermanent(err):
		l.metrics.PermanentFailures.WithLabelValues(eventType).Inc()
		l.metrics.IngestStalled.Set(1)
		l.health.SetStalled(true)
		l.logger.Error().Err(err).
			Str("event_uid", evt.IdempotencyKey()).
			Uint64("block", evt.EventMeta().BlockNumber).
			Dur("retry_in", l.stallDelay).
			Msg("event cannot apply to the committed state, ingestion stalled until the missing events are replayed")
		raw.NakDelayFunc(l.stallDelay)

	default:
		l.logger.Error().Err(err).Str("event_uid", evt.IdempotencyKey()).Msg("event failed, requesting redelivery")
		raw.NakFunc()
	}
}
