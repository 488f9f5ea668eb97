package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"GebLedger/internal/core"
	"GebLedger/internal/ingestion"
	"GebLedger/internal/observability"
	"GebLedger/internal/state"
	"GebLedger/internal/store"
	"GebLedger/internal/store/memory"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x00000000000000000000000000000000000A11CE"
	bob   = "0x0000000000000000000000000000000000000B0B"
)

// settlement records how the loop settled one message.
type settlement struct {
	acks, naks, terms int
	delays            []time.Duration
}

func (s *settlement) raw(t *testing.T, eventType string, block uint64, params map[string]interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"type":            eventType,
		"block_number":    block,
		"block_timestamp": 1_600_000_000 + block,
		"tx_hash":         common.BigToHash(new(big.Int).SetUint64(block)).Hex(),
		"log_index":       0,
		"params":          params,
	})
	require.NoError(t, err)
	return s.rawData(ingestion.SubjectFor(eventType), data)
}

func (s *settlement) rawData(subject string, data []byte) ingestion.RawEvent {
	return ingestion.RawEvent{
		Subject:      subject,
		Data:         data,
		Timestamp:    time.Now(),
		AckFunc:      func() { s.acks++ },
		NakFunc:      func() { s.naks++ },
		TermFunc:     func() { s.terms++ },
		NakDelayFunc: func(d time.Duration) { s.delays = append(s.delays, d) },
	}
}

// brokenBackend fails every commit while reads still work.
type brokenBackend struct {
	*memory.Backend
}

func (brokenBackend) Apply(context.Context, []store.Record) error {
	return errors.New("connection reset by peer")
}

func newLoop(backend store.Backend) (*ingestLoop, *observability.Metrics, *observability.HealthChecker) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	health := observability.NewHealthChecker()
	logger := zerolog.Nop()
	system := state.NewSystemManager(nil, metrics, logger)
	processor := core.NewProcessor(backend, system, common.HexToAddress(bob),
		core.NewStoreIdempotencyChecker(backend), 100, metrics, logger)
	return &ingestLoop{
		processor:  processor,
		metrics:    metrics,
		health:     health,
		stallDelay: 15 * time.Second,
		logger:     logger,
	}, metrics, health
}

func TestIngestLoop_PermanentFailureStallsWithDelay(t *testing.T) {
	ctx := context.Background()
	loop, metrics, health := newLoop(memory.NewBackend())
	s := &settlement{}

	loop.handle(ctx, s.raw(t, "InitializeCollateralType", 100, map[string]interface{}{"collateral_type": "ETH-A"}))
	require.Equal(t, 1, s.acks)

	transfer := s.raw(t, "TransferCollateral", 102, map[string]interface{}{
		"collateral_type": "ETH-A", "src": alice, "dst": bob, "wad": "1000000000000000000",
	})

	// Redelivery keeps failing the same way and is never retried immediately.
	loop.handle(ctx, transfer)
	loop.handle(ctx, transfer)
	assert.Equal(t, 0, s.naks)
	assert.Equal(t, 0, s.terms)
	assert.Equal(t, []time.Duration{15 * time.Second, 15 * time.Second}, s.delays)
	assert.True(t, health.IsStalled())
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.IngestStalled))
	assert.Equal(t, float64(2), promtest.ToFloat64(metrics.PermanentFailures.WithLabelValues("TransferCollateral")))

	// Replaying the missing funding event repairs the state.
	loop.handle(ctx, s.raw(t, "ModifyCollateralBalance", 101, map[string]interface{}{
		"collateral_type": "ETH-A", "account": alice, "wad": "1000000000000000000",
	}))
	loop.handle(ctx, transfer)

	assert.Equal(t, 3, s.acks)
	assert.False(t, health.IsStalled())
	assert.Equal(t, float64(0), promtest.ToFloat64(metrics.IngestStalled))
}

func TestIngestLoop_TransientFailureNaksImmediately(t *testing.T) {
	loop, metrics, health := newLoop(brokenBackend{memory.NewBackend()})
	s := &settlement{}

	loop.handle(context.Background(), s.raw(t, "InitializeCollateralType", 100, map[string]interface{}{"collateral_type": "ETH-A"}))

	assert.Equal(t, 1, s.naks)
	assert.Empty(t, s.delays)
	assert.False(t, health.IsStalled())
	assert.Equal(t, float64(0), promtest.ToFloat64(metrics.IngestStalled))
}

func TestIngestLoop_TerminatesUnusableMessages(t *testing.T) {
	ctx := context.Background()
	loop, metrics, _ := newLoop(memory.NewBackend())
	s := &settlement{}

	loop.handle(ctx, s.rawData(ingestion.SubjectFor("SettleDebt"), []byte(`{"type":`)))
	assert.Equal(t, 1, s.terms)
	assert.Equal(t, float64(1), promtest.ToFloat64(metrics.ParseErrors.WithLabelValues("SettleDebt")))

	loop.handle(ctx, s.raw(t, "InitializeCollateralType", 100, map[string]interface{}{"collateral_type": "ETH-A"}))
	loop.handle(ctx, s.raw(t, "InitializeCollateralType", 90, map[string]interface{}{"collateral_type": "WBTC-A"}))

	assert.Equal(t, 1, s.acks)
	assert.Equal(t, 2, s.terms)
	assert.Empty(t, s.delays)
}
