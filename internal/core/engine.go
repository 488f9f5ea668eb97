package core

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"GebLedger/internal/event"
	"GebLedger/internal/observability"
	"GebLedger/internal/state"
	"GebLedger/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Processor bookkeeping kinds, written alongside every event's effects.
const (
	KindProcessedEvent store.Kind = "ProcessedEvent"
	KindCheckpoint     store.Kind = "Checkpoint"
)

// unitNamespace derives deterministic unit-of-work ids from event uids.
var unitNamespace = uuid.MustParse("4a1f6c52-9d7e-4b0a-8f3e-2c6d5b9a7e10")

// ProcessedEvent marks an event uid as applied.
type ProcessedEvent struct {
	ID        string `json:"id"`
	EventType string `json:"eventType"`
	Block     uint64 `json:"block"`
	LogIndex  uint   `json:"logIndex"`
	UnitID    string `json:"unitId"`
}

// Checkpoint is the last committed position and state hash.
type Checkpoint struct {
	ID            string `json:"id"`
	Block         uint64 `json:"block"`
	LogIndex      uint   `json:"logIndex"`
	Transaction   string `json:"transaction"`
	EventUID      string `json:"eventUid"`
	StateHash     string `json:"stateHash"`
	UnitID        string `json:"unitId"`
	EventsApplied int64  `json:"eventsApplied"`
}

// Processor is the single-threaded event processor. Each ProcessEvent call
// applies one event inside one store.UnitOfWork: either every entity write
// of the event commits, or none does.
type Processor struct {
	backend          store.Backend
	system           *state.SystemManager
	collaterals      *state.CollateralRegistry
	balances         *state.BalanceLedger
	safes            *state.SafeLedger
	proxies          *state.ProxyRegistry
	accountingEngine common.Address

	idempotency   *IdempotencyChecker
	order         *OrderValidator
	hasher        *StateHasher
	eventsApplied int64

	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewProcessor(
	backend store.Backend,
	system *state.SystemManager,
	accountingEngine common.Address,
	dbChecker DBIdempotencyChecker,
	lruCapacity int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		backend:          backend,
		system:           system,
		collaterals:      state.NewCollateralRegistry(logger),
		balances:         state.NewBalanceLedger(metrics, logger),
		safes:            state.NewSafeLedger(logger),
		proxies:          state.NewProxyRegistry(),
		accountingEngine: accountingEngine,
		idempotency:      NewIdempotencyChecker(lruCapacity, dbChecker, metrics, logger),
		order:            NewOrderValidator(),
		hasher:           NewStateHasher(),
		metrics:          metrics,
		logger:           logger,
	}
}

// Restore loads the last checkpoint so ordering and the hash chain resume
// where the previous process stopped. A missing checkpoint is a cold start.
func (p *Processor) Restore(ctx context.Context) (*Checkpoint, error) {
	cp, err := LoadCheckpoint(ctx, p.backend)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Info().Msg("no checkpoint found, cold start")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	hashBytes, err := hex.DecodeString(cp.StateHash)
	if err != nil || len(hashBytes) != 32 {
		return nil, fmt.Errorf("checkpoint state hash %q is malformed", cp.StateHash)
	}
	var hash [32]byte
	copy(hash[:], hashBytes)

	p.hasher.Advance(hash)
	p.order.SetPosition(event.Meta{
		BlockNumber: cp.Block,
		LogIndex:    cp.LogIndex,
		TxHash:      common.HexToHash(cp.Transaction),
	})
	p.eventsApplied = cp.EventsApplied

	p.logger.Info().
		Uint64("block", cp.Block).
		Uint("log_index", cp.LogIndex).
		Int64("events_applied", cp.EventsApplied).
		Msg("restored from checkpoint")

	return cp, nil
}

// LoadCheckpoint reads the checkpoint record from a backend.
func LoadCheckpoint(ctx context.Context, backend store.Backend) (*Checkpoint, error) {
	var cp Checkpoint
	if err := store.Begin(backend).Load(ctx, store.Key{Kind: KindCheckpoint, ID: state.SingletonID}, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// WarmLRU preloads recently processed composite keys.
func (p *Processor) WarmLRU(keys []string) {
	p.idempotency.Warm(keys)
}

// ProcessEvent is the main processing pipeline
func (p *Processor) ProcessEvent(ctx context.Context, evt event.Event) error {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	meta := evt.EventMeta()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := p.idempotency.IsDuplicate(ctx, eventType, idempotencyKey)

	// Step 2: Chain order validation
	if err := p.order.Validate(meta, isDuplicate); err != nil {
		p.reject(eventType, "out_of_order")
		if p.metrics != nil {
			p.metrics.EventOutOfOrder.Inc()
		}
		return fmt.Errorf("order validation failed: %w", err)
	}

	if isDuplicate {
		p.reject(eventType, "duplicate")
		if p.metrics != nil {
			p.metrics.IdempotencyDuplicates.WithLabelValues(eventType).Inc()
		}
		return nil
	}

	// Step 3: Dispatch into a fresh unit of work
	uow := store.Begin(p.backend)
	if err := p.dispatchEvent(ctx, uow, evt); err != nil {
		uow.Discard()
		p.reject(eventType, "handler")
		return fmt.Errorf("%s %s: %w", eventType, idempotencyKey, err)
	}

	// Step 4: Processed marker, state hash and checkpoint
	unitID := uuid.NewSHA1(unitNamespace, []byte(idempotencyKey)).String()
	marker := ProcessedEvent{
		ID:        idempotencyKey,
		EventType: eventType,
		Block:     meta.BlockNumber,
		LogIndex:  meta.LogIndex,
		UnitID:    unitID,
	}
	if err := uow.Save(ctx, store.Key{Kind: KindProcessedEvent, ID: idempotencyKey}, marker); err != nil {
		uow.Discard()
		return fmt.Errorf("stage processed marker: %w", err)
	}

	stateHash := p.hasher.Next(meta.BlockNumber, meta.LogIndex, StateDigest(uow.Records()))
	checkpoint := Checkpoint{
		ID:            state.SingletonID,
		Block:         meta.BlockNumber,
		LogIndex:      meta.LogIndex,
		Transaction:   meta.TxHash.Hex(),
		EventUID:      idempotencyKey,
		StateHash:     hex.EncodeToString(stateHash[:]),
		UnitID:        unitID,
		EventsApplied: p.eventsApplied + 1,
	}
	if err := uow.Save(ctx, store.Key{Kind: KindCheckpoint, ID: state.SingletonID}, checkpoint); err != nil {
		uow.Discard()
		return fmt.Errorf("stage checkpoint: %w", err)
	}

	entities := uow.Len()

	// Step 5: Atomic commit
	if err := uow.Commit(ctx); err != nil {
		p.reject(eventType, "commit")
		return fmt.Errorf("commit %s %s: %w", eventType, idempotencyKey, err)
	}

	// Step 6: Advance in-memory position only after the commit is durable
	p.hasher.Advance(stateHash)
	p.order.Advance(meta)
	p.idempotency.MarkProcessed(eventType, idempotencyKey)
	p.eventsApplied++

	if p.metrics != nil {
		p.metrics.CoreEventsApplied.WithLabelValues(eventType).Inc()
		p.metrics.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
		p.metrics.CoreEntitiesStaged.Observe(float64(entities))
		p.metrics.CoreLastBlock.Set(float64(meta.BlockNumber))
		p.metrics.DedupLRUSize.Set(float64(p.idempotency.LRUSize()))
	}

	p.logger.Debug().
		Str("event_type", eventType).
		Str("event_uid", idempotencyKey).
		Uint64("block", meta.BlockNumber).
		Int("entities", entities).
		Msg("event applied")

	return nil
}

// IsPermanent reports whether err from ProcessEvent will recur on every
// redelivery of the same event against the same committed state. Store and
// chain read failures are transient.
func IsPermanent(err error) bool {
	return errors.Is(err, state.ErrMissingEntity) || errors.Is(err, state.ErrAlreadyExists)
}

func (p *Processor) reject(eventType, reason string) {
	if p.metrics != nil {
		p.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

// GetStateHash returns the current chain tip.
func (p *Processor) GetStateHash() [32]byte {
	return p.hasher.GetPrevHash()
}

// EventsApplied returns the number of committed events, including those
// restored from the checkpoint.
func (p *Processor) EventsApplied() int64 {
	return p.eventsApplied
}

// Position returns the last applied chain position.
func (p *Processor) Position() (event.Meta, bool) {
	return p.order.Position()
}

// dispatchEvent routes an event to its handler
func (p *Processor) dispatchEvent(ctx context.Context, tx store.Tx, evt event.Event) error {
	switch e := evt.(type) {
	case *event.InitializeCollateralType:
		return p.handleInitializeCollateralType(ctx, tx, e)
	case *event.ModifyParameters:
		return p.handleModifyParameters(ctx, tx, e)
	case *event.ModifyCollateralParameters:
		return p.handleModifyCollateralParameters(ctx, tx, e)
	case *event.ModifyCollateralBalance:
		return p.handleModifyCollateralBalance(ctx, tx, e)
	case *event.TransferCollateral:
		return p.handleTransferCollateral(ctx, tx, e)
	case *event.TransferInternalCoins:
		return p.handleTransferInternalCoins(ctx, tx, e)
	case *event.ModifySAFECollateralization:
		return p.handleModifySAFECollateralization(ctx, tx, e)
	case *event.TransferSAFECollateralAndDebt:
		return p.handleTransferSAFECollateralAndDebt(ctx, tx, e)
	case *event.ConfiscateSAFECollateralAndDebt:
		return p.handleConfiscateSAFECollateralAndDebt(ctx, tx, e)
	case *event.SettleDebt:
		return p.handleSettleDebt(ctx, tx, e)
	case *event.CreateUnbackedDebt:
		return p.handleCreateUnbackedDebt(ctx, tx, e)
	case *event.UpdateAccumulatedRate:
		return p.handleUpdateAccumulatedRate(ctx, tx, e)
	case *event.ProxyCreated:
		return p.handleProxyCreated(ctx, tx, e)
	case *event.OpenSAFE:
		return p.handleOpenSAFE(ctx, tx, e)
	default:
		return fmt.Errorf("unknown event type: %T", evt)
	}
}
