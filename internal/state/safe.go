package state

import (
	"context"
	"errors"
	"fmt"

	"GebLedger/internal/event"
	fpmath "GebLedger/internal/math"
	"GebLedger/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SafeSpec describes a safe to create.
type SafeSpec struct {
	Handler        common.Address
	CollateralType string
	Origin         SafeOrigin
	SafeID         string         // managed only
	Owner          common.Address // managed only
}

// SafeLedger manages Safe positions and their audit log.
type SafeLedger struct {
	logger zerolog.Logger
}

func NewSafeLedger(logger zerolog.Logger) *SafeLedger {
	return &SafeLedger{logger: logger}
}

func safeKey(id string) store.Key {
	return store.Key{Kind: KindSafe, ID: id}
}

// Load returns the safe for (handler, collateralType) or store.ErrNotFound.
func (l *SafeLedger) Load(ctx context.Context, tx store.Tx, handler common.Address, collateralType string) (*Safe, error) {
	var s Safe
	if err := tx.Load(ctx, safeKey(SafeKeyID(handler, collateralType)), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadRequired is Load with absence reported as ErrMissingEntity.
func (l *SafeLedger) LoadRequired(ctx context.Context, tx store.Tx, handler common.Address, collateralType string) (*Safe, error) {
	s, err := l.Load(ctx, tx, handler, collateralType)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: safe %s", ErrMissingEntity, SafeKeyID(handler, collateralType))
	}
	if err != nil {
		return nil, fmt.Errorf("load safe %s: %w", SafeKeyID(handler, collateralType), err)
	}
	return s, nil
}

// Create is the single safe constructor. If a safe with the same key
// already exists it is returned unchanged and no counter moves, so a safe
// opened through the manager is never recounted as unmanaged. Otherwise the
// origin selects the counter: unmanaged safes bump unmanagedSafeCount,
// managed safes bump safeCount; both bump totalActiveSafeCount.
// The caller saves system.
func (l *SafeLedger) Create(ctx context.Context, tx store.Tx, system *SystemState, spec SafeSpec, meta event.Meta) (*Safe, bool, error) {
	existing, err := l.Load(ctx, tx, spec.Handler, spec.CollateralType)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("load safe %s: %w", SafeKeyID(spec.Handler, spec.CollateralType), err)
	}

	prov := ProvenanceOf(meta)
	s := &Safe{
		ID:             SafeKeyID(spec.Handler, spec.CollateralType),
		SafeHandler:    AddressID(spec.Handler),
		CollateralType: spec.CollateralType,
		Origin:         spec.Origin,
		Collateral:     fpmath.Zero,
		Debt:           fpmath.Zero,
		Created:        prov,
		Modified:       prov,
	}

	switch spec.Origin {
	case SafeOriginManaged:
		s.SafeID = spec.SafeID
		s.Owner = AddressID(spec.Owner)
		system.SafeCount++
	case SafeOriginUnmanaged:
		system.UnmanagedSafeCount++
	default:
		return nil, false, fmt.Errorf("create safe %s: unknown origin %q", s.ID, spec.Origin)
	}
	system.TotalActiveSafeCount++

	if err := l.Save(ctx, tx, s); err != nil {
		return nil, false, err
	}

	l.logger.Debug().
		Str("safe", s.ID).
		Str("origin", string(s.Origin)).
		Uint64("block", meta.BlockNumber).
		Msg("safe created")

	return s, true, nil
}

// ApplyDelta adds signed deltas to the safe's collateral and debt.
func (l *SafeLedger) ApplyDelta(s *Safe, deltaCollateral, deltaDebt decimal.Decimal, meta event.Meta) {
	s.Collateral = s.Collateral.Add(deltaCollateral)
	s.Debt = s.Debt.Add(deltaDebt)
	s.Modified = ProvenanceOf(meta)
}

func (l *SafeLedger) Save(ctx context.Context, tx store.Tx, s *Safe) error {
	if err := tx.Save(ctx, safeKey(s.ID), s); err != nil {
		return fmt.Errorf("save safe %s: %w", s.ID, err)
	}
	return nil
}

// RecordChange appends one audit row. Rows are write-once: an existing id
// is an error.
func (l *SafeLedger) RecordChange(ctx context.Context, tx store.Tx, id string, s *Safe, deltaCollateral, deltaDebt decimal.Decimal, meta event.Meta) (*ModifySAFECollateralization, error) {
	key := store.Key{Kind: KindModifySAFECollateralization, ID: id}

	var existing ModifySAFECollateralization
	err := tx.Load(ctx, key, &existing)
	if err == nil {
		return nil, fmt.Errorf("%w: audit record %s", ErrAlreadyExists, id)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load audit record %s: %w", id, err)
	}

	rec := &ModifySAFECollateralization{
		ID:              id,
		Safe:            s.ID,
		SafeHandler:     s.SafeHandler,
		CollateralType:  s.CollateralType,
		DeltaCollateral: deltaCollateral,
		DeltaDebt:       deltaDebt,
		Created:         ProvenanceOf(meta),
	}
	if err := tx.Save(ctx, key, rec); err != nil {
		return nil, fmt.Errorf("save audit record %s: %w", id, err)
	}
	return rec, nil
}
