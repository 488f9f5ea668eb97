package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"GebLedger/internal/event"
	fpmath "GebLedger/internal/math"
	"GebLedger/internal/store"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CollateralParameter is a SAFEEngine ModifyParameters(bytes32,bytes32,uint256) name.
type CollateralParameter int

const (
	CollateralParameterUnknown CollateralParameter = iota
	CollateralParameterDebtCeiling
	CollateralParameterDebtFloor
	CollateralParameterSafetyPrice
	CollateralParameterLiquidationPrice
)

func ParseCollateralParameter(name string) CollateralParameter {
	switch name {
	case "debtCeiling":
		return CollateralParameterDebtCeiling
	case "debtFloor":
		return CollateralParameterDebtFloor
	case "safetyPrice":
		return CollateralParameterSafetyPrice
	case "liquidationPrice":
		return CollateralParameterLiquidationPrice
	default:
		return CollateralParameterUnknown
	}
}

func (p CollateralParameter) String() string {
	switch p {
	case CollateralParameterDebtCeiling:
		return "debtCeiling"
	case CollateralParameterDebtFloor:
		return "debtFloor"
	case CollateralParameterSafetyPrice:
		return "safetyPrice"
	case CollateralParameterLiquidationPrice:
		return "liquidationPrice"
	default:
		return "unknown"
	}
}

// CollateralRegistry manages CollateralType aggregates.
type CollateralRegistry struct {
	logger zerolog.Logger
}

func NewCollateralRegistry(logger zerolog.Logger) *CollateralRegistry {
	return &CollateralRegistry{logger: logger}
}

func collateralKey(id string) store.Key {
	return store.Key{Kind: KindCollateralType, ID: id}
}

// Load returns the collateral type or store.ErrNotFound.
func (r *CollateralRegistry) Load(ctx context.Context, tx store.Tx, id string) (*CollateralType, error) {
	var ct CollateralType
	if err := tx.Load(ctx, collateralKey(id), &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

// GetOrCreate loads a collateral type, creating it with zero aggregates and
// a unit accumulated rate if absent. Existing records only get their
// modification provenance refreshed.
func (r *CollateralRegistry) GetOrCreate(ctx context.Context, tx store.Tx, id string, meta event.Meta) (*CollateralType, bool, error) {
	ct, err := r.Load(ctx, tx, id)
	if err == nil {
		ct.Modified = ProvenanceOf(meta)
		return ct, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, fmt.Errorf("load collateral type %s: %w", id, err)
	}

	r.logger.Info().Str("collateral_type", id).Uint64("block", meta.BlockNumber).Msg("collateral type created")

	prov := ProvenanceOf(meta)
	return &CollateralType{
		ID:                           id,
		DebtCeiling:                  fpmath.Zero,
		DebtFloor:                    fpmath.Zero,
		DebtAmount:                   fpmath.Zero,
		TotalCollateralLockedInSafes: fpmath.Zero,
		TotalCollateral:              fpmath.Zero,
		AccumulatedRate:              fpmath.One,
		Created:                      prov,
		Modified:                     prov,
	}, true, nil
}

func (r *CollateralRegistry) Save(ctx context.Context, tx store.Tx, ct *CollateralType) error {
	if err := tx.Save(ctx, collateralKey(ct.ID), ct); err != nil {
		return fmt.Errorf("save collateral type %s: %w", ct.ID, err)
	}
	return nil
}

// ApplyParameter writes a per-collateral parameter. Price parameters live in
// the oracle relayer and are ignored here, as are unknown names. The return
// value reports whether anything changed.
func (r *CollateralRegistry) ApplyParameter(ct *CollateralType, param CollateralParameter, raw *big.Int) bool {
	switch param {
	case CollateralParameterDebtCeiling:
		ct.DebtCeiling = fpmath.FromRad(raw)
		return true
	case CollateralParameterDebtFloor:
		ct.DebtFloor = fpmath.FromRad(raw)
		return true
	case CollateralParameterSafetyPrice, CollateralParameterLiquidationPrice:
		return false
	default:
		return false
	}
}

// AdjustSafeTotals moves the locked collateral and normalized debt totals by
// a safe delta. Collateral locked in a safe leaves the free pool.
func (r *CollateralRegistry) AdjustSafeTotals(ct *CollateralType, deltaCollateral, deltaDebt decimal.Decimal, meta event.Meta) {
	ct.DebtAmount = ct.DebtAmount.Add(deltaDebt)
	ct.TotalCollateralLockedInSafes = ct.TotalCollateralLockedInSafes.Add(deltaCollateral)
	ct.TotalCollateral = ct.TotalCollateral.Sub(deltaCollateral)
	ct.Modified = ProvenanceOf(meta)
}
