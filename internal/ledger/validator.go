package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"GebLedger/internal/state"
	"GebLedger/internal/store"

	"github.com/rs/zerolog"
)

// InvariantValidator checks conservation between per-safe rows, per-account
// balances and collateral type aggregates.
type InvariantValidator struct {
	tracker *BalanceTracker
	logger  zerolog.Logger
}

func NewInvariantValidator(tracker *BalanceTracker, logger zerolog.Logger) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
		logger:  logger,
	}
}

// ValidateCollateralType verifies Σ safe.debt == debtAmount and
// Σ safe.collateral == totalCollateralLockedInSafes.
func (v *InvariantValidator) ValidateCollateralType(ct *state.CollateralType) error {
	totals := v.tracker.Totals(ct.ID)

	if !totals.SafeDebt.Equal(ct.DebtAmount) {
		return fmt.Errorf("collateral type %s: safe debt sums to %s, debtAmount is %s",
			ct.ID, totals.SafeDebt, ct.DebtAmount)
	}
	if !totals.SafeCollateral.Equal(ct.TotalCollateralLockedInSafes) {
		return fmt.Errorf("collateral type %s: safe collateral sums to %s, locked is %s",
			ct.ID, totals.SafeCollateral, ct.TotalCollateralLockedInSafes)
	}
	return nil
}

// ValidateFreeCollateral verifies Σ collateralBalance == totalCollateral.
func (v *InvariantValidator) ValidateFreeCollateral(ct *state.CollateralType) error {
	totals := v.tracker.Totals(ct.ID)

	if !totals.FreeCollateral.Equal(ct.TotalCollateral) {
		return fmt.Errorf("collateral type %s: collateral balances sum to %s, totalCollateral is %s",
			ct.ID, totals.FreeCollateral, ct.TotalCollateral)
	}
	return nil
}

// ValidateAll runs every check against every stored collateral type and
// returns the first violation. Rows referencing a type that was never
// stored are a violation too.
func (v *InvariantValidator) ValidateAll(ctx context.Context, lister store.Lister) (int, error) {
	records, err := lister.List(ctx, state.KindCollateralType)
	if err != nil {
		return 0, fmt.Errorf("list collateral types: %w", err)
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		var ct state.CollateralType
		if err := json.Unmarshal(rec.Data, &ct); err != nil {
			return 0, fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		seen[ct.ID] = true

		if err := v.ValidateCollateralType(&ct); err != nil {
			return 0, err
		}
		if err := v.ValidateFreeCollateral(&ct); err != nil {
			return 0, err
		}

		totals := v.tracker.Totals(ct.ID)
		v.logger.Debug().
			Str("collateral_type", ct.ID).
			Int("safes", totals.Safes).
			Int("balances", totals.Balances).
			Msg("collateral type conserved")
	}

	for _, id := range v.tracker.CollateralTypes() {
		if !seen[id] {
			return 0, fmt.Errorf("%w: collateral type %s referenced by stored rows", state.ErrMissingEntity, id)
		}
	}
	return len(records), nil
}
