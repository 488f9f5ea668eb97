package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"GebLedger/internal/state"
	"GebLedger/internal/store"

	"github.com/shopspring/decimal"
)

// CollateralTotals is the sum of per-account rows for one collateral type.
type CollateralTotals struct {
	SafeCollateral decimal.Decimal // wad
	SafeDebt       decimal.Decimal // wad, normalized
	FreeCollateral decimal.Decimal // wad
	Safes          int
	Balances       int
}

// BalanceTracker aggregates stored safes and collateral balances by
// collateral type.
type BalanceTracker struct {
	totals map[string]*CollateralTotals
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		totals: make(map[string]*CollateralTotals),
	}
}

// Load reads every safe and collateral balance from lister.
func (bt *BalanceTracker) Load(ctx context.Context, lister store.Lister) error {
	safes, err := lister.List(ctx, state.KindSafe)
	if err != nil {
		return fmt.Errorf("list safes: %w", err)
	}
	for _, rec := range safes {
		var s state.Safe
		if err := json.Unmarshal(rec.Data, &s); err != nil {
			return fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		bt.ApplySafe(s)
	}

	balances, err := lister.List(ctx, state.KindCollateralBalance)
	if err != nil {
		return fmt.Errorf("list collateral balances: %w", err)
	}
	for _, rec := range balances {
		var b state.CollateralBalance
		if err := json.Unmarshal(rec.Data, &b); err != nil {
			return fmt.Errorf("decode %s: %w", rec.Key, err)
		}
		bt.ApplyCollateralBalance(b)
	}
	return nil
}

func (bt *BalanceTracker) ApplySafe(s state.Safe) {
	t := bt.get(s.CollateralType)
	t.SafeCollateral = t.SafeCollateral.Add(s.Collateral)
	t.SafeDebt = t.SafeDebt.Add(s.Debt)
	t.Safes++
}

func (bt *BalanceTracker) ApplyCollateralBalance(b state.CollateralBalance) {
	t := bt.get(b.CollateralType)
	t.FreeCollateral = t.FreeCollateral.Add(b.Balance)
	t.Balances++
}

// Totals returns the aggregate for a collateral type. Unknown types
// aggregate to zero.
func (bt *BalanceTracker) Totals(collateralType string) CollateralTotals {
	if t, ok := bt.totals[collateralType]; ok {
		return *t
	}
	return CollateralTotals{}
}

// CollateralTypes lists every type seen in a safe or balance, sorted.
func (bt *BalanceTracker) CollateralTypes() []string {
	ids := make([]string, 0, len(bt.totals))
	for id := range bt.totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (bt *BalanceTracker) get(collateralType string) *CollateralTotals {
	t, ok := bt.totals[collateralType]
	if !ok {
		t = &CollateralTotals{}
		bt.totals[collateralType] = t
	}
	return t
}
