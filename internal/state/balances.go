package state

import (
	"context"
	"errors"
	"fmt"

	"GebLedger/internal/event"
	fpmath "GebLedger/internal/math"
	"GebLedger/internal/observability"
	"GebLedger/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// BalanceLedger manages the collateral, coin and debt balance ledgers.
//
// Lookups take an autovivify flag: when false, an absent balance is a
// precondition failure (ErrMissingEntity) rather than a fresh zero record.
// Apply* replaces the balance with an absolute value; callers compute it.
type BalanceLedger struct {
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewBalanceLedger(metrics *observability.Metrics, logger zerolog.Logger) *BalanceLedger {
	return &BalanceLedger{
		metrics: metrics,
		logger:  logger,
	}
}

func CollateralBalanceID(account common.Address, collateralType string) string {
	return AddressID(account) + "-" + collateralType
}

func (l *BalanceLedger) CollateralBalance(ctx context.Context, tx store.Tx, account common.Address, collateralType string, meta event.Meta, autovivify bool) (*CollateralBalance, error) {
	id := CollateralBalanceID(account, collateralType)

	var bal CollateralBalance
	found, err := l.load(ctx, tx, store.Key{Kind: KindCollateralBalance, ID: id}, &bal, autovivify)
	if err != nil {
		return nil, err
	}
	if found {
		return &bal, nil
	}

	prov := ProvenanceOf(meta)
	return &CollateralBalance{
		ID:             id,
		Account:        AddressID(account),
		CollateralType: collateralType,
		Balance:        fpmath.Zero,
		Created:        prov,
		Modified:       prov,
	}, nil
}

func (l *BalanceLedger) CoinBalance(ctx context.Context, tx store.Tx, account common.Address, meta event.Meta, autovivify bool) (*CoinBalance, error) {
	id := AddressID(account)

	var bal CoinBalance
	found, err := l.load(ctx, tx, store.Key{Kind: KindCoinBalance, ID: id}, &bal, autovivify)
	if err != nil {
		return nil, err
	}
	if found {
		return &bal, nil
	}

	prov := ProvenanceOf(meta)
	return &CoinBalance{ID: id, Account: id, Balance: fpmath.Zero, Created: prov, Modified: prov}, nil
}

func (l *BalanceLedger) DebtBalance(ctx context.Context, tx store.Tx, account common.Address, meta event.Meta, autovivify bool) (*DebtBalance, error) {
	id := AddressID(account)

	var bal DebtBalance
	found, err := l.load(ctx, tx, store.Key{Kind: KindDebtBalance, ID: id}, &bal, autovivify)
	if err != nil {
		return nil, err
	}
	if found {
		return &bal, nil
	}

	prov := ProvenanceOf(meta)
	return &DebtBalance{ID: id, Account: id, Balance: fpmath.Zero, Created: prov, Modified: prov}, nil
}

func (l *BalanceLedger) load(ctx context.Context, tx store.Tx, key store.Key, dst any, autovivify bool) (bool, error) {
	err := tx.Load(ctx, key, dst)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, store.ErrNotFound):
		return false, fmt.Errorf("load %s: %w", key, err)
	case !autovivify:
		return false, fmt.Errorf("%w: %s", ErrMissingEntity, key)
	default:
		return false, nil
	}
}

// ApplyCollateral sets a collateral balance to newValue and stages it.
func (l *BalanceLedger) ApplyCollateral(ctx context.Context, tx store.Tx, bal *CollateralBalance, newValue decimal.Decimal, meta event.Meta) error {
	bal.Balance = newValue
	bal.Modified = ProvenanceOf(meta)
	l.checkNonNegative("collateral", bal.ID, newValue, meta)

	if err := tx.Save(ctx, store.Key{Kind: KindCollateralBalance, ID: bal.ID}, bal); err != nil {
		return fmt.Errorf("save collateral balance %s: %w", bal.ID, err)
	}
	return nil
}

// ApplyCoin sets a coin balance to newValue and stages it.
func (l *BalanceLedger) ApplyCoin(ctx context.Context, tx store.Tx, bal *CoinBalance, newValue decimal.Decimal, meta event.Meta) error {
	bal.Balance = newValue
	bal.Modified = ProvenanceOf(meta)
	l.checkNonNegative("coin", bal.ID, newValue, meta)

	if err := tx.Save(ctx, store.Key{Kind: KindCoinBalance, ID: bal.ID}, bal); err != nil {
		return fmt.Errorf("save coin balance %s: %w", bal.ID, err)
	}
	return nil
}

// ApplyDebt sets a debt balance to newValue and stages it. Debt balances of
// settlement and confiscation counterparties go negative by design.
func (l *BalanceLedger) ApplyDebt(ctx context.Context, tx store.Tx, bal *DebtBalance, newValue decimal.Decimal, meta event.Meta) error {
	bal.Balance = newValue
	bal.Modified = ProvenanceOf(meta)

	if err := tx.Save(ctx, store.Key{Kind: KindDebtBalance, ID: bal.ID}, bal); err != nil {
		return fmt.Errorf("save debt balance %s: %w", bal.ID, err)
	}
	return nil
}

// checkNonNegative flags a negative collateral or coin balance. The value is
// still persisted so the derived state keeps tracking the chain.
func (l *BalanceLedger) checkNonNegative(ledger, id string, v decimal.Decimal, meta event.Meta) {
	if !v.IsNegative() {
		return
	}
	if l.metrics != nil {
		l.metrics.NegativeBalances.WithLabelValues(ledger).Inc()
	}
	l.logger.Warn().
		Str("ledger", ledger).
		Str("id", id).
		Str("balance", v.String()).
		Uint64("block", meta.BlockNumber).
		Str("tx", meta.TxHash.Hex()).
		Msg("negative balance observed")
}
