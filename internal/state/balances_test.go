package state_test

import (
	"context"
	"testing"

	"GebLedger/internal/observability"
	"GebLedger/internal/state"
	"GebLedger/internal/store"
	"GebLedger/internal/store/memory"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceLedger_AutovivifyFalseRequiresRecord(t *testing.T) {
	ctx := context.Background()
	ledger := state.NewBalanceLedger(nil, zerolog.Nop())
	uow := store.Begin(memory.NewBackend())

	_, err := ledger.CollateralBalance(ctx, uow, alice, "ETH-A", meta(1), false)
	assert.ErrorIs(t, err, state.ErrMissingEntity)

	_, err = ledger.CoinBalance(ctx, uow, alice, meta(1), false)
	assert.ErrorIs(t, err, state.ErrMissingEntity)

	_, err = ledger.DebtBalance(ctx, uow, alice, meta(1), false)
	assert.ErrorIs(t, err, state.ErrMissingEntity)
}

func TestBalanceLedger_AutovivifyCreatesZero(t *testing.T) {
	ctx := context.Background()
	ledger := state.NewBalanceLedger(nil, zerolog.Nop())
	uow := store.Begin(memory.NewBackend())

	bal, err := ledger.CollateralBalance(ctx, uow, alice, "ETH-A", meta(1), true)
	require.NoError(t, err)
	assert.Equal(t, state.CollateralBalanceID(alice, "ETH-A"), bal.ID)
	assert.Equal(t, state.AddressID(alice), bal.Account)
	assert.True(t, bal.Balance.IsZero())
	assert.Equal(t, 0, uow.Len(), "nothing is staged until a value is applied")
}

func TestBalanceLedger_ApplyReplacesValue(t *testing.T) {
	ctx := context.Background()
	ledger := state.NewBalanceLedger(nil, zerolog.Nop())
	uow := store.Begin(memory.NewBackend())

	bal, err := ledger.CoinBalance(ctx, uow, bob, meta(1), true)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyCoin(ctx, uow, bal, dec("42.5"), meta(1)))

	again, err := ledger.CoinBalance(ctx, uow, bob, meta(2), false)
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(dec("42.5")))

	require.NoError(t, ledger.ApplyCoin(ctx, uow, again, dec("1"), meta(2)))
	again, err = ledger.CoinBalance(ctx, uow, bob, meta(3), false)
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(dec("1")))
	assert.Equal(t, uint64(1), again.Created.Block)
	assert.Equal(t, uint64(2), again.Modified.Block)
}

func TestBalanceLedger_NegativeCoinIsFlaggedButPersisted(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ledger := state.NewBalanceLedger(metrics, zerolog.Nop())
	uow := store.Begin(memory.NewBackend())

	bal, err := ledger.CoinBalance(ctx, uow, alice, meta(1), true)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyCoin(ctx, uow, bal, dec("-3"), meta(1)))

	again, err := ledger.CoinBalance(ctx, uow, alice, meta(1), false)
	require.NoError(t, err)
	assert.True(t, again.Balance.Equal(dec("-3")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.NegativeBalances.WithLabelValues("coin")))
}

func TestBalanceLedger_NegativeDebtIsNotFlagged(t *testing.T) {
	ctx := context.Background()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ledger := state.NewBalanceLedger(metrics, zerolog.Nop())
	uow := store.Begin(memory.NewBackend())

	bal, err := ledger.DebtBalance(ctx, uow, alice, meta(1), true)
	require.NoError(t, err)
	require.NoError(t, ledger.ApplyDebt(ctx, uow, bal, dec("-10"), meta(1)))

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.NegativeBalances.WithLabelValues("debt")))
}
