package state_test

import (
	"context"
	"testing"

	"GebLedger/internal/state"
	"GebLedger/internal/store"
	"GebLedger/internal/store/memory"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeLedger_CreateUnmanaged(t *testing.T) {
	ctx := context.Background()
	ledger := state.NewSafeLedger(zerolog.Nop())
	uow := store.Begin(memory.NewBackend())
	system := &state.SystemState{}

	s, created, err := ledger.Create(ctx, uow, system, state.SafeSpec{
		Handler:        alice,
		CollateralType: "ETH-A",
		Origin:         state.SafeOriginUnmanaged,
	}, meta(1))
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, state.SafeKeyID(alice, "ETH-A"), s.ID)
	assert.Equal(t, state.SafeOriginUnmanaged, s.Origin)
	assert.True(t, s.Collateral.IsZero())
	assert.Equal(t, int64(1), system.UnmanagedSafeCount)
	assert.Equal(t, int64(0), system.SafeCount)
	assert.Equal(t, int64(1), system.TotalActiveSafeCount)
}

func TestSafeLedger_CreateManaged(t *testing.T) {
	ctx := context.Background()
	ledger := state.NewSafeLedger(zerolog.Nop())
	uow := store.Begin(memory.NewBackend())
	system := &state.SystemState{}

	s, created, err := ledger.Create(ctx, uow, system, state.SafeSpec{
		Handler:        alice,
		CollateralType: "ETH-A",
		Origin:         state.SafeOriginManaged,
		SafeID:         "17",
		Owner:          bob,
	}, meta(1))
	require.NoError(t, err)

	assert.True(t, created)
	assert.Equal(t, "17", s.SafeID)
	assert.Equal(t, state.AddressID(bob), s.Owner)
	assert.Equal(t, int64(0), system.UnmanagedSafeCount)
	assert.Equal(t, int64(1), system.SafeCount)
	assert.Equal(t, int64(1), system.TotalActiveSafeCount)
}

func TestSafeLedger_CreateExistingIsNoop(t *testing.T) {
	ctx := context.Background()
	ledger := state.NewSafeLedger(zerolog.Nop())
	uow := store.Begin(memory.NewBackend())
	system := &state.SystemState{}

	managed := state.SafeSpec{Handler: alice, CollateralType: "ETH-A", Origin: state.SafeOriginManaged, SafeID: "1", Owner: bob}
	_, _, err := ledger.Create(ctx, uow, system, managed, meta(1))
	require.NoError(t, err)

	s, created, err := ledger.Create(ctx, uow, system, state.SafeSpec{
		Handler:        alice,
		CollateralType: "ETH-A",
		Origin:         state.SafeOriginUnmanaged,
	}, meta(2))
	require.NoError(t, err)

	assert.False(t, created)
	assert.Equal(t, state.SafeOriginManaged, s.Origin)
	assert.Equal(t, int64(0), system.UnmanagedSafeCount)
	assert.Equal(t, int64(1), system.TotalActiveSafeCount)
}

func TestSafeLedger_CreateRejectsUnknownOrigin(t *testing.T) {
	ledger := state.NewSafeLedger(zerolog.Nop())
	uow := store.Begin(memory.NewBackend())

	_, _, err := ledger.Create(context.Background(), uow, &state.SystemState{}, state.SafeSpec{
		Handler:        alice,
		CollateralType: "ETH-A",
		Origin:         "adopted",
	}, meta(1))
	assert.Error(t, err)
	assert.Equal(t, 0, uow.Len())
}

func TestSafeLedger_LoadRequired(t *testing.T) {
	ledger := state.NewSafeLedger(zerolog.Nop())
	uow := store.Begin(memory.NewBackend())

	_, err := ledger.LoadRequired(context.Background(), uow, alice, "ETH-A")
	assert.ErrorIs(t, err, state.ErrMissingEntity)
}

func TestSafeLedger_ApplyDelta(t *testing.T) {
	ledger := state.NewSafeLedger(zerolog.Nop())
	s := &state.Safe{Collateral: dec("5"), Debt: dec("2")}

	ledger.ApplyDelta(s, dec("-1"), dec("0"), meta(3))
	assert.True(t, s.Collateral.Equal(dec("4")))
	assert.True(t, s.Debt.Equal(dec("2")))
	assert.Equal(t, uint64(3), s.Modified.Block)
}

func TestSafeLedger_RecordChangeIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	ledger := state.NewSafeLedger(zerolog.Nop())
	uow := store.Begin(memory.NewBackend())
	s := &state.Safe{ID: state.SafeKeyID(alice, "ETH-A"), SafeHandler: state.AddressID(alice), CollateralType: "ETH-A"}

	rec, err := ledger.RecordChange(ctx, uow, "0xabc-0", s, dec("5"), dec("2"), meta(1))
	require.NoError(t, err)
	assert.Equal(t, s.ID, rec.Safe)
	assert.True(t, rec.DeltaCollateral.Equal(dec("5")))

	_, err = ledger.RecordChange(ctx, uow, "0xabc-0", s, dec("1"), dec("1"), meta(1))
	assert.ErrorIs(t, err, state.ErrAlreadyExists)
}
