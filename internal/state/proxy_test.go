package state_test

import (
	"context"
	"testing"

	"GebLedger/internal/state"
	"GebLedger/internal/store"
	"GebLedger/internal/store/memory"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProxyRegistry_Register(t *testing.T) {
	ctx := context.Background()
	reg := state.NewProxyRegistry()
	uow := store.Begin(memory.NewBackend())
	system := &state.SystemState{}

	proxyA := common.HexToAddress("0x1111")
	proxyB := common.HexToAddress("0x2222")
	cache := common.HexToAddress("0x3333")

	p, err := reg.Register(ctx, uow, system, alice, proxyA, cache, meta(1))
	require.NoError(t, err)
	assert.Equal(t, state.AddressID(proxyA), p.ID)
	assert.Equal(t, state.AddressID(alice), p.Owner)
	assert.Equal(t, state.AddressID(cache), p.Cache)
	assert.Equal(t, int64(1), system.ProxyCount)

	_, err = reg.Register(ctx, uow, system, alice, proxyB, cache, meta(2))
	require.NoError(t, err)
	assert.Equal(t, int64(2), system.ProxyCount)

	user, err := reg.GetOrCreateUser(ctx, uow, alice, meta(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), user.Created.Block, "owner record is created once")
}
