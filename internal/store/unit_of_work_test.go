package store_test

import (
	"context"
	"errors"
	"testing"

	"GebLedger/internal/store"
	"GebLedger/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Value string `json:"value"`
}

type failingBackend struct {
	*memory.Backend
}

func (f failingBackend) Apply(context.Context, []store.Record) error {
	return errors.New("disk full")
}

func TestUnitOfWork_ReadsStagedWritesFirst(t *testing.T) {
	ctx := context.Background()
	backend := memory.NewBackend()
	key := store.Key{Kind: "Thing", ID: "a"}

	uow := store.Begin(backend)
	require.NoError(t, uow.Save(ctx, key, doc{Value: "staged"}))

	var got doc
	require.NoError(t, uow.Load(ctx, key, &got))
	assert.Equal(t, "staged", got.Value)

	// Not visible in the backend until commit
	_, err := backend.Get(ctx, key)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, uow.Commit(ctx))
	_, err = backend.Get(ctx, key)
	assert.NoError(t, err)
}

func TestUnitOfWork_LoadMissing(t *testing.T) {
	uow := store.Begin(memory.NewBackend())

	var got doc
	err := uow.Load(context.Background(), store.Key{Kind: "Thing", ID: "missing"}, &got)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnitOfWork_RecordsKeepFirstSaveOrder(t *testing.T) {
	ctx := context.Background()
	uow := store.Begin(memory.NewBackend())

	a := store.Key{Kind: "Thing", ID: "a"}
	b := store.Key{Kind: "Thing", ID: "b"}
	require.NoError(t, uow.Save(ctx, b, doc{Value: "1"}))
	require.NoError(t, uow.Save(ctx, a, doc{Value: "2"}))
	require.NoError(t, uow.Save(ctx, b, doc{Value: "3"}))

	records := uow.Records()
	require.Len(t, records, 2)
	assert.Equal(t, b, records[0].Key)
	assert.JSONEq(t, `{"value":"3"}`, string(records[0].Data))
	assert.Equal(t, a, records[1].Key)
}

func TestUnitOfWork_FailedCommitLeavesNothing(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewBackend()
	uow := store.Begin(failingBackend{inner})

	require.NoError(t, uow.Save(ctx, store.Key{Kind: "Thing", ID: "a"}, doc{Value: "x"}))
	require.NoError(t, uow.Save(ctx, store.Key{Kind: "Thing", ID: "b"}, doc{Value: "y"}))

	err := uow.Commit(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, inner.Len())
}

func TestUnitOfWork_ClosedAfterDiscard(t *testing.T) {
	ctx := context.Background()
	uow := store.Begin(memory.NewBackend())
	uow.Discard()

	err := uow.Save(ctx, store.Key{Kind: "Thing", ID: "a"}, doc{})
	assert.ErrorIs(t, err, store.ErrClosed)
	assert.ErrorIs(t, uow.Commit(ctx), store.ErrClosed)
}

func TestUnitOfWork_RejectsEmptyKey(t *testing.T) {
	uow := store.Begin(memory.NewBackend())
	err := uow.Save(context.Background(), store.Key{Kind: "Thing"}, doc{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}
