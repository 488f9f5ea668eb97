package persistence_test

import (
	"context"
	"database/sql"
	"math/big"
	"testing"

	"GebLedger/internal/core"
	"GebLedger/internal/event"
	"GebLedger/internal/persistence"
	"GebLedger/internal/state"
	"GebLedger/internal/store"
	"GebLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*sql.DB, *persistence.EntityStore) {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	migrator := persistence.NewMigrator(db, testutil.MigrationsDir(t), zerolog.Nop())
	require.NoError(t, migrator.Up(context.Background()))
	_, _ = db.Exec("TRUNCATE ledger.entities")

	return db, persistence.NewEntityStore(db, 2, nil)
}

func TestEntityStore_ApplyGetList(t *testing.T) {
	ctx := context.Background()
	_, es := setup(t)

	_, err := es.Get(ctx, store.Key{Kind: "Thing", ID: "a"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	records := []store.Record{
		{Key: store.Key{Kind: "Thing", ID: "b"}, Data: []byte(`{"v":2}`)},
		{Key: store.Key{Kind: "Thing", ID: "a"}, Data: []byte(`{"v":1}`)},
		{Key: store.Key{Kind: "Other", ID: "a"}, Data: []byte(`{"v":3}`)},
	}
	require.NoError(t, es.Apply(ctx, records))

	data, err := es.Get(ctx, store.Key{Kind: "Thing", ID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(data))

	// Upsert replaces
	require.NoError(t, es.Apply(ctx, []store.Record{{Key: store.Key{Kind: "Thing", ID: "a"}, Data: []byte(`{"v":9}`)}}))
	data, err = es.Get(ctx, store.Key{Kind: "Thing", ID: "a"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":9}`, string(data))

	listed, err := es.List(ctx, "Thing")
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "a", listed[0].Key.ID)
	assert.Equal(t, "b", listed[1].Key.ID)
}

func TestEntityStore_ApplyIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	_, es := setup(t)

	// Third record is invalid JSON for a jsonb column
	err := es.Apply(ctx, []store.Record{
		{Key: store.Key{Kind: "Thing", ID: "a"}, Data: []byte(`{}`)},
		{Key: store.Key{Kind: "Thing", ID: "b"}, Data: []byte(`{}`)},
		{Key: store.Key{Kind: "Thing", ID: "c"}, Data: []byte(`{broken`)},
	})
	require.Error(t, err)

	_, err = es.Get(ctx, store.Key{Kind: "Thing", ID: "a"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, es.Apply(ctx, []store.Record{{Key: store.Key{Kind: "Thing"}}}), store.ErrInvalidInput)
}

func TestProcessorOnPostgres(t *testing.T) {
	ctx := context.Background()
	db, es := setup(t)

	checker := persistence.NewPostgresIdempotencyChecker(db)
	proc := core.NewProcessor(es, state.NewSystemManager(nil, nil, zerolog.Nop()), common.Address{}, checker, 100, nil, zerolog.Nop())

	evt := &event.InitializeCollateralType{
		Meta: event.Meta{
			BlockNumber:    10,
			BlockTimestamp: 1_600_000_000,
			TxHash:         common.BigToHash(big.NewInt(10)),
		},
		CollateralType: "ETH-A",
	}
	require.NoError(t, proc.ProcessEvent(ctx, evt))

	dup, err := checker.IsDuplicate(ctx, evt.EventType().String(), evt.IdempotencyKey())
	require.NoError(t, err)
	assert.True(t, dup)

	keys, err := checker.RecentKeys(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{core.CompositeKey(evt.EventType().String(), evt.IdempotencyKey())}, keys)

	// A restarted processor skips the redelivery via the store tier
	restarted := core.NewProcessor(es, state.NewSystemManager(nil, nil, zerolog.Nop()), common.Address{}, checker, 100, nil, zerolog.Nop())
	_, err = restarted.Restore(ctx)
	require.NoError(t, err)
	require.NoError(t, restarted.ProcessEvent(ctx, evt))

	var system state.SystemState
	require.NoError(t, store.Begin(es).Load(ctx, store.Key{Kind: state.KindSystemState, ID: state.SingletonID}, &system))
	assert.Equal(t, int64(1), system.CollateralCount)
}
