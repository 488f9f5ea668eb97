package core_test

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"GebLedger/internal/core"
	"GebLedger/internal/event"
	fpmath "GebLedger/internal/math"
	"GebLedger/internal/observability"
	"GebLedger/internal/state"
	"GebLedger/internal/store"
	"GebLedger/internal/store/memory"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const ethA = "ETH-A"

var (
	alice            = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob              = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
	carol            = common.HexToAddress("0x00000000000000000000000000000000000CA501")
	accountingEngine = common.HexToAddress("0x000000000000000000000000000000000000AE00")
)

// --- Test helpers ---

type stubEngineSource struct {
	calls int
	err   error
}

func (s *stubEngineSource) AccountingEngineConfig(_ context.Context, _ common.Address, _ uint64) (*state.AccountingEngineConfig, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &state.AccountingEngineConfig{
		SafeEngine:          common.HexToAddress("0x00000000000000000000000000000000000005AF"),
		SurplusAuctionDelay: 3600,
		PopDebtDelay:        7200,
		SurplusBuffer:       decimal.NewFromInt(500),
	}, nil
}

// failingBackend rejects every commit while reads still work.
type failingBackend struct {
	*memory.Backend
}

func (f failingBackend) Apply(context.Context, []store.Record) error {
	return errors.New("connection reset by peer")
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	backend store.Backend
	mem     *memory.Backend
	source  *stubEngineSource
	proc    *core.Processor

	block uint64
	now   uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mem := memory.NewBackend()
	return newHarnessOn(t, mem, mem)
}

func newHarnessOn(t *testing.T, backend store.Backend, mem *memory.Backend) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		ctx:     context.Background(),
		backend: backend,
		mem:     mem,
		source:  &stubEngineSource{},
		block:   100,
		now:     1_600_000_000,
	}
	h.proc = h.newProcessor()
	return h
}

// newProcessor builds a fresh processor over the harness backend, as a
// restarted process would.
func (h *harness) newProcessor() *core.Processor {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	logger := zerolog.Nop()
	system := state.NewSystemManager(h.source, metrics, logger)
	return core.NewProcessor(h.backend, system, accountingEngine, core.NewStoreIdempotencyChecker(h.backend), 1000, metrics, logger)
}

// next returns the meta of the next log, one log per block.
func (h *harness) next() event.Meta {
	h.block++
	h.now += 13
	return event.Meta{
		BlockNumber:    h.block,
		BlockTimestamp: h.now,
		TxHash:         common.BigToHash(new(big.Int).SetUint64(h.block)),
		LogIndex:       0,
	}
}

func (h *harness) apply(evt event.Event) {
	h.t.Helper()
	if err := h.proc.ProcessEvent(h.ctx, evt); err != nil {
		h.t.Fatalf("ProcessEvent(%s) failed: %v", evt.EventType(), err)
	}
}

func (h *harness) load(kind store.Kind, id string, dst any) {
	h.t.Helper()
	if err := store.Begin(h.backend).Load(h.ctx, store.Key{Kind: kind, ID: id}, dst); err != nil {
		h.t.Fatalf("load %s:%s: %v", kind, id, err)
	}
}

func (h *harness) exists(kind store.Kind, id string) bool {
	_, err := h.backend.Get(h.ctx, store.Key{Kind: kind, ID: id})
	return err == nil
}

func (h *harness) system() state.SystemState {
	h.t.Helper()
	var s state.SystemState
	h.load(state.KindSystemState, state.SingletonID, &s)
	return s
}

func (h *harness) collateralType(id string) state.CollateralType {
	h.t.Helper()
	var ct state.CollateralType
	h.load(state.KindCollateralType, id, &ct)
	return ct
}

func (h *harness) safe(handler common.Address) state.Safe {
	h.t.Helper()
	var s state.Safe
	h.load(state.KindSafe, state.SafeKeyID(handler, ethA), &s)
	return s
}

func (h *harness) collateralBalance(account common.Address) decimal.Decimal {
	h.t.Helper()
	var b state.CollateralBalance
	h.load(state.KindCollateralBalance, state.CollateralBalanceID(account, ethA), &b)
	return b.Balance
}

func (h *harness) coinBalance(account common.Address) decimal.Decimal {
	h.t.Helper()
	var b state.CoinBalance
	h.load(state.KindCoinBalance, state.AddressID(account), &b)
	return b.Balance
}

func (h *harness) debtBalance(account common.Address) decimal.Decimal {
	h.t.Helper()
	var b state.DebtBalance
	h.load(state.KindDebtBalance, state.AddressID(account), &b)
	return b.Balance
}

func wad(s string) *big.Int {
	return fpmath.Wad.ToInt(decimal.RequireFromString(s), fpmath.RoundHalfEven)
}

func ray(s string) *big.Int {
	return fpmath.Ray.ToInt(decimal.RequireFromString(s), fpmath.RoundHalfEven)
}

func rad(s string) *big.Int {
	return fpmath.Rad.ToInt(decimal.RequireFromString(s), fpmath.RoundHalfEven)
}

func expectDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s: expected %s, got %s", name, want, got)
	}
}

// --- Event builders ---

func (h *harness) initCollateral(id string) *event.InitializeCollateralType {
	return &event.InitializeCollateralType{Meta: h.next(), CollateralType: id}
}

func (h *harness) fund(account common.Address, amount string) *event.ModifyCollateralBalance {
	return &event.ModifyCollateralBalance{Meta: h.next(), CollateralType: ethA, Account: account, Wad: wad(amount)}
}

func (h *harness) modifySafe(handler common.Address, deltaCollateral, deltaDebt string) *event.ModifySAFECollateralization {
	return &event.ModifySAFECollateralization{
		Meta:             h.next(),
		CollateralType:   ethA,
		Safe:             handler,
		CollateralSource: handler,
		DebtDestination:  handler,
		DeltaCollateral:  wad(deltaCollateral),
		DeltaDebt:        wad(deltaDebt),
	}
}

// openSafe funds handler and locks collateral with debt in a single safe.
func (h *harness) openSafe(handler common.Address, collateral, debt string) {
	h.t.Helper()
	h.apply(h.fund(handler, collateral))
	h.apply(h.modifySafe(handler, collateral, debt))
}
