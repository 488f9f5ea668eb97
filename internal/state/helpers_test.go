package state_test

import (
	"context"
	"errors"
	"math/big"

	"GebLedger/internal/event"
	"GebLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000A11CE")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

func meta(block uint64) event.Meta {
	return event.Meta{
		BlockNumber:    block,
		BlockTimestamp: 1_600_000_000 + block*13,
		TxHash:         common.BigToHash(new(big.Int).SetUint64(block)),
		LogIndex:       0,
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type stubEngineSource struct {
	calls int
	cfg   *state.AccountingEngineConfig
	err   error
}

func (s *stubEngineSource) AccountingEngineConfig(_ context.Context, _ common.Address, _ uint64) (*state.AccountingEngineConfig, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.cfg, nil
}

var errUnreachable = errors.New("dial tcp: connection refused")
