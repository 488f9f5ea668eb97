package chain_test

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"GebLedger/internal/chain"
	fpmath "GebLedger/internal/math"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	engine     = common.HexToAddress("0x00000000000000000000000000000000000AE000")
	safeEngine = common.HexToAddress("0x00000000000000000000000000000000000005AF")
)

// fakeCaller answers getters from a table of output values.
type fakeCaller struct {
	t       *testing.T
	abi     abi.ABI
	values  map[string]interface{}
	failOn  string
	blocks  []uint64
	targets []common.Address
}

func newFakeCaller(t *testing.T) *fakeCaller {
	parsed, err := abi.JSON(strings.NewReader(chain.AccountingEngineABI))
	require.NoError(t, err)

	pow := func(n int64) *big.Int { return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil) }
	return &fakeCaller{
		t:   t,
		abi: parsed,
		values: map[string]interface{}{
			"safeEngine":                     safeEngine,
			"surplusAuctionHouse":            common.HexToAddress("0x01"),
			"debtAuctionHouse":               common.HexToAddress("0x02"),
			"protocolTokenAuthority":         common.HexToAddress("0x03"),
			"postSettlementSurplusDrain":     common.HexToAddress("0x04"),
			"surplusAuctionDelay":            big.NewInt(3600),
			"popDebtDelay":                   big.NewInt(7200),
			"surplusAuctionAmountToSell":     new(big.Int).Mul(big.NewInt(100), pow(45)),
			"debtAuctionBidSize":             new(big.Int).Mul(big.NewInt(50), pow(45)),
			"initialDebtAuctionMintedTokens": new(big.Int).Mul(big.NewInt(2), pow(18)),
			"surplusBuffer":                  new(big.Int).Mul(big.NewInt(500), pow(45)),
			"totalQueuedDebt":                big.NewInt(0),
			"totalOnAuctionDebt":             big.NewInt(0),
		},
	}
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.blocks = append(f.blocks, block.Uint64())
	f.targets = append(f.targets, *msg.To)

	for name, method := range f.abi.Methods {
		if !bytes.Equal(msg.Data[:4], method.ID) {
			continue
		}
		if name == f.failOn {
			return nil, errors.New("execution reverted")
		}
		return method.Outputs.Pack(f.values[name])
	}
	f.t.Fatalf("unexpected selector %x", msg.Data[:4])
	return nil, nil
}

func TestAccountingEngineReader_ReadsConfigAtBlock(t *testing.T) {
	caller := newFakeCaller(t)
	reader, err := chain.NewAccountingEngineReader(caller, zerolog.Nop())
	require.NoError(t, err)

	cfg, err := reader.AccountingEngineConfig(context.Background(), engine, 11_000_000)
	require.NoError(t, err)

	assert.Equal(t, safeEngine, cfg.SafeEngine)
	assert.Equal(t, common.HexToAddress("0x04"), cfg.PostSettlementSurplusDrain)
	assert.Equal(t, int64(3600), cfg.SurplusAuctionDelay)
	assert.Equal(t, int64(7200), cfg.PopDebtDelay)
	assert.Equal(t, "100", cfg.SurplusAuctionAmountToSell.String())
	assert.Equal(t, "500", cfg.SurplusBuffer.String())
	assert.Equal(t, "2", cfg.InitialDebtAuctionMintedTokens.String())
	assert.True(t, cfg.TotalQueuedDebt.Equal(fpmath.Zero))

	require.Len(t, caller.blocks, 13)
	for i := range caller.blocks {
		assert.Equal(t, uint64(11_000_000), caller.blocks[i])
		assert.Equal(t, engine, caller.targets[i])
	}
}

func TestAccountingEngineReader_FailedCallFailsRead(t *testing.T) {
	caller := newFakeCaller(t)
	caller.failOn = "debtAuctionBidSize"
	reader, err := chain.NewAccountingEngineReader(caller, zerolog.Nop())
	require.NoError(t, err)

	_, err = reader.AccountingEngineConfig(context.Background(), engine, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "debtAuctionBidSize")
	assert.Contains(t, err.Error(), "execution reverted")

	// Calls stop at the first failure
	assert.Len(t, caller.blocks, 9)
}

func TestDial_RequiresEndpoint(t *testing.T) {
	_, err := chain.Dial(context.Background(), "  ")
	assert.Error(t, err)
}
