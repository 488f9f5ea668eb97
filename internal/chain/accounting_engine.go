package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	fpmath "GebLedger/internal/math"
	"GebLedger/internal/state"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// AccountingEngineABI covers the public getters read at bootstrap.
const AccountingEngineABI = `[
	{"name":"safeEngine","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"surplusAuctionHouse","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"debtAuctionHouse","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"protocolTokenAuthority","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"postSettlementSurplusDrain","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"surplusAuctionDelay","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"popDebtDelay","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"surplusAuctionAmountToSell","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"debtAuctionBidSize","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"initialDebtAuctionMintedTokens","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"surplusBuffer","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"totalQueuedDebt","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"totalOnAuctionDebt","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

// AccountingEngineReader reads accounting engine configuration with
// eth_call at a fixed block.
type AccountingEngineReader struct {
	caller ethereum.ContractCaller
	abi    abi.ABI
	logger zerolog.Logger
}

var _ state.AccountingEngineSource = (*AccountingEngineReader)(nil)

func NewAccountingEngineReader(caller ethereum.ContractCaller, logger zerolog.Logger) (*AccountingEngineReader, error) {
	parsed, err := abi.JSON(strings.NewReader(AccountingEngineABI))
	if err != nil {
		return nil, fmt.Errorf("parse accounting engine abi: %w", err)
	}
	return &AccountingEngineReader{
		caller: caller,
		abi:    parsed,
		logger: logger,
	}, nil
}

// Dial opens an Ethereum JSON-RPC client.
func Dial(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("eth rpc endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", trimmed, err)
	}
	return client, nil
}

// AccountingEngineConfig reads every getter at block. Any failed call
// fails the whole read.
func (r *AccountingEngineReader) AccountingEngineConfig(ctx context.Context, address common.Address, block uint64) (*state.AccountingEngineConfig, error) {
	call := &reader{ctx: ctx, r: r, contract: address, block: new(big.Int).SetUint64(block)}

	cfg := &state.AccountingEngineConfig{
		SafeEngine:                 call.address("safeEngine"),
		SurplusAuctionHouse:        call.address("surplusAuctionHouse"),
		DebtAuctionHouse:           call.address("debtAuctionHouse"),
		ProtocolTokenAuthority:     call.address("protocolTokenAuthority"),
		PostSettlementSurplusDrain: call.address("postSettlementSurplusDrain"),

		SurplusAuctionDelay:            call.seconds("surplusAuctionDelay"),
		PopDebtDelay:                   call.seconds("popDebtDelay"),
		SurplusAuctionAmountToSell:     fpmath.FromRad(call.uint256("surplusAuctionAmountToSell")),
		DebtAuctionBidSize:             fpmath.FromRad(call.uint256("debtAuctionBidSize")),
		InitialDebtAuctionMintedTokens: fpmath.FromWad(call.uint256("initialDebtAuctionMintedTokens")),
		SurplusBuffer:                  fpmath.FromRad(call.uint256("surplusBuffer")),
		TotalQueuedDebt:                fpmath.FromRad(call.uint256("totalQueuedDebt")),
		TotalOnAuctionDebt:             fpmath.FromRad(call.uint256("totalOnAuctionDebt")),
	}
	if call.err != nil {
		return nil, fmt.Errorf("read accounting engine %s at block %d: %w", address.Hex(), block, call.err)
	}

	r.logger.Info().
		Str("address", address.Hex()).
		Uint64("block", block).
		Str("safe_engine", cfg.SafeEngine.Hex()).
		Msg("accounting engine configuration read")

	return cfg, nil
}

// reader sequences getter calls, keeping the first error.
type reader struct {
	ctx      context.Context
	r        *AccountingEngineReader
	contract common.Address
	block    *big.Int
	err      error
}

func (c *reader) get(method string) interface{} {
	if c.err != nil {
		return nil
	}

	input, err := c.r.abi.Pack(method)
	if err != nil {
		c.err = fmt.Errorf("pack %s: %w", method, err)
		return nil
	}

	out, err := c.r.caller.CallContract(c.ctx, ethereum.CallMsg{To: &c.contract, Data: input}, c.block)
	if err != nil {
		c.err = fmt.Errorf("call %s: %w", method, err)
		return nil
	}
	if len(out) == 0 {
		c.err = fmt.Errorf("call %s: empty result, no contract at %s?", method, c.contract.Hex())
		return nil
	}

	values, err := c.r.abi.Unpack(method, out)
	if err != nil {
		c.err = fmt.Errorf("unpack %s: %w", method, err)
		return nil
	}
	if len(values) != 1 {
		c.err = fmt.Errorf("unpack %s: expected 1 value, got %d", method, len(values))
		return nil
	}
	return values[0]
}

func (c *reader) address(method string) common.Address {
	v := c.get(method)
	if v == nil {
		return common.Address{}
	}
	addr, ok := v.(common.Address)
	if !ok {
		c.err = fmt.Errorf("%s: unexpected type %T", method, v)
	}
	return addr
}

func (c *reader) uint256(method string) *big.Int {
	v := c.get(method)
	if v == nil {
		return nil
	}
	n, ok := v.(*big.Int)
	if !ok {
		c.err = fmt.Errorf("%s: unexpected type %T", method, v)
		return nil
	}
	return n
}

func (c *reader) seconds(method string) int64 {
	n := c.uint256(method)
	if n == nil {
		return 0
	}
	if !n.IsInt64() {
		c.err = fmt.Errorf("%s: %s overflows int64", method, n)
		return 0
	}
	return n.Int64()
}
