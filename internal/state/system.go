package state

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"GebLedger/internal/event"
	fpmath "GebLedger/internal/math"
	"GebLedger/internal/observability"
	"GebLedger/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// GlobalParameter is a SAFEEngine ModifyParameters(bytes32,uint256) name.
type GlobalParameter int

const (
	GlobalParameterUnknown GlobalParameter = iota
	GlobalParameterGlobalDebtCeiling
)

func ParseGlobalParameter(name string) GlobalParameter {
	switch name {
	case "globalDebtCeiling":
		return GlobalParameterGlobalDebtCeiling
	default:
		return GlobalParameterUnknown
	}
}

func (p GlobalParameter) String() string {
	switch p {
	case GlobalParameterGlobalDebtCeiling:
		return "globalDebtCeiling"
	default:
		return "unknown"
	}
}

// AccountingEngineConfig is the configuration read from the accounting
// engine contract at bootstrap.
type AccountingEngineConfig struct {
	SafeEngine                 common.Address
	SurplusAuctionHouse        common.Address
	DebtAuctionHouse           common.Address
	ProtocolTokenAuthority     common.Address
	PostSettlementSurplusDrain common.Address

	SurplusAuctionDelay            int64
	PopDebtDelay                   int64
	SurplusAuctionAmountToSell     decimal.Decimal
	DebtAuctionBidSize             decimal.Decimal
	InitialDebtAuctionMintedTokens decimal.Decimal
	SurplusBuffer                  decimal.Decimal
	TotalQueuedDebt                decimal.Decimal
	TotalOnAuctionDebt             decimal.Decimal
}

// AccountingEngineSource resolves accounting engine configuration from chain.
type AccountingEngineSource interface {
	AccountingEngineConfig(ctx context.Context, address common.Address, block uint64) (*AccountingEngineConfig, error)
}

// SystemManager owns the SystemState and AccountingEngine singletons.
// One instance is created per process and injected into the processor.
type SystemManager struct {
	engineSource AccountingEngineSource
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewSystemManager(engineSource AccountingEngineSource, metrics *observability.Metrics, logger zerolog.Logger) *SystemManager {
	return &SystemManager{
		engineSource: engineSource,
		metrics:      metrics,
		logger:       logger,
	}
}

func systemKey() store.Key {
	return store.Key{Kind: KindSystemState, ID: SingletonID}
}

// GetOrCreate loads the SystemState singleton, initializing it on first use,
// refreshes its modification provenance and stages it.
func (m *SystemManager) GetOrCreate(ctx context.Context, tx store.Tx, meta event.Meta) (*SystemState, error) {
	var s SystemState
	err := tx.Load(ctx, systemKey(), &s)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		s = SystemState{
			ID:                   SingletonID,
			GlobalDebt:           fpmath.Zero,
			GlobalUnbackedDebt:   fpmath.Zero,
			GlobalDebtCeiling:    fpmath.Zero,
			ERC20CoinTotalSupply: fpmath.Zero,
			GlobalStabilityFee:   fpmath.One,
			SavingsRate:          fpmath.One,
			Created:              ProvenanceOf(meta),
		}
		m.logger.Info().Uint64("block", meta.BlockNumber).Msg("system state initialized")
	default:
		return nil, fmt.Errorf("load system state: %w", err)
	}

	m.UpdateLastModified(&s, meta)
	if err := m.Save(ctx, tx, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateLastModified sets modification provenance without touching counters.
func (m *SystemManager) UpdateLastModified(s *SystemState, meta event.Meta) {
	s.Modified = ProvenanceOf(meta)
}

func (m *SystemManager) Save(ctx context.Context, tx store.Tx, s *SystemState) error {
	if err := tx.Save(ctx, systemKey(), s); err != nil {
		return fmt.Errorf("save system state: %w", err)
	}
	return nil
}

// ApplyGlobalParameter writes a global parameter. Unknown names are a no-op;
// the return value reports whether anything changed.
func (m *SystemManager) ApplyGlobalParameter(s *SystemState, param GlobalParameter, raw *big.Int) bool {
	switch param {
	case GlobalParameterGlobalDebtCeiling:
		s.GlobalDebtCeiling = fpmath.FromRad(raw)
		return true
	default:
		return false
	}
}

func accountingEngineKey() store.Key {
	return store.Key{Kind: KindAccountingEngine, ID: SingletonID}
}

// GetOrCreateAccountingEngine loads the AccountingEngine singleton. On first
// use it reads the contract configuration once; a read failure is returned
// unchanged to the caller and is not retried.
func (m *SystemManager) GetOrCreateAccountingEngine(ctx context.Context, tx store.Tx, address common.Address, meta event.Meta) (*AccountingEngine, error) {
	var ae AccountingEngine
	err := tx.Load(ctx, accountingEngineKey(), &ae)
	if err == nil {
		return &ae, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("load accounting engine: %w", err)
	}

	if m.engineSource == nil {
		return nil, fmt.Errorf("bootstrap accounting engine %s: no chain reader configured", AddressID(address))
	}
	if m.metrics != nil {
		m.metrics.BootstrapReads.Inc()
	}

	cfg, err := m.engineSource.AccountingEngineConfig(ctx, address, meta.BlockNumber)
	if err != nil {
		return nil, fmt.Errorf("bootstrap accounting engine %s: %w", AddressID(address), err)
	}

	prov := ProvenanceOf(meta)
	ae = AccountingEngine{
		ID:                             SingletonID,
		Address:                        AddressID(address),
		SafeEngine:                     AddressID(cfg.SafeEngine),
		SurplusAuctionHouse:            AddressID(cfg.SurplusAuctionHouse),
		DebtAuctionHouse:               AddressID(cfg.DebtAuctionHouse),
		ProtocolTokenAuthority:         AddressID(cfg.ProtocolTokenAuthority),
		PostSettlementSurplusDrain:     AddressID(cfg.PostSettlementSurplusDrain),
		SurplusAuctionDelay:            cfg.SurplusAuctionDelay,
		PopDebtDelay:                   cfg.PopDebtDelay,
		SurplusAuctionAmountToSell:     cfg.SurplusAuctionAmountToSell,
		DebtAuctionBidSize:             cfg.DebtAuctionBidSize,
		InitialDebtAuctionMintedTokens: cfg.InitialDebtAuctionMintedTokens,
		SurplusBuffer:                  cfg.SurplusBuffer,
		TotalQueuedDebt:                cfg.TotalQueuedDebt,
		TotalOnAuctionDebt:             cfg.TotalOnAuctionDebt,
		Created:                        prov,
		Modified:                       prov,
	}

	if err := tx.Save(ctx, accountingEngineKey(), &ae); err != nil {
		return nil, fmt.Errorf("save accounting engine: %w", err)
	}

	m.logger.Info().
		Str("address", ae.Address).
		Str("safe_engine", ae.SafeEngine).
		Uint64("block", meta.BlockNumber).
		Msg("accounting engine bootstrapped")

	return &ae, nil
}
