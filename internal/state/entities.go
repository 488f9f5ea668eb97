package state

import (
	"strings"

	"GebLedger/internal/event"
	"GebLedger/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Entity kinds
const (
	KindSystemState                 store.Kind = "SystemState"
	KindAccountingEngine            store.Kind = "AccountingEngine"
	KindCollateralType              store.Kind = "CollateralType"
	KindSafe                        store.Kind = "Safe"
	KindCollateralBalance           store.Kind = "CollateralBalance"
	KindCoinBalance                 store.Kind = "CoinBalance"
	KindDebtBalance                 store.Kind = "DebtBalance"
	KindModifySAFECollateralization store.Kind = "ModifySAFECollateralization"
	KindUser                        store.Kind = "User"
	KindUserProxy                   store.Kind = "UserProxy"
	KindSystemStateHourlyStat       store.Kind = "SystemStateHourlyStat"
)

// SingletonID is the id of SystemState and AccountingEngine.
const SingletonID = "current"

// Provenance records where in the chain an entity was touched.
type Provenance struct {
	Block       uint64 `json:"block"`
	Timestamp   uint64 `json:"timestamp"`
	Transaction string `json:"transaction"`
}

func ProvenanceOf(meta event.Meta) Provenance {
	return Provenance{
		Block:       meta.BlockNumber,
		Timestamp:   meta.BlockTimestamp,
		Transaction: meta.TxHash.Hex(),
	}
}

// AddressID renders an address the way entity ids embed it: lower-case hex.
func AddressID(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

// SystemState holds global counters and aggregates.
type SystemState struct {
	ID string `json:"id"`

	CollateralCount        int64 `json:"collateralCount"`
	CollateralAuctionCount int64 `json:"collateralAuctionCount"`
	ProxyCount             int64 `json:"proxyCount"`
	UnmanagedSafeCount     int64 `json:"unmanagedSafeCount"`
	SafeCount              int64 `json:"safeCount"`
	TotalActiveSafeCount   int64 `json:"totalActiveSafeCount"`

	GlobalDebt           decimal.Decimal `json:"globalDebt"`           // rad
	GlobalUnbackedDebt   decimal.Decimal `json:"globalUnbackedDebt"`   // rad
	GlobalDebtCeiling    decimal.Decimal `json:"globalDebtCeiling"`    // rad
	ERC20CoinTotalSupply decimal.Decimal `json:"erc20CoinTotalSupply"` // rad

	GlobalStabilityFee decimal.Decimal `json:"globalStabilityFee"` // ray
	SavingsRate        decimal.Decimal `json:"savingsRate"`        // ray

	LastPeriodicUpdate uint64 `json:"lastPeriodicUpdate"`

	Created  Provenance `json:"created"`
	Modified Provenance `json:"modified"`
}

// AccountingEngine is resolved once from chain and then only mutated by its
// own accounting fields.
type AccountingEngine struct {
	ID      string `json:"id"`
	Address string `json:"address"`

	SafeEngine                 string `json:"safeEngine"`
	SurplusAuctionHouse        string `json:"surplusAuctionHouse"`
	DebtAuctionHouse           string `json:"debtAuctionHouse"`
	ProtocolTokenAuthority     string `json:"protocolTokenAuthority"`
	PostSettlementSurplusDrain string `json:"postSettlementSurplusDrain"`

	SurplusAuctionDelay            int64           `json:"surplusAuctionDelay"`            // seconds
	PopDebtDelay                   int64           `json:"popDebtDelay"`                   // seconds
	SurplusAuctionAmountToSell     decimal.Decimal `json:"surplusAuctionAmountToSell"`     // rad
	DebtAuctionBidSize             decimal.Decimal `json:"debtAuctionBidSize"`             // rad
	InitialDebtAuctionMintedTokens decimal.Decimal `json:"initialDebtAuctionMintedTokens"` // wad
	SurplusBuffer                  decimal.Decimal `json:"surplusBuffer"`                  // rad

	TotalQueuedDebt    decimal.Decimal `json:"totalQueuedDebt"`    // rad
	TotalOnAuctionDebt decimal.Decimal `json:"totalOnAuctionDebt"` // rad

	Created  Provenance `json:"created"`
	Modified Provenance `json:"modified"`
}

// CollateralType aggregates everything known about one collateral type.
type CollateralType struct {
	ID string `json:"id"`

	DebtCeiling                  decimal.Decimal `json:"debtCeiling"` // rad
	DebtFloor                    decimal.Decimal `json:"debtFloor"`   // rad
	DebtAmount                   decimal.Decimal `json:"debtAmount"`  // wad, normalized
	TotalCollateralLockedInSafes decimal.Decimal `json:"totalCollateralLockedInSafes"`
	TotalCollateral              decimal.Decimal `json:"totalCollateral"` // free balances
	AccumulatedRate              decimal.Decimal `json:"accumulatedRate"` // ray

	Created  Provenance `json:"created"`
	Modified Provenance `json:"modified"`
}

// SafeOrigin distinguishes safes opened through the SAFE manager from
// safes first seen in a collateralization change.
type SafeOrigin string

const (
	SafeOriginUnmanaged SafeOrigin = "unmanaged"
	SafeOriginManaged   SafeOrigin = "managed"
)

type Safe struct {
	ID             string     `json:"id"`
	SafeHandler    string     `json:"safeHandler"`
	CollateralType string     `json:"collateralType"`
	Origin         SafeOrigin `json:"origin"`
	SafeID         string     `json:"safeId,omitempty"` // managed only
	Owner          string     `json:"owner,omitempty"`  // managed only

	Collateral decimal.Decimal `json:"collateral"` // wad
	Debt       decimal.Decimal `json:"debt"`       // wad, normalized

	Created  Provenance `json:"created"`
	Modified Provenance `json:"modified"`
}

func SafeKeyID(handler common.Address, collateralType string) string {
	return AddressID(handler) + "-" + collateralType
}

type CollateralBalance struct {
	ID             string          `json:"id"`
	Account        string          `json:"account"`
	CollateralType string          `json:"collateralType"`
	Balance        decimal.Decimal `json:"balance"` // wad
	Created        Provenance      `json:"created"`
	Modified       Provenance      `json:"modified"`
}

type CoinBalance struct {
	ID       string          `json:"id"`
	Account  string          `json:"account"`
	Balance  decimal.Decimal `json:"balance"` // rad
	Created  Provenance      `json:"created"`
	Modified Provenance      `json:"modified"`
}

type DebtBalance struct {
	ID       string          `json:"id"`
	Account  string          `json:"account"`
	Balance  decimal.Decimal `json:"balance"` // rad
	Created  Provenance      `json:"created"`
	Modified Provenance      `json:"modified"`
}

// ModifySAFECollateralization is the write-once audit row of a safe change.
type ModifySAFECollateralization struct {
	ID              string          `json:"id"`
	Safe            string          `json:"safe"`
	SafeHandler     string          `json:"safeHandler"`
	CollateralType  string          `json:"collateralType"`
	DeltaCollateral decimal.Decimal `json:"deltaCollateral"` // wad
	DeltaDebt       decimal.Decimal `json:"deltaDebt"`       // wad
	Created         Provenance      `json:"created"`
}

type User struct {
	ID       string     `json:"id"`
	Address  string     `json:"address"`
	Created  Provenance `json:"created"`
	Modified Provenance `json:"modified"`
}

type UserProxy struct {
	ID      string     `json:"id"`
	Address string     `json:"address"`
	Cache   string     `json:"cache"`
	Owner   string     `json:"owner"`
	Created Provenance `json:"created"`
}

// SystemStateHourlyStat is the periodic snapshot of SystemState.
type SystemStateHourlyStat struct {
	ID                   string          `json:"id"`
	HourStart            uint64          `json:"hourStart"`
	GlobalDebt           decimal.Decimal `json:"globalDebt"`
	GlobalUnbackedDebt   decimal.Decimal `json:"globalUnbackedDebt"`
	CollateralCount      int64           `json:"collateralCount"`
	ProxyCount           int64           `json:"proxyCount"`
	UnmanagedSafeCount   int64           `json:"unmanagedSafeCount"`
	SafeCount            int64           `json:"safeCount"`
	TotalActiveSafeCount int64           `json:"totalActiveSafeCount"`
	Created              Provenance      `json:"created"`
}
