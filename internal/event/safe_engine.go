package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// InitializeCollateralType registers a new collateral type with the engine.
type InitializeCollateralType struct {
	Meta
	CollateralType string
}

func (e *InitializeCollateralType) EventType() EventType {
	return EventTypeInitializeCollateralType
}

// ModifyParameters changes a global uint parameter (rad scale).
type ModifyParameters struct {
	Meta
	Parameter string
	Data      *big.Int
}

func (e *ModifyParameters) EventType() EventType {
	return EventTypeModifyParameters
}

// ModifyCollateralParameters changes a per-collateral-type parameter.
type ModifyCollateralParameters struct {
	Meta
	CollateralType string
	Parameter      string
	Data           *big.Int
}

func (e *ModifyCollateralParameters) EventType() EventType {
	return EventTypeModifyCollateralParameters
}

// ModifyCollateralBalance joins or exits collateral for an account. Wad is signed.
type ModifyCollateralBalance struct {
	Meta
	CollateralType string
	Account        common.Address
	Wad            *big.Int
}

func (e *ModifyCollateralBalance) EventType() EventType {
	return EventTypeModifyCollateralBalance
}

type TransferCollateral struct {
	Meta
	CollateralType string
	Src            common.Address
	Dst            common.Address
	Wad            *big.Int
}

func (e *TransferCollateral) EventType() EventType {
	return EventTypeTransferCollateral
}

type TransferInternalCoins struct {
	Meta
	Src common.Address
	Dst common.Address
	Rad *big.Int
}

func (e *TransferInternalCoins) EventType() EventType {
	return EventTypeTransferInternalCoins
}

// ModifySAFECollateralization locks/frees collateral and draws/repays debt.
// Deltas are signed wad values.
type ModifySAFECollateralization struct {
	Meta
	CollateralType   string
	Safe             common.Address
	CollateralSource common.Address
	DebtDestination  common.Address
	DeltaCollateral  *big.Int
	DeltaDebt        *big.Int
}

func (e *ModifySAFECollateralization) EventType() EventType {
	return EventTypeModifySAFECollateralization
}

// TransferSAFECollateralAndDebt splits collateral and debt between two safes.
type TransferSAFECollateralAndDebt struct {
	Meta
	CollateralType  string
	Src             common.Address
	Dst             common.Address
	DeltaCollateral *big.Int
	DeltaDebt       *big.Int
}

func (e *TransferSAFECollateralAndDebt) EventType() EventType {
	return EventTypeTransferSAFECollateralAndDebt
}

// ConfiscateSAFECollateralAndDebt is emitted on liquidation.
type ConfiscateSAFECollateralAndDebt struct {
	Meta
	CollateralType         string
	Safe                   common.Address
	CollateralCounterparty common.Address
	DebtCounterparty       common.Address
	DeltaCollateral        *big.Int
	DeltaDebt              *big.Int
}

func (e *ConfiscateSAFECollateralAndDebt) EventType() EventType {
	return EventTypeConfiscateSAFECollateralAndDebt
}

// SettleDebt cancels surplus coins against unbacked debt held by the
// accounting engine. The log does not carry the account.
type SettleDebt struct {
	Meta
	Rad *big.Int
}

func (e *SettleDebt) EventType() EventType {
	return EventTypeSettleDebt
}

type CreateUnbackedDebt struct {
	Meta
	DebtDestination common.Address
	CoinDestination common.Address
	Rad             *big.Int
}

func (e *CreateUnbackedDebt) EventType() EventType {
	return EventTypeCreateUnbackedDebt
}

// UpdateAccumulatedRate accrues stability fees. RateMultiplier is a signed
// ray delta, GlobalDebt is the engine's post-update total in rad.
type UpdateAccumulatedRate struct {
	Meta
	CollateralType string
	SurplusDst     common.Address
	RateMultiplier *big.Int
	GlobalDebt     *big.Int
}

func (e *UpdateAccumulatedRate) EventType() EventType {
	return EventTypeUpdateAccumulatedRate
}
