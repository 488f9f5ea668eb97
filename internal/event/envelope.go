package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeInitializeCollateralType
	EventTypeModifyParameters
	EventTypeModifyCollateralParameters
	EventTypeModifyCollateralBalance
	EventTypeTransferCollateral
	EventTypeTransferInternalCoins
	EventTypeModifySAFECollateralization
	EventTypeTransferSAFECollateralAndDebt
	EventTypeConfiscateSAFECollateralAndDebt
	EventTypeSettleDebt
	EventTypeCreateUnbackedDebt
	EventTypeUpdateAccumulatedRate
	EventTypeProxyCreated
	EventTypeOpenSAFE
)

// Meta is the chain provenance carried by every decoded log.
type Meta struct {
	BlockNumber    uint64
	BlockTimestamp uint64 // unix seconds
	TxHash         common.Hash
	LogIndex       uint
}

// IdempotencyKey returns the event uid: "<txHash>-<logIndex>".
func (m Meta) IdempotencyKey() string {
	return fmt.Sprintf("%s-%d", m.TxHash.Hex(), m.LogIndex)
}

func (m Meta) EventMeta() Meta {
	return m
}

// Before reports whether m is strictly earlier than other in chain order.
func (m Meta) Before(other Meta) bool {
	if m.BlockNumber != other.BlockNumber {
		return m.BlockNumber < other.BlockNumber
	}
	return m.LogIndex < other.LogIndex
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// EventMeta returns block, timestamp, transaction and log index
	EventMeta() Meta
}

func (et EventType) String() string {
	switch et {
	case EventTypeInitializeCollateralType:
		return "InitializeCollateralType"
	case EventTypeModifyParameters:
		return "ModifyParameters"
	case EventTypeModifyCollateralParameters:
		return "ModifyCollateralParameters"
	case EventTypeModifyCollateralBalance:
		return "ModifyCollateralBalance"
	case EventTypeTransferCollateral:
		return "TransferCollateral"
	case EventTypeTransferInternalCoins:
		return "TransferInternalCoins"
	case EventTypeModifySAFECollateralization:
		return "ModifySAFECollateralization"
	case EventTypeTransferSAFECollateralAndDebt:
		return "TransferSAFECollateralAndDebt"
	case EventTypeConfiscateSAFECollateralAndDebt:
		return "ConfiscateSAFECollateralAndDebt"
	case EventTypeSettleDebt:
		return "SettleDebt"
	case EventTypeCreateUnbackedDebt:
		return "CreateUnbackedDebt"
	case EventTypeUpdateAccumulatedRate:
		return "UpdateAccumulatedRate"
	case EventTypeProxyCreated:
		return "ProxyCreated"
	case EventTypeOpenSAFE:
		return "OpenSAFE"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String. Unrecognized names map to
// EventTypeUnknown.
func ParseEventType(name string) EventType {
	for et := EventTypeInitializeCollateralType; et <= EventTypeOpenSAFE; et++ {
		if et.String() == name {
			return et
		}
	}
	return EventTypeUnknown
}
