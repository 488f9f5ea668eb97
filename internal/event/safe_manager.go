package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OpenSAFE is the SAFE manager's OpenSAFE log, enriched by the host with the
// handler address and collateral type the manager assigned to the new safe.
type OpenSAFE struct {
	Meta
	Sender         common.Address
	Owner          common.Address
	SafeID         *big.Int
	SafeHandler    common.Address
	CollateralType string
}

func (e *OpenSAFE) EventType() EventType {
	return EventTypeOpenSAFE
}
