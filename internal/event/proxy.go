package event

import (
	"github.com/ethereum/go-ethereum/common"
)

// ProxyCreated is the proxy factory's Created log.
type ProxyCreated struct {
	Meta
	Sender common.Address
	Owner  common.Address
	Proxy  common.Address
	Cache  common.Address
}

func (e *ProxyCreated) EventType() EventType {
	return EventTypeProxyCreated
}
