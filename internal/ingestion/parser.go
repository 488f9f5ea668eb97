package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"GebLedger/internal/event"
	fpmath "GebLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
)

// ErrMalformed is returned for envelopes that cannot be decoded into an event.
var ErrMalformed = errors.New("malformed event")

// Envelope is the JSON wire format of one decoded log.
// Field names use snake_case to match upstream producers.
type Envelope struct {
	Type           string                     `json:"type"`
	BlockNumber    uint64                     `json:"block_number"`
	BlockTimestamp uint64                     `json:"block_timestamp"`
	TxHash         string                     `json:"tx_hash"`
	LogIndex       uint                       `json:"log_index"`
	Params         map[string]json.RawMessage `json:"params"`
}

// ParseRawEvent decodes a NATS message. When the subject names an event
// type it must agree with the envelope.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	evt, err := ParseEvent(raw.Data)
	if err != nil {
		return nil, err
	}

	if suffix, ok := strings.CutPrefix(raw.Subject, SubjectPrefix+"."); ok {
		if suffix != evt.EventType().String() {
			return nil, fmt.Errorf("%w: subject %s carries %s", ErrMalformed, raw.Subject, evt.EventType())
		}
	}
	return evt, nil
}

// ParseEvent decodes one wire envelope into a typed event.
func ParseEvent(data []byte) (event.Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env.Event()
}

// Event converts the envelope into its typed event.
func (env *Envelope) Event() (event.Event, error) {
	meta, err := env.meta()
	if err != nil {
		return nil, err
	}

	p := &params{values: env.Params}
	var evt event.Event

	switch event.ParseEventType(env.Type) {
	case event.EventTypeInitializeCollateralType:
		evt = &event.InitializeCollateralType{
			Meta:           meta,
			CollateralType: p.str("collateral_type"),
		}
	case event.EventTypeModifyParameters:
		evt = &event.ModifyParameters{
			Meta:      meta,
			Parameter: p.str("parameter"),
			Data:      p.bigInt("data"),
		}
	case event.EventTypeModifyCollateralParameters:
		evt = &event.ModifyCollateralParameters{
			Meta:           meta,
			CollateralType: p.str("collateral_type"),
			Parameter:      p.str("parameter"),
			Data:           p.bigInt("data"),
		}
	case event.EventTypeModifyCollateralBalance:
		evt = &event.ModifyCollateralBalance{
			Meta:           meta,
			CollateralType: p.str("collateral_type"),
			Account:        p.address("account"),
			Wad:            p.bigInt("wad"),
		}
	case event.EventTypeTransferCollateral:
		evt = &event.TransferCollateral{
			Meta:           meta,
			CollateralType: p.str("collateral_type"),
			Src:            p.address("src"),
			Dst:            p.address("dst"),
			Wad:            p.bigInt("wad"),
		}
	case event.EventTypeTransferInternalCoins:
		evt = &event.TransferInternalCoins{
			Meta: meta,
			Src:  p.address("src"),
			Dst:  p.address("dst"),
			Rad:  p.bigInt("rad"),
		}
	case event.EventTypeModifySAFECollateralization:
		evt = &event.ModifySAFECollateralization{
			Meta:             meta,
			CollateralType:   p.str("collateral_type"),
			Safe:             p.address("safe"),
			CollateralSource: p.address("collateral_source"),
			DebtDestination:  p.address("debt_destination"),
			DeltaCollateral:  p.bigInt("delta_collateral"),
			DeltaDebt:        p.bigInt("delta_debt"),
		}
	case event.EventTypeTransferSAFECollateralAndDebt:
		evt = &event.TransferSAFECollateralAndDebt{
			Meta:            meta,
			CollateralType:  p.str("collateral_type"),
			Src:             p.address("src"),
			Dst:             p.address("dst"),
			DeltaCollateral: p.bigInt("delta_collateral"),
			DeltaDebt:       p.bigInt("delta_debt"),
		}
	case event.EventTypeConfiscateSAFECollateralAndDebt:
		evt = &event.ConfiscateSAFECollateralAndDebt{
			Meta:                   meta,
			CollateralType:         p.str("collateral_type"),
			Safe:                   p.address("safe"),
			CollateralCounterparty: p.address("collateral_counterparty"),
			DebtCounterparty:       p.address("debt_counterparty"),
			DeltaCollateral:        p.bigInt("delta_collateral"),
			DeltaDebt:              p.bigInt("delta_debt"),
		}
	case event.EventTypeSettleDebt:
		evt = &event.SettleDebt{
			Meta: meta,
			Rad:  p.bigInt("rad"),
		}
	case event.EventTypeCreateUnbackedDebt:
		evt = &event.CreateUnbackedDebt{
			Meta:            meta,
			DebtDestination: p.address("debt_destination"),
			CoinDestination: p.address("coin_destination"),
			Rad:             p.bigInt("rad"),
		}
	case event.EventTypeUpdateAccumulatedRate:
		evt = &event.UpdateAccumulatedRate{
			Meta:           meta,
			CollateralType: p.str("collateral_type"),
			SurplusDst:     p.address("surplus_dst"),
			RateMultiplier: p.bigInt("rate_multiplier"),
			GlobalDebt:     p.bigInt("global_debt"),
		}
	case event.EventTypeProxyCreated:
		evt = &event.ProxyCreated{
			Meta:   meta,
			Sender: p.address("sender"),
			Owner:  p.address("owner"),
			Proxy:  p.address("proxy"),
			Cache:  p.address("cache"),
		}
	case event.EventTypeOpenSAFE:
		evt = &event.OpenSAFE{
			Meta:           meta,
			Sender:         p.address("sender"),
			Owner:          p.address("owner"),
			SafeID:         p.bigInt("safe_id"),
			SafeHandler:    p.address("safe_handler"),
			CollateralType: p.str("collateral_type"),
		}
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformed, env.Type)
	}

	if p.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Type, p.err)
	}
	return evt, nil
}

func (env *Envelope) meta() (event.Meta, error) {
	hash, err := parseHash(env.TxHash)
	if err != nil {
		return event.Meta{}, fmt.Errorf("%w: tx_hash: %v", ErrMalformed, err)
	}
	return event.Meta{
		BlockNumber:    env.BlockNumber,
		BlockTimestamp: env.BlockTimestamp,
		TxHash:         hash,
		LogIndex:       env.LogIndex,
	}, nil
}

func parseHash(s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("%q is not 0x-prefixed", s)
	}
	b := common.FromHex(s)
	if len(b) != common.HashLength || len(s) != 2+2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%q is not a 32-byte hash", s)
	}
	return common.BytesToHash(b), nil
}

// params reads typed values out of the params object. The first failure is
// kept in err and later reads become no-ops.
type params struct {
	values map[string]json.RawMessage
	err    error
}

func (p *params) text(name string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	raw, ok := p.values[name]
	if !ok {
		p.err = fmt.Errorf("missing param %s", name)
		return "", false
	}

	// Numbers arrive either quoted or bare.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	p.err = fmt.Errorf("param %s: expected string or number, got %s", name, raw)
	return "", false
}

func (p *params) str(name string) string {
	s, ok := p.text(name)
	if !ok {
		return ""
	}
	if s == "" {
		p.err = fmt.Errorf("param %s is empty", name)
	}
	return s
}

func (p *params) address(name string) common.Address {
	s, ok := p.text(name)
	if !ok {
		return common.Address{}
	}
	if !common.IsHexAddress(s) {
		p.err = fmt.Errorf("param %s: %q is not an address", name, s)
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (p *params) bigInt(name string) *big.Int {
	s, ok := p.text(name)
	if !ok {
		return nil
	}
	v, err := fpmath.ParseBigInt(s)
	if err != nil {
		p.err = fmt.Errorf("param %s: %w", name, err)
		return nil
	}
	return v
}
