package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"GebLedger/internal/event"
	"GebLedger/internal/observability"
	"GebLedger/internal/state"
	"GebLedger/internal/store/memory"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tx1 = "0x1111111111111111111111111111111111111111111111111111111111111111"
	tx2 = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

var accountingEngine = common.HexToAddress("0x00000000000000000000000000000000000AE000")

// Lines are deliberately out of chain order.
var capture = strings.Join([]string{
	`# ETH-A bootstrap`,
	`{"type":"ModifySAFECollateralization","block_number":101,"block_timestamp":1600000013,"tx_hash":"` + tx2 + `","log_index":0,"params":{"collateral_type":"ETH-A","safe":"0x00000000000000000000000000000000000A11CE","collateral_source":"0x00000000000000000000000000000000000A11CE","debt_destination":"0x00000000000000000000000000000000000A11CE","delta_collateral":"4000000000000000000","delta_debt":"100000000000000000000"}}`,
	``,
	`{"type":"InitializeCollateralType","block_number":100,"block_timestamp":1600000000,"tx_hash":"` + tx1 + `","log_index":0,"params":{"collateral_type":"ETH-A"}}`,
	`{"type":"ModifyCollateralBalance","block_number":100,"block_timestamp":1600000000,"tx_hash":"` + tx1 + `","log_index":1,"params":{"collateral_type":"ETH-A","account":"0x00000000000000000000000000000000000A11CE","wad":"10000000000000000000"}}`,
}, "\n")

func TestReadCapture_SkipsBlankAndComments(t *testing.T) {
	captured, err := readCapture(strings.NewReader(capture))
	require.NoError(t, err)
	require.Len(t, captured, 3)

	assert.Equal(t, 2, captured[0].Line)
	assert.Equal(t, event.EventTypeModifySAFECollateralization, captured[0].Event.EventType())
	assert.True(t, bytes.HasPrefix(captured[1].Data, []byte(`{"type":"InitializeCollateralType"`)))
}

func TestReadCapture_MalformedLineFails(t *testing.T) {
	_, err := readCapture(strings.NewReader(capture + "\n{\"type\":\"Nope\"}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 6")
}

func TestSortCapture_ChainOrderKeepsData(t *testing.T) {
	captured, err := readCapture(strings.NewReader(capture))
	require.NoError(t, err)

	sorted := sortCapture(captured)
	require.Len(t, sorted, 3)
	assert.Equal(t, event.EventTypeInitializeCollateralType, sorted[0].Event.EventType())
	assert.Equal(t, event.EventTypeModifyCollateralBalance, sorted[1].Event.EventType())
	assert.Equal(t, event.EventTypeModifySAFECollateralization, sorted[2].Event.EventType())
	assert.Equal(t, 5, sorted[1].Line)
	assert.True(t, bytes.Contains(sorted[2].Data, []byte("delta_debt")))
}

func TestRunApply_VerifiesAndResumes(t *testing.T) {
	ctx := context.Background()
	captured, err := readCapture(strings.NewReader(capture))
	require.NoError(t, err)
	captured = sortCapture(captured)

	backend := memory.NewBackend()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	first, applied, err := runApply(ctx, captured, backend, offlineSource{}, accountingEngine, true, metrics, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(3), applied)

	var out bytes.Buffer
	require.NoError(t, report(&out, first, len(captured), applied))
	assert.Contains(t, out.String(), "read=3 applied=3 skipped=0")

	// Replaying the same capture on the same backend applies nothing.
	second, applied, err := runApply(ctx, captured, backend, offlineSource{}, accountingEngine, true,
		observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, int64(0), applied)
	assert.Equal(t, first.GetStateHash(), second.GetStateHash())
}

func TestRunApply_OfflineSettleDebtFails(t *testing.T) {
	settle := `{"type":"SettleDebt","block_number":102,"block_timestamp":1600000026,"tx_hash":"` + tx2 + `","log_index":3,"params":{"rad":"1"}}`
	captured, err := readCapture(strings.NewReader(capture + "\n" + settle))
	require.NoError(t, err)

	_, _, err = runApply(context.Background(), sortCapture(captured), memory.NewBackend(), offlineSource{}, accountingEngine, false,
		observability.NewMetrics(prometheus.NewRegistry()), zerolog.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errOffline))
	assert.Contains(t, err.Error(), "line 6")
}

var _ state.AccountingEngineSource = offlineSource{}
