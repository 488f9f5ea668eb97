package core

import (
	"context"
	"fmt"
	"strconv"

	"GebLedger/internal/event"
	"GebLedger/internal/state"
	"GebLedger/internal/store"
)

const statPeriod = 3600

// runPeriodicBookkeeping snapshots the system state once per hour of
// block time. It is driven by rate updates, so quiet hours have no row.
func (p *Processor) runPeriodicBookkeeping(ctx context.Context, tx store.Tx, system *state.SystemState, meta event.Meta) error {
	hour := meta.BlockTimestamp / statPeriod * statPeriod
	if system.LastPeriodicUpdate != 0 && hour <= system.LastPeriodicUpdate {
		return nil
	}

	stat := state.SystemStateHourlyStat{
		ID:                   strconv.FormatUint(hour, 10),
		HourStart:            hour,
		GlobalDebt:           system.GlobalDebt,
		GlobalUnbackedDebt:   system.GlobalUnbackedDebt,
		CollateralCount:      system.CollateralCount,
		ProxyCount:           system.ProxyCount,
		UnmanagedSafeCount:   system.UnmanagedSafeCount,
		SafeCount:            system.SafeCount,
		TotalActiveSafeCount: system.TotalActiveSafeCount,
		Created:              state.ProvenanceOf(meta),
	}
	if err := tx.Save(ctx, store.Key{Kind: state.KindSystemStateHourlyStat, ID: stat.ID}, &stat); err != nil {
		return fmt.Errorf("save hourly stat %s: %w", stat.ID, err)
	}

	system.LastPeriodicUpdate = hour
	return p.system.Save(ctx, tx, system)
}
