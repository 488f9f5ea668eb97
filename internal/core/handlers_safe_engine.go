package core

import (
	"context"
	"errors"
	"fmt"

	"GebLedger/internal/event"
	fpmath "GebLedger/internal/math"
	"GebLedger/internal/state"
	"GebLedger/internal/store"
)

func (p *Processor) handleInitializeCollateralType(ctx context.Context, tx store.Tx, evt *event.InitializeCollateralType) error {
	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}

	ct, _, err := p.collaterals.GetOrCreate(ctx, tx, evt.CollateralType, evt.Meta)
	if err != nil {
		return err
	}
	if err := p.collaterals.Save(ctx, tx, ct); err != nil {
		return err
	}

	system.CollateralCount++
	if err := p.system.Save(ctx, tx, system); err != nil {
		return err
	}

	p.logger.Info().
		Str("collateral_type", evt.CollateralType).
		Int64("collateral_count", system.CollateralCount).
		Msg("collateral type initialized")
	return nil
}

func (p *Processor) handleModifyParameters(ctx context.Context, tx store.Tx, evt *event.ModifyParameters) error {
	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}

	param := state.ParseGlobalParameter(evt.Parameter)
	if !p.system.ApplyGlobalParameter(system, param, evt.Data) {
		p.logger.Warn().Str("parameter", evt.Parameter).Msg("global parameter ignored")
		return nil
	}
	return p.system.Save(ctx, tx, system)
}

func (p *Processor) handleModifyCollateralParameters(ctx context.Context, tx store.Tx, evt *event.ModifyCollateralParameters) error {
	ct, err := p.collaterals.Load(ctx, tx, evt.CollateralType)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Warn().
			Str("collateral_type", evt.CollateralType).
			Str("parameter", evt.Parameter).
			Msg("parameter for unknown collateral type ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load collateral type %s: %w", evt.CollateralType, err)
	}

	param := state.ParseCollateralParameter(evt.Parameter)
	if !p.collaterals.ApplyParameter(ct, param, evt.Data) {
		switch param {
		case state.CollateralParameterSafetyPrice, state.CollateralParameterLiquidationPrice:
			p.logger.Debug().Str("collateral_type", evt.CollateralType).Stringer("parameter", param).Msg("price parameter not tracked")
		default:
			p.logger.Warn().
				Str("collateral_type", evt.CollateralType).
				Str("parameter", evt.Parameter).
				Msg("collateral parameter ignored")
		}
		return nil
	}

	ct.Modified = state.ProvenanceOf(evt.Meta)
	return p.collaterals.Save(ctx, tx, ct)
}

func (p *Processor) handleModifyCollateralBalance(ctx context.Context, tx store.Tx, evt *event.ModifyCollateralBalance) error {
	ct, err := p.collateralType(ctx, tx, evt.CollateralType, evt.Meta)
	if err != nil {
		return err
	}

	wad := fpmath.FromWad(evt.Wad)

	bal, err := p.balances.CollateralBalance(ctx, tx, evt.Account, evt.CollateralType, evt.Meta, true)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyCollateral(ctx, tx, bal, bal.Balance.Add(wad), evt.Meta); err != nil {
		return err
	}

	ct.TotalCollateral = ct.TotalCollateral.Add(wad)
	return p.collaterals.Save(ctx, tx, ct)
}

// Source and destination are applied one after the other so that a
// self-transfer nets to zero.
func (p *Processor) handleTransferCollateral(ctx context.Context, tx store.Tx, evt *event.TransferCollateral) error {
	wad := fpmath.FromWad(evt.Wad)

	src, err := p.balances.CollateralBalance(ctx, tx, evt.Src, evt.CollateralType, evt.Meta, false)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyCollateral(ctx, tx, src, src.Balance.Sub(wad), evt.Meta); err != nil {
		return err
	}

	dst, err := p.balances.CollateralBalance(ctx, tx, evt.Dst, evt.CollateralType, evt.Meta, true)
	if err != nil {
		return err
	}
	return p.balances.ApplyCollateral(ctx, tx, dst, dst.Balance.Add(wad), evt.Meta)
}

func (p *Processor) handleTransferInternalCoins(ctx context.Context, tx store.Tx, evt *event.TransferInternalCoins) error {
	rad := fpmath.FromRad(evt.Rad)

	src, err := p.balances.CoinBalance(ctx, tx, evt.Src, evt.Meta, false)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyCoin(ctx, tx, src, src.Balance.Sub(rad), evt.Meta); err != nil {
		return err
	}

	dst, err := p.balances.CoinBalance(ctx, tx, evt.Dst, evt.Meta, true)
	if err != nil {
		return err
	}
	return p.balances.ApplyCoin(ctx, tx, dst, dst.Balance.Add(rad), evt.Meta)
}

func (p *Processor) handleModifySAFECollateralization(ctx context.Context, tx store.Tx, evt *event.ModifySAFECollateralization) error {
	deltaCollateral := fpmath.FromWad(evt.DeltaCollateral)
	deltaDebt := fpmath.FromWad(evt.DeltaDebt)

	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}
	ct, err := p.collateralType(ctx, tx, evt.CollateralType, evt.Meta)
	if err != nil {
		return err
	}

	// An absent safe is created here as unmanaged; a managed one is reused.
	safe, _, err := p.safes.Create(ctx, tx, system, state.SafeSpec{
		Handler:        evt.Safe,
		CollateralType: evt.CollateralType,
		Origin:         state.SafeOriginUnmanaged,
	}, evt.Meta)
	if err != nil {
		return err
	}
	p.safes.ApplyDelta(safe, deltaCollateral, deltaDebt, evt.Meta)
	if err := p.safes.Save(ctx, tx, safe); err != nil {
		return err
	}

	p.collaterals.AdjustSafeTotals(ct, deltaCollateral, deltaDebt, evt.Meta)
	if err := p.collaterals.Save(ctx, tx, ct); err != nil {
		return err
	}

	deltaIssued := fpmath.MulRate(deltaDebt, ct.AccumulatedRate)
	system.GlobalDebt = system.GlobalDebt.Add(deltaIssued)
	if err := p.system.Save(ctx, tx, system); err != nil {
		return err
	}

	// Locking collateral requires a funded source; freeing may credit a new one.
	if !deltaCollateral.IsZero() {
		src, err := p.balances.CollateralBalance(ctx, tx, evt.CollateralSource, evt.CollateralType, evt.Meta, deltaCollateral.IsNegative())
		if err != nil {
			return err
		}
		if err := p.balances.ApplyCollateral(ctx, tx, src, src.Balance.Sub(deltaCollateral), evt.Meta); err != nil {
			return err
		}
	}

	dst, err := p.balances.CoinBalance(ctx, tx, evt.DebtDestination, evt.Meta, true)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyCoin(ctx, tx, dst, dst.Balance.Add(deltaIssued), evt.Meta); err != nil {
		return err
	}

	_, err = p.safes.RecordChange(ctx, tx, evt.IdempotencyKey(), safe, deltaCollateral, deltaDebt, evt.Meta)
	return err
}

func (p *Processor) handleTransferSAFECollateralAndDebt(ctx context.Context, tx store.Tx, evt *event.TransferSAFECollateralAndDebt) error {
	deltaCollateral := fpmath.FromWad(evt.DeltaCollateral)
	deltaDebt := fpmath.FromWad(evt.DeltaDebt)

	src, err := p.safes.LoadRequired(ctx, tx, evt.Src, evt.CollateralType)
	if err != nil {
		return err
	}
	dst, err := p.safes.LoadRequired(ctx, tx, evt.Dst, evt.CollateralType)
	if err != nil {
		return err
	}
	if dst.ID == src.ID {
		dst = src
	}

	p.safes.ApplyDelta(src, deltaCollateral.Neg(), deltaDebt.Neg(), evt.Meta)
	p.safes.ApplyDelta(dst, deltaCollateral, deltaDebt, evt.Meta)
	if err := p.safes.Save(ctx, tx, src); err != nil {
		return err
	}
	if err := p.safes.Save(ctx, tx, dst); err != nil {
		return err
	}

	uid := evt.IdempotencyKey()
	if _, err := p.safes.RecordChange(ctx, tx, uid+"-src", src, deltaCollateral.Neg(), deltaDebt.Neg(), evt.Meta); err != nil {
		return err
	}
	_, err = p.safes.RecordChange(ctx, tx, uid+"-dst", dst, deltaCollateral, deltaDebt, evt.Meta)
	return err
}

func (p *Processor) handleConfiscateSAFECollateralAndDebt(ctx context.Context, tx store.Tx, evt *event.ConfiscateSAFECollateralAndDebt) error {
	deltaCollateral := fpmath.FromWad(evt.DeltaCollateral)
	deltaDebt := fpmath.FromWad(evt.DeltaDebt)

	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}

	ct, err := p.collaterals.Load(ctx, tx, evt.CollateralType)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: collateral type %s", state.ErrMissingEntity, evt.CollateralType)
	}
	if err != nil {
		return fmt.Errorf("load collateral type %s: %w", evt.CollateralType, err)
	}

	safe, err := p.safes.LoadRequired(ctx, tx, evt.Safe, evt.CollateralType)
	if err != nil {
		return err
	}
	p.safes.ApplyDelta(safe, deltaCollateral, deltaDebt, evt.Meta)
	if err := p.safes.Save(ctx, tx, safe); err != nil {
		return err
	}

	p.collaterals.AdjustSafeTotals(ct, deltaCollateral, deltaDebt, evt.Meta)
	if err := p.collaterals.Save(ctx, tx, ct); err != nil {
		return err
	}

	counterparty, err := p.balances.CollateralBalance(ctx, tx, evt.CollateralCounterparty, evt.CollateralType, evt.Meta, true)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyCollateral(ctx, tx, counterparty, counterparty.Balance.Sub(deltaCollateral), evt.Meta); err != nil {
		return err
	}

	deltaIssued := fpmath.MulRate(deltaDebt, ct.AccumulatedRate)

	debt, err := p.balances.DebtBalance(ctx, tx, evt.DebtCounterparty, evt.Meta, true)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyDebt(ctx, tx, debt, debt.Balance.Sub(deltaIssued), evt.Meta); err != nil {
		return err
	}

	system.GlobalUnbackedDebt = system.GlobalUnbackedDebt.Sub(deltaIssued)
	if err := p.system.Save(ctx, tx, system); err != nil {
		return err
	}

	_, err = p.safes.RecordChange(ctx, tx, evt.IdempotencyKey(), safe, deltaCollateral, deltaDebt, evt.Meta)
	return err
}

// handleSettleDebt settles against the accounting engine, which the log
// does not name; its address comes from the static address table.
func (p *Processor) handleSettleDebt(ctx context.Context, tx store.Tx, evt *event.SettleDebt) error {
	rad := fpmath.FromRad(evt.Rad)
	account := p.accountingEngine

	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}
	if _, err := p.system.GetOrCreateAccountingEngine(ctx, tx, account, evt.Meta); err != nil {
		return err
	}

	system.GlobalDebt = system.GlobalDebt.Sub(rad)
	system.GlobalUnbackedDebt = system.GlobalUnbackedDebt.Sub(rad)
	if err := p.system.Save(ctx, tx, system); err != nil {
		return err
	}

	coin, err := p.balances.CoinBalance(ctx, tx, account, evt.Meta, true)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyCoin(ctx, tx, coin, coin.Balance.Sub(rad), evt.Meta); err != nil {
		return err
	}

	debt, err := p.balances.DebtBalance(ctx, tx, account, evt.Meta, true)
	if err != nil {
		return err
	}
	return p.balances.ApplyDebt(ctx, tx, debt, debt.Balance.Sub(rad), evt.Meta)
}

func (p *Processor) handleCreateUnbackedDebt(ctx context.Context, tx store.Tx, evt *event.CreateUnbackedDebt) error {
	rad := fpmath.FromRad(evt.Rad)

	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}
	system.GlobalDebt = system.GlobalDebt.Add(rad)
	system.GlobalUnbackedDebt = system.GlobalUnbackedDebt.Add(rad)
	if err := p.system.Save(ctx, tx, system); err != nil {
		return err
	}

	coin, err := p.balances.CoinBalance(ctx, tx, evt.CoinDestination, evt.Meta, true)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyCoin(ctx, tx, coin, coin.Balance.Add(rad), evt.Meta); err != nil {
		return err
	}

	debt, err := p.balances.DebtBalance(ctx, tx, evt.DebtDestination, evt.Meta, true)
	if err != nil {
		return err
	}
	return p.balances.ApplyDebt(ctx, tx, debt, debt.Balance.Add(rad), evt.Meta)
}

// handleUpdateAccumulatedRate accrues fees: the surplus destination earns
// debtAmount * rate, and globalDebt is overwritten with the engine's total.
func (p *Processor) handleUpdateAccumulatedRate(ctx context.Context, tx store.Tx, evt *event.UpdateAccumulatedRate) error {
	rate := fpmath.FromRay(evt.RateMultiplier)

	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}
	ct, err := p.collateralType(ctx, tx, evt.CollateralType, evt.Meta)
	if err != nil {
		return err
	}

	accrued := fpmath.MulRate(ct.DebtAmount, rate)
	ct.AccumulatedRate = ct.AccumulatedRate.Add(rate)
	if err := p.collaterals.Save(ctx, tx, ct); err != nil {
		return err
	}

	system.GlobalDebt = fpmath.FromRad(evt.GlobalDebt)
	if err := p.system.Save(ctx, tx, system); err != nil {
		return err
	}

	surplus, err := p.balances.CoinBalance(ctx, tx, evt.SurplusDst, evt.Meta, true)
	if err != nil {
		return err
	}
	if err := p.balances.ApplyCoin(ctx, tx, surplus, surplus.Balance.Add(accrued), evt.Meta); err != nil {
		return err
	}

	return p.runPeriodicBookkeeping(ctx, tx, system, evt.Meta)
}

// collateralType loads a collateral type, creating it on first reference.
// A type that shows up before its initialization event is logged.
func (p *Processor) collateralType(ctx context.Context, tx store.Tx, id string, meta event.Meta) (*state.CollateralType, error) {
	ct, created, err := p.collaterals.GetOrCreate(ctx, tx, id, meta)
	if err != nil {
		return nil, err
	}
	if created {
		p.logger.Warn().
			Str("collateral_type", id).
			Uint64("block", meta.BlockNumber).
			Msg("collateral type referenced before initialization")
	}
	return ct, nil
}
