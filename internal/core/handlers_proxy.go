package core

import (
	"context"

	"GebLedger/internal/event"
	"GebLedger/internal/state"
	"GebLedger/internal/store"
)

func (p *Processor) handleProxyCreated(ctx context.Context, tx store.Tx, evt *event.ProxyCreated) error {
	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}

	proxy, err := p.proxies.Register(ctx, tx, system, evt.Owner, evt.Proxy, evt.Cache, evt.Meta)
	if err != nil {
		return err
	}
	if err := p.system.Save(ctx, tx, system); err != nil {
		return err
	}

	p.logger.Debug().
		Str("proxy", proxy.ID).
		Str("owner", proxy.Owner).
		Int64("proxy_count", system.ProxyCount).
		Msg("proxy registered")
	return nil
}

// handleOpenSAFE registers a managed safe. A handler that already has a
// safe keeps it as is.
func (p *Processor) handleOpenSAFE(ctx context.Context, tx store.Tx, evt *event.OpenSAFE) error {
	system, err := p.system.GetOrCreate(ctx, tx, evt.Meta)
	if err != nil {
		return err
	}

	safeID := "0"
	if evt.SafeID != nil {
		safeID = evt.SafeID.String()
	}

	safe, created, err := p.safes.Create(ctx, tx, system, state.SafeSpec{
		Handler:        evt.SafeHandler,
		CollateralType: evt.CollateralType,
		Origin:         state.SafeOriginManaged,
		SafeID:         safeID,
		Owner:          evt.Owner,
	}, evt.Meta)
	if err != nil {
		return err
	}
	if !created {
		p.logger.Warn().
			Str("safe", safe.ID).
			Str("origin", string(safe.Origin)).
			Str("safe_id", safeID).
			Msg("safe handler already registered")
	}

	return p.system.Save(ctx, tx, system)
}
