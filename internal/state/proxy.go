package state

import (
	"context"
	"errors"
	"fmt"

	"GebLedger/internal/event"
	"GebLedger/internal/store"

	"github.com/ethereum/go-ethereum/common"
)

// ProxyRegistry tracks users and the proxies deployed for them.
type ProxyRegistry struct{}

func NewProxyRegistry() *ProxyRegistry {
	return &ProxyRegistry{}
}

// GetOrCreateUser loads a user by address, staging a new record if absent.
func (r *ProxyRegistry) GetOrCreateUser(ctx context.Context, tx store.Tx, addr common.Address, meta event.Meta) (*User, error) {
	key := store.Key{Kind: KindUser, ID: AddressID(addr)}

	var u User
	err := tx.Load(ctx, key, &u)
	switch {
	case err == nil:
		return &u, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("load user %s: %w", key.ID, err)
	}

	prov := ProvenanceOf(meta)
	u = User{ID: key.ID, Address: key.ID, Created: prov, Modified: prov}
	if err := tx.Save(ctx, key, &u); err != nil {
		return nil, fmt.Errorf("save user %s: %w", key.ID, err)
	}
	return &u, nil
}

// Register records a proxy for owner and bumps proxyCount. The caller saves system.
func (r *ProxyRegistry) Register(ctx context.Context, tx store.Tx, system *SystemState, owner, proxy, cache common.Address, meta event.Meta) (*UserProxy, error) {
	user, err := r.GetOrCreateUser(ctx, tx, owner, meta)
	if err != nil {
		return nil, err
	}

	p := &UserProxy{
		ID:      AddressID(proxy),
		Address: AddressID(proxy),
		Cache:   AddressID(cache),
		Owner:   user.ID,
		Created: ProvenanceOf(meta),
	}
	if err := tx.Save(ctx, store.Key{Kind: KindUserProxy, ID: p.ID}, p); err != nil {
		return nil, fmt.Errorf("save proxy %s: %w", p.ID, err)
	}

	system.ProxyCount++
	return p, nil
}
