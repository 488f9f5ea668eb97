package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// UnitOfWork stages every entity write of one event and applies them to the
// backend in a single call. Reads see staged writes first.
// Not thread-safe: a unit of work belongs to one ProcessEvent call.
type UnitOfWork struct {
	backend Backend
	pending map[Key][]byte
	order   []Key
	closed  bool
}

var _ Tx = (*UnitOfWork)(nil)

func Begin(backend Backend) *UnitOfWork {
	return &UnitOfWork{
		backend: backend,
		pending: make(map[Key][]byte),
	}
}

// Load decodes the entity at key into dst. Returns ErrNotFound if neither
// the staged set nor the backend holds it.
func (u *UnitOfWork) Load(ctx context.Context, key Key, dst any) error {
	if u.closed {
		return ErrClosed
	}
	if !key.valid() {
		return ErrInvalidInput
	}

	data, ok := u.pending[key]
	if !ok {
		var err error
		data, err = u.backend.Get(ctx, key)
		if err != nil {
			return err
		}
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// Save stages v under key, replacing any earlier staged value.
func (u *UnitOfWork) Save(_ context.Context, key Key, v any) error {
	if u.closed {
		return ErrClosed
	}
	if !key.valid() {
		return ErrInvalidInput
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	if _, exists := u.pending[key]; !exists {
		u.order = append(u.order, key)
	}
	u.pending[key] = data
	return nil
}

// Records returns the staged writes in first-save order.
func (u *UnitOfWork) Records() []Record {
	records := make([]Record, 0, len(u.order))
	for _, key := range u.order {
		records = append(records, Record{Key: key, Data: u.pending[key]})
	}
	return records
}

func (u *UnitOfWork) Len() int {
	return len(u.order)
}

// Commit applies all staged writes atomically and closes the unit of work.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.closed {
		return ErrClosed
	}
	u.closed = true

	if len(u.order) == 0 {
		return nil
	}
	if err := u.backend.Apply(ctx, u.Records()); err != nil {
		return fmt.Errorf("apply %d records: %w", len(u.order), err)
	}
	return nil
}

// Discard drops all staged writes.
func (u *UnitOfWork) Discard() {
	u.closed = true
	u.pending = nil
	u.order = nil
}
