package store

import (
	"context"
)

// Kind names an entity collection.
type Kind string

// Key identifies one entity document.
type Key struct {
	Kind Kind
	ID   string
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID
}

func (k Key) valid() bool {
	return k.Kind != "" && k.ID != ""
}

// Record is one encoded entity document.
type Record struct {
	Key  Key
	Data []byte
}

// Backend is the persistence engine behind the entity store.
type Backend interface {
	// Get returns the stored document or ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Apply upserts all records atomically: either every record is
	// visible afterwards or none is.
	Apply(ctx context.Context, records []Record) error
}

// Lister is implemented by backends that can enumerate a collection.
type Lister interface {
	List(ctx context.Context, kind Kind) ([]Record, error)
}

// Tx is the load/save surface handed to entity managers.
type Tx interface {
	Load(ctx context.Context, key Key, dst any) error
	Save(ctx context.Context, key Key, v any) error
}
