package memory

import (
	"context"
	"sort"
	"sync"

	"GebLedger/internal/store"
)

// Backend is an in-memory implementation of store.Backend.
type Backend struct {
	mu   sync.RWMutex
	data map[store.Key][]byte
}

var (
	_ store.Backend = (*Backend)(nil)
	_ store.Lister  = (*Backend)(nil)
)

// NewBackend creates an empty in-memory backend.
func NewBackend() *Backend {
	return &Backend{
		data: make(map[store.Key][]byte),
	}
}

// Get returns a copy of the stored document. Returns ErrNotFound if absent.
func (b *Backend) Get(_ context.Context, key store.Key) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.data[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Apply upserts all records under one lock.
func (b *Backend) Apply(_ context.Context, records []store.Record) error {
	for _, r := range records {
		if r.Key.Kind == "" || r.Key.ID == "" {
			return store.ErrInvalidInput
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range records {
		b.data[r.Key] = append([]byte(nil), r.Data...)
	}
	return nil
}

// List returns all documents of one kind sorted by id.
func (b *Backend) List(_ context.Context, kind store.Kind) ([]store.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []store.Record
	for key, data := range b.data {
		if key.Kind == kind {
			result = append(result, store.Record{Key: key, Data: append([]byte(nil), data...)})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.ID < result[j].Key.ID
	})
	return result, nil
}

// Len returns the total number of stored documents.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}
