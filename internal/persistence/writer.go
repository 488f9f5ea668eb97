package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"GebLedger/internal/observability"
	"GebLedger/internal/store"
)

// EntityStore is the Postgres store.Backend. Every Apply runs in one SQL
// transaction, so an event's entity writes commit together or not at all.
type EntityStore struct {
	db        *sql.DB
	batchSize int
	metrics   *observability.Metrics
}

var (
	_ store.Backend = (*EntityStore)(nil)
	_ store.Lister  = (*EntityStore)(nil)
)

func NewEntityStore(db *sql.DB, batchSize int, metrics *observability.Metrics) *EntityStore {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &EntityStore{
		db:        db,
		batchSize: batchSize,
		metrics:   metrics,
	}
}

// Get returns the stored document or store.ErrNotFound.
func (s *EntityStore) Get(ctx context.Context, key store.Key) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM ledger.entities WHERE kind = $1 AND id = $2`,
		string(key.Kind), key.ID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		s.recordError("get")
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Apply upserts all records in one transaction using multi-row INSERTs.
func (s *EntityStore) Apply(ctx context.Context, records []store.Record) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r.Key.Kind == "" || r.Key.ID == "" {
			return store.ErrInvalidInput
		}
	}

	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.recordError("begin")
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for i := 0; i < len(records); i += s.batchSize {
		end := min(i+s.batchSize, len(records))
		if err := s.upsertBatch(ctx, tx, records[i:end]); err != nil {
			s.recordError("upsert")
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		s.recordError("commit")
		return fmt.Errorf("commit: %w", err)
	}

	if s.metrics != nil {
		s.metrics.PersistApplyDuration.Observe(time.Since(start).Seconds())
		s.metrics.PersistRecords.Add(float64(len(records)))
	}
	return nil
}

func (s *EntityStore) upsertBatch(ctx context.Context, tx *sql.Tx, records []store.Record) error {
	query := `INSERT INTO ledger.entities (kind, id, data, updated_at) VALUES `

	values := make([]string, 0, len(records))
	args := make([]interface{}, 0, len(records)*3)

	for i, r := range records {
		base := i * 3
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, NOW())", base+1, base+2, base+3))
		// lib/pq sends []byte as bytea; jsonb needs text.
		args = append(args, string(r.Key.Kind), r.Key.ID, string(r.Data))
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (kind, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at"

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert %d records: %w", len(records), err)
	}
	return nil
}

// List returns all documents of one kind ordered by id.
func (s *EntityStore) List(ctx context.Context, kind store.Kind) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data FROM ledger.entities WHERE kind = $1 ORDER BY id`,
		string(kind),
	)
	if err != nil {
		s.recordError("list")
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var result []store.Record
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		result = append(result, store.Record{Key: store.Key{Kind: kind, ID: id}, Data: data})
	}
	return result, rows.Err()
}

func (s *EntityStore) recordError(errorType string) {
	if s.metrics != nil {
		s.metrics.PersistErrors.WithLabelValues(errorType).Inc()
	}
}
