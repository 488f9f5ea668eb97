package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// processedEventKind matches core.KindProcessedEvent.
const processedEventKind = "ProcessedEvent"

// PostgresIdempotencyChecker looks up the ProcessedEvent markers that the
// processor commits with every event.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
	}
}

// IsDuplicate checks if the event uid has a committed marker.
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, eventType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	query := `
        SELECT 1
        FROM ledger.entities
        WHERE kind = $1 AND id = $2 AND data->>'eventType' = $3
        LIMIT 1
    `

	var exists int
	err := pic.db.QueryRowContext(ctx, query, processedEventKind, idempotencyKey, eventType).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil // Not found - not a duplicate
	}

	if err != nil {
		return false, err // DB error
	}

	return true, nil // Found - is duplicate
}

// RecentKeys returns the composite keys ("eventType:uid") of the most
// recently committed events, newest last, for LRU warming on restart.
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
        SELECT data->>'eventType', id
        FROM ledger.entities
        WHERE kind = $1
        ORDER BY updated_at DESC
        LIMIT $2
    `, processedEventKind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var eventType, id string
		if err := rows.Scan(&eventType, &id); err != nil {
			return nil, err
		}
		keys = append(keys, eventType+":"+id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Oldest first so the newest end up most recently used.
	for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
		keys[i], keys[j] = keys[j], keys[i]
	}
	return keys, nil
}
