package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// Migrator runs SQL migration files in order.
// Compatible with golang-migrate file naming: {version}_{name}.up.sql / .down.sql
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

// Migration is one versioned pair of migration files.
type Migration struct {
	Version  string
	UpFile   string
	DownFile string
	Applied  bool
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

// Up applies all pending up-migrations in version order, each in its own
// transaction together with its schema_migrations row.
func (m *Migrator) Up(ctx context.Context) error {
	migrations, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		return fmt.Errorf("%w in %s", ErrNoMigrations, m.migrationsDir)
	}

	for _, mig := range migrations {
		if mig.Applied {
			continue
		}
		if mig.UpFile == "" {
			return fmt.Errorf("migration %s has no up file", mig.Version)
		}

		m.logger.Info().Str("file", mig.UpFile).Msg("applying migration")
		err := m.execFile(ctx, mig.UpFile,
			`INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`,
			mig.Version, mig.UpFile,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Down rolls back the latest applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	migrations, err := m.Status(ctx)
	if err != nil {
		return err
	}

	var last *Migration
	for i := range migrations {
		if migrations[i].Applied {
			last = &migrations[i]
		}
	}
	if last == nil {
		m.logger.Info().Msg("no migrations to roll back")
		return nil
	}
	if last.DownFile == "" {
		return fmt.Errorf("migration %s has no down file", last.Version)
	}

	m.logger.Info().Str("file", last.DownFile).Msg("rolling back migration")
	return m.execFile(ctx, last.DownFile,
		`DELETE FROM public.schema_migrations WHERE version = $1`,
		last.Version,
	)
}

// Status lists every migration found on disk with its applied flag.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("get applied versions: %w", err)
	}

	migrations, err := m.scan()
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	for i := range migrations {
		migrations[i].Applied = applied[migrations[i].Version]
	}
	return migrations, nil
}

func (m *Migrator) execFile(ctx context.Context, file string, bookkeeping string, args ...any) error {
	content, err := os.ReadFile(filepath.Join(m.migrationsDir, file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", file, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// scan pairs up and down files by version.
func (m *Migrator) scan() ([]Migration, error) {
	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var up bool
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up = true
		case strings.HasSuffix(name, ".down.sql"):
		default:
			continue
		}

		version := extractVersion(name)
		mig, ok := byVersion[version]
		if !ok {
			mig = &Migration{Version: version}
			byVersion[version] = mig
		}
		if up {
			mig.UpFile = name
		} else {
			mig.DownFile = name
		}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// extractVersion returns the numeric prefix from a migration filename.
// e.g. "000001_entities.up.sql" -> "000001"
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}

// ErrNoMigrations is returned when the migrations directory has no files.
var ErrNoMigrations = errors.New("no migrations found")
