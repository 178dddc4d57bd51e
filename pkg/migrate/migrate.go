package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/lgulliver/stowaway/pkg/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one versioned schema change
type Migration struct {
	Version int
	Name    string
	UpSQL   string
	DownSQL string
}

// Migrator applies embedded SQL migrations to the session database
type Migrator struct {
	db         *sql.DB
	migrations []*Migration
}

// NewMigrator connects to PostgreSQL and loads the migrations in dir
func NewMigrator(cfg *config.DatabaseConfig, migrationsFS fs.FS, dir string) (*Migrator, error) {
	if cfg.Driver != "" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("SQL migrations require postgres, got driver %q; sqlite databases are migrated on server start", cfg.Driver)
	}

	migrations, err := Load(migrationsFS, dir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Migrator{db: db, migrations: migrations}, nil
}

// Load reads NNN_name.sql files from dir, ordered by version
func Load(migrationsFS fs.FS, dir string) ([]*Migration, error) {
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []*Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(migrationsFS, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		m, err := parse(entry.Name(), string(content))
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("skipping invalid migration file")
			continue
		}
		if other, ok := seen[m.Version]; ok {
			return nil, fmt.Errorf("migration version %d used by both %s and %s", m.Version, other, entry.Name())
		}
		seen[m.Version] = entry.Name()
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parse(filename, content string) (*Migration, error) {
	prefix, rest, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || rest == "" {
		return nil, fmt.Errorf("invalid migration filename format: %s", filename)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to parse version from filename %s: %w", filename, err)
	}

	up, down := split(content)
	if strings.TrimSpace(up) == "" {
		return nil, fmt.Errorf("migration %s has no up section", filename)
	}
	return &Migration{Version: version, Name: rest, UpSQL: up, DownSQL: down}, nil
}

// split separates the up and down sections. Lines before any marker
// belong to up.
func split(content string) (string, string) {
	var up, down []string
	inDown := false

	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			inDown = false
			continue
		case downMarker:
			inDown = true
			continue
		}
		if inDown {
			down = append(down, line)
		} else {
			up = append(up, line)
		}
	}

	return strings.TrimSpace(strings.Join(up, "\n")), strings.TrimSpace(strings.Join(down, "\n"))
}

// Pending returns the migrations not yet in applied, in order
func Pending(migrations []*Migration, applied []int) []*Migration {
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var pending []*Migration
	for _, m := range migrations {
		if !done[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// Applied returns the applied migration versions in ascending order
func (m *Migrator) Applied() ([]int, error) {
	if err := m.ensureTable(); err != nil {
		return nil, err
	}

	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

// Status returns the migrations still to apply
func (m *Migrator) Status() ([]*Migration, error) {
	applied, err := m.Applied()
	if err != nil {
		return nil, err
	}
	return Pending(m.migrations, applied), nil
}

// Up applies every pending migration, each in its own transaction
func (m *Migrator) Up() error {
	pending, err := m.Status()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		log.Info().Msg("no pending migrations")
		return nil
	}

	log.Info().Int("count", len(pending)).Msg("running pending migrations")
	for _, mig := range pending {
		err := m.exec(mig.UpSQL, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
		if err != nil {
			return fmt.Errorf("failed to run migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		log.Info().Int("version", mig.Version).Str("name", mig.Name).Msg("applied migration")
	}
	return nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down() error {
	applied, err := m.Applied()
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info().Msg("no migrations to roll back")
		return nil
	}

	last := applied[len(applied)-1]
	var target *Migration
	for _, mig := range m.migrations {
		if mig.Version == last {
			target = mig
			break
		}
	}
	if target == nil {
		return fmt.Errorf("migration file for version %d not found", last)
	}
	if target.DownSQL == "" {
		return fmt.Errorf("migration %d (%s) has no down section", target.Version, target.Name)
	}

	if err := m.exec(target.DownSQL, "DELETE FROM schema_migrations WHERE version = $1", target.Version); err != nil {
		return fmt.Errorf("failed to roll back migration %d (%s): %w", target.Version, target.Name, err)
	}

	log.Info().Int("version", target.Version).Str("name", target.Name).Msg("rolled back migration")
	return nil
}

func (m *Migrator) exec(schemaSQL, bookkeeping string, args ...interface{}) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.Exec(bookkeeping, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}
