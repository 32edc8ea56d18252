// Package datastore persists punishment records outside the lifetime of any
// session.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/mediachat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05"

// SQLStore is the SQLite-backed punishment table.
//
// The pool is capped at a single connection so every handler goroutine's
// query is serialized through it; the driver is never asked to share a
// connection concurrently.
type SQLStore struct {
	db      *sql.DB
	timeout time.Duration
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// Set busy timeout to avoid "database is locked" when another process holds the file
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQLStore{db: db, timeout: 5 * time.Second}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS punishments (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		address    TEXT    NOT NULL CHECK(length(address) > 0),
		username   TEXT    NOT NULL DEFAULT '',
		kind       INTEGER NOT NULL CHECK(kind IN (1, 2)),
		created_at TEXT    NOT NULL DEFAULT (datetime('now')),
		UNIQUE(address, kind)
	);
	`
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS punishments_address ON punishments(address)",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *SQLStore) execMigration(ctx context.Context, stmt string) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Punishments ----

func (s *SQLStore) has(address string, kind model.PunishmentKind) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM punishments WHERE address = ? AND kind = ?", address, int(kind)).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("datastore: check %s: %w", kind, err)
	}
	return count > 0, nil
}

// IsBanned checks if an address is currently banned.
func (s *SQLStore) IsBanned(address string) (bool, error) {
	return s.has(address, model.PunishBan)
}

// IsMuted checks if an address is currently muted.
func (s *SQLStore) IsMuted(address string) (bool, error) {
	return s.has(address, model.PunishMute)
}

// SetPunishment records a mute or ban. Kicks are rejected with ErrNotPersistable.
func (s *SQLStore) SetPunishment(address, username string, kind model.PunishmentKind) error {
	if !kind.Persistent() {
		return fmt.Errorf("datastore: set %s: %w", kind, ErrNotPersistable)
	}
	if address == "" {
		return fmt.Errorf("datastore: set %s: empty address", kind)
	}

	ctx, cancel := s.ctx()
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO punishments (address, username, kind) VALUES (?, ?, ?)
		ON CONFLICT(address, kind) DO UPDATE SET username = excluded.username`,
		address, username, int(kind))
	if err != nil {
		return fmt.Errorf("datastore: set %s: %w", kind, err)
	}
	return nil
}

// RemovePunishment deletes the (address, kind) record.
func (s *SQLStore) RemovePunishment(address string, kind model.PunishmentKind) (bool, error) {
	if !kind.Persistent() {
		return false, fmt.Errorf("datastore: remove %s: %w", kind, ErrNotPersistable)
	}

	ctx, cancel := s.ctx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, "DELETE FROM punishments WHERE address = ? AND kind = ?", address, int(kind))
	if err != nil {
		return false, fmt.Errorf("datastore: remove %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("datastore: remove %s: %w", kind, err)
	}
	return n > 0, nil
}

// ListPunishments returns every record ordered by insertion.
func (s *SQLStore) ListPunishments() ([]model.Punishment, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, "SELECT address, username, kind, created_at FROM punishments ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list punishments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Punishment
	for rows.Next() {
		var p model.Punishment
		var kind int
		var createdAt string
		if err := rows.Scan(&p.Address, &p.Username, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("datastore: scan punishment: %w", err)
		}
		p.Kind = model.PunishmentKind(kind)
		parsed, err := parseDBTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan punishment: %w", err)
		}
		p.CreatedAt = parsed
		out = append(out, p)
	}
	return out, rows.Err()
}
