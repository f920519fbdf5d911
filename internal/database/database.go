package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"turfie/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrOverlap                = errors.New("reservation overlaps an existing one")
	ErrConcurrentModification = errors.New("record was modified concurrently")
	ErrSeedConflict           = errors.New("seed id is taken by an owner-created venue")
)

// overlapTriggerMessage is raised by the reservations triggers and mapped to ErrOverlap.
const overlapTriggerMessage = "reservation overlap"

// DB is the sqlite-backed Venue Directory and Reservation Ledger.
type DB struct {
	*sqlx.DB
	path   string
	logger *zerolog.Logger

	mu         sync.RWMutex
	venueCache map[int64]models.Venue
	// cacheGen is bumped on every eviction. A read fills the cache only if
	// no eviction happened since it started.
	cacheGen uint64
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// _txlock=immediate takes the write lock at BEGIN, so check-then-insert
	// inside one transaction is serialized against other writers.
	dsn := path + "?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
	conn, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: sqlite has a single writer, and :memory: is per-connection.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:         conn,
		path:       path,
		logger:     logger,
		venueCache: make(map[int64]models.Venue),
	}
	if err := db.createTables(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS venues (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            owner_id INTEGER NOT NULL,
            name TEXT NOT NULL,
            city TEXT NOT NULL DEFAULT '',
            opening_time TEXT NOT NULL,
            closing_time TEXT NOT NULL,
            price_per_hour TEXT NOT NULL,
            approval_status TEXT NOT NULL DEFAULT 'pending',
            seeded INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            venue_id INTEGER NOT NULL REFERENCES venues(id) ON DELETE RESTRICT,
            requester_id INTEGER NOT NULL,
            start_at INTEGER NOT NULL,
            end_at INTEGER NOT NULL,
            amount TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            CHECK (end_at > start_at)
        )`,

		`CREATE INDEX IF NOT EXISTS idx_venues_owner_id ON venues(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_venues_approval_status ON venues(approval_status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_venue_range ON reservations(venue_id, start_at, end_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_requester_id ON reservations(requester_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status_end ON reservations(status, end_at)`,

		// Exclusion constraint: non-cancelled reservations of a venue never overlap.
		`CREATE TRIGGER IF NOT EXISTS reservations_no_overlap_insert
            BEFORE INSERT ON reservations
            WHEN NEW.status != 'cancelled'
        BEGIN
            SELECT RAISE(ABORT, '` + overlapTriggerMessage + `')
            WHERE EXISTS (
                SELECT 1 FROM reservations
                WHERE venue_id = NEW.venue_id
                  AND status != 'cancelled'
                  AND start_at < NEW.end_at
                  AND end_at > NEW.start_at
            );
        END`,
		`CREATE TRIGGER IF NOT EXISTS reservations_no_overlap_update
            BEFORE UPDATE OF status, start_at, end_at ON reservations
            WHEN NEW.status != 'cancelled'
        BEGIN
            SELECT RAISE(ABORT, '` + overlapTriggerMessage + `')
            WHERE EXISTS (
                SELECT 1 FROM reservations
                WHERE venue_id = NEW.venue_id
                  AND id != NEW.id
                  AND status != 'cancelled'
                  AND start_at < NEW.end_at
                  AND end_at > NEW.start_at
            );
        END`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return db.ensureColumn("venues", "seeded", "INTEGER NOT NULL DEFAULT 0")
}

// ensureColumn adds a column that an older database file was created without.
func (db *DB) ensureColumn(table, column, definition string) error {
	var columns []struct {
		CID     int            `db:"cid"`
		Name    string         `db:"name"`
		Type    string         `db:"type"`
		NotNull int            `db:"notnull"`
		Default sql.NullString `db:"dflt_value"`
		PK      int            `db:"pk"`
	}
	if err := db.Select(&columns, fmt.Sprintf("PRAGMA table_info(%s)", table)); err != nil {
		return fmt.Errorf("read %s columns: %w", table, err)
	}
	for _, c := range columns {
		if c.Name == column {
			return nil
		}
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	db.logger.Info().Str("table", table).Str("column", column).Msg("column added")
	return nil
}

func isOverlapViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), overlapTriggerMessage)
}

func (db *DB) Close() error {
	return db.DB.Close()
}
