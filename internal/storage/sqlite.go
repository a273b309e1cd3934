package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Pure-Go SQLite driver.
	sqlite3 "modernc.org/sqlite"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	path string
	db   *sql.DB

	alerts      *sqliteAlertRepo
	policies    *sqlitePolicyRepo
	schedules   *sqliteScheduleRepo
	slas        *sqliteSLARepo
	escalations *sqliteEscalationRepo
	intents     *sqliteIntentRepo
}

// NewSQLiteStorage creates a new SQLite storage.
func NewSQLiteStorage(path string) *SQLiteStorage {
	return &SQLiteStorage{path: path}
}

// Open initializes the database connection.
func (s *SQLiteStorage) Open() error {
	ctx := context.Background()

	dsn := fmt.Sprintf("file:%s?_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// SQLite is single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w: %v", ErrStoreUnavailable, err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s.db = db

	s.alerts = &sqliteAlertRepo{db: db}
	s.policies = &sqlitePolicyRepo{db: db}
	s.schedules = &sqliteScheduleRepo{db: db}
	s.slas = &sqliteSLARepo{db: db}
	s.escalations = &sqliteEscalationRepo{db: db}
	s.intents = &sqliteIntentRepo{db: db}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database connection for health checks.
func (s *SQLiteStorage) DB() *sql.DB {
	return s.db
}

// Migrate runs database migrations.
func (s *SQLiteStorage) Migrate() error {
	return runMigrations(s.db)
}

// Alerts returns the alert repository.
func (s *SQLiteStorage) Alerts() AlertRepository {
	return s.alerts
}

// Policies returns the escalation policy repository.
func (s *SQLiteStorage) Policies() PolicyRepository {
	return s.policies
}

// Schedules returns the on-call schedule repository.
func (s *SQLiteStorage) Schedules() ScheduleRepository {
	return s.schedules
}

// SLAs returns the SLA record repository.
func (s *SQLiteStorage) SLAs() SLARepository {
	return s.slas
}

// Escalations returns the escalation state repository.
func (s *SQLiteStorage) Escalations() EscalationRepository {
	return s.escalations
}

// Intents returns the delivery intent repository.
func (s *SQLiteStorage) Intents() IntentRepository {
	return s.intents
}

// SQLite extended result codes for unique constraint violations.
const (
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

// isUniqueViolation reports whether err is a unique constraint failure,
// used to detect dedup races on the open-fingerprint index.
func isUniqueViolation(err error) bool {
	var se *sqlite3.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqliteConstraintUnique || code == sqliteConstraintPrimaryKey
	}
	return false
}
