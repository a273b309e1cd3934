package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database migration.
type Migration struct {
	Version int
	Name    string
	Up      string
}

// migrations holds all database migrations in order.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "initial_schema",
		Up: `
			-- Alerts table
			CREATE TABLE IF NOT EXISTS alerts (
				id TEXT PRIMARY KEY,
				fingerprint TEXT NOT NULL,
				source TEXT NOT NULL,
				signature TEXT NOT NULL,
				severity TEXT NOT NULL,
				state TEXT NOT NULL DEFAULT 'new',
				occurrence_count INTEGER NOT NULL DEFAULT 1,
				first_seen DATETIME NOT NULL,
				last_seen DATETIME NOT NULL,
				metadata_json TEXT NOT NULL DEFAULT '{}',
				policy_id TEXT,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- One open alert per fingerprint. Terminal alerts free the
			-- fingerprint so a recurrence creates a fresh alert.
			CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_fingerprint
				ON alerts(fingerprint) WHERE state NOT IN ('resolved', 'closed');
			CREATE INDEX IF NOT EXISTS idx_alerts_state ON alerts(state);
			CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);

			-- Append-only state transition history
			CREATE TABLE IF NOT EXISTS alert_state_history (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				from_state TEXT NOT NULL,
				to_state TEXT NOT NULL,
				actor TEXT NOT NULL,
				note TEXT,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_state_history_alert ON alert_state_history(alert_id);

			-- SLA records, 1:1 with alerts
			CREATE TABLE IF NOT EXISTS sla_records (
				alert_id TEXT PRIMARY KEY,
				severity TEXT NOT NULL,
				tta_target_ns INTEGER NOT NULL,
				ttr_target_ns INTEGER NOT NULL,
				acknowledged_at DATETIME,
				resolved_at DATETIME,
				tta_breached INTEGER NOT NULL DEFAULT 0,
				ttr_breached INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);

			-- Escalation policies (steps stored as ordered JSON)
			CREATE TABLE IF NOT EXISTS escalation_policies (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				steps_json TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- On-call schedules (members stored as ordered JSON)
			CREATE TABLE IF NOT EXISTS on_call_schedules (
				id TEXT PRIMARY KEY,
				name TEXT UNIQUE NOT NULL,
				members_json TEXT NOT NULL,
				rotation_period_ns INTEGER NOT NULL,
				anchor DATETIME NOT NULL,
				handoff_overlap_ns INTEGER NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			);

			-- Per-alert escalation cursor with frozen policy snapshot
			CREATE TABLE IF NOT EXISTS escalation_state (
				alert_id TEXT PRIMARY KEY,
				policy_json TEXT NOT NULL,
				current_step INTEGER NOT NULL DEFAULT 0,
				step_entered_at DATETIME NOT NULL,
				last_sequence INTEGER NOT NULL DEFAULT 0,
				halted INTEGER NOT NULL DEFAULT 0,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE
			);
			CREATE INDEX IF NOT EXISTS idx_escalation_active ON escalation_state(halted);

			-- Delivery intent outbox
			CREATE TABLE IF NOT EXISTS delivery_intents (
				id TEXT PRIMARY KEY,
				alert_id TEXT NOT NULL,
				sequence INTEGER NOT NULL,
				step INTEGER NOT NULL,
				responders_json TEXT NOT NULL,
				channel TEXT NOT NULL,
				fired_at DATETIME NOT NULL,
				consumed_at DATETIME,
				FOREIGN KEY (alert_id) REFERENCES alerts(id) ON DELETE CASCADE,
				UNIQUE (alert_id, sequence)
			);
			CREATE INDEX IF NOT EXISTS idx_intents_unconsumed ON delivery_intents(consumed_at) WHERE consumed_at IS NULL;
		`,
	},
}

// runMigrations applies all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		_, err = tx.Exec(m.Up)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d (%s): %w", m.Version, m.Name, err)
		}

		_, err = tx.Exec(
			"INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Name, time.Now(),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
