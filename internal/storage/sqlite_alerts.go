package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/calm-otter-ops/siren/internal/models"
)

type sqliteAlertRepo struct {
	db *sql.DB
}

const alertColumns = `id, fingerprint, source, signature, severity, state,
	occurrence_count, first_seen, last_seen, metadata_json, policy_id, created_at, updated_at`

func (r *sqliteAlertRepo) Create(ctx context.Context, alert *models.Alert, sla *models.SLARecord, esc *models.EscalationState, initial *models.StateRecord) error {
	metadataJSON, err := json.Marshal(alert.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	policyJSON, err := json.Marshal(esc.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy snapshot: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create alert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts (id, fingerprint, source, signature, severity, state,
			occurrence_count, first_seen, last_seen, metadata_json, policy_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID, alert.Fingerprint, alert.Source, alert.Signature, alert.Severity, alert.State,
		alert.OccurrenceCount, alert.FirstSeen, alert.LastSeen, string(metadataJSON),
		nullString(alert.PolicyID), alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("open alert exists for fingerprint %s: %w", alert.Fingerprint, ErrConflict)
		}
		return fmt.Errorf("insert alert: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sla_records (alert_id, severity, tta_target_ns, ttr_target_ns,
			acknowledged_at, resolved_at, tta_breached, ttr_breached, created_at)
		VALUES (?, ?, ?, ?, NULL, NULL, 0, 0, ?)
	`,
		sla.AlertID, sla.Severity, sla.TTATarget.Nanoseconds(), sla.TTRTarget.Nanoseconds(), sla.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sla record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO escalation_state (alert_id, policy_json, current_step, step_entered_at, last_sequence, halted)
		VALUES (?, ?, ?, ?, 0, 0)
	`,
		esc.AlertID, string(policyJSON), esc.CurrentStep, esc.StepEnteredAt,
	)
	if err != nil {
		return fmt.Errorf("insert escalation state: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alert_state_history (id, alert_id, from_state, to_state, actor, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		initial.ID, initial.AlertID, initial.FromState, initial.ToState,
		initial.Actor, nullString(initial.Note), initial.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert initial state record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE id = ?", id)
	return scanAlert(row)
}

func (r *sqliteAlertRepo) GetOpenByFingerprint(ctx context.Context, fingerprint string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE fingerprint = ? AND state NOT IN ('resolved', 'closed')",
		fingerprint)
	return scanAlert(row)
}

func (r *sqliteAlertRepo) BumpOccurrence(ctx context.Context, fingerprint string, seenAt time.Time) (*models.Alert, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE alerts SET occurrence_count = occurrence_count + 1, last_seen = ?, updated_at = ?
		WHERE fingerprint = ? AND state NOT IN ('resolved', 'closed')
	`, seenAt, seenAt, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("bump occurrence: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, fmt.Errorf("no open alert for fingerprint %s: %w", fingerprint, ErrNotFound)
	}
	return r.GetOpenByFingerprint(ctx, fingerprint)
}

func (r *sqliteAlertRepo) List(ctx context.Context, filter AlertFilter) ([]*models.Alert, int64, error) {
	var conds []string
	var args []any

	if filter.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, filter.State)
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Fingerprint != "" {
		conds = append(conds, "fingerprint = ?")
		args = append(args, filter.Fingerprint)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alerts"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count alerts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + alertColumns + " FROM alerts" + where +
		" ORDER BY last_seen DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, 0, err
	}
	return alerts, total, rows.Err()
}

func (r *sqliteAlertRepo) ListOpen(ctx context.Context) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+alertColumns+" FROM alerts WHERE state NOT IN ('resolved', 'closed') ORDER BY first_seen")
	if err != nil {
		return nil, fmt.Errorf("query open alerts: %w", err)
	}
	defer rows.Close()

	alerts, err := scanAlerts(rows)
	if err != nil {
		return nil, err
	}
	return alerts, rows.Err()
}

func (r *sqliteAlertRepo) Transition(ctx context.Context, alertID string, from, to models.AlertState, rec *models.StateRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback()

	// Guarded by the expected from-state: a concurrent writer that
	// committed first makes this a zero-row update.
	result, err := tx.ExecContext(ctx,
		"UPDATE alerts SET state = ?, updated_at = ? WHERE id = ? AND state = ?",
		to, rec.CreatedAt, alertID, from,
	)
	if err != nil {
		return fmt.Errorf("update alert state: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM alerts WHERE id = ?", alertID).Scan(&exists); err != nil {
			return fmt.Errorf("check alert exists: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
		}
		return fmt.Errorf("alert %s no longer in state %s: %w", alertID, from, ErrConflict)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alert_state_history (id, alert_id, from_state, to_state, actor, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, rec.AlertID, rec.FromState, rec.ToState, rec.Actor, nullString(rec.Note), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert state record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) History(ctx context.Context, alertID string, limit, offset int) ([]*models.StateRecord, int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM alert_state_history WHERE alert_id = ?", alertID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count state history: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, alert_id, from_state, to_state, actor, note, created_at
		FROM alert_state_history WHERE alert_id = ?
		ORDER BY created_at, id LIMIT ? OFFSET ?
	`, alertID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query state history: %w", err)
	}
	defer rows.Close()

	var records []*models.StateRecord
	for rows.Next() {
		rec := &models.StateRecord{}
		var note sql.NullString
		err := rows.Scan(&rec.ID, &rec.AlertID, &rec.FromState, &rec.ToState,
			&rec.Actor, &note, &rec.CreatedAt)
		if err != nil {
			return nil, 0, fmt.Errorf("scan state record: %w", err)
		}
		rec.Note = note.String
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

func scanAlert(row *sql.Row) (*models.Alert, error) {
	alert := &models.Alert{}
	var metadataJSON string
	var policyID sql.NullString

	err := row.Scan(
		&alert.ID, &alert.Fingerprint, &alert.Source, &alert.Signature, &alert.Severity, &alert.State,
		&alert.OccurrenceCount, &alert.FirstSeen, &alert.LastSeen, &metadataJSON, &policyID,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	alert.PolicyID = policyID.String
	if err := json.Unmarshal([]byte(metadataJSON), &alert.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return alert, nil
}

func scanAlerts(rows *sql.Rows) ([]*models.Alert, error) {
	var alerts []*models.Alert
	for rows.Next() {
		alert := &models.Alert{}
		var metadataJSON string
		var policyID sql.NullString

		err := rows.Scan(
			&alert.ID, &alert.Fingerprint, &alert.Source, &alert.Signature, &alert.Severity, &alert.State,
			&alert.OccurrenceCount, &alert.FirstSeen, &alert.LastSeen, &metadataJSON, &policyID,
			&alert.CreatedAt, &alert.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}

		alert.PolicyID = policyID.String
		if err := json.Unmarshal([]byte(metadataJSON), &alert.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
