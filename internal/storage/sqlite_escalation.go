package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/models"
)

type sqliteEscalationRepo struct {
	db *sql.DB
}

const escalationColumns = `alert_id, policy_json, current_step, step_entered_at, last_sequence, halted`

func (r *sqliteEscalationRepo) Get(ctx context.Context, alertID string) (*models.EscalationState, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+escalationColumns+" FROM escalation_state WHERE alert_id = ?", alertID)
	return scanEscalationState(row.Scan)
}

func (r *sqliteEscalationRepo) ListActive(ctx context.Context) ([]*models.EscalationState, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+escalationColumns+" FROM escalation_state WHERE halted = 0 ORDER BY step_entered_at")
	if err != nil {
		return nil, fmt.Errorf("query active escalations: %w", err)
	}
	defer rows.Close()

	var states []*models.EscalationState
	for rows.Next() {
		state, err := scanEscalationState(rows.Scan)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

func (r *sqliteEscalationRepo) Halt(ctx context.Context, alertID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE escalation_state SET halted = 1 WHERE alert_id = ?", alertID)
	if err != nil {
		return fmt.Errorf("halt escalation: %w", err)
	}
	return nil
}

func (r *sqliteEscalationRepo) Fire(ctx context.Context, f FireStep) (*models.DeliveryIntent, error) {
	respondersJSON, err := json.Marshal(f.Responders)
	if err != nil {
		return nil, fmt.Errorf("marshal responders: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin fire: %w", err)
	}
	defer tx.Rollback()

	// Re-check inside the transaction: a human acknowledging between
	// the scheduler's read and this write must win the race.
	var state models.AlertState
	var acknowledgedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT a.state, s.acknowledged_at
		FROM alerts a JOIN sla_records s ON s.alert_id = a.id
		WHERE a.id = ?
	`, f.AlertID).Scan(&state, &acknowledgedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("alert %s: %w", f.AlertID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read alert for fire: %w", err)
	}

	if state != models.StateNew || acknowledgedAt.Valid {
		if _, err := tx.ExecContext(ctx,
			"UPDATE escalation_state SET halted = 1 WHERE alert_id = ?", f.AlertID); err != nil {
			return nil, fmt.Errorf("halt escalation: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit halt: %w", err)
		}
		return nil, fmt.Errorf("alert %s left state new: %w", f.AlertID, ErrConflict)
	}

	var lastSequence int64
	err = tx.QueryRowContext(ctx, `
		SELECT last_sequence FROM escalation_state
		WHERE alert_id = ? AND current_step = ? AND halted = 0
	`, f.AlertID, f.ExpectedStep).Scan(&lastSequence)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("escalation cursor moved for alert %s: %w", f.AlertID, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("read escalation cursor: %w", err)
	}

	intent := &models.DeliveryIntent{
		ID:         uuid.New().String(),
		AlertID:    f.AlertID,
		Sequence:   lastSequence + 1,
		Step:       f.ExpectedStep,
		Responders: f.Responders,
		Channel:    f.Channel,
		FiredAt:    f.FiredAt,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO delivery_intents (id, alert_id, sequence, step, responders_json, channel, fired_at, consumed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
	`, intent.ID, intent.AlertID, intent.Sequence, intent.Step, string(respondersJSON), intent.Channel, intent.FiredAt)
	if err != nil {
		return nil, fmt.Errorf("insert intent: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE escalation_state SET current_step = ?, step_entered_at = ?, last_sequence = ?
		WHERE alert_id = ?
	`, f.NextStep, f.EnteredAt, intent.Sequence, f.AlertID)
	if err != nil {
		return nil, fmt.Errorf("advance escalation cursor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit fire: %w", err)
	}
	return intent, nil
}

func scanEscalationState(scan func(...any) error) (*models.EscalationState, error) {
	state := &models.EscalationState{}
	var policyJSON string
	var halted int

	err := scan(&state.AlertID, &policyJSON, &state.CurrentStep,
		&state.StepEnteredAt, &state.LastSequence, &halted)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan escalation state: %w", err)
	}

	state.Halted = halted != 0
	if err := json.Unmarshal([]byte(policyJSON), &state.Policy); err != nil {
		return nil, fmt.Errorf("unmarshal policy snapshot: %w", err)
	}
	return state, nil
}

type sqliteIntentRepo struct {
	db *sql.DB
}

const intentColumns = `id, alert_id, sequence, step, responders_json, channel, fired_at, consumed_at`

func (r *sqliteIntentRepo) GetByID(ctx context.Context, id string) (*models.DeliveryIntent, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+intentColumns+" FROM delivery_intents WHERE id = ?", id)
	return scanIntent(row.Scan)
}

func (r *sqliteIntentRepo) List(ctx context.Context, unconsumedOnly bool, limit, offset int) ([]*models.DeliveryIntent, int64, error) {
	where := ""
	if unconsumedOnly {
		where = " WHERE consumed_at IS NULL"
	}

	var total int64
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM delivery_intents"+where).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count intents: %w", err)
	}

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT "+intentColumns+" FROM delivery_intents"+where+
			" ORDER BY fired_at, sequence LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query intents: %w", err)
	}
	defer rows.Close()

	intents, err := scanIntents(rows)
	if err != nil {
		return nil, 0, err
	}
	return intents, total, rows.Err()
}

func (r *sqliteIntentRepo) ListByAlert(ctx context.Context, alertID string) ([]*models.DeliveryIntent, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+intentColumns+" FROM delivery_intents WHERE alert_id = ? ORDER BY sequence", alertID)
	if err != nil {
		return nil, fmt.Errorf("query intents by alert: %w", err)
	}
	defer rows.Close()

	intents, err := scanIntents(rows)
	if err != nil {
		return nil, err
	}
	return intents, rows.Err()
}

func (r *sqliteIntentRepo) Consume(ctx context.Context, id string, ts time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE delivery_intents SET consumed_at = ? WHERE id = ? AND consumed_at IS NULL",
		ts, id)
	if err != nil {
		return fmt.Errorf("consume intent: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var count int
		if err := r.db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM delivery_intents WHERE id = ?", id).Scan(&count); err != nil {
			return fmt.Errorf("check intent: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("intent %s: %w", id, ErrNotFound)
		}
		// Already consumed.
	}
	return nil
}

func (r *sqliteIntentRepo) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM delivery_intents WHERE fired_at < ? AND consumed_at IS NOT NULL", before)
	if err != nil {
		return 0, fmt.Errorf("delete intents: %w", err)
	}
	return result.RowsAffected()
}

func scanIntent(scan func(...any) error) (*models.DeliveryIntent, error) {
	intent := &models.DeliveryIntent{}
	var respondersJSON string
	var consumedAt sql.NullTime

	err := scan(&intent.ID, &intent.AlertID, &intent.Sequence, &intent.Step,
		&respondersJSON, &intent.Channel, &intent.FiredAt, &consumedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan intent: %w", err)
	}

	if consumedAt.Valid {
		intent.ConsumedAt = &consumedAt.Time
	}
	if err := json.Unmarshal([]byte(respondersJSON), &intent.Responders); err != nil {
		return nil, fmt.Errorf("unmarshal responders: %w", err)
	}
	return intent, nil
}

func scanIntents(rows *sql.Rows) ([]*models.DeliveryIntent, error) {
	var intents []*models.DeliveryIntent
	for rows.Next() {
		intent, err := scanIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, nil
}
