package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/calm-otter-ops/siren/internal/models"
)

type sqliteScheduleRepo struct {
	db *sql.DB
}

const scheduleColumns = `id, name, members_json, rotation_period_ns, anchor, handoff_overlap_ns, created_at, updated_at`

func (r *sqliteScheduleRepo) Create(ctx context.Context, schedule *models.OnCallSchedule) error {
	membersJSON, err := json.Marshal(schedule.Members)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO on_call_schedules (id, name, members_json, rotation_period_ns, anchor,
			handoff_overlap_ns, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		schedule.ID, schedule.Name, string(membersJSON), schedule.RotationPeriod.Nanoseconds(),
		schedule.Anchor, schedule.HandoffOverlap.Nanoseconds(), schedule.CreatedAt, schedule.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("schedule name %q taken: %w", schedule.Name, ErrConflict)
		}
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

func (r *sqliteScheduleRepo) GetByID(ctx context.Context, id string) (*models.OnCallSchedule, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM on_call_schedules WHERE id = ?", id)
	return scanSchedule(row)
}

func (r *sqliteScheduleRepo) GetByName(ctx context.Context, name string) (*models.OnCallSchedule, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+scheduleColumns+" FROM on_call_schedules WHERE name = ?", name)
	return scanSchedule(row)
}

func (r *sqliteScheduleRepo) Update(ctx context.Context, schedule *models.OnCallSchedule) error {
	membersJSON, err := json.Marshal(schedule.Members)
	if err != nil {
		return fmt.Errorf("marshal members: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE on_call_schedules SET name = ?, members_json = ?, rotation_period_ns = ?,
			anchor = ?, handoff_overlap_ns = ?, updated_at = ?
		WHERE id = ?
	`,
		schedule.Name, string(membersJSON), schedule.RotationPeriod.Nanoseconds(),
		schedule.Anchor, schedule.HandoffOverlap.Nanoseconds(), schedule.UpdatedAt, schedule.ID,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("schedule %s: %w", schedule.ID, ErrNotFound)
	}
	return nil
}

func (r *sqliteScheduleRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM on_call_schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqliteScheduleRepo) List(ctx context.Context) ([]*models.OnCallSchedule, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT "+scheduleColumns+" FROM on_call_schedules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*models.OnCallSchedule
	for rows.Next() {
		s := &models.OnCallSchedule{}
		var membersJSON string
		var periodNS, overlapNS int64

		err := rows.Scan(&s.ID, &s.Name, &membersJSON, &periodNS, &s.Anchor,
			&overlapNS, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}

		s.RotationPeriod = time.Duration(periodNS)
		s.HandoffOverlap = time.Duration(overlapNS)
		if err := json.Unmarshal([]byte(membersJSON), &s.Members); err != nil {
			return nil, fmt.Errorf("unmarshal members: %w", err)
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func scanSchedule(row *sql.Row) (*models.OnCallSchedule, error) {
	s := &models.OnCallSchedule{}
	var membersJSON string
	var periodNS, overlapNS int64

	err := row.Scan(&s.ID, &s.Name, &membersJSON, &periodNS, &s.Anchor,
		&overlapNS, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}

	s.RotationPeriod = time.Duration(periodNS)
	s.HandoffOverlap = time.Duration(overlapNS)
	if err := json.Unmarshal([]byte(membersJSON), &s.Members); err != nil {
		return nil, fmt.Errorf("unmarshal members: %w", err)
	}
	return s, nil
}
