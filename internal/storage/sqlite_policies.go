package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/calm-otter-ops/siren/internal/models"
)

type sqlitePolicyRepo struct {
	db *sql.DB
}

func (r *sqlitePolicyRepo) Create(ctx context.Context, policy *models.EscalationPolicy) error {
	stepsJSON, err := json.Marshal(policy.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO escalation_policies (id, name, steps_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, policy.ID, policy.Name, string(stepsJSON), policy.CreatedAt, policy.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("policy name %q taken: %w", policy.Name, ErrConflict)
		}
		return fmt.Errorf("insert policy: %w", err)
	}
	return nil
}

func (r *sqlitePolicyRepo) GetByID(ctx context.Context, id string) (*models.EscalationPolicy, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, steps_json, created_at, updated_at FROM escalation_policies WHERE id = ?", id)
	return scanPolicy(row)
}

func (r *sqlitePolicyRepo) GetByName(ctx context.Context, name string) (*models.EscalationPolicy, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, steps_json, created_at, updated_at FROM escalation_policies WHERE name = ?", name)
	return scanPolicy(row)
}

func (r *sqlitePolicyRepo) Update(ctx context.Context, policy *models.EscalationPolicy) error {
	stepsJSON, err := json.Marshal(policy.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE escalation_policies SET name = ?, steps_json = ?, updated_at = ?
		WHERE id = ?
	`, policy.Name, string(stepsJSON), policy.UpdatedAt, policy.ID)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("policy %s: %w", policy.ID, ErrNotFound)
	}
	return nil
}

func (r *sqlitePolicyRepo) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM escalation_policies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("policy %s: %w", id, ErrNotFound)
	}
	return nil
}

func (r *sqlitePolicyRepo) List(ctx context.Context) ([]*models.EscalationPolicy, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, steps_json, created_at, updated_at FROM escalation_policies ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var policies []*models.EscalationPolicy
	for rows.Next() {
		p := &models.EscalationPolicy{}
		var stepsJSON string
		if err := rows.Scan(&p.ID, &p.Name, &stepsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

func scanPolicy(row *sql.Row) (*models.EscalationPolicy, error) {
	p := &models.EscalationPolicy{}
	var stepsJSON string

	err := row.Scan(&p.ID, &p.Name, &stepsJSON, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan policy: %w", err)
	}

	if err := json.Unmarshal([]byte(stepsJSON), &p.Steps); err != nil {
		return nil, fmt.Errorf("unmarshal steps: %w", err)
	}
	return p, nil
}
