package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/calm-otter-ops/siren/internal/models"
)

type sqliteSLARepo struct {
	db *sql.DB
}

func (r *sqliteSLARepo) Get(ctx context.Context, alertID string) (*models.SLARecord, error) {
	rec := &models.SLARecord{}
	var ttaNS, ttrNS int64
	var acknowledgedAt, resolvedAt sql.NullTime
	var ttaBreached, ttrBreached int

	err := r.db.QueryRowContext(ctx, `
		SELECT alert_id, severity, tta_target_ns, ttr_target_ns, acknowledged_at,
			resolved_at, tta_breached, ttr_breached, created_at
		FROM sla_records WHERE alert_id = ?
	`, alertID).Scan(
		&rec.AlertID, &rec.Severity, &ttaNS, &ttrNS, &acknowledgedAt,
		&resolvedAt, &ttaBreached, &ttrBreached, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sla record for alert %s: %w", alertID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan sla record: %w", err)
	}

	rec.TTATarget = time.Duration(ttaNS)
	rec.TTRTarget = time.Duration(ttrNS)
	if acknowledgedAt.Valid {
		rec.AcknowledgedAt = &acknowledgedAt.Time
	}
	if resolvedAt.Valid {
		rec.ResolvedAt = &resolvedAt.Time
	}
	rec.TTABreached = ttaBreached != 0
	rec.TTRBreached = ttrBreached != 0
	return rec, nil
}

func (r *sqliteSLARepo) SetAcknowledged(ctx context.Context, alertID string, ts time.Time) (bool, error) {
	// Guarded by IS NULL so the first write wins and repeats are no-ops.
	result, err := r.db.ExecContext(ctx,
		"UPDATE sla_records SET acknowledged_at = ? WHERE alert_id = ? AND acknowledged_at IS NULL",
		ts, alertID)
	if err != nil {
		return false, fmt.Errorf("set acknowledged: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if err := r.exists(ctx, alertID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *sqliteSLARepo) SetResolved(ctx context.Context, alertID string, ts time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE sla_records SET resolved_at = ? WHERE alert_id = ? AND resolved_at IS NULL",
		ts, alertID)
	if err != nil {
		return false, fmt.Errorf("set resolved: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if err := r.exists(ctx, alertID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (r *sqliteSLARepo) MarkTTABreached(ctx context.Context, alertID string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE sla_records SET tta_breached = 1 WHERE alert_id = ?", alertID)
	if err != nil {
		return fmt.Errorf("mark tta breached: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("sla record for alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}

func (r *sqliteSLARepo) MarkTTRBreached(ctx context.Context, alertID string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE sla_records SET ttr_breached = 1 WHERE alert_id = ?", alertID)
	if err != nil {
		return fmt.Errorf("mark ttr breached: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("sla record for alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}

func (r *sqliteSLARepo) exists(ctx context.Context, alertID string) error {
	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sla_records WHERE alert_id = ?", alertID).Scan(&count); err != nil {
		return fmt.Errorf("check sla record: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("sla record for alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}
