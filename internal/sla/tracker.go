// Package sla tracks time-to-acknowledge and time-to-resolve targets
// per alert and flags breaches.
package sla

import (
	"context"
	"log"
	"time"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// TargetTable maps severity to SLA targets.
type TargetTable map[models.Severity]models.SLATargets

// DefaultTargets returns the built-in severity→target lookup table.
func DefaultTargets() TargetTable {
	return TargetTable{
		models.SeverityCritical: {TTA: 15 * time.Minute, TTR: 4 * time.Hour},
		models.SeverityHigh:     {TTA: time.Hour, TTR: 24 * time.Hour},
		models.SeverityMedium:   {TTA: 4 * time.Hour, TTR: 72 * time.Hour},
		models.SeverityLow:      {TTA: 24 * time.Hour, TTR: 7 * 24 * time.Hour},
	}
}

// For returns the targets for a severity, falling back to medium for
// anything unknown.
func (t TargetTable) For(severity models.Severity) models.SLATargets {
	if targets, ok := t[severity]; ok {
		return targets
	}
	return t[models.SeverityMedium]
}

// Tracker computes and persists SLA state for alerts.
type Tracker struct {
	store   storage.Storage
	targets TargetTable
}

// NewTracker creates a tracker with the given target table. A nil
// table uses the defaults.
func NewTracker(store storage.Storage, targets TargetTable) *Tracker {
	if targets == nil {
		targets = DefaultTargets()
	}
	return &Tracker{store: store, targets: targets}
}

// NewRecord builds the SLA record for a freshly created alert. The
// targets are derived from severity once, here, and never change
// afterwards even if the alert's severity is edited.
func (t *Tracker) NewRecord(alertID string, severity models.Severity, now time.Time) *models.SLARecord {
	targets := t.targets.For(severity)
	return &models.SLARecord{
		AlertID:   alertID,
		Severity:  severity,
		TTATarget: targets.TTA,
		TTRTarget: targets.TTR,
		CreatedAt: now,
	}
}

// RecordAcknowledgment stops the TTA clock at the current time.
func (t *Tracker) RecordAcknowledgment(ctx context.Context, alertID string) error {
	return t.RecordAcknowledgmentAt(ctx, alertID, time.Now())
}

// RecordAcknowledgmentAt stops the TTA clock at ts. The first call
// wins; repeats are no-ops. If ts lands past the TTA deadline the
// breach flag is set.
func (t *Tracker) RecordAcknowledgmentAt(ctx context.Context, alertID string, ts time.Time) error {
	set, err := t.store.SLAs().SetAcknowledged(ctx, alertID, ts)
	if err != nil {
		return err
	}
	if !set {
		return nil
	}

	rec, err := t.store.SLAs().Get(ctx, alertID)
	if err != nil {
		return err
	}
	if ts.Sub(rec.CreatedAt) > rec.TTATarget && !rec.TTABreached {
		log.Printf("alert %s: TTA breached (acknowledged after %v, target %v)",
			alertID, ts.Sub(rec.CreatedAt), rec.TTATarget)
		return t.store.SLAs().MarkTTABreached(ctx, alertID)
	}
	return nil
}

// RecordResolution stops the TTR clock at the current time.
func (t *Tracker) RecordResolution(ctx context.Context, alertID string) error {
	return t.RecordResolutionAt(ctx, alertID, time.Now())
}

// RecordResolutionAt stops the TTR clock at ts, with the same
// idempotence and breach handling as acknowledgment.
func (t *Tracker) RecordResolutionAt(ctx context.Context, alertID string, ts time.Time) error {
	set, err := t.store.SLAs().SetResolved(ctx, alertID, ts)
	if err != nil {
		return err
	}
	if !set {
		return nil
	}

	rec, err := t.store.SLAs().Get(ctx, alertID)
	if err != nil {
		return err
	}
	if ts.Sub(rec.CreatedAt) > rec.TTRTarget && !rec.TTRBreached {
		log.Printf("alert %s: TTR breached (resolved after %v, target %v)",
			alertID, ts.Sub(rec.CreatedAt), rec.TTRTarget)
		return t.store.SLAs().MarkTTRBreached(ctx, alertID)
	}
	return nil
}

// Compliance reports elapsed vs. target and breach status for both
// clocks as of now.
func (t *Tracker) Compliance(ctx context.Context, alertID string) (*models.SLACompliance, error) {
	return t.ComplianceAt(ctx, alertID, time.Now())
}

// ComplianceAt reports compliance as of an explicit time. Clocks that
// have not stopped yet are measured provisionally against now. The
// persisted breach flags are monotonic; this view additionally reports
// a breach the moment a still-running clock passes its deadline, even
// before a sweep has persisted the flag.
func (t *Tracker) ComplianceAt(ctx context.Context, alertID string, now time.Time) (*models.SLACompliance, error) {
	rec, err := t.store.SLAs().Get(ctx, alertID)
	if err != nil {
		return nil, err
	}

	ttaEnd := now
	if rec.AcknowledgedAt != nil {
		ttaEnd = *rec.AcknowledgedAt
	}
	ttrEnd := now
	if rec.ResolvedAt != nil {
		ttrEnd = *rec.ResolvedAt
	}

	ttaElapsed := ttaEnd.Sub(rec.CreatedAt)
	ttrElapsed := ttrEnd.Sub(rec.CreatedAt)

	return &models.SLACompliance{
		AlertID:     alertID,
		TTATarget:   rec.TTATarget,
		TTAElapsed:  ttaElapsed,
		TTABreached: rec.TTABreached || ttaElapsed > rec.TTATarget,
		TTRTarget:   rec.TTRTarget,
		TTRElapsed:  ttrElapsed,
		TTRBreached: rec.TTRBreached || ttrElapsed > rec.TTRTarget,
	}, nil
}

// SweepAt persists breach flags for clocks that have passed their
// deadline without stopping. Called by the scheduler tick. Returns
// which flags were newly set.
func (t *Tracker) SweepAt(ctx context.Context, alertID string, now time.Time) (ttaBreached, ttrBreached bool, err error) {
	rec, err := t.store.SLAs().Get(ctx, alertID)
	if err != nil {
		return false, false, err
	}

	if rec.AcknowledgedAt == nil && !rec.TTABreached && now.Sub(rec.CreatedAt) > rec.TTATarget {
		if err := t.store.SLAs().MarkTTABreached(ctx, alertID); err != nil {
			return false, false, err
		}
		log.Printf("alert %s: TTA breached (unacknowledged for %v, target %v)",
			alertID, now.Sub(rec.CreatedAt), rec.TTATarget)
		ttaBreached = true
	}

	if rec.ResolvedAt == nil && !rec.TTRBreached && now.Sub(rec.CreatedAt) > rec.TTRTarget {
		if err := t.store.SLAs().MarkTTRBreached(ctx, alertID); err != nil {
			return ttaBreached, false, err
		}
		log.Printf("alert %s: TTR breached (unresolved for %v, target %v)",
			alertID, now.Sub(rec.CreatedAt), rec.TTRTarget)
		ttrBreached = true
	}

	return ttaBreached, ttrBreached, nil
}
