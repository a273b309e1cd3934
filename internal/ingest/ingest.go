// Package ingest is the single entry point for raw detections. It
// collapses repeated detections of the same logical problem into one
// open alert per fingerprint, and creates the alert, SLA record, and
// escalation state atomically for everything else.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// fingerprintSep separates the fingerprint fields so that
// ("ab","c") and ("a","bc") hash differently.
const fingerprintSep = "\x1f"

// Fingerprint computes the stable dedup hash for a detection. Only the
// identifying fields participate: metadata drift between repeats of
// the same problem must not split them into separate alerts.
func Fingerprint(source, signature string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(source+fingerprintSep+signature))
}

// Ingestor deduplicates detections into alerts.
type Ingestor struct {
	store             storage.Storage
	tracker           *sla.Tracker
	defaultPolicyName string
}

// NewIngestor creates an ingestor. New alerts are attached to the
// policy named by defaultPolicyName unless the detection's metadata
// carries a "policy" key naming another.
func NewIngestor(store storage.Storage, tracker *sla.Tracker, defaultPolicyName string) *Ingestor {
	return &Ingestor{
		store:             store,
		tracker:           tracker,
		defaultPolicyName: defaultPolicyName,
	}
}

// Ingest processes a detection at the current time.
func (i *Ingestor) Ingest(ctx context.Context, det *models.Detection) (*models.IngestResult, error) {
	return i.IngestAt(ctx, det, time.Now())
}

// IngestAt processes a detection at an explicit time. If an open alert
// with the same fingerprint exists its occurrence count is bumped; no
// state transition and no new SLA record happen on that path.
// Otherwise a new alert is created in state "new" together with its
// SLA record, escalation cursor, and initial history entry, all in one
// transaction.
func (i *Ingestor) IngestAt(ctx context.Context, det *models.Detection, now time.Time) (*models.IngestResult, error) {
	if det.Source == "" {
		return nil, fmt.Errorf("detection source is required: %w", storage.ErrValidation)
	}
	if det.Signature == "" {
		return nil, fmt.Errorf("detection signature is required: %w", storage.ErrValidation)
	}
	if det.Severity == "" {
		det.Severity = models.SeverityMedium
	}
	if !det.Severity.Valid() {
		return nil, fmt.Errorf("unknown severity %q: %w", det.Severity, storage.ErrValidation)
	}

	seenAt := det.ObservedAt
	if seenAt.IsZero() {
		seenAt = now
	}

	fingerprint := Fingerprint(det.Source, det.Signature)

	alert, err := i.store.Alerts().BumpOccurrence(ctx, fingerprint, seenAt)
	if err == nil {
		return &models.IngestResult{
			AlertID:         alert.ID,
			Created:         false,
			OccurrenceCount: alert.OccurrenceCount,
		}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	result, err := i.create(ctx, det, fingerprint, seenAt, now)
	if errors.Is(err, storage.ErrConflict) {
		// A concurrent ingest created the alert between our bump
		// attempt and insert. Bump instead.
		alert, err := i.store.Alerts().BumpOccurrence(ctx, fingerprint, seenAt)
		if err != nil {
			return nil, err
		}
		return &models.IngestResult{
			AlertID:         alert.ID,
			Created:         false,
			OccurrenceCount: alert.OccurrenceCount,
		}, nil
	}
	return result, err
}

func (i *Ingestor) create(ctx context.Context, det *models.Detection, fingerprint string, seenAt, now time.Time) (*models.IngestResult, error) {
	policy, err := i.policyFor(ctx, det)
	if err != nil {
		return nil, err
	}

	alert := &models.Alert{
		ID:              uuid.New().String(),
		Fingerprint:     fingerprint,
		Source:          det.Source,
		Signature:       det.Signature,
		Severity:        det.Severity,
		State:           models.StateNew,
		OccurrenceCount: 1,
		FirstSeen:       seenAt,
		LastSeen:        seenAt,
		Metadata:        det.Metadata,
		PolicyID:        policy.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	slaRec := i.tracker.NewRecord(alert.ID, det.Severity, now)

	esc := &models.EscalationState{
		AlertID:       alert.ID,
		Policy:        *policy,
		CurrentStep:   0,
		StepEnteredAt: now,
	}

	initial := &models.StateRecord{
		ID:        uuid.New().String(),
		AlertID:   alert.ID,
		FromState: models.StateNew,
		ToState:   models.StateNew,
		Actor:     models.SystemActor,
		Note:      "created from detection",
		CreatedAt: now,
	}

	if err := i.store.Alerts().Create(ctx, alert, slaRec, esc, initial); err != nil {
		return nil, err
	}

	log.Printf("alert %s created (fingerprint %s, severity %s, policy %s)",
		alert.ID, fingerprint, alert.Severity, policy.Name)

	return &models.IngestResult{
		AlertID:         alert.ID,
		Created:         true,
		OccurrenceCount: 1,
	}, nil
}

// policyFor picks the escalation policy snapshot for a new alert.
func (i *Ingestor) policyFor(ctx context.Context, det *models.Detection) (*models.EscalationPolicy, error) {
	name := i.defaultPolicyName
	if override, ok := det.Metadata["policy"]; ok && override != "" {
		name = override
	}

	policy, err := i.store.Policies().GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("escalation policy %q: %w", name, storage.ErrNotFound)
		}
		return nil, err
	}
	return policy, nil
}
