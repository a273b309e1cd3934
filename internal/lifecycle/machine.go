// Package lifecycle enforces the alert state machine. Every alert
// state mutation in the system goes through Machine.TransitionAt, so
// the state history is always a legal walk of the transition graph.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// legalEdges is the set of allowed (from, to) transitions. Same-state
// edges are deliberately absent: a no-op transition would pollute the
// history.
var legalEdges = map[models.AlertState][]models.AlertState{
	models.StateNew:           {models.StateAcknowledged, models.StateInvestigating, models.StateClosed},
	models.StateAcknowledged:  {models.StateInvestigating, models.StateResolved, models.StateClosed},
	models.StateInvestigating: {models.StateResolved, models.StateClosed},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to models.AlertState) bool {
	for _, next := range legalEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine applies state transitions and keeps the SLA record and
// escalation cursor consistent with them.
type Machine struct {
	store   storage.Storage
	tracker *sla.Tracker
}

// NewMachine creates a state machine over the given store.
func NewMachine(store storage.Storage, tracker *sla.Tracker) *Machine {
	return &Machine{store: store, tracker: tracker}
}

// Transition moves an alert to a new state at the current time.
func (m *Machine) Transition(ctx context.Context, alertID string, to models.AlertState, actor, note string) (*models.Alert, error) {
	return m.TransitionAt(ctx, alertID, to, actor, note, time.Now())
}

// TransitionAt moves an alert to a new state, recording the actor and
// timestamp in the append-only history. It fails with
// storage.ErrNotFound for unknown alerts, storage.ErrAlreadyTerminal
// for resolved/closed alerts, and storage.ErrInvalidTransition for
// edges outside the legal set. The state update is a compare-and-swap:
// if a concurrent writer changed the state first, this call loses with
// storage.ErrConflict and writes nothing.
func (m *Machine) TransitionAt(ctx context.Context, alertID string, to models.AlertState, actor, note string, now time.Time) (*models.Alert, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("unknown state %q: %w", to, storage.ErrValidation)
	}

	alert, err := m.store.Alerts().GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}

	if alert.State.Terminal() {
		return nil, fmt.Errorf("alert %s is %s: %w", alertID, alert.State, storage.ErrAlreadyTerminal)
	}
	if !CanTransition(alert.State, to) {
		return nil, fmt.Errorf("%s -> %s: %w", alert.State, to, storage.ErrInvalidTransition)
	}

	rec := &models.StateRecord{
		ID:        uuid.New().String(),
		AlertID:   alertID,
		FromState: alert.State,
		ToState:   to,
		Actor:     actor,
		Note:      note,
		CreatedAt: now,
	}

	if err := m.store.Alerts().Transition(ctx, alertID, alert.State, to, rec); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			log.Printf("transition %s -> %s on alert %s lost race: %v", alert.State, to, alertID, err)
		}
		return nil, err
	}

	// Any successful transition means the alert is no longer new, so
	// escalation stops for good. Halt is idempotent.
	if err := m.store.Escalations().Halt(ctx, alertID); err != nil {
		log.Printf("halt escalation for alert %s: %v", alertID, err)
	}

	return m.store.Alerts().GetByID(ctx, alertID)
}

// Acknowledge is the convenience transition to acknowledged. It also
// stops the alert's TTA clock. A repeat acknowledge on an already
// acknowledged alert is a no-op returning the current view, so the
// history never gains a duplicate entry.
func (m *Machine) Acknowledge(ctx context.Context, alertID, actor, note string) (*models.Alert, error) {
	return m.AcknowledgeAt(ctx, alertID, actor, note, time.Now())
}

// AcknowledgeAt is Acknowledge at an explicit time.
func (m *Machine) AcknowledgeAt(ctx context.Context, alertID, actor, note string, now time.Time) (*models.Alert, error) {
	alert, err := m.store.Alerts().GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert.State == models.StateAcknowledged {
		return alert, nil
	}

	alert, err = m.TransitionAt(ctx, alertID, models.StateAcknowledged, actor, note, now)
	if err != nil {
		return nil, err
	}

	if err := m.tracker.RecordAcknowledgmentAt(ctx, alertID, now); err != nil {
		return nil, fmt.Errorf("record acknowledgment: %w", err)
	}
	return alert, nil
}

// Resolve is the convenience transition to resolved. It also stops the
// alert's TTR clock.
func (m *Machine) Resolve(ctx context.Context, alertID, actor, note string) (*models.Alert, error) {
	return m.ResolveAt(ctx, alertID, actor, note, time.Now())
}

// ResolveAt is Resolve at an explicit time.
func (m *Machine) ResolveAt(ctx context.Context, alertID, actor, note string, now time.Time) (*models.Alert, error) {
	alert, err := m.TransitionAt(ctx, alertID, models.StateResolved, actor, note, now)
	if err != nil {
		return nil, err
	}

	if err := m.tracker.RecordResolutionAt(ctx, alertID, now); err != nil {
		return nil, fmt.Errorf("record resolution: %w", err)
	}
	return alert, nil
}

// Close dismisses an alert from any non-terminal state. It stops
// escalation but leaves the SLA clocks as they stand: a dismissed
// alert was never acknowledged or resolved.
func (m *Machine) Close(ctx context.Context, alertID, actor, note string) (*models.Alert, error) {
	return m.CloseAt(ctx, alertID, actor, note, time.Now())
}

// CloseAt is Close at an explicit time.
func (m *Machine) CloseAt(ctx context.Context, alertID, actor, note string, now time.Time) (*models.Alert, error) {
	return m.TransitionAt(ctx, alertID, models.StateClosed, actor, note, now)
}
