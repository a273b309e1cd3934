package lifecycle

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

func setupMachine(t *testing.T) (*Machine, *storage.SQLiteStorage, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "siren-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	store := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := store.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	tracker := sla.NewTracker(store, nil)
	machine := NewMachine(store, tracker)

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return machine, store, cleanup
}

func newAlert(t *testing.T, store *storage.SQLiteStorage) *models.Alert {
	t.Helper()
	now := time.Now().UTC()

	alert := &models.Alert{
		ID:              uuid.New().String(),
		Fingerprint:     uuid.New().String(),
		Source:          "prometheus",
		Signature:       "HighErrorRate",
		Severity:        models.SeverityHigh,
		State:           models.StateNew,
		OccurrenceCount: 1,
		FirstSeen:       now,
		LastSeen:        now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	slaRec := &models.SLARecord{
		AlertID: alert.ID, Severity: alert.Severity,
		TTATarget: time.Hour, TTRTarget: 24 * time.Hour, CreatedAt: now,
	}
	esc := &models.EscalationState{
		AlertID: alert.ID,
		Policy: models.EscalationPolicy{
			ID: uuid.New().String(), Name: "p",
			Steps: []models.PolicyStep{{Wait: time.Minute, Responder: models.ResponderRef{Kind: models.ResponderIndividual, ID: "alice"}, Channel: models.ChannelChat}},
		},
		StepEnteredAt: now,
	}
	initial := &models.StateRecord{
		ID: uuid.New().String(), AlertID: alert.ID,
		FromState: models.StateNew, ToState: models.StateNew,
		Actor: models.SystemActor, CreatedAt: now,
	}

	if err := store.Alerts().Create(context.Background(), alert, slaRec, esc, initial); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	return alert
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.AlertState
		want     bool
	}{
		{models.StateNew, models.StateAcknowledged, true},
		{models.StateNew, models.StateInvestigating, true},
		{models.StateNew, models.StateClosed, true},
		{models.StateNew, models.StateResolved, false},
		{models.StateAcknowledged, models.StateInvestigating, true},
		{models.StateAcknowledged, models.StateResolved, true},
		{models.StateAcknowledged, models.StateClosed, true},
		{models.StateAcknowledged, models.StateNew, false},
		{models.StateInvestigating, models.StateResolved, true},
		{models.StateInvestigating, models.StateClosed, true},
		{models.StateInvestigating, models.StateAcknowledged, false},
		{models.StateResolved, models.StateClosed, false},
		{models.StateClosed, models.StateNew, false},
		// Same-state transitions are never legal.
		{models.StateNew, models.StateNew, false},
		{models.StateAcknowledged, models.StateAcknowledged, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

// TestMachine_RandomWalk drives alerts through random transition
// requests and checks that exactly the legal ones are accepted, the
// stored state always tracks the accepted ones, and the history is a
// legal walk.
func TestMachine_RandomWalk(t *testing.T) {
	machine, store, cleanup := setupMachine(t)
	defer cleanup()
	ctx := context.Background()

	states := []models.AlertState{
		models.StateNew, models.StateAcknowledged, models.StateInvestigating,
		models.StateResolved, models.StateClosed,
	}
	rng := rand.New(rand.NewSource(1))

	for walk := 0; walk < 20; walk++ {
		alert := newAlert(t, store)
		current := alert.State

		for step := 0; step < 10; step++ {
			target := states[rng.Intn(len(states))]
			got, err := machine.Transition(ctx, alert.ID, target, "alice", "")

			switch {
			case current.Terminal():
				if !errors.Is(err, storage.ErrAlreadyTerminal) {
					t.Fatalf("walk %d: transition from terminal %s accepted: %v", walk, current, err)
				}
			case !CanTransition(current, target):
				if !errors.Is(err, storage.ErrInvalidTransition) {
					t.Fatalf("walk %d: illegal %s -> %s not rejected: %v", walk, current, target, err)
				}
			default:
				if err != nil {
					t.Fatalf("walk %d: legal %s -> %s rejected: %v", walk, current, target, err)
				}
				if got.State != target {
					t.Fatalf("walk %d: state = %s, want %s", walk, got.State, target)
				}
				current = target
			}
		}

		// History replays as a legal walk.
		history, _, err := store.Alerts().History(ctx, alert.ID, 100, 0)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		for i, rec := range history[1:] { // skip the creation entry
			if !CanTransition(rec.FromState, rec.ToState) {
				t.Fatalf("history entry %d records illegal edge %s -> %s", i+1, rec.FromState, rec.ToState)
			}
		}
	}
}

func TestMachine_AcknowledgeIdempotent(t *testing.T) {
	machine, store, cleanup := setupMachine(t)
	defer cleanup()
	ctx := context.Background()

	alert := newAlert(t, store)
	first := time.Now().UTC()

	if _, err := machine.AcknowledgeAt(ctx, alert.ID, "alice", "", first); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	// Second acknowledge is a no-op, not an error.
	got, err := machine.AcknowledgeAt(ctx, alert.ID, "bob", "", first.Add(time.Minute))
	if err != nil {
		t.Fatalf("second acknowledge: %v", err)
	}
	if got.State != models.StateAcknowledged {
		t.Errorf("state = %s, want acknowledged", got.State)
	}

	// Exactly one acknowledged entry in the history.
	history, _, err := store.Alerts().History(ctx, alert.ID, 100, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	acks := 0
	for _, rec := range history {
		if rec.ToState == models.StateAcknowledged {
			acks++
		}
	}
	if acks != 1 {
		t.Errorf("acknowledged history entries = %d, want 1", acks)
	}

	// The TTA clock stopped at the first acknowledgment.
	rec, err := store.SLAs().Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get sla: %v", err)
	}
	if rec.AcknowledgedAt == nil || !rec.AcknowledgedAt.Equal(first) {
		t.Errorf("acknowledged_at = %v, want %v", rec.AcknowledgedAt, first)
	}
}

func TestMachine_AcknowledgeHaltsEscalation(t *testing.T) {
	machine, store, cleanup := setupMachine(t)
	defer cleanup()
	ctx := context.Background()

	alert := newAlert(t, store)
	if _, err := machine.Acknowledge(ctx, alert.ID, "alice", ""); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	state, err := store.Escalations().Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get escalation state: %v", err)
	}
	if !state.Halted {
		t.Error("escalation should be halted after acknowledge")
	}
}

func TestMachine_TerminalRejectsEverything(t *testing.T) {
	machine, store, cleanup := setupMachine(t)
	defer cleanup()
	ctx := context.Background()

	alert := newAlert(t, store)
	now := time.Now().UTC()

	if _, err := machine.AcknowledgeAt(ctx, alert.ID, "alice", "", now); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, err := machine.ResolveAt(ctx, alert.ID, "alice", "fixed", now.Add(time.Minute)); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	for _, target := range []models.AlertState{
		models.StateNew, models.StateAcknowledged, models.StateInvestigating, models.StateClosed,
	} {
		_, err := machine.Transition(ctx, alert.ID, target, "alice", "")
		if !errors.Is(err, storage.ErrAlreadyTerminal) {
			t.Errorf("transition to %s from resolved: got %v, want ErrAlreadyTerminal", target, err)
		}
	}
}

func TestMachine_CloseLeavesClocksAlone(t *testing.T) {
	machine, store, cleanup := setupMachine(t)
	defer cleanup()
	ctx := context.Background()

	alert := newAlert(t, store)
	if _, err := machine.Close(ctx, alert.ID, "alice", "false positive"); err != nil {
		t.Fatalf("close: %v", err)
	}

	rec, err := store.SLAs().Get(ctx, alert.ID)
	if err != nil {
		t.Fatalf("get sla: %v", err)
	}
	if rec.AcknowledgedAt != nil || rec.ResolvedAt != nil {
		t.Errorf("close stopped clocks: ack=%v resolved=%v", rec.AcknowledgedAt, rec.ResolvedAt)
	}
}

func TestMachine_RejectsUnknownState(t *testing.T) {
	machine, store, cleanup := setupMachine(t)
	defer cleanup()

	alert := newAlert(t, store)
	_, err := machine.Transition(context.Background(), alert.ID, models.AlertState("escalated"), "alice", "")
	if !errors.Is(err, storage.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestMachine_UnknownAlert(t *testing.T) {
	machine, _, cleanup := setupMachine(t)
	defer cleanup()

	_, err := machine.Acknowledge(context.Background(), "missing", "alice", "")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
