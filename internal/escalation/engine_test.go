package escalation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/ingest"
	"github.com/calm-otter-ops/siren/internal/lifecycle"
	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

type engineFixture struct {
	engine   *Engine
	store    *storage.SQLiteStorage
	ingestor *ingest.Ingestor
	machine  *lifecycle.Machine
	base     time.Time
}

func setupEngine(t *testing.T, steps []models.PolicyStep) (*engineFixture, func()) {
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

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := &models.EscalationPolicy{
		ID:        uuid.New().String(),
		Name:      "default",
		Steps:     steps,
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := store.Policies().Create(context.Background(), policy); err != nil {
		store.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("create policy: %v", err)
	}

	tracker := sla.NewTracker(store, nil)
	fixture := &engineFixture{
		engine:   NewEngine(store),
		store:    store,
		ingestor: ingest.NewIngestor(store, tracker, "default"),
		machine:  lifecycle.NewMachine(store, tracker),
		base:     base,
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
	return fixture, cleanup
}

func (f *engineFixture) ingestAlert(t *testing.T) string {
	t.Helper()
	result, err := f.ingestor.IngestAt(context.Background(), &models.Detection{
		Source:    "prometheus",
		Signature: uuid.New().String(),
		Severity:  models.SeverityCritical,
	}, f.base)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return result.AlertID
}

func individualStep(wait time.Duration, id string) models.PolicyStep {
	return models.PolicyStep{
		Wait:      wait,
		Responder: models.ResponderRef{Kind: models.ResponderIndividual, ID: id},
		Channel:   models.ChannelPager,
	}
}

func TestEngine_FiresStepsInOrder(t *testing.T) {
	fixture, cleanup := setupEngine(t, []models.PolicyStep{
		individualStep(5*time.Minute, "alice"),
		individualStep(10*time.Minute, "bob"),
	})
	defer cleanup()
	ctx := context.Background()

	alertID := fixture.ingestAlert(t)

	// Before the first wait elapses nothing fires.
	if fired := fixture.engine.EvaluateAt(ctx, fixture.base.Add(4*time.Minute)); len(fired) != 0 {
		t.Fatalf("fired %d intents before the wait elapsed", len(fired))
	}

	// t+5m: step 0 fires at alice.
	fired := fixture.engine.EvaluateAt(ctx, fixture.base.Add(5*time.Minute))
	if len(fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(fired))
	}
	if fired[0].Step != 0 || fired[0].Responders[0] != "alice" || fired[0].Sequence != 1 {
		t.Errorf("first intent = %+v", fired[0])
	}

	// Step 1's wait starts from the fire, so t+14m is too early...
	if fired := fixture.engine.EvaluateAt(ctx, fixture.base.Add(14*time.Minute)); len(fired) != 0 {
		t.Fatalf("step 1 fired before its wait elapsed")
	}
	// ...and t+15m fires it at bob.
	fired = fixture.engine.EvaluateAt(ctx, fixture.base.Add(15*time.Minute))
	if len(fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(fired))
	}
	if fired[0].Step != 1 || fired[0].Responders[0] != "bob" || fired[0].Sequence != 2 {
		t.Errorf("second intent = %+v", fired[0])
	}

	intents, err := fixture.store.Intents().ListByAlert(ctx, alertID)
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	if len(intents) != 2 {
		t.Errorf("total intents = %d, want 2", len(intents))
	}
	for i, intent := range intents {
		if intent.Sequence != int64(i+1) {
			t.Errorf("intent %d sequence = %d, sequences must be monotonic", i, intent.Sequence)
		}
	}
}

func TestEngine_LastStepReArms(t *testing.T) {
	fixture, cleanup := setupEngine(t, []models.PolicyStep{
		individualStep(5*time.Minute, "alice"),
	})
	defer cleanup()
	ctx := context.Background()

	fixture.ingestAlert(t)

	// The single (last) step keeps re-firing every 5 minutes until
	// someone acts.
	for n := 1; n <= 3; n++ {
		at := fixture.base.Add(time.Duration(n) * 5 * time.Minute)
		fired := fixture.engine.EvaluateAt(ctx, at)
		if len(fired) != 1 {
			t.Fatalf("re-fire %d: fired = %d, want 1", n, len(fired))
		}
		if fired[0].Sequence != int64(n) {
			t.Errorf("re-fire %d: sequence = %d", n, fired[0].Sequence)
		}
	}
}

func TestEngine_AcknowledgeBetweenStepsHalts(t *testing.T) {
	fixture, cleanup := setupEngine(t, []models.PolicyStep{
		individualStep(5*time.Minute, "alice"),
		individualStep(10*time.Minute, "bob"),
		individualStep(10*time.Minute, "carol"),
	})
	defer cleanup()
	ctx := context.Background()

	alertID := fixture.ingestAlert(t)

	fired := fixture.engine.EvaluateAt(ctx, fixture.base.Add(5*time.Minute))
	if len(fired) != 1 {
		t.Fatalf("step 0 did not fire")
	}

	// Acknowledged after step 0 but before step 1's wait elapses.
	if _, err := fixture.machine.AcknowledgeAt(ctx, alertID, "alice", "", fixture.base.Add(7*time.Minute)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	// Steps 1 and 2 never fire, no matter how far time advances.
	for _, at := range []time.Time{
		fixture.base.Add(15 * time.Minute),
		fixture.base.Add(time.Hour),
		fixture.base.Add(24 * time.Hour),
	} {
		if fired := fixture.engine.EvaluateAt(ctx, at); len(fired) != 0 {
			t.Fatalf("escalation continued after acknowledge at %v", at)
		}
	}

	intents, err := fixture.store.Intents().ListByAlert(ctx, alertID)
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	if len(intents) != 1 {
		t.Errorf("intents = %d, want only step 0's", len(intents))
	}
}

func TestEngine_RotationResolvedAtFireTime(t *testing.T) {
	fixture, cleanup := setupEngine(t, []models.PolicyStep{
		{
			Wait:      5 * time.Minute,
			Responder: models.ResponderRef{Kind: models.ResponderRotation, ID: "backend"},
			Channel:   models.ChannelSMS,
		},
	})
	defer cleanup()
	ctx := context.Background()

	// Weekly rotation anchored so that "bob" is on call at fire time.
	schedule := &models.OnCallSchedule{
		ID:             uuid.New().String(),
		Name:           "backend",
		Members:        []string{"alice", "bob"},
		RotationPeriod: 7 * 24 * time.Hour,
		Anchor:         fixture.base.Add(-8 * 24 * time.Hour),
		CreatedAt:      fixture.base,
		UpdatedAt:      fixture.base,
	}
	if err := fixture.store.Schedules().Create(ctx, schedule); err != nil {
		t.Fatalf("create schedule: %v", err)
	}

	fixture.ingestAlert(t)

	fired := fixture.engine.EvaluateAt(ctx, fixture.base.Add(5*time.Minute))
	if len(fired) != 1 {
		t.Fatalf("fired = %d, want 1", len(fired))
	}
	if len(fired[0].Responders) != 1 || fired[0].Responders[0] != "bob" {
		t.Errorf("responders = %v, want [bob]", fired[0].Responders)
	}
}

func TestEngine_ZeroWaitFiresImmediately(t *testing.T) {
	fixture, cleanup := setupEngine(t, []models.PolicyStep{
		individualStep(0, "alice"),
		individualStep(10*time.Minute, "bob"),
	})
	defer cleanup()
	ctx := context.Background()

	fixture.ingestAlert(t)

	fired := fixture.engine.EvaluateAt(ctx, fixture.base)
	if len(fired) != 1 || fired[0].Responders[0] != "alice" {
		t.Fatalf("zero-wait step did not fire on the first sweep: %v", fired)
	}
}

func TestEngine_StatsCount(t *testing.T) {
	fixture, cleanup := setupEngine(t, []models.PolicyStep{
		individualStep(5*time.Minute, "alice"),
	})
	defer cleanup()
	ctx := context.Background()

	fixture.ingestAlert(t)
	fixture.engine.EvaluateAt(ctx, fixture.base.Add(5*time.Minute))

	stats := fixture.engine.Stats()
	if stats.StepsFired != 1 {
		t.Errorf("StepsFired = %d, want 1", stats.StepsFired)
	}
	if stats.StatesEvaluated == 0 {
		t.Error("StatesEvaluated should be counted")
	}
}
