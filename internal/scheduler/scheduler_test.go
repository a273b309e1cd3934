package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/escalation"
	"github.com/calm-otter-ops/siren/internal/ingest"
	"github.com/calm-otter-ops/siren/internal/lifecycle"
	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// flakyStore wraps a real store and fails ListOpen on demand, so tests
// can simulate a store outage without touching the database file.
type flakyStore struct {
	storage.Storage
	failing bool
}

func (f *flakyStore) Alerts() storage.AlertRepository {
	return &flakyAlerts{AlertRepository: f.Storage.Alerts(), store: f}
}

type flakyAlerts struct {
	storage.AlertRepository
	store *flakyStore
}

func (a *flakyAlerts) ListOpen(ctx context.Context) ([]*models.Alert, error) {
	if a.store.failing {
		return nil, errors.New("disk I/O error")
	}
	return a.AlertRepository.ListOpen(ctx)
}

type schedulerFixture struct {
	sched    *Scheduler
	store    *flakyStore
	ingestor *ingest.Ingestor
	machine  *lifecycle.Machine
	base     time.Time
}

func setupScheduler(t *testing.T, steps []models.PolicyStep) (*schedulerFixture, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "siren-test-*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	sqlite := storage.NewSQLiteStorage(filepath.Join(tmpDir, "test.db"))
	if err := sqlite.Open(); err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("open database: %v", err)
	}
	if err := sqlite.Migrate(); err != nil {
		sqlite.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("migrate database: %v", err)
	}

	if steps == nil {
		steps = []models.PolicyStep{{
			Wait:      5 * time.Minute,
			Responder: models.ResponderRef{Kind: models.ResponderIndividual, ID: "alice"},
			Channel:   models.ChannelPager,
		}}
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := &models.EscalationPolicy{
		ID:        uuid.New().String(),
		Name:      "default",
		Steps:     steps,
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := sqlite.Policies().Create(context.Background(), policy); err != nil {
		sqlite.Close()
		os.RemoveAll(tmpDir)
		t.Fatalf("create policy: %v", err)
	}

	store := &flakyStore{Storage: sqlite}
	tracker := sla.NewTracker(store, nil)
	ingestor := ingest.NewIngestor(store, tracker, "default")
	engine := escalation.NewEngine(store)

	fixture := &schedulerFixture{
		sched: New(store, tracker, engine, ingestor, Options{
			Interval:      30 * time.Second,
			DegradedAfter: 5 * time.Minute,
		}),
		store:    store,
		ingestor: ingestor,
		machine:  lifecycle.NewMachine(store, tracker),
		base:     base,
	}

	cleanup := func() {
		sqlite.Close()
		os.RemoveAll(tmpDir)
	}
	return fixture, cleanup
}

func (f *schedulerFixture) ingestAlert(t *testing.T, severity models.Severity) string {
	t.Helper()
	result, err := f.ingestor.IngestAt(context.Background(), &models.Detection{
		Source:    "prometheus",
		Signature: uuid.New().String(),
		Severity:  severity,
	}, f.base)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return result.AlertID
}

// TestScheduler_EndToEnd walks a critical alert through one full
// unattended lifecycle: both escalation steps fire, the TTA target
// lapses, and acknowledging stops everything.
func TestScheduler_EndToEnd(t *testing.T) {
	fixture, cleanup := setupScheduler(t, []models.PolicyStep{
		{
			Wait:      5 * time.Minute,
			Responder: models.ResponderRef{Kind: models.ResponderIndividual, ID: "alice"},
			Channel:   models.ChannelPager,
		},
		{
			Wait:      10 * time.Minute,
			Responder: models.ResponderRef{Kind: models.ResponderIndividual, ID: "bob"},
			Channel:   models.ChannelPager,
		},
	})
	defer cleanup()
	ctx := context.Background()

	alertID := fixture.ingestAlert(t, models.SeverityCritical)

	// t+1m: nothing due yet.
	if err := fixture.sched.TickAt(ctx, fixture.base.Add(time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	intents, err := fixture.store.Intents().ListByAlert(ctx, alertID)
	if err != nil {
		t.Fatalf("list intents: %v", err)
	}
	if len(intents) != 0 {
		t.Fatalf("intents fired before any wait elapsed: %d", len(intents))
	}

	// t+6m: step 0 is past its 5m wait.
	if err := fixture.sched.TickAt(ctx, fixture.base.Add(6*time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	intents, _ = fixture.store.Intents().ListByAlert(ctx, alertID)
	if len(intents) != 1 {
		t.Fatalf("intents = %d, want 1 after step 0", len(intents))
	}

	// t+16m: step 1 fires, and the 15m critical TTA target has lapsed.
	if err := fixture.sched.TickAt(ctx, fixture.base.Add(16*time.Minute)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	intents, _ = fixture.store.Intents().ListByAlert(ctx, alertID)
	if len(intents) != 2 {
		t.Fatalf("intents = %d, want 2 after step 1", len(intents))
	}
	record, err := fixture.store.SLAs().Get(ctx, alertID)
	if err != nil {
		t.Fatalf("get sla record: %v", err)
	}
	if !record.TTABreached {
		t.Error("TTA breach not recorded by sweep")
	}
	if record.TTRBreached {
		t.Error("TTR breached far too early")
	}

	// Acknowledged at t+17m: further ticks are quiet.
	if _, err := fixture.machine.AcknowledgeAt(ctx, alertID, "alice", "", fixture.base.Add(17*time.Minute)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := fixture.sched.TickAt(ctx, fixture.base.Add(2*time.Hour)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	intents, _ = fixture.store.Intents().ListByAlert(ctx, alertID)
	if len(intents) != 2 {
		t.Errorf("escalation continued after acknowledge: %d intents", len(intents))
	}
}

func TestScheduler_TickFailsWhenStoreDown(t *testing.T) {
	fixture, cleanup := setupScheduler(t, nil)
	defer cleanup()
	ctx := context.Background()

	fixture.store.failing = true
	err := fixture.sched.TickAt(ctx, fixture.base)
	if !errors.Is(err, storage.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
}

func TestScheduler_ShortOutageRaisesNoMetaAlert(t *testing.T) {
	fixture, cleanup := setupScheduler(t, nil)
	defer cleanup()
	ctx := context.Background()

	fixture.store.failing = true
	fixture.sched.TickAt(ctx, fixture.base)
	fixture.sched.TickAt(ctx, fixture.base.Add(time.Minute))

	// Back within the degraded threshold.
	fixture.store.failing = false
	if err := fixture.sched.TickAt(ctx, fixture.base.Add(2*time.Minute)); err != nil {
		t.Fatalf("recovery tick: %v", err)
	}

	alerts, err := fixture.store.Alerts().ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("meta-alert raised for a %v outage", 2*time.Minute)
	}
}

func TestScheduler_LongOutageRaisesMetaAlert(t *testing.T) {
	fixture, cleanup := setupScheduler(t, []models.PolicyStep{
		{
			Wait:      5 * time.Minute,
			Responder: models.ResponderRef{Kind: models.ResponderIndividual, ID: "alice"},
			Channel:   models.ChannelPager,
		},
	})
	defer cleanup()
	ctx := context.Background()

	fixture.store.failing = true
	fixture.sched.TickAt(ctx, fixture.base)
	fixture.sched.TickAt(ctx, fixture.base.Add(3*time.Minute))

	// First good tick after a 10-minute outage.
	fixture.store.failing = false
	if err := fixture.sched.TickAt(ctx, fixture.base.Add(10*time.Minute)); err != nil {
		t.Fatalf("recovery tick: %v", err)
	}

	alerts, err := fixture.store.Alerts().ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want the meta-alert", len(alerts))
	}
	meta := alerts[0]
	if meta.Source != "siren/scheduler" || meta.Signature != "store-degraded" {
		t.Errorf("meta-alert identity = %s/%s", meta.Source, meta.Signature)
	}
	if meta.Severity != models.SeverityHigh {
		t.Errorf("meta-alert severity = %s, want high", meta.Severity)
	}
	if meta.Metadata["outage"] == "" {
		t.Error("meta-alert should carry the outage duration")
	}

	// A second recovery after another long outage bumps the same alert
	// instead of opening a duplicate.
	fixture.store.failing = true
	fixture.sched.TickAt(ctx, fixture.base.Add(20*time.Minute))
	fixture.store.failing = false
	if err := fixture.sched.TickAt(ctx, fixture.base.Add(30*time.Minute)); err != nil {
		t.Fatalf("second recovery tick: %v", err)
	}
	alerts, _ = fixture.store.Alerts().ListOpen(ctx)
	if len(alerts) != 1 {
		t.Fatalf("open alerts = %d, want 1 after repeat outage", len(alerts))
	}
	if alerts[0].OccurrenceCount != 2 {
		t.Errorf("meta-alert occurrences = %d, want 2", alerts[0].OccurrenceCount)
	}
}

func TestScheduler_BackoffDoublesUpToCap(t *testing.T) {
	sched := New(nil, nil, nil, nil, Options{
		Interval:   30 * time.Second,
		MaxBackoff: 5 * time.Minute,
	})

	tests := []struct {
		fails int
		want  time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{20, 5 * time.Minute},
	}
	for _, tt := range tests {
		sched.consecFails = tt.fails
		if got := sched.backoffDelay(); got != tt.want {
			t.Errorf("backoffDelay after %d failures = %v, want %v", tt.fails, got, tt.want)
		}
	}
}

func TestScheduler_RunningReflectsLoop(t *testing.T) {
	fixture, cleanup := setupScheduler(t, nil)
	defer cleanup()

	if fixture.sched.Running() {
		t.Fatal("Running() true before Run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fixture.sched.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for !fixture.sched.Running() {
		select {
		case <-deadline:
			t.Fatal("scheduler never reported running")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v", err)
	}
	if fixture.sched.Running() {
		t.Error("Running() still true after Run returned")
	}
}
