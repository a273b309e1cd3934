// Package escalation advances alerts through their policy's
// notification ladder and emits delivery intents.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/oncall"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// Engine evaluates escalation cursors against their policy snapshots.
// It never sleeps or schedules itself: the scheduler calls EvaluateAt
// on every tick with the current time, which also makes arbitrary time
// advancement trivial in tests.
type Engine struct {
	store storage.Storage

	stats *EngineStats
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	StatesEvaluated atomic.Int64
	StepsFired      atomic.Int64
	Halted          atomic.Int64
	RacesLost       atomic.Int64
	Failures        atomic.Int64
}

// NewEngine creates an escalation engine over the given store.
func NewEngine(store storage.Storage) *Engine {
	return &Engine{
		store: store,
		stats: &EngineStats{},
	}
}

// EvaluateAt sweeps every active escalation cursor at the given time
// and fires any step whose wait has elapsed. Returns the intents that
// were emitted. A failure on one alert is logged and does not stop the
// sweep.
func (e *Engine) EvaluateAt(ctx context.Context, now time.Time) []*models.DeliveryIntent {
	states, err := e.store.Escalations().ListActive(ctx)
	if err != nil {
		e.stats.Failures.Add(1)
		log.Printf("escalation sweep: list active states: %v", err)
		return nil
	}

	var fired []*models.DeliveryIntent
	for _, state := range states {
		e.stats.StatesEvaluated.Add(1)

		intent, err := e.evaluateOne(ctx, state, now)
		if err != nil {
			if errors.Is(err, storage.ErrConflict) {
				// A human beat us to the alert. The cursor is halted;
				// nothing to do.
				e.stats.RacesLost.Add(1)
				continue
			}
			e.stats.Failures.Add(1)
			log.Printf("escalation sweep: alert %s: %v", state.AlertID, err)
			continue
		}
		if intent != nil {
			fired = append(fired, intent)
		}
	}
	return fired
}

// evaluateOne fires at most one step for one alert.
func (e *Engine) evaluateOne(ctx context.Context, state *models.EscalationState, now time.Time) (*models.DeliveryIntent, error) {
	steps := state.Policy.Steps
	if len(steps) == 0 {
		// Snapshots are validated at policy creation; an empty one is
		// corrupt data, not a transient failure.
		if err := e.store.Escalations().Halt(ctx, state.AlertID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("policy snapshot for alert %s has no steps: %w", state.AlertID, storage.ErrValidation)
	}

	stepIdx := state.CurrentStep
	if stepIdx >= len(steps) {
		stepIdx = len(steps) - 1
	}
	step := steps[stepIdx]

	if now.Sub(state.StepEnteredAt) < step.Wait {
		return nil, nil
	}

	// Cheap pre-check before the fire transaction. The transaction
	// re-checks; this only avoids pointless write attempts.
	alert, err := e.store.Alerts().GetByID(ctx, state.AlertID)
	if err != nil {
		return nil, err
	}
	if alert.State != models.StateNew {
		e.stats.Halted.Add(1)
		if err := e.store.Escalations().Halt(ctx, state.AlertID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	responders, err := e.resolveResponders(ctx, step, now)
	if err != nil {
		return nil, err
	}

	// On the last step the cursor stays put and the wait re-arms, so
	// the final responder keeps being paged until someone acts.
	nextStep := stepIdx + 1
	if stepIdx == len(steps)-1 {
		nextStep = stepIdx
	}

	intent, err := e.store.Escalations().Fire(ctx, storage.FireStep{
		AlertID:      state.AlertID,
		ExpectedStep: state.CurrentStep,
		NextStep:     nextStep,
		EnteredAt:    now,
		Responders:   responders,
		Channel:      step.Channel,
		FiredAt:      now,
	})
	if err != nil {
		return nil, err
	}

	e.stats.StepsFired.Add(1)
	log.Printf("alert %s: escalation step %d fired, notifying %v via %s (sequence %d)",
		state.AlertID, stepIdx, responders, step.Channel, intent.Sequence)
	return intent, nil
}

// resolveResponders turns a step's responder reference into concrete
// member names, resolving rotations at fire time.
func (e *Engine) resolveResponders(ctx context.Context, step models.PolicyStep, now time.Time) ([]string, error) {
	switch step.Responder.Kind {
	case models.ResponderIndividual:
		return []string{step.Responder.ID}, nil

	case models.ResponderRotation:
		schedule, err := e.store.Schedules().GetByID(ctx, step.Responder.ID)
		if errors.Is(err, storage.ErrNotFound) {
			schedule, err = e.store.Schedules().GetByName(ctx, step.Responder.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("rotation %q: %w", step.Responder.ID, err)
		}
		return oncall.ResolveAt(schedule, now)

	default:
		return nil, fmt.Errorf("unknown responder kind %q: %w", step.Responder.Kind, storage.ErrValidation)
	}
}

// EngineStatsSnapshot is a snapshot of engine statistics for reporting.
type EngineStatsSnapshot struct {
	StatesEvaluated int64
	StepsFired      int64
	Halted          int64
	RacesLost       int64
	Failures        int64
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStatsSnapshot {
	return EngineStatsSnapshot{
		StatesEvaluated: e.stats.StatesEvaluated.Load(),
		StepsFired:      e.stats.StepsFired.Load(),
		Halted:          e.stats.Halted.Load(),
		RacesLost:       e.stats.RacesLost.Load(),
		Failures:        e.stats.Failures.Load(),
	}
}
