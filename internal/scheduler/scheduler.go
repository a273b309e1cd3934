// Package scheduler drives all time-based behavior. Its tick is the
// only producer of time-driven transitions: SLA breach sweeps and
// escalation step fires happen here and nowhere else.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/calm-otter-ops/siren/internal/escalation"
	"github.com/calm-otter-ops/siren/internal/ingest"
	"github.com/calm-otter-ops/siren/internal/metrics"
	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// Clock abstracts wall-clock time so tests can advance time without
// sleeping.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }

// Options configures the scheduler.
type Options struct {
	// Interval between ticks. Default 30s.
	Interval time.Duration
	// MaxBackoff caps the delay after consecutive failed ticks.
	// Default 5 * Interval.
	MaxBackoff time.Duration
	// DegradedAfter is how long the store may stay unreachable before
	// the scheduler raises a meta-alert about itself. Default 5m.
	DegradedAfter time.Duration
	// Clock defaults to SystemClock.
	Clock Clock
}

func (o *Options) setDefaults() {
	if o.Interval == 0 {
		o.Interval = 30 * time.Second
	}
	if o.MaxBackoff == 0 {
		o.MaxBackoff = 5 * o.Interval
	}
	if o.DegradedAfter == 0 {
		o.DegradedAfter = 5 * time.Minute
	}
	if o.Clock == nil {
		o.Clock = SystemClock{}
	}
}

// Scheduler periodically re-evaluates every open alert's SLA and
// escalation timers.
type Scheduler struct {
	store    storage.Storage
	tracker  *sla.Tracker
	engine   *escalation.Engine
	ingestor *ingest.Ingestor
	opts     Options

	// degradedSince is non-zero while ticks are failing against the
	// store; used to decide whether recovery warrants a meta-alert.
	degradedSince time.Time
	consecFails   int
	running       atomic.Bool
}

// New creates a scheduler. The ingestor is used only to raise the
// degraded-store meta-alert through the normal detection pipeline.
func New(store storage.Storage, tracker *sla.Tracker, engine *escalation.Engine, ingestor *ingest.Ingestor, opts Options) *Scheduler {
	opts.setDefaults()
	return &Scheduler{
		store:    store,
		tracker:  tracker,
		engine:   engine,
		ingestor: ingestor,
		opts:     opts,
	}
}

// Run ticks at the configured interval until ctx is canceled, backing
// off exponentially while the store is unavailable.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("scheduler started (interval %v)", s.opts.Interval)
	s.running.Store(true)
	defer s.running.Store(false)

	delay := s.opts.Interval
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler stopped")
			return nil
		case <-timer.C:
		}

		if err := s.TickAt(ctx, s.opts.Clock.Now()); err != nil {
			delay = s.backoffDelay()
			log.Printf("scheduler tick failed, next attempt in %v: %v", delay, err)
		} else {
			delay = s.opts.Interval
		}
		timer.Reset(delay)
	}
}

// Running reports whether the scheduler loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// backoffDelay doubles the tick delay per consecutive failure, capped
// at MaxBackoff.
func (s *Scheduler) backoffDelay() time.Duration {
	delay := s.opts.Interval
	for i := 0; i < s.consecFails-1 && delay < s.opts.MaxBackoff; i++ {
		delay *= 2
	}
	if delay > s.opts.MaxBackoff {
		delay = s.opts.MaxBackoff
	}
	return delay
}

// TickAt runs one evaluation sweep at the given time. A failure on
// one alert does not block the others; only a store-level failure
// (the open-alert listing itself) fails the tick.
func (s *Scheduler) TickAt(ctx context.Context, now time.Time) error {
	alerts, err := s.store.Alerts().ListOpen(ctx)
	if err != nil {
		s.consecFails++
		if s.degradedSince.IsZero() {
			s.degradedSince = now
		}
		metrics.SchedulerTickFailures.Inc()
		return fmt.Errorf("list open alerts: %w: %v", storage.ErrStoreUnavailable, err)
	}

	s.noteRecovery(ctx, now)

	for _, alert := range alerts {
		tta, ttr, err := s.tracker.SweepAt(ctx, alert.ID, now)
		if err != nil {
			log.Printf("sla sweep: alert %s: %v", alert.ID, err)
			continue
		}
		if tta {
			metrics.SLABreaches.WithLabelValues("tta", string(alert.Severity)).Inc()
		}
		if ttr {
			metrics.SLABreaches.WithLabelValues("ttr", string(alert.Severity)).Inc()
		}
	}

	for _, intent := range s.engine.EvaluateAt(ctx, now) {
		metrics.IntentsEmitted.WithLabelValues(string(intent.Channel)).Inc()
	}

	metrics.SchedulerTicks.Inc()
	metrics.OpenAlerts.Set(float64(len(alerts)))
	return nil
}

// noteRecovery raises the meta-alert if the store was unreachable for
// longer than the degraded threshold. It runs on the first successful
// tick afterwards, when the store can hold the alert again.
func (s *Scheduler) noteRecovery(ctx context.Context, now time.Time) {
	if s.degradedSince.IsZero() {
		s.consecFails = 0
		return
	}

	outage := now.Sub(s.degradedSince)
	s.degradedSince = time.Time{}
	s.consecFails = 0

	if outage < s.opts.DegradedAfter {
		return
	}

	log.Printf("store was unreachable for %v, raising meta-alert", outage)
	_, err := s.ingestor.IngestAt(ctx, &models.Detection{
		Source:    "siren/scheduler",
		Signature: "store-degraded",
		Severity:  models.SeverityHigh,
		Metadata: map[string]string{
			"outage":         outage.String(),
			"degraded_since": now.Add(-outage).UTC().Format(time.RFC3339),
		},
	}, now)
	if err != nil {
		log.Printf("raise degraded-store meta-alert: %v", err)
	}
}
