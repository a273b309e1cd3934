// Package storage provides database storage interfaces and implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/calm-otter-ops/siren/internal/models"
)

// Sentinel errors returned by repositories. Callers match them with
// errors.Is and map them to API responses.
var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a state change is not a
	// legal edge of the alert lifecycle.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrAlreadyTerminal is returned when mutating an alert that has
	// reached resolved or closed.
	ErrAlreadyTerminal = errors.New("alert already terminal")

	// ErrValidation is returned for structurally invalid input such as
	// a policy with zero steps.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a compare-and-swap mutation lost a
	// race with a concurrent writer. The loser should re-read.
	ErrConflict = errors.New("concurrent modification")

	// ErrStoreUnavailable is returned for transient storage failures
	// that the scheduler retries with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	// Repository accessors
	Alerts() AlertRepository
	Policies() PolicyRepository
	Schedules() ScheduleRepository
	SLAs() SLARepository
	Escalations() EscalationRepository
	Intents() IntentRepository
}

// AlertFilter narrows List results. Zero values mean "no constraint".
type AlertFilter struct {
	State       models.AlertState
	Severity    models.Severity
	Fingerprint string
	Limit       int
	Offset      int
}

// AlertRepository defines operations for alerts and their state history.
type AlertRepository interface {
	// Create inserts an alert together with its SLA record and
	// escalation state in one transaction, plus the initial state
	// history entry. Returns ErrConflict if an open alert with the
	// same fingerprint already exists.
	Create(ctx context.Context, alert *models.Alert, sla *models.SLARecord, esc *models.EscalationState, initial *models.StateRecord) error

	GetByID(ctx context.Context, id string) (*models.Alert, error)

	// GetOpenByFingerprint returns the single non-terminal alert for a
	// fingerprint, or ErrNotFound.
	GetOpenByFingerprint(ctx context.Context, fingerprint string) (*models.Alert, error)

	// BumpOccurrence increments the occurrence count and advances
	// last_seen on the open alert for a fingerprint. Returns
	// ErrNotFound if no open alert exists.
	BumpOccurrence(ctx context.Context, fingerprint string, seenAt time.Time) (*models.Alert, error)

	List(ctx context.Context, filter AlertFilter) ([]*models.Alert, int64, error)

	// ListOpen returns every non-terminal alert, for the scheduler sweep.
	ListOpen(ctx context.Context) ([]*models.Alert, error)

	// Transition atomically moves an alert from one state to another
	// and appends the history record. The update is guarded by the
	// expected from-state: if a concurrent writer got there first,
	// ErrConflict is returned and nothing is written.
	Transition(ctx context.Context, alertID string, from, to models.AlertState, rec *models.StateRecord) error

	History(ctx context.Context, alertID string, limit, offset int) ([]*models.StateRecord, int64, error)
}

// PolicyRepository defines operations for escalation policy admin.
type PolicyRepository interface {
	Create(ctx context.Context, policy *models.EscalationPolicy) error
	GetByID(ctx context.Context, id string) (*models.EscalationPolicy, error)
	GetByName(ctx context.Context, name string) (*models.EscalationPolicy, error)
	Update(ctx context.Context, policy *models.EscalationPolicy) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.EscalationPolicy, error)
}

// ScheduleRepository defines operations for on-call schedule admin.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *models.OnCallSchedule) error
	GetByID(ctx context.Context, id string) (*models.OnCallSchedule, error)
	GetByName(ctx context.Context, name string) (*models.OnCallSchedule, error)
	Update(ctx context.Context, schedule *models.OnCallSchedule) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*models.OnCallSchedule, error)
}

// SLARepository defines operations for per-alert SLA records.
type SLARepository interface {
	Get(ctx context.Context, alertID string) (*models.SLARecord, error)

	// SetAcknowledged stops the TTA clock. Returns false without
	// writing if the clock was already stopped, so a second call is a
	// no-op rather than an error.
	SetAcknowledged(ctx context.Context, alertID string, ts time.Time) (bool, error)

	// SetResolved stops the TTR clock, with the same idempotence.
	SetResolved(ctx context.Context, alertID string, ts time.Time) (bool, error)

	// MarkTTABreached sets the TTA breach flag. The flag is monotonic:
	// there is no way to clear it.
	MarkTTABreached(ctx context.Context, alertID string) error

	// MarkTTRBreached sets the TTR breach flag, likewise monotonic.
	MarkTTRBreached(ctx context.Context, alertID string) error
}

// FireStep describes the atomic advance of one escalation step.
type FireStep struct {
	AlertID string
	// ExpectedStep guards the cursor: if the stored cursor moved, the
	// fire aborts with ErrConflict.
	ExpectedStep int
	// NextStep is the cursor value after firing. Equal to ExpectedStep
	// when re-firing the last step.
	NextStep   int
	EnteredAt  time.Time
	Responders []string
	Channel    models.ChannelKind
	FiredAt    time.Time
}

// EscalationRepository defines operations for escalation cursors and
// intent emission.
type EscalationRepository interface {
	Get(ctx context.Context, alertID string) (*models.EscalationState, error)

	// ListActive returns escalation state for every alert that can
	// still escalate (not halted).
	ListActive(ctx context.Context) ([]*models.EscalationState, error)

	// Halt permanently stops escalation for an alert. Idempotent.
	Halt(ctx context.Context, alertID string) error

	// Fire emits a delivery intent and advances the cursor in one
	// transaction. Inside the transaction the alert must still be in
	// state "new" with no acknowledgment recorded; otherwise the
	// escalation is halted instead and ErrConflict is returned. The
	// intent's sequence number is assigned here, monotonically per
	// alert.
	Fire(ctx context.Context, f FireStep) (*models.DeliveryIntent, error)
}

// IntentRepository defines read/consume operations on the delivery
// intent outbox.
type IntentRepository interface {
	GetByID(ctx context.Context, id string) (*models.DeliveryIntent, error)
	List(ctx context.Context, unconsumedOnly bool, limit, offset int) ([]*models.DeliveryIntent, int64, error)
	ListByAlert(ctx context.Context, alertID string) ([]*models.DeliveryIntent, error)

	// Consume marks an intent as consumed by a notifier. A second
	// consume is a no-op.
	Consume(ctx context.Context, id string, ts time.Time) error

	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
