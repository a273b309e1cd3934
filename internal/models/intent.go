package models

import "time"

// DeliveryIntent is a durable decision to notify someone about an
// alert. Actual message transport is external; notifiers poll the
// intent outbox and mark intents consumed. Sequence is monotonically
// increasing per alert so notifiers can deduplicate retried reads.
type DeliveryIntent struct {
	ID         string      `json:"id"`
	AlertID    string      `json:"alert_id"`
	Sequence   int64       `json:"sequence"`
	Step       int         `json:"step"`
	Responders []string    `json:"responders"`
	Channel    ChannelKind `json:"channel"`
	FiredAt    time.Time   `json:"fired_at"`
	ConsumedAt *time.Time  `json:"consumed_at,omitempty"`
}

// EscalationState is the per-alert escalation cursor. CurrentStep is
// the index of the policy step whose wait is currently running;
// StepEnteredAt is when that wait started. PolicySnapshot freezes the
// policy the alert was created under, so later policy edits only
// affect future alerts.
type EscalationState struct {
	AlertID       string           `json:"alert_id"`
	Policy        EscalationPolicy `json:"policy"`
	CurrentStep   int              `json:"current_step"`
	StepEnteredAt time.Time        `json:"step_entered_at"`
	LastSequence  int64            `json:"last_sequence"`
	Halted        bool             `json:"halted"`
}
