// Package models defines domain models for Siren.
package models

import "time"

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity converts a string to Severity.
func ParseSeverity(s string) Severity {
	switch s {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityMedium
	}
}

// Valid reports whether the severity is one of the known levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertState represents the lifecycle state of an alert.
type AlertState string

const (
	StateNew           AlertState = "new"
	StateAcknowledged  AlertState = "acknowledged"
	StateInvestigating AlertState = "investigating"
	StateResolved      AlertState = "resolved"
	StateClosed        AlertState = "closed"
)

// Valid reports whether the state is one of the known lifecycle states.
func (s AlertState) Valid() bool {
	switch s {
	case StateNew, StateAcknowledged, StateInvestigating, StateResolved, StateClosed:
		return true
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s AlertState) Terminal() bool {
	return s == StateResolved || s == StateClosed
}

// Alert represents one logical incident, deduplicated by fingerprint.
// At most one non-terminal alert exists per fingerprint; repeated
// detections bump OccurrenceCount and LastSeen instead of creating a
// new alert.
type Alert struct {
	ID              string            `json:"id"`
	Fingerprint     string            `json:"fingerprint"`
	Source          string            `json:"source"`
	Signature       string            `json:"signature"`
	Severity        Severity          `json:"severity"`
	State           AlertState        `json:"state"`
	OccurrenceCount int64             `json:"occurrence_count"`
	FirstSeen       time.Time         `json:"first_seen"`
	LastSeen        time.Time         `json:"last_seen"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	PolicyID        string            `json:"policy_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// StateRecord is one append-only entry of an alert's transition history.
type StateRecord struct {
	ID        string     `json:"id"`
	AlertID   string     `json:"alert_id"`
	FromState AlertState `json:"from_state"`
	ToState   AlertState `json:"to_state"`
	Actor     string     `json:"actor"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SystemActor is the actor recorded on transitions performed by the
// engine itself rather than an identified human.
const SystemActor = "system"
