package models

import (
	"fmt"
	"time"
)

// OnCallSchedule is a rotation: an ordered list of members taking
// turns of RotationPeriod starting at Anchor. HandoffOverlap widens
// each hand-off so that the outgoing member stays on call for a short
// window into the next period.
type OnCallSchedule struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Members        []string      `json:"members"`
	RotationPeriod time.Duration `json:"rotation_period"`
	Anchor         time.Time     `json:"anchor"`
	HandoffOverlap time.Duration `json:"handoff_overlap"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Validate checks the schedule for structural errors.
func (s *OnCallSchedule) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if len(s.Members) == 0 {
		return fmt.Errorf("schedule must have at least one member")
	}
	for i, m := range s.Members {
		if m == "" {
			return fmt.Errorf("member %d: name is required", i)
		}
	}
	if s.RotationPeriod <= 0 {
		return fmt.Errorf("rotation period must be positive")
	}
	if s.HandoffOverlap < 0 {
		return fmt.Errorf("handoff overlap must be non-negative")
	}
	if s.HandoffOverlap >= s.RotationPeriod {
		return fmt.Errorf("handoff overlap must be shorter than the rotation period")
	}
	if s.Anchor.IsZero() {
		return fmt.Errorf("anchor timestamp is required")
	}
	return nil
}
