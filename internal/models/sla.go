package models

import "time"

// SLATargets are the time-to-acknowledge and time-to-resolve targets
// for one severity level.
type SLATargets struct {
	TTA time.Duration `json:"tta" yaml:"tta"`
	TTR time.Duration `json:"ttr" yaml:"ttr"`
}

// SLARecord tracks one alert's SLA clocks. Targets are frozen at alert
// creation and never change, even if the alert's severity is edited
// later. Breach flags are monotonic: once set they stay set.
type SLARecord struct {
	AlertID        string        `json:"alert_id"`
	Severity       Severity      `json:"severity"`
	TTATarget      time.Duration `json:"tta_target"`
	TTRTarget      time.Duration `json:"ttr_target"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
	TTABreached    bool          `json:"tta_breached"`
	TTRBreached    bool          `json:"ttr_breached"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SLACompliance is a point-in-time view of an alert's SLA clocks. For
// clocks that have not stopped yet, Elapsed is measured against "now".
type SLACompliance struct {
	AlertID     string        `json:"alert_id"`
	TTATarget   time.Duration `json:"tta_target"`
	TTAElapsed  time.Duration `json:"tta_elapsed"`
	TTABreached bool          `json:"tta_breached"`
	TTRTarget   time.Duration `json:"ttr_target"`
	TTRElapsed  time.Duration `json:"ttr_elapsed"`
	TTRBreached bool          `json:"ttr_breached"`
}
