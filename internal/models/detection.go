package models

import "time"

// Detection is a raw anomaly report from an external producer, before
// deduplication. Source and Signature together identify "the same
// logical problem"; everything else is free-form context.
type Detection struct {
	Source     string            `json:"source"`
	Signature  string            `json:"signature"`
	Severity   Severity          `json:"severity"`
	ObservedAt time.Time         `json:"observed_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IngestResult reports what happened to an ingested detection.
type IngestResult struct {
	AlertID         string `json:"alert_id"`
	Created         bool   `json:"created"`
	OccurrenceCount int64  `json:"occurrence_count"`
}
