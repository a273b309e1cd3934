package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/calm-otter-ops/siren/internal/ingest"
	"github.com/calm-otter-ops/siren/internal/metrics"
	"github.com/calm-otter-ops/siren/internal/models"
)

// DetectionsHandler accepts raw detections from monitoring producers.
type DetectionsHandler struct {
	ingestor *ingest.Ingestor
}

// NewDetectionsHandler creates a detections handler.
func NewDetectionsHandler(ingestor *ingest.Ingestor) *DetectionsHandler {
	return &DetectionsHandler{ingestor: ingestor}
}

// DetectionRequest is the ingest payload.
type DetectionRequest struct {
	Source     string            `json:"source"`
	Signature  string            `json:"signature"`
	Severity   string            `json:"severity,omitempty"`
	ObservedAt string            `json:"observed_at,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// IngestResponse reports what the detection became.
type IngestResponse struct {
	AlertID         string `json:"alert_id"`
	Outcome         string `json:"outcome"` // "created" or "bumped"
	OccurrenceCount int64  `json:"occurrence_count"`
}

// Ingest handles POST /api/v1/detections.
func (h *DetectionsHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	var req DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}
	if req.Source == "" || req.Signature == "" {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "source and signature are required")
		return
	}
	if req.Severity != "" && !models.Severity(req.Severity).Valid() {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "severity must be low, medium, high, or critical")
		return
	}

	det := &models.Detection{
		Source:    req.Source,
		Signature: req.Signature,
		Severity:  models.ParseSeverity(req.Severity),
		Metadata:  req.Metadata,
	}
	if req.ObservedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.ObservedAt)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "observed_at must be RFC3339")
			return
		}
		det.ObservedAt = ts
	}

	result, err := h.ingestor.Ingest(r.Context(), det)
	if err != nil {
		metrics.DetectionsIngested.WithLabelValues("error").Inc()
		storageError(w, "ingest detection", err)
		return
	}

	outcome := "bumped"
	status := jsonOK
	if result.Created {
		outcome = "created"
		status = jsonCreated
	}
	metrics.DetectionsIngested.WithLabelValues(outcome).Inc()

	status(w, IngestResponse{
		AlertID:         result.AlertID,
		Outcome:         outcome,
		OccurrenceCount: result.OccurrenceCount,
	})
}
