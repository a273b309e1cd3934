package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/calm-otter-ops/siren/internal/api/middleware"
	"github.com/calm-otter-ops/siren/internal/lifecycle"
	"github.com/calm-otter-ops/siren/internal/metrics"
	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/sla"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// AlertsHandler serves alert reads and lifecycle transitions.
type AlertsHandler struct {
	storage storage.Storage
	machine *lifecycle.Machine
	tracker *sla.Tracker
}

// NewAlertsHandler creates an alerts handler.
func NewAlertsHandler(store storage.Storage, machine *lifecycle.Machine, tracker *sla.Tracker) *AlertsHandler {
	return &AlertsHandler{storage: store, machine: machine, tracker: tracker}
}

// TransitionRequest carries the optional operator note on a lifecycle
// transition.
type TransitionRequest struct {
	Note string `json:"note,omitempty"`
}

// List handles GET /api/v1/alerts with state/severity/fingerprint
// filters and limit/offset pagination.
func (h *AlertsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.AlertFilter{Fingerprint: q.Get("fingerprint")}

	if v := q.Get("state"); v != "" {
		state := models.AlertState(v)
		if !state.Valid() {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "unknown state filter")
			return
		}
		filter.State = state
	}
	if v := q.Get("severity"); v != "" {
		severity := models.Severity(v)
		if !severity.Valid() {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "unknown severity filter")
			return
		}
		filter.Severity = severity
	}
	filter.Limit, filter.Offset = pagination(r, 50, 500)

	alerts, total, err := h.storage.Alerts().List(r.Context(), filter)
	if err != nil {
		storageError(w, "list alerts", err)
		return
	}
	jsonOK(w, paginatedResponse{Items: alerts, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

// GetByID handles GET /api/v1/alerts/{id}.
func (h *AlertsHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}
	alert, err := h.storage.Alerts().GetByID(r.Context(), id)
	if err != nil {
		storageError(w, "get alert", err)
		return
	}
	jsonOK(w, alert)
}

// History handles GET /api/v1/alerts/{id}/history.
func (h *AlertsHandler) History(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}
	limit, offset := pagination(r, 100, 1000)

	records, total, err := h.storage.Alerts().History(r.Context(), id, limit, offset)
	if err != nil {
		storageError(w, "alert history", err)
		return
	}
	jsonOK(w, paginatedResponse{Items: records, Total: total, Limit: limit, Offset: offset})
}

// Compliance handles GET /api/v1/alerts/{id}/compliance. Running
// clocks are measured against the current time, so a target that has
// expired reads as breached even before the scheduler persists it.
func (h *AlertsHandler) Compliance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}
	view, err := h.tracker.Compliance(r.Context(), id)
	if err != nil {
		storageError(w, "sla compliance", err)
		return
	}
	jsonOK(w, view)
}

// Acknowledge handles POST /api/v1/alerts/{id}/acknowledge.
func (h *AlertsHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor, note string) (*models.Alert, error) {
		return h.machine.Acknowledge(r.Context(), id, actor, note)
	})
}

// Resolve handles POST /api/v1/alerts/{id}/resolve.
func (h *AlertsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor, note string) (*models.Alert, error) {
		return h.machine.Resolve(r.Context(), id, actor, note)
	})
}

// Close handles POST /api/v1/alerts/{id}/close.
func (h *AlertsHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor, note string) (*models.Alert, error) {
		return h.machine.Close(r.Context(), id, actor, note)
	})
}

// Investigate handles POST /api/v1/alerts/{id}/investigate.
func (h *AlertsHandler) Investigate(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(r *http.Request, id, actor, note string) (*models.Alert, error) {
		return h.machine.Transition(r.Context(), id, models.StateInvestigating, actor, note)
	})
}

func (h *AlertsHandler) transition(w http.ResponseWriter, r *http.Request, apply func(r *http.Request, id, actor, note string) (*models.Alert, error)) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}

	var req TransitionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
			return
		}
	}

	actor := middleware.ActorFrom(r.Context())
	if actor == "" {
		actor = models.SystemActor
	}

	alert, err := apply(r, id, actor, req.Note)
	if err != nil {
		storageError(w, "alert transition", err)
		return
	}

	metrics.Transitions.WithLabelValues(string(alert.State)).Inc()
	jsonOK(w, alert)
}
