package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/oncall"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// SchedulesHandler serves on-call schedule admin and resolution.
type SchedulesHandler struct {
	storage storage.Storage
}

// NewSchedulesHandler creates a schedules handler.
func NewSchedulesHandler(store storage.Storage) *SchedulesHandler {
	return &SchedulesHandler{storage: store}
}

// ScheduleRequest is the create/update payload. Durations are strings
// such as "168h" for a weekly rotation.
type ScheduleRequest struct {
	Name           string   `json:"name"`
	Members        []string `json:"members"`
	RotationPeriod string   `json:"rotation_period"`
	Anchor         string   `json:"anchor"`
	HandoffOverlap string   `json:"handoff_overlap,omitempty"`
}

// ScheduleResponse is a schedule with durations rendered as strings.
type ScheduleResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Members        []string `json:"members"`
	RotationPeriod string   `json:"rotation_period"`
	Anchor         string   `json:"anchor"`
	HandoffOverlap string   `json:"handoff_overlap"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

// OnCallResponse answers "who is on call at instant t".
type OnCallResponse struct {
	ScheduleID string   `json:"schedule_id"`
	At         string   `json:"at"`
	Members    []string `json:"members"`
}

func (req *ScheduleRequest) toModel() (*models.OnCallSchedule, error) {
	period, err := time.ParseDuration(req.RotationPeriod)
	if err != nil {
		return nil, err
	}
	var overlap time.Duration
	if req.HandoffOverlap != "" {
		overlap, err = time.ParseDuration(req.HandoffOverlap)
		if err != nil {
			return nil, err
		}
	}
	var anchor time.Time
	if req.Anchor != "" {
		anchor, err = time.Parse(time.RFC3339, req.Anchor)
		if err != nil {
			return nil, err
		}
	}
	return &models.OnCallSchedule{
		Name:           req.Name,
		Members:        req.Members,
		RotationPeriod: period,
		Anchor:         anchor,
		HandoffOverlap: overlap,
	}, nil
}

func scheduleToResponse(s *models.OnCallSchedule) *ScheduleResponse {
	return &ScheduleResponse{
		ID:             s.ID,
		Name:           s.Name,
		Members:        s.Members,
		RotationPeriod: s.RotationPeriod.String(),
		Anchor:         s.Anchor.Format(time.RFC3339),
		HandoffOverlap: s.HandoffOverlap.String(),
		CreatedAt:      s.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      s.UpdatedAt.Format(time.RFC3339),
	}
}

// List handles GET /api/v1/schedules.
func (h *SchedulesHandler) List(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.storage.Schedules().List(r.Context())
	if err != nil {
		storageError(w, "list schedules", err)
		return
	}
	resp := make([]*ScheduleResponse, len(schedules))
	for i, s := range schedules {
		resp[i] = scheduleToResponse(s)
	}
	jsonOK(w, resp)
}

// Create handles POST /api/v1/schedules.
func (h *SchedulesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	schedule, err := req.toModel()
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid schedule field: "+err.Error())
		return
	}
	if err := schedule.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	now := time.Now().UTC()
	schedule.ID = uuid.New().String()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	if err := h.storage.Schedules().Create(r.Context(), schedule); err != nil {
		storageError(w, "create schedule", err)
		return
	}
	jsonCreated(w, scheduleToResponse(schedule))
}

// GetByID handles GET /api/v1/schedules/{id}.
func (h *SchedulesHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "schedule id required")
		return
	}
	schedule, err := h.storage.Schedules().GetByID(r.Context(), id)
	if err != nil {
		storageError(w, "get schedule", err)
		return
	}
	jsonOK(w, scheduleToResponse(schedule))
}

// Update handles PUT /api/v1/schedules/{id}.
func (h *SchedulesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "schedule id required")
		return
	}

	var req ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	existing, err := h.storage.Schedules().GetByID(r.Context(), id)
	if err != nil {
		storageError(w, "update schedule: get", err)
		return
	}

	schedule, err := req.toModel()
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid schedule field: "+err.Error())
		return
	}
	if err := schedule.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	schedule.ID = existing.ID
	schedule.CreatedAt = existing.CreatedAt
	schedule.UpdatedAt = time.Now().UTC()

	if err := h.storage.Schedules().Update(r.Context(), schedule); err != nil {
		storageError(w, "update schedule", err)
		return
	}
	jsonOK(w, scheduleToResponse(schedule))
}

// Delete handles DELETE /api/v1/schedules/{id}.
func (h *SchedulesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "schedule id required")
		return
	}
	if err := h.storage.Schedules().Delete(r.Context(), id); err != nil {
		storageError(w, "delete schedule", err)
		return
	}
	jsonNoContent(w)
}

// OnCall handles GET /api/v1/schedules/{id}/oncall?at=RFC3339. With no
// "at" param it answers for the current time. Useful for audit replay:
// the same instant always yields the same members.
func (h *SchedulesHandler) OnCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "schedule id required")
		return
	}

	at := time.Now().UTC()
	if v := r.URL.Query().Get("at"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "at must be RFC3339")
			return
		}
		at = ts
	}

	schedule, err := h.storage.Schedules().GetByID(r.Context(), id)
	if err != nil {
		storageError(w, "oncall: get schedule", err)
		return
	}

	members, err := oncall.ResolveAt(schedule, at)
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	jsonOK(w, OnCallResponse{
		ScheduleID: schedule.ID,
		At:         at.Format(time.RFC3339),
		Members:    members,
	})
}
