package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/calm-otter-ops/siren/internal/models"
	"github.com/calm-otter-ops/siren/internal/storage"
)

// PoliciesHandler serves escalation policy admin.
type PoliciesHandler struct {
	storage storage.Storage
}

// NewPoliciesHandler creates a policies handler.
func NewPoliciesHandler(store storage.Storage) *PoliciesHandler {
	return &PoliciesHandler{storage: store}
}

// StepRequest is one policy step with the wait as a duration string
// such as "5m" or "1h30m".
type StepRequest struct {
	Wait      string              `json:"wait"`
	Responder models.ResponderRef `json:"responder"`
	Channel   string              `json:"channel"`
}

// PolicyRequest is the create/update payload.
type PolicyRequest struct {
	Name  string        `json:"name"`
	Steps []StepRequest `json:"steps"`
}

// StepResponse mirrors StepRequest for output.
type StepResponse struct {
	Wait      string              `json:"wait"`
	Responder models.ResponderRef `json:"responder"`
	Channel   string              `json:"channel"`
}

// PolicyResponse is a policy with durations rendered as strings.
type PolicyResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Steps     []StepResponse `json:"steps"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

func (req *PolicyRequest) toModel() (*models.EscalationPolicy, error) {
	policy := &models.EscalationPolicy{
		Name:  req.Name,
		Steps: make([]models.PolicyStep, len(req.Steps)),
	}
	for i, s := range req.Steps {
		wait, err := time.ParseDuration(s.Wait)
		if err != nil {
			return nil, err
		}
		policy.Steps[i] = models.PolicyStep{
			Wait:      wait,
			Responder: s.Responder,
			Channel:   models.ChannelKind(s.Channel),
		}
	}
	return policy, nil
}

func policyToResponse(p *models.EscalationPolicy) *PolicyResponse {
	steps := make([]StepResponse, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = StepResponse{
			Wait:      s.Wait.String(),
			Responder: s.Responder,
			Channel:   string(s.Channel),
		}
	}
	return &PolicyResponse{
		ID:        p.ID,
		Name:      p.Name,
		Steps:     steps,
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
		UpdatedAt: p.UpdatedAt.Format(time.RFC3339),
	}
}

// List handles GET /api/v1/policies.
func (h *PoliciesHandler) List(w http.ResponseWriter, r *http.Request) {
	policies, err := h.storage.Policies().List(r.Context())
	if err != nil {
		storageError(w, "list policies", err)
		return
	}
	resp := make([]*PolicyResponse, len(policies))
	for i, p := range policies {
		resp[i] = policyToResponse(p)
	}
	jsonOK(w, resp)
}

// Create handles POST /api/v1/policies.
func (h *PoliciesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	policy, err := req.toModel()
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid step wait: "+err.Error())
		return
	}
	if err := policy.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	now := time.Now().UTC()
	policy.ID = uuid.New().String()
	policy.CreatedAt = now
	policy.UpdatedAt = now

	if err := h.storage.Policies().Create(r.Context(), policy); err != nil {
		storageError(w, "create policy", err)
		return
	}
	jsonCreated(w, policyToResponse(policy))
}

// GetByID handles GET /api/v1/policies/{id}.
func (h *PoliciesHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "policy id required")
		return
	}
	policy, err := h.storage.Policies().GetByID(r.Context(), id)
	if err != nil {
		storageError(w, "get policy", err)
		return
	}
	jsonOK(w, policyToResponse(policy))
}

// Update handles PUT /api/v1/policies/{id}. Existing alerts keep
// their frozen snapshot; only future alerts see the new steps.
func (h *PoliciesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "policy id required")
		return
	}

	var req PolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "invalid request body")
		return
	}

	existing, err := h.storage.Policies().GetByID(r.Context(), id)
	if err != nil {
		storageError(w, "update policy: get", err)
		return
	}

	policy, err := req.toModel()
	if err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, "invalid step wait: "+err.Error())
		return
	}
	if err := policy.Validate(); err != nil {
		jsonError(w, http.StatusBadRequest, errCodeValidationFailed, err.Error())
		return
	}

	policy.ID = existing.ID
	policy.CreatedAt = existing.CreatedAt
	policy.UpdatedAt = time.Now().UTC()

	if err := h.storage.Policies().Update(r.Context(), policy); err != nil {
		storageError(w, "update policy", err)
		return
	}
	jsonOK(w, policyToResponse(policy))
}

// Delete handles DELETE /api/v1/policies/{id}.
func (h *PoliciesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "policy id required")
		return
	}
	if err := h.storage.Policies().Delete(r.Context(), id); err != nil {
		storageError(w, "delete policy", err)
		return
	}
	jsonNoContent(w)
}
