package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calm-otter-ops/siren/internal/storage"
)

// IntentsHandler exposes the delivery intent outbox to notifiers.
type IntentsHandler struct {
	storage storage.Storage
}

// NewIntentsHandler creates an intents handler.
func NewIntentsHandler(store storage.Storage) *IntentsHandler {
	return &IntentsHandler{storage: store}
}

// List handles GET /api/v1/intents. Notifiers poll with
// ?unconsumed=true and acknowledge each intent via Consume.
func (h *IntentsHandler) List(w http.ResponseWriter, r *http.Request) {
	unconsumedOnly := r.URL.Query().Get("unconsumed") == "true"
	limit, offset := pagination(r, 100, 1000)

	intents, total, err := h.storage.Intents().List(r.Context(), unconsumedOnly, limit, offset)
	if err != nil {
		storageError(w, "list intents", err)
		return
	}
	jsonOK(w, paginatedResponse{Items: intents, Total: total, Limit: limit, Offset: offset})
}

// GetByID handles GET /api/v1/intents/{id}.
func (h *IntentsHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "intent id required")
		return
	}
	intent, err := h.storage.Intents().GetByID(r.Context(), id)
	if err != nil {
		storageError(w, "get intent", err)
		return
	}
	jsonOK(w, intent)
}

// ListByAlert handles GET /api/v1/alerts/{id}/intents.
func (h *IntentsHandler) ListByAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "alert id required")
		return
	}
	intents, err := h.storage.Intents().ListByAlert(r.Context(), id)
	if err != nil {
		storageError(w, "list alert intents", err)
		return
	}
	jsonOK(w, intents)
}

// Consume handles POST /api/v1/intents/{id}/consume. Consuming twice
// is a no-op, so notifier retries are safe.
func (h *IntentsHandler) Consume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		jsonError(w, http.StatusBadRequest, errCodeBadRequest, "intent id required")
		return
	}
	if err := h.storage.Intents().Consume(r.Context(), id, time.Now().UTC()); err != nil {
		storageError(w, "consume intent", err)
		return
	}
	intent, err := h.storage.Intents().GetByID(r.Context(), id)
	if err != nil {
		storageError(w, "consume intent: re-read", err)
		return
	}
	jsonOK(w, intent)
}
