package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/map-control-plane/internal/console/service"
	"github.com/xela07ax/map-control-plane/internal/domain"
)

type ActionHandler struct {
	service *service.ActionService
}

func NewActionHandler(s *service.ActionService) *ActionHandler {
	return &ActionHandler{service: s}
}

// List возвращает аудит автономных действий организации с квотой
// GET /api/ai/actions?organization_id=...&limit=50
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	organizationID := r.URL.Query().Get("organization_id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	actions, usage, err := h.service.List(r.Context(), organizationID, limit)
	if err != nil {
		http.Error(w, "Failed to list auto actions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"actions": actions,
		"usage":   usage,
	})
}

type revertRequest struct {
	Reason string `json:"reason"`
}

// Revert откатывает примененное действие
// POST /api/ai/actions/{id}/revert
func (h *ActionHandler) Revert(w http.ResponseWriter, r *http.Request) {
	actionID := chi.URLParam(r, "id")

	var req revertRequest
	// Тело опционально: пустая причина заменяется дефолтной
	_ = json.NewDecoder(r.Body).Decode(&req)

	if err := h.service.Revert(r.Context(), actionID, req.Reason); err != nil {
		if errors.Is(err, domain.ErrActionNotFound) {
			http.Error(w, "Action not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to revert action", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
