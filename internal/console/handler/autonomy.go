package handler

import (
	"encoding/json"
	"net/http"

	"github.com/xela07ax/map-control-plane/internal/console/service"
	"github.com/xela07ax/map-control-plane/internal/domain"
	"github.com/xela07ax/map-control-plane/internal/infra"
)

type AutonomyHandler struct {
	service *service.OrchestrationService
}

func NewAutonomyHandler(s *service.OrchestrationService) *AutonomyHandler {
	return &AutonomyHandler{service: s}
}

// State отдает последнее известное состояние петли
// GET /api/devtools/autonomy
func (h *AutonomyHandler) State(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.service.LoopState(r.Context()))
}

type controlRequest struct {
	Action string `json:"action"` // pause | resume
}

// Control шлет петле управляющий сигнал и отвечает подтвержденным состоянием
// POST /api/devtools/autonomy
func (h *AutonomyHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.service.ControlAutonomy(r.Context(), req.Action); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	want := domain.LoopPaused
	if req.Action == infra.AutonomySignalResume {
		want = domain.LoopIdle
	}
	state := h.service.AwaitState(r.Context(), want)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(state)
}
