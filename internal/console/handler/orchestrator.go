package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xela07ax/map-control-plane/internal/console/service"
)

type OrchestratorHandler struct {
	service *service.OrchestrationService
}

func NewOrchestratorHandler(s *service.OrchestrationService) *OrchestratorHandler {
	return &OrchestratorHandler{service: s}
}

// Overview возвращает агрегированное состояние оркестрации
// GET /api/ai/orchestrator?limit=25
func (h *OrchestratorHandler) Overview(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	overview, err := h.service.Overview(r.Context(), limit)
	if err != nil {
		http.Error(w, "Failed to load orchestrator overview", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(overview)
}
