package federation

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/map-control-plane/internal/domain"
)

// API — HTTP-поверхность федерации на стороне mapd.
// Маршруты монтируются под /federation и защищаются bearer-middleware
// в конвейере сервера, не здесь.
type API struct {
	bus    *Bus
	agent  *Agent
	logger *zap.Logger
}

func NewAPI(bus *Bus, agent *Agent, logger *zap.Logger) *API {
	return &API{bus: bus, agent: agent, logger: logger}
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/events", a.ingest)
	r.Get("/status", a.status)
	r.Post("/status", a.broadcast)
	r.Get("/insight", a.insight)
	return r
}

// ingest принимает подписанный конверт от peer-тенанта.
// Конверт с битой подписью отвергается до любых побочных эффектов.
// POST /federation/events
func (a *API) ingest(w http.ResponseWriter, r *http.Request) {
	var event domain.FederationEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := a.bus.Ingest(r.Context(), event); err != nil {
		if errors.Is(err, ErrSignatureMismatch) {
			a.logger.Warn("federation event rejected",
				zap.String("tenant_id", event.TenantID),
				zap.String("event_type", event.Type))
			http.Error(w, "signature mismatch", http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

type statusResponse struct {
	Status       domain.FederationStatus     `json:"status"`
	Insight      domain.GlobalInsight        `json:"insight"`
	History      []domain.FederationSnapshot `json:"history"`
	TrustHistory []trustPoint                `json:"trust_history"`
}

// trustPoint — одна точка локальной trust-истории для графика дашборда.
type trustPoint struct {
	TrustScore int       `json:"trust_score"`
	At         time.Time `json:"at"`
}

// status отдает видимое состояние шины вместе с глобальным анализом,
// историей локальных снимков и выжимкой trust-динамики.
// GET /federation/status
func (a *API) status(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, a.bus, a.agent)
}

// broadcast форсирует внеочередной цикл обмена и отвечает той же формой,
// что и GET.
// POST /federation/status
func (a *API) broadcast(w http.ResponseWriter, r *http.Request) {
	if _, err := a.agent.BroadcastLocalSnapshot(r.Context()); err != nil {
		a.logger.Error("manual federation broadcast failed", zap.Error(err))
		http.Error(w, "broadcast failed", http.StatusInternalServerError)
		return
	}
	writeStatus(w, a.bus, a.agent)
}

func writeStatus(w http.ResponseWriter, bus *Bus, agent *Agent) {
	history := agent.History()
	trustHistory := make([]trustPoint, 0, len(history))
	for _, s := range history {
		trustHistory = append(trustHistory, trustPoint{TrustScore: s.TrustScore, At: s.UpdatedAt})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statusResponse{
		Status:       bus.Status(),
		Insight:      agent.Insight(),
		History:      history,
		TrustHistory: trustHistory,
	})
}

// insight отдает последний глобальный анализ сети федерации.
// GET /federation/insight
func (a *API) insight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"insight":   a.agent.Insight(),
		"snapshots": a.agent.Snapshots(),
	})
}
