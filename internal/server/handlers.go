package server

import (
	"net/http"
	"strconv"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"github.com/alphahunt-ai/alphahunt/internal/acp"
	"github.com/alphahunt-ai/alphahunt/internal/breaker"
	"github.com/alphahunt-ai/alphahunt/internal/broker"
	"github.com/alphahunt-ai/alphahunt/internal/model"
	"github.com/alphahunt-ai/alphahunt/internal/orchestrator"
)

type handlers struct {
	orch     *orchestrator.Orchestrator
	engine   *acp.Engine
	registry *orchestrator.Registry
	breakers *breaker.Registry
	events   *broker.Broker
	logger   *slog.Logger
	version  string
	maxBody  int64
}

type huntRequest struct {
	Topic string `json:"topic"`
}

// handleHunt runs a full hunt: fan-out across the registry, then the
// three-phase consensus round over whatever responded.
func (h *handlers) handleHunt(w http.ResponseWriter, r *http.Request) {
	var req huntRequest
	if err := decodeJSON(r, h.maxBody, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		writeError(w, r, http.StatusBadRequest, "topic is required")
		return
	}

	result := h.orch.HuntAll(r.Context(), req.Topic)
	round, err := h.engine.RunRound(r.Context(), req.Topic, result.Responses)
	if err != nil {
		h.logger.Error("hunt round failed", "topic", req.Topic, "error", err)
		writeError(w, r, http.StatusInternalServerError, "round failed")
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"round":  round,
		"rivals": result.Rivals,
		"stats":  result.Stats,
	})
}

func (h *handlers) handleListRounds(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)
	writeJSON(w, r, http.StatusOK, h.engine.Rounds(limit))
}

func (h *handlers) handleGetRound(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("round_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid round id")
		return
	}
	round, ok := h.engine.RoundByID(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "round not found")
		return
	}
	writeJSON(w, r, http.StatusOK, round)
}

func (h *handlers) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.engine.Leaderboard())
}

// agentView is the registry entry plus live breaker state.
type agentView struct {
	Key     string          `json:"key"`
	Kind    model.AgentKind `json:"kind"`
	Slot    string          `json:"slot,omitempty"`
	Price   float64         `json:"price"`
	Online  bool            `json:"online"`
	Breaker breaker.Status  `json:"breaker"`
}

func (h *handlers) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := h.registry.Agents()
	out := make([]agentView, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentView{
			Key:     a.Key(),
			Kind:    a.Kind(),
			Slot:    a.Slot(),
			Price:   a.Price(),
			Online:  a.Online(),
			Breaker: h.breakers.Status(a.Key()),
		})
	}
	writeJSON(w, r, http.StatusOK, out)
}

func (h *handlers) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("agent_key")
	if err := model.ValidateAgentKey(key); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, h.engine.StatsFor(key))
}

func (h *handlers) handleSlashLog(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	writeJSON(w, r, http.StatusOK, h.engine.SlashLog(page, perPage))
}

func (h *handlers) handleRewardLog(w http.ResponseWriter, r *http.Request) {
	page, perPage := pagination(r)
	writeJSON(w, r, http.StatusOK, h.engine.RewardLog(page, perPage))
}

func (h *handlers) handleProtocol(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, acp.Spec())
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       h.version,
		"agents":        len(h.registry.Agents()),
		"rounds":        h.engine.RoundCount(),
		"open_breakers": h.breakers.OpenCount(),
	})
}

func pagination(r *http.Request) (page, perPage int) {
	return queryInt(r, "page", 1), queryInt(r, "per_page", 50)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
