package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nookplot/hookgate/internal/agent"
	"github.com/nookplot/hookgate/internal/ingest"
	"github.com/nookplot/hookgate/internal/registry"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleIngest handles POST /webhooks/{agentAddress}/{source}: the public
// endpoint providers deliver to. All verification happens in the pipeline;
// this handler only shuttles bytes and maps the outcome to HTTP.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	agentAddress := chi.URLParam(r, "agentAddress")
	source := chi.URLParam(r, "source")

	// Read one byte past the cap so the pipeline can tell "at the limit"
	// from "over it" without the handler buffering unbounded bodies.
	body, err := io.ReadAll(io.LimitReader(r.Body, ingest.MaxPayloadBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	if err := s.pipeline.HandleIncoming(r.Context(), agentAddress, source, r.Header, body); err != nil {
		var whErr *ingest.WebhookError
		if errors.As(err, &whErr) {
			if whErr.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(whErr.RetryAfter.Seconds())))
			}
			s.writeError(w, whErr.Status, whErr.Message)
			return
		}
		s.logger.Error("webhook processing failed", "agent", agentAddress, "source", source, "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, IngestResponse{Status: "delivered"})
}

// handleCreateAgent handles POST /agents.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req CreateAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		s.writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	ag, err := s.agents.Create(r.Context(), req.Address, req.Name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			s.writeError(w, http.StatusConflict, "agent address already exists")
			return
		}
		s.logger.Error("failed to create agent", "address", req.Address, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	respondJSON(w, http.StatusCreated, agentResponse(ag))
}

// handleGetAgent handles GET /agents/{address}.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	ag, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, agentResponse(ag))
}

// handleRegisterWebhook handles PUT /agents/{address}/webhooks/{source}.
// PUT is an upsert: re-registering an existing source replaces its config
// and reactivates it.
func (s *Server) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	ag, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}
	source := chi.URLParam(r, "source")

	var req RegisterWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	reg, err := s.regs.Register(r.Context(), ag.ID, source, registry.Config{
		Secret:          req.Secret,
		SignatureHeader: req.SignatureHeader,
		TimestampHeader: req.TimestampHeader,
		MaxAgeSeconds:   req.MaxAgeSeconds,
		EventMapping:    req.EventMapping,
	})
	if errors.Is(err, registry.ErrInvalidSource) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to register webhook", "agent", ag.Address, "source", source, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to register webhook")
		return
	}

	// A rotated secret must take effect immediately, not after cache expiry.
	s.pipeline.InvalidateSecret(ag.ID, source)

	s.logger.Info("webhook registered", "agent", ag.Address, "source", source)
	respondJSON(w, http.StatusOK, webhookResponse(reg))
}

// handleListWebhooks handles GET /agents/{address}/webhooks.
func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	ag, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}

	regs, err := s.regs.List(r.Context(), ag.ID)
	if err != nil {
		s.logger.Error("failed to list webhooks", "agent", ag.Address, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list webhooks")
		return
	}

	resp := WebhookListResponse{Webhooks: make([]WebhookResponse, 0, len(regs))}
	for _, reg := range regs {
		resp.Webhooks = append(resp.Webhooks, webhookResponse(reg))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetWebhook handles GET /agents/{address}/webhooks/{source}.
func (s *Server) handleGetWebhook(w http.ResponseWriter, r *http.Request) {
	ag, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}
	source := chi.URLParam(r, "source")

	reg, err := s.regs.Get(r.Context(), ag.ID, source)
	if errors.Is(err, registry.ErrRegistrationNotFound) {
		s.writeError(w, http.StatusNotFound, "webhook registration not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load webhook", "agent", ag.Address, "source", source, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load webhook")
		return
	}
	respondJSON(w, http.StatusOK, webhookResponse(reg))
}

// handleRemoveWebhook handles DELETE /agents/{address}/webhooks/{source}.
func (s *Server) handleRemoveWebhook(w http.ResponseWriter, r *http.Request) {
	ag, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}
	source := chi.URLParam(r, "source")

	removed, err := s.regs.Remove(r.Context(), ag.ID, source)
	if err != nil {
		s.logger.Error("failed to remove webhook", "agent", ag.Address, "source", source, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to remove webhook")
		return
	}
	if !removed {
		s.writeError(w, http.StatusNotFound, "webhook registration not found")
		return
	}

	s.pipeline.InvalidateSecret(ag.ID, source)

	s.logger.Info("webhook removed", "agent", ag.Address, "source", source)
	w.WriteHeader(http.StatusNoContent)
}

// handleEventLog handles GET /agents/{address}/log?page=&limit=.
func (s *Server) handleEventLog(w http.ResponseWriter, r *http.Request) {
	ag, ok := s.resolveAgent(w, r)
	if !ok {
		return
	}

	page := parsePositiveInt(r.URL.Query().Get("page"), 1)
	limit := parsePositiveInt(r.URL.Query().Get("limit"), 50)

	entries, err := s.auditLog.List(r.Context(), ag.ID, page, limit)
	if err != nil {
		s.logger.Error("failed to list event log", "agent", ag.Address, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list event log")
		return
	}

	resp := EventLogResponse{
		Entries: make([]EventLogEntry, 0, len(entries)),
		Page:    page,
		Limit:   limit,
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, EventLogEntry{
			ID:             e.ID,
			Source:         e.Source,
			EventType:      e.EventType,
			Status:         string(e.Status),
			PayloadSize:    e.PayloadSize,
			ErrorMessage:   e.ErrorMessage,
			IdempotencyKey: e.IdempotencyKey,
			CreatedAt:      e.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// resolveAgent loads the agent from the {address} URL param, writing a 404
// on failure.
func (s *Server) resolveAgent(w http.ResponseWriter, r *http.Request) (*agent.Agent, bool) {
	address := chi.URLParam(r, "address")
	ag, err := s.agents.ResolveAddress(r.Context(), address)
	if errors.Is(err, agent.ErrAgentNotFound) {
		s.writeError(w, http.StatusNotFound, "agent not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to resolve agent", "address", address, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to resolve agent")
		return nil, false
	}
	return ag, true
}

func agentResponse(ag *agent.Agent) AgentResponse {
	return AgentResponse{
		ID:        ag.ID,
		Address:   ag.Address,
		Name:      ag.Name,
		CreatedAt: ag.CreatedAt,
	}
}

func webhookResponse(reg *registry.Registration) WebhookResponse {
	maxAge := reg.Config.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = registry.DefaultMaxAgeSeconds
	}
	return WebhookResponse{
		Source:          reg.Source,
		Active:          reg.Active,
		HasSecret:       reg.Config.HasSecret(),
		SignatureHeader: reg.Config.SignatureHeader,
		TimestampHeader: reg.Config.TimestampHeader,
		MaxAgeSeconds:   maxAge,
		EventMapping:    reg.Config.EventMapping,
		CreatedAt:       reg.CreatedAt,
		UpdatedAt:       reg.UpdatedAt,
	}
}

func parsePositiveInt(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
