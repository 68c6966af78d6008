package api

import (
	"fmt"
	"net/http"

	"github.com/nookplot/hookgate/internal/registry"
)

// handleOpenAPI handles GET /openapi.json?agent={address}. Without an agent
// the document covers the static API surface; with one it also lists that
// agent's registered ingest paths.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	var regs []*registry.Registration
	var address string

	if address = r.URL.Query().Get("agent"); address != "" {
		ag, err := s.agents.ResolveAddress(r.Context(), address)
		if err != nil {
			s.writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		regs, err = s.regs.List(r.Context(), ag.ID)
		if err != nil {
			s.logger.Error("failed to list webhooks for openapi doc", "agent", address, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to build document")
			return
		}
	}

	respondJSON(w, http.StatusOK, buildOpenAPIDoc(address, regs))
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the gateway,
// optionally including one agent's concrete ingest paths.
func buildOpenAPIDoc(address string, regs []*registry.Registration) map[string]any {
	paths := map[string]any{
		"/webhooks/{agentAddress}/{source}": map[string]any{
			"post": map[string]any{
				"operationId": "ingestWebhook",
				"summary":     "Deliver a provider webhook to an agent",
				"responses": map[string]any{
					"200": map[string]any{"description": "Delivered or deduplicated"},
					"401": map[string]any{"description": "Signature or timestamp verification failed"},
					"403": map[string]any{"description": "Inactive registration or replay window exceeded"},
					"404": map[string]any{"description": "Unknown agent or source"},
					"413": map[string]any{"description": "Payload too large"},
					"429": map[string]any{"description": "Rate limit exceeded"},
				},
			},
		},
		"/agents/{address}/webhooks/{source}": map[string]any{
			"put":    operation("registerWebhook", "Create or replace a webhook registration"),
			"get":    operation("getWebhook", "Fetch one webhook registration"),
			"delete": operation("removeWebhook", "Remove a webhook registration"),
		},
		"/agents/{address}/webhooks": map[string]any{
			"get": operation("listWebhooks", "List an agent's webhook registrations"),
		},
		"/agents/{address}/log": map[string]any{
			"get": operation("eventLog", "Page through an agent's webhook event log"),
		},
		"/agents/{address}/events": map[string]any{
			"get": operation("eventStream", "Subscribe to an agent's live event stream (SSE)"),
		},
	}

	for _, reg := range regs {
		if !reg.Active {
			continue
		}
		path := fmt.Sprintf("/webhooks/%s/%s", address, reg.Source)
		paths[path] = map[string]any{
			"post": map[string]any{
				"operationId": fmt.Sprintf("ingest__%s", reg.Source),
				"summary":     fmt.Sprintf("Deliver a %s webhook", reg.Source),
				"tags":        []string{reg.Source},
				"responses": map[string]any{
					"200": map[string]any{"description": "Delivered or deduplicated"},
				},
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Hookgate",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func operation(id, summary string) map[string]any {
	return map[string]any{
		"operationId": id,
		"summary":     summary,
		"responses": map[string]any{
			"200": map[string]any{"description": "OK"},
			"401": map[string]any{"description": "Unauthorized"},
			"403": map[string]any{"description": "Insufficient scope"},
			"404": map[string]any{"description": "Not found"},
		},
		"security": []any{map[string]any{"BearerAuth": []string{}}},
	}
}
