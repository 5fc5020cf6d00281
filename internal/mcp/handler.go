package mcp

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/akarpov/vulnlab/internal/identity"
)

const maxInspectBodySize = 64 << 10 // 64KB

// Handler serves MCP inspection requests.
type Handler struct {
	inspector *Inspector
}

// NewHandler creates the MCP HTTP handler.
func NewHandler(inspector *Inspector) *Handler {
	return &Handler{inspector: inspector}
}

// RegisterRoutes registers MCP routes (requires identity middleware).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/mcp", func(r chi.Router) {
		r.Post("/inspect", h.HandleInspect)
	})
}

// HandleInspect handles POST /api/mcp/inspect.
func (h *Handler) HandleInspect(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxInspectBodySize)

	var req InspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	result, err := h.inspector.Inspect(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrValidation) {
			status = http.StatusBadRequest
		} else {
			slog.Error("MCP inspection failed", "user_id", userID, "error", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if encErr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); encErr != nil {
			slog.Warn("failed to encode error response", "error", encErr)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		slog.Warn("failed to encode inspect response", "error", err)
	}
}
