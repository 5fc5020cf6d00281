package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/akarpov/vulnlab/internal/identity"
)

// WebSocketHandler serves queries over a WebSocket connection. Each text
// message from the client is one query request; the server answers with a
// session record followed by the message stream, so a single connection
// can carry a whole multi-turn conversation.
type WebSocketHandler struct {
	service       *Service
	rateLimiter   *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates the WebSocket query handler. rateLimiter is
// shared with the HTTP handler so both transports count against the same
// per-user budget.
func NewWebSocketHandler(service *Service, rateLimiter *RateLimiter, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		service:       service,
		rateLimiter:   rateLimiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsRecord is the envelope for non-message records on the socket.
type wsRecord struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("WebSocket query connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				slog.Debug("WebSocket read failed", "error", err, "user_id", userID)
			}
			return
		}

		var req QueryRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := h.writeJSON(ctx, ws, wsRecord{Type: "error", Error: "invalid request"}); err != nil {
				return
			}
			continue
		}
		if req.UserID == "" {
			req.UserID = userID
		}

		if !h.rateLimiter.Allow(userID) {
			if err := h.writeJSON(ctx, ws, wsRecord{Type: "error", Error: "rate limit exceeded"}); err != nil {
				return
			}
			continue
		}

		if !h.serveTurn(ctx, ws, req) {
			return
		}
	}
}

// serveTurn runs one query and streams its messages. Returns false when
// the socket is no longer usable.
func (h *WebSocketHandler) serveTurn(ctx context.Context, ws *websocket.Conn, req QueryRequest) bool {
	turn, err := h.service.Query(ctx, req)
	if err != nil {
		return h.writeJSON(ctx, ws, wsRecord{Type: "error", Error: err.Error()}) == nil
	}

	if err := h.writeJSON(ctx, ws, wsRecord{Type: "session", SessionID: turn.SessionID}); err != nil {
		return false
	}

	for msg, err := range turn.Messages {
		if err != nil {
			slog.Error("Agent stream failed",
				"user_id", req.UserID, "session_id", turn.SessionID, "error", err)
			return h.writeJSON(ctx, ws, wsRecord{Type: "error", Error: err.Error()}) == nil
		}
		if err := h.writeJSON(ctx, ws, msg); err != nil {
			return false
		}
	}
	return true
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
