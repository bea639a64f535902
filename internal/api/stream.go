package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/contextual-writer/internal/flow"
	"github.com/ashureev/contextual-writer/internal/identity"
	"github.com/coder/websocket"
)

// StreamHandler streams continuations over a WebSocket.
type StreamHandler struct {
	*Handler
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
}

// NewStreamHandler creates a streaming continuation handler. limiter may be nil.
func NewStreamHandler(base *Handler, limiter *RateLimiter, allowedOrigin string, isDev bool) *StreamHandler {
	return &StreamHandler{Handler: base, limiter: limiter, allowedOrigin: allowedOrigin, isDev: isDev}
}

// streamRequest is a client message. Type is "continue" or "ping".
type streamRequest struct {
	Type         string `json:"type"`
	ExistingText string `json:"existingText"`
	SavedContext string `json:"savedContext,omitempty"`
	Credential   string `json:"credential,omitempty"`
	DocumentID   string `json:"documentId,omitempty"`
}

// streamEvent is a server message. Type is "chunk", "done", "error" or "pong".
// A continuation is only complete at "done"; an "error" voids the chunks sent
// before it and leaves any stored document unchanged.
type streamEvent struct {
	Type          string `json:"type"`
	Content       string `json:"content,omitempty"`
	ContinuedText string `json:"continuedText,omitempty"`
	Version       int64  `json:"version,omitempty"`
	Status        int    `json:"status,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	slog.Info("Stream connection request", "user_id", userID,
		"session_id", identity.SessionIDFromContext(r.Context()), "ip", r.RemoteAddr)

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
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()
	ws.SetReadLimit(h.maxBodySize)

	ctx := r.Context()
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg streamRequest
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(ctx, ws, http.StatusBadRequest, "invalid JSON message")
			continue
		}

		switch msg.Type {
		case "ping":
			if err := writeJSON(ctx, ws, streamEvent{Type: "pong"}); err != nil {
				return
			}
		case "continue":
			if err := h.continueStream(ctx, ws, r, msg); err != nil {
				slog.Debug("Stream write failed", "error", err, "user_id", userID)
				return
			}
		default:
			h.sendError(ctx, ws, http.StatusBadRequest, "unknown message type")
		}
	}
}

// continueStream runs one streamed continuation. Only write failures are returned.
func (h *StreamHandler) continueStream(ctx context.Context, ws *websocket.Conn, r *http.Request, msg streamRequest) error {
	userID := identity.UserIDFromContext(ctx)
	if h.limiter != nil {
		key := userID
		if key == "" {
			key = identity.IPFromRequest(r)
		}
		if ok, _ := h.limiter.Reserve(key); !ok {
			return h.sendError(ctx, ws, http.StatusTooManyRequests, "rate_limited")
		}
	}

	req := flow.ContinuationRequest{
		ExistingText: msg.ExistingText,
		SavedContext: msg.SavedContext,
	}
	var docVersion int64
	if msg.DocumentID != "" {
		doc, err := h.repo.GetDocument(ctx, userID, msg.DocumentID)
		if err != nil {
			return h.sendFailure(ctx, ws, err)
		}
		req.ExistingText = doc.Text
		req.SavedContext = doc.SavedContext
		docVersion = doc.Version
	}

	key, err := h.credential(r, msg.Credential)
	if err != nil {
		return h.sendFailure(ctx, ws, err)
	}
	req.Credential = key

	var sb strings.Builder
	for chunk, err := range h.flows.ContinueStream(ctx, req) {
		if err != nil {
			return h.sendFailure(ctx, ws, err)
		}
		sb.WriteString(chunk)
		if werr := writeJSON(ctx, ws, streamEvent{Type: "chunk", Content: chunk}); werr != nil {
			return werr
		}
	}

	done := streamEvent{Type: "done", ContinuedText: sb.String()}
	if msg.DocumentID != "" {
		doc, err := h.repo.GetDocument(ctx, userID, msg.DocumentID)
		if err != nil {
			return h.sendFailure(ctx, ws, err)
		}
		doc.Version = docVersion
		doc.Text = req.ExistingText + sb.String()
		if err := h.repo.UpdateDocument(ctx, doc); err != nil {
			return h.sendFailure(ctx, ws, err)
		}
		done.Version = doc.Version
	}
	return writeJSON(ctx, ws, done)
}

func (h *StreamHandler) sendFailure(ctx context.Context, ws *websocket.Conn, err error) error {
	status, message := errorStatus(err)
	return h.sendError(ctx, ws, status, message)
}

func (h *StreamHandler) sendError(ctx context.Context, ws *websocket.Conn, status int, message string) error {
	return writeJSON(ctx, ws, streamEvent{Type: "error", Status: status, Error: message})
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}
