package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// pingInterval keeps the connection alive through intermediate proxies
// while a research session runs for minutes at a time.
const pingInterval = 30 * time.Second

// sessionLookup reports whether sessionID is a session the Driver knows
// about, so the stream handler can reject an upgrade for an unknown ID
// without importing the domain/orchestrator packages into this file.
type sessionLookup func(sessionID string) bool

// StreamHandler upgrades /research/{id}/stream to a WebSocket and forwards
// that session's progress events (spec §6 Progress stream) until the
// session completes, errors, or the client disconnects.
type StreamHandler struct {
	hub    *StreamHub
	lookup sessionLookup
	logger *zap.Logger
}

// NewStreamHandler wires a StreamHandler around hub, using lookup to
// reject a websocket upgrade for an unknown session.
func NewStreamHandler(hub *StreamHub, lookup sessionLookup, logger *zap.Logger) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{hub: hub, lookup: lookup, logger: logger.With(zap.String("component", "stream_handler"))}
}

// HandleStream GET /research/{id}/stream upgrades the connection and
// relays StreamMessage frames until the done/error frame or disconnect.
func (h *StreamHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" || !h.lookup(id) {
		WriteError(w, http.StatusNotFound, "not_found", "session not found", h.logger, nil)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(context.Background()) // client sends no messages; drain and detect close

	ch := h.hub.Subscribe(id)
	defer h.hub.Unsubscribe(id, ch)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			if err := wsjson.Write(ctx, conn, msg); err != nil {
				return
			}
			if msg.Kind == StreamDone || msg.Kind == StreamError {
				conn.Close(websocket.StatusNormalClosure, "session finished")
				return
			}
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
