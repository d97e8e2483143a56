package api

import (
	"sync"

	"github.com/deepresearch/orchestrator/orchestrator"
)

// StreamHub fans out orchestrator.Event values to the WebSocket
// subscribers of each session, translating them into the wire-level
// StreamMessage shape.
type StreamHub struct {
	mu   sync.Mutex
	subs map[string][]chan StreamMessage
}

// NewStreamHub builds an empty hub.
func NewStreamHub() *StreamHub {
	return &StreamHub{subs: make(map[string][]chan StreamMessage)}
}

// Subscribe registers a buffered channel for sessionID's events. Callers
// must call Unsubscribe when done reading.
func (h *StreamHub) Subscribe(sessionID string) chan StreamMessage {
	ch := make(chan StreamMessage, 32)
	h.mu.Lock()
	h.subs[sessionID] = append(h.subs[sessionID], ch)
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch.
func (h *StreamHub) Unsubscribe(sessionID string, ch chan StreamMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subs[sessionID]
	for i, c := range subs {
		if c == ch {
			h.subs[sessionID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(h.subs[sessionID]) == 0 {
		delete(h.subs, sessionID)
	}
}

// Emit is an orchestrator.Emitter that publishes to every subscriber of
// ev.SessionID. Slow subscribers are dropped rather than blocking the
// driver — the progress stream is best-effort.
func (h *StreamHub) Emit(ev orchestrator.Event) {
	msg := StreamMessage{
		Kind:      StreamMessageKind(ev.Type),
		SessionID: ev.SessionID,
		Phase:     string(ev.Phase),
		Cycle:     ev.Cycle,
		Stats:     ev.Stats,
		Error:     ev.Err,
		At:        ev.At,
	}

	h.mu.Lock()
	subs := append([]chan StreamMessage(nil), h.subs[ev.SessionID]...)
	h.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// EmitToken publishes a synthesis token frame. No pipeline node calls it:
// the synthesize node produces its summary with a non-streaming completion.
func (h *StreamHub) EmitToken(sessionID, token string) {
	h.mu.Lock()
	subs := append([]chan StreamMessage(nil), h.subs[sessionID]...)
	h.mu.Unlock()

	msg := StreamMessage{Kind: StreamToken, SessionID: sessionID, Token: token}
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
}
