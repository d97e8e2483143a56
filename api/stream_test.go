package api

import (
	"testing"
	"time"

	"github.com/deepresearch/orchestrator/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamHubSubscribeReceivesEmit(t *testing.T) {
	hub := NewStreamHub()
	ch := hub.Subscribe("s1")
	defer hub.Unsubscribe("s1", ch)

	hub.Emit(orchestrator.Event{
		Type:      orchestrator.EventPhase,
		SessionID: "s1",
		Phase:     "collect",
		At:        time.Now(),
	})

	select {
	case msg := <-ch:
		assert.Equal(t, StreamPhase, msg.Kind)
		assert.Equal(t, "s1", msg.SessionID)
		assert.Equal(t, "collect", msg.Phase)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for emitted message")
	}
}

func TestStreamHubEmitOnlyReachesMatchingSession(t *testing.T) {
	hub := NewStreamHub()
	chA := hub.Subscribe("a")
	chB := hub.Subscribe("b")
	defer hub.Unsubscribe("a", chA)
	defer hub.Unsubscribe("b", chB)

	hub.Emit(orchestrator.Event{Type: orchestrator.EventDone, SessionID: "a", At: time.Now()})

	select {
	case msg := <-chA:
		assert.Equal(t, StreamDone, msg.Kind)
	case <-time.After(time.Second):
		t.Fatal("session a should have received the event")
	}

	select {
	case <-chB:
		t.Fatal("session b should not have received session a's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamHubEmitWithNoSubscribersDoesNotBlock(t *testing.T) {
	hub := NewStreamHub()
	done := make(chan struct{})
	go func() {
		hub.Emit(orchestrator.Event{Type: orchestrator.EventPhase, SessionID: "nobody", At: time.Now()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit to a session with no subscribers should not block")
	}
}

func TestStreamHubEmitDropsWhenSubscriberBufferFull(t *testing.T) {
	hub := NewStreamHub()
	ch := hub.Subscribe("full")
	defer hub.Unsubscribe("full", ch)

	for i := 0; i < 64; i++ {
		hub.Emit(orchestrator.Event{Type: orchestrator.EventStats, SessionID: "full", At: time.Now()})
	}
	// Channel is buffered at 32; excess emits must be dropped, not block.
	assert.LessOrEqual(t, len(ch), 32)
}

func TestStreamHubEmitTokenSendsTokenKind(t *testing.T) {
	hub := NewStreamHub()
	ch := hub.Subscribe("s2")
	defer hub.Unsubscribe("s2", ch)

	hub.EmitToken("s2", "hello")

	select {
	case msg := <-ch:
		assert.Equal(t, StreamToken, msg.Kind)
		assert.Equal(t, "hello", msg.Token)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for token message")
	}
}

func TestStreamHubUnsubscribeClosesChannelAndRemovesEmptyEntry(t *testing.T) {
	hub := NewStreamHub()
	ch := hub.Subscribe("s3")
	hub.Unsubscribe("s3", ch)

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")

	require.Empty(t, hub.subs["s3"])
}
