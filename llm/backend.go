// Package llm implements the model-routing layer: logical model tiers,
// concrete backend selection, privacy-gated completion, and streaming.
package llm

import "context"

// Tier is a logical model name the rest of the system addresses instead of
// a concrete backend.
type Tier string

const (
	TierLocalFast     Tier = "local-fast"
	TierLocalPowerful Tier = "local-powerful"
	TierCloudBest     Tier = "cloud-best"
)

// IsLocal reports whether t never leaves the local network.
func (t Tier) IsLocal() bool { return t == TierLocalFast || t == TierLocalPowerful }

// Role mirrors a chat message's author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat completion request.
type Message struct {
	Role    Role
	Content string
}

// CompletionRequest is a backend-agnostic completion request.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// StreamChunk is one piece of a streaming completion. The concatenation of
// every chunk's Text equals the non-streaming result for the same request.
type StreamChunk struct {
	Text string
	Done bool
	Err  error
}

// Backend is a concrete completion provider (a local inference endpoint or
// a remote API) backing one or more tiers.
type Backend interface {
	Name() string
	Available(ctx context.Context) bool
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}
