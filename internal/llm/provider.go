// Package llm defines the provider-agnostic interface for LLM interactions.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends a conversation to the LLM and returns its response.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openrouter").
	Name() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	// Temperature in [0, 1]. Zero means the provider default.
	Temperature float64
}

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Response is what the LLM returns, including the cost accounting needed
// for per-user budgets.
type Response struct {
	Content    string
	Model      string // Model that actually served the request.
	StopReason string // "end_turn", "max_tokens"
	Usage      Usage
	CostUSD    float64
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// TotalTokens is the combined prompt and completion token count.
func (u Usage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}
