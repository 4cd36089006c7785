// Package llm implements LLM provider integrations for streamagent.
//
// Providers present a unified streaming interface over different model APIs.
// Each Complete call returns a channel of chunks: text deltas, thinking
// deltas, accumulated tool calls, and a final Done (or Error) chunk.
package llm

import (
	"context"
	"encoding/json"

	"github.com/huangjh/streamagent/pkg/models"
)

// Provider is the interface for LLM backends.
//
// Implementations must be safe for concurrent use; multiple goroutines may
// call Complete simultaneously for different requests.
type Provider interface {
	// Complete sends a request and returns a streaming response. The channel
	// is closed when the stream ends; the last meaningful chunk carries
	// either Done or Error.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the stable lowercase provider identifier.
	Name() string
}

// CompletionRequest contains all parameters for one model call.
type CompletionRequest struct {
	// Model specifies which model to use. Empty selects the provider default.
	Model string `json:"model"`

	// System is the system prompt; handled separately from messages by most
	// APIs.
	System string `json:"system,omitempty"`

	// Messages is the conversation history in chronological order.
	Messages []*models.Message `json:"messages"`

	// Tools the model may request to execute. Empty disables tool calling.
	Tools []Tool `json:"tools,omitempty"`

	// MaxTokens limits the generated response length. Zero uses the provider
	// default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking enables extended reasoning for models that support it.
	EnableThinking bool `json:"enable_thinking,omitempty"`
}

// CompletionChunk is one increment of a streaming response.
type CompletionChunk struct {
	// Text is a fragment of the model's visible output.
	Text string `json:"text,omitempty"`

	// Thinking is a fragment of reasoning output, distinct from Text.
	Thinking string `json:"thinking,omitempty"`

	// ToolCall is a complete tool invocation request, emitted once fully
	// accumulated from the stream.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done signals successful stream completion.
	Done bool `json:"done,omitempty"`

	// InputTokens and OutputTokens carry usage reported by the API, set on
	// the Done chunk when available.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`

	// Error signals stream failure. No further chunks follow.
	Error error `json:"-"`
}

// Tool defines a callable tool exposed to the model.
type Tool interface {
	// Name returns the tool name for function calling. Must be a valid
	// function name (alphanumeric, underscores).
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with parameters matching Schema.
	Execute(ctx context.Context, params json.RawMessage) (string, error)
}
