// Package ai defines the contracts for the upstream AI provider boundary.
//
// The orchestration core talks to an OpenAI-compatible completion/embedding
// endpoint. Everything above this package depends only on the ChatClient and
// EmbeddingClient interfaces; the concrete adapter (openai.go) is injected at
// wiring time so tests can substitute fakes.
package ai

import (
	"context"
	"errors"
	"fmt"
)

// Message roles. The transcript model is deliberately minimal: the upstream
// endpoint is a plain completion API, so tool calls travel as text, not as
// native function-call structures.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry in a conversation transcript.
// Messages are immutable once appended to a transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCallID links a tool-result message back to the tool call that
	// produced it. Empty for all other roles.
	ToolCallID string `json:"toolCallId,omitempty"`
}

// Usage reports token accounting from the upstream provider.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatRequest is the minimal request shape needed to drive the agent loop.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the upstream completion result.
type ChatResponse struct {
	Content string
	Model   string
	Usage   Usage
}

// EmbedRequest asks for embeddings of one or more inputs.
type EmbedRequest struct {
	Model string
	Input []string
}

// EmbedResponse carries one embedding per input, in input order.
type EmbedResponse struct {
	Embeddings [][]float32
	Model      string
}

// ChatClient is the completion boundary. Implementations must return
// *UpstreamError for non-2xx upstream responses so callers can distinguish
// transport failures from provider rejections.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// EmbeddingClient is the embedding boundary.
type EmbeddingClient interface {
	Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error)
}

// UpstreamError represents a non-2xx response from the AI provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: status %d: %s", e.Status, e.Body)
}

// Failure codes surfaced to the outward-facing API.
const (
	CodeTimeout     = "AI_TIMEOUT"
	CodeError       = "AI_ERROR"
	CodeRateLimited = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable = "AI_UNAVAILABLE"
)

// Failure is a machine-readable, user-visible failure.
type Failure struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// ClassifyError maps an internal error to the outward Failure taxonomy.
// Timeouts and 5xx/429 upstream responses are retryable; everything else is not.
func ClassifyError(err error) *Failure {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Code: CodeTimeout, Message: "AI request timed out", Retryable: true}
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		switch {
		case ue.Status == 429:
			return &Failure{Code: CodeRateLimited, Message: "AI rate limit exceeded", Retryable: true}
		case ue.Status >= 500:
			return &Failure{Code: CodeError, Message: err.Error(), Retryable: true}
		default:
			return &Failure{Code: CodeError, Message: err.Error(), Retryable: false}
		}
	}

	return &Failure{Code: CodeError, Message: err.Error(), Retryable: false}
}
