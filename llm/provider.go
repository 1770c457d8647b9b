// Package llm defines the provider-facing contracts shared by every
// component of the AI Request Core: the request/response shapes a
// Provider Client speaks, and the Provider interface the router dispatches
// against.
package llm

import (
	"context"
	"time"

	"github.com/jakeyflow/core/types"
)

// Re-export the framework-wide types so callers of this package never need
// a second import for the message/error model.
type (
	Message      = types.Message
	Role         = types.Role
	ToolCall     = types.ToolCall
	ToolSchema   = types.ToolSchema
	ToolResult   = types.ToolResult
	TokenUsage   = types.TokenUsage
	Error        = types.Error
	ErrorCode    = types.ErrorCode
	Kind         = types.Kind
	ImageContent = types.ImageContent
)

const (
	RoleSystem    = types.RoleSystem
	RoleUser      = types.RoleUser
	RoleAssistant = types.RoleAssistant
	RoleTool      = types.RoleTool
)

// Client-level classifications, reproduced from each provider client's own
// status-code mapping.
const (
	ErrSuccess           = types.ErrSuccess
	ErrBadRequest        = types.ErrBadRequest
	ErrAuthentication    = types.ErrAuthentication
	ErrPaymentRequired   = types.ErrPaymentRequired
	ErrRecoverable       = types.ErrRecoverable
	ErrRateLimited       = types.ErrRateLimited
	ErrTransientUpstream = types.ErrTransientUpstream
	ErrTransientNetwork  = types.ErrTransientNetwork
)

// Router-surfaced kinds, the closed taxonomy callers see regardless of which
// provider or client-level code produced the underlying failure.
const (
	KindSuccess            = types.KindSuccess
	KindRateLimitedLocal   = types.KindRateLimitedLocal
	KindQuotaExhausted     = types.KindQuotaExhausted
	KindPaymentRequired    = types.KindPaymentRequired
	KindAuthError          = types.KindAuthError
	KindBadRequest         = types.KindBadRequest
	KindTransient          = types.KindTransient
	KindAllProvidersFailed = types.KindAllProvidersFailed
)

// Provider is the interface every provider client (C1) implements. The
// router (C4) only ever talks to providers through this contract.
type Provider interface {
	// Completion sends a synchronous chat request.
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream sends a streaming chat request.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)

	// HealthProbe issues a cheap health check against the model catalogue.
	HealthProbe(ctx context.Context) (*HealthStatus, error)

	// Name returns the provider's unique identifier ("primary"/"secondary").
	Name() string

	// SupportsTools reports whether the provider can accept tools/tool_choice at all.
	SupportsTools() bool

	// SupportsImages reports whether the provider accepts image content.
	SupportsImages() bool

	// ListModels returns the provider's model catalogue.
	ListModels(ctx context.Context) ([]Model, error)
}

// HealthStatus represents a health_probe result.
type HealthStatus struct {
	Healthy      bool             `json:"healthy"`
	ResponseTime time.Duration    `json:"response_time"`
	Kind         types.HealthKind `json:"kind,omitempty"`
}

// ReasoningConfig is the secondary provider's optional reasoning object.
// Defaults to {Enabled: false} unless the caller overrides it.
type ReasoningConfig struct {
	Enabled   bool   `json:"enabled"`
	Effort    string `json:"effort,omitempty"` // xhigh|high|medium|low|minimal|none
	MaxTokens int    `json:"max_tokens,omitempty"`
	Exclude   bool   `json:"exclude,omitempty"`
}

// ProviderRouting captures the secondary provider's routing preferences.
type ProviderRouting struct {
	Order         []string `json:"order,omitempty"`
	AllowFallback bool     `json:"allow_fallbacks,omitempty"`
}

// ChatRequest represents a chat completion request handed from the router
// down to a provider client.
type ChatRequest struct {
	TraceID  string    `json:"trace_id"`
	TenantID string    `json:"tenant_id,omitempty"`
	UserID   string    `json:"user_id,omitempty"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`

	// The following are for the secondary provider only; the primary
	// client leaves all of them out of the wire payload it builds, even if
	// set here. The secondary client transmits TopP, Stop, Reasoning,
	// Routing, FallbackModels and AbuseUserID; FrequencyPenalty,
	// PresencePenalty and RepetitionPenalty are carried on the request but
	// neither client puts them on the wire.
	TopP              float32          `json:"top_p,omitempty"`
	FrequencyPenalty  float32          `json:"frequency_penalty,omitempty"`
	PresencePenalty   float32          `json:"presence_penalty,omitempty"`
	Stop              []string         `json:"stop,omitempty"`
	RepetitionPenalty float32          `json:"repetition_penalty,omitempty"`
	Reasoning         *ReasoningConfig `json:"reasoning,omitempty"`
	Routing           *ProviderRouting `json:"routing,omitempty"`
	// FallbackModels is capped at 3 by the secondary client before transmission.
	FallbackModels []string `json:"fallback_models,omitempty"`
	// AbuseUserID identifies the end user to the secondary provider for
	// abuse tracking; distinct from UserID, which is this agent's own identity.
	AbuseUserID string `json:"abuse_user_id,omitempty"`

	Tools      []ToolSchema `json:"tools,omitempty"`
	ToolChoice string       `json:"tool_choice,omitempty"`

	Timeout  time.Duration     `json:"timeout,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChatResponse represents a chat completion response.
type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage"`
	CreatedAt time.Time    `json:"created_at"`
}

// ChatChoice represents a single choice in the response.
type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

// ChatUsage represents token usage in a response.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a streaming response chunk.
type StreamChunk struct {
	ID           string     `json:"id,omitempty"`
	Provider     string     `json:"provider,omitempty"`
	Model        string     `json:"model,omitempty"`
	Index        int        `json:"index,omitempty"`
	Delta        Message    `json:"delta"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *ChatUsage `json:"usage,omitempty"`
	Err          *Error     `json:"error,omitempty"`
}

// Model represents a model available from a provider's catalogue.
type Model struct {
	ID      string   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Pricing *Pricing `json:"pricing,omitempty"`
}

// Pricing is the optional per-model cost info a catalogue entry may carry.
type Pricing struct {
	Prompt     string `json:"prompt,omitempty"`
	Completion string `json:"completion,omitempty"`
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}
