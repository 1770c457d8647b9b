package providers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jakeyflow/core/llm"
	"github.com/jakeyflow/core/types"
)

// MapHTTPError classifies an upstream HTTP status into the client-level
// ErrorCode table shared by every provider client:
//
//	401               -> auth_error               (not retryable)
//	402               -> payment_required          (secondary only, not retryable)
//	404 (all-ignored) -> recoverable               (secondary only, one retry w/o prefs)
//	429               -> rate_limited               (retryable, exponential backoff)
//	502/503/504       -> transient_upstream         (retryable)
//	other 5xx         -> transient_upstream         (retryable)
//	other 4xx         -> bad_request                (not retryable)
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	switch status {
	case http.StatusUnauthorized:
		return &llm.Error{Code: llm.ErrAuthentication, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusPaymentRequired:
		return &llm.Error{Code: llm.ErrPaymentRequired, Message: msg, HTTPStatus: status, Provider: provider}
	case http.StatusNotFound:
		return &llm.Error{Code: llm.ErrRecoverable, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusTooManyRequests:
		return &llm.Error{Code: llm.ErrRateLimited, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &llm.Error{Code: llm.ErrTransientUpstream, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
	default:
		if status >= 500 {
			return &llm.Error{Code: llm.ErrTransientUpstream, Message: msg, HTTPStatus: status, Retryable: true, Provider: provider}
		}
		return &llm.Error{Code: llm.ErrBadRequest, Message: msg, HTTPStatus: status, Provider: provider}
	}
}

// MapNetworkError classifies a transport-level failure (connection reset,
// DNS failure, context deadline) as a transient_network error — always
// retryable, never attributable to a specific HTTP status.
func MapNetworkError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:      llm.ErrTransientNetwork,
		Message:   err.Error(),
		Retryable: true,
		Provider:  provider,
		Cause:     err,
	}
}

// ReadErrorMessage reads an error response body, preferring the nested
// {"error": {"message": ...}} shape OpenAI-compatible APIs use and falling
// back to the raw body text.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return string(data)
}

// OpenAICompatMessage is the OpenAI-compatible wire shape both provider
// clients marshal their requests into (each client's asymmetric shaping
// happens above this layer, in its own request builder).
type OpenAICompatMessage struct {
	Role       string                `json:"role"`
	Content    string                `json:"content,omitempty"`
	Name       string                `json:"name,omitempty"`
	ToolCalls  []OpenAICompatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                `json:"tool_call_id,omitempty"`
}

// OpenAICompatToolCall is an OpenAI-compatible tool call.
type OpenAICompatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function OpenAICompatFunction `json:"function"`
}

// OpenAICompatFunction is an OpenAI-compatible function call payload.
type OpenAICompatFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// OpenAICompatTool is an OpenAI-compatible tool definition.
type OpenAICompatTool struct {
	Type     string               `json:"type"`
	Function OpenAICompatFunction `json:"function"`
}

// OpenAICompatRequest is the OpenAI-compatible chat completion request.
// Individual clients populate this with their own subset of fields — the
// primary client never sets TopP, Stop, Reasoning, Provider, or Models,
// and sets Tools/ToolChoice only for its one tool-capable model.
type OpenAICompatRequest struct {
	Model       string                `json:"model"`
	Messages    []OpenAICompatMessage `json:"messages"`
	Tools       []OpenAICompatTool    `json:"tools,omitempty"`
	ToolChoice  interface{}           `json:"tool_choice,omitempty"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float32               `json:"temperature,omitempty"`
	TopP        float32               `json:"top_p,omitempty"`
	Stop        []string              `json:"stop,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
	Reasoning   *llm.ReasoningConfig  `json:"reasoning,omitempty"`
	Provider    *llm.ProviderRouting  `json:"provider,omitempty"`
	Models      []string              `json:"models,omitempty"`
	User        string                `json:"user,omitempty"`
}

// OpenAICompatChoice is a single choice in an OpenAI-compatible response.
type OpenAICompatChoice struct {
	Index        int                  `json:"index"`
	FinishReason string               `json:"finish_reason"`
	Message      OpenAICompatMessage  `json:"message"`
	Delta        *OpenAICompatMessage `json:"delta,omitempty"`
}

// OpenAICompatUsage is the token usage block of an OpenAI-compatible response.
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse is an OpenAI-compatible chat completion response.
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// ConvertMessagesToOpenAI converts llm.Message slices to the wire format.
func ConvertMessagesToOpenAI(msgs []llm.Message) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs))
	for _, m := range msgs {
		oa := OpenAICompatMessage{
			Role:       string(m.Role),
			Name:       m.Name,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		if len(m.ToolCalls) > 0 {
			oa.ToolCalls = make([]OpenAICompatToolCall, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				oa.ToolCalls = append(oa.ToolCalls, OpenAICompatToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: OpenAICompatFunction{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
		}
		out = append(out, oa)
	}
	return out
}

// ConvertToolsToOpenAI converts llm.ToolSchema slices to the wire format.
// The primary client calls this only when the resolved model is its
// tool-capable model; for any other model it drops tools from the request.
func ConvertToolsToOpenAI(tools []llm.ToolSchema) []OpenAICompatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]OpenAICompatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, OpenAICompatTool{
			Type: "function",
			Function: OpenAICompatFunction{
				Name:      t.Name,
				Arguments: t.Parameters,
			},
		})
	}
	return out
}

// ToLLMChatResponse converts an OpenAI-compatible response to llm.ChatResponse.
func ToLLMChatResponse(oa OpenAICompatResponse, provider string) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(oa.Choices))
	for _, c := range oa.Choices {
		msg := llm.Message{
			Role:    llm.RoleAssistant,
			Content: c.Message.Content,
			Name:    c.Message.Name,
		}
		if len(c.Message.ToolCalls) > 0 {
			msg.ToolCalls = make([]llm.ToolCall, 0, len(c.Message.ToolCalls))
			for _, tc := range c.Message.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		}
		choices = append(choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      msg,
		})
	}
	resp := &llm.ChatResponse{
		ID:       oa.ID,
		Provider: provider,
		Model:    oa.Model,
		Choices:  choices,
	}
	if oa.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
		}
	}
	return resp
}

// ChooseModel picks the request's model, falling back to the client's
// configured default, then to a hard-coded fallback.
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

// SafeCloseBody closes an HTTP response body, ignoring the error — callers
// are already on an error-reporting path or have consumed the body fully.
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// StreamSSE parses an SSE stream from an OpenAI-compatible API into a
// channel of StreamChunks. The caller must have already confirmed the
// response status is OK before handing the body to this function.
func StreamSSE(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer SafeCloseBody(body)
		defer close(ch)
		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					select {
					case <-ctx.Done():
						return
					case ch <- llm.StreamChunk{Err: MapNetworkError(err, providerName)}:
					}
				}
				return
			}
			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var oaResp OpenAICompatResponse
			if err := json.Unmarshal([]byte(data), &oaResp); err != nil {
				select {
				case <-ctx.Done():
					return
				case ch <- llm.StreamChunk{Err: MapNetworkError(err, providerName)}:
				}
				return
			}

			for _, choice := range oaResp.Choices {
				chunk := llm.StreamChunk{
					ID:           oaResp.ID,
					Provider:     providerName,
					Model:        oaResp.Model,
					Index:        choice.Index,
					FinishReason: choice.FinishReason,
					Delta:        llm.Message{Role: llm.RoleAssistant},
				}
				if choice.Delta != nil {
					chunk.Delta.Content = choice.Delta.Content
					if len(choice.Delta.ToolCalls) > 0 {
						chunk.Delta.ToolCalls = make([]llm.ToolCall, 0, len(choice.Delta.ToolCalls))
						for _, tc := range choice.Delta.ToolCalls {
							chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, llm.ToolCall{
								ID:        tc.ID,
								Name:      tc.Function.Name,
								Arguments: tc.Function.Arguments,
							})
						}
					}
				}
				select {
				case <-ctx.Done():
					return
				case ch <- chunk:
				}
			}
		}
	}()
	return ch
}

// ClassifyHealthStatus maps a health-probe HTTP status into the shared
// HealthKind taxonomy.
func ClassifyHealthStatus(status int, elapsed time.Duration) *llm.HealthStatus {
	switch status {
	case http.StatusOK:
		return &llm.HealthStatus{Healthy: true, ResponseTime: elapsed}
	case http.StatusUnauthorized:
		return &llm.HealthStatus{Healthy: false, ResponseTime: elapsed, Kind: types.HealthUnauthorized}
	case http.StatusTooManyRequests:
		return &llm.HealthStatus{Healthy: false, ResponseTime: elapsed, Kind: types.HealthRateLimited}
	case http.StatusBadGateway:
		return &llm.HealthStatus{Healthy: false, ResponseTime: elapsed, Kind: types.HealthBadGateway}
	case http.StatusServiceUnavailable:
		return &llm.HealthStatus{Healthy: false, ResponseTime: elapsed, Kind: types.HealthServiceUnavailable}
	default:
		return &llm.HealthStatus{Healthy: false, ResponseTime: elapsed, Kind: types.HealthRequestError}
	}
}

// ClassifyHealthNetworkError maps a transport-level health-probe failure
// into the shared HealthKind taxonomy, distinguishing a context deadline
// (timeout) from any other connection failure.
func ClassifyHealthNetworkError(err error, elapsed time.Duration) *llm.HealthStatus {
	if err == context.DeadlineExceeded {
		return &llm.HealthStatus{Healthy: false, ResponseTime: elapsed, Kind: types.HealthTimeout}
	}
	return &llm.HealthStatus{Healthy: false, ResponseTime: elapsed, Kind: types.HealthConnectionError}
}

// ListModelsOpenAICompat is the shared model-catalogue fetch used by both
// provider clients' ListModels implementation.
func ListModelsOpenAICompat(ctx context.Context, client *http.Client, baseURL, apiKey, providerName, modelsEndpoint string, buildHeaders func(*http.Request, string)) ([]llm.Model, error) {
	endpoint := fmt.Sprintf("%s%s", strings.TrimRight(baseURL, "/"), modelsEndpoint)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	buildHeaders(httpReq, apiKey)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err, providerName)
	}
	defer SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := ReadErrorMessage(resp.Body)
		return nil, MapHTTPError(resp.StatusCode, msg, providerName)
	}

	var modelsResp struct {
		Object string      `json:"object"`
		Data   []llm.Model `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, MapNetworkError(err, providerName)
	}

	return modelsResp.Data, nil
}
