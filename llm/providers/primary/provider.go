// Package primary implements the Pollinations-shaped provider client (C1).
// It speaks a restricted OpenAI-compatible subset: model, messages,
// max_tokens, and temperature, plus tools/tool_choice only when the
// resolved model is the tool-capable one. Sampling and routing fields a
// caller sets on the request never reach the wire — those are the
// secondary provider's domain.
package primary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jakeyflow/core/internal/tlsutil"
	"github.com/jakeyflow/core/llm"
	"github.com/jakeyflow/core/llm/providers"
	"github.com/jakeyflow/core/llm/timeout"
)

const (
	chatEndpoint   = "/openai/chat/completions"
	modelsEndpoint = "/openai/models"

	// toolCapableFallbackModel is the one model this provider accepts
	// tools/tool_choice on, and the model used when neither the request
	// nor the config names one. buildRequestBody attaches tools only when
	// the resolved model is this one and drops them otherwise; re-targeting
	// a tool-bearing request onto it is the router's model choice, not
	// this client's.
	toolCapableFallbackModel = "openai"

	// retries is the client's own intra-call retry budget, independent of
	// the router's cross-provider failover attempts.
	retries = 1
)

// Config holds everything needed to construct a Provider.
type Config struct {
	BaseURL         string
	APIToken        string
	DefaultModel    string
	TextTimeout     time.Duration
	HealthTimeout   time.Duration
	RateLimitPerMin int
}

// Provider is the primary (Pollinations-shaped) provider client.
type Provider struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	latency *timeout.LatencyProfile
}

// New constructs a primary provider client.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	healthTimeout := cfg.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = 5 * time.Second
	}
	return &Provider{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(cfg.TextTimeout),
		logger:  logger,
		latency: timeout.NewLatencyProfile(),
	}
}

// Name identifies this client to the router.
func (p *Provider) Name() string { return string(llm.ProviderPrimary) }

// SupportsTools reports that this provider can, on a capable model, accept
// tool calls — buildRequestBody drops the tools of any request whose
// resolved model is not toolCapableFallbackModel.
func (p *Provider) SupportsTools() bool { return true }

// SupportsImages reports that the primary provider does not accept image
// content; the assembler must strip image parts before routing here.
func (p *Provider) SupportsImages() bool { return false }

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *Provider) buildHeaders(req *http.Request) {
	if p.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIToken)
	}
	req.Header.Set("Content-Type", "application/json")
}

// buildRequestBody shapes the restricted parameter set: model, messages,
// max_tokens, temperature only. tool_choice/tools are included solely when
// the resolved model is the one known tool-capable model; every other
// caller-supplied sampling/tool/routing field on req is silently dropped.
func (p *Provider) buildRequestBody(req *llm.ChatRequest) providers.OpenAICompatRequest {
	model := providers.ChooseModel(req, p.cfg.DefaultModel, toolCapableFallbackModel)

	body := providers.OpenAICompatRequest{
		Model:       model,
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	if len(req.Tools) > 0 && model == toolCapableFallbackModel {
		body.Tools = providers.ConvertToolsToOpenAI(req.Tools)
		if req.ToolChoice != "" {
			body.ToolChoice = req.ToolChoice
		}
	}

	return body
}

// Completion sends a synchronous chat request, retrying once on a
// retryable classification with the controller's shared backoff formula.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := timeout.RetryDelay(attempt-1, classifyForRetry(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := p.doCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if e, ok := err.(*llm.Error); !ok || !e.Retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Provider) doCompletion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body := p.buildRequestBody(req)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal primary request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(chatEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build primary request: %w", err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapNetworkError(err, p.Name())
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.MapNetworkError(err, p.Name())
	}

	p.latency.Record(time.Since(start))

	result := providers.ToLLMChatResponse(oaResp, p.Name())
	if oaResp.Created != 0 {
		result.CreatedAt = time.Unix(oaResp.Created, 0)
	} else {
		result.CreatedAt = time.Now()
	}
	return result, nil
}

// Stream is not offered by the primary provider in this deployment; the
// router only ever calls Completion against it.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, &llm.Error{Code: llm.ErrBadRequest, Message: "primary provider does not support streaming", Provider: p.Name()}
}

// HealthProbe issues a cheap GET against the model catalogue and classifies
// the outcome into the shared HealthKind taxonomy.
func (p *Provider) HealthProbe(ctx context.Context) (*llm.HealthStatus, error) {
	healthCtx, cancel := context.WithTimeout(ctx, p.healthTimeout())
	defer cancel()

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(healthCtx, http.MethodGet, p.endpoint(modelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("build primary health request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return providers.ClassifyHealthNetworkError(err, elapsed), nil
	}
	defer providers.SafeCloseBody(resp.Body)

	return providers.ClassifyHealthStatus(resp.StatusCode, elapsed), nil
}

func (p *Provider) healthTimeout() time.Duration {
	if p.cfg.HealthTimeout > 0 {
		return p.cfg.HealthTimeout
	}
	return 5 * time.Second
}

// ListModels returns the provider's model catalogue.
func (p *Provider) ListModels(ctx context.Context) ([]llm.Model, error) {
	return providers.ListModelsOpenAICompat(ctx, p.client, p.cfg.BaseURL, p.cfg.APIToken, p.Name(), modelsEndpoint,
		func(req *http.Request, _ string) { p.buildHeaders(req) })
}

// LatencyProfile exposes the rolling round-trip history for the router's
// dynamic-timeout computation.
func (p *Provider) LatencyProfile() *timeout.LatencyProfile { return p.latency }

func classifyForRetry(err error) timeout.ErrorClass {
	e, ok := err.(*llm.Error)
	if !ok {
		return timeout.ClassDefault
	}
	switch e.Code {
	case llm.ErrRateLimited:
		return timeout.ClassRateLimited
	case llm.ErrTransientUpstream:
		return timeout.ClassBadGateway
	default:
		return timeout.ClassDefault
	}
}
