// Package secondary implements the OpenRouter-shaped provider client (C1).
// Unlike primary, it accepts the full parameter set the spec allows:
// sampling controls, tool calling, a reasoning object, provider routing
// preferences, a capped fallback-models list, and an abuse-tracking user id.
package secondary

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
	chatEndpoint    = "/chat/completions"
	modelsEndpoint  = "/models"
	keyInfoEndpoint = "/auth/key"

	// maxFallbackModels caps the fallback_models list sent on the wire;
	// the upstream API rejects longer lists outright.
	maxFallbackModels = 3

	// retries is the client's own intra-call retry budget, independent of
	// the router's cross-provider failover attempts. The secondary
	// provider tolerates far more retries than primary since it fronts
	// many upstream models with independent failure modes.
	retries = 5

	keyInfoCacheTTL = 5 * time.Minute
)

// Config holds everything needed to construct a Provider.
type Config struct {
	BaseURL         string
	APIKey          string
	DefaultModel    string
	TextTimeout     time.Duration
	HealthTimeout   time.Duration
	RateLimitPerMin int
	SiteURL         string
	AppName         string
}

// Provider is the secondary (OpenRouter-shaped) provider client.
type Provider struct {
	cfg     Config
	client  *http.Client
	logger  *zap.Logger
	latency *timeout.LatencyProfile

	keyInfoMu       chan struct{} // 1-buffered mutex, lets TryLock-style guard double as a singleflight gate
	keyInfoCached   *KeyInfo
	keyInfoCachedAt time.Time
}

// KeyInfo mirrors OpenRouter's /auth/key response, used by the quota guard
// to learn the account's remaining credit.
type KeyInfo struct {
	Label              string  `json:"label"`
	Usage              float64 `json:"usage"`
	Limit              *float64 `json:"limit"`
	IsFreeTier         bool    `json:"is_free_tier"`
	RateLimitRequests  int     `json:"rate_limit_requests"`
	RateLimitInterval  string  `json:"rate_limit_interval"`
}

// RemainingCredit returns limit-usage, or a large positive sentinel when
// the account has no hard limit configured.
func (k *KeyInfo) RemainingCredit() int64 {
	if k == nil || k.Limit == nil {
		return 1 << 30
	}
	return int64(*k.Limit - k.Usage)
}

// New constructs a secondary provider client.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{
		cfg:       cfg,
		client:    tlsutil.SecureHTTPClient(cfg.TextTimeout),
		logger:    logger,
		latency:   timeout.NewLatencyProfile(),
		keyInfoMu: make(chan struct{}, 1),
	}
	p.keyInfoMu <- struct{}{}
	return p
}

// Name identifies this client to the router.
func (p *Provider) Name() string { return string(llm.ProviderSecondary) }

// SupportsTools reports that this provider accepts native tool calling.
func (p *Provider) SupportsTools() bool { return true }

// SupportsImages reports that this provider accepts image content parts.
func (p *Provider) SupportsImages() bool { return true }

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.cfg.BaseURL, "/"), path)
}

func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.cfg.SiteURL)
	}
	if p.cfg.AppName != "" {
		req.Header.Set("X-Title", p.cfg.AppName)
	}
}

// buildRequestBody shapes the full parameter set, capping fallback_models
// at 3 and defaulting reasoning to disabled unless the caller overrides it.
func (p *Provider) buildRequestBody(req *llm.ChatRequest, stripProviderPrefs bool) providers.OpenAICompatRequest {
	model := providers.ChooseModel(req, p.cfg.DefaultModel, "openrouter/auto")

	body := providers.OpenAICompatRequest{
		Model:             model,
		Messages:          providers.ConvertMessagesToOpenAI(req.Messages),
		Tools:             providers.ConvertToolsToOpenAI(req.Tools),
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		TopP:              req.TopP,
		Stop:              req.Stop,
		User:              req.AbuseUserID,
	}
	if req.ToolChoice != "" {
		body.ToolChoice = req.ToolChoice
	}

	reasoning := req.Reasoning
	if reasoning == nil {
		reasoning = &llm.ReasoningConfig{Enabled: false}
	}
	body.Reasoning = reasoning

	if req.Routing != nil && !stripProviderPrefs {
		body.Provider = req.Routing
	}

	if len(req.FallbackModels) > 0 {
		fallbacks := req.FallbackModels
		if len(fallbacks) > maxFallbackModels {
			fallbacks = fallbacks[:maxFallbackModels]
		}
		body.Models = fallbacks
	}

	return body
}

// Completion sends a synchronous chat request. It retries up to 5 times on
// a retryable classification, with one additional allowance: if every
// attempt so far failed with a recoverable 404 ("no endpoints found"), the
// next attempt strips provider routing preferences entirely, since an
// over-constrained provider list is the most common cause of that error.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var lastErr error
	strippedPrefsOnce := false

	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			delay := timeout.RetryDelay(attempt-1, classifyForRetry(lastErr))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		stripPrefs := false
		if e, ok := lastErr.(*llm.Error); ok && e.Code == llm.ErrRecoverable && !strippedPrefsOnce {
			stripPrefs = true
			strippedPrefsOnce = true
		}

		resp, err := p.doCompletion(ctx, req, stripPrefs)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		e, ok := err.(*llm.Error)
		if !ok || !e.Retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (p *Provider) doCompletion(ctx context.Context, req *llm.ChatRequest, stripPrefs bool) (*llm.ChatResponse, error) {
	body := p.buildRequestBody(req, stripPrefs)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal secondary request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(chatEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build secondary request: %w", err)
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

// Stream sends a streaming chat request over SSE.
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	body := p.buildRequestBody(req, false)
	body.Stream = true

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal secondary stream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(chatEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build secondary stream request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapNetworkError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	return providers.StreamSSE(ctx, resp.Body, p.Name()), nil
}

// HealthProbe issues a cheap GET against the model catalogue.
func (p *Provider) HealthProbe(ctx context.Context) (*llm.HealthStatus, error) {
	healthCtx, cancel := context.WithTimeout(ctx, p.healthTimeout())
	defer cancel()

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(healthCtx, http.MethodGet, p.endpoint(modelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("build secondary health request: %w", err)
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
	return providers.ListModelsOpenAICompat(ctx, p.client, p.cfg.BaseURL, p.cfg.APIKey, p.Name(), modelsEndpoint,
		func(req *http.Request, _ string) { p.buildHeaders(req) })
}

// GetKeyInfo fetches account key info, caching the result for 5 minutes so
// the quota guard's remaining-credit check doesn't hit the network on
// every admission decision. Concurrent callers during a cache miss are
// serialized onto a single in-flight fetch.
func (p *Provider) GetKeyInfo(ctx context.Context) (*KeyInfo, error) {
	<-p.keyInfoMu
	defer func() { p.keyInfoMu <- struct{}{} }()

	if p.keyInfoCached != nil && time.Since(p.keyInfoCachedAt) < keyInfoCacheTTL {
		return p.keyInfoCached, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(keyInfoEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("build key info request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapNetworkError(err, p.Name())
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var wrapped struct {
		Data KeyInfo `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wrapped); err != nil {
		return nil, providers.MapNetworkError(err, p.Name())
	}

	p.keyInfoCached = &wrapped.Data
	p.keyInfoCachedAt = time.Now()
	return p.keyInfoCached, nil
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
