package router

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jakeyflow/core/internal/metrics"
	"github.com/jakeyflow/core/llm"
	"github.com/jakeyflow/core/llm/quota"
	"github.com/jakeyflow/core/llm/timeout"
)

// defaultRestoreCooldown is FALLBACK_RESTORE_TIMEOUT_SECONDS' fallback when
// configuration leaves it unset.
const defaultRestoreCooldown = 60 * time.Second

// Binding wires one provider client into the router together with the
// static facts the router needs to drive it: its default model, its
// tool-capable model allow-list, and the timeout bounds C3 clamps into.
type Binding struct {
	Name   llm.ProviderName
	Client llm.Provider

	DefaultModel string

	// ToolCapableModels is the allow-list of models this provider can
	// actually honor tool_choice on. A nil/empty set means every model the
	// client accepts is tool-capable (no substitution is ever needed).
	ToolCapableModels  map[string]struct{}
	ToolCapableDefault string

	StaticTimeout time.Duration
	TimeoutBounds timeout.Bounds
	Latency       *timeout.LatencyProfile
}

func (b *Binding) isToolCapable(model string) bool {
	if len(b.ToolCapableModels) == 0 {
		return true
	}
	_, ok := b.ToolCapableModels[model]
	return ok
}

// Config configures a Router at construction.
type Config struct {
	Bindings []*Binding
	// Order is the fixed system preference order consulted when a request
	// supplies no preferred_provider (secondary, then primary, per the
	// system default). The first entry is also the router's initial
	// preferred provider — the one restoration aims to return to.
	Order []llm.ProviderName

	Guard   *quota.Guard
	Metrics *metrics.Collector
	Logger  *zap.Logger

	RestoreEnabled  bool
	RestoreCooldown time.Duration
}

// Router is the Provider Router / Failover Core (C4).
type Router struct {
	bindings map[llm.ProviderName]*Binding
	order    []llm.ProviderName

	guard   *quota.Guard
	metrics *metrics.Collector
	logger  *zap.Logger

	restoreEnabled  bool
	restoreCooldown time.Duration

	healthProbeLimiter *rate.Limiter

	mu         sync.Mutex
	state      RouterState
	restoreGen uint64
	restoreTmr *time.Timer
}

// New constructs a Router. The first entry of cfg.Order becomes the initial
// preferred provider.
func New(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cooldown := cfg.RestoreCooldown
	if cooldown <= 0 {
		cooldown = defaultRestoreCooldown
	}

	bindings := make(map[llm.ProviderName]*Binding, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		bindings[b.Name] = b
	}

	r := &Router{
		bindings:           bindings,
		order:              cfg.Order,
		guard:              cfg.Guard,
		metrics:            cfg.Metrics,
		logger:             logger,
		restoreEnabled:     cfg.RestoreEnabled,
		restoreCooldown:    cooldown,
		healthProbeLimiter: rate.NewLimiter(healthProbeRate, 1),
	}

	if len(cfg.Order) > 0 {
		preferred := cfg.Order[0]
		r.state = RouterState{
			CurrentProvider:   preferred,
			PreferredProvider: preferred,
		}
		if b, ok := bindings[preferred]; ok {
			r.state.CurrentModel = b.DefaultModel
			r.state.PreferredModel = b.DefaultModel
		}
	}

	r.publishState()
	return r
}

// Stop cancels any outstanding restoration timer. Call on shutdown.
func (r *Router) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelRestorationLocked()
}

// Snapshot returns a defensive copy of the router's current state.
func (r *Router) Snapshot() RouterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.snapshot()
}

// Request is the input to RouteGenerateText.
type Request struct {
	Messages          []llm.Message
	Model             string
	Temperature       float32
	MaxTokens         int
	Tools             []llm.ToolSchema
	ToolChoice        string
	PreferredProvider llm.ProviderName

	TraceID     string
	TenantID    string
	UserID      string
	AbuseUserID string
}

// Result is the successful outcome of RouteGenerateText.
type Result struct {
	Response *llm.ChatResponse
	Provider llm.ProviderName
	Model    string
	Failover bool
}

// RouteGenerateText is the router's single public operation: it tries each
// candidate provider in order, applying admission, model substitution, and
// the per-provider dynamic timeout, until one succeeds or every candidate
// has been exhausted; it moves to the next candidate without waiting
// between attempts. The whole attempt sequence runs inside a single errgroup
// worker tied to ctx, so a caller-supplied deadline that elapses between
// attempts stops the loop before it starts a provider call it has no time
// left to wait on, instead of paying out a full per-provider timeout first.
func (r *Router) RouteGenerateText(ctx context.Context, req Request) (*Result, error) {
	var result *Result
	var attemptErr *llm.Error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		result, attemptErr = r.attemptProviders(gctx, req)
		return nil
	})
	_ = g.Wait()

	if result != nil {
		return result, nil
	}
	return nil, attemptErr
}

// attemptProviders runs the ordered candidate list once, returning a
// successful Result, or nil with a terminal *llm.Error describing why every
// candidate was exhausted, denied, or the request ran out of time.
func (r *Router) attemptProviders(ctx context.Context, req Request) (*Result, *llm.Error) {
	attempts := r.attemptOrder(req.PreferredProvider)

	var lastErr *llm.Error
	for i, name := range attempts {
		if err := ctx.Err(); err != nil {
			if r.metrics != nil {
				r.metrics.RecordAllProvidersFailed()
			}
			deadlineErr := llm.NewError(llm.ErrTransientUpstream, "request deadline exceeded during failover").
				WithKind(llm.KindTransient).WithCause(err)
			if lastErr != nil {
				deadlineErr = deadlineErr.WithCause(lastErr)
			}
			return nil, deadlineErr
		}

		binding, ok := r.bindings[name]
		if !ok || binding.Client == nil {
			continue
		}

		now := time.Now()
		if r.guard != nil {
			decision := r.guard.Admit(name, now)
			if !decision.Admit {
				switch decision.Reason {
				case quota.ReasonPerMinute:
					if r.metrics != nil {
						r.metrics.RecordQuotaRejection(string(name), "per_minute")
					}
					return nil, llm.NewError(llm.ErrRateLimited, "provider admission denied: per-minute limit exceeded").
						WithKind(llm.KindRateLimitedLocal).
						WithProvider(string(name))
				case quota.ReasonDaily:
					if r.metrics != nil {
						r.metrics.RecordQuotaRejection(string(name), "daily")
					}
					lastErr = llm.NewError(llm.ErrRateLimited, "daily quota exhausted").WithKind(llm.KindQuotaExhausted).WithProvider(string(name))
					continue
				case quota.ReasonPaymentRequired:
					if r.metrics != nil {
						r.metrics.RecordQuotaRejection(string(name), "payment_required")
					}
					lastErr = llm.NewError(llm.ErrPaymentRequired, "negative remaining credit").WithKind(llm.KindPaymentRequired).WithProvider(string(name))
					continue
				}
			}
		}

		model := r.chooseModel(binding, req)

		providerTimeout := binding.StaticTimeout
		if binding.Latency != nil {
			providerTimeout = timeout.DynamicTimeout(binding.Latency, binding.StaticTimeout, binding.TimeoutBounds)
		}
		if r.metrics != nil {
			r.metrics.SetDynamicTimeout(string(name), providerTimeout)
		}

		callCtx, cancel := context.WithTimeout(ctx, providerTimeout)
		start := time.Now()
		resp, err := binding.Client.Completion(callCtx, &llm.ChatRequest{
			TraceID:     req.TraceID,
			TenantID:    req.TenantID,
			UserID:      req.UserID,
			AbuseUserID: req.AbuseUserID,
			Model:       model,
			Messages:    req.Messages,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Tools:       req.Tools,
			ToolChoice:  req.ToolChoice,
		})
		elapsed := time.Since(start)
		cancel()

		if binding.Latency != nil && err == nil {
			binding.Latency.Record(elapsed)
		}

		if r.guard != nil {
			freeTier := err == nil || isRateLimited(err)
			r.guard.RecordRequest(name, now, freeTier)
		}

		if err == nil {
			if r.metrics != nil {
				r.metrics.RecordProviderRequest(string(name), model, "success", elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
			}
			failover := i > 0
			r.onSuccess(name, model, req, failover)
			return &Result{Response: resp, Provider: name, Model: model, Failover: failover}, nil
		}

		lastErr = classifyError(err, name)
		if r.metrics != nil {
			r.metrics.RecordProviderRequest(string(name), model, string(lastErr.Code), elapsed, 0, 0)
		}
		if r.metrics != nil && i+1 < len(attempts) {
			r.metrics.RecordFailover(string(name), string(attempts[i+1]))
		}
		r.logger.Warn("provider attempt failed, trying next candidate",
			zap.String("provider", string(name)),
			zap.String("code", string(lastErr.Code)),
			zap.Error(lastErr),
		)
	}

	if r.metrics != nil {
		r.metrics.RecordAllProvidersFailed()
	}

	message := "all providers failed"
	if lastErr != nil {
		message = sanitizeErrorMessage(lastErr.Error())
	}
	terminal := llm.NewError(llm.ErrTransientUpstream, message).WithKind(llm.KindAllProvidersFailed)
	if lastErr != nil {
		terminal = terminal.WithCause(lastErr)
	}
	return nil, terminal
}

// attemptOrder builds the ordered candidate list for one request: the
// caller's preferred provider first (if it names a known binding), then the
// remaining bindings in the router's fixed system order.
func (r *Router) attemptOrder(preferred llm.ProviderName) []llm.ProviderName {
	order := make([]llm.ProviderName, 0, len(r.order))
	seen := make(map[llm.ProviderName]bool, len(r.order))

	if preferred != "" {
		if _, ok := r.bindings[preferred]; ok {
			order = append(order, preferred)
			seen[preferred] = true
		}
	}
	for _, name := range r.order {
		if !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}
	return order
}

// chooseModel picks the model for one attempt: the caller-supplied model,
// else the provider's default, substituted to the provider's tool-capable
// default if tools were requested and the chosen model cannot carry them.
func (r *Router) chooseModel(b *Binding, req Request) string {
	model := req.Model
	if model == "" {
		model = b.DefaultModel
	}

	if len(req.Tools) > 0 && !b.isToolCapable(model) && b.ToolCapableDefault != "" {
		r.logger.Info("substituting tool-capable model",
			zap.String("provider", string(b.Name)),
			zap.String("requested_model", model),
			zap.String("substituted_model", b.ToolCapableDefault),
		)
		model = b.ToolCapableDefault
	}

	return model
}

func isRateLimited(err error) bool {
	e, ok := err.(*llm.Error)
	return ok && e.Code == llm.ErrRateLimited
}

func classifyError(err error, provider llm.ProviderName) *llm.Error {
	if e, ok := err.(*llm.Error); ok {
		if e.Provider == "" {
			e = e.WithProvider(string(provider))
		}
		if e.Kind == "" {
			e = e.WithKind(kindForCode(e.Code))
		}
		return e
	}
	return llm.NewError(llm.ErrTransientNetwork, err.Error()).WithKind(llm.KindTransient).WithProvider(string(provider)).WithCause(err)
}

func kindForCode(code llm.ErrorCode) llm.Kind {
	switch code {
	case llm.ErrAuthentication:
		return llm.KindAuthError
	case llm.ErrPaymentRequired:
		return llm.KindPaymentRequired
	case llm.ErrBadRequest:
		return llm.KindBadRequest
	case llm.ErrRateLimited, llm.ErrTransientUpstream, llm.ErrTransientNetwork, llm.ErrRecoverable:
		return llm.KindTransient
	default:
		return llm.KindTransient
	}
}
