package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jakeyflow/core/llm"
	"github.com/jakeyflow/core/llm/quota"
)

// stubProvider is a minimal llm.Provider double driven entirely by test
// closures — the router only ever talks to providers through the
// interface, so a real HTTP round trip adds nothing here.
type stubProvider struct {
	name string

	mu          sync.Mutex
	completions []func(*llm.ChatRequest) (*llm.ChatResponse, error)
	calls       int

	healthy bool
}

func (s *stubProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn := s.completions[0]
	if s.calls < len(s.completions) {
		fn = s.completions[s.calls]
	}
	s.calls++
	return fn(req)
}

func (s *stubProvider) Stream(context.Context, *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, llm.NewError(llm.ErrBadRequest, "unsupported")
}

func (s *stubProvider) HealthProbe(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: s.healthy}, nil
}

func (s *stubProvider) Name() string                { return s.name }
func (s *stubProvider) SupportsTools() bool          { return true }
func (s *stubProvider) SupportsImages() bool         { return false }
func (s *stubProvider) ListModels(context.Context) ([]llm.Model, error) {
	return nil, nil
}

func newStub(name string, fns ...func(*llm.ChatRequest) (*llm.ChatResponse, error)) *stubProvider {
	return &stubProvider{name: name, completions: fns}
}

func okResponse(text string) func(*llm.ChatRequest) (*llm.ChatResponse, error) {
	return func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Model:   req.Model,
			Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: text}}},
		}, nil
	}
}

func failResponse(code llm.ErrorCode) func(*llm.ChatRequest) (*llm.ChatResponse, error) {
	return func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, llm.NewError(code, "boom").WithRetryable(false)
	}
}

func newTestGuard() *quota.Guard {
	g := quota.NewGuard()
	g.Register(quota.ProviderConfig{Name: llm.ProviderPrimary, PerMinuteLimit: 100})
	g.Register(quota.ProviderConfig{Name: llm.ProviderSecondary, PerMinuteLimit: 100, QuotaTracked: true, DailyLimit: 1000})
	return g
}

// S1 — happy path: preferred provider succeeds on the first attempt.
func TestRouteGenerateText_HappyPathOnPreferred(t *testing.T) {
	primary := newStub("primary", okResponse("hello"))
	r := New(Config{
		Bindings: []*Binding{{Name: llm.ProviderPrimary, Client: primary, DefaultModel: "evil", StaticTimeout: time.Second}},
		Order:    []llm.ProviderName{llm.ProviderPrimary},
		Guard:    newTestGuard(),
	})

	result, err := r.RouteGenerateText(context.Background(), Request{
		Messages:          []llm.Message{{Role: llm.RoleSystem, Content: "You are J."}, {Role: llm.RoleUser, Content: "hi"}},
		PreferredProvider: llm.ProviderPrimary,
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderPrimary, result.Provider)
	assert.Equal(t, "evil", result.Model)
	assert.False(t, result.Failover)
	assert.Equal(t, "hello", result.Response.Choices[0].Message.Content)
}

// S2 — failover then restore: primary fails, secondary succeeds, then a
// healthy primary restoration fires after the cooldown.
func TestRouteGenerateText_FailoverThenRestore(t *testing.T) {
	primary := newStub("primary", failResponse(llm.ErrTransientUpstream))
	primary.healthy = true
	secondary := newStub("secondary", okResponse("sup"))

	r := New(Config{
		Bindings: []*Binding{
			{Name: llm.ProviderSecondary, Client: secondary, DefaultModel: "sec-default", StaticTimeout: time.Second},
			{Name: llm.ProviderPrimary, Client: primary, DefaultModel: "evil", StaticTimeout: time.Second},
		},
		Order:           []llm.ProviderName{llm.ProviderPrimary, llm.ProviderSecondary},
		Guard:           newTestGuard(),
		RestoreEnabled:  true,
		RestoreCooldown: 20 * time.Millisecond,
	})

	result, err := r.RouteGenerateText(context.Background(), Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderSecondary, result.Provider)
	assert.True(t, result.Failover)

	snap := r.Snapshot()
	assert.Equal(t, llm.ProviderSecondary, snap.CurrentProvider)
	require.NotNil(t, snap.Failover)
	assert.Equal(t, llm.ProviderPrimary, snap.PreferredProvider)

	require.Eventually(t, func() bool {
		return r.Snapshot().CurrentProvider == llm.ProviderPrimary
	}, time.Second, 5*time.Millisecond)

	final := r.Snapshot()
	assert.Nil(t, final.Failover)
	r.Stop()
}

// S3 — daily quota exhausted on the quota-tracked provider: the router
// skips it without touching its counter and falls through to the next
// candidate.
func TestRouteGenerateText_DailyQuotaExhaustedSkipsProvider(t *testing.T) {
	primary := newStub("primary", okResponse("fallback-ok"))
	secondary := newStub("secondary", okResponse("should-not-be-used"))

	guard := quota.NewGuard()
	guard.Register(quota.ProviderConfig{Name: llm.ProviderSecondary, PerMinuteLimit: 100, QuotaTracked: true, DailyLimit: 1})
	guard.RecordRequest(llm.ProviderSecondary, time.Now(), true) // exhaust the daily=1 limit
	guard.Register(quota.ProviderConfig{Name: llm.ProviderPrimary, PerMinuteLimit: 100})

	r := New(Config{
		Bindings: []*Binding{
			{Name: llm.ProviderSecondary, Client: secondary, DefaultModel: "sec", StaticTimeout: time.Second},
			{Name: llm.ProviderPrimary, Client: primary, DefaultModel: "evil", StaticTimeout: time.Second},
		},
		Order: []llm.ProviderName{llm.ProviderSecondary, llm.ProviderPrimary},
		Guard: guard,
	})

	before := guard.DailyUsage(llm.ProviderSecondary, time.Now())
	result, err := r.RouteGenerateText(context.Background(), Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderPrimary, result.Provider)
	assert.Equal(t, before, guard.DailyUsage(llm.ProviderSecondary, time.Now()))
}

// Per-minute admission denial aborts the whole request instead of trying
// other providers, preserving caller back-pressure isolation.
func TestRouteGenerateText_PerMinuteDenialAbortsWholeRequest(t *testing.T) {
	primary := newStub("primary", okResponse("unused"))
	secondary := newStub("secondary", okResponse("unused"))

	guard := quota.NewGuard()
	guard.Register(quota.ProviderConfig{Name: llm.ProviderSecondary, PerMinuteLimit: 1})
	guard.RecordRequest(llm.ProviderSecondary, time.Now(), false)
	guard.Register(quota.ProviderConfig{Name: llm.ProviderPrimary, PerMinuteLimit: 100})

	r := New(Config{
		Bindings: []*Binding{
			{Name: llm.ProviderSecondary, Client: secondary, DefaultModel: "sec", StaticTimeout: time.Second},
			{Name: llm.ProviderPrimary, Client: primary, DefaultModel: "evil", StaticTimeout: time.Second},
		},
		Order: []llm.ProviderName{llm.ProviderSecondary, llm.ProviderPrimary},
		Guard: guard,
	})

	_, err := r.RouteGenerateText(context.Background(), Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	e, ok := err.(*llm.Error)
	require.True(t, ok)
	assert.Equal(t, llm.KindRateLimitedLocal, e.Kind)
	assert.Equal(t, 0, primary.calls)
	assert.Equal(t, 0, secondary.calls)
}

// S5 — tool-request re-targeting: a model outside the tool-capable
// allow-list is substituted before dispatch.
func TestRouteGenerateText_SubstitutesToolCapableModel(t *testing.T) {
	var captured *llm.ChatRequest
	primary := newStub("primary", func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		captured = req
		return &llm.ChatResponse{Model: req.Model, Choices: []llm.ChatChoice{{Message: llm.Message{Role: llm.RoleAssistant, Content: "ok"}}}}, nil
	})

	r := New(Config{
		Bindings: []*Binding{{
			Name:               llm.ProviderPrimary,
			Client:             primary,
			DefaultModel:       "foo",
			ToolCapableModels:  map[string]struct{}{"openai": {}},
			ToolCapableDefault: "openai",
			StaticTimeout:      time.Second,
		}},
		Order: []llm.ProviderName{llm.ProviderPrimary},
		Guard: newTestGuard(),
	})

	_, err := r.RouteGenerateText(context.Background(), Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Model:    "foo",
		Tools:    []llm.ToolSchema{{Name: "lookup"}},
	})
	require.NoError(t, err)
	require.NotNil(t, captured)
	assert.Equal(t, "openai", captured.Model)
}

// All candidates failing surfaces all_providers_failed with a sanitized
// last_error.
func TestRouteGenerateText_AllProvidersFailedSanitizesMessage(t *testing.T) {
	primary := newStub("primary", func(*llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, llm.NewError(llm.ErrTransientUpstream, "upstream at https://internal.example.com/v1/secret-path failed for user test@example.com")
	})

	r := New(Config{
		Bindings: []*Binding{{Name: llm.ProviderPrimary, Client: primary, DefaultModel: "evil", StaticTimeout: time.Second}},
		Order:    []llm.ProviderName{llm.ProviderPrimary},
		Guard:    newTestGuard(),
	})

	_, err := r.RouteGenerateText(context.Background(), Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	e, ok := err.(*llm.Error)
	require.True(t, ok)
	assert.Equal(t, llm.KindAllProvidersFailed, e.Kind)
	assert.NotContains(t, e.Message, "https://")
	assert.NotContains(t, e.Message, "@example.com")
	assert.LessOrEqual(t, len(e.Message), 200)
}

// Round-trip property: route_generate_text with preferred_provider=X on a
// healthy system selects X first, even when X is not the fixed-order head.
func TestRouteGenerateText_PreferredProviderSelectedFirst(t *testing.T) {
	primary := newStub("primary", okResponse("from-primary"))
	secondary := newStub("secondary", okResponse("from-secondary"))

	r := New(Config{
		Bindings: []*Binding{
			{Name: llm.ProviderSecondary, Client: secondary, DefaultModel: "sec", StaticTimeout: time.Second},
			{Name: llm.ProviderPrimary, Client: primary, DefaultModel: "evil", StaticTimeout: time.Second},
		},
		Order: []llm.ProviderName{llm.ProviderSecondary, llm.ProviderPrimary},
		Guard: newTestGuard(),
	})

	result, err := r.RouteGenerateText(context.Background(), Request{
		Messages:          []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		PreferredProvider: llm.ProviderPrimary,
	})
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderPrimary, result.Provider)
	assert.Equal(t, 0, secondary.calls)
}

// A request-level deadline that elapses between attempts stops the loop
// before a second candidate is ever dispatched.
func TestRouteGenerateText_ContextDeadlineStopsLoopBetweenAttempts(t *testing.T) {
	primary := newStub("primary", failResponse(llm.ErrTransientUpstream))
	secondary := newStub("secondary", okResponse("should-not-run"))

	r := New(Config{
		Bindings: []*Binding{
			{Name: llm.ProviderPrimary, Client: primary, DefaultModel: "evil", StaticTimeout: time.Second},
			{Name: llm.ProviderSecondary, Client: secondary, DefaultModel: "sec", StaticTimeout: time.Second},
		},
		Order: []llm.ProviderName{llm.ProviderPrimary, llm.ProviderSecondary},
		Guard: newTestGuard(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	primary.completions[0] = func(req *llm.ChatRequest) (*llm.ChatResponse, error) {
		cancel() // deadline elapses while the first attempt is still "in flight"
		return nil, llm.NewError(llm.ErrTransientUpstream, "boom").WithRetryable(false)
	}

	_, err := r.RouteGenerateText(ctx, Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Equal(t, 0, secondary.calls)
}

func TestOverride_CancelsRestorationAndClearsRecord(t *testing.T) {
	primary := newStub("primary", failResponse(llm.ErrTransientUpstream))
	secondary := newStub("secondary", okResponse("sup"))

	r := New(Config{
		Bindings: []*Binding{
			{Name: llm.ProviderSecondary, Client: secondary, DefaultModel: "sec", StaticTimeout: time.Second},
			{Name: llm.ProviderPrimary, Client: primary, DefaultModel: "evil", StaticTimeout: time.Second},
		},
		Order:           []llm.ProviderName{llm.ProviderPrimary, llm.ProviderSecondary},
		Guard:           newTestGuard(),
		RestoreEnabled:  true,
		RestoreCooldown: time.Hour,
	})

	_, err := r.RouteGenerateText(context.Background(), Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	require.NotNil(t, r.Snapshot().Failover)

	r.Override(llm.ProviderPrimary, "evil")
	snap := r.Snapshot()
	assert.Nil(t, snap.Failover)
	assert.Equal(t, llm.ProviderPrimary, snap.CurrentProvider)
}
