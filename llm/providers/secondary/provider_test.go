package secondary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jakeyflow/core/llm"
	"github.com/jakeyflow/core/llm/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) (*Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	p := New(Config{BaseURL: srv.URL, APIKey: "key", TextTimeout: 5 * time.Second}, zap.NewNop())
	return p, srv
}

func TestProvider_Name(t *testing.T) {
	p := New(Config{}, nil)
	assert.Equal(t, "secondary", p.Name())
}

func TestProvider_SupportsImagesIsTrue(t *testing.T) {
	p := New(Config{}, nil)
	assert.True(t, p.SupportsImages())
}

func TestCompletion_DefaultsReasoningToDisabled(t *testing.T) {
	var captured providers.OpenAICompatRequest
	p, srv := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			Choices: []providers.OpenAICompatChoice{{Message: providers.OpenAICompatMessage{Role: "assistant", Content: "hi"}}},
		})
	})
	defer srv.Close()

	req := &llm.ChatRequest{Model: "x/y", Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
	_, err := p.Completion(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, captured.Reasoning)
	assert.False(t, captured.Reasoning.Enabled)
}

func TestCompletion_CapsFallbackModelsAtThree(t *testing.T) {
	var captured providers.OpenAICompatRequest
	p, srv := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			Choices: []providers.OpenAICompatChoice{{Message: providers.OpenAICompatMessage{Role: "assistant", Content: "hi"}}},
		})
	})
	defer srv.Close()

	req := &llm.ChatRequest{
		Model:          "x/y",
		Messages:       []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		FallbackModels: []string{"a", "b", "c", "d", "e"},
	}
	_, err := p.Completion(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, captured.Models, 3)
	assert.Equal(t, []string{"a", "b", "c"}, captured.Models)
}

func TestCompletion_PassesAbuseUserIDAsUser(t *testing.T) {
	var captured providers.OpenAICompatRequest
	p, srv := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			Choices: []providers.OpenAICompatChoice{{Message: providers.OpenAICompatMessage{Role: "assistant", Content: "hi"}}},
		})
	})
	defer srv.Close()

	req := &llm.ChatRequest{
		Model:       "x/y",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		AbuseUserID: "discord-user-123",
	}
	_, err := p.Completion(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "discord-user-123", captured.User)
}

func TestCompletion_StripsProviderPrefsAfterRecoverable404(t *testing.T) {
	attempts := 0
	var secondAttemptHadProvider bool
	p, srv := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		var body providers.OpenAICompatRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if attempts == 1 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"no endpoints found"}}`))
			return
		}
		secondAttemptHadProvider = body.Provider != nil
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(providers.OpenAICompatResponse{
			Choices: []providers.OpenAICompatChoice{{Message: providers.OpenAICompatMessage{Role: "assistant", Content: "ok"}}},
		})
	})
	defer srv.Close()

	req := &llm.ChatRequest{
		Model:    "x/y",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Routing:  &llm.ProviderRouting{Order: []string{"anthropic"}},
	}
	resp, err := p.Completion(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, 2, attempts)
	assert.False(t, secondAttemptHadProvider)
}

func TestGetKeyInfo_CachesWithinTTL(t *testing.T) {
	calls := 0
	p, srv := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		limit := 100.0
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"label": "test", "usage": 10.0, "limit": limit},
		})
	})
	defer srv.Close()

	info1, err := p.GetKeyInfo(context.Background())
	require.NoError(t, err)
	info2, err := p.GetKeyInfo(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, info1, info2)
	assert.Equal(t, int64(90), info1.RemainingCredit())
}

func TestKeyInfo_RemainingCreditUnboundedWithoutLimit(t *testing.T) {
	info := &KeyInfo{Usage: 10}
	assert.Greater(t, info.RemainingCredit(), int64(0))
}
