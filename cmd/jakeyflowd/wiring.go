package main

import (
	"go.uber.org/zap"

	"github.com/jakeyflow/core/config"
	"github.com/jakeyflow/core/internal/metrics"
	"github.com/jakeyflow/core/llm"
	"github.com/jakeyflow/core/llm/assembler"
	"github.com/jakeyflow/core/llm/providers/primary"
	"github.com/jakeyflow/core/llm/providers/secondary"
	"github.com/jakeyflow/core/llm/quota"
	"github.com/jakeyflow/core/llm/router"
	"github.com/jakeyflow/core/llm/timeout"
	"github.com/jakeyflow/core/llm/uniqueness"
	"github.com/jakeyflow/core/platform/chatadapter"
	"github.com/jakeyflow/core/storage/memstore"
)

// toolCapableFallbackModel mirrors the primary client's own constant; the
// two are kept independent on purpose so a naming change on one side is
// forced to update the other's binding explicitly rather than silently
// drift.
const toolCapableFallbackModel = "openai"

// buildRouter assembles C1-C4 from configuration: provider clients, the
// quota guard, and the router that dispatches between them. It always
// returns a router: the primary binding is registered unconditionally and
// the secondary binding only when it is enabled.
func buildRouter(cfg *config.Config, collector *metrics.Collector, logger *zap.Logger) *router.Router {
	guard := quota.NewGuard()
	var bindings []*router.Binding
	var order []llm.ProviderName

	primaryClient := primary.New(primary.Config{
		BaseURL:         cfg.Primary.TextAPI,
		APIToken:        cfg.Primary.APIToken,
		DefaultModel:    cfg.Primary.DefaultModel,
		TextTimeout:     cfg.Primary.TextTimeout,
		HealthTimeout:   cfg.Primary.HealthTimeout,
		RateLimitPerMin: cfg.Primary.RateLimitPerMin,
	}, logger)
	guard.Register(quota.ProviderConfig{Name: llm.ProviderPrimary, PerMinuteLimit: cfg.Primary.RateLimitPerMin})
	bindings = append(bindings, &router.Binding{
		Name:               llm.ProviderPrimary,
		Client:             primaryClient,
		DefaultModel:       cfg.Primary.DefaultModel,
		ToolCapableModels:  map[string]struct{}{toolCapableFallbackModel: {}},
		ToolCapableDefault: toolCapableFallbackModel,
		StaticTimeout:      cfg.Primary.TextTimeout,
		TimeoutBounds:      timeout.Bounds{Min: cfg.Timeout.DynamicMin, Max: cfg.Timeout.DynamicMax},
		Latency:            latencyProfileOrNil(cfg.Timeout.DynamicEnabled),
	})
	order = append(order, llm.ProviderPrimary)

	if cfg.Secondary.Enabled {
		secondaryClient := secondary.New(secondary.Config{
			BaseURL:         cfg.Secondary.APIURL,
			APIKey:          cfg.Secondary.APIKey,
			DefaultModel:    cfg.Secondary.DefaultModel,
			TextTimeout:     cfg.Secondary.TextTimeout,
			HealthTimeout:   cfg.Secondary.HealthTimeout,
			RateLimitPerMin: cfg.Secondary.RateLimitPerMin,
			SiteURL:         cfg.Secondary.SiteURL,
			AppName:         cfg.Secondary.AppName,
		}, logger)
		guard.Register(quota.ProviderConfig{
			Name:           llm.ProviderSecondary,
			PerMinuteLimit: cfg.Secondary.RateLimitPerMin,
			QuotaTracked:   true,
			DailyLimit:     cfg.Secondary.FreeTierDailyLimit,
		})
		bindings = append([]*router.Binding{{
			Name:          llm.ProviderSecondary,
			Client:        secondaryClient,
			DefaultModel:  cfg.Secondary.DefaultModel,
			StaticTimeout: cfg.Secondary.TextTimeout,
			TimeoutBounds: timeout.Bounds{Min: cfg.Timeout.DynamicMin, Max: cfg.Timeout.DynamicMax},
			Latency:       latencyProfileOrNil(cfg.Timeout.DynamicEnabled),
		}}, bindings...)
		order = append([]llm.ProviderName{llm.ProviderSecondary}, order...)
	}

	return router.New(router.Config{
		Bindings:        bindings,
		Order:           order,
		Guard:           guard,
		Metrics:         collector,
		Logger:          logger,
		RestoreEnabled:  cfg.Fallback.RestoreEnabled,
		RestoreCooldown: cfg.Fallback.RestoreTimeoutSeconds,
	})
}

func latencyProfileOrNil(dynamicEnabled bool) *timeout.LatencyProfile {
	if !dynamicEnabled {
		return nil
	}
	return timeout.NewLatencyProfile()
}

// buildChatService wires C6 (assembler) and C5 (uniqueness filter) on top
// of an already-constructed router, backed by the in-memory reference
// Storage and ChatPlatform implementations.
func buildChatService(r *router.Router, collector *metrics.Collector, logger *zap.Logger) (*ChatService, *memstore.Store) {
	store := memstore.New(0)
	filter := uniqueness.New(uniqueness.Config{Metrics: collector, Logger: logger})
	asm := assembler.New(assembler.Config{Storage: store, Filter: filter})
	platform := chatadapter.NewInMemory(nil)

	return NewChatService(asm, r, store, platform, logger), store
}
