package quota

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/jakeyflow/core/llm"
)

func TestGuard_AdmitsWithinPerMinuteLimit(t *testing.T) {
	g := NewGuard()
	g.Register(ProviderConfig{Name: llm.ProviderPrimary, PerMinuteLimit: 3})

	now := time.Now()
	for i := 0; i < 3; i++ {
		d := g.Admit(llm.ProviderPrimary, now)
		assert.True(t, d.Admit)
		g.RecordRequest(llm.ProviderPrimary, now, false)
	}
}

// Boundary scenario: per-minute limit at N with N timestamps within the last
// 60s — the N+1-th call returns rate_limited_local (here: denied with
// ReasonPerMinute) without being admitted.
func TestGuard_DeniesOnPerMinuteLimitExceeded(t *testing.T) {
	g := NewGuard()
	g.Register(ProviderConfig{Name: llm.ProviderPrimary, PerMinuteLimit: 2})

	now := time.Now()
	g.RecordRequest(llm.ProviderPrimary, now, false)
	g.RecordRequest(llm.ProviderPrimary, now, false)

	d := g.Admit(llm.ProviderPrimary, now)
	assert.False(t, d.Admit)
	assert.Equal(t, ReasonPerMinute, d.Reason)
}

func TestGuard_PurgesStaleWindowEntries(t *testing.T) {
	g := NewGuard()
	g.Register(ProviderConfig{Name: llm.ProviderPrimary, PerMinuteLimit: 1})

	base := time.Now()
	g.RecordRequest(llm.ProviderPrimary, base, false)

	later := base.Add(61 * time.Second)
	d := g.Admit(llm.ProviderPrimary, later)
	assert.True(t, d.Admit)
	assert.Equal(t, 0, g.WindowSize(llm.ProviderPrimary, later))
}

// S3 — Daily quota exhausted on Secondary.
func TestGuard_DeniesOnDailyLimitExhausted(t *testing.T) {
	g := NewGuard()
	g.Register(ProviderConfig{Name: llm.ProviderSecondary, PerMinuteLimit: 60, QuotaTracked: true, DailyLimit: 50})

	now := time.Now()
	for i := 0; i < 50; i++ {
		g.RecordRequest(llm.ProviderSecondary, now, true)
	}

	d := g.Admit(llm.ProviderSecondary, now)
	assert.False(t, d.Admit)
	assert.Equal(t, ReasonDaily, d.Reason)
	assert.Equal(t, 50, g.DailyUsage(llm.ProviderSecondary, now))
}

func TestGuard_DailyCounterResetsAtUTCRollover(t *testing.T) {
	g := NewGuard()
	g.Register(ProviderConfig{Name: llm.ProviderSecondary, PerMinuteLimit: 60, QuotaTracked: true, DailyLimit: 5})

	day1 := time.Date(2026, 7, 30, 23, 59, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		g.RecordRequest(llm.ProviderSecondary, day1, true)
	}
	assert.False(t, g.Admit(llm.ProviderSecondary, day1).Admit)

	day2 := time.Date(2026, 7, 31, 0, 0, 1, 0, time.UTC)
	assert.True(t, g.Admit(llm.ProviderSecondary, day2).Admit)
	assert.Equal(t, 0, g.DailyUsage(llm.ProviderSecondary, day2))
}

func TestGuard_NegativeCreditDeniesPaymentRequired(t *testing.T) {
	g := NewGuard()
	g.Register(ProviderConfig{Name: llm.ProviderSecondary, PerMinuteLimit: 60, QuotaTracked: true, DailyLimit: 1000})
	g.SetRemainingCredit(llm.ProviderSecondary, -1)

	d := g.Admit(llm.ProviderSecondary, time.Now())
	assert.False(t, d.Admit)
	assert.Equal(t, ReasonPaymentRequired, d.Reason)
}

func TestGuard_UnregisteredProviderAlwaysAdmits(t *testing.T) {
	g := NewGuard()
	assert.True(t, g.Admit(llm.ProviderName("unknown"), time.Now()).Admit)
}

// Property: for any provider P, at any instant the size of P's sliding
// window never exceeds P's per-minute limit.
func TestProperty_WindowSizeNeverExceedsLimit(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("admitted requests never push the window past the limit", prop.ForAll(
		func(limit int, attempts int) bool {
			g := NewGuard()
			g.Register(ProviderConfig{Name: llm.ProviderPrimary, PerMinuteLimit: limit})

			now := time.Now()
			for i := 0; i < attempts; i++ {
				d := g.Admit(llm.ProviderPrimary, now)
				if d.Admit {
					g.RecordRequest(llm.ProviderPrimary, now, false)
				}
				if g.WindowSize(llm.ProviderPrimary, now) > limit {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 20),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}
