package llm

import "time"

// ============================================================
// Provider descriptors
// ============================================================
//
// The core holds no persisted provider catalogue — every provider is wired
// at startup from configuration — so these are plain structs rather than
// database-backed records.

// ProviderName identifies one of the two configured provider clients.
type ProviderName string

const (
	ProviderPrimary   ProviderName = "primary"
	ProviderSecondary ProviderName = "secondary"
)

// ProviderDescriptor is the static configuration of one provider client,
// assembled once at startup from environment variables.
type ProviderDescriptor struct {
	Name            ProviderName
	BaseURL         string
	APIKey          string
	DefaultModel    string
	TextTimeout     time.Duration
	HealthTimeout   time.Duration
	RateLimitPerMin int
	Enabled         bool
}

// ============================================================
// Per-provider usage bookkeeping
// ============================================================

// ProviderUsage tracks the rolling request/failure totals for one provider
// client, for observability only — admission decisions live in package
// quota, which has its own sliding-window and daily-counter state.
type ProviderUsage struct {
	TotalRequests  int64
	FailedRequests int64
	LastUsedAt     time.Time
	LastErrorAt    time.Time
	LastError      string
}

// RecordResult updates the rolling total/failure counters after a call
// completes.
func (u *ProviderUsage) RecordResult(success bool, errMsg string) {
	now := time.Now()
	u.TotalRequests++
	u.LastUsedAt = now
	if !success {
		u.FailedRequests++
		u.LastErrorAt = now
		u.LastError = errMsg
	}
}

// FailureRate returns the fraction of failed calls, or 0 before any call
// has been recorded.
func (u *ProviderUsage) FailureRate() float64 {
	if u.TotalRequests == 0 {
		return 0
	}
	return float64(u.FailedRequests) / float64(u.TotalRequests)
}
