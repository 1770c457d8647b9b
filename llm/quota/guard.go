// Package quota implements the Rate & Quota Guard (C2): a per-provider
// sliding-window rate limit plus a per-UTC-day free-tier counter. The guard
// is the single authority on whether a request may be admitted to a
// provider; the router consults it before every attempt.
package quota

import (
	"sync"
	"time"

	"github.com/jakeyflow/core/llm"
)

// Reason names why Admit refused a request.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonPerMinute        Reason = "per_minute"
	ReasonDaily            Reason = "daily"
	ReasonPaymentRequired  Reason = "payment_required"
)

// Decision is the guard's answer for one admission check.
type Decision struct {
	Admit  bool
	Reason Reason
}

// ProviderConfig describes one provider's admission rules.
type ProviderConfig struct {
	Name            llm.ProviderName
	PerMinuteLimit  int
	QuotaTracked    bool // true for the secondary provider
	DailyLimit      int
}

type providerState struct {
	mu sync.Mutex

	cfg ProviderConfig

	window []time.Time // request timestamps within the last 60s, oldest first

	freeRequestsToday int
	counterDate       string // YYYY-MM-DD in UTC

	remainingCredit    int64
	remainingCreditSet bool
}

// Guard is the Rate & Quota Guard. Safe for concurrent use; every provider's
// state is serialized behind its own mutex so one provider's admission
// check never blocks another's.
type Guard struct {
	mu        sync.RWMutex
	providers map[llm.ProviderName]*providerState
}

// NewGuard returns an empty guard. Call Register for each provider before
// routing requests to it.
func NewGuard() *Guard {
	return &Guard{providers: make(map[llm.ProviderName]*providerState)}
}

// Register adds or replaces a provider's admission configuration.
func (g *Guard) Register(cfg ProviderConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[cfg.Name] = &providerState{cfg: cfg}
}

func (g *Guard) state(provider llm.ProviderName) *providerState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.providers[provider]
}

// Admit decides whether a request to provider may proceed at time now. It
// purges sliding-window entries older than 60s on every call, per the data
// model's read-time purge invariant.
func (g *Guard) Admit(provider llm.ProviderName, now time.Time) Decision {
	ps := g.state(provider)
	if ps == nil {
		return Decision{Admit: true}
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.purgeLocked(now)

	if len(ps.window) >= ps.cfg.PerMinuteLimit && ps.cfg.PerMinuteLimit > 0 {
		return Decision{Admit: false, Reason: ReasonPerMinute}
	}

	if ps.cfg.QuotaTracked {
		ps.resetDailyIfNewDayLocked(now)
		if ps.freeRequestsToday >= ps.cfg.DailyLimit {
			return Decision{Admit: false, Reason: ReasonDaily}
		}
		if ps.remainingCreditSet && ps.remainingCredit < 0 {
			return Decision{Admit: false, Reason: ReasonPaymentRequired}
		}
	}

	return Decision{Admit: true}
}

// RecordRequest appends a timestamp to the sliding window, atomically with
// the admission check that authorized it so a request admitted at time t
// always counts against the window before any later reader observes it.
// freeTier reports whether this request should count against the daily
// free-tier counter: both a successful 200 on a free-tier model and a 429
// (it still consumed quota upstream) increment the counter.
func (g *Guard) RecordRequest(provider llm.ProviderName, now time.Time, freeTier bool) {
	ps := g.state(provider)
	if ps == nil {
		return
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.window = append(ps.window, now)

	if freeTier && ps.cfg.QuotaTracked {
		ps.resetDailyIfNewDayLocked(now)
		ps.freeRequestsToday++
	}
}

// SetRemainingCredit updates the provider's known remaining credit, as
// reported by the secondary provider's key-info endpoint. A negative value
// signals payment_required on subsequent admission checks.
func (g *Guard) SetRemainingCredit(provider llm.ProviderName, credit int64) {
	ps := g.state(provider)
	if ps == nil {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.remainingCredit = credit
	ps.remainingCreditSet = true
}

// WindowSize reports the current sliding-window occupancy after purging
// stale entries, for metrics and tests.
func (g *Guard) WindowSize(provider llm.ProviderName, now time.Time) int {
	ps := g.state(provider)
	if ps == nil {
		return 0
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.purgeLocked(now)
	return len(ps.window)
}

// DailyUsage reports the current day's free-tier counter, for metrics.
func (g *Guard) DailyUsage(provider llm.ProviderName, now time.Time) int {
	ps := g.state(provider)
	if ps == nil {
		return 0
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.resetDailyIfNewDayLocked(now)
	return ps.freeRequestsToday
}

func (ps *providerState) purgeLocked(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(ps.window) && ps.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		ps.window = ps.window[i:]
	}
}

func (ps *providerState) resetDailyIfNewDayLocked(now time.Time) {
	day := now.UTC().Format("2006-01-02")
	if ps.counterDate != day {
		ps.counterDate = day
		ps.freeRequestsToday = 0
	}
}
