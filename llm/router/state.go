package router

import (
	"time"

	"github.com/jakeyflow/core/llm"
)

// RouterState is the router's current NORMAL/FALLBACK position: which
// provider+model a request is dispatched to first absent any per-request
// override, and which provider+model the router would rather be using.
type RouterState struct {
	CurrentProvider   llm.ProviderName
	CurrentModel      string
	PreferredProvider llm.ProviderName
	PreferredModel    string
	Failover          *FailoverRecord
}

// InFallback reports whether the router is currently diverted away from its
// preferred provider.
func (s RouterState) InFallback() bool {
	return s.Failover != nil
}

// FailoverRecord describes one active diversion away from the preferred
// provider. At most one exists at a time; a new failover replaces it and
// reschedules restoration.
type FailoverRecord struct {
	OriginalProvider   llm.ProviderName
	OriginalModel      string
	FallbackProvider   llm.ProviderName
	FallbackModel      string
	StartedAt          time.Time
	UserPreferredModel string
}

// snapshot returns a defensive copy safe to hand to a caller outside the
// router's lock.
func (s RouterState) snapshot() RouterState {
	if s.Failover == nil {
		return s
	}
	rec := *s.Failover
	s.Failover = &rec
	return s
}
