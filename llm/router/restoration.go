package router

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jakeyflow/core/llm"
)

// healthProbeRate bounds how often fireRestoration may issue a live
// HealthProbe call against a preferred provider. The restoration timer
// already gates most repeats, but SetUserPreferredModel/Override/a fresh
// failover can re-arm it well inside one cooldown window; the limiter
// keeps back-to-back firings from hammering a provider that is still
// recovering.
var healthProbeRate = rate.Every(5 * time.Second)

// onSuccess applies one successful attempt's outcome to RouterState,
// implementing the NORMAL/FALLBACK state machine:
//
//	NORMAL  --(success on preferred)-------> NORMAL
//	NORMAL  --(success on non-preferred)---> FALLBACK  [schedule restoration]
//	FALLBACK--(new failover)----------------> FALLBACK  [replace + reschedule]
func (r *Router) onSuccess(provider llm.ProviderName, model string, req Request, failover bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.CurrentProvider = provider
	r.state.CurrentModel = model

	onPreferred := provider == r.state.PreferredProvider
	if onPreferred && !r.state.InFallback() {
		r.publishStateLocked()
		return
	}

	if onPreferred {
		// Success on the preferred provider while a stale record lingers
		// (e.g. a manual retry raced the restoration timer) clears it.
		r.cancelRestorationLocked()
		r.state.Failover = nil
		r.publishStateLocked()
		return
	}

	rec := &FailoverRecord{
		OriginalProvider: r.state.PreferredProvider,
		OriginalModel:    r.state.PreferredModel,
		FallbackProvider: provider,
		FallbackModel:    model,
		StartedAt:        time.Now(),
	}
	if r.state.Failover != nil {
		rec.UserPreferredModel = r.state.Failover.UserPreferredModel
	}
	r.state.Failover = rec

	r.logger.Info("router entering fallback",
		zap.String("preferred_provider", string(rec.OriginalProvider)),
		zap.String("fallback_provider", string(rec.FallbackProvider)),
	)

	r.scheduleRestorationLocked()
	r.publishStateLocked()
}

// scheduleRestorationLocked (re)arms the one-shot restoration timer. Callers
// must hold r.mu. A prior outstanding timer is cancelled first — "a new
// failover replaces the record and reschedules".
func (r *Router) scheduleRestorationLocked() {
	r.cancelRestorationLocked()
	if !r.restoreEnabled {
		return
	}

	r.restoreGen++
	gen := r.restoreGen
	r.restoreTmr = time.AfterFunc(r.restoreCooldown, func() {
		r.fireRestoration(gen)
	})
}

// cancelRestorationLocked stops any outstanding timer and invalidates its
// generation so a race with an in-flight firing is a no-op.
func (r *Router) cancelRestorationLocked() {
	if r.restoreTmr != nil {
		r.restoreTmr.Stop()
		r.restoreTmr = nil
	}
	r.restoreGen++
}

// fireRestoration runs when the cooldown elapses. It health-probes the
// preferred provider directly — "most recent health probe" is taken to mean
// a fresh probe at restoration time, since the core otherwise performs no
// continuous background health polling.
func (r *Router) fireRestoration(gen uint64) {
	r.mu.Lock()
	if gen != r.restoreGen || r.state.Failover == nil {
		r.mu.Unlock()
		return
	}
	preferred := r.state.PreferredProvider
	rec := r.state.Failover
	r.mu.Unlock()

	binding, ok := r.bindings[preferred]
	healthy := false
	if ok && binding.Client != nil {
		probeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.healthProbeLimiter.Wait(probeCtx); err != nil {
			r.logger.Info("restoration health probe throttled",
				zap.String("preferred_provider", string(preferred)),
			)
			cancel()
			return
		}
		status, err := binding.Client.HealthProbe(probeCtx)
		cancel()
		healthy = err == nil && status != nil && status.Healthy
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The record may have been replaced or cleared while the probe was
	// in flight; only act if this firing still matches the live record.
	if gen != r.restoreGen || r.state.Failover != rec {
		return
	}

	if !healthy {
		r.logger.Info("restoration skipped, preferred provider still unhealthy",
			zap.String("preferred_provider", string(preferred)),
		)
		return
	}

	model := rec.OriginalModel
	if rec.UserPreferredModel != "" {
		model = rec.UserPreferredModel
	}

	r.state.CurrentProvider = preferred
	r.state.CurrentModel = model
	r.state.Failover = nil
	r.restoreTmr = nil

	r.logger.Info("router restored to preferred provider",
		zap.String("provider", string(preferred)),
		zap.String("model", model),
	)
	r.publishStateLocked()
}

// Override applies a manual model/provider override: it is the "user
// override" transition in the state machine — cancel any outstanding
// restoration timer, clear the failover record, and adopt the requested
// provider/model directly.
func (r *Router) Override(provider llm.ProviderName, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelRestorationLocked()
	r.state.CurrentProvider = provider
	r.state.CurrentModel = model
	r.state.Failover = nil
	r.publishStateLocked()
}

// SetUserPreferredModel records a user's model preference to apply the next
// time restoration succeeds, mirroring the failover record's optional
// user-preferred-model field.
func (r *Router) SetUserPreferredModel(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Failover != nil {
		r.state.Failover.UserPreferredModel = model
	}
}

func (r *Router) publishState() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishStateLocked()
}

func (r *Router) publishStateLocked() {
	if r.metrics == nil {
		return
	}
	state := "normal"
	if r.state.InFallback() {
		state = "fallback"
	}
	r.metrics.SetRouterState(state)
}
