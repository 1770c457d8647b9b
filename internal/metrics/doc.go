/*
Package metrics provides Prometheus-based metrics collection for the AI
Request Core, covering the ambient HTTP surface and the five domain
components that sit behind it.

# Overview

Collector registers and records every Prometheus series through promauto's
auto-registration, so callers never manage a Registry by hand. Series are
isolated by namespace and grouped by the labels each domain needs.

# Core types

  - Collector: holds the Counter/Histogram/Gauge vectors, grouped by concern.

# What gets recorded

  - HTTP: request totals and duration, request/response sizes, grouped by
    method/path and a 2xx/3xx/4xx/5xx status class.
  - Provider clients (C1): request totals by outcome kind, duration, and
    token usage, grouped by provider/model.
  - Rate & quota guard (C2): rejections before a request ever reaches a
    provider, and the current daily free-tier usage gauge.
  - Backoff/timeout controller (C3): the current dynamic timeout per
    provider and a count of scheduled retries by error code.
  - Router/failover core (C4): failovers between providers, the current
    NORMAL/FALLBACK state, and a counter for requests where every
    candidate failed.
  - Uniqueness filter (C5): replies flagged as repetitive, signature cache size, and
    each user's current adaptive similarity threshold.
*/
package metrics
