/*
Package main is the jakeyflowd executable entrypoint: an HTTP API service
wrapping the AI Request Core, plus health, version, and Prometheus metrics
endpoints.

# Overview

cmd/jakeyflowd loads a YAML config file plus environment variable
overrides, sets up structured logging (zap) and optional OpenTelemetry
export, then starts two listeners: the API port and a separate metrics
port.

# Core types

  - Server: owns the HTTP and metrics listeners and coordinates graceful
    shutdown
  - Middleware: the http.Handler wrapper signature used by the middleware
    chain
  - responseWriter / metricsResponseWriter: wrap http.ResponseWriter to
    capture status code and bytes written

# Capabilities

  - Subcommands: serve, version, health
  - Middleware chain: Recovery, RequestID, SecurityHeaders, RequestLogger,
    MetricsMiddleware, CORS, RateLimiter (per-IP), APIKeyAuth
  - Metrics server: exposes /metrics on its own port
  - Graceful shutdown: signal -> stop HTTP -> stop metrics -> flush telemetry
  - Build info: Version, BuildTime, GitCommit injected via ldflags
*/
package main
