/*
Package server provides HTTP/HTTPS server lifecycle management: non-blocking
start, graceful shutdown, and OS signal handling.

# Overview

Manager wraps net/http.Server and unifies listen/serve/shutdown/error
propagation into one lifecycle. Both plain HTTP and TLS are supported, with
built-in SIGINT/SIGTERM handling for production-grade graceful stop.

# Core types

  - Manager: holds the http.Server, its net.Listener, and an async error
    channel; exposes Start/StartTLS/Shutdown/WaitForShutdown.
  - Config: listen address, read/write/idle timeouts, max header size, and
    shutdown timeout.
*/
package server
