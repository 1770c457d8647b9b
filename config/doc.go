/*
Package config loads the AI Request Core's configuration.

# Overview

config owns the full lifecycle of the process configuration: provider
endpoints and credentials, dynamic-timeout tuning, fallback-restoration
tuning, and the ambient server/logging/telemetry settings every
component needs. Configuration merges in "defaults -> YAML file ->
environment variables" precedence, using flat, stable env var names.

# Core types

  - Config: the top-level aggregate (Primary, Secondary, Timeout,
    Fallback, Server, Log, Telemetry)
  - Loader: a builder (WithConfigPath / WithValidator / Load) that
    applies the precedence chain and runs any registered validators

# Usage

	cfg, err := config.NewLoader().
	    WithConfigPath("config.yaml").
	    Load()
*/
package config
