// Copyright (c) jakeyflow Authors.
// Licensed under the MIT License.

/*
Package types provides the global shared type definitions for the
jakeyflow AI Request Core.

# Overview

types is the lowest-level package in the module — it depends on nothing
else internal, so the llm packages and testutil import its
message/tool/error contracts from here to avoid circular imports.

# Core types

  - Message / Role / ToolCall / ImageContent   — conversation data model
  - ToolSchema / ToolResult                    — tool-calling contracts
  - ErrorCode / Kind / Error                   — structured error taxonomy
  - TokenUsage / Tokenizer / EstimateTokenizer  — token accounting

# Context propagation

WithTraceID / WithTenantID / WithUserID / WithRunID attach request-scoped
identifiers that flow through every component without threading extra
function parameters.
*/
package types
