package assembler

import "github.com/jakeyflow/core/llm"

// validateOrdering enforces the two structural invariants a provider's wire
// format requires: at most one system message, and only in the leading
// position; and a tool-result message is only valid immediately after the
// assistant tool_calls message it answers. Offending messages are dropped
// rather than reordered — silently reordering a tool result onto the wrong
// assistant turn would misattribute it.
func validateOrdering(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if len(out) == 0 {
				out = append(out, m)
			}
		case llm.RoleTool:
			if len(out) > 0 && out[len(out)-1].Role == llm.RoleAssistant && answersToolCall(out[len(out)-1], m.ToolCallID) {
				out = append(out, m)
			}
		default:
			out = append(out, m)
		}
	}
	return out
}

func answersToolCall(assistantMsg llm.Message, toolCallID string) bool {
	if toolCallID == "" {
		return false
	}
	for _, tc := range assistantMsg.ToolCalls {
		if tc.ID == toolCallID {
			return true
		}
	}
	return false
}

// ensureNonNullContent drops assistant messages carrying neither content
// nor tool calls — a message that says nothing and requests nothing adds no
// information and several providers reject it outright. Every other role
// passes through untouched: a tool-result message is content by
// definition, and a user/system message with empty content is the caller's
// choice to make, not this package's.
func ensureNonNullContent(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == llm.RoleAssistant && m.Content == "" && len(m.ToolCalls) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}
