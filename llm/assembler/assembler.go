package assembler

import (
	"context"

	"github.com/jakeyflow/core/llm"
	"github.com/jakeyflow/core/llm/tokenizer"
	"github.com/jakeyflow/core/llm/uniqueness"
)

const (
	defaultHistoryLimit = 20

	// reservedCompletionTokens sets aside room for the model's reply when
	// deciding how much history fits in the remaining context budget.
	reservedCompletionTokens = 1024
)

// Config configures an Assembler at construction.
type Config struct {
	Storage Storage
	Filter  *uniqueness.Filter // optional; nil skips system-prompt enhancement
}

// Assembler is the Conversation Assembler (C6).
type Assembler struct {
	storage Storage
	filter  *uniqueness.Filter
}

// New constructs an Assembler.
func New(cfg Config) *Assembler {
	return &Assembler{storage: cfg.Storage, filter: cfg.Filter}
}

// Request is the input to Assemble.
type Request struct {
	UserID    string
	ChannelID string

	BaseSystemPrompt string
	CurrentMessage   llm.Message
	Tools            []llm.ToolSchema

	// Model names the tokenizer used for context-budget truncation.
	Model string

	// HistoryLimit caps how many stored messages are fetched before
	// ordering/budget trimming; defaults to defaultHistoryLimit.
	HistoryLimit int
}

// Result is the assembled output of one Assemble call.
type Result struct {
	Messages []llm.Message
}

// Assemble runs the five-step assembly pipeline: enhance the system prompt,
// append history, append the current message, validate ordering, and
// ensure no assistant message is sent with neither content nor tool calls.
// A final pass trims oldest history to fit the target model's context
// budget.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*Result, error) {
	systemPrompt := req.BaseSystemPrompt
	if a.filter != nil {
		systemPrompt = a.filter.EnhanceSystemPrompt(req.UserID, systemPrompt)
	}

	limit := req.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	var history []llm.Message
	if a.storage != nil {
		h, err := a.storage.GetRecentMessages(ctx, req.UserID, req.ChannelID, limit)
		if err != nil {
			return nil, err
		}
		history = h
	}

	messages := make([]llm.Message, 0, len(history)+2)
	if systemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}
	messages = append(messages, history...)
	messages = append(messages, req.CurrentMessage)

	messages = validateOrdering(messages)
	messages = ensureNonNullContent(messages)
	messages = fitToBudget(req.Model, messages)

	return &Result{Messages: messages}, nil
}

// fitToBudget drops the oldest non-system, non-current message one at a
// time until the assembled message list fits the target model's context
// window, leaving headroom for the completion itself. Every trim re-runs
// the ordering/content invariants, since removing an assistant tool_calls
// message can orphan the tool result that followed it.
func fitToBudget(model string, messages []llm.Message) []llm.Message {
	tk := tokenizer.GetTokenizerOrEstimator(model)
	budget := tk.MaxTokens() - reservedCompletionTokens
	if budget <= 0 {
		return messages
	}

	for {
		count, err := tk.CountMessages(toTokenizerMessages(messages))
		if err != nil || count <= budget {
			return messages
		}

		dropIdx := 0
		if len(messages) > 0 && messages[0].Role == llm.RoleSystem {
			dropIdx = 1
		}
		// Never drop the current (last) message, and stop if there's
		// nothing left to trim.
		if dropIdx >= len(messages)-1 {
			return messages
		}

		messages = append(append([]llm.Message{}, messages[:dropIdx]...), messages[dropIdx+1:]...)
		messages = validateOrdering(messages)
		messages = ensureNonNullContent(messages)
	}
}

func toTokenizerMessages(msgs []llm.Message) []tokenizer.Message {
	out := make([]tokenizer.Message, len(msgs))
	for i, m := range msgs {
		out[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
