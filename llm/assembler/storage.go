package assembler

import (
	"context"

	"github.com/jakeyflow/core/llm"
)

// Storage is the history collaborator the assembler reads from; the
// assembler's caller appends assistant replies through it. It holds no opinion on how history is actually persisted — a
// database, an in-memory ring, a cache — only on the shape it is read and
// written through.
type Storage interface {
	// GetRecentMessages returns up to limit of the most recent messages for
	// one user/channel pair, oldest first.
	GetRecentMessages(ctx context.Context, userID, channelID string, limit int) ([]llm.Message, error)

	// AppendAssistantReply persists one assistant reply, together with
	// whatever bookkeeping metadata the caller wants retrievable alongside
	// it later (e.g. provider/model used, token counts).
	AppendAssistantReply(ctx context.Context, userID, channelID, replyText string, metadata map[string]string) error
}
