package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/jakeyflow/core/llm"
)

// defaultCapacity bounds how many messages one (user, channel) pair keeps
// before the oldest are dropped, independent of whatever limit an
// individual GetRecentMessages call requests.
const defaultCapacity = 200

type entry struct {
	message llm.Message
	at      time.Time
}

type conversation struct {
	mu   sync.Mutex
	ring []entry
}

func (c *conversation) append(e entry, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ring = append(c.ring, e)
	if over := len(c.ring) - capacity; over > 0 {
		c.ring = c.ring[over:]
	}
}

func (c *conversation) recent(limit int) []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.ring) {
		limit = len(c.ring)
	}
	start := len(c.ring) - limit
	out := make([]llm.Message, limit)
	for i, e := range c.ring[start:] {
		out[i] = e.message
	}
	return out
}

// Store is an in-memory, process-local implementation of
// assembler.Storage, keyed by user+channel. Safe for concurrent use.
type Store struct {
	capacity int

	mu            sync.RWMutex
	conversations map[string]*conversation
}

// New constructs a Store. capacity <= 0 uses defaultCapacity.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Store{capacity: capacity, conversations: make(map[string]*conversation)}
}

func key(userID, channelID string) string {
	return userID + "\x00" + channelID
}

func (s *Store) conversationFor(userID, channelID string) *conversation {
	k := key(userID, channelID)

	s.mu.RLock()
	c, ok := s.conversations[k]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.conversations[k]; ok {
		return c
	}
	c = &conversation{}
	s.conversations[k] = c
	return c
}

// GetRecentMessages returns up to limit of the most recent messages for one
// user/channel pair, oldest first. A missing pair returns an empty slice,
// not an error.
func (s *Store) GetRecentMessages(_ context.Context, userID, channelID string, limit int) ([]llm.Message, error) {
	return s.conversationFor(userID, channelID).recent(limit), nil
}

// AppendUserMessage records an incoming user turn. memstore has no opinion
// on when this is called; the caller decides whether the current message
// belongs in history before or after the reply that answers it.
func (s *Store) AppendUserMessage(_ context.Context, userID, channelID string, msg llm.Message) error {
	s.conversationFor(userID, channelID).append(entry{message: msg, at: time.Now()}, s.capacity)
	return nil
}

// AppendAssistantReply persists one assistant reply. metadata is accepted
// for interface compatibility but dropped — memstore keeps message bodies
// only, not the bookkeeping a durable store would index on.
func (s *Store) AppendAssistantReply(_ context.Context, userID, channelID, replyText string, _ map[string]string) error {
	msg := llm.Message{Role: llm.RoleAssistant, Content: replyText}
	s.conversationFor(userID, channelID).append(entry{message: msg, at: time.Now()}, s.capacity)
	return nil
}
