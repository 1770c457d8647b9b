package chatadapter

import (
	"context"
	"fmt"
	"sync"
)

// ChatPlatform is the contract the core sends assistant replies and
// reaction signals through. It knows nothing about providers, routing, or
// conversation assembly — only how to deliver to one (user, channel) pair.
type ChatPlatform interface {
	Send(ctx context.Context, userID, channelID, text string) error
	AddReaction(ctx context.Context, userID, channelID, emoji string) error
	RemoveReaction(ctx context.Context, userID, channelID, emoji string) error
}

// OutgoingMessage is one recorded Send/AddReaction/RemoveReaction call,
// kept by InMemory for inspection in tests.
type OutgoingMessage struct {
	UserID    string
	ChannelID string
	Text      string
	Reaction  string // empty for a Send, set for AddReaction/RemoveReaction
	Removed   bool
}

// InMemory is a ChatPlatform that records everything sent through it
// instead of delivering anywhere. It is the default backend for local runs
// and tests; a websocket-backed WSDemo can be layered in front of it to
// give a local manual-testing transport a reply to display.
type InMemory struct {
	mu       sync.Mutex
	messages []OutgoingMessage
	onSend   func(OutgoingMessage)
}

// NewInMemory constructs an InMemory platform. onSend, if non-nil, is
// invoked synchronously on every Send — the websocket demo transport uses
// this hook to forward replies to a connected client.
func NewInMemory(onSend func(OutgoingMessage)) *InMemory {
	return &InMemory{onSend: onSend}
}

func (p *InMemory) Send(_ context.Context, userID, channelID, text string) error {
	msg := OutgoingMessage{UserID: userID, ChannelID: channelID, Text: text}
	p.record(msg)
	if p.onSend != nil {
		p.onSend(msg)
	}
	return nil
}

func (p *InMemory) AddReaction(_ context.Context, userID, channelID, emoji string) error {
	p.record(OutgoingMessage{UserID: userID, ChannelID: channelID, Reaction: emoji})
	return nil
}

func (p *InMemory) RemoveReaction(_ context.Context, userID, channelID, emoji string) error {
	p.record(OutgoingMessage{UserID: userID, ChannelID: channelID, Reaction: emoji, Removed: true})
	return nil
}

func (p *InMemory) record(msg OutgoingMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
}

// Messages returns a snapshot of everything recorded so far.
func (p *InMemory) Messages() []OutgoingMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]OutgoingMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Last returns the most recently recorded message, or an error if nothing
// has been sent yet.
func (p *InMemory) Last() (OutgoingMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) == 0 {
		return OutgoingMessage{}, fmt.Errorf("chatadapter: no messages recorded")
	}
	return p.messages[len(p.messages)-1], nil
}
