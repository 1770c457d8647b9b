package chatadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// IncomingMessage is one line of JSON a websocket demo client sends in:
// {"user_id": "...", "channel_id": "...", "text": "..."}.
type IncomingMessage struct {
	UserID    string `json:"user_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// OutgoingFrame is what the demo transport writes back for every
// InMemory.Send it observes.
type OutgoingFrame struct {
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// WSDemo is a single-process websocket transport for manually exercising
// the core without a real chat platform: connect, send an IncomingMessage,
// and read back the assistant's reply as an OutgoingFrame. It is not meant
// to scale past one or two concurrent manual testers.
type WSDemo struct {
	handle func(ctx context.Context, msg IncomingMessage)
	logger *zap.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewWSDemo constructs a demo transport. handle is invoked for every
// decoded IncomingMessage; it is expected to eventually call Broadcast (or
// InMemory.Send wired through BroadcastOnSend) with the reply.
func NewWSDemo(logger *zap.Logger, handle func(ctx context.Context, msg IncomingMessage)) *WSDemo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSDemo{handle: handle, logger: logger, conns: make(map[*websocket.Conn]struct{})}
}

// ServeHTTP upgrades the connection and reads IncomingMessage frames until
// the client disconnects.
func (d *WSDemo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		d.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	d.mu.Lock()
	d.conns[conn] = struct{}{}
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.conns, conn)
		d.mu.Unlock()
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			d.logger.Warn("discarding malformed websocket frame", zap.Error(err))
			continue
		}
		if d.handle != nil {
			d.handle(ctx, msg)
		}
	}
}

// Broadcast writes one OutgoingFrame to every currently connected demo
// client. Best-effort: a write failure drops that connection's frame
// without affecting the others.
func (d *WSDemo) Broadcast(ctx context.Context, frame OutgoingFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		return
	}

	d.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, payload); err != nil {
			d.logger.Debug("dropping websocket frame for disconnected client", zap.Error(err))
		}
	}
}

// BroadcastOnSend adapts an InMemory platform's onSend hook to Broadcast,
// so every reply the core sends through InMemory is mirrored to connected
// demo clients.
func (d *WSDemo) BroadcastOnSend(ctx context.Context) func(OutgoingMessage) {
	return func(msg OutgoingMessage) {
		if msg.Reaction != "" {
			return
		}
		d.Broadcast(ctx, OutgoingFrame{ChannelID: msg.ChannelID, Text: msg.Text})
	}
}
