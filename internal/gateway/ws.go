// ABOUTME: Operator push stream over WebSocket
// ABOUTME: Sends ready/snapshot/history/new-message frames; reads client commands on the same socket

package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Courtneyezra/handyservices-gateway/internal/metrics"
	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second

	// outboundBufferSize bounds per-connection queued frames (hub events
	// plus command replies).
	outboundBufferSize = 128
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Operators connect from the dashboard and the TUI; the JWT is the
	// access control, not the Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	metrics.ConnectedOperators.Inc()
	defer metrics.ConnectedOperators.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, subID := s.hub.Subscribe(ctx)
	defer s.hub.Unsubscribe(subID)

	outbound := make(chan *wire.Envelope, outboundBufferSize)
	writerDone := make(chan struct{})
	go s.writeLoop(conn, events, outbound, writerDone)

	outbound <- &wire.Envelope{Type: wire.EventReady}

	s.readLoop(ctx, conn, outbound)

	cancel()
	conn.Close()
	<-writerDone
}

// writeLoop is the only goroutine writing to the socket. It interleaves
// hub fan-out, direct command replies, and keepalive pings.
func (s *Server) writeLoop(conn *websocket.Conn, events <-chan *wire.Envelope, outbound <-chan *wire.Envelope, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(env *wire.Envelope) bool {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(env); err != nil {
			return false
		}
		return true
	}

	for {
		select {
		case env, ok := <-events:
			if !ok {
				return
			}
			if !write(env) {
				return
			}
		case env, ok := <-outbound:
			if !ok {
				return
			}
			if !write(env) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop consumes client command frames until the socket closes.
// Malformed frames are dropped individually; the socket stays up.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, outbound chan<- *wire.Envelope) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		cmd, err := wire.DecodeCommand(data)
		if err != nil {
			metrics.MalformedFrames.Inc()
			s.logger.Warn("dropping malformed command frame", "error", err)
			continue
		}

		reply := s.handleCommand(ctx, cmd)
		select {
		case outbound <- reply:
		default:
			s.logger.Warn("outbound buffer full, dropping reply", "command", string(cmd.Type))
		}
	}
}

func (s *Server) handleCommand(ctx context.Context, cmd *wire.Command) *wire.Envelope {
	switch cmd.Type {
	case wire.CommandListConversations:
		rows, err := s.store.ListConversations(ctx, conversationListLimit)
		if err != nil {
			s.logger.Error("failed to list conversations", "error", err)
			return commandError("list_failed", "could not load conversations")
		}
		now := time.Now()
		convs := make([]wire.Conversation, 0, len(rows))
		for _, row := range rows {
			convs = append(convs, row.Wire(now, s.cfg.WhatsApp.FreeformWindow))
		}
		return &wire.Envelope{Type: wire.EventConversationList, Conversations: convs}

	case wire.CommandGetHistory:
		rows, err := s.store.ListMessages(ctx, cmd.ConversationID, messageHistoryLimit)
		if err != nil {
			s.logger.Error("failed to load history",
				"conversation_id", cmd.ConversationID,
				"error", err)
			return commandError("history_failed", "could not load history")
		}
		msgs := make([]wire.Message, 0, len(rows))
		for _, row := range rows {
			msgs = append(msgs, row.Wire())
		}
		return &wire.Envelope{
			Type:           wire.EventMessageHistory,
			ConversationID: cmd.ConversationID,
			Messages:       msgs,
		}

	default:
		return commandError("unknown_command", string(cmd.Type))
	}
}

func commandError(code, msg string) *wire.Envelope {
	return &wire.Envelope{Type: wire.EventError, Code: code, Error: msg}
}
