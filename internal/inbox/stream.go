// ABOUTME: Push-stream abstraction and its WebSocket implementation
// ABOUTME: Malformed frames are dropped individually; the socket stays up

package inbox

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

// Stream is one established push connection. Read blocks until the next
// well-formed frame or a connection-level error; frames that fail to decode
// are dropped and reading continues.
type Stream interface {
	Read() (*wire.Envelope, error)
	Send(cmd *wire.Command) error
	Close() error
}

// Dialer establishes push connections. Injecting a fake Dialer lets the
// controller be tested without a server.
type Dialer interface {
	Dial(ctx context.Context) (Stream, error)
}

// WebSocketDialer dials the gateway's /ws endpoint with bearer auth.
type WebSocketDialer struct {
	URL    string
	Token  string
	Logger *slog.Logger
}

// Dial connects and wraps the socket as a Stream.
func (d *WebSocketDialer) Dial(ctx context.Context) (Stream, error) {
	header := http.Header{}
	if d.Token != "" {
		header.Set("Authorization", "Bearer "+d.Token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &wsStream{conn: conn, logger: logger.With("component", "stream")}, nil
}

type wsStream struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

func (s *wsStream) Read() (*wire.Envelope, error) {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		ev, err := wire.DecodeEvent(data)
		if err != nil {
			if errors.Is(err, wire.ErrMalformedEvent) {
				s.logger.Warn("dropping malformed frame", "error", err)
				continue
			}
			return nil, err
		}
		return ev, nil
	}
}

func (s *wsStream) Send(cmd *wire.Command) error {
	return s.conn.WriteJSON(cmd)
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
