// ABOUTME: Session controller owning the single push connection and all inbox state
// ABOUTME: Serializes every transition through the reducer; reconnects with capped backoff

package inbox

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

// ErrSendInFlight is returned when a send is attempted while another is
// still outstanding. Prevents duplicate sends from rapid resubmission.
var ErrSendInFlight = errors.New("a send is already in flight")

// ErrNotConnected is returned for commands that need the push socket while
// it is down.
var ErrNotConnected = errors.New("not connected")

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// Sender is the request/response surface the controller needs; satisfied by
// APIClient.
type Sender interface {
	SendMessage(ctx context.Context, conversationID, content string) error
	MarkRead(ctx context.Context, conversationID string) error
}

// Controller is the one owner of the push connection. Only the controller
// writes commands to it and only the controller's run loop reads from it;
// every state change is a reducer transition applied under a single lock,
// so handlers run to completion before the next event is processed.
type Controller struct {
	dialer Dialer
	api    Sender
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	stream   Stream
	onChange func(State)
}

// NewController creates a controller. onChange, if non-nil, observes every
// state after a transition; it runs on the dispatching goroutine and must
// not block.
func NewController(dialer Dialer, api Sender, logger *slog.Logger, onChange func(State)) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		dialer:   dialer,
		api:      api,
		logger:   logger.With("component", "inbox"),
		state:    NewState(),
		onChange: onChange,
	}
}

// State returns a copy of the current inbox state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run maintains the push connection until ctx is cancelled, reconnecting
// with capped exponential backoff. Each successful connect replays the
// ready/snapshot handshake, which also reconciles any unread drift from
// events missed while disconnected.
func (c *Controller) Run(ctx context.Context) error {
	delay := reconnectMinDelay

	for {
		c.dispatch(Connecting{})

		stream, err := c.dialer.Dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("dial failed", "error", err, "retry_in", delay)
			c.dispatch(Disconnected{})
			if !sleepCtx(ctx, delay) {
				return ctx.Err()
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}

		c.setStream(stream)
		c.dispatch(Connected{})
		delay = reconnectMinDelay

		// Close the stream on cancellation so the blocking Read in
		// readLoop unblocks; the watcher ends with this connection.
		watchDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				stream.Close()
			case <-watchDone:
			}
		}()

		err = c.readLoop(ctx, stream)
		close(watchDone)
		c.setStream(nil)
		stream.Close()
		c.dispatch(Disconnected{})

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("connection lost", "error", err, "retry_in", delay)
		if !sleepCtx(ctx, delay) {
			return ctx.Err()
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}

// readLoop consumes frames until the stream fails. The ready frame is
// answered with a full-list request, plus a history request when a
// selection survived a reconnect; everything else flows through the
// reducer.
func (c *Controller) readLoop(ctx context.Context, stream Stream) error {
	for {
		env, err := stream.Read()
		if err != nil {
			return err
		}

		if env.Type == wire.EventReady {
			if err := stream.Send(&wire.Command{Type: wire.CommandListConversations}); err != nil {
				return err
			}
			if id := c.State().SelectedID; id != "" {
				if err := stream.Send(&wire.Command{Type: wire.CommandGetHistory, ConversationID: id}); err != nil {
					return err
				}
			}
			continue
		}

		if ev := FromEnvelope(env); ev != nil {
			c.dispatch(ev)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Select opens a conversation: unread is zeroed optimistically, history is
// requested over the push socket, and mark-read is issued over the HTTP
// channel without waiting for confirmation.
func (c *Controller) Select(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return ErrNotConnected
	}

	c.dispatch(SelectionStarted{ConversationID: conversationID})

	if err := stream.Send(&wire.Command{Type: wire.CommandGetHistory, ConversationID: conversationID}); err != nil {
		return err
	}

	go func() {
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := c.api.MarkRead(markCtx, conversationID); err != nil {
			c.logger.Warn("mark-read failed", "conversation_id", conversationID, "error", err)
		}
	}()

	return nil
}

// Send submits an outbound message over the request/response channel. While
// one send is in flight further sends are refused. On failure nothing is
// rolled back (nothing was applied); the error is surfaced through the
// state and the flag is cleared for a retry. The message only appears
// locally via the server's echoed push event.
func (c *Controller) Send(ctx context.Context, conversationID, content string) error {
	c.mu.Lock()
	if c.state.Sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.state = Reduce(c.state, SendStarted{})
	c.notifyLocked()
	c.mu.Unlock()

	err := c.api.SendMessage(ctx, conversationID, content)
	if err != nil {
		c.dispatch(SendFinished{Err: err.Error()})
		return err
	}
	c.dispatch(SendFinished{})
	return nil
}

// Visible returns the filtered conversation list for the given query.
func (c *Controller) Visible(query string) []wire.Conversation {
	return c.State().Visible(query)
}

func (c *Controller) dispatch(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Reduce(c.state, ev)
	c.notifyLocked()
}

func (c *Controller) notifyLocked() {
	if c.onChange != nil {
		c.onChange(c.state)
	}
}

func (c *Controller) setStream(s Stream) {
	c.mu.Lock()
	c.stream = s
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
