// ABOUTME: JSON-tagged event protocol between the intake gateway and inbox clients
// ABOUTME: Defines the envelope, payload types, and strict decoding with malformed-frame rejection

package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Courtneyezra/handyservices-gateway/internal/funnel"
)

// ErrMalformedEvent is returned by DecodeEvent for frames that cannot be
// honored. Callers drop such frames individually; a bad frame never tears
// down the stream.
var ErrMalformedEvent = errors.New("malformed event")

// EventType tags a server-pushed frame.
type EventType string

const (
	// EventReady is sent once when the server accepts the socket.
	EventReady EventType = "ready"
	// EventConversationList carries a full snapshot that replaces client state wholesale.
	EventConversationList EventType = "conversation_list"
	// EventMessageHistory carries the full message history for one conversation.
	EventMessageHistory EventType = "message_history"
	// EventNewMessage carries a single newly arrived or echoed message.
	EventNewMessage EventType = "new_message"
	// EventConversationUpdate carries a sparse metadata patch for one conversation.
	EventConversationUpdate EventType = "conversation_update"
	// EventError reports a server-side problem with a client command.
	EventError EventType = "error"
)

// CommandType tags a client-issued frame on the same socket.
type CommandType string

const (
	CommandListConversations CommandType = "list_conversations"
	CommandGetHistory        CommandType = "get_history"
)

// Conversation is the summary the inbox list renders.
type Conversation struct {
	ID                 string       `json:"id"`
	DisplayName        string       `json:"display_name,omitempty"`
	LastMessagePreview string       `json:"last_message_preview,omitempty"`
	LastMessageAt      time.Time    `json:"last_message_at"`
	UnreadCount        int          `json:"unread_count"`
	CanSendFreeform    bool         `json:"can_send_freeform"`
	Stage              funnel.Stage `json:"stage"`
	Role               funnel.Role  `json:"role,omitempty"`
}

// Label returns the human-facing name for the conversation, falling back to
// the contact identity when no display name is known.
func (c Conversation) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ID
}

// Matches reports whether the conversation matches a case-insensitive
// substring query on its display name or identity. An empty query matches
// everything.
func (c Conversation) Matches(query string) bool {
	if query == "" {
		return true
	}
	q := strings.ToLower(query)
	return strings.Contains(strings.ToLower(c.DisplayName), q) ||
		strings.Contains(strings.ToLower(c.ID), q)
}

// Message is a single entry in a conversation's history.
type Message struct {
	ID        string               `json:"id"`
	Direction funnel.Direction     `json:"direction"`
	Content   string               `json:"content,omitempty"`
	Status    funnel.MessageStatus `json:"status,omitempty"`
	MediaURL  string               `json:"media_url,omitempty"`
	MediaType string               `json:"media_type,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// Preview returns the short text shown in the conversation list for this
// message: the body, or a placeholder when the message is media-only.
func (m Message) Preview() string {
	if m.Content != "" {
		return m.Content
	}
	if m.MediaURL != "" {
		return "[media]"
	}
	return ""
}

// ConversationPatch is a sparse metadata update. Only non-nil fields are
// merged into the client's record.
type ConversationPatch struct {
	DisplayName     *string       `json:"display_name,omitempty"`
	Stage           *funnel.Stage `json:"stage,omitempty"`
	CanSendFreeform *bool         `json:"can_send_freeform,omitempty"`
	Role            *funnel.Role  `json:"role,omitempty"`
}

// Envelope is the single frame type carried on the push stream. The Type tag
// selects which payload fields are meaningful.
type Envelope struct {
	Type           EventType          `json:"type"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Conversations  []Conversation     `json:"conversations,omitempty"`
	Messages       []Message          `json:"messages,omitempty"`
	Message        *Message           `json:"message,omitempty"`
	Patch          *ConversationPatch `json:"patch,omitempty"`
	Code           string             `json:"code,omitempty"`
	Error          string             `json:"error,omitempty"`
}

// Command is a client-to-server frame on the push socket.
type Command struct {
	Type           CommandType `json:"type"`
	ConversationID string      `json:"conversation_id,omitempty"`
}

// DecodeEvent parses and validates one inbound frame. Every returned error
// wraps ErrMalformedEvent so callers can drop the frame and keep reading.
func DecodeEvent(data []byte) (*Envelope, error) {
	var ev Envelope
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch ev.Type {
	case EventReady:
		return &ev, nil

	case EventConversationList:
		for i := range ev.Conversations {
			if err := validateConversation(&ev.Conversations[i]); err != nil {
				return nil, err
			}
		}
		return &ev, nil

	case EventMessageHistory:
		if ev.ConversationID == "" {
			return nil, fmt.Errorf("%w: message_history without conversation_id", ErrMalformedEvent)
		}
		for i := range ev.Messages {
			if err := validateMessage(&ev.Messages[i]); err != nil {
				return nil, err
			}
		}
		return &ev, nil

	case EventNewMessage:
		if ev.ConversationID == "" {
			return nil, fmt.Errorf("%w: new_message without conversation_id", ErrMalformedEvent)
		}
		if ev.Message == nil {
			return nil, fmt.Errorf("%w: new_message without message payload", ErrMalformedEvent)
		}
		if err := validateMessage(ev.Message); err != nil {
			return nil, err
		}
		return &ev, nil

	case EventConversationUpdate:
		if ev.ConversationID == "" {
			return nil, fmt.Errorf("%w: conversation_update without conversation_id", ErrMalformedEvent)
		}
		if ev.Patch == nil {
			return nil, fmt.Errorf("%w: conversation_update without patch", ErrMalformedEvent)
		}
		if ev.Patch.Stage != nil && !ev.Patch.Stage.Valid() {
			return nil, fmt.Errorf("%w: unknown stage %q", ErrMalformedEvent, string(*ev.Patch.Stage))
		}
		if ev.Patch.Role != nil && !ev.Patch.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", ErrMalformedEvent, string(*ev.Patch.Role))
		}
		return &ev, nil

	case EventError:
		return &ev, nil

	default:
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, string(ev.Type))
	}
}

func validateConversation(c *Conversation) error {
	if c.ID == "" {
		return fmt.Errorf("%w: conversation without id", ErrMalformedEvent)
	}
	if !c.Stage.Valid() {
		return fmt.Errorf("%w: conversation %s has unknown stage %q", ErrMalformedEvent, c.ID, string(c.Stage))
	}
	if c.Role != "" && !c.Role.Valid() {
		return fmt.Errorf("%w: conversation %s has unknown role %q", ErrMalformedEvent, c.ID, string(c.Role))
	}
	if c.UnreadCount < 0 {
		return fmt.Errorf("%w: conversation %s has negative unread count", ErrMalformedEvent, c.ID)
	}
	return nil
}

func validateMessage(m *Message) error {
	if m.ID == "" {
		return fmt.Errorf("%w: message without id", ErrMalformedEvent)
	}
	if !m.Direction.Valid() {
		return fmt.Errorf("%w: message %s has unknown direction %q", ErrMalformedEvent, m.ID, string(m.Direction))
	}
	if m.Status != "" && !m.Status.Valid() {
		return fmt.Errorf("%w: message %s has unknown status %q", ErrMalformedEvent, m.ID, string(m.Status))
	}
	return nil
}

// DecodeCommand parses and validates one client command frame.
func DecodeCommand(data []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch cmd.Type {
	case CommandListConversations:
		return &cmd, nil
	case CommandGetHistory:
		if cmd.ConversationID == "" {
			return nil, fmt.Errorf("%w: get_history without conversation_id", ErrMalformedEvent)
		}
		return &cmd, nil
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", ErrMalformedEvent, string(cmd.Type))
	}
}
