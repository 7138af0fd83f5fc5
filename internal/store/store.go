// ABOUTME: Store interface and data types for intake persistence
// ABOUTME: Conversations and messages; the store is authoritative for unread counts and the freeform window

package store

import (
	"context"
	"errors"
	"time"

	"github.com/Courtneyezra/handyservices-gateway/internal/funnel"
	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when saving a message id that already
// exists in the conversation. Callers treat it as an idempotent no-op.
var ErrDuplicateMessage = errors.New("message already exists")

// Conversation is one contact's thread. The id is the contact's stable
// external handle (phone-derived JID); at most one row exists per identity.
type Conversation struct {
	ID                 string
	DisplayName        string
	Stage              funnel.Stage
	Role               funnel.Role
	LastMessagePreview string
	LastMessageAt      time.Time
	LastInboundAt      *time.Time
	UnreadCount        int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// FreeformWindowOpen reports whether the messaging channel's response
// window still allows a non-template outbound message: an inbound message
// must have arrived within the window.
func (c *Conversation) FreeformWindowOpen(now time.Time, window time.Duration) bool {
	return c.LastInboundAt != nil && now.Sub(*c.LastInboundAt) < window
}

// Wire converts the row to its transport shape, deriving the freeform flag.
func (c *Conversation) Wire(now time.Time, window time.Duration) wire.Conversation {
	return wire.Conversation{
		ID:                 c.ID,
		DisplayName:        c.DisplayName,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		UnreadCount:        c.UnreadCount,
		CanSendFreeform:    c.FreeformWindowOpen(now, window),
		Stage:              c.Stage,
		Role:               c.Role,
	}
}

// Message is one entry in a conversation. IDs come from the messaging
// gateway (or are minted for outbound sends); the client never originates
// them.
type Message struct {
	ID             string
	ConversationID string
	Direction      funnel.Direction
	Content        string
	Status         funnel.MessageStatus
	MediaURL       string
	MediaType      string
	CreatedAt      time.Time
}

// Wire converts the row to its transport shape.
func (m *Message) Wire() wire.Message {
	return wire.Message{
		ID:        m.ID,
		Direction: m.Direction,
		Content:   m.Content,
		Status:    m.Status,
		MediaURL:  m.MediaURL,
		MediaType: m.MediaType,
		CreatedAt: m.CreatedAt,
	}
}

// Store defines the persistence surface of the intake gateway.
type Store interface {
	// SaveInbound records an inbound message, creating its conversation as a
	// fresh lead if the identity is new. Increments the unread count and
	// advances the preview, activity, and inbound-window timestamps.
	// Returns the updated conversation and whether it was just created.
	// Duplicate message ids return ErrDuplicateMessage and change nothing.
	SaveInbound(ctx context.Context, msg *Message, senderName string) (*Conversation, bool, error)

	// SaveOutbound records an outbound message against an existing
	// conversation, advancing preview and activity but not unread.
	SaveOutbound(ctx context.Context, msg *Message) (*Conversation, error)

	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]*Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)

	// MarkRead zeroes the conversation's unread count.
	MarkRead(ctx context.Context, conversationID string) error

	// UpdateStage moves the conversation to a new funnel stage. Transition
	// validity is the caller's concern; the store only persists.
	UpdateStage(ctx context.Context, conversationID string, stage funnel.Stage) error

	// Close releases any resources held by the store.
	Close() error
}
