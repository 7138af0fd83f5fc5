// ABOUTME: Typed event variants consumed by the inbox reducer
// ABOUTME: Server pushes and local command effects share one dispatch path

package inbox

import "github.com/Courtneyezra/handyservices-gateway/internal/wire"

// Event is one input to the reducer. Variants cover both server-pushed
// frames and the local effects of operator commands, so every state change
// flows through Reduce.
type Event interface {
	isEvent()
}

// Connecting is emitted when the controller starts a dial attempt.
type Connecting struct{}

// Connected is emitted when the push socket is established.
type Connected struct{}

// Disconnected is emitted when the push socket closes for any reason.
type Disconnected struct{}

// Snapshot replaces the conversation list wholesale.
type Snapshot struct {
	Conversations []wire.Conversation
}

// History is the full message history reply for one conversation. It is
// honored only if it answers the current selection.
type History struct {
	ConversationID string
	Messages       []wire.Message
}

// NewMessage is a single pushed message, inbound or an outbound echo.
type NewMessage struct {
	ConversationID string
	Message        wire.Message
}

// MetadataUpdate shallow-merges sparse fields into one conversation.
type MetadataUpdate struct {
	ConversationID string
	Patch          wire.ConversationPatch
}

// StreamError is a server-reported problem on the push stream.
type StreamError struct {
	Code    string
	Message string
}

// SelectionStarted records that the operator opened a conversation: history
// is in flight and unread is zeroed optimistically.
type SelectionStarted struct {
	ConversationID string
}

// SendStarted marks an outbound send in flight, blocking further submission.
type SendStarted struct{}

// SendFinished clears the in-flight flag. Err is empty on success.
type SendFinished struct {
	Err string
}

func (Connecting) isEvent()       {}
func (Connected) isEvent()        {}
func (Disconnected) isEvent()     {}
func (Snapshot) isEvent()         {}
func (History) isEvent()          {}
func (NewMessage) isEvent()       {}
func (MetadataUpdate) isEvent()   {}
func (StreamError) isEvent()      {}
func (SelectionStarted) isEvent() {}
func (SendStarted) isEvent()      {}
func (SendFinished) isEvent()     {}

// FromEnvelope converts a decoded wire frame into a reducer event. The
// ready frame maps to nil: it is a connection-lifecycle signal the
// controller answers with a list_conversations command, not a state change.
func FromEnvelope(ev *wire.Envelope) Event {
	switch ev.Type {
	case wire.EventConversationList:
		return Snapshot{Conversations: ev.Conversations}
	case wire.EventMessageHistory:
		return History{ConversationID: ev.ConversationID, Messages: ev.Messages}
	case wire.EventNewMessage:
		return NewMessage{ConversationID: ev.ConversationID, Message: *ev.Message}
	case wire.EventConversationUpdate:
		return MetadataUpdate{ConversationID: ev.ConversationID, Patch: *ev.Patch}
	case wire.EventError:
		return StreamError{Code: ev.Code, Message: ev.Error}
	default:
		return nil
	}
}
