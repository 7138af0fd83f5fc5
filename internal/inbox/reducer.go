// ABOUTME: Pure reducer that reconciles the push stream into inbox state
// ABOUTME: Value-semantics State; deterministic and testable without a live connection

package inbox

import (
	"sort"

	"github.com/Courtneyezra/handyservices-gateway/internal/funnel"
	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

// ConnState tracks the push socket lifecycle.
type ConnState string

const (
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
)

// State is the inbox projection. It is a value: Reduce returns a new State
// and never mutates slices shared with a previous one.
type State struct {
	Conn ConnState

	// Conversations is ordered most-recently-active first. Equal-timestamp
	// updates keep event-arrival order because reordering is move-to-front,
	// never a re-sort.
	Conversations []wire.Conversation

	// SelectedID is the open conversation, empty when none.
	SelectedID string

	// Messages is the selected conversation's history, ascending by
	// creation time. Cleared on every selection change.
	Messages []wire.Message

	// MessagesLoading is true between a selection and its history reply.
	MessagesLoading bool

	// Sending is true while an outbound send is in flight.
	Sending bool

	// LastError is the most recent surfaced error, empty when none.
	LastError string
}

// NewState returns the initial pre-connection state.
func NewState() State {
	return State{Conn: ConnConnecting}
}

// Reduce applies one event and returns the next state. Unknown or
// inapplicable events leave the state unchanged.
func Reduce(s State, ev Event) State {
	switch e := ev.(type) {
	case Connecting:
		s.Conn = ConnConnecting
	case Connected:
		s.Conn = ConnConnected
	case Disconnected:
		s.Conn = ConnDisconnected
		// No reply can arrive on a dead connection; the history request is
		// reissued on the next handshake.
		s.MessagesLoading = false
	case Snapshot:
		s = applySnapshot(s, e)
	case History:
		s = applyHistory(s, e)
	case NewMessage:
		s = applyNewMessage(s, e)
	case MetadataUpdate:
		s = applyMetadataUpdate(s, e)
	case StreamError:
		s.LastError = e.Message
	case SelectionStarted:
		s = applySelection(s, e)
	case SendStarted:
		s.Sending = true
	case SendFinished:
		s.Sending = false
		s.LastError = e.Err
	}
	return s
}

// applySnapshot replaces the working set wholesale; no stale entries
// survive. The selection is kept even if its conversation is absent from
// the snapshot, so an open history view is not yanked away.
func applySnapshot(s State, e Snapshot) State {
	s.Conversations = append([]wire.Conversation(nil), e.Conversations...)
	return s
}

// applyHistory honors a history reply only when it answers the current
// selection; replies to since-abandoned selections are discarded.
func applyHistory(s State, e History) State {
	if e.ConversationID != s.SelectedID {
		return s
	}
	msgs := append([]wire.Message(nil), e.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	s.Messages = msgs
	s.MessagesLoading = false
	return s
}

func applyNewMessage(s State, e NewMessage) State {
	idx := findConversation(s.Conversations, e.ConversationID)

	if idx < 0 {
		// First contact from an identity not in the working set. Surface it
		// at the front as a fresh lead; a later snapshot remains
		// authoritative for its metadata.
		conv := wire.Conversation{
			ID:                 e.ConversationID,
			LastMessagePreview: e.Message.Preview(),
			LastMessageAt:      e.Message.CreatedAt,
			Stage:              funnel.StageNewLead,
			Role:               funnel.RoleCustomer,
		}
		if e.Message.Direction == funnel.DirectionInbound && e.ConversationID != s.SelectedID {
			conv.UnreadCount = 1
		}
		s.Conversations = prepend(s.Conversations, conv)
	} else {
		conv := s.Conversations[idx]
		conv.LastMessagePreview = e.Message.Preview()
		conv.LastMessageAt = e.Message.CreatedAt
		if e.Message.Direction == funnel.DirectionInbound && e.ConversationID != s.SelectedID {
			conv.UnreadCount++
		}
		s.Conversations = moveToFront(s.Conversations, idx, conv)
	}

	if e.ConversationID == s.SelectedID {
		s.Messages = appendMessage(s.Messages, e.Message)
	}
	return s
}

func applyMetadataUpdate(s State, e MetadataUpdate) State {
	idx := findConversation(s.Conversations, e.ConversationID)
	if idx < 0 {
		return s
	}

	conv := s.Conversations[idx]
	if e.Patch.DisplayName != nil {
		conv.DisplayName = *e.Patch.DisplayName
	}
	if e.Patch.Stage != nil && e.Patch.Stage.Valid() {
		conv.Stage = *e.Patch.Stage
	}
	if e.Patch.CanSendFreeform != nil {
		conv.CanSendFreeform = *e.Patch.CanSendFreeform
	}
	if e.Patch.Role != nil && e.Patch.Role.Valid() {
		conv.Role = *e.Patch.Role
	}

	out := append([]wire.Conversation(nil), s.Conversations...)
	out[idx] = conv
	s.Conversations = out
	return s
}

// applySelection opens a conversation: history becomes pending and the
// unread count is zeroed immediately, ahead of the mark-read round trip.
func applySelection(s State, e SelectionStarted) State {
	s.SelectedID = e.ConversationID
	s.Messages = nil
	s.MessagesLoading = true

	if idx := findConversation(s.Conversations, e.ConversationID); idx >= 0 && s.Conversations[idx].UnreadCount != 0 {
		out := append([]wire.Conversation(nil), s.Conversations...)
		out[idx].UnreadCount = 0
		s.Conversations = out
	}
	return s
}

// Visible returns the conversations matching the search query, in working
// order. Filtering is a pure projection over the underlying sequence.
func (s State) Visible(query string) []wire.Conversation {
	if query == "" {
		return append([]wire.Conversation(nil), s.Conversations...)
	}
	out := make([]wire.Conversation, 0, len(s.Conversations))
	for _, c := range s.Conversations {
		if c.Matches(query) {
			out = append(out, c)
		}
	}
	return out
}

// Selected returns the currently open conversation, if any.
func (s State) Selected() (wire.Conversation, bool) {
	idx := findConversation(s.Conversations, s.SelectedID)
	if idx < 0 {
		return wire.Conversation{}, false
	}
	return s.Conversations[idx], true
}

func findConversation(convs []wire.Conversation, id string) int {
	if id == "" {
		return -1
	}
	for i := range convs {
		if convs[i].ID == id {
			return i
		}
	}
	return -1
}

func prepend(convs []wire.Conversation, conv wire.Conversation) []wire.Conversation {
	out := make([]wire.Conversation, 0, len(convs)+1)
	out = append(out, conv)
	return append(out, convs...)
}

// moveToFront rebuilds the list with the updated conversation first and the
// relative order of all others unchanged.
func moveToFront(convs []wire.Conversation, idx int, updated wire.Conversation) []wire.Conversation {
	out := make([]wire.Conversation, 0, len(convs))
	out = append(out, updated)
	for i, c := range convs {
		if i != idx {
			out = append(out, c)
		}
	}
	return out
}

// appendMessage inserts a message into an ascending-by-time history,
// skipping ids already present so duplicate delivery is idempotent.
func appendMessage(msgs []wire.Message, msg wire.Message) []wire.Message {
	for _, m := range msgs {
		if m.ID == msg.ID {
			return msgs
		}
	}

	out := append(append([]wire.Message(nil), msgs...), msg)
	// New arrivals are normally the latest; only re-position when the
	// timestamp lands out of order.
	if n := len(out); n > 1 && out[n-1].CreatedAt.Before(out[n-2].CreatedAt) {
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	}
	return out
}
