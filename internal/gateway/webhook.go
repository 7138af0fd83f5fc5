// ABOUTME: Inbound webhook handler for the external WhatsApp gateway
// ABOUTME: Dedupes redeliveries, persists the message, and fans out push events

package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Courtneyezra/handyservices-gateway/internal/funnel"
	"github.com/Courtneyezra/handyservices-gateway/internal/metrics"
	"github.com/Courtneyezra/handyservices-gateway/internal/store"
	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

// webhookPayload is what the external gateway delivers per inbound message.
type webhookPayload struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	SenderName string    `json:"sender_name,omitempty"`
	Text       string    `json:"text,omitempty"`
	MediaURL   string    `json:"media_url,omitempty"`
	MediaType  string    `json:"media_type,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if !s.webhookAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "bad webhook secret")
		return
	}

	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.MessageID == "" || payload.From == "" {
		writeError(w, http.StatusBadRequest, "message_id and from are required")
		return
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}

	// Gateways redeliver on timeout; answer duplicates with 200 so they
	// stop retrying, but process nothing. The cache only holds ids whose
	// save committed, so a delivery that failed with 500 is retried in
	// full rather than swallowed here.
	if s.seen.Contains(payload.MessageID) {
		metrics.DuplicateDeliveries.Inc()
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}

	msg := &store.Message{
		ID:             payload.MessageID,
		ConversationID: payload.From,
		Direction:      funnel.DirectionInbound,
		Content:        payload.Text,
		Status:         funnel.StatusDelivered,
		MediaURL:       payload.MediaURL,
		MediaType:      payload.MediaType,
		CreatedAt:      payload.Timestamp,
	}

	conv, created, err := s.store.SaveInbound(r.Context(), msg, payload.SenderName)
	if err == store.ErrDuplicateMessage {
		// Already persisted by an earlier delivery that outlived the cache.
		s.seen.Record(payload.MessageID)
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}
	if err != nil {
		s.logger.Error("failed to save inbound message",
			"message_id", payload.MessageID,
			"from", payload.From,
			"error", err)
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	s.seen.Record(payload.MessageID)
	metrics.InboundMessages.Inc()
	s.logger.Info("inbound message",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"new_lead", created)

	wireMsg := msg.Wire()
	s.hub.Publish(&wire.Envelope{
		Type:           wire.EventNewMessage,
		ConversationID: conv.ID,
		Message:        &wireMsg,
	})

	// A first inbound message reopens the freeform window and may have
	// attached a display name; let clients patch without a full refresh.
	patch := &wire.ConversationPatch{}
	open := true
	patch.CanSendFreeform = &open
	if payload.SenderName != "" {
		name := payload.SenderName
		patch.DisplayName = &name
	}
	if created {
		stage := conv.Stage
		role := conv.Role
		patch.Stage = &stage
		patch.Role = &role
	}
	s.hub.Publish(&wire.Envelope{
		Type:           wire.EventConversationUpdate,
		ConversationID: conv.ID,
		Patch:          patch,
	})

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) webhookAuthorized(r *http.Request) bool {
	secret := s.cfg.WhatsApp.WebhookSecret
	if secret == "" {
		return true
	}
	got := r.Header.Get("X-Webhook-Secret")
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}
