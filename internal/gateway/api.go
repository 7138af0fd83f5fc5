// ABOUTME: Operator HTTP API: send message, mark read, stage changes, conversation list
// ABOUTME: Request/response channel, deliberately separate from the push stream

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Courtneyezra/handyservices-gateway/internal/auth"
	"github.com/Courtneyezra/handyservices-gateway/internal/funnel"
	"github.com/Courtneyezra/handyservices-gateway/internal/metrics"
	"github.com/Courtneyezra/handyservices-gateway/internal/store"
	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

// handleSend forwards an operator's outbound message to the WhatsApp
// gateway, persists the result, and broadcasts the echo so every client
// (including the sender) appends it from the push stream.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and content are required")
		return
	}

	conv, err := s.store.GetConversation(r.Context(), req.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	// Server-authoritative response-window policy: outside the window only
	// template messages are allowed, and those are not sent from here.
	if !conv.FreeformWindowOpen(time.Now(), s.cfg.WhatsApp.FreeformWindow) {
		writeError(w, http.StatusConflict, "freeform window closed for this conversation")
		return
	}

	messageID, err := s.wa.Send(r.Context(), req.ConversationID, req.Content)
	if err != nil {
		operator, _ := auth.OperatorFromContext(r.Context())
		s.logger.Error("gateway send failed",
			"conversation_id", req.ConversationID,
			"operator", operator,
			"error", err)
		writeError(w, http.StatusBadGateway, "gateway send failed")
		return
	}

	msg := &store.Message{
		ID:             messageID,
		ConversationID: req.ConversationID,
		Direction:      funnel.DirectionOutbound,
		Content:        req.Content,
		Status:         funnel.StatusSent,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := s.store.SaveOutbound(r.Context(), msg); err != nil {
		// The message left for the contact but we lost the record; surface
		// loudly, the next history fetch will be missing it.
		s.logger.Error("failed to persist outbound message",
			"message_id", messageID,
			"conversation_id", req.ConversationID,
			"error", err)
		writeError(w, http.StatusInternalServerError, "sent but not recorded")
		return
	}

	metrics.OutboundMessages.Inc()

	wireMsg := msg.Wire()
	s.hub.Publish(&wire.Envelope{
		Type:           wire.EventNewMessage,
		ConversationID: req.ConversationID,
		Message:        &wireMsg,
	})

	writeJSON(w, http.StatusOK, map[string]any{"message_id": messageID})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.store.MarkRead(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type stageRequest struct {
	Stage string `json:"stage"`
}

// handleStage validates the funnel transition before persisting it and
// broadcasts the change to all operators.
func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req stageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := funnel.ParseStage(req.Stage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := s.store.GetConversation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	if err := funnel.Transition(conv.Stage, target); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	if err := s.store.UpdateStage(r.Context(), id, target); err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}

	stage := target
	s.hub.Publish(&wire.Envelope{
		Type:           wire.EventConversationUpdate,
		ConversationID: id,
		Patch:          &wire.ConversationPatch{Stage: &stage},
	})

	writeJSON(w, http.StatusOK, map[string]any{"stage": string(target)})
}

// handleListConversations serves the same snapshot as the push stream's
// conversation_list, for clients that want a plain fetch.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.snapshotConversations(r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) snapshotConversations(r *http.Request) ([]wire.Conversation, error) {
	rows, err := s.store.ListConversations(r.Context(), conversationListLimit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]wire.Conversation, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Wire(now, s.cfg.WhatsApp.FreeformWindow))
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
