// ABOUTME: Tests for the webhook and operator API handlers
// ABOUTME: Exercises the real SQLite store with a fake WhatsApp sender over httptest

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Courtneyezra/handyservices-gateway/internal/auth"
	"github.com/Courtneyezra/handyservices-gateway/internal/config"
	"github.com/Courtneyezra/handyservices-gateway/internal/store"
	"github.com/Courtneyezra/handyservices-gateway/internal/wire"
)

const (
	testSecret        = "test-jwt-secret"
	testWebhookSecret = "hook-secret"
)

type fakeWA struct {
	mu      sync.Mutex
	nextID  int
	sendErr error
	sent    []string
}

func (f *fakeWA) Send(ctx context.Context, to, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, to+"|"+message)
	return fmt.Sprintf("wamid.out%d", f.nextID), nil
}

func newTestServer(t *testing.T) (*Server, *fakeWA, *httptest.Server) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = ":0"
	cfg.Auth.JWTSecret = testSecret
	cfg.WhatsApp.WebhookSecret = testWebhookSecret
	cfg.WhatsApp.FreeformWindow = 24 * time.Hour

	wa := &fakeWA{}
	srv := NewServer(st, NewHub(nil), wa, cfg, nil)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, wa, ts
}

func operatorToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), "op-test", time.Hour)
	require.NoError(t, err)
	return token
}

func postJSON(t *testing.T, url, token string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func deliverInbound(t *testing.T, ts *httptest.Server, messageID, from, text string) *http.Response {
	t.Helper()
	return postJSON(t, ts.URL+"/webhook/whatsapp", "", map[string]any{
		"message_id":  messageID,
		"from":        from,
		"sender_name": "Thandi M.",
		"text":        text,
		"timestamp":   time.Now().UTC().Format(time.RFC3339Nano),
	}, map[string]string{"X-Webhook-Secret": testWebhookSecret})
}

func TestWebhook_CreatesLeadAndBroadcasts(t *testing.T) {
	srv, _, ts := newTestServer(t)

	events, _ := srv.hub.Subscribe(t.Context())

	resp := deliverInbound(t, ts, "wamid.1", "27821230000@s.whatsapp.net", "geyser burst")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	msgEnv := recvEnvelope(t, events)
	require.Equal(t, wire.EventNewMessage, msgEnv.Type)
	assert.Equal(t, "27821230000@s.whatsapp.net", msgEnv.ConversationID)
	assert.Equal(t, "geyser burst", msgEnv.Message.Content)

	patchEnv := recvEnvelope(t, events)
	require.Equal(t, wire.EventConversationUpdate, patchEnv.Type)
	require.NotNil(t, patchEnv.Patch.CanSendFreeform)
	assert.True(t, *patchEnv.Patch.CanSendFreeform)
	require.NotNil(t, patchEnv.Patch.DisplayName)
	assert.Equal(t, "Thandi M.", *patchEnv.Patch.DisplayName)

	conv, err := srv.store.GetConversation(context.Background(), "27821230000@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestWebhook_DuplicateDeliveryIgnored(t *testing.T) {
	srv, _, ts := newTestServer(t)

	resp := deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hi")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hi")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	conv, err := srv.store.GetConversation(context.Background(), "a@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount, "duplicate must not double count")
}

// flakyStore fails SaveInbound a set number of times before delegating.
type flakyStore struct {
	store.Store
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) SaveInbound(ctx context.Context, msg *store.Message, senderName string) (*store.Conversation, bool, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, false, errors.New("disk full")
	}
	f.mu.Unlock()
	return f.Store.SaveInbound(ctx, msg, senderName)
}

func TestWebhook_RetryAfterStorageFailure(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "intake.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Auth.JWTSecret = testSecret
	cfg.WhatsApp.WebhookSecret = testWebhookSecret
	cfg.WhatsApp.FreeformWindow = 24 * time.Hour

	srv := NewServer(&flakyStore{Store: st, failures: 1}, NewHub(nil), &fakeWA{}, cfg, nil)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	resp := deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hi")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// The gateway redelivers after a 5xx; the retry must be processed in
	// full, not answered as an already-seen duplicate.
	resp = deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hi")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	msgs, err := st.ListMessages(context.Background(), "a@s.whatsapp.net", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "wamid.1", msgs[0].ID)

	// A third delivery of the same id is now a true duplicate.
	resp = deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hi")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	conv, err := st.GetConversation(context.Background(), "a@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount)
}

func TestWebhook_BadSecret(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/webhook/whatsapp", "", map[string]any{
		"message_id": "wamid.1",
		"from":       "a",
	}, map[string]string{"X-Webhook-Secret": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhook_MissingFields(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/webhook/whatsapp", "", map[string]any{
		"text": "orphan",
	}, map[string]string{"X-Webhook-Secret": testWebhookSecret})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSend_ForwardsAndEchoes(t *testing.T) {
	srv, wa, ts := newTestServer(t)
	token := operatorToken(t)

	deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "quote please")

	events, _ := srv.hub.Subscribe(t.Context())

	resp := postJSON(t, ts.URL+"/api/messages/send", token, map[string]string{
		"conversation_id": "a@s.whatsapp.net",
		"content":         "R850 callout",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	wa.mu.Lock()
	require.Len(t, wa.sent, 1)
	assert.Equal(t, "a@s.whatsapp.net|R850 callout", wa.sent[0])
	wa.mu.Unlock()

	echo := recvEnvelope(t, events)
	require.Equal(t, wire.EventNewMessage, echo.Type)
	assert.Equal(t, "R850 callout", echo.Message.Content)
	assert.Equal(t, "wamid.out1", echo.Message.ID)
}

func TestSend_RequiresAuth(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/messages/send", "", map[string]string{
		"conversation_id": "a",
		"content":         "hi",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSend_WindowClosed(t *testing.T) {
	srv, _, ts := newTestServer(t)
	token := operatorToken(t)

	deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hello")

	// Shrink the window so the inbound above no longer counts.
	srv.cfg.WhatsApp.FreeformWindow = time.Nanosecond
	time.Sleep(time.Millisecond)

	resp := postJSON(t, ts.URL+"/api/messages/send", token, map[string]string{
		"conversation_id": "a@s.whatsapp.net",
		"content":         "template needed now",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSend_GatewayFailure(t *testing.T) {
	_, wa, ts := newTestServer(t)
	token := operatorToken(t)

	deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hello")

	wa.mu.Lock()
	wa.sendErr = errors.New("session down")
	wa.mu.Unlock()

	resp := postJSON(t, ts.URL+"/api/messages/send", token, map[string]string{
		"conversation_id": "a@s.whatsapp.net",
		"content":         "hi",
	}, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestSend_UnknownConversation(t *testing.T) {
	_, _, ts := newTestServer(t)
	token := operatorToken(t)

	resp := postJSON(t, ts.URL+"/api/messages/send", token, map[string]string{
		"conversation_id": "nobody",
		"content":         "hi",
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMarkRead(t *testing.T) {
	srv, _, ts := newTestServer(t)
	token := operatorToken(t)

	deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "one")
	deliverInbound(t, ts, "wamid.2", "a@s.whatsapp.net", "two")

	resp := postJSON(t, ts.URL+"/api/conversations/a@s.whatsapp.net/read", token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conv, err := srv.store.GetConversation(context.Background(), "a@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestStage_ValidTransition(t *testing.T) {
	srv, _, ts := newTestServer(t)
	token := operatorToken(t)

	deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hello")

	resp := postJSON(t, ts.URL+"/api/conversations/a@s.whatsapp.net/stage", token,
		map[string]string{"stage": "qualifying"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conv, err := srv.store.GetConversation(context.Background(), "a@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, "qualifying", string(conv.Stage))
}

func TestStage_InvalidTransitionRejected(t *testing.T) {
	_, _, ts := newTestServer(t)
	token := operatorToken(t)

	deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hello")

	// new_lead cannot jump straight to booked.
	resp := postJSON(t, ts.URL+"/api/conversations/a@s.whatsapp.net/stage", token,
		map[string]string{"stage": "booked"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestStage_UnknownStageRejected(t *testing.T) {
	_, _, ts := newTestServer(t)
	token := operatorToken(t)

	deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "hello")

	resp := postJSON(t, ts.URL+"/api/conversations/a@s.whatsapp.net/stage", token,
		map[string]string{"stage": "hot"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListConversations(t *testing.T) {
	_, _, ts := newTestServer(t)
	token := operatorToken(t)

	deliverInbound(t, ts, "wamid.1", "a@s.whatsapp.net", "first")
	deliverInbound(t, ts, "wamid.2", "b@s.whatsapp.net", "second")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Conversations []wire.Conversation `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Conversations, 2)
	assert.Equal(t, "b@s.whatsapp.net", body.Conversations[0].ID, "most recent first")
	assert.True(t, body.Conversations[0].CanSendFreeform)
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
