// ABOUTME: HTTP client for the gateway's request/response endpoints
// ABOUTME: Send-message and mark-read travel here, separate from the push stream

package inbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Courtneyezra/handyservices-gateway/internal/funnel"
)

// APIClient talks to the gateway's HTTP API with bearer auth.
type APIClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPIClient creates a client for the given gateway base URL.
func NewAPIClient(baseURL, token string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		token:   token,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type sendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type apiError struct {
	Error string `json:"error"`
}

// SendMessage submits an outbound message for the given conversation. The
// message is not considered part of the conversation until the server's own
// echoed push event arrives.
func (c *APIClient) SendMessage(ctx context.Context, conversationID, content string) error {
	body, err := json.Marshal(sendMessageRequest{ConversationID: conversationID, Content: content})
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/messages/send", body)
}

// MarkRead asks the server to zero the conversation's unread count. The
// client zeroes its own copy optimistically before calling this.
func (c *APIClient) MarkRead(ctx context.Context, conversationID string) error {
	return c.post(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/read", nil)
}

// SetStage moves the conversation to a new funnel stage. The server
// validates the transition.
func (c *APIClient) SetStage(ctx context.Context, conversationID string, stage funnel.Stage) error {
	body, err := json.Marshal(map[string]string{"stage": string(stage)})
	if err != nil {
		return err
	}
	return c.post(ctx, "/api/conversations/"+url.PathEscape(conversationID)+"/stage", body)
}

func (c *APIClient) post(ctx context.Context, path string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ae apiError
	if json.Unmarshal(data, &ae) == nil && ae.Error != "" {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, ae.Error)
	}
	return fmt.Errorf("gateway returned %d", resp.StatusCode)
}
