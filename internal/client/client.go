// Package client is the Go SDK for the collaboration server. It wraps the
// REST surface and, through Editor, composes the pieces an editing client
// needs: the websocket change feed, the echo filter deciding which events
// reach the buffer, and the write coalescer batching keystrokes into one
// write per quiescence window.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/models"
	"go.uber.org/zap"
)

// ErrUnauthenticated means the client has no identity token yet; call
// Identify first.
var ErrUnauthenticated = errors.New("client not identified")

// APIError is a non-2xx response from the server, with the server's error
// string when it sent one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger

	token  string
	userID uuid.UUID

	// coalesceInterval is the quiescence window the server advertised at
	// Identify time; editors opened from this client default to it.
	coalesceInterval time.Duration
}

func New(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		logger:  logger,
	}
}

// UserID is the anonymous identity minted by Identify; zero before that.
func (c *Client) UserID() uuid.UUID {
	return c.userID
}

type identityResponse struct {
	Token              string    `json:"token"`
	UserID             uuid.UUID `json:"user_id"`
	DisplayName        string    `json:"display_name"`
	CoalesceIntervalMS int64     `json:"coalesce_interval_ms"`
}

// Identify mints an anonymous identity and stores the token for every
// later call. displayName may be empty; the server falls back to a name
// derived from the user id.
func (c *Client) Identify(ctx context.Context, displayName string) error {
	var resp identityResponse
	err := c.do(ctx, http.MethodPost, "/v1/identity", map[string]string{"display_name": displayName}, &resp)
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}
	c.token = resp.Token
	c.userID = resp.UserID
	if resp.CoalesceIntervalMS > 0 {
		c.coalesceInterval = time.Duration(resp.CoalesceIntervalMS) * time.Millisecond
	}
	return nil
}

// CreateSession starts a new session with the default document and returns
// the snapshot — including the shareable code.
func (c *Client) CreateSession(ctx context.Context) (*models.SessionSnapshot, error) {
	var snap models.SessionSnapshot
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &snap); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &snap, nil
}

// JoinSession joins by share code and returns the snapshot to render from.
func (c *Client) JoinSession(ctx context.Context, code string) (*models.SessionSnapshot, error) {
	var snap models.SessionSnapshot
	err := c.do(ctx, http.MethodPost, "/v1/sessions/join", map[string]string{"code": code}, &snap)
	if err != nil {
		return nil, fmt.Errorf("join session: %w", err)
	}
	return &snap, nil
}

// LeaveSession is idempotent; leaving a session already left is a no-op.
func (c *Client) LeaveSession(ctx context.Context, sessionID uuid.UUID) error {
	path := fmt.Sprintf("/v1/sessions/%s/leave", sessionID)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("leave session: %w", err)
	}
	return nil
}

type writeDocumentRequest struct {
	Content  string `json:"content"`
	FileName string `json:"file_name,omitempty"`
}

// WriteDocument performs one authoritative write. Editors should not call
// this directly for keystrokes — that is what Editor's coalescer is for.
func (c *Client) WriteDocument(ctx context.Context, sessionID uuid.UUID, fileName, content string) (*models.Document, error) {
	var doc models.Document
	path := fmt.Sprintf("/v1/sessions/%s/document", sessionID)
	err := c.do(ctx, http.MethodPut, path, writeDocumentRequest{Content: content, FileName: fileName}, &doc)
	if err != nil {
		return nil, fmt.Errorf("write document: %w", err)
	}
	return &doc, nil
}

type sendMessageRequest struct {
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"`
}

// SendMessage appends a chat message. messageID is the idempotency key for
// retries; pass uuid.Nil to let the server mint one (and don't retry).
func (c *Client) SendMessage(ctx context.Context, sessionID uuid.UUID, body string, messageID uuid.UUID) (*models.ChatMessage, error) {
	req := sendMessageRequest{Body: body}
	if messageID != uuid.Nil {
		req.MessageID = messageID.String()
	}
	var msg models.ChatMessage
	path := fmt.Sprintf("/v1/sessions/%s/messages", sessionID)
	if err := c.do(ctx, http.MethodPost, path, req, &msg); err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return &msg, nil
}

// Messages returns the chat backlog after the given ordinal (0 = all).
func (c *Client) Messages(ctx context.Context, sessionID uuid.UUID, since int64) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	path := fmt.Sprintf("/v1/sessions/%s/messages?since=%d", sessionID, since)
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// feedURL converts the base URL to its websocket form and carries the
// token in the query, which is how the server authenticates upgrades.
func (c *Client) feedURL(sessionID uuid.UUID) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = fmt.Sprintf("/v1/sessions/%s/feed", sessionID)
	u.RawQuery = url.Values{"token": {c.token}}.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.token == "" && path != "/v1/identity" {
		return ErrUnauthenticated
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errBody struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil {
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
