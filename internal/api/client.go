package api

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

	"github.com/matheus3301/socialchat/internal/chat"
	"go.uber.org/zap"
)

// ErrMalformedPayload is returned when a response body does not have the
// expected shape.
var ErrMalformedPayload = errors.New("malformed payload")

// Error is a non-2xx response from the backend. Message is the backend's
// own "message" field when it sent one.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return e.Message
}

// Client talks to the chat backend's REST API.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

// New creates a client for baseURL. A zero timeout means no client-side limit.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:   u,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	// Federated logins identify the provider and carry its id token, plus
	// the provider profile so the backend can create the user on first use.
	Provider  string `json:"provider,omitempty"`
	IDToken   string `json:"idToken,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
}

// RegisterRequest is the body of POST /users.
type RegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password,omitempty"`
	AvatarURL string `json:"avatar,omitempty"`
	Provider  string `json:"provider,omitempty"`
	IDToken   string `json:"idToken,omitempty"`
}

// PostMessageRequest is the body of POST /chats/{id}/messages.
type PostMessageRequest struct {
	ConversationID string    `json:"chatId"`
	SenderID       string    `json:"senderId"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	ClientID       string    `json:"clientId,omitempty"`
}

// Login exchanges credentials for an application session.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*chat.AuthResult, error) {
	var out chat.AuthResult
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", req, http.StatusOK, &out); err != nil {
		return nil, err
	}
	if out.Token == "" || out.User == nil {
		return nil, fmt.Errorf("login response: %w", ErrMalformedPayload)
	}
	return &out, nil
}

// Register creates the backend user and returns its session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*chat.AuthResult, error) {
	var out chat.AuthResult
	if err := c.do(ctx, http.MethodPost, "/users", "", req, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	if out.Token == "" || out.User == nil {
		return nil, fmt.Errorf("register response: %w", ErrMalformedPayload)
	}
	return &out, nil
}

// FetchConversation loads a conversation's history. The backend may answer
// with the full chat object or with a bare array of messages; the latter is
// returned as a Conversation carrying only ID and Messages.
func (c *Client) FetchConversation(ctx context.Context, token, conversationID string) (*chat.Conversation, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, messagesPath(conversationID), token, nil, http.StatusOK, &raw); err != nil {
		return nil, err
	}
	return decodeConversation(conversationID, raw)
}

// PostMessage sends one message and returns the stored copy.
func (c *Client) PostMessage(ctx context.Context, token string, req PostMessageRequest) (*chat.Message, error) {
	var out chat.Message
	if err := c.do(ctx, http.MethodPost, messagesPath(req.ConversationID), token, req, 0, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("post message response: %w", ErrMalformedPayload)
	}
	if out.ConversationID == "" {
		out.ConversationID = req.ConversationID
	}
	return &out, nil
}

func messagesPath(conversationID string) string {
	return "/chats/" + url.PathEscape(conversationID) + "/messages"
}

func decodeConversation(conversationID string, raw json.RawMessage) (*chat.Conversation, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("conversation %s: empty body: %w", conversationID, ErrMalformedPayload)
	}

	switch trimmed[0] {
	case '[':
		var msgs []chat.Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return nil, fmt.Errorf("conversation %s: %w: %v", conversationID, ErrMalformedPayload, err)
		}
		return &chat.Conversation{ID: conversationID, Messages: msgs}, nil
	case '{':
		var conv chat.Conversation
		if err := json.Unmarshal(trimmed, &conv); err != nil {
			return nil, fmt.Errorf("conversation %s: %w: %v", conversationID, ErrMalformedPayload, err)
		}
		if conv.ID == "" {
			conv.ID = conversationID
		}
		return &conv, nil
	default:
		return nil, fmt.Errorf("conversation %s: unexpected body: %w", conversationID, ErrMalformedPayload)
	}
}

// do performs one JSON request. want is the required status; 0 accepts any 2xx.
func (c *Client) do(ctx context.Context, method, path, token string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	ok := resp.StatusCode == want
	if want == 0 {
		ok = resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	if !ok {
		return errorFromResponse(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, ErrMalformedPayload, err)
	}
	return nil
}

func errorFromResponse(status int, data []byte) error {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return &Error{Status: status, Message: body.Message}
		}
		if body.Error != "" {
			return &Error{Status: status, Message: body.Error}
		}
	}
	return &Error{Status: status}
}
