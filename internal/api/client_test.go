package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, r chi.Router) *Client {
	t.Helper()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/", 5*time.Second, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com", 0, nil)
	assert.Error(t, err)
}

func TestLogin(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"token": "tok",
			"user":  map[string]any{"_id": "u1", "name": "Ada", "email": req.Email},
		})
	})
	c := newTestClient(t, r)

	res, err := c.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "tok", res.Token)
	assert.Equal(t, "u1", res.User.ID)

	_, err = c.Login(context.Background(), LoginRequest{Email: "ada@example.com", Password: "wrong"})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid credentials", apiErr.Error())
}

func TestFederatedLoginOmitsPassword(t *testing.T) {
	var body map[string]any
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusOK, map[string]any{"token": "t", "user": map[string]any{"_id": "u1"}})
	})
	c := newTestClient(t, r)

	_, err := c.Login(context.Background(), LoginRequest{
		Email: "a@b.c", Provider: "google.com", IDToken: "idt", Name: "Ada", AvatarURL: "https://img/a.png",
	})
	require.NoError(t, err)
	assert.NotContains(t, body, "password")
	assert.Equal(t, "google.com", body["provider"])
	assert.Equal(t, "idt", body["idToken"])
	assert.Equal(t, "Ada", body["name"])
	assert.Equal(t, "https://img/a.png", body["avatar"])
}

func TestRegisterRequiresCreated(t *testing.T) {
	status := http.StatusCreated
	r := chi.NewRouter()
	r.Post("/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, map[string]any{"token": "tok", "user": map[string]any{"_id": "u2"}})
	})
	c := newTestClient(t, r)

	res, err := c.Register(context.Background(), RegisterRequest{Name: "Bo", Email: "bo@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "u2", res.User.ID)

	status = http.StatusOK
	_, err = c.Register(context.Background(), RegisterRequest{Name: "Bo", Email: "bo@example.com"})
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusOK, apiErr.Status)
}

func TestLoginMissingTokenIsMalformed(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"user": map[string]any{"_id": "u1"}})
	})
	c := newTestClient(t, r)

	_, err := c.Login(context.Background(), LoginRequest{Email: "a", Password: "b"})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestFetchConversation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  error
		wantMsgs int
		wantName string
	}{
		{
			name:     "chat object",
			body:     `{"_id":"c1","type":"group","name":"Team","messages":[{"_id":"m1","senderId":"u1","text":"hi","createdAt":"2024-05-01T10:00:00Z"}]}`,
			wantMsgs: 1,
			wantName: "Team",
		},
		{
			name:     "bare array",
			body:     `[{"_id":"m1","senderId":"u1","text":"hi","createdAt":"2024-05-01T10:00:00Z"},{"_id":"m2","senderId":"u2","text":"yo","createdAt":"2024-05-01T10:01:00Z"}]`,
			wantMsgs: 2,
		},
		{name: "empty history", body: `[]`, wantMsgs: 0},
		{name: "string body", body: `"oops"`, wantErr: ErrMalformedPayload},
		{name: "truncated", body: `{"_id":"c1","messages":[`, wantErr: ErrMalformedPayload},
		{name: "wrong field type", body: `{"messages":"nope"}`, wantErr: ErrMalformedPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var auth string
			r := chi.NewRouter()
			r.Get("/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
				auth = r.Header.Get("Authorization")
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			})
			c := newTestClient(t, r)

			conv, err := c.FetchConversation(context.Background(), "tok", "c1")
			assert.Equal(t, "Bearer tok", auth)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "c1", conv.ID)
			assert.Len(t, conv.Messages, tt.wantMsgs)
			assert.Equal(t, tt.wantName, conv.DisplayName)
		})
	}
}

func TestFetchConversationServerError(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	c := newTestClient(t, r)

	_, err := c.FetchConversation(context.Background(), "tok", "c1")
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.NotErrorIs(t, err, ErrMalformedPayload)
}

func TestPostMessage(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 123_000_000, time.UTC)
	var got PostMessageRequest
	r := chi.NewRouter()
	r.Post("/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1", chi.URLParam(r, "id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusCreated, map[string]any{
			"_id":       "srv-1",
			"senderId":  got.SenderID,
			"text":      got.Text,
			"createdAt": got.CreatedAt,
			"clientId":  got.ClientID,
		})
	})
	c := newTestClient(t, r)

	msg, err := c.PostMessage(context.Background(), "tok", PostMessageRequest{
		ConversationID: "c1",
		SenderID:       "u1",
		Text:           "hello",
		CreatedAt:      created,
		ClientID:       "local-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Equal(t, "local-1", msg.ClientID)
	assert.True(t, msg.CreatedAt.Equal(created))
	assert.Equal(t, "c1", got.ConversationID)
}

func TestPostMessageHonorsContext(t *testing.T) {
	release := make(chan struct{})
	r := chi.NewRouter()
	r.Post("/chats/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	c := newTestClient(t, r)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.PostMessage(ctx, "tok", PostMessageRequest{ConversationID: "c1", Text: "x"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
