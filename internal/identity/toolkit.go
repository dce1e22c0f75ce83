package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is the hosted Identity Toolkit API.
const DefaultEndpoint = "https://identitytoolkit.googleapis.com"

// Config configures the Identity Toolkit client.
type Config struct {
	APIKey   string
	Endpoint string
	// CallbackPort is the loopback port for federated sign-in; 0 picks a free one.
	CallbackPort int
	Timeout      time.Duration
	// Present shows the provider's authorization URL to the user. Required
	// for FederatedSignIn.
	Present func(authURL string) error
}

// Toolkit implements Provider on top of the Identity Toolkit REST API.
type Toolkit struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger

	mu      sync.RWMutex
	current *User
}

// NewToolkit creates a provider client. It fails only on an unusable endpoint;
// a missing API key is reported by each call.
func NewToolkit(cfg Config, logger *zap.Logger) (*Toolkit, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("parse identity endpoint: %w", err)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Toolkit{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

type accountResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	PhotoURL     string `json:"photoUrl"`
	ProfilePic   string `json:"profilePicture"`
	IDToken      string `json:"idToken"`
	ProviderID   string `json:"providerId"`
	RefreshToken string `json:"refreshToken"`
}

func (r accountResponse) user() *User {
	photo := r.PhotoURL
	if photo == "" {
		photo = r.ProfilePic
	}
	return &User{
		ID:          r.LocalID,
		Email:       r.Email,
		DisplayName: r.DisplayName,
		PhotoURL:    photo,
		IDToken:     r.IDToken,
		ProviderID:  r.ProviderID,
	}
}

// EmailSignUp creates an email/password account and applies profile to it.
func (t *Toolkit) EmailSignUp(ctx context.Context, email, password string, profile Profile) (*User, error) {
	var created accountResponse
	err := t.call(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &created)
	if err != nil {
		return nil, err
	}
	u := created.user()

	if profile.DisplayName != "" || profile.PhotoURL != "" {
		var updated accountResponse
		err := t.call(ctx, "accounts:update", map[string]any{
			"idToken":           u.IDToken,
			"displayName":       profile.DisplayName,
			"photoUrl":          profile.PhotoURL,
			"returnSecureToken": true,
		}, &updated)
		if err != nil {
			return nil, err
		}
		u.DisplayName = profile.DisplayName
		u.PhotoURL = profile.PhotoURL
		if updated.IDToken != "" {
			u.IDToken = updated.IDToken
		}
	}

	t.setCurrent(u)
	return u, nil
}

// EmailSignIn verifies an email/password pair.
func (t *Toolkit) EmailSignIn(ctx context.Context, email, password string) (*User, error) {
	var resp accountResponse
	err := t.call(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	u := resp.user()
	t.setCurrent(u)
	return u, nil
}

// SignOut forgets the current identity. Tokens issued by the toolkit
// cannot be revoked from the client, so this never fails.
func (t *Toolkit) SignOut(context.Context) error {
	t.setCurrent(nil)
	return nil
}

// Current returns the signed-in identity, or nil.
func (t *Toolkit) Current() *User {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.current == nil {
		return nil
	}
	u := *t.current
	return &u
}

func (t *Toolkit) setCurrent(u *User) {
	t.mu.Lock()
	t.current = u
	t.mu.Unlock()
}

// call POSTs body to the toolkit method and decodes the response into out.
func (t *Toolkit) call(ctx context.Context, method string, body any, out any) error {
	if t.cfg.APIKey == "" {
		return ErrNotConfigured
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	endpoint := t.cfg.Endpoint + "/v1/" + method + "?key=" + url.QueryEscape(t.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return fmt.Errorf("identity %s: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read identity %s: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.logger.Debug("identity call rejected", zap.String("method", method), zap.Int("status", resp.StatusCode))
		return toolkitError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode identity %s: %w", method, err)
	}
	return nil
}

func toolkitError(status int, data []byte) error {
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Error.Message != "" {
		return &Error{Status: status, Message: body.Error.Message}
	}
	return &Error{Status: status, Message: http.StatusText(status)}
}
