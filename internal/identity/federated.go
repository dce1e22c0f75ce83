package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const callbackPath = "/callback"

// FederatedSignIn runs the provider's browser flow: it starts a loopback
// callback server, asks the toolkit for the provider's authorization URL,
// hands that URL to Config.Present and exchanges the callback for an identity.
// It blocks until the callback arrives or ctx is done.
func (t *Toolkit) FederatedSignIn(ctx context.Context, providerID string) (*User, error) {
	if !Supported(providerID) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, providerID)
	}
	if t.cfg.Present == nil {
		return nil, fmt.Errorf("federated sign-in: no way to present the authorization url: %w", ErrNotConfigured)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(t.cfg.CallbackPort)))
	if err != nil {
		return nil, fmt.Errorf("listen for callback: %w", err)
	}
	continueURI := "http://" + ln.Addr().String() + callbackPath

	callbacks := make(chan callback, 1)
	srv := &http.Server{Handler: callbackRouter(callbacks), ReadHeaderTimeout: 10 * time.Second}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Warn("callback server stopped", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		<-served
	}()

	var authURI struct {
		AuthURI   string `json:"authUri"`
		SessionID string `json:"sessionId"`
	}
	err = t.call(ctx, "accounts:createAuthUri", map[string]any{
		"providerId":  providerID,
		"continueUri": continueURI,
	}, &authURI)
	if err != nil {
		return nil, err
	}
	if authURI.AuthURI == "" {
		return nil, &Error{Status: http.StatusOK, Message: "provider returned no authorization url"}
	}

	t.logger.Info("waiting for federated sign-in", zap.String("provider", providerID), zap.String("callback", continueURI))
	if err := t.cfg.Present(authURI.AuthURI); err != nil {
		return nil, fmt.Errorf("present authorization url: %w", err)
	}

	var cb callback
	select {
	case cb = <-callbacks:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if cb.err != nil {
		return nil, cb.err
	}

	var resp accountResponse
	err = t.call(ctx, "accounts:signInWithIdp", map[string]any{
		"requestUri":          continueURI + "?" + cb.query,
		"sessionId":           authURI.SessionID,
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}

	u := resp.user()
	if u.ProviderID == "" {
		u.ProviderID = providerID
	}
	t.setCurrent(u)
	return u, nil
}

type callback struct {
	query string
	err   error
}

// callbackRouter accepts the first redirect back from the provider and
// forwards its query string, or the error the provider reported.
func callbackRouter(callbacks chan<- callback) http.Handler {
	r := chi.NewRouter()
	r.Get(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		cb := callback{query: r.URL.RawQuery}
		if msg := r.URL.Query().Get("error"); msg != "" {
			cb = callback{err: &Error{Status: http.StatusUnauthorized, Message: msg}}
		}
		select {
		case callbacks <- cb:
		default:
			http.Error(w, "Sign-in already completed", http.StatusConflict)
			return
		}
		if cb.err != nil {
			http.Error(w, "Sign-in failed: "+cb.err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("Signed in. You can close this window and return to the terminal."))
	})
	return r
}
