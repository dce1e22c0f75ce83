package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/socialchat/internal/api"
	"github.com/matheus3301/socialchat/internal/chat"
	"github.com/matheus3301/socialchat/internal/identity"
	"github.com/matheus3301/socialchat/internal/session"
	"go.uber.org/zap"
)

// Step names where an auth transaction can fail.
const (
	StepProvider = "provider"
	StepBackend  = "backend"
)

// ErrPartialSignUp matches a sign-up whose provider account exists but whose
// backend user could not be created.
var ErrPartialSignUp = errors.New("partial sign-up")

// Error is an auth failure. Message is the provider's or backend's own text.
type Error struct {
	Step    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Err }

// PartialSignUpError reports a provider account without a backend user.
// Signing in again with the same credentials completes the account.
type PartialSignUpError struct {
	Identity identity.User
	Cause    *Error
}

func (e *PartialSignUpError) Error() string {
	return fmt.Sprintf("account %s created with the identity provider but not on the backend: %s", e.Identity.Email, e.Cause.Message)
}

func (e *PartialSignUpError) Is(target error) bool { return target == ErrPartialSignUp }
func (e *PartialSignUpError) Unwrap() error        { return e.Cause }

// Backend is the part of the REST client the gateway needs.
type Backend interface {
	Login(ctx context.Context, req api.LoginRequest) (*chat.AuthResult, error)
	Register(ctx context.Context, req api.RegisterRequest) (*chat.AuthResult, error)
}

// Credentials selects how to sign in: Password or Federated.
type Credentials interface {
	credentials()
}

// Password signs in with an email/password pair.
type Password struct {
	Email    string
	Password string
}

// Federated signs in through an external provider such as "google.com".
type Federated struct {
	ProviderID string
}

func (Password) credentials()  {}
func (Federated) credentials() {}

// SignUpRequest creates a new account.
type SignUpRequest struct {
	Name      string
	Email     string
	Password  string
	AvatarURL string
}

// Options tune the gateway.
type Options struct {
	// LegacyPlaceholderPassword is added to federated login bodies for
	// backends that reject logins without a password. Empty omits it.
	LegacyPlaceholderPassword string
}

// Gateway runs the provider step, the backend exchange and the session
// write, in that order. A failure at any step leaves the session untouched.
type Gateway struct {
	provider identity.Provider
	backend  Backend
	session  *session.Store
	opts     Options
	logger   *zap.Logger
}

// New creates an auth gateway.
func New(provider identity.Provider, backend Backend, store *session.Store, opts Options, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{provider: provider, backend: backend, session: store, opts: opts, logger: logger}
}

// SignUp creates the provider account and then the backend user. If the
// backend step fails the returned error is a *PartialSignUpError.
func (g *Gateway) SignUp(ctx context.Context, req SignUpRequest) (*chat.AuthResult, error) {
	ident, err := g.provider.EmailSignUp(ctx, req.Email, req.Password, identity.Profile{
		DisplayName: req.Name,
		PhotoURL:    req.AvatarURL,
	})
	if err != nil {
		return nil, stepError(StepProvider, err)
	}

	res, err := g.backend.Register(ctx, api.RegisterRequest{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		g.logger.Warn("sign-up incomplete: backend rejected a provider account",
			zap.String("email", req.Email), zap.Error(err))
		return nil, &PartialSignUpError{Identity: *ident, Cause: stepError(StepBackend, err)}
	}

	g.commit(res)
	g.logger.Info("signed up", zap.String("user_id", res.User.ID))
	return res, nil
}

// SignIn authenticates with the given credentials.
func (g *Gateway) SignIn(ctx context.Context, creds Credentials) (*chat.AuthResult, error) {
	var (
		ident *identity.User
		login api.LoginRequest
		err   error
	)
	switch c := creds.(type) {
	case Password:
		ident, err = g.provider.EmailSignIn(ctx, c.Email, c.Password)
		if err != nil {
			return nil, stepError(StepProvider, err)
		}
		login = api.LoginRequest{Email: c.Email, Password: c.Password}
	case Federated:
		ident, err = g.provider.FederatedSignIn(ctx, c.ProviderID)
		if err != nil {
			return nil, stepError(StepProvider, err)
		}
		login = g.federatedLogin(c.ProviderID, ident)
	default:
		return nil, fmt.Errorf("unsupported credentials %T", creds)
	}

	res, err := g.backend.Login(ctx, login)
	if err != nil {
		return nil, stepError(StepBackend, err)
	}

	g.commit(res)
	g.logger.Info("signed in", zap.String("user_id", res.User.ID), zap.String("provider", ident.ProviderID))
	return res, nil
}

// federatedLogin builds the backend body for a federated identity.
func (g *Gateway) federatedLogin(providerID string, ident *identity.User) api.LoginRequest {
	return api.LoginRequest{
		Email:     ident.Email,
		Provider:  providerID,
		IDToken:   ident.IDToken,
		Name:      ident.DisplayName,
		AvatarURL: ident.PhotoURL,
		Password:  g.opts.LegacyPlaceholderPassword,
	}
}

// SignOut ends the provider session and clears the local session. It is
// safe to call when already signed out. A provider failure is logged and
// does not keep the local session alive.
func (g *Gateway) SignOut(ctx context.Context) error {
	if err := g.provider.SignOut(ctx); err != nil {
		g.logger.Warn("identity provider sign-out failed", zap.Error(err))
	}
	g.session.ClearAll()
	return nil
}

func (g *Gateway) commit(res *chat.AuthResult) {
	g.session.SetSession(res.Token, *res.User)
}

func stepError(step string, err error) *Error {
	var (
		idErr  *identity.Error
		apiErr *api.Error
	)
	switch {
	case errors.As(err, &idErr):
		return &Error{Step: step, Message: idErr.Message, Err: err}
	case errors.As(err, &apiErr):
		return &Error{Step: step, Message: apiErr.Error(), Err: err}
	default:
		return &Error{Step: step, Message: err.Error(), Err: err}
	}
}
