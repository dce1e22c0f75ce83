package identity

import (
	"context"
	"errors"
	"fmt"
)

// Federated providers the client knows how to start.
const (
	ProviderGoogle = "google.com"
	ProviderGitHub = "github.com"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported identity provider")
	ErrNotConfigured       = errors.New("identity provider not configured")
)

// User is the identity as the provider reports it.
type User struct {
	ID          string
	Email       string
	DisplayName string
	PhotoURL    string
	// IDToken proves the identity to the chat backend.
	IDToken string
	// ProviderID is set for federated identities.
	ProviderID string
}

// Provider is the external identity capability. Implementations keep the
// signed-in identity for Current and forget it on SignOut.
type Provider interface {
	EmailSignUp(ctx context.Context, email, password string, profile Profile) (*User, error)
	EmailSignIn(ctx context.Context, email, password string) (*User, error)
	FederatedSignIn(ctx context.Context, providerID string) (*User, error)
	SignOut(ctx context.Context) error
	Current() *User
}

// Profile is applied to a freshly created account.
type Profile struct {
	DisplayName string
	PhotoURL    string
}

// Error is a failure reported by the provider. Message is passed through
// verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// Supported reports whether providerID can be used with FederatedSignIn.
func Supported(providerID string) bool {
	switch providerID {
	case ProviderGoogle, ProviderGitHub:
		return true
	}
	return false
}

// ProviderID maps the short names used on the command line to provider ids.
func ProviderID(name string) (string, error) {
	switch name {
	case "google", ProviderGoogle:
		return ProviderGoogle, nil
	case "github", ProviderGitHub:
		return ProviderGitHub, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
}
