// Package identity resolves the signed-in user for the current device.
package identity

import "context"

// Identity is the authenticated user as reported by the identity provider.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}

// Provider reports the current identity.
type Provider interface {
	// Current returns the signed-in identity, or nil when signed out.
	Current(ctx context.Context) (*Identity, error)

	// SignOut forgets the persisted credentials.
	SignOut(ctx context.Context) error
}

// Guest is a Provider that never has an identity.
type Guest struct{}

// Current always returns nil.
func (Guest) Current(context.Context) (*Identity, error) { return nil, nil }

// SignOut is a no-op.
func (Guest) SignOut(context.Context) error { return nil }

// Static is a Provider with a fixed identity until signed out.
type Static struct {
	ID *Identity
}

// Current returns the fixed identity.
func (s *Static) Current(context.Context) (*Identity, error) {
	if s.ID == nil {
		return nil, nil
	}
	id := *s.ID
	return &id, nil
}

// SignOut clears the identity.
func (s *Static) SignOut(context.Context) error {
	s.ID = nil
	return nil
}
