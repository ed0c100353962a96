package providers

import (
	"context"

	"github.com/charlesng35/clinicauth/internal/models"
)

// Authenticator verifies a credential pair and resolves the user it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, input AuthenticateInput) (*models.User, error)
}

// PasswordManager changes stored credentials.
type PasswordManager interface {
	SetPassword(ctx context.Context, userID, newPassword string) error
	ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error
}

var (
	_ Authenticator   = (*LocalProvider)(nil)
	_ PasswordManager = (*LocalProvider)(nil)
)
