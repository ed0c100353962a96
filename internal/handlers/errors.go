package handlers

import (
	"errors"

	iauth "github.com/charlesng35/clinicauth/internal/auth"
	"github.com/charlesng35/clinicauth/internal/auth/mfa"
	"github.com/charlesng35/clinicauth/internal/auth/providers"
	"github.com/charlesng35/clinicauth/internal/permissions"
	"github.com/charlesng35/clinicauth/internal/services"
	apperrors "github.com/charlesng35/clinicauth/pkg/errors"
)

// translateError maps domain sentinels onto the API error vocabulary.
// Application errors pass through; anything unrecognised becomes a 500 with
// the cause kept for logging.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, providers.ErrInvalidCredentials):
		return apperrors.ErrInvalidCredentials
	case errors.Is(err, providers.ErrAccountLocked):
		return apperrors.ErrAccountLocked
	case errors.Is(err, providers.ErrAccountDisabled):
		return apperrors.ErrAccountDisabled
	case errors.Is(err, providers.ErrWeakPassword):
		return apperrors.ErrWeakPassword
	case errors.Is(err, providers.ErrRegistrationDisabled):
		return apperrors.ErrForbidden.WithMessage("Self-registration is disabled")
	case errors.Is(err, providers.ErrIdentityTaken):
		return apperrors.ErrConflict.WithMessage("Username or email already in use")
	case errors.Is(err, permissions.ErrUserNotFound):
		return services.ErrUserNotFound
	case errors.Is(err, mfa.ErrInvalidCode):
		return apperrors.ErrMFAInvalid
	case errors.Is(err, mfa.ErrNotEnrolled):
		return apperrors.NewBadRequest("second factor is not enrolled")
	case errors.Is(err, iauth.ErrSessionNotFound),
		errors.Is(err, iauth.ErrSessionRevoked),
		errors.Is(err, iauth.ErrSessionExpired),
		errors.Is(err, iauth.ErrSessionInvalidToken):
		return apperrors.ErrUnauthorized
	default:
		return apperrors.ErrInternalServer.WithInternal(err)
	}
}
