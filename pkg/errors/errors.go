package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error that can be rendered to API consumers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}

	return e.Message
}

// Unwrap exposes the internal error for errors.Is / errors.As compatibility.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// Is matches copies made by WithInternal or WithMessage against the
// sentinel they were derived from.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code && e.StatusCode == t.StatusCode
}

// WithInternal returns a copy of the AppError with an attached internal error.
func (e *AppError) WithInternal(err error) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Internal = err
	return &cpy
}

// WithMessage returns a copy of the AppError carrying a different message.
func (e *AppError) WithMessage(message string) *AppError {
	if e == nil {
		return nil
	}

	cpy := *e
	cpy.Message = message
	return &cpy
}

// Authentication and authorization failures.
var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHENTICATED",
		Message:    "Authentication required",
		StatusCode: http.StatusUnauthorized,
	}
	ErrTokenExpired = &AppError{
		Code:       "UNAUTHENTICATED",
		Message:    "Session token expired",
		StatusCode: http.StatusUnauthorized,
	}
	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "Invalid username or password",
		StatusCode: http.StatusUnauthorized,
	}
	ErrAccountLocked = &AppError{
		Code:       "ACCOUNT_LOCKED",
		Message:    "Account temporarily locked after repeated failures",
		StatusCode: http.StatusLocked,
	}
	ErrAccountDisabled = &AppError{
		Code:       "ACCOUNT_DISABLED",
		Message:    "Account is disabled",
		StatusCode: http.StatusForbidden,
	}
	ErrMFARequired = &AppError{
		Code:       "MFA_REQUIRED",
		Message:    "Second factor code required",
		StatusCode: http.StatusUnauthorized,
	}
	ErrMFAInvalid = &AppError{
		Code:       "MFA_INVALID",
		Message:    "Invalid second factor code",
		StatusCode: http.StatusUnauthorized,
	}
	ErrWeakPassword = &AppError{
		Code:       "WEAK_PASSWORD",
		Message:    "Password must be at least 8 characters and include upper and lower case letters, a digit and one of !@#$%^&*()",
		StatusCode: http.StatusBadRequest,
	}
	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Permission denied",
		StatusCode: http.StatusForbidden,
	}
)

// Temporary access code failures.
var (
	ErrCodeNotFound = &AppError{
		Code:       "CODE_NOT_FOUND",
		Message:    "Access code is invalid or inactive",
		StatusCode: http.StatusNotFound,
	}
	ErrCodeExpired = &AppError{
		Code:       "CODE_EXPIRED",
		Message:    "Access code has expired",
		StatusCode: http.StatusGone,
	}
	ErrCodeAlreadyUsed = &AppError{
		Code:       "CODE_ALREADY_USED",
		Message:    "Access code has already been used",
		StatusCode: http.StatusConflict,
	}
	ErrCodeNotAssigned = &AppError{
		Code:       "CODE_NOT_ASSIGNED",
		Message:    "Access code is assigned to another user",
		StatusCode: http.StatusForbidden,
	}
)

// Generic failures.
var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}
	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}
	ErrInternalServer = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Internal server error",
		StatusCode: http.StatusInternalServerError,
	}
	ErrRateLimit = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many requests, please slow down",
		StatusCode: http.StatusTooManyRequests,
	}
)

// New builds a new application error with the provided metadata.
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap turns any error into an AppError while keeping the original error for logging.
func Wrap(err error, message string) *AppError {
	return &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Internal:   err,
	}
}

// FromError converts a generic error into an AppError, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest wraps validation errors with a helpful message.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}
