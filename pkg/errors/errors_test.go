package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorIncludesInternal(t *testing.T) {
	err := Wrap(stdErrors.New("boom"), "failed")
	require.Equal(t, "failed: boom", err.Error())
}

func TestWithInternalCopies(t *testing.T) {
	base := New("TEST", "test", http.StatusBadRequest)
	with := base.WithInternal(stdErrors.New("oops"))

	require.NotSame(t, base, with)
	require.Nil(t, base.Internal)
	require.NotNil(t, with.Internal)
}

func TestWithMessageKeepsCodeAndStatus(t *testing.T) {
	out := ErrForbidden.WithMessage("missing enter_test_results")

	require.Equal(t, ErrForbidden.Code, out.Code)
	require.Equal(t, http.StatusForbidden, out.StatusCode)
	require.Equal(t, "Permission denied", ErrForbidden.Message)
}

func TestFromError(t *testing.T) {
	require.Same(t, ErrNotFound, FromError(ErrNotFound))

	out := FromError(stdErrors.New("raw"))
	require.Equal(t, ErrInternalServer.Code, out.Code)
	require.NotNil(t, out.Internal)

	require.Nil(t, FromError(nil))
}

func TestFromErrorUnwrapsWrappedAppError(t *testing.T) {
	wrapped := stdErrors.Join(stdErrors.New("context"), ErrCodeAlreadyUsed)
	require.Equal(t, http.StatusConflict, FromError(wrapped).StatusCode)
}

func TestCodeErrorsMapToDistinctStatuses(t *testing.T) {
	statuses := map[int]string{}
	for _, err := range []*AppError{ErrCodeNotFound, ErrCodeExpired, ErrCodeAlreadyUsed, ErrCodeNotAssigned} {
		_, dup := statuses[err.StatusCode]
		require.False(t, dup, "status %d reused by %s", err.StatusCode, err.Code)
		statuses[err.StatusCode] = err.Code
	}
}

func TestNewBadRequest(t *testing.T) {
	err := NewBadRequest("invalid payload")
	require.Equal(t, ErrBadRequest.Code, err.Code)
	require.Equal(t, "invalid payload", err.Message)
	require.Equal(t, ErrBadRequest.StatusCode, err.StatusCode)
}

func TestDerivedCopiesMatchSentinel(t *testing.T) {
	require.ErrorIs(t, ErrCodeExpired.WithInternal(stdErrors.New("stale")), ErrCodeExpired)
	require.ErrorIs(t, ErrForbidden.WithMessage("missing view_statistics"), ErrForbidden)
	require.NotErrorIs(t, ErrCodeExpired, ErrCodeNotFound)
}
