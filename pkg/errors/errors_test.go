package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/pricesync/pricesync/pkg/errors"
)

func TestNotFoundError(t *testing.T) {
	t.Run("basic error", func(t *testing.T) {
		err := &pkgerrors.NotFoundError{Resource: "credential", ID: "acc-1"}
		assert.Equal(t, "credential with ID acc-1 not found", err.Error())
		assert.True(t, errors.Is(err, pkgerrors.ErrNotFound))
	})

	t.Run("wrapped error", func(t *testing.T) {
		base := pkgerrors.NewNotFoundError("credential", "acc-1")
		wrapped := fmt.Errorf("lookup: %w", base)
		assert.True(t, pkgerrors.IsNotFound(wrapped))
	})
}

func TestValidationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := pkgerrors.NewValidationError("fuzzy_threshold", 2.0, "must be between 0 and 1")
		assert.Equal(t, "validation failed for field fuzzy_threshold: must be between 0 and 1", err.Error())
		assert.True(t, pkgerrors.IsValidationError(err))
	})

	t.Run("without field", func(t *testing.T) {
		err := &pkgerrors.ValidationError{Message: "empty feed"}
		assert.Equal(t, "validation failed: empty feed", err.Error())
	})
}

func TestAPIErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		unauthorized bool
		rateLimited  bool
		unavailable  bool
	}{
		{name: "401 is unauthorized", status: http.StatusUnauthorized, unauthorized: true},
		{name: "429 is rate limited", status: http.StatusTooManyRequests, rateLimited: true},
		{name: "503 is unavailable", status: http.StatusServiceUnavailable, unavailable: true},
		{name: "400 maps to nothing", status: http.StatusBadRequest},
		{name: "403 is not unauthorized", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pkgerrors.NewAPIError("jobber", tt.status, "boom")
			assert.Equal(t, tt.unauthorized, pkgerrors.IsUnauthorized(err))
			assert.Equal(t, tt.rateLimited, pkgerrors.IsRateLimited(err))
			assert.Equal(t, tt.unavailable, pkgerrors.IsServiceUnavailable(err))
		})
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	base := errors.New("connection reset")
	err := pkgerrors.WrapAPI("jobber", 0, base)

	var apiErr *pkgerrors.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "API error from jobber: connection reset", apiErr.Error())
	assert.ErrorIs(t, err, base)
}

func TestAuthenticationError(t *testing.T) {
	refresh := pkgerrors.NewAuthenticationError("jobber", "refresh_token", "missing refresh_token", nil)
	assert.ErrorIs(t, refresh, pkgerrors.ErrTokenRefresh)
	assert.Contains(t, refresh.Error(), "refresh_token")

	exchange := pkgerrors.NewAuthenticationError("jobber", "authorization_code", "bad code", nil)
	assert.NotErrorIs(t, exchange, pkgerrors.ErrTokenRefresh)
}

func TestWrapHelpersNil(t *testing.T) {
	assert.NoError(t, pkgerrors.WrapIO("read", "feed.csv", nil))
	assert.NoError(t, pkgerrors.WrapResource("update", "credential", "acc", nil))
	assert.NoError(t, pkgerrors.WrapParse("json", "", nil))
	assert.NoError(t, pkgerrors.WrapAPI("jobber", 500, nil))
}

func TestParseErrorFormatting(t *testing.T) {
	err := &pkgerrors.ParseError{Format: "csv", File: "feed.csv", Line: 3, Column: 1, Message: "bare quote"}
	assert.Equal(t, "parse error in csv at feed.csv:3:1: bare quote", err.Error())

	err = pkgerrors.NewParseError("json", "", "unexpected EOF", nil)
	assert.Equal(t, "json parse error: unexpected EOF", err.Error())
}

func TestTimeoutError(t *testing.T) {
	err := &pkgerrors.TimeoutError{Operation: "graphql", Duration: "30s", Message: "deadline exceeded"}
	assert.True(t, pkgerrors.IsTimeout(err))
	assert.Equal(t, "operation graphql timed out after 30s: deadline exceeded", err.Error())
}
