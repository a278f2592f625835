package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIErrorSentinels(t *testing.T) {
	wrapped := fmt.Errorf("verify: %w", ErrKeyRevoked.WithMessage("revoked at %d", 42))

	assert.True(t, stderrors.Is(wrapped, ErrKeyRevoked))
	assert.False(t, stderrors.Is(wrapped, ErrKeyExpired))

	apiErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, "revoked at 42", apiErr.Message)
	assert.Equal(t, "License has been revoked", ErrKeyRevoked.Message, "predefined values must not be mutated")
}

func TestAPIErrorWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("dial tcp: refused")
	err := ErrStoreUnavailable.Wrap(cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"api error", ErrMACMismatch, CodeMACMismatch, http.StatusForbidden},
		{"kill is soft", ErrKill, CodeKill, http.StatusOK},
		{"deadline", fmt.Errorf("op: %w", context.DeadlineExceeded), CodeTimeout, http.StatusGatewayTimeout},
		{"unknown", stderrors.New("boom"), CodeServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.status, got.StatusCode)
		})
	}
	assert.Nil(t, FromError(nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(CodeKeyNotFound))
	assert.Equal(t, KindForbiddenTerminal, KindOf(CodeKeyRevoked))
	assert.Equal(t, KindForbiddenTerminal, KindOf(CodeKill))
	assert.Equal(t, KindForbiddenTransient, KindOf(CodeHeartbeatTimeout))
	assert.Equal(t, KindRequestIntegrity, KindOf(CodeInvalidSignature))
	assert.Equal(t, KindServerFault, KindOf("SOMETHING_NEW"))
}

func TestVerdictFlags(t *testing.T) {
	body := NewBody(ErrKill)
	assert.True(t, body.Kill)
	assert.True(t, body.Blocked)
	assert.False(t, body.Valid)

	body = NewBody(ErrMACNotBound)
	assert.True(t, body.RequiresActivation)
	assert.False(t, body.Blocked)

	body = NewBody(ErrKeyRevoked)
	assert.True(t, body.Blocked)
	assert.False(t, body.Kill)
}
