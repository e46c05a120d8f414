package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError(t *testing.T) {
	t.Run("formats code and message", func(t *testing.T) {
		err := New(ErrCodeInvalidState, "Cannot send a message while searching")
		assert.Equal(t, "INVALID_STATE: Cannot send a message while searching", err.Error())
	})

	t.Run("formats the cause when present", func(t *testing.T) {
		cause := stderrors.New("boom")
		err := Wrap(ErrCodeMalformedFrame, "Malformed frame from broker", cause)
		assert.Equal(t, "MALFORMED_FRAME: Malformed frame from broker (cause: boom)", err.Error())
	})

	t.Run("unwraps to the cause", func(t *testing.T) {
		cause := stderrors.New("boom")
		err := Wrap(ErrCodeInternal, "something failed", cause)
		assert.True(t, stderrors.Is(err, cause))
	})

	t.Run("WithCause attaches a cause after construction", func(t *testing.T) {
		cause := stderrors.New("boom")
		err := New(ErrCodeInternal, "something failed").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantCode ErrorCode
	}{
		{"NotConnected", NotConnected(), ErrCodeNotConnected},
		{"HandshakeRejected", HandshakeRejected(stderrors.New("401")), ErrCodeHandshakeRejected},
		{"NoAccessToken", NoAccessToken(), ErrCodeNoAccessToken},
		{"InvalidState", InvalidState("send a message", "searching"), ErrCodeInvalidState},
		{"EmptyInviteCode", EmptyInviteCode(), ErrCodeEmptyInviteCode},
		{"InviteExpired", InviteExpired(), ErrCodeInviteExpired},
		{"MalformedPayload", MalformedPayload("match queue", stderrors.New("bad json")), ErrCodeMalformedPayload},
		{"Server", Server("NOT_IN_SESSION", "not in a session"), ErrCodeServer},
		{"Internal", Internal("oops"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}

	t.Run("InvalidState names the action and state", func(t *testing.T) {
		err := InvalidState("create an invite", "in chat")
		assert.Equal(t, "Cannot create an invite while in chat", err.Message)
	})

	t.Run("Server falls back to the code when the message is empty", func(t *testing.T) {
		err := Server("CODE_GENERATION_FAILED", "")
		assert.Equal(t, "CODE_GENERATION_FAILED", err.Message)
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("recovers an AppError", func(t *testing.T) {
		original := NotConnected()
		appErr, ok := AsAppError(original)
		require.True(t, ok)
		assert.Equal(t, ErrCodeNotConnected, appErr.Code)
	})

	t.Run("recovers a wrapped AppError", func(t *testing.T) {
		wrapped := fmt.Errorf("outer: %w", EmptyInviteCode())
		appErr, ok := AsAppError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeEmptyInviteCode, appErr.Code)
	})

	t.Run("rejects a plain error", func(t *testing.T) {
		_, ok := AsAppError(stderrors.New("plain"))
		assert.False(t, ok)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeNoAccessToken, GetCode(NoAccessToken()))
	assert.Equal(t, ErrCodeInternal, GetCode(stderrors.New("plain")))
}

func TestSurface(t *testing.T) {
	t.Run("returns the message for an AppError", func(t *testing.T) {
		assert.Equal(t, "Invite code expired", Surface(InviteExpired()))
	})

	t.Run("returns Error for a plain error", func(t *testing.T) {
		assert.Equal(t, "plain", Surface(stderrors.New("plain")))
	})

	t.Run("returns empty for nil", func(t *testing.T) {
		assert.Equal(t, "", Surface(nil))
	})
}
