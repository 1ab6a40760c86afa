package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("API.GetFiles", ErrNotFound, "project 42")
	want := "API.GetFiles: project 42: not found"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Conversation.Send", ErrConversationEnd, "")
	want := "Conversation.Send: conversation closed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Mirror.Set", ErrPathOutsideSandbox, "../etc/passwd")
	if !errors.Is(err, ErrPathOutsideSandbox) {
		t.Error("errors.Is should match ErrPathOutsideSandbox")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := NewDomainError("Stream.Open", ErrStreamFailed, "status 502")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Stream.Open" {
		t.Errorf("Op = %q, want %q", de.Op, "Stream.Open")
	}
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeStreamTruncated, ErrorCodeOf(ErrStreamTruncated))
	assert.Equal(t, CodeTurnInFlight, ErrorCodeOf(ErrTurnInFlight))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeForbidden, ErrorCodeOf(ErrForbidden))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Stream.Open", ErrNoStreamBody, "")
	assert.Equal(t, CodeNoStreamBody, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("context: %w", ErrAuthInvalid)
	assert.Equal(t, CodeAuthInvalid, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_SpecificBeatsCategory(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", fmt.Errorf("%w: %w", ErrProviderError, ErrStreamFailed))
	assert.Equal(t, CodeStreamFailed, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_SubSystemCode(t *testing.T) {
	tests := []struct {
		subsystem string
		sentinel  error
		want      ErrorCode
	}{
		{"project", ErrNotFound, CodeProjectNotFound},
		{"file", ErrNotFound, CodeFileNotFound},
		{"member", ErrDuplicate, CodeMemberDuplicate},
		{"member", ErrInvalidInput, CodeMemberInvalid},
		{"unknown", ErrNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		err := NewSubSystemError(tt.subsystem, "Op", tt.sentinel, "")
		assert.Equal(t, tt.want, err.Code(), "%s/%v", tt.subsystem, tt.sentinel)
		assert.Equal(t, tt.want, ErrorCodeOf(fmt.Errorf("wrap: %w", err)))
	}
}

func TestDomainError_CodeUnknownSentinel(t *testing.T) {
	err := NewDomainError("Op", fmt.Errorf("custom"), "detail")
	assert.Equal(t, CodeUnknown, err.Code())
}

func TestWrapOp(t *testing.T) {
	require.NoError(t, WrapOp("op", nil))

	err := WrapOp("History.Save", ErrHistoryStore)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHistoryStore)
	assert.Equal(t, "History.Save: history store failed", err.Error())
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(fmt.Errorf("x: %w", ErrRateLimit)))
	assert.True(t, IsRetryableError(ErrCircuitOpen))
	assert.True(t, IsRetryableError(fmt.Errorf("%w: 503", ErrProviderError)))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(nil))
}
