package prolink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKindOnly(t *testing.T) {
	a := newErr(ErrNotRunning, "first message")
	b := newErr(ErrNotRunning, "different message")
	c := newErr(ErrSocketError, "first message")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestError_UnwrapExposesCause(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := wrapErr(ErrSocketError, "writing datagram", cause)

	assert.ErrorIs(t, wrapped, cause)
	assert.Same(t, cause, errors.Unwrap(wrapped))
}

func TestError_SentinelsMatchViaErrorsIs(t *testing.T) {
	err := newErr(ErrNotRunning, "socket not running")
	assert.True(t, errors.Is(err, ErrNotRunningSentinel))
}
