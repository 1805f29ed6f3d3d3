package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := Wrap(cause, CodeInternal, "failed to mint identity")

	require.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, CodeInternal))
	assert.Equal(t, "failed to mint identity: disk on fire", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "nothing happened"))
}

func TestHasCodeUsesOutermostError(t *testing.T) {
	inner := New(CodeNotFound, "identity not found")
	outer := Wrap(inner, CodeForbidden, "caller is not the identity holder")

	assert.True(t, HasCode(outer, CodeForbidden))
	assert.False(t, HasCode(outer, CodeNotFound))
	assert.Equal(t, CodeForbidden, CodeOf(outer))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.False(t, HasCode(fmt.Errorf("wrapped: %w", errors.New("boom")), CodeConflict))
}

func TestErrorsIsMatchesCodeAndMessage(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(CodeUnauthorized, "token has expired"))

	assert.ErrorIs(t, err, New(CodeUnauthorized, "token has expired"))
	assert.ErrorIs(t, err, &Error{Code: CodeUnauthorized})
	assert.NotErrorIs(t, err, New(CodeUnauthorized, "invalid token"))
	assert.NotErrorIs(t, err, New(CodeForbidden, "token has expired"))
}
