package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	ErrBase := New("base error")
	assert.Equal(t, "base error", ErrBase.Error())
	assert.Equal(t, "msg", ErrBase.New("msg").Error())
	assert.ErrorIs(t, ErrBase, ErrBase)

	ErrFirstLevel := ErrBase.New("first level")
	assert.Equal(t, "first level", ErrFirstLevel.Error())
	assert.ErrorIs(t, ErrFirstLevel, ErrBase)

	ErrAnother := New("another error")
	wrapped := ErrFirstLevel.Err(ErrAnother)
	assert.Equal(t, "first level", wrapped.Error())
	assert.ErrorIs(t, wrapped, ErrBase)
	assert.ErrorIs(t, wrapped, ErrAnother)

	err := errors.New("plain error")
	wrapped = ErrFirstLevel.Err(err)
	assert.Equal(t, "first level", wrapped.Error())
	assert.ErrorIs(t, wrapped, ErrBase)
	assert.ErrorIs(t, wrapped, err)

	wrapped = ErrFirstLevel.MsgErr("msg", err)
	assert.Equal(t, "msg", wrapped.Error())
	assert.ErrorIs(t, wrapped, ErrBase)
	assert.ErrorIs(t, wrapped, err)
}

func TestErrorSentinelsAreImmutable(t *testing.T) {
	ErrBase := New("base error")
	derived := ErrBase.Msg("call-site context")
	assert.Equal(t, "base error", ErrBase.Error())
	assert.Equal(t, "call-site context", derived.Error())
	assert.ErrorIs(t, derived, ErrBase)
	assert.NotErrorIs(t, ErrBase, derived)

	_ = ErrBase.Err(errors.New("cause"))
	assert.Empty(t, ErrBase.Unwrap())
}

func TestErrorStatusCode(t *testing.T) {
	ErrBase := New("base error").SetStatusCode(500)
	assert.Equal(t, 500, ErrBase.StatusCode())

	derived := ErrBase.New("conflict").SetStatusCode(409)
	assert.Equal(t, 409, derived.StatusCode())
	assert.Equal(t, 500, ErrBase.StatusCode())
	assert.ErrorIs(t, derived, ErrBase)

	// Call-site wrapping keeps the sentinel's code.
	assert.Equal(t, 409, derived.Msg("oops").StatusCode())
}

func TestErrorAll(t *testing.T) {
	ErrBase := New("base error").SetExpandError(true)
	err := ErrBase.Err(errors.New("cause one"), errors.New("cause two"))
	assert.Equal(t, "base error: cause one; cause two", err.ErrorAll())
	assert.Equal(t, "base error", err.Error())
}
