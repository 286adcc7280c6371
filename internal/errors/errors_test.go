package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NewValidationError("text", "required"), 400},
		{NewNotFoundError("task", "5"), 404},
		{NewConflictError("illegal transition"), 409},
		{NewStorageUnavailable(errors.New("boom"), ""), 503},
		{errors.New("unclassified"), 500},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, HTTPStatus(c.err))
	}
}

func TestIsTransientOnlyStorageUnavailable(t *testing.T) {
	assert.True(t, IsTransient(NewStorageUnavailable(errors.New("x"), "")))
	assert.False(t, IsTransient(NewValidationError("f", "m")))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestIsPermanentCoversClientErrors(t *testing.T) {
	assert.True(t, IsPermanent(NewValidationError("f", "m")))
	assert.True(t, IsPermanent(NewNotFoundError("task", "1")))
	assert.True(t, IsPermanent(NewConflictError("m")))
	assert.False(t, IsPermanent(NewStorageUnavailable(errors.New("x"), "")))
}

func TestStorageUnavailableUnwraps(t *testing.T) {
	inner := errors.New("connection refused")
	su := NewStorageUnavailable(inner, "")
	assert.ErrorIs(t, su, inner)
}

func TestExecutionTimeoutMessage(t *testing.T) {
	err := NewExecutionTimeout(30)
	assert.Contains(t, err.Error(), "30")
	assert.Contains(t, err.Error(), "timed out")
}
