package fault

import (
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrom_PlainError(t *testing.T) {
	err := errors.New("boom")

	f := From(err)
	require.NotNil(t, f)
	assert.Equal(t, Internal, f.Code)
	assert.ErrorIs(t, f, err)
}

func TestFrom_WrappedFault(t *testing.T) {
	inner := New(InvalidTransition, "cannot ship a cancelled order")
	wrapped := errors.Wrap(inner, "apply transition")

	f := From(wrapped)
	require.NotNil(t, f)
	assert.Equal(t, InvalidTransition, f.Code)
	assert.Equal(t, "cannot ship a cancelled order", f.Message)
}

func TestFrom_Nil(t *testing.T) {
	assert.Nil(t, From(nil))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{Validation, false},
		{InvalidTransition, false},
		{NotFound, false},
		{External, true},
		{Conflict, true},
		{Internal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(New(tt.code, "x")))
		})
	}
}

func TestIs(t *testing.T) {
	err := errors.Wrap(New(NotFound, "payment missing"), "lookup")

	assert.True(t, Is(err, NotFound))
	assert.False(t, Is(err, Conflict))
	assert.False(t, Is(nil, NotFound))
}
