package sys

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult_IsOk(t *testing.T) {
	tests := []struct {
		name     string
		result   Result[bool]
		expected bool
	}{
		{
			name:     "Ok result",
			result:   Ok(true),
			expected: true,
		},
		{
			name:     "Error result",
			result:   Result[bool]{Ok: true, Err: errors.New("close failed")},
			expected: false,
		},
		{
			name:     "Zero value",
			result:   Result[bool]{},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.result.IsOk())
		})
	}
}

func TestResult_IsErr(t *testing.T) {
	errGone := errors.New("gone")
	errOther := errors.New("other")
	wrapped := Err[bool](fmt.Errorf("closing: %w", errGone))

	assert.True(t, wrapped.IsErr())
	assert.True(t, wrapped.IsErr(errGone))
	assert.True(t, wrapped.IsErr(errOther, errGone))
	assert.False(t, wrapped.IsErr(errOther))
	assert.False(t, Ok(1).IsErr())
	assert.False(t, Ok(1).IsErr(errGone))
}

func TestResult_Unwrap(t *testing.T) {
	v, err := Ok("impala").Unwrap()
	assert.Equal(t, "impala", v)
	assert.NoError(t, err)

	v, err = Err[string](errors.New("boom")).Unwrap()
	assert.Equal(t, "", v)
	assert.EqualError(t, err, "boom")
}

func TestResult_Discard(t *testing.T) {
	var seen error
	v := Result[bool]{Ok: true, Err: errors.New("ignored")}.Discard(func(err error) { seen = err })
	assert.True(t, v)
	assert.EqualError(t, seen, "ignored")

	called := false
	assert.True(t, Ok(true).Discard(func(error) { called = true }))
	assert.False(t, called)
	assert.Equal(t, 3, Err[int](errors.New("x")).Discard(nil)+3)
}
