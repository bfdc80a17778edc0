package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndNewf(t *testing.T) {
	err := New(ErrorTypeValidation, "bad input")
	assert.Equal(t, "validation: bad input", err.Error())
	assert.NotEmpty(t, err.Stack)

	err = Newf(ErrorTypeNotFound, "pipeline %q not found", "orders")
	assert.Equal(t, `not_found: pipeline "orders" not found`, err.Error())
}

func TestWrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, ErrorTypeConnection, "cannot reach source")

	assert.Equal(t, "connection: cannot reach source: connection refused", err.Error())
	assert.Equal(t, cause, stderrors.Unwrap(err))

	assert.Nil(t, Wrap(nil, ErrorTypeInternal, "ignored"))
}

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeQuery, "query failed")
	outer := Wrap(inner, ErrorTypeData, "batch aborted")

	require.NotEmpty(t, outer.Stack)
	assert.Equal(t, inner.Stack, outer.Stack)
}

func TestIsType(t *testing.T) {
	err := New(ErrorTypeConfig, "missing dsn")

	assert.True(t, IsType(err, ErrorTypeConfig))
	assert.False(t, IsType(err, ErrorTypeQuery))

	wrapped := fmt.Errorf("context: %w", err)
	assert.True(t, IsType(wrapped, ErrorTypeConfig))

	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeConfig))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrorTypeTimeout, "slow")))
	assert.True(t, IsRetryable(New(ErrorTypeConnection, "down")))
	assert.False(t, IsRetryable(New(ErrorTypeValidation, "bad")))
	assert.False(t, IsRetryable(fmt.Errorf("plain")))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrorTypeData, "decode failed").
		WithDetail("collection", "orders").
		WithDetail("row", 7)

	assert.Equal(t, "orders", err.Details["collection"])
	assert.Equal(t, 7, err.Details["row"])
}
