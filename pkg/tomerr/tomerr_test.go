package tomerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{ValidationError("bad input"), http.StatusBadRequest},
		{AuthRequiredError("missing token"), http.StatusUnauthorized},
		{AuthDeniedError("not allowed"), http.StatusForbidden},
		{NotFoundError("no such device"), http.StatusNotFound},
		{TemplateNotFoundError("no template"), http.StatusNotFound},
		{ParseFailure(nil, "bad template"), http.StatusUnprocessableEntity},
		{TransportFailure(nil, "reset"), http.StatusBadGateway},
		{AuthFailureError(nil, "denied"), http.StatusBadGateway},
		{TimeoutFailure("deadline"), http.StatusGatewayTimeout},
		{InternalError(nil, "boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.err.HTTPStatus(), c.err.Kind)
	}
}

func TestRetryHints(t *testing.T) {
	assert.Equal(t, Transient, GatingFailure("busy").Retry)
	assert.Equal(t, Transient, TransportFailure(nil, "reset").Retry)
	assert.Equal(t, Fatal, AuthFailureError(nil, "denied").Retry)
	assert.Equal(t, NoRetry, ValidationError("bad").Retry)
}

func TestAsUnwrapsWrappedError(t *testing.T) {
	base := GatingFailure("device busy")
	wrapped := fmt.Errorf("acquire failed: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, GatingError, got.Kind)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)
}
