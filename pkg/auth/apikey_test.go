package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIKeyValidatorAcceptsConfiguredKey(t *testing.T) {
	v := newAPIKeyValidator([]string{"key-one", "key-two"}, nil)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(defaultAPIKeyHeader, "key-two")

	p, err := v.validate(r)
	require.NoError(t, err)
	assert.Equal(t, "api_key", p.Method)
}

func TestAPIKeyValidatorRejectsUnknownKey(t *testing.T) {
	v := newAPIKeyValidator([]string{"key-one"}, nil)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(defaultAPIKeyHeader, "not-a-key")

	_, err := v.validate(r)
	require.Error(t, err)
}

func TestAPIKeyValidatorRejectsMissingKey(t *testing.T) {
	v := newAPIKeyValidator([]string{"key-one"}, nil)
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := v.validate(r)
	require.Error(t, err)
}

func TestAPIKeyValidatorCustomHeaders(t *testing.T) {
	v := newAPIKeyValidator([]string{"secret"}, []string{"X-Custom-Auth"})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Custom-Auth", "secret")

	_, err := v.validate(r)
	require.NoError(t, err)
}
