package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrgeorge1983/tom/pkg/config"
)

func startJWKSServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	jwk := jsonWebKey{
		Kty: "RSA",
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
	body, err := json.Marshal(struct {
		Keys []jsonWebKey `json:"keys"`
	}{Keys: []jsonWebKey{jwk}})
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signRS256(t *testing.T, priv *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(priv)
	require.NoError(t, err)
	return signed
}

func TestJWTValidatorAcceptsValidToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := startJWKSServer(t, "kid-1", &priv.PublicKey)

	cfg := &config.Controller{
		JWTLeewayS: 5,
		JWTProviders: []config.JWTProvider{
			{Name: "test", Kind: "static", Issuer: "https://issuer.example", JWKSURL: jwks.URL},
		},
	}
	v, err := newJWTValidator(cfg)
	require.NoError(t, err)

	now := time.Now()
	token := signRS256(t, priv, "kid-1", jwt.MapClaims{
		"iss":   "https://issuer.example",
		"sub":   "user-1",
		"email": "alice@company.com",
		"exp":   now.Add(time.Hour).Unix(),
		"iat":   now.Unix(),
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	p, err := v.validate(r.Context(), r)
	require.NoError(t, err)
	assert.Equal(t, "alice@company.com", p.Subject)
	assert.Equal(t, "jwt", p.Method)
}

func TestJWTValidatorRejectsUnknownIssuer(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := startJWKSServer(t, "kid-1", &priv.PublicKey)

	cfg := &config.Controller{
		JWTProviders: []config.JWTProvider{
			{Name: "test", Kind: "static", Issuer: "https://issuer.example", JWKSURL: jwks.URL},
		},
	}
	v, err := newJWTValidator(cfg)
	require.NoError(t, err)

	token := signRS256(t, priv, "kid-1", jwt.MapClaims{
		"iss": "https://someone-else.example",
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err = v.validate(r.Context(), r)
	require.Error(t, err)
}

func TestJWTValidatorRejectsExpiredToken(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	jwks := startJWKSServer(t, "kid-1", &priv.PublicKey)

	cfg := &config.Controller{
		JWTProviders: []config.JWTProvider{
			{Name: "test", Kind: "static", Issuer: "https://issuer.example", JWKSURL: jwks.URL},
		},
	}
	v, err := newJWTValidator(cfg)
	require.NoError(t, err)

	token := signRS256(t, priv, "kid-1", jwt.MapClaims{
		"iss": "https://issuer.example",
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	_, err = v.validate(r.Context(), r)
	require.Error(t, err)
}

func TestJWTValidatorRejectsMissingToken(t *testing.T) {
	cfg := &config.Controller{}
	v, err := newJWTValidator(cfg)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = v.validate(r.Context(), r)
	require.Error(t, err)
}

func TestClaimsFromMapPreservesExtra(t *testing.T) {
	c := claimsFromMap(jwt.MapClaims{
		"iss":          "https://issuer.example",
		"sub":          "user-1",
		"custom_claim": "custom-value",
	})
	assert.Equal(t, "https://issuer.example", c.Issuer)
	assert.Equal(t, "custom-value", c.Extra["custom_claim"])
}
