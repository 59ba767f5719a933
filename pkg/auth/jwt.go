package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/wrgeorge1983/tom/pkg/config"
	"github.com/wrgeorge1983/tom/pkg/tomerr"
)

// registeredProvider pairs one configured JWTProvider with its resolved
// endpoints and key cache, ready to validate tokens once Discover has
// run at startup.
type registeredProvider struct {
	name     string
	audience string
	issuer   string
	jwks     *jwksCache
}

// jwtValidator authenticates bearer tokens against the configured set
// of JWT providers, dispatching by the token's unverified `iss` claim.
type jwtValidator struct {
	byIssuer     map[string]*registeredProvider
	requireHTTPS bool
	leeway       time.Duration
}

func newJWTValidator(cfg *config.Controller) (*jwtValidator, error) {
	v := &jwtValidator{
		byIssuer:     map[string]*registeredProvider{},
		requireHTTPS: cfg.JWTRequireHTTPS,
		leeway:       time.Duration(cfg.JWTLeewayS) * time.Second,
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	for _, pc := range cfg.JWTProviders {
		p, err := newProvider(pc, httpClient)
		if err != nil {
			return nil, err
		}
		endpoints, err := p.Discover(context.Background())
		if err != nil {
			return nil, err
		}
		v.byIssuer[endpoints.Issuer] = &registeredProvider{
			name:     pc.Name,
			audience: pc.Audience,
			issuer:   endpoints.Issuer,
			jwks:     newJWKSCache(endpoints.JWKSURL, httpClient),
		}
	}
	return v, nil
}

func (v *jwtValidator) validate(ctx context.Context, r *http.Request) (*Principal, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, tomerr.AuthRequiredError("missing bearer token")
	}
	if v.requireHTTPS && r.TLS == nil {
		return nil, tomerr.AuthDeniedError("jwt authentication requires https")
	}

	issuer, err := unverifiedIssuer(raw)
	if err != nil {
		return nil, tomerr.AuthRequiredError("malformed jwt: %v", err)
	}
	reg, ok := v.byIssuer[issuer]
	if !ok {
		return nil, tomerr.AuthRequiredError("unrecognized jwt issuer %q", issuer)
	}

	claims := jwt.MapClaims{}
	parserOpts := []jwt.ParserOption{jwt.WithLeeway(v.leeway), jwt.WithIssuer(reg.issuer)}
	if reg.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(reg.audience))
	}
	token, err := jwt.NewParser(parserOpts...).ParseWithClaims(raw, claims, reg.jwks.keyfunc(ctx))
	if err != nil || !token.Valid {
		return nil, tomerr.AuthRequiredError("jwt validation failed: %v", err)
	}

	c := claimsFromMap(claims)
	return &Principal{Subject: c.identity(), Method: "jwt", Claims: c}, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimPrefix(h, prefix)
}

// unverifiedIssuer reads the `iss` claim from raw without verifying its
// signature, solely to pick which registered provider should verify it.
func unverifiedIssuer(raw string) (string, error) {
	var claims jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return "", err
	}
	iss, _ := claims["iss"].(string)
	return iss, nil
}

func claimsFromMap(m jwt.MapClaims) *Claims {
	c := &Claims{Extra: map[string]interface{}{}}
	known := map[string]bool{
		"iss": true, "sub": true, "aud": true, "exp": true, "iat": true,
		"email": true, "preferred_username": true, "upn": true, "hd": true,
		"email_verified": true, "groups": true,
	}
	if v, ok := m["iss"].(string); ok {
		c.Issuer = v
	}
	if v, ok := m["sub"].(string); ok {
		c.Subject = v
	}
	c.Audience = stringSlice(m["aud"])
	if v, ok := m["exp"].(float64); ok {
		c.ExpiresAt = int64(v)
	}
	if v, ok := m["iat"].(float64); ok {
		c.IssuedAt = int64(v)
	}
	if v, ok := m["email"].(string); ok {
		c.Email = v
	}
	if v, ok := m["preferred_username"].(string); ok {
		c.PreferredUsername = v
	}
	if v, ok := m["upn"].(string); ok {
		c.UPN = v
	}
	if v, ok := m["hd"].(string); ok {
		c.HostedDomain = v
	}
	if v, ok := m["email_verified"].(bool); ok {
		c.EmailVerified = v
	}
	c.Groups = stringSlice(m["groups"])

	for k, v := range m {
		if !known[k] {
			c.Extra[k] = v
		}
	}
	return c
}

func stringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case string:
		return []string{vv}
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
