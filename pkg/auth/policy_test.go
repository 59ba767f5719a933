package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wrgeorge1983/tom/pkg/types"
)

func TestEvaluatePolicyEmptyPermitsAny(t *testing.T) {
	p := &Principal{Method: "jwt", Claims: &Claims{Email: "anyone@example.com"}}
	assert.True(t, EvaluatePolicy(types.ProviderPolicy{}, p))
}

func TestEvaluatePolicyAllowedUsersCaseInsensitive(t *testing.T) {
	policy := types.ProviderPolicy{AllowedUsers: []string{"Alice@Company.com"}}
	p := &Principal{Method: "jwt", Claims: &Claims{Email: "alice@company.com"}}
	assert.True(t, EvaluatePolicy(policy, p))
}

func TestEvaluatePolicyAllowedDomains(t *testing.T) {
	policy := types.ProviderPolicy{AllowedDomains: []string{"company.com"}}
	allowed := &Principal{Method: "jwt", Claims: &Claims{Email: "alice@company.com"}}
	denied := &Principal{Method: "jwt", Claims: &Claims{Email: "external@other.com"}}
	assert.True(t, EvaluatePolicy(policy, allowed))
	assert.False(t, EvaluatePolicy(policy, denied))
}

func TestEvaluatePolicyAllowedUserRegex(t *testing.T) {
	policy := types.ProviderPolicy{AllowedUserRegex: []string{`^svc-.*@company\.com$`}}
	p := &Principal{Method: "jwt", Claims: &Claims{Email: "svc-deploy@company.com"}}
	assert.True(t, EvaluatePolicy(policy, p))
}

func TestEvaluatePolicyDeniesNonMatching(t *testing.T) {
	policy := types.ProviderPolicy{AllowedDomains: []string{"company.com"}}
	p := &Principal{Method: "jwt", Claims: &Claims{Email: "external@other.com"}}
	assert.False(t, EvaluatePolicy(policy, p))
}

func TestEvaluatePolicyAPIKeyAlwaysPermitted(t *testing.T) {
	policy := types.ProviderPolicy{AllowedDomains: []string{"company.com"}}
	p := &Principal{Method: "api_key", Subject: "api-key"}
	assert.True(t, EvaluatePolicy(policy, p))
}

func TestClaimsIdentityFallback(t *testing.T) {
	c := &Claims{Subject: "sub-123"}
	assert.Equal(t, "sub-123", c.identity())
	c.UPN = "user@corp.example"
	assert.Equal(t, "user@corp.example", c.identity())
	c.PreferredUsername = "jdoe"
	assert.Equal(t, "jdoe", c.identity())
	c.Email = "jdoe@corp.example"
	assert.Equal(t, "jdoe@corp.example", c.identity())
}

func TestClaimsDomainPrefersHostedDomain(t *testing.T) {
	c := &Claims{Email: "jdoe@corp.example", HostedDomain: "override.example"}
	assert.Equal(t, "override.example", c.domain())
}
