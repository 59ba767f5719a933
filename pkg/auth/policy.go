package auth

import (
	"regexp"
	"strings"

	"github.com/wrgeorge1983/tom/pkg/types"
)

// EvaluatePolicy implements spec.md §3's ProviderPolicy matching: case
// insensitive, any match grants, all-empty permits any authenticated
// principal. API-key principals are exempt — the key itself is the
// authorization, per §4.5 ("API key" mode has no separate identity to
// check against allow-lists).
func EvaluatePolicy(policy types.ProviderPolicy, p *Principal) bool {
	if p.Method == "api_key" {
		return true
	}
	if len(policy.AllowedUsers) == 0 && len(policy.AllowedDomains) == 0 && len(policy.AllowedUserRegex) == 0 {
		return true
	}

	identity := ""
	domain := ""
	if p.Claims != nil {
		identity = p.Claims.identity()
		domain = p.Claims.domain()
	} else {
		identity = p.Subject
	}
	identity = strings.ToLower(identity)
	domain = strings.ToLower(domain)

	for _, u := range policy.AllowedUsers {
		if strings.ToLower(u) == identity {
			return true
		}
	}
	for _, d := range policy.AllowedDomains {
		if strings.ToLower(d) == domain {
			return true
		}
	}
	for _, pattern := range policy.AllowedUserRegex {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			continue
		}
		if re.MatchString(identity) {
			return true
		}
	}
	return false
}
