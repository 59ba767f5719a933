package auth

// Claims holds the well-known JWT fields the controller cares about,
// plus an Extra side map for anything else — surfaced verbatim by the
// /auth/debug endpoint. Kept typed rather than a single open map so
// policy evaluation (email/domain matching) never has to type-assert.
type Claims struct {
	Issuer            string                 `json:"iss,omitempty"`
	Subject           string                 `json:"sub,omitempty"`
	Audience          []string               `json:"aud,omitempty"`
	ExpiresAt         int64                  `json:"exp,omitempty"`
	IssuedAt          int64                  `json:"iat,omitempty"`
	Email             string                 `json:"email,omitempty"`
	PreferredUsername string                 `json:"preferred_username,omitempty"`
	UPN               string                 `json:"upn,omitempty"`
	HostedDomain      string                 `json:"hd,omitempty"`
	EmailVerified     bool                   `json:"email_verified,omitempty"`
	Groups            []string               `json:"groups,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// identity picks the best available human-readable identifier for
// policy matching: email, falling back to preferred_username/upn/sub.
func (c *Claims) identity() string {
	switch {
	case c.Email != "":
		return c.Email
	case c.PreferredUsername != "":
		return c.PreferredUsername
	case c.UPN != "":
		return c.UPN
	default:
		return c.Subject
	}
}

// domain extracts the domain portion of the claimed identity, preferring
// the explicit hd (hosted domain) claim when present.
func (c *Claims) domain() string {
	if c.HostedDomain != "" {
		return c.HostedDomain
	}
	id := c.identity()
	for i := len(id) - 1; i >= 0; i-- {
		if id[i] == '@' {
			return id[i+1:]
		}
	}
	return ""
}
