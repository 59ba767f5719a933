package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
)

const defaultAPIKeyHeader = "X-Api-Key"

// apiKeyValidator compares a request's candidate key against the
// configured set in constant time, regardless of which configured key
// (if any) ultimately matches.
type apiKeyValidator struct {
	digests [][sha256.Size]byte
	headers []string
}

func newAPIKeyValidator(keys, headers []string) *apiKeyValidator {
	if len(headers) == 0 {
		headers = []string{defaultAPIKeyHeader}
	}
	v := &apiKeyValidator{headers: headers}
	for _, k := range keys {
		v.digests = append(v.digests, sha256.Sum256([]byte(k)))
	}
	return v
}

func (v *apiKeyValidator) validate(r *http.Request) (*Principal, error) {
	var candidate string
	for _, h := range v.headers {
		if c := r.Header.Get(h); c != "" {
			candidate = c
			break
		}
	}
	if candidate == "" {
		return nil, tomerr.AuthRequiredError("missing api key")
	}

	digest := sha256.Sum256([]byte(candidate))
	matched := false
	for _, want := range v.digests {
		if subtle.ConstantTimeCompare(digest[:], want[:]) == 1 {
			matched = true
			// deliberately do not break: every configured key is compared
			// so the loop's timing does not depend on which key matched.
		}
	}
	if !matched {
		return nil, tomerr.AuthRequiredError("invalid api key")
	}
	return &Principal{Subject: "api-key", Method: "api_key"}, nil
}
