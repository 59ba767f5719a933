package credential

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// EnvPlugin resolves credentials from environment variables named
// TOM_CRED_<CREDENTIAL_ID>_USERNAME / _PASSWORD, uppercased with non
// alphanumerics replaced by underscores. It is intended for ephemeral or
// containerized deployments where a file plugin's at-rest encryption adds
// no value over the orchestrator's own secret injection.
type EnvPlugin struct {
	prefix string
}

// NewEnvPlugin builds an EnvPlugin using the default TOM_CRED_ prefix.
func NewEnvPlugin() *EnvPlugin {
	return &EnvPlugin{prefix: "TOM_CRED_"}
}

func (p *EnvPlugin) envKey(credentialID, suffix string) string {
	normalized := strings.ToUpper(credentialID)
	normalized = strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, normalized)
	return fmt.Sprintf("%s%s_%s", p.prefix, normalized, suffix)
}

// Get implements Plugin.
func (p *EnvPlugin) Get(_ context.Context, credentialID string) (types.Credential, error) {
	username, ok := os.LookupEnv(p.envKey(credentialID, "USERNAME"))
	if !ok {
		return types.Credential{}, tomerr.NotFoundError("no credential-id %q", credentialID)
	}
	password := os.Getenv(p.envKey(credentialID, "PASSWORD"))
	return types.Credential{Username: username, Password: password}, nil
}

// ListIDs implements Plugin by scanning the process environment for
// TOM_CRED_*_USERNAME keys and recovering the credential-id from each.
// This is a best-effort reverse mapping: credential-ids containing
// characters that normalize to the same environment key are
// indistinguishable from each other. An id is reachable only if its
// matching _PASSWORD variable is also set; a username with no password
// variable is listed but flagged unreachable rather than omitted.
func (p *EnvPlugin) ListIDs(_ context.Context, _ time.Duration) ([]CredentialStatus, error) {
	const suffix = "_USERNAME"
	var ids []string
	for _, kv := range os.Environ() {
		key, _, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, p.prefix) || !strings.HasSuffix(key, suffix) {
			continue
		}
		middle := strings.TrimSuffix(strings.TrimPrefix(key, p.prefix), suffix)
		ids = append(ids, strings.ToLower(middle))
	}
	sort.Strings(ids)

	out := make([]CredentialStatus, 0, len(ids))
	for _, id := range ids {
		_, reachable := os.LookupEnv(p.envKey(id, "PASSWORD"))
		out = append(out, CredentialStatus{ID: id, Reachable: reachable})
	}
	return out, nil
}
