// Package credential defines the pluggable secret-store interface
// described in spec §4.7/§6 and ships two implementations: an
// AES-256-GCM-encrypted YAML file, and an environment-variable lookup
// for ambient/ephemeral deployments. Each process (worker and controller)
// builds exactly one plugin instance for its lifetime (spec §4.7).
package credential

import (
	"context"
	"time"

	"github.com/wrgeorge1983/tom/pkg/types"
)

// CredentialStatus reports one credential-id's identity and whether it
// currently resolves to a usable secret, without ever exposing the
// secret itself.
type CredentialStatus struct {
	ID        string `json:"id"`
	Reachable bool   `json:"reachable"`
}

// Plugin is the capability set any credential backend must implement.
type Plugin interface {
	// Get resolves a credential_id to its username/password pair.
	Get(ctx context.Context, credentialID string) (types.Credential, error)
	// ListIDs enumerates known credential-ids (never the secrets
	// themselves) within timeout, probing each for reachability.
	ListIDs(ctx context.Context, timeout time.Duration) ([]CredentialStatus, error)
}
