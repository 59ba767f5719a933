package credential

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// fileEntry is one credential's on-disk representation: the password is
// always stored AES-256-GCM-encrypted, base64-encoded for YAML safety.
type fileEntry struct {
	Username          string `yaml:"username"`
	PasswordEncrypted string `yaml:"password_encrypted"`
}

type fileDocument struct {
	Credentials map[string]fileEntry `yaml:"credentials"`
}

// FilePlugin is the encrypted-YAML-file-backed credential implementation:
// the default plugin named "yaml" in configuration.
type FilePlugin struct {
	box *cipherBox
	doc fileDocument
}

// NewFilePlugin loads path and decrypts it with a key derived from
// passphrase. Like the inventory file plugin, this is loaded once at
// startup; it is not hot-swappable.
func NewFilePlugin(path, passphrase string) (*FilePlugin, error) {
	box, err := newCipherBoxFromPassphrase(passphrase)
	if err != nil {
		return nil, fmt.Errorf("credential file plugin: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credential file %s: %w", path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse credential file %s: %w", path, err)
	}
	return &FilePlugin{box: box, doc: doc}, nil
}

// Get implements Plugin.
func (p *FilePlugin) Get(_ context.Context, credentialID string) (types.Credential, error) {
	entry, ok := p.doc.Credentials[credentialID]
	if !ok {
		return types.Credential{}, tomerr.NotFoundError("no credential-id %q", credentialID)
	}
	encrypted, err := base64.StdEncoding.DecodeString(entry.PasswordEncrypted)
	if err != nil {
		return types.Credential{}, tomerr.InternalError(err, "decode stored credential %q", credentialID)
	}
	plaintext, err := p.box.open(credentialID, encrypted)
	if err != nil {
		return types.Credential{}, tomerr.InternalError(err, "decrypt stored credential %q", credentialID)
	}
	return types.Credential{Username: entry.Username, Password: string(plaintext)}, nil
}

// ListIDs implements Plugin. Reachability for this backend means the
// stored ciphertext actually decrypts under the plugin's passphrase; an
// id whose entry fails to decode or decrypt is still listed, but flagged
// unreachable rather than omitted, so a wrong-passphrase deployment is
// visible instead of silently empty. The file backend never blocks, so
// timeout is accepted for interface symmetry with remote-backed plugins
// but unused.
func (p *FilePlugin) ListIDs(ctx context.Context, _ time.Duration) ([]CredentialStatus, error) {
	ids := make([]string, 0, len(p.doc.Credentials))
	for id := range p.doc.Credentials {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]CredentialStatus, 0, len(ids))
	for _, id := range ids {
		_, err := p.Get(ctx, id)
		out = append(out, CredentialStatus{ID: id, Reachable: err == nil})
	}
	return out, nil
}

// EncryptForStorage is exposed for `tomctl credential set`-style tooling
// to write new entries into a credential file without hand-computing the
// AES-GCM envelope. credentialID must match the id the entry will be
// stored under, since it is bound into the envelope as additional data.
func EncryptForStorage(passphrase, credentialID, plaintext string) (string, error) {
	box, err := newCipherBoxFromPassphrase(passphrase)
	if err != nil {
		return "", err
	}
	ciphertext, err := box.seal(credentialID, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
