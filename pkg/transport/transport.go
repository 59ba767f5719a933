// Package transport implements the adapter capability set of spec.md
// §4.7/§6: open a session to a device over one of two SSH transport
// families and send commands through it. Adapter A drives a persistent
// interactive shell (the shape most CLI-style network OSes expect);
// Adapter B opens one exec channel per command for devices that behave
// more like a conventional Unix host. Both are selected by
// types.DeviceDescriptor.Adapter at job dispatch time; neither is
// hot-swappable mid-session.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// Session is one open connection to a device. Send may be called
// repeatedly in the declared command order of a job; Close is idempotent.
type Session interface {
	Send(ctx context.Context, command string, timeout time.Duration) (string, error)
	Close() error
}

// Adapter opens Sessions for one transport family.
type Adapter interface {
	Open(ctx context.Context, host string, port int, driver string, options map[string]string, cred types.Credential) (Session, error)
}

// Registry dispatches to the adapter registered for a types.Adapter key.
// The adapter set is closed and fixed at construction — spec §4.7 calls
// for a small, explicitly-registered capability set, not dynamic plugin
// discovery (REDESIGN FLAG in §9).
type Registry struct {
	adapters map[types.Adapter]Adapter
}

// NewRegistry builds a Registry with the default adapter set (A and B).
func NewRegistry() *Registry {
	return &Registry{
		adapters: map[types.Adapter]Adapter{
			types.AdapterA: NewShellAdapter(),
			types.AdapterB: NewExecAdapter(),
		},
	}
}

// Register overrides (or adds) the Adapter used for one types.Adapter key.
// Production wiring never needs this — the two built-in families cover
// spec §4.7 — but tests substitute a fake Adapter here to exercise
// pkg/worker without a real SSH endpoint.
func (r *Registry) Register(kind types.Adapter, a Adapter) {
	r.adapters[kind] = a
}

// Open resolves desc.Adapter to a registered Adapter and opens a Session
// against it.
func (r *Registry) Open(ctx context.Context, desc types.DeviceDescriptor, cred types.Credential) (Session, error) {
	a, ok := r.adapters[desc.Adapter]
	if !ok {
		return nil, tomerr.ValidationError("unknown transport adapter %q", desc.Adapter)
	}
	sess, err := a.Open(ctx, desc.Host, desc.Port, desc.AdapterDriver, desc.AdapterOptions, cred)
	if err != nil {
		return nil, fmt.Errorf("open %s session to %s: %w", desc.Adapter, desc.Host, err)
	}
	return sess, nil
}
