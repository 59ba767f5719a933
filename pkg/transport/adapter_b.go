package transport

import (
	"bytes"
	"context"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// ExecAdapter opens a new SSH exec channel per command rather than
// holding a single interactive shell open. It suits devices whose CLI
// behaves like a conventional Unix host (each invocation is a complete,
// self-contained command), grounded on gravitational-gravity's
// SSHRunAndParse (one session.Run per command, discard/collect output).
type ExecAdapter struct{}

// NewExecAdapter builds an ExecAdapter.
func NewExecAdapter() *ExecAdapter {
	return &ExecAdapter{}
}

// Open implements Adapter.
func (a *ExecAdapter) Open(_ context.Context, host string, port int, _ string, _ map[string]string, cred types.Credential) (Session, error) {
	client, err := dial(host, port, cred)
	if err != nil {
		return nil, tomerr.TransportFailure(err, "adapter_b open %s", host)
	}
	return &execSession{client: client}, nil
}

type execSession struct {
	client *ssh.Client
	closed bool
}

// Send implements Session by opening a fresh exec channel for command
// and collecting its combined stdout/stderr, failing the send if it does
// not complete within timeout.
func (s *execSession) Send(ctx context.Context, command string, timeout time.Duration) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", tomerr.TransportFailure(err, "new exec channel")
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	session.Stderr = &out

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-runCtx.Done():
		session.Signal(ssh.SIGTERM)
		return "", tomerr.TimeoutFailure("command %q timed out", command)
	case err := <-done:
		if err != nil {
			if _, isExit := err.(*ssh.ExitError); isExit {
				return out.String(), nil
			}
			return "", tomerr.TransportFailure(err, "run command %q", command)
		}
		return out.String(), nil
	}
}

// Close implements Session. Idempotent.
func (s *execSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

