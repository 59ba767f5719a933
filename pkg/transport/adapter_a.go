package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

const defaultPromptPattern = `[>#]\s*$`

// ShellAdapter holds one interactive PTY shell open for the session's
// lifetime and drives it by prompt detection, the shape most network-OS
// CLIs expect (a stateful shell that echoes commands and returns to a
// prompt rather than exiting per invocation). Grounded on the
// interactive-shell half of gravitational-gravity's lib/utils/ssh.go,
// adapted from its one-shot session.Run into a held-open shell loop.
type ShellAdapter struct{}

// NewShellAdapter builds a ShellAdapter.
func NewShellAdapter() *ShellAdapter {
	return &ShellAdapter{}
}

// Open implements Adapter. options["prompt_regex"], if set, overrides
// the default end-of-line `[>#]` prompt detector.
func (a *ShellAdapter) Open(_ context.Context, host string, port int, _ string, options map[string]string, cred types.Credential) (Session, error) {
	client, err := dial(host, port, cred)
	if err != nil {
		return nil, tomerr.TransportFailure(err, "adapter_a open %s", host)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, tomerr.TransportFailure(err, "open shell session to %s", host)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", 0, 200, modes); err != nil {
		session.Close()
		client.Close()
		return nil, tomerr.TransportFailure(err, "request pty on %s", host)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, tomerr.TransportFailure(err, "attach stdin on %s", host)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, tomerr.TransportFailure(err, "attach stdout on %s", host)
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, tomerr.TransportFailure(err, "start shell on %s", host)
	}

	promptPattern := defaultPromptPattern
	if p, ok := options["prompt_regex"]; ok && p != "" {
		promptPattern = p
	}
	promptRe, err := regexp.Compile(promptPattern)
	if err != nil {
		session.Close()
		client.Close()
		return nil, tomerr.ValidationError("invalid prompt_regex %q: %v", promptPattern, err)
	}

	sess := &shellSession{
		client:  client,
		session: session,
		stdin:   stdin,
		prompt:  promptRe,
		lineCh:  make(chan string, 16),
		errCh:   make(chan error, 1),
	}
	go sess.readLoop(bufio.NewReader(stdout))

	// Drain the login banner and first prompt before accepting commands.
	if _, err := sess.readUntilPrompt(context.Background(), 10*time.Second); err != nil {
		sess.Close()
		return nil, tomerr.TransportFailure(err, "read initial prompt on %s", host)
	}
	return sess, nil
}

type shellSession struct {
	mu      sync.Mutex
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	prompt  *regexp.Regexp
	lineCh  chan string
	errCh   chan error
	closed  bool
}

// readLoop runs for the session's lifetime, feeding complete lines from
// the shell's stdout into lineCh so readUntilPrompt can select on it
// alongside a deadline without leaking a goroutine per command.
func (s *shellSession) readLoop(r *bufio.Reader) {
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			s.lineCh <- line
		}
		if err != nil {
			s.errCh <- err
			return
		}
	}
}

// Send implements Session by writing command followed by a newline and
// reading output until the prompt pattern reappears.
func (s *shellSession) Send(ctx context.Context, command string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := fmt.Fprintf(s.stdin, "%s\n", command); err != nil {
		return "", tomerr.TransportFailure(err, "write command %q", command)
	}
	out, err := s.readUntilPrompt(ctx, timeout)
	if err != nil {
		return "", err
	}
	return stripEcho(out, command), nil
}

func (s *shellSession) readUntilPrompt(ctx context.Context, timeout time.Duration) (string, error) {
	var sb strings.Builder

	readCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		readCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for {
		select {
		case <-readCtx.Done():
			return sb.String(), tomerr.TimeoutFailure("timed out waiting for device prompt")
		case line := <-s.lineCh:
			sb.WriteString(line)
			if s.prompt.MatchString(strings.TrimRight(line, "\r\n")) {
				return sb.String(), nil
			}
		case err := <-s.errCh:
			return sb.String(), tomerr.TransportFailure(err, "read device output")
		}
	}
}

// stripEcho removes the device's echo of the sent command (and any
// trailing prompt line) from raw, leaving just the command's output.
func stripEcho(raw, command string) string {
	lines := strings.Split(raw, "\n")
	if len(lines) == 0 {
		return raw
	}
	if strings.TrimSpace(strings.TrimRight(lines[0], "\r")) == strings.TrimSpace(command) {
		lines = lines[1:]
	}
	if len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSuffix(strings.Join(lines, "\n"), "\r")
}

// Close implements Session. Idempotent.
func (s *shellSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.session.Close()
	return s.client.Close()
}
