package transport

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

type fakeSession struct {
	sent   []string
	closed bool
}

func (f *fakeSession) Send(_ context.Context, command string, _ time.Duration) (string, error) {
	f.sent = append(f.sent, command)
	return "output for " + command, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeAdapter struct {
	sess *fakeSession
	err  error
}

func (f *fakeAdapter) Open(_ context.Context, _ string, _ int, _ string, _ map[string]string, _ types.Credential) (Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sess, nil
}

func TestRegistryOpenRoutesByAdapter(t *testing.T) {
	r := &Registry{adapters: map[types.Adapter]Adapter{
		types.AdapterA: &fakeAdapter{sess: &fakeSession{}},
	}}
	desc := types.DeviceDescriptor{Host: "r1", Adapter: types.AdapterA}

	sess, err := r.Open(context.Background(), desc, types.Credential{Username: "admin"})
	require.NoError(t, err)
	out, err := sess.Send(context.Background(), "show version", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "output for show version", out)
}

func TestRegistryOpenUnknownAdapter(t *testing.T) {
	r := &Registry{adapters: map[types.Adapter]Adapter{}}
	_, err := r.Open(context.Background(), types.DeviceDescriptor{Adapter: types.Adapter("adapter_z")}, types.Credential{})
	require.Error(t, err)
	te, ok := tomerr.As(err)
	require.True(t, ok)
	assert.Equal(t, tomerr.Validation, te.Kind)
}

func TestStripEchoRemovesCommandAndTrailingPrompt(t *testing.T) {
	raw := "show version\r\nCisco IOS Software\r\nUptime: 3 days\r\nrouter1#"
	got := stripEcho(raw, "show version")
	assert.Equal(t, "Cisco IOS Software\r\nUptime: 3 days", got)
}

func TestStripEchoNoLeadingEcho(t *testing.T) {
	raw := "line one\r\nline two\r\nrouter1#"
	got := stripEcho(raw, "show version")
	assert.Equal(t, "line one\r\nline two", got)
}

func TestDefaultPromptPatternMatchesCommonCLIPrompts(t *testing.T) {
	re, err := regexp.Compile(defaultPromptPattern)
	require.NoError(t, err)
	assert.True(t, re.MatchString("router1#"))
	assert.True(t, re.MatchString("router1>"))
	assert.False(t, re.MatchString("some output line"))
}
