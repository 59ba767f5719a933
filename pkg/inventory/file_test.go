package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

const sampleInventory = `
devices:
  router1:
    host: 10.0.0.1
    port: 22
    adapter: adapter_a
    adapter_driver: cisco_ios
    platform: cisco_ios
    credential_id: default
  router2:
    host: 10.0.0.2
    adapter: adapter_b
    adapter_driver: juniper_junos
    platform: junos
    credential_id: default
  broken:
    adapter: adapter_a
named_filters:
  cisco-routers:
    description: "all cisco IOS devices"
    filter:
      adapter_driver: cisco_ios
`

func newTestPlugin(t *testing.T) *FilePlugin {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleInventory), 0o644))
	p, err := NewFilePlugin(path)
	require.NoError(t, err)
	return p
}

func TestGetDeviceResolvesAndDefaultsPort(t *testing.T) {
	p := newTestPlugin(t)
	d, err := p.GetDevice(context.Background(), "router1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", d.Host)
	assert.Equal(t, 22, d.Port)
	assert.Equal(t, types.AdapterA, d.Adapter)
}

func TestGetDeviceUnknownReturnsNotFound(t *testing.T) {
	p := newTestPlugin(t)
	_, err := p.GetDevice(context.Background(), "missing")
	require.Error(t, err)
	te, ok := tomerr.As(err)
	require.True(t, ok)
	assert.Equal(t, tomerr.NotFound, te.Kind)
}

func TestGetDeviceInvalidEntryIsError(t *testing.T) {
	p := newTestPlugin(t)
	_, err := p.GetDevice(context.Background(), "broken")
	require.Error(t, err)
}

func TestListDevicesFilterAND(t *testing.T) {
	p := newTestPlugin(t)
	out, err := p.ListDevices(context.Background(), Filter{"adapter_driver": "cisco_ios", "name": "router1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "router1", out[0].Name)

	out, err = p.ListDevices(context.Background(), Filter{"adapter_driver": "cisco_ios", "name": "router2"})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestListDevicesNoFilterReturnsAllValid(t *testing.T) {
	p := newTestPlugin(t)
	out, err := p.ListDevices(context.Background(), nil)
	require.NoError(t, err)
	// "broken" has no host and is excluded, not fatal to the listing
	assert.Len(t, out, 2)
}

func TestListRawReturnsNativeRecords(t *testing.T) {
	p := newTestPlugin(t)
	out, err := p.ListRaw(context.Background(), Filter{"name": "router1"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "cisco_ios", out[0]["platform"])
}

func TestFilterableFieldsAndNamedFilters(t *testing.T) {
	p := newTestPlugin(t)
	fields, err := p.FilterableFields(context.Background())
	require.NoError(t, err)
	assert.Contains(t, fields, "adapter_driver")

	named, err := p.NamedFilters(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "all cisco IOS devices", named["cisco-routers"].Description)
	assert.Equal(t, []string{"adapter_driver"}, named["cisco-routers"].Fields)

	f, ok := p.ResolveNamedFilter("cisco-routers")
	require.True(t, ok)
	assert.Equal(t, "cisco_ios", f["adapter_driver"])

	_, ok = p.ResolveNamedFilter("does-not-exist")
	assert.False(t, ok)
}

func TestInvalidFilterPatternIsValidationError(t *testing.T) {
	p := newTestPlugin(t)
	_, err := p.ListDevices(context.Background(), Filter{"host": "("})
	require.Error(t, err)
	te, ok := tomerr.As(err)
	require.True(t, ok)
	assert.Equal(t, tomerr.Validation, te.Kind)
}
