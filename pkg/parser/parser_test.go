package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, string, string) {
	t.Helper()
	customDir := t.TempDir()
	builtinDir := t.TempDir()
	return NewDispatcher(customDir, builtinDir), customDir, builtinDir
}

func TestDispatchBuiltinByIndex(t *testing.T) {
	d, _, builtinDir := newTestDispatcher(t)
	writeFile(t, builtinDir, "index.csv", "Template, Hostname, Platform, Command\nshow_version.textfsm, , cisco_ios, show version\n")
	writeFile(t, builtinDir, "show_version.textfsm", showVersionTemplate)

	res, err := d.Parse(Request{
		Hostname:       "router1",
		DevicePlatform: "cisco_ios",
		Command:        "show version",
		RawOutput:      "router1 uptime is 3 days\nCisco IOS Software, Version 15.2(4)S5,\n",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TemplateSourceBuiltin, res.Metadata.TemplateSource)
	assert.Equal(t, "show_version.textfsm", res.Metadata.TemplateName)
	records, ok := res.Parsed.([]map[string]string)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "15.2(4)S5", records[0]["VERSION"])
}

func TestDispatchCustomShadowsBuiltinIndex(t *testing.T) {
	d, customDir, builtinDir := newTestDispatcher(t)
	writeFile(t, builtinDir, "index.csv", "Template, Hostname, Platform, Command\nbuiltin_version.textfsm, , cisco_ios, show version\n")
	writeFile(t, builtinDir, "builtin_version.textfsm", showVersionTemplate)
	writeFile(t, customDir, "index.csv", "Template, Hostname, Platform, Command\ncustom_version.textfsm, , cisco_ios, show version\n")
	writeFile(t, customDir, "custom_version.textfsm", showVersionTemplate)

	res, err := d.Parse(Request{DevicePlatform: "cisco_ios", Command: "show version", RawOutput: "Cisco IOS Software, Version 1.0,\n"})
	require.NoError(t, err)
	assert.Equal(t, types.TemplateSourceCustom, res.Metadata.TemplateSource)
	assert.Equal(t, "custom_version.textfsm", res.Metadata.TemplateName)
}

func TestDispatchExplicitTemplateWins(t *testing.T) {
	d, customDir, builtinDir := newTestDispatcher(t)
	writeFile(t, builtinDir, "index.csv", "Template, Hostname, Platform, Command\nbuiltin_version.textfsm, , cisco_ios, show version\n")
	writeFile(t, builtinDir, "builtin_version.textfsm", showVersionTemplate)
	writeFile(t, customDir, "explicit.textfsm", showVersionTemplate)

	res, err := d.Parse(Request{
		DevicePlatform:   "cisco_ios",
		Command:          "show version",
		RawOutput:        "Cisco IOS Software, Version 9.9,\n",
		ExplicitTemplate: "explicit.textfsm",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TemplateSourceExplicit, res.Metadata.TemplateSource)
}

func TestDispatchInlineTemplateEngineP(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	res, err := d.Parse(Request{
		RawOutput:      "interface Gi0/1\n  description uplink\n",
		InlineTemplate: "interface {{ name }}\n  description {{ description }}\n",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TemplateSourceInline, res.Metadata.TemplateSource)
	records, ok := res.Parsed.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "Gi0/1", records[0]["name"])
}

func TestDispatchNoMatchReturnsTemplateNotFound(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	_, err := d.Parse(Request{DevicePlatform: "junos", Command: "show version", RawOutput: "n/a"})
	require.Error(t, err)
	te, ok := tomerr.As(err)
	require.True(t, ok)
	assert.Equal(t, tomerr.TemplateNotFound, te.Kind)
}

func TestDispatchIncludeRawAddsRawField(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	res, err := d.Parse(Request{
		RawOutput:      "interface Gi0/1\n",
		InlineTemplate: "interface {{ name }}\n",
		IncludeRaw:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "interface Gi0/1\n", res.Raw)
}

func TestDispatchPrecedenceOrder(t *testing.T) {
	d, customDir, builtinDir := newTestDispatcher(t)
	writeFile(t, builtinDir, "index.csv", "Template, Hostname, Platform, Command\nbuiltin_version.textfsm, , cisco_ios, show version\n")
	writeFile(t, builtinDir, "builtin_version.textfsm", showVersionTemplate)
	writeFile(t, customDir, "index.csv", "Template, Hostname, Platform, Command\ncustom_version.textfsm, , cisco_ios, show version\n")
	writeFile(t, customDir, "custom_version.textfsm", showVersionTemplate)
	writeFile(t, customDir, "explicit.textfsm", showVersionTemplate)

	// explicit beats inline beats custom beats builtin
	res, err := d.Parse(Request{
		DevicePlatform:   "cisco_ios",
		Command:          "show version",
		RawOutput:        "Cisco IOS Software, Version 1.1,\n",
		ExplicitTemplate: "explicit.textfsm",
		InlineTemplate:   "interface {{ name }}\n",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TemplateSourceExplicit, res.Metadata.TemplateSource)

	res, err = d.Parse(Request{
		DevicePlatform: "cisco_ios",
		Command:        "show version",
		RawOutput:      "Cisco IOS Software, Version 1.2,\n",
		InlineTemplate: "foo {{ bar }}\n",
	})
	require.NoError(t, err)
	assert.Equal(t, types.TemplateSourceInline, res.Metadata.TemplateSource)

	res, err = d.Parse(Request{DevicePlatform: "cisco_ios", Command: "show version", RawOutput: "Cisco IOS Software, Version 1.3,\n"})
	require.NoError(t, err)
	assert.Equal(t, types.TemplateSourceCustom, res.Metadata.TemplateSource)
}
