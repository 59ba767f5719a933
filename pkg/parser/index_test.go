package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wrgeorge1983/tom/pkg/types"
)

const sampleIndex = `Template, Hostname, Platform, Command
cisco_ios_show_version.textfsm, , cisco_ios, show version
cisco_ios_show_interfaces.textfsm, , cisco_ios, show interfaces.*
juniper_junos_show_version.textfsm, , junos, show version
`

func TestLoadIndexParsesRows(t *testing.T) {
	entries, err := loadIndex(strings.NewReader(sampleIndex), types.TemplateSourceBuiltin)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "cisco_ios_show_version.textfsm", entries[0].Filename)
	assert.Equal(t, types.TemplateSourceBuiltin, entries[0].Source)
}

func TestMatchFirstMatchWinsInFileOrder(t *testing.T) {
	entries, err := loadIndex(strings.NewReader(sampleIndex), types.TemplateSourceBuiltin)
	require.NoError(t, err)

	entry, ok := match(entries, "router1", "cisco_ios", "show interfaces brief")
	require.True(t, ok)
	assert.Equal(t, "cisco_ios_show_interfaces.textfsm", entry.Filename)
}

func TestMatchIsCaseInsensitive(t *testing.T) {
	entries, err := loadIndex(strings.NewReader(sampleIndex), types.TemplateSourceBuiltin)
	require.NoError(t, err)

	entry, ok := match(entries, "router1", "CISCO_IOS", "SHOW VERSION")
	require.True(t, ok)
	assert.Equal(t, "cisco_ios_show_version.textfsm", entry.Filename)
}

func TestMatchNoneReturnsFalse(t *testing.T) {
	entries, err := loadIndex(strings.NewReader(sampleIndex), types.TemplateSourceBuiltin)
	require.NoError(t, err)

	_, ok := match(entries, "router1", "arista_eos", "show version")
	assert.False(t, ok)
}

func TestLoadIndexRejectsBadHeader(t *testing.T) {
	_, err := loadIndex(strings.NewReader("A,B,C,D\nx,y,z,w\n"), types.TemplateSourceBuiltin)
	assert.Error(t, err)
}
