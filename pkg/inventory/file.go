package inventory

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// fileDevice is one device entry in the YAML inventory document.
type fileDevice struct {
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Adapter        string            `yaml:"adapter"`
	AdapterDriver  string            `yaml:"adapter_driver"`
	Platform       string            `yaml:"platform"`
	CredentialID   string            `yaml:"credential_id"`
	AdapterOptions map[string]string `yaml:"adapter_options,omitempty"`
}

type namedFilter struct {
	Description string `yaml:"description"`
	Filter      Filter `yaml:"filter"`
}

type fileDocument struct {
	Devices      map[string]fileDevice  `yaml:"devices"`
	NamedFilters map[string]namedFilter `yaml:"named_filters"`
}

// filterableFields is fixed: it mirrors the columns of fileDevice plus
// the synthetic "name" field, the only fields ListDevices/ListRaw ever
// filter on for this backend.
var filterableFields = []string{"name", "host", "adapter", "adapter_driver", "platform", "credential_id"}

// FilePlugin is the YAML-file-backed inventory implementation: the
// default plugin named "yaml" in configuration.
type FilePlugin struct {
	path string

	mu  sync.RWMutex
	doc fileDocument
}

// NewFilePlugin loads and parses the inventory file at path once, at
// startup; the plugin is not hot-swappable (spec §4.7), so later edits to
// the file require a process restart to take effect.
func NewFilePlugin(path string) (*FilePlugin, error) {
	p := &FilePlugin{path: path}
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FilePlugin) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("read inventory file %s: %w", p.path, err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse inventory file %s: %w", p.path, err)
	}
	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()
	return nil
}

func toDescriptor(name string, d fileDevice) (*types.DeviceDescriptor, error) {
	desc := &types.DeviceDescriptor{
		Name:           name,
		Host:           d.Host,
		Port:           d.Port,
		Adapter:        types.Adapter(d.Adapter),
		AdapterDriver:  d.AdapterDriver,
		CredentialID:   d.CredentialID,
		AdapterOptions: d.AdapterOptions,
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return desc, nil
}

// GetDevice implements Plugin.
func (p *FilePlugin) GetDevice(_ context.Context, name string) (*types.DeviceDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	d, ok := p.doc.Devices[name]
	if !ok {
		return nil, tomerr.NotFoundError("no inventory entry named %q", name)
	}
	return toDescriptor(name, d)
}

// ListDevices implements Plugin.
func (p *FilePlugin) ListDevices(_ context.Context, filter Filter) ([]types.DeviceDescriptor, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	compiled, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	var out []types.DeviceDescriptor
	for name, d := range p.doc.Devices {
		if !matchesFilter(compiled, name, d) {
			continue
		}
		desc, err := toDescriptor(name, d)
		if err != nil {
			continue // an invalid entry is excluded, not fatal to the listing
		}
		out = append(out, *desc)
	}
	return out, nil
}

// ListRaw implements Plugin, returning the plugin-native YAML-decoded
// record for each matching device.
func (p *FilePlugin) ListRaw(_ context.Context, filter Filter) ([]map[string]interface{}, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	compiled, err := compileFilter(filter)
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for name, d := range p.doc.Devices {
		if !matchesFilter(compiled, name, d) {
			continue
		}
		out = append(out, map[string]interface{}{
			"name":            name,
			"host":            d.Host,
			"port":            d.Port,
			"adapter":         d.Adapter,
			"adapter_driver":  d.AdapterDriver,
			"platform":        d.Platform,
			"credential_id":   d.CredentialID,
			"adapter_options": d.AdapterOptions,
		})
	}
	return out, nil
}

// FilterableFields implements Plugin.
func (p *FilePlugin) FilterableFields(_ context.Context) ([]string, error) {
	return filterableFields, nil
}

// NamedFilters implements Plugin.
func (p *FilePlugin) NamedFilters(_ context.Context) (map[string]NamedFilterInfo, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]NamedFilterInfo, len(p.doc.NamedFilters))
	for name, nf := range p.doc.NamedFilters {
		fields := make([]string, 0, len(nf.Filter))
		for field := range nf.Filter {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		out[name] = NamedFilterInfo{Description: nf.Description, Fields: fields}
	}
	return out, nil
}

// ResolveNamedFilter returns the underlying Filter for a named filter,
// for the controller to apply when a request supplies a filter name; the
// named filter is used instead of any inline fields, not combined with them.
func (p *FilePlugin) ResolveNamedFilter(name string) (Filter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	nf, ok := p.doc.NamedFilters[name]
	if !ok {
		return nil, false
	}
	return nf.Filter, true
}

type compiledFilter map[string]*regexp.Regexp

func compileFilter(filter Filter) (compiledFilter, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	out := make(compiledFilter, len(filter))
	for field, pattern := range filter {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, tomerr.ValidationError("invalid filter pattern for field %q: %v", field, err)
		}
		out[strings.ToLower(field)] = re
	}
	return out, nil
}

func matchesFilter(filter compiledFilter, name string, d fileDevice) bool {
	for field, re := range filter {
		var value string
		switch field {
		case "name":
			value = name
		case "host":
			value = d.Host
		case "adapter":
			value = d.Adapter
		case "adapter_driver":
			value = d.AdapterDriver
		case "platform":
			value = d.Platform
		case "credential_id":
			value = d.CredentialID
		default:
			return false
		}
		if !re.MatchString(value) {
			return false
		}
	}
	return true
}
