// Package inventory defines the pluggable device inventory interface
// described in spec §4.7/§6 and ships the YAML-file-backed
// implementation used by default.
package inventory

import (
	"context"

	"github.com/wrgeorge1983/tom/pkg/types"
)

// Filter is a field-name -> case-insensitive-regex mapping. All fields
// present must match a device for it to be included (logical AND).
type Filter map[string]string

// NamedFilterInfo describes one predefined filter: its human-readable
// description plus the field names it matches on, so a caller can see
// what a named filter actually constrains without resolving it first.
type NamedFilterInfo struct {
	Description string   `json:"description"`
	Fields      []string `json:"fields"`
}

// Plugin is the capability set any inventory backend must implement.
// Exactly one instance runs for the controller process lifetime; plugins
// are not hot-swappable (spec §4.7).
type Plugin interface {
	// GetDevice resolves one device by its inventory name.
	GetDevice(ctx context.Context, name string) (*types.DeviceDescriptor, error)
	// ListDevices returns every device matching filter (nil/empty
	// matches everything).
	ListDevices(ctx context.Context, filter Filter) ([]types.DeviceDescriptor, error)
	// ListRaw returns the plugin's native record representation for
	// every device matching filter, for the /inventory/export/raw
	// endpoint.
	ListRaw(ctx context.Context, filter Filter) ([]map[string]interface{}, error)
	// FilterableFields lists the field names ListDevices/ListRaw accept
	// in a Filter.
	FilterableFields(ctx context.Context) ([]string, error)
	// NamedFilters lists predefined filter names along with their
	// description and the fields each one matches on. A named filter, if
	// supplied by a caller, overrides any inline Filter for the same call
	// (spec §6).
	NamedFilters(ctx context.Context) (map[string]NamedFilterInfo, error)
}
