package controller

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wrgeorge1983/tom/pkg/inventory"
	"github.com/wrgeorge1983/tom/pkg/tomerr"
)

// namedFilterResolver is implemented by inventory plugins that support
// named filters beyond the base Plugin interface (currently only
// inventory.FilePlugin). It is not part of inventory.Plugin itself since a
// plugin backed by, say, a live CMDB API may have no notion of one.
type namedFilterResolver interface {
	ResolveNamedFilter(name string) (inventory.Filter, bool)
}

func (ctl *Controller) handleGetDevice(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	name := chi.URLParam(r, "name")
	desc, err := ctl.Inventory.GetDevice(r.Context(), name)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

func (ctl *Controller) handleExportInventory(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	filter, err := ctl.resolveFilter(r.Context(), r)
	if err != nil {
		return nil, err
	}
	devices, err := ctl.Inventory.ListDevices(r.Context(), filter)
	if err != nil {
		return nil, tomerr.InternalError(err, "list devices")
	}
	return devices, nil
}

func (ctl *Controller) handleExportInventoryRaw(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	filter, err := ctl.resolveFilter(r.Context(), r)
	if err != nil {
		return nil, err
	}
	records, err := ctl.Inventory.ListRaw(r.Context(), filter)
	if err != nil {
		return nil, tomerr.InternalError(err, "list raw inventory records")
	}
	return records, nil
}

func (ctl *Controller) handleInventoryFields(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	fields, err := ctl.Inventory.FilterableFields(r.Context())
	if err != nil {
		return nil, tomerr.InternalError(err, "list filterable fields")
	}
	return fields, nil
}

func (ctl *Controller) handleInventoryFilters(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	filters, err := ctl.Inventory.NamedFilters(r.Context())
	if err != nil {
		return nil, tomerr.InternalError(err, "list named filters")
	}
	return filters, nil
}

// resolveFilter builds an inventory.Filter from a request's query string,
// honoring the named-filter-overrides-inline-filter precedence rule of
// §9: when "filter" names a known named filter, it replaces any other
// "field.<name>=<pattern>" query parameters entirely rather than merging
// with them.
func (ctl *Controller) resolveFilter(ctx context.Context, r *http.Request) (inventory.Filter, error) {
	if name := r.URL.Query().Get("filter"); name != "" {
		resolver, ok := ctl.Inventory.(namedFilterResolver)
		if !ok {
			return nil, tomerr.ValidationError("inventory plugin does not support named filters")
		}
		filter, ok := resolver.ResolveNamedFilter(name)
		if !ok {
			return nil, tomerr.NotFoundError("no named filter %q", name)
		}
		return filter, nil
	}

	filter := inventory.Filter{}
	for key, values := range r.URL.Query() {
		const prefix = "field."
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if len(values) > 0 {
			filter[key[len(prefix):]] = values[0]
		}
	}
	if len(filter) == 0 {
		return nil, nil
	}
	return filter, nil
}
