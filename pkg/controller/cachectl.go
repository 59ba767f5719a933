package controller

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
)

// cacheInspectResult backs GET /cache?device=&command=:
// a direct lookup of one fingerprinted entry, for operator debugging.
type cacheInspectResult struct {
	Found bool   `json:"found"`
	Entry any    `json:"entry,omitempty"`
}

func (ctl *Controller) handleCacheInspect(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	device := r.URL.Query().Get("device")
	command := r.URL.Query().Get("command")
	if device == "" || command == "" {
		return nil, tomerr.ValidationError("device and command query parameters are required")
	}

	entry, ok, err := ctl.Cache.Lookup(r.Context(), device, command, true)
	if err != nil {
		return nil, tomerr.InternalError(err, "cache lookup")
	}
	if !ok {
		return cacheInspectResult{Found: false}, nil
	}
	return cacheInspectResult{Found: true, Entry: entry}, nil
}

func (ctl *Controller) handleCacheInvalidateAll(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	n, err := ctl.Cache.InvalidateAll(r.Context())
	if err != nil {
		return nil, tomerr.InternalError(err, "invalidate cache")
	}
	return map[string]int{"invalidated": n}, nil
}

func (ctl *Controller) handleCacheInvalidateDevice(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	device := chi.URLParam(r, "device")
	n, err := ctl.Cache.InvalidateDevice(r.Context(), device)
	if err != nil {
		return nil, tomerr.InternalError(err, "invalidate cache for device %s", device)
	}
	return map[string]int{"invalidated": n}, nil
}
