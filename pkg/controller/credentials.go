package controller

import (
	"net/http"
	"time"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
)

// handleListCredentials implements GET /credentials: known credential_ids
// and per-id reachability only, never the secrets themselves
// (credential.Plugin.ListIDs never returns them either).
func (ctl *Controller) handleListCredentials(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	statuses, err := ctl.Credential.ListIDs(r.Context(), 5*time.Second)
	if err != nil {
		return nil, tomerr.InternalError(err, "list credential ids")
	}
	return statuses, nil
}
