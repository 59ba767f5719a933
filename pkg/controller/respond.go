package controller

import (
	"encoding/json"
	"net/http"

	"github.com/wrgeorge1983/tom/pkg/tomerr"
)

// apiHandler is a request handler that returns its JSON-able response
// payload directly, or an error — mirroring the teacher's webapi handler
// shape. A payload of type rawText or rawError is written as text/plain
// instead of JSON, for endpoints that honor a raw_output request option.
type apiHandler func(w http.ResponseWriter, r *http.Request) (interface{}, error)

// wrap adapts an apiHandler into an http.HandlerFunc, writing the
// returned payload as JSON or mapping a returned error onto the HTTP
// status/body conventions of §7.
func (ctl *Controller) wrap(h apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := h(w, r)
		if err != nil {
			writeError(w, err)
			return
		}
		if payload == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if re, ok := payload.(rawError); ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(re.status)
			_, _ = w.Write([]byte(re.text))
			return
		}
		if raw, ok := payload.(rawText); ok {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(raw))
			return
		}
		writeJSON(w, http.StatusOK, payload)
	}
}

// rawText marks a handler's return value to be written verbatim as
// text/plain rather than JSON-encoded, for raw_output requests.
type rawText string

// rawError marks a handler's return value to be written verbatim as
// text/plain with a non-200 status, for a FAILED job's raw_output
// rendering (§7): the job itself isn't a request error, so it is
// returned as a payload rather than through the err return, but it must
// still carry its error status rather than the 200 a plain payload gets.
type rawError struct {
	text   string
	status int
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// errorBody is the JSON shape returned for every non-2xx response, per
// §7's stable-kind client contract.
type errorBody struct {
	Kind    string `json:"error"`
	Message string `json:"detail"`
}

func writeError(w http.ResponseWriter, err error) {
	if te, ok := tomerr.As(err); ok {
		writeJSON(w, te.HTTPStatus(), errorBody{Kind: string(te.Kind), Message: te.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorBody{Kind: string(tomerr.Internal), Message: err.Error()})
}
