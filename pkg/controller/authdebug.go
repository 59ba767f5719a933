package controller

import "net/http"

// authDebugResponse surfaces the authenticated Principal for the calling
// request, including raw JWT claims the controller doesn't itself
// interpret (Claims.Extra) — the §9 REDESIGN FLAG resolution that custom
// OIDC claims should be inspectable rather than silently dropped.
type authDebugResponse struct {
	Subject string         `json:"subject"`
	Method  string         `json:"method"`
	Claims  any            `json:"claims,omitempty"`
}

func (ctl *Controller) handleAuthDebug(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	principal := principalFromContext(r.Context())
	if principal == nil {
		return authDebugResponse{Subject: "anonymous", Method: "none"}, nil
	}
	resp := authDebugResponse{Subject: principal.Subject, Method: principal.Method}
	if principal.Claims != nil {
		resp.Claims = principal.Claims
	}
	return resp, nil
}
