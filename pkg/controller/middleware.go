package controller

import (
	"context"
	"net/http"

	"github.com/wrgeorge1983/tom/pkg/auth"
)

type principalCtxKey struct{}

// authenticate runs ctl.Auth over every /api request and stashes the
// resulting Principal in the request context for handlers that need it
// (in particular /auth/debug).
func (ctl *Controller) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := ctl.Auth.Authenticate(r.Context(), r)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), principalCtxKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func principalFromContext(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*auth.Principal)
	return p
}
