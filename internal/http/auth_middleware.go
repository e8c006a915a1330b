package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

type authContextKey string

type authInfo struct {
	UserID string
	Name   string
}

const contextKeyAuth authContextKey = "inkpost-auth-info"

type contextSetter interface {
	SetContext(context.Context)
}

// optionalAuth attaches identity when a credential is present. The contract
// is deliberately asymmetric: a missing Authorization header means the
// request proceeds as anonymous, while a present-but-invalid or expired
// credential is rejected outright with 403.
func (r *Router) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		header := strings.TrimSpace(req.Header.Get("Authorization"))
		if header == "" {
			next(w, req)
			return
		}
		token, err := bearerToken(header)
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "token is invalid or expired")
			return
		}
		claims, err := r.auth.Authorize(token)
		if err != nil {
			r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusForbidden, "token is invalid or expired")
			return
		}
		ctx := context.WithValue(req.Context(), contextKeyAuth, authInfo{UserID: claims.UserID, Name: claims.Name})
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// requireAuth additionally rejects anonymous requests with 401.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return r.optionalAuth(func(w http.ResponseWriter, req *http.Request) {
		if _, ok := authInfoFromContext(req.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, req)
	})
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	value := ctx.Value(contextKeyAuth)
	if value == nil {
		return authInfo{}, false
	}
	info, ok := value.(authInfo)
	return info, ok
}

func bearerToken(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", errors.New("empty bearer token")
	}
	return token, nil
}
