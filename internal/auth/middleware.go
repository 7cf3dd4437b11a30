package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/testplanit/searchsync/internal/config"
)

// publicPaths are request paths that bypass authentication.
type publicPaths map[string]bool

func newPublicPaths(paths []string) publicPaths {
	if paths == nil {
		paths = config.DefaultPublicPaths
	}
	p := make(publicPaths, len(paths))
	for _, path := range paths {
		p[path] = true
	}
	return p
}

// NewMiddleware creates a new authentication middleware based on settings
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	public := newPublicPaths(settings.PublicPaths)
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		return public.wrap(basicAuthMiddleware(settings.Basic)), nil
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		return public.wrap(apiKeyMiddleware(settings.APIKeys)), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// wrap skips authMiddleware for public paths.
func (p publicPaths) wrap(authMiddleware func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		authedHandler := authMiddleware(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if p[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			authedHandler.ServeHTTP(w, r)
		})
	}
}

func basicAuthMiddleware(settings config.BasicAuthSettings) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(settings.Username)) == 1
			passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(settings.Password)) == 1
			if !ok || !userMatch || !passMatch {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// apiKeyFromRequest reads the key from X-API-Key, falling back to an
// Authorization bearer token.
func apiKeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	const prefix = "bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) > len(prefix) && strings.EqualFold(authz[:len(prefix)], prefix) {
		return strings.TrimSpace(authz[len(prefix):])
	}
	return ""
}

func validAPIKey(key string, apiKeys []string) bool {
	valid := false
	for _, validKey := range apiKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 {
			valid = true
		}
	}
	return valid
}

func apiKeyMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := apiKeyFromRequest(r)
			if key == "" || !validAPIKey(key, apiKeys) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="testplanit-search"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
