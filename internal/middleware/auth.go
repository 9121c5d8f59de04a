package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"net/url"
)

// Auth enforces the shared service key on /query. A request whose Referer or
// Origin host matches the Host header may skip the key (browser same-origin
// calls); requireAlways disables that bypass for untrusted networks, since a
// non-browser client can trivially forge those headers.
type Auth struct {
	serviceKey    string
	requireAlways bool
}

func NewAuth(serviceKey string, requireAlways bool) *Auth {
	return &Auth{serviceKey: serviceKey, requireAlways: requireAlways}
}

// RequireKey returns middleware rejecting requests without a valid key.
func (a *Auth) RequireKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("x-service-key")
			if a.serviceKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(a.serviceKey)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			if !a.requireAlways && sameOrigin(r) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{
				"ok":    false,
				"error": "unauthorized",
			})
		})
	}
}

func sameOrigin(r *http.Request) bool {
	for _, header := range []string{"Referer", "Origin"} {
		raw := r.Header.Get(header)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if u.Host != "" && u.Host == r.Host {
			return true
		}
	}
	return false
}
