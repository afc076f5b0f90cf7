package auth

import (
	"net/http"
	"strings"
)

// Middleware authenticates requests via Authorization: Bearer <jwt> or
// X-API-Key headers and attaches the resolved user to the request context.
// Unauthenticated requests receive no identity; handlers decide whether to
// fail closed.
func Middleware(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if service == nil || !service.Enabled() {
				next.ServeHTTP(w, r)
				return
			}

			if token := extractBearer(r); token != "" {
				if user, err := service.ValidateJWT(token); err == nil {
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
					return
				}
				// A bearer token that is not a JWT may be an API key.
				if user, err := service.ValidateAPIKey(r.Context(), token); err == nil {
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
					return
				}
			}

			if key := r.Header.Get("X-API-Key"); key != "" {
				if user, err := service.ValidateAPIKey(r.Context(), key); err == nil {
					next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
