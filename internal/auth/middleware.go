package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/franchise-ops/franchise-console/internal/platform/httpx"
	"github.com/franchise-ops/franchise-console/internal/shared"
)

// Authenticate resolves the bearer token into a principal stored on the request context.
// EventSource clients cannot set headers, so access_token is also read from the query.
func Authenticate(tokens *Tokens, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			principal, err := tokens.Verify(raw)
			if err != nil {
				if logger != nil {
					logger.Debug("reject token", slog.String("path", r.URL.Path), slog.Any("error", err))
				}
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), principal)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return r.URL.Query().Get("access_token")
}
