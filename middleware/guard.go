package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goRotate "github.com/MrEthical07/goRotate"
)

type authResultContextKey struct{}

// AuthResultFromContext returns the result stored by [Guard].
func AuthResultFromContext(ctx context.Context) (*goRotate.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*goRotate.AuthResult)
	return res, ok
}

// Guard rejects requests without a live access token. Token failures answer
// 401; an unavailable token store answers 503 so clients retry instead of
// logging in again.
func Guard(engine *goRotate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := BearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WriteError maps an engine error to a plain-text HTTP response without
// revealing which security check failed.
func WriteError(w http.ResponseWriter, err error) {
	switch err = goRotate.PublicError(err); {
	case goRotate.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, goRotate.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	case errors.Is(err, goRotate.ErrIssuanceFailed), errors.Is(err, goRotate.ErrEngineNotReady):
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
