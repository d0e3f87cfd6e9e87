package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// UserAuthenticator resolves an API key to its owner.
// *service.UserService satisfies it.
type UserAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*model.User, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger        *slog.Logger
	Authenticator UserAuthenticator
	// MinDuration pads every authentication attempt, successful or not,
	// to at least this long. Zero disables padding.
	MinDuration time.Duration
}

// Auth returns a middleware that authenticates API requests.
// It extracts the API key from the request headers, resolves the owning user
// and injects it into the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := authenticate(r, cfg)
			if err != nil {
				requestID := GetRequestID(r.Context())
				endpoint := r.Method + " " + r.URL.Path

				if errors.Is(err, service.ErrUnauthenticated) {
					cfg.Logger.Warn("authentication failed",
						slog.String("ip", r.RemoteAddr),
						slog.String("endpoint", endpoint),
						slog.String("request_id", requestID),
					)
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired API key")
					return
				}

				cfg.Logger.Error("authentication error",
					slog.String("error", err.Error()),
					slog.String("endpoint", endpoint),
					slog.String("request_id", requestID),
				)
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
				return
			}

			cfg.Logger.Debug("authentication successful",
				slog.Int64("user_id", user.ID),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithUser(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate runs the lookup, holding the caller until MinDuration elapses.
func authenticate(r *http.Request, cfg AuthConfig) (*model.User, error) {
	if cfg.MinDuration > 0 {
		start := time.Now()
		defer func() {
			if elapsed := time.Since(start); elapsed < cfg.MinDuration {
				time.Sleep(cfg.MinDuration - elapsed)
			}
		}()
	}

	key := extractAPIKey(r)
	if key == "" {
		return nil, service.ErrUnauthenticated
	}
	return cfg.Authenticator.Authenticate(r.Context(), key)
}

// extractAPIKey extracts the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}

	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
