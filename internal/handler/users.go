package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/keygate/keygate/internal/auth"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/service"
)

// UserRegistrar creates users and issues their keys.
// *service.UserService satisfies it.
type UserRegistrar interface {
	Register(ctx context.Context, email, bootstrapKey string) (string, *model.User, error)
}

// UserHandler handles the /users endpoints.
type UserHandler struct {
	logger    *slog.Logger
	registrar UserRegistrar
	validate  *validator.Validate
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(logger *slog.Logger, registrar UserRegistrar) *UserHandler {
	return &UserHandler{
		logger:    logger,
		registrar: registrar,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register handles POST /users.
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "A valid email is required")
		return
	}

	key, user, err := h.registrar.Register(r.Context(), req.Email, req.BootstrapKey)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAlreadyExists):
			writeError(w, http.StatusBadRequest, "EMAIL_TAKEN", "Email already registered")
		case errors.Is(err, service.ErrForbidden):
			h.logger.Warn("registration rejected",
				slog.String("reason", "bootstrap_key"),
				slog.String("ip", r.RemoteAddr),
			)
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Bootstrap key missing or incorrect")
		default:
			h.logger.Error("failed to register user", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		}
		return
	}

	h.logger.Info("user registered",
		slog.Int64("user_id", user.ID),
		slog.Time("key_expires_at", user.KeyExpiresAt),
	)

	writeJSON(w, http.StatusCreated, model.UserCreatedResponse{
		Email:        user.Email,
		APIKey:       key,
		KeyExpiresAt: user.KeyExpiresAt,
		Message:      model.KeyIssuedMessage,
	})
}

// Me handles GET /users/me. Requires the Auth middleware.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or expired API key")
		return
	}

	writeJSON(w, http.StatusOK, user.ToResponse())
}
