// users.go — обработчик POST /api/users.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/mediblock/ehr-gateway/internal/api/errors"
	"github.com/mediblock/ehr-gateway/internal/service"
)

// RegisterUser — POST /api/users {"name","role"}.
// Приватный ключ возвращается в ответе один раз.
func (h *APIHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		apierrors.ValidationError(w, "Invalid JSON body")
		return
	}

	user, err := h.users.Register(r.Context(), req.Name, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRole):
			apierrors.ValidationError(w, "Role must be patient or provider")
		case errors.Is(err, service.ErrValidation):
			apierrors.ValidationError(w, "Name and role are required")
		default:
			h.logger.Error("Ошибка регистрации пользователя",
				slog.String("role", req.Role),
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Failed to register user on blockchain")
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerUserResponse{
		UserID:     user.UserID,
		PrivateKey: user.PrivateKey,
		Status:     statusUserRegistered,
	})
}
