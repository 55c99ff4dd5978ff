package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/handlers/render"
	"github.com/nkiryanov/passwordless/internal/handlers/userctx"
	"github.com/nkiryanov/passwordless/internal/logger"
	"github.com/nkiryanov/passwordless/internal/models"
)

func handleUserMe(userService userService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		user, err := userService.GetProfile(r.Context(), identity.UserID)

		switch {
		case err == nil:
			render.JSON(w, newUserResponse(user))
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			l.Error("Failed to get user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

type activateRequest struct {
	Name   string `json:"name" validate:"required,min=2,max=50"`
	Avatar string `json:"avatar" validate:"omitempty,url,max=2048"`
}

// Length limits apply to what is stored, so spaces are trimmed before validation
func (r *activateRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Avatar = strings.TrimSpace(r.Avatar)
}

func handleUserActivate(userService userService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[activateRequest](w, r)
		if err != nil {
			return
		}

		user, err := userService.Activate(r.Context(), identity.UserID, models.Profile{Name: data.Name, Avatar: data.Avatar})

		switch {
		case err == nil:
			render.JSON(w, newUserResponse(user))
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			l.Error("Failed to activate user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
