package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/handlers/render"
	"github.com/nkiryanov/passwordless/internal/logger"
	"github.com/nkiryanov/passwordless/internal/models"
)

type userResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Avatar    string    `json:"avatar"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		Avatar:    u.Avatar,
		IsActive:  u.IsActive,
		CreatedAt: u.CreatedAt,
	}
}

type signInResponse struct {
	User        userResponse `json:"user"`
	AccessToken string       `json:"accessToken"`
}

func handleLogin(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email,max=254"`
	}
	type response struct {
		Email string `json:"email"`
		Hash  string `json:"hash"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		email, hash, err := authService.RequestOTP(r.Context(), data.Email)
		if err != nil {
			l.Error("Failed to send otp", "error", err)
			render.ServiceError(w, "Failed to send code, try again later", http.StatusInternalServerError)
			return
		}

		render.JSON(w, response{Email: email, Hash: hash})
	})
}

func handleVerify(authService authService, l logger.Logger) http.Handler {
	type request struct {
		Email string `json:"email" validate:"required,email,max=254"`
		Hash  string `json:"hash" validate:"required,max=128"`
		Otp   string `json:"otp" validate:"required,len=6,digits"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		user, pair, err := authService.VerifyOTP(r.Context(), data.Email, data.Hash, data.Otp)

		switch {
		case err == nil:
			authService.SetTokenPairToResponse(w, pair)
			render.JSON(w, signInResponse{User: newUserResponse(user), AccessToken: pair.Access.Value})
		case errors.Is(err, apperrors.ErrInvalidOtp), errors.Is(err, apperrors.ErrExpiredOtp):
			l.Debug("otp not accepted", "error", err)
			render.ServiceError(w, "Invalid or expired code", http.StatusUnauthorized)
		default:
			l.Error("Failed to verify otp", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleRefresh(authService authService, l logger.Logger) http.Handler {
	type response struct {
		AccessToken string `json:"accessToken"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refresh, err := authService.GetRefreshString(r)
		if err != nil {
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
			return
		}

		pair, err := authService.Refresh(r.Context(), refresh)

		switch {
		case err == nil:
			authService.SetTokenPairToResponse(w, pair)
			render.JSON(w, response{AccessToken: pair.Access.Value})
		case errors.Is(err, apperrors.ErrInvalidRefreshToken):
			l.Debug("refresh token not accepted", "error", err)
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		default:
			l.Error("Failed to refresh token", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleLogout(authService authService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authService.ClearTokens(w)
		w.WriteHeader(http.StatusNoContent)
	})
}
