package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/handlers/render"
	"github.com/nkiryanov/passwordless/internal/logger"
)

func handleGoogleSignIn(authService authService, google googleProvider, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state, err := authService.NewOAuthState(w)
		if err != nil {
			l.Error("Failed to start google sign in", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		http.Redirect(w, r, google.AuthCodeURL(state), http.StatusFound)
	})
}

func handleGoogleCallback(authService authService, google googleProvider, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := authService.VerifyOAuthState(w, r); err != nil {
			render.ServiceError(w, "Invalid oauth state", http.StatusUnauthorized)
			return
		}

		query := r.URL.Query()
		if reason := query.Get("error"); reason != "" {
			l.Debug("google sign in declined", "reason", reason)
			render.ServiceError(w, "Google sign in failed", http.StatusUnauthorized)
			return
		}

		code := query.Get("code")
		if code == "" {
			render.ServiceError(w, "Google sign in failed", http.StatusUnauthorized)
			return
		}

		profile, err := google.Exchange(r.Context(), code)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrEmailNotVerified):
			render.ServiceError(w, "Email is not verified by Google", http.StatusForbidden)
			return
		default:
			l.Warn("Failed to exchange google code", "error", err)
			render.ServiceError(w, "Google sign in failed", http.StatusUnauthorized)
			return
		}

		user, pair, err := authService.SignInFederated(r.Context(), profile)
		if err != nil {
			l.Error("Failed to sign in google user", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		authService.SetTokenPairToResponse(w, pair)
		render.JSON(w, signInResponse{User: newUserResponse(user), AccessToken: pair.Access.Value})
	})
}
