package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/passwordless/internal/handlers/middleware"
	"github.com/nkiryanov/passwordless/internal/logger"
	"github.com/nkiryanov/passwordless/internal/models"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

// NewRouter builds the API handler
// Google routes are registered only if google provider is set
func NewRouter(
	authService authService,
	userService userService,
	googleProvider googleProvider,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.NewAuth(authService, logger).Auth

	auth := http.NewServeMux()
	auth.Handle("POST /login", handleLogin(authService, logger))
	auth.Handle("POST /verify", handleVerify(authService, logger))
	auth.Handle("GET /refresh-token", handleRefresh(authService, logger))
	auth.Handle("GET /logout", withAuth(handleLogout(authService)))
	if googleProvider != nil {
		auth.Handle("GET /google", handleGoogleSignIn(authService, googleProvider, logger))
		auth.Handle("GET /google/callback", handleGoogleCallback(authService, googleProvider, logger))
	}

	user := http.NewServeMux()
	user.Handle("GET /me", withAuth(handleUserMe(userService, logger)))
	user.Handle("PUT /activate", withAuth(handleUserActivate(userService, logger)))

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", auth))
	root.Handle("/user/", http.StripPrefix("/user", user))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Issue otp and dispatch it to the email
	// Return normalized email and hash the client has to send back
	RequestOTP(ctx context.Context, email string) (string, string, error)

	// Verify otp and sign user in
	// Has to return apperrors.ErrInvalidOtp or apperrors.ErrExpiredOtp if code not accepted
	VerifyOTP(ctx context.Context, email string, hash string, code string) (models.User, models.TokenPair, error)

	// Sign in user verified by identity provider
	SignInFederated(ctx context.Context, profile models.FederatedProfile) (models.User, models.TokenPair, error)

	// Issue new access token using refresh token
	// Has to return apperrors.ErrInvalidRefreshToken if refresh token not accepted
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Set auth tokens (access, refresh) to response
	SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair)

	// Expire refresh token cookie
	ClearTokens(w http.ResponseWriter)

	// Get refresh token from request
	GetRefreshString(r *http.Request) (string, error)

	// Get request and return identity if it authenticated or error
	GetIdentityFromRequest(r *http.Request) (models.Identity, error)

	// Bind oauth state to the browser and check it on callback
	NewOAuthState(w http.ResponseWriter) (string, error)
	VerifyOAuthState(w http.ResponseWriter, r *http.Request) error
}

type userService interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (models.User, error)
	Activate(ctx context.Context, userID uuid.UUID, profile models.Profile) (models.User, error)
}

type googleProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (models.FederatedProfile, error)
}
