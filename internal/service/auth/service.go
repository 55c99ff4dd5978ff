package auth

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/models"
	"github.com/nkiryanov/passwordless/internal/repository"
	"github.com/nkiryanov/passwordless/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/passwordless/internal/service/dispatch"
	"github.com/nkiryanov/passwordless/internal/service/otp"
)

const (
	defaultAccessHeaderName  = "Authorization"
	defaultAccessAuthScheme  = "Bearer"
	defaultRefreshCookieName = "refreshtoken"
	defaultDispatchTimeout   = 5 * time.Second
)

type Config struct {
	// Header to return and read access token. Default: "Authorization"
	AccessHeaderName string

	// Scheme of access token in header. Default: "Bearer"
	AccessAuthScheme string

	// Cookie to store refresh token. Default: "refreshtoken"
	RefreshCookieName string

	// Send refresh cookie over https only
	CookieSecure bool

	// Issue new refresh token on every refresh
	RotateRefresh bool

	// How long to wait the dispatcher. Default: 5s
	DispatchTimeout time.Duration
}

type otpCodec interface {
	IssueChallenge(email string) (models.Challenge, string, error)
	VerifyChallenge(email string, hash string, code string) error
}

type tokenManager interface {
	GeneratePair(user models.User) (models.TokenPair, error)
	IssueAccessToken(userID uuid.UUID, email string) (models.IssuedToken, error)
	VerifyAccessToken(access string) (tokenmanager.AccessTokenClaims, error)
	VerifyRefreshToken(refresh string) (tokenmanager.RefreshTokenClaims, error)
}

type AuthService struct {
	accessHeaderName  string
	accessAuthScheme  string
	refreshCookieName string
	cookieSecure      bool
	rotateRefresh     bool
	dispatchTimeout   time.Duration

	codec      otpCodec
	tokens     tokenManager
	userRepo   repository.UserRepo
	dispatcher dispatch.Dispatcher
}

func NewService(
	cfg Config,
	codec otpCodec,
	tokens tokenManager,
	userRepo repository.UserRepo,
	dispatcher dispatch.Dispatcher,
) (*AuthService, error) {
	if codec == nil || tokens == nil || userRepo == nil || dispatcher == nil {
		return nil, errors.New("auth service dependencies must not be nil")
	}

	s := &AuthService{
		accessHeaderName:  cmp.Or(cfg.AccessHeaderName, defaultAccessHeaderName),
		accessAuthScheme:  cmp.Or(cfg.AccessAuthScheme, defaultAccessAuthScheme),
		refreshCookieName: cmp.Or(cfg.RefreshCookieName, defaultRefreshCookieName),
		cookieSecure:      cfg.CookieSecure,
		rotateRefresh:     cfg.RotateRefresh,
		dispatchTimeout:   cfg.DispatchTimeout,

		codec:      codec,
		tokens:     tokens,
		userRepo:   userRepo,
		dispatcher: dispatcher,
	}

	if s.dispatchTimeout <= 0 {
		s.dispatchTimeout = defaultDispatchTimeout
	}

	return s, nil
}

// RequestOTP issues a challenge for the email and sends the code out-of-band.
// Return normalized email and hash the client has to send back with the code
func (s *AuthService) RequestOTP(ctx context.Context, email string) (string, string, error) {
	email = otp.NormalizeEmail(email)

	challenge, hash, err := s.codec.IssueChallenge(email)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue otp: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.dispatchTimeout)
	defer cancel()

	err = s.dispatcher.Dispatch(ctx, models.OTPMessage{
		Email:     challenge.Email,
		Code:      challenge.Code,
		ExpiresAt: challenge.ExpiresAt,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to dispatch otp: %w", err)
	}

	return challenge.Email, hash, nil
}

// VerifyOTP checks the code and signs the user in, creating user on first login
// Return apperrors.ErrInvalidOtp or apperrors.ErrExpiredOtp if code not accepted
func (s *AuthService) VerifyOTP(ctx context.Context, email string, hash string, code string) (models.User, models.TokenPair, error) {
	email = otp.NormalizeEmail(email)

	if err := s.codec.VerifyChallenge(email, hash, code); err != nil {
		return models.User{}, models.TokenPair{}, err
	}

	return s.signIn(ctx, email, models.Profile{})
}

// SignInFederated signs in user whose email verified by identity provider
func (s *AuthService) SignInFederated(ctx context.Context, profile models.FederatedProfile) (models.User, models.TokenPair, error) {
	email := otp.NormalizeEmail(profile.Email)
	if email == "" {
		return models.User{}, models.TokenPair{}, apperrors.ErrEmailNotVerified
	}

	return s.signIn(ctx, email, models.Profile{Name: profile.Name, Avatar: profile.Avatar})
}

func (s *AuthService) signIn(ctx context.Context, email string, profile models.Profile) (models.User, models.TokenPair, error) {
	user, err := s.userRepo.GetOrCreateByEmail(ctx, email, profile)
	if err != nil {
		return models.User{}, models.TokenPair{}, err
	}

	pair, err := s.tokens.GeneratePair(user)
	if err != nil {
		return models.User{}, models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return user, pair, nil
}

// Refresh issues new access token for valid refresh one.
// Any failure is reported as apperrors.ErrInvalidRefreshToken, wrapped error keeps the reason
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	claims, err := s.tokens.VerifyRefreshToken(refresh)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidRefreshToken, err)
	}

	user, err := s.userRepo.GetUserByID(ctx, claims.UserID)
	switch {
	case errors.Is(err, apperrors.ErrUserNotFound):
		return models.TokenPair{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidRefreshToken, err)
	case err != nil:
		return models.TokenPair{}, err
	}

	if s.rotateRefresh {
		return s.tokens.GeneratePair(user)
	}

	access, err := s.tokens.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("token could not generated, sorry. %w", err)
	}

	return models.TokenPair{
		Access:  access,
		Refresh: models.IssuedToken{Value: refresh, ExpiresAt: claims.ExpiresAt.Time},
	}, nil
}

// GetIdentityFromRequest returns identity the request access token was issued for
func (s *AuthService) GetIdentityFromRequest(r *http.Request) (models.Identity, error) {
	access, err := s.getAccessString(r)
	if err != nil {
		return models.Identity{}, err
	}

	claims, err := s.tokens.VerifyAccessToken(access)
	if err != nil {
		return models.Identity{}, err
	}

	return models.Identity{UserID: claims.UserID, Email: claims.Email}, nil
}

func (s *AuthService) getAccessString(r *http.Request) (string, error) {
	header := r.Header.Get(s.accessHeaderName)
	if header == "" {
		return "", apperrors.ErrMissingToken
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, s.accessAuthScheme) {
		return "", apperrors.ErrMalformedToken
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.ErrMissingToken
	}

	return token, nil
}

// GetRefreshString reads refresh token from request cookie
func (s *AuthService) GetRefreshString(r *http.Request) (string, error) {
	cookie, err := r.Cookie(s.refreshCookieName)
	if err != nil || cookie.Value == "" {
		return "", apperrors.ErrMissingToken
	}
	return cookie.Value, nil
}

// SetTokenPairToResponse sets access token to header and refresh one to cookie
func (s *AuthService) SetTokenPairToResponse(w http.ResponseWriter, pair models.TokenPair) {
	w.Header().Set(s.accessHeaderName, s.accessAuthScheme+" "+pair.Access.Value)
	http.SetCookie(w, s.refreshCookie(pair.Refresh.Value, int(time.Until(pair.Refresh.ExpiresAt).Seconds())))
}

// ClearTokens tells the client to drop the refresh cookie
func (s *AuthService) ClearTokens(w http.ResponseWriter) {
	http.SetCookie(w, s.refreshCookie("", -1))
}

func (s *AuthService) refreshCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.refreshCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	}
}
