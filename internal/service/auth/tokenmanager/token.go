package tokenmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 7 * 24 * time.Hour

	// Audiences tell token kinds apart even if someone misconfigures secrets
	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
	Email  string    `json:"email"`
}

type RefreshTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
}

// Token manager with sensible default
type Config struct {
	// Secret keys to sign access and refresh tokens
	// Required to be set and must differ
	AccessSecret  string
	RefreshSecret string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Allowed clock skew when checking expiry
	Leeway time.Duration

	// Clock. time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	// Secret keys to sign tokens
	accessKey  []byte
	refreshKey []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	leeway time.Duration
	now    func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.New("access and refresh secret keys must not be empty")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.New("access and refresh secret keys must differ")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use one of HS256, HS384, HS512", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		accessKey:  []byte(cfg.AccessSecret),
		refreshKey: []byte(cfg.RefreshSecret),
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		leeway:     cfg.Leeway,
		now:        cfg.Now,
	}, nil
}

// Issue access and refresh tokens for user at the same moment
func (m *TokenManager) GeneratePair(user models.User) (models.TokenPair, error) {
	var pair models.TokenPair
	now := m.now().Truncate(time.Second)

	access, err := m.issueAccess(now, user.ID, user.Email)
	if err != nil {
		return pair, err
	}

	refresh, err := m.issueRefresh(now, user.ID)
	if err != nil {
		return pair, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *TokenManager) IssueAccessToken(userID uuid.UUID, email string) (models.IssuedToken, error) {
	return m.issueAccess(m.now().Truncate(time.Second), userID, email)
}

func (m *TokenManager) IssueRefreshToken(userID uuid.UUID) (models.IssuedToken, error) {
	return m.issueRefresh(m.now().Truncate(time.Second), userID)
}

func (m *TokenManager) issueAccess(now time.Time, userID uuid.UUID, email string) (models.IssuedToken, error) {
	expiresAt := now.Add(m.accessTTL)

	token := jwt.NewWithClaims(
		m.alg,
		AccessTokenClaims{
			RegisteredClaims: m.registered(now, expiresAt, audienceAccess),
			UserID:           userID,
			Email:            email,
		},
	)
	access, err := token.SignedString(m.accessKey)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: access, ExpiresAt: expiresAt}, nil
}

func (m *TokenManager) issueRefresh(now time.Time, userID uuid.UUID) (models.IssuedToken, error) {
	expiresAt := now.Add(m.refreshTTL)

	token := jwt.NewWithClaims(
		m.alg,
		RefreshTokenClaims{
			RegisteredClaims: m.registered(now, expiresAt, audienceRefresh),
			UserID:           userID,
		},
	)
	refresh, err := token.SignedString(m.refreshKey)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.IssuedToken{Value: refresh, ExpiresAt: expiresAt}, nil
}

func (m *TokenManager) registered(now time.Time, expiresAt time.Time, audience string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
}

// Parse and validate access token
func (m *TokenManager) VerifyAccessToken(access string) (AccessTokenClaims, error) {
	claims := AccessTokenClaims{}
	err := m.parse(access, &claims, m.accessKey, audienceAccess)
	if err == nil && claims.UserID == uuid.Nil {
		err = fmt.Errorf("access token has no user: %w", apperrors.ErrMalformedToken)
	}
	return claims, err
}

// Parse and validate refresh token
func (m *TokenManager) VerifyRefreshToken(refresh string) (RefreshTokenClaims, error) {
	claims := RefreshTokenClaims{}
	err := m.parse(refresh, &claims, m.refreshKey, audienceRefresh)
	if err == nil && claims.UserID == uuid.Nil {
		err = fmt.Errorf("refresh token has no user: %w", apperrors.ErrMalformedToken)
	}
	return claims, err
}

func (m *TokenManager) parse(token string, claims jwt.Claims, key []byte, audience string) error {
	if token == "" {
		return apperrors.ErrMissingToken
	}

	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			return key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithStrictDecoding(),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(m.leeway),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return fmt.Errorf("error while parsing or validating token. Err: %v: %w", err, kindOf(err))
	}

	return nil
}

// Map jwt errors to the kinds callers distinguish
func kindOf(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return apperrors.ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apperrors.ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.ErrExpiredToken
	default:
		return apperrors.ErrMalformedToken
	}
}
