package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/passwordless/internal/apperrors"
)

const (
	oauthStateCookieName = "oauthstate"
	oauthStateTTL        = 10 * time.Minute
)

// NewOAuthState generates state for consent redirect and binds it to the browser with cookie
func (s *AuthService) NewOAuthState(w http.ResponseWriter) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	state := hex.EncodeToString(b)

	http.SetCookie(w, s.oauthStateCookie(state, int(oauthStateTTL.Seconds())))
	return state, nil
}

// VerifyOAuthState compares callback state with the cookie and drops the cookie
// Return apperrors.ErrInvalidOAuthState on mismatch
func (s *AuthService) VerifyOAuthState(w http.ResponseWriter, r *http.Request) error {
	http.SetCookie(w, s.oauthStateCookie("", -1))

	cookie, err := r.Cookie(oauthStateCookieName)
	if err != nil || cookie.Value == "" {
		return apperrors.ErrInvalidOAuthState
	}

	state := r.URL.Query().Get("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(cookie.Value)) != 1 {
		return apperrors.ErrInvalidOAuthState
	}

	return nil
}

// Google redirects back with top level GET, so SameSite Lax is the strictest that works
func (s *AuthService) oauthStateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookieName,
		Value:    value,
		Path:     "/auth/google",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
