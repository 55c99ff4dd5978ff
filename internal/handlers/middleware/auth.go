package middleware

import (
	"net/http"

	"github.com/nkiryanov/passwordless/internal/handlers/render"
	"github.com/nkiryanov/passwordless/internal/handlers/userctx"
	"github.com/nkiryanov/passwordless/internal/models"
)

type authService interface {
	GetIdentityFromRequest(r *http.Request) (models.Identity, error)
}

type debugLogger interface {
	Debug(msg string, args ...any)
}

type AuthMiddleware struct {
	auth   authService
	logger debugLogger
}

func NewAuth(as authService, l debugLogger) *AuthMiddleware {
	return &AuthMiddleware{auth: as, logger: l}
}

// Auth lets request to next handler only if it carries valid access token.
// Client always gets the same answer, the reason is logged only
func (m *AuthMiddleware) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.auth.GetIdentityFromRequest(r)
		if err != nil {
			m.logger.Debug("request not authenticated", "uri", r.RequestURI, "error", err)
			render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := userctx.New(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
