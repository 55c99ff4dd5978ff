package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/passwordless/internal/apperrors"
	"github.com/nkiryanov/passwordless/internal/logger"
	"github.com/nkiryanov/passwordless/internal/models"
	"github.com/nkiryanov/passwordless/internal/repository/postgres"
	"github.com/nkiryanov/passwordless/internal/service/auth"
	"github.com/nkiryanov/passwordless/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/passwordless/internal/service/otp"
	"github.com/nkiryanov/passwordless/internal/service/user"
	"github.com/nkiryanov/passwordless/internal/testutil"
)

// Dispatcher that remembers the last message
type inbox struct {
	last models.OTPMessage
}

func (i *inbox) Dispatch(_ context.Context, msg models.OTPMessage) error {
	i.last = msg
	return nil
}

// Allow to use a function as google provider
type exchangeFunc func(ctx context.Context, code string) (models.FederatedProfile, error)

func (f exchangeFunc) AuthCodeURL(state string) string {
	return "https://accounts.google.test/auth?state=" + url.QueryEscape(state)
}

func (f exchangeFunc) Exchange(ctx context.Context, code string) (models.FederatedProfile, error) {
	return f(ctx, code)
}

type testServer struct {
	url   string
	inbox *inbox
	now   *time.Time
}

type response struct {
	*http.Response
	body string
}

func (r response) cookie(name string) *http.Cookie {
	for _, c := range r.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Client that does not follow redirects
var client = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
}

func do(t *testing.T, method string, target string, body string, prepare ...func(r *http.Request)) response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), method, target, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, p := range prepare {
		p(req)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck

	return response{Response: resp, body: string(b)}
}

func bearer(token string) func(r *http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(c *http.Cookie) func(r *http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func Test_Handlers(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	// Run http server with production services on fake clock
	// Rollback transaction when test stops
	withServer := func(t *testing.T, google googleProvider, fn func(srv testServer)) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			now := time.Now().Truncate(time.Second)
			clock := func() time.Time { return now }

			codec, err := otp.New(otp.Config{SecretKey: "otp-secret", Now: clock})
			require.NoError(t, err)

			tokens, err := tokenmanager.New(tokenmanager.Config{
				AccessSecret:  "access-secret",
				RefreshSecret: "refresh-secret",
				RefreshTTL:    24 * time.Hour,
				Now:           clock,
			})
			require.NoError(t, err, "token manager should be created without errors")

			userRepo := &postgres.UserRepo{DB: tx}
			box := &inbox{}

			authSvc, err := auth.NewService(auth.Config{}, codec, tokens, userRepo, box)
			require.NoError(t, err, "auth service starting error", err)

			router := NewRouter(authSvc, user.NewService(userRepo), google, logger.NewNoOpLogger())
			srv := httptest.NewServer(router)
			defer srv.Close()

			fn(testServer{url: srv.URL, inbox: box, now: &now})
		})
	}

	// Pass otp flow and return verify response
	signIn := func(t *testing.T, srv testServer, email string) response {
		login := do(t, http.MethodPost, srv.url+"/auth/login", `{"email": "`+email+`"}`)
		require.Equalf(t, http.StatusOK, login.StatusCode, "not expected code. Body: %s", login.body)

		var challenge struct {
			Email string `json:"email"`
			Hash  string `json:"hash"`
		}
		require.NoError(t, json.Unmarshal([]byte(login.body), &challenge))

		verify := do(t, http.MethodPost, srv.url+"/auth/verify",
			`{"email": "`+challenge.Email+`", "hash": "`+challenge.Hash+`", "otp": "`+srv.inbox.last.Code+`"}`,
		)
		require.Equalf(t, http.StatusOK, verify.StatusCode, "not expected code. Body: %s", verify.body)
		return verify
	}

	accessOf := func(t *testing.T, resp response) string {
		var data struct {
			AccessToken string `json:"accessToken"`
		}
		require.NoError(t, json.Unmarshal([]byte(resp.body), &data))
		require.NotEmpty(t, data.AccessToken)
		return data.AccessToken
	}

	requireUnauthorized := func(t *testing.T, resp response, message string) {
		require.Equalf(t, http.StatusUnauthorized, resp.StatusCode, "not expected code. Body: %s", resp.body)
		require.JSONEq(t, `{"error": "service_error", "message": "`+message+`"}`, resp.body)
		require.Nil(t, resp.cookie("refreshtoken"), "no cookies should be set on auth error")
		require.NotContains(t, resp.Header, "Authorization", "Authorization header should not be set")
	}

	t.Run("login ok", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			resp := do(t, http.MethodPost, srv.url+"/auth/login", `{"email": "User@Example.com"}`)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", resp.body)
			var data map[string]string
			require.NoError(t, json.Unmarshal([]byte(resp.body), &data))
			require.Equal(t, "user@example.com", data["email"])
			require.NotEmpty(t, data["hash"])
			require.NotContains(t, resp.body, srv.inbox.last.Code, "code must travel out-of-band only")
			require.Equal(t, "user@example.com", srv.inbox.last.Email)
		})
	})

	t.Run("login invalid email", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			resp := do(t, http.MethodPost, srv.url+"/auth/login", `{"email": "not-an-email"}`)

			require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `
				{
					"error": "validation_failed",
					"message": "Request validation failed",
					"fields": {"email": "Invalid email address"}
				}`, resp.body)
		})
	})

	t.Run("verify ok", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			resp := signIn(t, srv, "user@example.com")

			var data struct {
				User struct {
					ID       string `json:"id"`
					Email    string `json:"email"`
					IsActive bool   `json:"isActive"`
				} `json:"user"`
				AccessToken string `json:"accessToken"`
			}
			require.NoError(t, json.Unmarshal([]byte(resp.body), &data))
			require.Equal(t, "user@example.com", data.User.Email)
			require.NotEmpty(t, data.User.ID)
			require.False(t, data.User.IsActive)
			require.NotEmpty(t, data.AccessToken)

			require.Equal(t, "Bearer "+data.AccessToken, resp.Header.Get("Authorization"))

			cookie := resp.cookie("refreshtoken")
			require.NotNil(t, cookie, "refresh cookie should be set")
			require.Equal(t, cookie.HttpOnly, true, "refresh cookie should be HttpOnly")
			require.Equal(t, "/", cookie.Path, "refresh cookie should be available on / path")
			require.Equal(t, http.SameSiteStrictMode, cookie.SameSite, "refresh cookie should be SameSite Strict")
			require.InDelta(t, (24 * time.Hour).Seconds(), cookie.MaxAge, 1, "max age should be refresh TTL with 1 second delta")
			require.NotEmpty(t, cookie.Value, "refresh cookie should not be empty")
		})
	})

	t.Run("verify wrong code", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			login := do(t, http.MethodPost, srv.url+"/auth/login", `{"email": "user@example.com"}`)
			var challenge map[string]string
			require.NoError(t, json.Unmarshal([]byte(login.body), &challenge))
			wrong := "000000"
			if srv.inbox.last.Code == wrong {
				wrong = "000001"
			}

			resp := do(t, http.MethodPost, srv.url+"/auth/verify",
				`{"email": "user@example.com", "hash": "`+challenge["hash"]+`", "otp": "`+wrong+`"}`,
			)

			requireUnauthorized(t, resp, "Invalid or expired code")
		})
	})

	t.Run("verify expired code", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			login := do(t, http.MethodPost, srv.url+"/auth/login", `{"email": "user@example.com"}`)
			var challenge map[string]string
			require.NoError(t, json.Unmarshal([]byte(login.body), &challenge))
			*srv.now = srv.now.Add(6 * time.Minute)

			resp := do(t, http.MethodPost, srv.url+"/auth/verify",
				`{"email": "user@example.com", "hash": "`+challenge["hash"]+`", "otp": "`+srv.inbox.last.Code+`"}`,
			)

			requireUnauthorized(t, resp, "Invalid or expired code")
		})
	})

	t.Run("verify malformed code", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			resp := do(t, http.MethodPost, srv.url+"/auth/verify",
				`{"email": "user@example.com", "hash": "abc.123", "otp": "12ab"}`,
			)

			require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "not expected code. Body: %s", resp.body)
			require.Contains(t, resp.body, `"otp"`)
		})
	})

	t.Run("refresh ok", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")
			*srv.now = srv.now.Add(time.Minute)

			resp := do(t, http.MethodGet, srv.url+"/auth/refresh-token", "", withCookie(verify.cookie("refreshtoken")))

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", resp.body)
			access := accessOf(t, resp)
			require.NotEqual(t, accessOf(t, verify), access, "new access token should be issued")
			require.Equal(t, "Bearer "+access, resp.Header.Get("Authorization"))

			me := do(t, http.MethodGet, srv.url+"/user/me", "", bearer(access))
			require.Equalf(t, http.StatusOK, me.StatusCode, "new access token should work. Body: %s", me.body)
		})
	})

	t.Run("refresh with access token fail", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")

			resp := do(t, http.MethodGet, srv.url+"/auth/refresh-token", "",
				withCookie(&http.Cookie{Name: "refreshtoken", Value: accessOf(t, verify)}),
			)

			requireUnauthorized(t, resp, "Invalid refresh token")
		})
	})

	t.Run("refresh expired fail", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")
			*srv.now = srv.now.Add(25 * time.Hour)

			resp := do(t, http.MethodGet, srv.url+"/auth/refresh-token", "", withCookie(verify.cookie("refreshtoken")))

			requireUnauthorized(t, resp, "Invalid refresh token")
		})
	})

	t.Run("refresh without cookie fail", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			resp := do(t, http.MethodGet, srv.url+"/auth/refresh-token", "")

			requireUnauthorized(t, resp, "Invalid refresh token")
		})
	})

	t.Run("logout ok", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")

			resp := do(t, http.MethodGet, srv.url+"/auth/logout", "", bearer(accessOf(t, verify)))

			require.Equalf(t, http.StatusNoContent, resp.StatusCode, "not expected code. Body: %s", resp.body)
			require.Empty(t, resp.body)
			cookie := resp.cookie("refreshtoken")
			require.NotNil(t, cookie, "refresh cookie should be expired")
			require.Empty(t, cookie.Value)
			require.Equal(t, -1, cookie.MaxAge)
			require.Equal(t, "/", cookie.Path)
		})
	})

	t.Run("refresh token replayed after logout still works", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")
			refresh := verify.cookie("refreshtoken")
			require.NotNil(t, refresh)

			logout := do(t, http.MethodGet, srv.url+"/auth/logout", "", bearer(accessOf(t, verify)))
			require.Equal(t, http.StatusNoContent, logout.StatusCode)

			// Tokens are stateless: logout drops the cookie on the client only, no revocation list exists
			resp := do(t, http.MethodGet, srv.url+"/auth/refresh-token", "", withCookie(refresh))

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", resp.body)
			require.NotEmpty(t, accessOf(t, resp))
		})
	})

	t.Run("logout unauthorized", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			resp := do(t, http.MethodGet, srv.url+"/auth/logout", "")

			requireUnauthorized(t, resp, "Unauthorized")
		})
	})

	t.Run("user me ok", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")

			resp := do(t, http.MethodGet, srv.url+"/user/me", "", bearer(accessOf(t, verify)))

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", resp.body)
			var data map[string]any
			require.NoError(t, json.Unmarshal([]byte(resp.body), &data))
			assert.Equal(t, "user@example.com", data["email"])
			assert.Equal(t, false, data["isActive"])
		})
	})

	t.Run("user me with expired access fail", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")
			*srv.now = srv.now.Add(16 * time.Minute)

			resp := do(t, http.MethodGet, srv.url+"/user/me", "", bearer(accessOf(t, verify)))

			requireUnauthorized(t, resp, "Unauthorized")
		})
	})

	t.Run("user me with refresh token fail", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")

			resp := do(t, http.MethodGet, srv.url+"/user/me", "", bearer(verify.cookie("refreshtoken").Value))

			requireUnauthorized(t, resp, "Unauthorized")
		})
	})

	t.Run("user activate ok", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")

			resp := do(t, http.MethodPut, srv.url+"/user/activate",
				`{"name": "Nik", "avatar": "https://example.com/a.png"}`,
				bearer(accessOf(t, verify)),
			)

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", resp.body)
			var data map[string]any
			require.NoError(t, json.Unmarshal([]byte(resp.body), &data))
			assert.Equal(t, "Nik", data["name"])
			assert.Equal(t, "https://example.com/a.png", data["avatar"])
			assert.Equal(t, true, data["isActive"])
		})
	})

	t.Run("user activate invalid", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")

			resp := do(t, http.MethodPut, srv.url+"/user/activate",
				`{"name": "N", "avatar": "not a url"}`,
				bearer(accessOf(t, verify)),
			)

			require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `
				{
					"error": "validation_failed",
					"message": "Request validation failed",
					"fields": {
						"name": "Value is too short (minimum 2)",
						"avatar": "Invalid URL"
					}
				}`, resp.body)
		})
	})

	t.Run("user activate name short after trim", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")

			resp := do(t, http.MethodPut, srv.url+"/user/activate", `{"name": "  a  "}`, bearer(accessOf(t, verify)))

			require.Equalf(t, http.StatusBadRequest, resp.StatusCode, "not expected code. Body: %s", resp.body)
			require.JSONEq(t, `
				{
					"error": "validation_failed",
					"message": "Request validation failed",
					"fields": {"name": "Value is too short (minimum 2)"}
				}`, resp.body)
		})
	})

	t.Run("user activate stores trimmed name", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			verify := signIn(t, srv, "user@example.com")

			resp := do(t, http.MethodPut, srv.url+"/user/activate", `{"name": "  Nik  "}`, bearer(accessOf(t, verify)))

			require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", resp.body)
			var data map[string]any
			require.NoError(t, json.Unmarshal([]byte(resp.body), &data))
			assert.Equal(t, "Nik", data["name"])
		})
	})

	t.Run("google not configured", func(t *testing.T) {
		withServer(t, nil, func(srv testServer) {
			resp := do(t, http.MethodGet, srv.url+"/auth/google", "")

			require.Equal(t, http.StatusNotFound, resp.StatusCode)
		})
	})

	t.Run("google", func(t *testing.T) {
		google := exchangeFunc(func(_ context.Context, code string) (models.FederatedProfile, error) {
			switch code {
			case "good-code":
				return models.FederatedProfile{Email: "User@Gmail.com", Name: "Nik", Avatar: "https://a"}, nil
			case "unverified-code":
				return models.FederatedProfile{}, apperrors.ErrEmailNotVerified
			default:
				return models.FederatedProfile{}, io.ErrUnexpectedEOF
			}
		})

		// Start consent redirect and return state and the state cookie
		start := func(t *testing.T, srv testServer) (string, *http.Cookie) {
			resp := do(t, http.MethodGet, srv.url+"/auth/google", "")
			require.Equalf(t, http.StatusFound, resp.StatusCode, "not expected code. Body: %s", resp.body)

			location, err := url.Parse(resp.Header.Get("Location"))
			require.NoError(t, err)
			require.Equal(t, "accounts.google.test", location.Host)

			state := location.Query().Get("state")
			cookie := resp.cookie("oauthstate")
			require.NotNil(t, cookie)
			require.Equal(t, state, cookie.Value)
			return state, cookie
		}

		t.Run("callback ok", func(t *testing.T) {
			withServer(t, google, func(srv testServer) {
				state, cookie := start(t, srv)

				resp := do(t, http.MethodGet, srv.url+"/auth/google/callback?code=good-code&state="+state, "", withCookie(cookie))

				require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", resp.body)
				require.Contains(t, resp.body, `"email":"user@gmail.com"`)
				require.Contains(t, resp.body, `"name":"Nik"`)
				require.NotNil(t, resp.cookie("refreshtoken"), "refresh cookie should be set as for otp sign in")
				require.Equal(t, "Bearer "+accessOf(t, resp), resp.Header.Get("Authorization"))
			})
		})

		t.Run("callback same user as otp", func(t *testing.T) {
			withServer(t, google, func(srv testServer) {
				verify := signIn(t, srv, "user@gmail.com")
				state, cookie := start(t, srv)

				resp := do(t, http.MethodGet, srv.url+"/auth/google/callback?code=good-code&state="+state, "", withCookie(cookie))

				require.Equalf(t, http.StatusOK, resp.StatusCode, "not expected code. Body: %s", resp.body)
				var otpUser, googleUser struct {
					User struct {
						ID string `json:"id"`
					} `json:"user"`
				}
				require.NoError(t, json.Unmarshal([]byte(verify.body), &otpUser))
				require.NoError(t, json.Unmarshal([]byte(resp.body), &googleUser))
				require.Equal(t, otpUser.User.ID, googleUser.User.ID)
			})
		})

		t.Run("callback forged state", func(t *testing.T) {
			withServer(t, google, func(srv testServer) {
				_, cookie := start(t, srv)

				resp := do(t, http.MethodGet, srv.url+"/auth/google/callback?code=good-code&state=forged", "", withCookie(cookie))

				requireUnauthorized(t, resp, "Invalid oauth state")
			})
		})

		t.Run("callback email not verified", func(t *testing.T) {
			withServer(t, google, func(srv testServer) {
				state, cookie := start(t, srv)

				resp := do(t, http.MethodGet, srv.url+"/auth/google/callback?code=unverified-code&state="+state, "", withCookie(cookie))

				require.Equalf(t, http.StatusForbidden, resp.StatusCode, "not expected code. Body: %s", resp.body)
				require.Nil(t, resp.cookie("refreshtoken"))
			})
		})

		t.Run("callback exchange fail", func(t *testing.T) {
			withServer(t, google, func(srv testServer) {
				state, cookie := start(t, srv)

				resp := do(t, http.MethodGet, srv.url+"/auth/google/callback?code=bad-code&state="+state, "", withCookie(cookie))

				requireUnauthorized(t, resp, "Google sign in failed")
			})
		})

		t.Run("callback declined", func(t *testing.T) {
			withServer(t, google, func(srv testServer) {
				state, cookie := start(t, srv)

				resp := do(t, http.MethodGet, srv.url+"/auth/google/callback?error=access_denied&state="+state, "", withCookie(cookie))

				requireUnauthorized(t, resp, "Google sign in failed")
			})
		})
	})
}
