package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/collegeos/internal/domain"
)

const (
	// UserContextKey holds the authenticated *domain.User on the echo context.
	UserContextKey = "user"
	// SessionName is the cookie session that carries the access token.
	SessionName = "collegeos"
	// SessionTokenKey is the session value holding the token.
	SessionTokenKey = "token"
)

// Auth creates a middleware that protects routes that require authentication.
// The token comes from the cookie session, or from a bearer Authorization
// header for non-browser clients. The resolved user is stored on both the
// echo context and the request context.
func Auth(users domain.UserRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := tokenFrom(c)
			if token == "" {
				return unauthorized(c)
			}

			ctx := c.Request().Context()
			user, err := users.Authenticate(ctx, token)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthenticated) {
					return unauthorized(c)
				}
				FromContext(ctx).Error("Authentication backend failed", "error", err)
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"code":    "backend_unavailable",
					"message": "could not verify session",
				})
			}
			if user == nil {
				return unauthorized(c)
			}

			c.Set(UserContextKey, user)
			ctx = domain.WithUser(ctx, user)
			ctx = withLogger(ctx, FromContext(ctx).With("user_id", user.ID))
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func tokenFrom(c echo.Context) string {
	if h := c.Request().Header.Get(echo.HeaderAuthorization); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	sess, err := session.Get(SessionName, c)
	if err != nil {
		return ""
	}
	token, _ := sess.Values[SessionTokenKey].(string)
	return token
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{
		"code":    "unauthenticated",
		"message": "sign in required",
	})
}
