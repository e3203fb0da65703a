package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/middleware"
)

// AuthHandler signs users in and out. Tokens are issued by SurrealDB's
// record access; this handler only verifies them and keeps them in the
// cookie session.
type AuthHandler struct {
	userStore domain.UserRepository
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(userStore domain.UserRepository) *AuthHandler {
	return &AuthHandler{userStore: userStore}
}

// SignIn handles POST /api/session.
func (h *AuthHandler) SignIn(c echo.Context) error {
	var req SignInRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("bad_request", "invalid request body"))
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("validation_failed", "token is required"))
	}

	user, err := h.userStore.Authenticate(c.Request().Context(), req.Token)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated", "invalid or expired token"))
		}
		slog.ErrorContext(c.Request().Context(), "Token verification failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, errorJSON("backend_unavailable", "could not verify token"))
	}

	sess, err := session.Get(middleware.SessionName, c)
	if err != nil {
		return err
	}
	sess.Values[middleware.SessionTokenKey] = req.Token
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return err
	}

	slog.InfoContext(c.Request().Context(), "User signed in", "user_id", user.ID)
	return c.JSON(http.StatusOK, NewUserResponse(user))
}

// SignOut handles DELETE /api/session.
func (h *AuthHandler) SignOut(c echo.Context) error {
	sess, err := session.Get(middleware.SessionName, c)
	if err != nil {
		return err
	}
	delete(sess.Values, middleware.SessionTokenKey)
	sess.Options.MaxAge = -1
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Me handles GET /api/session.
func (h *AuthHandler) Me(c echo.Context) error {
	user, ok := c.Get(middleware.UserContextKey).(*domain.User)
	if !ok || user == nil {
		return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated", "user not authenticated"))
	}
	return c.JSON(http.StatusOK, NewUserResponse(user))
}
