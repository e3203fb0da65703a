package handlers

import (
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/collegeos/internal/middleware"
	"github.com/nfrund/collegeos/internal/notify"
	"github.com/nfrund/collegeos/internal/pubsub"
)

// PushSecretHeader authenticates the push relay.
const PushSecretHeader = "X-Push-Secret"

const maxPushBody = 64 << 10

// PushHandler accepts push payloads from the push relay and fans them out to
// the target user's sessions.
type PushHandler struct {
	publisher pubsub.Publisher
	secret    string
}

// NewPushHandler creates a PushHandler. An empty secret disables the endpoint.
func NewPushHandler(publisher pubsub.Publisher, secret string) *PushHandler {
	return &PushHandler{publisher: publisher, secret: secret}
}

// Receive handles POST /api/push/:userID. A malformed body is logged and
// still delivered as the default notification.
func (h *PushHandler) Receive(c echo.Context) error {
	if h.secret == "" {
		return c.JSON(http.StatusNotFound, errorJSON("disabled", "push intake is disabled"))
	}
	given := c.Request().Header.Get(PushSecretHeader)
	if subtle.ConstantTimeCompare([]byte(given), []byte(h.secret)) != 1 {
		return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated", "invalid push secret"))
	}
	userID := c.Param("userID")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, errorJSON("bad_request", "user id required"))
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxPushBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorJSON("bad_request", "could not read body"))
	}

	ctx := c.Request().Context()
	logger := middleware.FromContext(ctx)
	msg, perr := notify.ParsePush(body)
	if perr != nil {
		logger.Warn("Malformed push payload, using defaults", "user_id", userID, "error", perr)
	}

	if err := pubsub.Publish(ctx, h.publisher, notify.PushEvent, userID, msg); err != nil {
		logger.Error("Failed to publish push notification", "user_id", userID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, errorJSON("publish_failed", "could not deliver notification"))
	}
	return c.JSON(http.StatusAccepted, msg)
}
