package handlers

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/labstack/echo/v4"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/middleware"
	"github.com/nfrund/collegeos/internal/typing"
)

// TypingHandler reports who is typing in a conversation the caller belongs to.
type TypingHandler struct {
	reader  typing.Reader
	members domain.MembershipRepository
	window  time.Duration
	clock   clock.Clock
}

// NewTypingHandler creates a TypingHandler. A zero window selects the
// default staleness window.
func NewTypingHandler(reader typing.Reader, members domain.MembershipRepository, window time.Duration, clk clock.Clock) *TypingHandler {
	if window <= 0 {
		window = domain.DefaultTypingStaleWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	return &TypingHandler{reader: reader, members: members, window: window, clock: clk}
}

// List handles GET /api/conversations/:id/typing. htmx requests get the
// indicator fragment, everything else JSON.
func (h *TypingHandler) List(c echo.Context) error {
	user, ok := c.Get(middleware.UserContextKey).(*domain.User)
	if !ok || user == nil {
		return c.JSON(http.StatusUnauthorized, errorJSON("unauthenticated", "user not authenticated"))
	}
	conversationID := c.Param("id")
	if conversationID == "" {
		return c.JSON(http.StatusBadRequest, errorJSON("bad_request", "conversation id required"))
	}

	member, err := h.members.IsMember(c.Request().Context(), conversationID, user.ID)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Membership check failed",
			"conversation_id", conversationID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, errorJSON("unavailable", "membership check failed"))
	}
	if !member {
		return c.JSON(http.StatusForbidden, errorJSON("forbidden", domain.ErrNotMember.Error()))
	}

	now := h.clock.Now()
	rows, err := h.reader.ListActive(c.Request().Context(), conversationID, now.Add(-h.window))
	if err != nil {
		// Typing presence degrades to "nobody is typing".
		middleware.FromContext(c.Request().Context()).Warn("Typing lookup failed",
			"conversation_id", conversationID, "error", err)
		rows = nil
	}
	active := domain.ActiveTypists(rows, now, h.window, user.ID)
	slices.SortFunc(active, func(a, b domain.TypingStatus) int { return strings.Compare(a.UserID, b.UserID) })
	text := typing.Describe(typing.Names(active))

	if c.Request().Header.Get("HX-Request") == "true" {
		c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
		c.Response().WriteHeader(http.StatusOK)
		return typing.Indicator(text).Render(c.Response().Writer)
	}

	resp := TypingResponse{ConversationID: conversationID, Users: make([]TypingUser, 0, len(active)), Text: text}
	for _, s := range active {
		resp.Users = append(resp.Users, TypingUser{UserID: s.UserID, DisplayName: s.DisplayName})
	}
	return c.JSON(http.StatusOK, resp)
}
