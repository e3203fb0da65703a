package server

import (
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/collegeos/internal/config"
	"github.com/nfrund/collegeos/internal/domain"
	"github.com/nfrund/collegeos/internal/handlers"
	appmw "github.com/nfrund/collegeos/internal/middleware"
	"github.com/nfrund/collegeos/internal/pubsub"
	"github.com/nfrund/collegeos/internal/typing"
)

// Deps are the collaborators the HTTP surface needs.
type Deps struct {
	Users     domain.UserRepository
	Typing    typing.Reader
	Members   domain.MembershipRepository
	Publisher pubsub.Publisher
	Health    handlers.Pinger
	// Gateway upgrades /ws requests into chat sessions.
	Gateway Gateway
}

// Gateway is the websocket endpoint.
type Gateway interface {
	http.Handler
	Shutdown()
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	E    *echo.Echo
	Cfg  *config.Config
	deps Deps

	authHandler   *handlers.AuthHandler
	typingHandler *handlers.TypingHandler
	pushHandler   *handlers.PushHandler
	healthHandler *handlers.HealthHandler
}

// New creates a new Server instance with its middleware chain and routes.
func New(cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handlers.NewValidator()

	e.Use(middleware.RequestID())
	e.Use(appmw.Logger)
	e.Use(middleware.Recover())
	setupErrorHandling(e)

	// Configure and use session middleware
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	e.Use(session.Middleware(store))

	s := &Server{
		E:             e,
		Cfg:           cfg,
		deps:          deps,
		authHandler:   handlers.NewAuthHandler(deps.Users),
		typingHandler: handlers.NewTypingHandler(deps.Typing, deps.Members, cfg.TypingStaleWindow, nil),
		pushHandler:   handlers.NewPushHandler(deps.Publisher, cfg.PushSecret),
		healthHandler: handlers.NewHealthHandler(deps.Health),
	}
	s.RegisterRoutes()
	return s
}
