package server

import (
	"github.com/labstack/echo/v4"
	"github.com/nfrund/collegeos/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes sets up all the application routes.
func (s *Server) RegisterRoutes() {
	auth := middleware.Auth(s.deps.Users)
	rateLimiter := middleware.RateLimiter(middleware.DefaultRateLimit)

	s.E.GET("/healthz", s.healthHandler.Check)
	s.E.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.E.Group("/api")
	api.POST("/session", s.authHandler.SignIn, rateLimiter)
	api.DELETE("/session", s.authHandler.SignOut)
	api.GET("/session", s.authHandler.Me, auth)
	api.GET("/conversations/:id/typing", s.typingHandler.List, auth)
	api.POST("/push/:userID", s.pushHandler.Receive, rateLimiter)

	if s.deps.Gateway != nil {
		s.E.GET("/ws", echo.WrapHandler(s.deps.Gateway), auth)
	}
}
