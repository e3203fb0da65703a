// Package app wires the CollegeOS services together with a samber/do
// injector. Services are built lazily the first time something asks for them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/collegeos/internal/config"
	"github.com/nfrund/collegeos/internal/database"
	"github.com/nfrund/collegeos/internal/pubsub"
	"github.com/nfrund/collegeos/internal/server"
	"github.com/nfrund/collegeos/internal/session"
	"github.com/samber/do/v2"
	"go.opentelemetry.io/otel/trace"
)

// Container owns every long-lived service of the process.
type Container struct {
	ctx      context.Context
	cfg      *config.Config
	injector *do.RootScope

	// Built services that need releasing.
	mu      sync.Mutex
	conn    *database.Connection
	bus     *pubsub.WatermillBridge
	tracing *tracing
}

type tracing struct {
	tracer  trace.Tracer
	cleanup func()
}

// New registers the service providers. Nothing connects until a service is
// requested.
func New(ctx context.Context, cfg *config.Config) *Container {
	c := &Container{ctx: ctx, cfg: cfg, injector: do.New()}
	i := c.injector

	do.ProvideValue(i, cfg)

	do.Provide(i, func(i do.Injector) (*database.Connection, error) {
		conn := database.NewConnection(do.MustInvoke[*config.Config](i))
		if err := conn.Connect(c.ctx); err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		conn.StartMonitoring()
		c.track(func() { c.conn = conn })
		return conn, nil
	})
	do.Provide(i, func(i do.Injector) (*database.SurrealLiveQueryService, error) {
		return database.NewSurrealLiveQueryService(do.MustInvoke[*database.Connection](i)), nil
	})
	do.Provide(i, func(i do.Injector) (*database.MessageStore, error) {
		return database.NewMessageStore(do.MustInvoke[*database.Connection](i)), nil
	})
	do.Provide(i, func(i do.Injector) (*database.TypingStore, error) {
		return database.NewTypingStore(do.MustInvoke[*database.Connection](i)), nil
	})
	do.Provide(i, func(i do.Injector) (*database.MembershipStore, error) {
		return database.NewMembershipStore(do.MustInvoke[*database.Connection](i)), nil
	})
	do.Provide(i, func(i do.Injector) (*database.UserStore, error) {
		return database.NewUserStore(do.MustInvoke[*database.Connection](i), cfg), nil
	})

	do.Provide(i, func(i do.Injector) (*tracing, error) {
		tracer, cleanup, err := pubsub.SetupOTel(c.ctx, TracingConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("set up tracing: %w", err)
		}
		t := &tracing{tracer: tracer, cleanup: cleanup}
		c.track(func() { c.tracing = t })
		return t, nil
	})
	do.Provide(i, func(i do.Injector) (*pubsub.WatermillBridge, error) {
		var opts []pubsub.Option
		if cfg.PubSubTracingEnabled {
			t, err := do.Invoke[*tracing](i)
			if err != nil {
				return nil, err
			}
			opts = append(opts, pubsub.WithTracer(t.tracer))
		}
		bus := pubsub.NewWatermillBridge(opts...)
		c.track(func() { c.bus = bus })
		return bus, nil
	})

	do.Provide(i, func(i do.Injector) (*session.Gateway, error) {
		bus := do.MustInvoke[*pubsub.WatermillBridge](i)
		deps := session.Deps{
			Messages:   do.MustInvoke[*database.MessageStore](i),
			Typing:     do.MustInvoke[*database.TypingStore](i),
			Members:    do.MustInvoke[*database.MembershipStore](i),
			Feed:       do.MustInvoke[*database.SurrealLiveQueryService](i),
			Publisher:  bus,
			Subscriber: bus,
		}
		return session.NewGateway(deps, SessionOptions(cfg), nil), nil
	})

	do.Provide(i, func(i do.Injector) (*server.Server, error) {
		bus := do.MustInvoke[*pubsub.WatermillBridge](i)
		return server.New(cfg, server.Deps{
			Users:     do.MustInvoke[*database.UserStore](i),
			Typing:    do.MustInvoke[*database.TypingStore](i),
			Members:   do.MustInvoke[*database.MembershipStore](i),
			Publisher: bus,
			Health:    do.MustInvoke[*database.Connection](i),
			Gateway:   do.MustInvoke[*session.Gateway](i),
		}), nil
	})

	return c
}

func (c *Container) track(set func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set()
}

// Server builds the HTTP server and everything beneath it.
func (c *Container) Server() (*server.Server, error) {
	return do.Invoke[*server.Server](c.injector)
}

// Bus returns the in-process event bus.
func (c *Container) Bus() (*pubsub.WatermillBridge, error) {
	return do.Invoke[*pubsub.WatermillBridge](c.injector)
}

// Typing returns the typing_status store.
func (c *Container) Typing() (*database.TypingStore, error) {
	return do.Invoke[*database.TypingStore](c.injector)
}

// Members returns the conversation_member store.
func (c *Container) Members() (*database.MembershipStore, error) {
	return do.Invoke[*database.MembershipStore](c.injector)
}

// Close releases the services that were built, bus first so no handler
// outlives the database connection.
func (c *Container) Close(ctx context.Context) {
	c.mu.Lock()
	bus, tr, conn := c.bus, c.tracing, c.conn
	c.mu.Unlock()

	if bus != nil {
		if err := bus.Close(); err != nil {
			slog.Warn("Failed to close event bus", "error", err)
		}
	}
	if tr != nil {
		tr.cleanup()
	}
	if conn != nil {
		if err := conn.Close(ctx); err != nil {
			slog.Warn("Failed to close database connection", "error", err)
		}
	}
}

// TracingConfig maps the event bus tracing settings.
func TracingConfig(cfg *config.Config) pubsub.TracingConfig {
	return pubsub.TracingConfig{
		Enabled:     cfg.PubSubTracingEnabled,
		ServiceName: cfg.PubSubTracingServiceName,
		ZipkinURL:   cfg.PubSubTracingZipkinURL,
	}
}

// SessionOptions maps the chat session tunables.
func SessionOptions(cfg *config.Config) session.Options {
	return session.Options{
		HistoryLimit:      cfg.MessageHistoryLimit,
		SendTimeout:       cfg.SendTimeout,
		IdleTimeout:       cfg.TypingIdleTimeout,
		StaleWindow:       cfg.TypingStaleWindow,
		DismissAfter:      cfg.NotificationDismissAfter,
		PermissionTimeout: cfg.NotificationPermissionTimeout,
	}
}
