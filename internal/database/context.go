package database

import (
	"context"
	"time"
)

type timeoutKey int

const (
	readTimeoutKey timeoutKey = iota
	writeTimeoutKey
)

// WithQueryTimeout overrides the read timeout of store calls made with ctx.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, readTimeoutKey, d)
}

// WithExecuteTimeout overrides the write timeout of store calls made with ctx.
func WithExecuteTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, writeTimeoutKey, d)
}

func readContext(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	return bounded(ctx, readTimeoutKey, fallback)
}

func writeContext(ctx context.Context, fallback time.Duration) (context.Context, context.CancelFunc) {
	return bounded(ctx, writeTimeoutKey, fallback)
}

func bounded(ctx context.Context, key timeoutKey, fallback time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d, ok := ctx.Value(key).(time.Duration); ok && d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithTimeout(ctx, fallback)
}
