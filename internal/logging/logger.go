// Package logging defines the structured logger the everkeep components
// share. The interface keeps the server and CLI decoupled from any one
// logging backend; slog is the in-tree implementation.
package logging

import "context"

// Logger is a context-aware structured logger. Variadic args are
// alternating key-value pairs:
//
//	log.Info(ctx, "trigger fired", "owner_id", ownerID)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger carrying the given key-value pairs on
	// every record.
	With(args ...any) Logger
}
