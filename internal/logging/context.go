package logging

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type correlationCtxKey struct{}
type runCtxKey struct{}
type repoCtxKey struct{}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationCtxKey{}, id)
}

// CorrelationID returns the correlation id on ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationCtxKey{}).(string)
	return id
}

// EnsureCorrelationID returns ctx unchanged when it already carries a
// correlation id, otherwise a child context with a fresh one.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := NewID()
	return WithCorrelationID(ctx, id), id
}

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, id)
}

func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runCtxKey{}).(string)
	return id
}

func WithRepoID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, repoCtxKey{}, id)
}

func RepoID(ctx context.Context) string {
	id, _ := ctx.Value(repoCtxKey{}).(string)
	return id
}

// ContextFields extracts the ids carried on ctx as zap fields.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if ctx == nil {
		return fields
	}
	if id := CorrelationID(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", id))
	}
	if id := RunID(ctx); id != "" {
		fields = append(fields, zap.String("run_id", id))
	}
	if id := RepoID(ctx); id != "" {
		fields = append(fields, zap.String("repo_id", id))
	}
	return fields
}
