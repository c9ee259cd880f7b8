// Package contextkeys provides standardized context key definitions for
// request-scoped identity carried alongside context.Context: correlation ID,
// execution ID, user ID, as a small typed vocabulary for propagating
// identity without threading extra parameters through every call. The
// chain engine, executor, and audit log do not read these keys; they carry
// identity on toolrun.ExecutionContext.
package contextkeys

import "context"

// Key is the type for all context keys in this package to avoid collisions.
type Key string

const (
	// CorrelationIDKey is the context key for the caller-supplied correlation ID.
	CorrelationIDKey Key = "correlation_id"

	// ExecutionIDKey is the context key for the current chain/step execution ID.
	ExecutionIDKey Key = "execution_id"

	// UserIDKey is the context key for the acting user ID.
	UserIDKey Key = "user_id"
)

// ContextWithExecutionID returns a new context with the execution ID set.
func ContextWithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, ExecutionIDKey, executionID)
}

// ExecutionIDFromContext retrieves the execution ID from the context.
// Returns empty string if not found.
func ExecutionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ExecutionIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithCorrelationID returns a new context with the correlation ID set.
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

// CorrelationIDFromContext retrieves the correlation ID from the context.
// Returns empty string if not found.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithUserID returns a new context with the user ID set.
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserIDFromContext retrieves the user ID from the context.
// Returns empty string if not found.
func UserIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// IdentityContext bundles the identifiers usually read together, e.g. when
// stamping an audit entry or a metrics label set.
type IdentityContext struct {
	CorrelationID string
	ExecutionID   string
	UserID        string
}

// GetIdentityContext extracts all identifiers from a context.
func GetIdentityContext(ctx context.Context) IdentityContext {
	return IdentityContext{
		CorrelationID: CorrelationIDFromContext(ctx),
		ExecutionID:   ExecutionIDFromContext(ctx),
		UserID:        UserIDFromContext(ctx),
	}
}
