package logging

import "context"

type contextKey int

const correlationIDKey contextKey = iota

// WithCorrelationIDCtx returns a new context with the correlation ID set.
func WithCorrelationIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromCtx extracts the correlation ID from the context.
func CorrelationIDFromCtx(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// ContextLogger resolves a logger for ctx from base, or the global logger
// when base is nil, tagged with the correlation ID found on ctx.
func ContextLogger(ctx context.Context, base *Logger) *Logger {
	l := base
	if l == nil {
		l = Global()
	}
	if id := CorrelationIDFromCtx(ctx); id != "" && id != l.correlationIDLocked() {
		l = l.WithCorrelationID(id)
	}
	return l
}

func (l *Logger) correlationIDLocked() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.correlationID
}
