package audit

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"deskbridge.io/internal/auth"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID extracts the request id from context if present.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes audit entries through the service logger.
type Logger struct {
	log *zap.Logger
}

// New returns an audit Logger. A nil log discards entries.
func New(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.With(zap.String("type", "audit"))}
}

// LogEvent writes an audit log entry enriched with request and user context.
func (l *Logger) LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	if l == nil {
		return nil
	}
	zf := make([]zap.Field, 0, 3)
	if rid := RequestID(ctx); rid != "" {
		zf = append(zf, zap.String("request_id", rid))
	}
	if userID, ok := auth.UserIDFromContext(ctx); ok {
		zf = append(zf, zap.String("user_id", userID))
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	zf = append(zf, zap.Any("fields", copyFields))
	l.log.Info(event, zf...)
	return nil
}
