package observability

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/hibah/internal/config"
	"github.com/pitabwire/hibah/model"
)

type loggerKey struct{}

// NewLogger builds the service logger: JSON on stdout at the configured
// level, falling back to info when the level does not parse. Errors carry
// a stack trace.
//
// Levels in use: error for portal outages, panics and 5xx responses; warn
// for 4xx responses, empty ingestions and breaker trips; info for request
// completion, submissions and review decisions; debug for cache and portal
// retry details.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig = enc
	zc.Sampling = nil
	return zc.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in the context, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// RequestLogger returns a logger enriched with the session's identity and
// correlation fields. Without a session the context logger (or fallback) is
// returned unchanged.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)

	sess := model.SessionFrom(ctx)
	if sess == nil {
		return logger
	}

	fields := []zap.Field{
		zap.String("subject_id", sess.SubjectID),
		zap.String("correlation_id", sess.CorrelationID),
	}
	if sess.DepartmentID != "" {
		fields = append(fields, zap.String("department_id", sess.DepartmentID))
	}
	if sess.TraceID != "" {
		fields = append(fields, zap.String("trace_id", sess.TraceID))
	}

	return logger.With(fields...)
}

// sensitiveFormFields are form fields whose values never reach a log line.
var sensitiveFormFields = map[string]bool{
	"password":      true,
	"token":         true,
	"authorization": true,
	"nik":           true,
	"npwp":          true,
	"bank_account":  true,
	"phone":         true,
}

const redacted = "[REDACTED]"

// FormValues returns a zap field logging a flat form as an object, with the
// values of sensitive fields replaced by "[REDACTED]". Field names match
// case-insensitively; extra names are redacted alongside the built-in set.
func FormValues(key string, values map[string]string, extra ...string) zap.Field {
	return zap.Object(key, zapcore.ObjectMarshalerFunc(func(enc zapcore.ObjectEncoder) error {
		for k, v := range values {
			sensitive := sensitiveFormFields[strings.ToLower(k)] ||
				slices.ContainsFunc(extra, func(e string) bool { return strings.EqualFold(e, k) })
			if sensitive {
				v = redacted
			}
			enc.AddString(k, v)
		}
		return nil
	}))
}
