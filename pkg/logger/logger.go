// Package logger carries a logrus entry through context so every log line
// of one generation attempt shares the same fields.
package logger

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// G returns the logger stored in ctx, or the global logger.
	G = GetLogger
	// L is the global logger used when the context carries none.
	L = logrus.NewEntry(newLogger())
)

type loggerKey struct{}

// Field names shared across packages.
const (
	FieldPlanID = "plan_id"
	FieldSkill  = "skill"
	FieldPath   = "path"
	FieldModel  = "model"
)

// WithLogger stores entry in ctx.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry.WithContext(ctx))
}

// GetLogger returns the entry stored in ctx, falling back to L.
func GetLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return entry
	}
	return L.WithContext(ctx)
}

// WithField returns a context whose logger carries an extra field.
func WithField(ctx context.Context, key string, value any) context.Context {
	return WithLogger(ctx, G(ctx).WithField(key, value))
}

// WithPlan tags the context logger with a plan identifier.
func WithPlan(ctx context.Context, planID string) context.Context {
	return WithField(ctx, FieldPlanID, planID)
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	applyFormat(l, "text")
	return l
}

func applyFormat(l *logrus.Logger, format string) {
	if format == "json" {
		l.Formatter = &logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
			TimestampFormat: time.RFC3339Nano,
		}
		return
	}
	l.Formatter = &logrus.TextFormatter{
		TimestampFormat: time.RFC3339Nano,
		FullTimestamp:   true,
	}
}

// SetLogLevel parses level and applies it to the global logger.
func SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	L.Logger.SetLevel(parsed)
	return nil
}

// SetLogFormat switches the global logger between "text" and "json".
func SetLogFormat(format string) {
	applyFormat(L.Logger, format)
}

// SetLogOutput redirects the global logger.
func SetLogOutput(w io.Writer) {
	L.Logger.SetOutput(w)
}
