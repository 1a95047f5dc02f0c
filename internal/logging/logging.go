// Package logging is the structured logger every node component writes
// through. It is a thin layer over log/slog with field helpers for RTI
// handles and request-scoped context helpers.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rti/model"
)

// Field is one structured attribute.
type Field = slog.Attr

func String(key, value string) Field        { return slog.String(key, value) }
func Int(key string, value int) Field       { return slog.Int(key, value) }
func Uint64(key string, value uint64) Field { return slog.Uint64(key, value) }
func Bool(key string, value bool) Field     { return slog.Bool(key, value) }
func Any(key string, value any) Field       { return slog.Any(key, value) }

// Err records err under "error". A nil err logs as an empty string.
func Err(err error) Field {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Federation names the federation execution a record is about.
func Federation(name string) Field { return slog.String("federation", name) }

// Federate records a federate handle.
func Federate(h model.FederateHandle) Field { return slog.Uint64("federate", uint64(h)) }

// Object records an object instance handle in its registrar.serial form.
func Object(h model.ObjectInstanceHandle) Field { return slog.String("object", h.String()) }

// Connect records a connect handle.
func Connect(h model.ConnectHandle) Field { return slog.Uint64("connect", uint64(h)) }

// Label records a synchronization point or save label.
func Label(label string) Field { return slog.String("label", label) }

// Logger is the logging surface handed to components.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config selects level, format and destination.
type Config struct {
	Level     string    // debug, info, warn or error
	Format    string    // json or text
	AddSource bool      // include source locations
	Output    io.Writer // defaults to stderr
}

// New builds a Logger from cfg.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), AddSource: cfg.AddSource}
	if strings.EqualFold(cfg.Format, "json") {
		return &slogger{l: slog.New(slog.NewJSONHandler(out, opts))}
	}
	return &slogger{l: slog.New(slog.NewTextHandler(out, opts))}
}

// NewFromEnv reads RTI_LOG_LEVEL and RTI_LOG_FORMAT, then LOG_LEVEL and
// LOG_FORMAT. Unset means text at info.
func NewFromEnv() Logger {
	return New(Config{
		Level:     envOr("RTI_LOG_LEVEL", "LOG_LEVEL"),
		Format:    envOr("RTI_LOG_FORMAT", "LOG_FORMAT"),
		AddSource: true,
	})
}

func envOr(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

var noop Logger = &slogger{l: slog.New(slog.DiscardHandler)}

// Noop returns a logger that drops every record.
func Noop() Logger { return noop }

type slogger struct {
	l *slog.Logger
}

func (s *slogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &slogger{l: s.l.With(args...)}
}

func (s *slogger) Debug(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelDebug, msg, fields)
}

func (s *slogger) Info(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelInfo, msg, fields)
}

func (s *slogger) Warn(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelWarn, msg, fields)
}

func (s *slogger) Error(ctx context.Context, msg string, fields ...Field) {
	s.log(ctx, slog.LevelError, msg, fields)
}

func (s *slogger) log(ctx context.Context, level slog.Level, msg string, fields []Field) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.l.LogAttrs(ctx, level, msg, fields...)
}

func parseLevel(level string) slog.Level {
	if strings.EqualFold(level, "warning") {
		return slog.LevelWarn
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

type (
	requestIDKey struct{}
	loggerKey    struct{}
)

// EnsureRequestID returns ctx carrying a request id, generating one when
// ctx has none, and the id itself.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return ContextWithRequestID(ctx, id), id
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithRequestLogger ensures ctx has a request id and returns base scoped
// to it.
func WithRequestLogger(ctx context.Context, base Logger) (context.Context, Logger) {
	if base == nil {
		base = Noop()
	}
	ctx, id := EnsureRequestID(ctx)
	return ctx, base.With(String("request_id", id))
}

func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	if l == nil {
		l = Noop()
	}
	return context.WithValue(ctx, loggerKey{}, l)
}

// LoggerFromContext returns the logger stored on ctx, or nil.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(loggerKey{}).(Logger)
	return l
}

// FromContextOr returns the logger on ctx, or fallback when there is none.
func FromContextOr(ctx context.Context, fallback Logger) Logger {
	if l := LoggerFromContext(ctx); l != nil {
		return l
	}
	if fallback == nil {
		return Noop()
	}
	return fallback
}
