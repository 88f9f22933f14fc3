// Package logging is the structured logger of the stack, a thin layer over
// log/slog. Records pick up the request ID and the slot carried by the
// context of the call, and named components can log at their own level.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Field is one structured attribute of a record.
type Field = slog.Attr

func String(key, value string) Field        { return slog.String(key, value) }
func Int(key string, value int) Field       { return slog.Int(key, value) }
func Uint32(key string, value uint32) Field { return slog.Uint64(key, uint64(value)) }
func Uint64(key string, value uint64) Field { return slog.Uint64(key, value) }
func Bool(key string, value bool) Field     { return slog.Bool(key, value) }
func Any(key string, value any) Field       { return slog.Any(key, value) }

// Err attaches err under the "error" key.
func Err(err error) Field { return slog.Any("error", err) }

// RNTI renders an RNTI in hex, as it appears in protocol traces.
func RNTI(rnti uint16) Field { return slog.String("rnti", fmt.Sprintf("0x%04x", rnti)) }

// PCI tags a record with the physical cell id.
func PCI(pci uint32) Field { return slog.Uint64("pci", uint64(pci)) }

// Logger is the logging interface every component accepts.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	With(fields ...Field) Logger
}

// Config controls the logger built by New.
type Config struct {
	Level     string    // debug | info | warn | error
	Format    string    // text | json
	AddSource bool      // include source locations
	Output    io.Writer // stdout when nil

	// Components overrides Level for loggers obtained from Component,
	// keyed by component name.
	Components map[string]string
}

// New returns a slog backed Logger.
func New(cfg Config) Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	base := parseLevel(cfg.Level)
	floor := base
	levels := make(map[string]slog.Level, len(cfg.Components))
	for name, lvl := range cfg.Components {
		l := parseLevel(lvl)
		levels[strings.ToLower(name)] = l
		floor = min(floor, l)
	}

	opts := &slog.HandlerOptions{Level: floor, AddSource: cfg.AddSource}
	var h slog.Handler = slog.NewTextHandler(out, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	}
	return &slogger{l: slog.New(contextHandler{h}), min: base, levels: levels}
}

// NewFromEnv builds a logger from NRSTACK_LOG_LEVEL, NRSTACK_LOG_FORMAT and
// NRSTACK_LOG_COMPONENTS ("pdsch=debug,ra=warn").
func NewFromEnv() Logger {
	return New(Config{
		Level:      os.Getenv("NRSTACK_LOG_LEVEL"),
		Format:     os.Getenv("NRSTACK_LOG_FORMAT"),
		AddSource:  true,
		Components: ParseComponents(os.Getenv("NRSTACK_LOG_COMPONENTS")),
	})
}

// ParseComponents reads a comma separated list of name=level pairs.
// Malformed entries are skipped.
func ParseComponents(s string) map[string]string {
	out := make(map[string]string)
	for _, kv := range strings.Split(s, ",") {
		name, lvl, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok || name == "" || lvl == "" {
			continue
		}
		out[name] = lvl
	}
	return out
}

// Noop returns a logger that drops every record.
func Noop() Logger { return noopLogger{} }

// OrNoop returns l, or Noop when l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return Noop()
	}
	return l
}

// Component tags l with a component name and applies the level configured
// for that component, if any.
func Component(l Logger, name string) Logger {
	switch v := l.(type) {
	case nil:
		return Noop()
	case *slogger:
		return v.component(name)
	}
	return l.With(String("component", name))
}

type slogger struct {
	l      *slog.Logger
	min    slog.Level
	levels map[string]slog.Level // read only after New
}

func (s *slogger) With(fields ...Field) Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &slogger{l: s.l.With(args...), min: s.min, levels: s.levels}
}

func (s *slogger) component(name string) Logger {
	lvl, ok := s.levels[strings.ToLower(name)]
	if !ok {
		lvl = s.min
	}
	return &slogger{l: s.l.With(slog.String("component", name)), min: lvl, levels: s.levels}
}

func (s *slogger) log(ctx context.Context, level slog.Level, msg string, fields []Field) {
	if level < s.min {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.l.LogAttrs(ctx, level, msg, fields...)
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

type noopLogger struct{}

func (noopLogger) With(...Field) Logger                    { return noopLogger{} }
func (noopLogger) Debug(context.Context, string, ...Field) {}
func (noopLogger) Info(context.Context, string, ...Field)  {}
func (noopLogger) Warn(context.Context, string, ...Field)  {}
func (noopLogger) Error(context.Context, string, ...Field) {}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// contextHandler adds the request ID and slot found on the context to every
// record.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := RequestIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("request_id", id))
	}
	if slot, ok := SlotFromContext(ctx); ok {
		r.AddAttrs(slog.Uint64("slot", slot))
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}

type ctxKey int

const (
	requestIDKey ctxKey = iota
	slotKey
	loggerKey
)

// ContextWithSlot records the absolute slot index being processed.
func ContextWithSlot(ctx context.Context, slot uint64) context.Context {
	return context.WithValue(ctx, slotKey, slot)
}

// SlotFromContext returns the slot stored by ContextWithSlot.
func SlotFromContext(ctx context.Context) (uint64, bool) {
	if ctx == nil {
		return 0, false
	}
	slot, ok := ctx.Value(slotKey).(uint64)
	return slot, ok
}

// EnsureRequestID attaches a request ID to ctx unless one is present and
// returns it.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := newRequestID()
	return ContextWithRequestID(ctx, id), id
}

func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextWithLogger stores l on ctx for handlers further down the chain.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, OrNoop(l))
}

// LoggerFromContext returns the logger stored by ContextWithLogger, or nil.
func LoggerFromContext(ctx context.Context) Logger {
	if ctx == nil {
		return nil
	}
	l, _ := ctx.Value(loggerKey).(Logger)
	return l
}

func newRequestID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b[:])
}
