// Package logger is the process-wide slog front end. Every line carries the
// active trace, and credential-named keys are blanked before any handler sees them.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"autokite/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const redacted = "[REDACTED]"

var (
	base     = slog.New(slog.NewTextHandler(os.Stdout, nil))
	detailed bool

	// Keys whose values never reach a log sink.
	secretKeys = map[string]struct{}{
		"access_token":  {},
		"request_token": {},
		"api_secret":    {},
		"password":      {},
		"pin":           {},
		"secret":        {},
		"token_secret":  {},
	}
)

// LogConfig selects level, encoding and destination.
type LogConfig struct {
	Level           string // DEBUG, INFO, WARN, ERROR
	Format          string // json or text
	DetailedLogging bool   // debug lines plus caller source
	Output          io.Writer
}

func Init() error {
	return InitWithConfig(LoadConfigFromEnv())
}

// LoadConfigFromEnv reads LOG_LEVEL, LOG_FORMAT and LOG_DETAILED.
func LoadConfigFromEnv() LogConfig {
	cfg := LogConfig{Level: "INFO", Format: "json"}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Format = v
	}
	cfg.DetailedLogging = os.Getenv("LOG_DETAILED") == "true"
	return cfg
}

func InitWithConfig(cfg LogConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	detailed = cfg.DetailedLogging
	if detailed {
		level = slog.LevelDebug
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redact}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(out, opts)
	}
	base = slog.New(h)
	slog.SetDefault(base)
	return nil
}

func redact(_ []string, a slog.Attr) slog.Attr {
	if isSecret(a.Key) {
		return slog.String(a.Key, redacted)
	}
	return a
}

func isSecret(key string) bool {
	_, ok := secretKeys[strings.ToLower(key)]
	return ok
}

func Debug(ctx context.Context, msg string, args ...any) {
	if detailed {
		emit(ctx, slog.LevelDebug, 1, msg, args)
	}
}

func Info(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelInfo, 1, msg, args)
}

func Warn(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelWarn, 1, msg, args)
}

func Error(ctx context.Context, msg string, args ...any) {
	emit(ctx, slog.LevelError, 1, msg, args)
}

// ErrorWithErr logs err and marks the active span as failed.
func ErrorWithErr(ctx context.Context, msg string, err error, args ...any) {
	failSpan(oteltrace.SpanFromContext(ctx), err)
	emit(ctx, slog.LevelError, 1, msg, append([]any{"error", err}, args...))
}

// The Skip variants attribute the line skip frames further up, so decorators
// report the call site they wrap.

func DebugSkip(ctx context.Context, skip int, msg string, args ...any) {
	if detailed {
		emit(ctx, slog.LevelDebug, 1+skip, msg, args)
	}
}

func InfoSkip(ctx context.Context, skip int, msg string, args ...any) {
	emit(ctx, slog.LevelInfo, 1+skip, msg, args)
}

func WarnSkip(ctx context.Context, skip int, msg string, args ...any) {
	emit(ctx, slog.LevelWarn, 1+skip, msg, args)
}

func ErrorWithErrSkip(ctx context.Context, skip int, msg string, err error, args ...any) {
	failSpan(oteltrace.SpanFromContext(ctx), err)
	emit(ctx, slog.LevelError, 1+skip, msg, append([]any{"error", err}, args...))
}

func failSpan(span oteltrace.Span, err error) {
	if err == nil || !span.SpanContext().IsValid() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// emit writes one record. depth counts the frames between emit and the code
// that should appear as the source.
func emit(ctx context.Context, level slog.Level, depth int, msg string, args []any) {
	if !base.Enabled(ctx, level) {
		return
	}

	if traceID, spanID, ok := trace.IDs(ctx); ok {
		args = append([]any{"trace_id", traceID, "span_id", spanID}, args...)
	}
	if detailed {
		if src, ok := caller(depth + 1); ok {
			args = append(args[:len(args):len(args)], "source", src)
		}
	}
	base.Log(ctx, level, msg, args...)
}

func caller(skip int) (slog.Value, bool) {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return slog.Value{}, false
	}
	fn := "unknown"
	if f := runtime.FuncForPC(pc); f != nil {
		fn = f.Name()
	}
	return slog.GroupValue(
		slog.String("function", fn),
		slog.String("file", file),
		slog.Int("line", line),
	), true
}

// OperationTimer ties a span to a start/finish pair of debug lines.
type OperationTimer struct {
	ctx    context.Context
	span   oteltrace.Span
	start  time.Time
	fields []any
}

func StartOperation(ctx context.Context, operation string, fields ...any) *OperationTimer {
	ctx, span := trace.StartSpan(ctx, operation, toAttributes(fields)...)
	ot := &OperationTimer{
		ctx:    ctx,
		span:   span,
		start:  time.Now(),
		fields: append([]any{"operation", operation}, fields...),
	}
	emitDebug(ctx, "Operation started", ot.fields)
	return ot
}

// Context carries the operation's span.
func (ot *OperationTimer) Context() context.Context {
	return ot.ctx
}

func (ot *OperationTimer) finish(extra []any) []any {
	elapsed := time.Since(ot.start).Milliseconds()
	ot.span.SetAttributes(attribute.Int64("duration_ms", elapsed))
	ot.span.SetAttributes(toAttributes(extra)...)

	fields := make([]any, 0, len(ot.fields)+len(extra)+2)
	fields = append(fields, ot.fields...)
	fields = append(fields, "duration_ms", elapsed)
	return append(fields, extra...)
}

func (ot *OperationTimer) End(extra ...any) {
	fields := ot.finish(extra)
	ot.span.SetStatus(codes.Ok, "")
	ot.span.End()
	emitDebug(ot.ctx, "Operation completed", fields)
}

func (ot *OperationTimer) EndWithError(err error, extra ...any) {
	fields := ot.finish(extra)
	failSpan(ot.span, err)
	ot.span.End()
	emit(ot.ctx, slog.LevelError, 1, "Operation failed", append(fields, "error", err))
}

func emitDebug(ctx context.Context, msg string, fields []any) {
	if detailed {
		emit(ctx, slog.LevelDebug, 2, msg, fields)
	}
}

// toAttributes converts key/value pairs to span attributes, skipping
// credentials and types otel cannot carry.
func toAttributes(fields []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok || isSecret(key) {
			continue
		}
		switch v := fields[i+1].(type) {
		case string:
			attrs = append(attrs, attribute.String(key, v))
		case int:
			attrs = append(attrs, attribute.Int(key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(key, v))
		case uint32:
			attrs = append(attrs, attribute.Int64(key, int64(v)))
		case float64:
			attrs = append(attrs, attribute.Float64(key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(key, v))
		case time.Duration:
			attrs = append(attrs, attribute.String(key, v.String()))
		}
	}
	return attrs
}

// Order logs an accepted order and adds an order_placed event to the active span.
func Order(ctx context.Context, symbol, side string, qty int, orderID string, fields ...any) {
	core := []any{"symbol", symbol, "side", side, "quantity", qty, "order_id", orderID}
	if span := oteltrace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		span.AddEvent("order_placed", oteltrace.WithAttributes(toAttributes(core)...))
	}
	emit(ctx, slog.LevelInfo, 1, "Order placed", append(append([]any{"type", "ORDER"}, core...), fields...))
}
