// Package logging provides the proxy's structured logger: JSON lines on
// stdout correlated with whatever OpenTelemetry span is active on the
// context, used by internal/cache, internal/worker, internal/dispatcher
// and cmd/proxy for every event spec.md §6 calls for (connection
// open/close, request line, cache hit/miss, bytes transferred, cache
// status).
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger pairs a slog.Logger with an OpenTelemetry tracer so every log
// line can carry the trace_id/span_id of whatever span is active on the
// context it's given.
type Logger struct {
	slogger *slog.Logger
	tracer  trace.Tracer
	service string
}

// NewLogger builds a Logger that writes JSON to stdout and correlates
// with spans started under the named tracer.
func NewLogger(service string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	return &Logger{
		slogger: slog.New(handler),
		tracer:  otel.Tracer(service),
		service: service,
	}
}

// Debug logs a low-volume diagnostic line — per-probe health-check
// outcomes, that kind of thing — with trace correlation.
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs a normal operational event (connection opened, cache hit,
// response forwarded) with trace correlation.
func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs a recoverable anomaly — an origin backend going unhealthy,
// an accept() call that failed but didn't take the listener down with
// it — with trace correlation.
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs a worker- or connection-scoped failure, marking the active
// span (if any) as errored.
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs an unrecoverable error — a cache consistency violation, a
// failure to bind the listening socket — and terminates the process.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}

// logWithTrace appends trace/span IDs (when a recording span is on ctx)
// and the service name, then writes the line.
func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}
	attrs = append(attrs, slog.String("service", l.service))
	l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan starts a child span under ctx's span (or a new trace if none
// is active) and returns the context carrying it, for callers that want
// the rest of their operation's log lines correlated with it.
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// HTTPRequestLogger wraps an http.Handler with request/response logging
// and a span per request; used to instrument the metrics exposition
// endpoint, which is the one place this proxy speaks net/http rather
// than raw HTTP/1.0 over net.Conn.
func (l *Logger) HTTPRequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, span := l.StartSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
				attribute.String("http.remote_addr", r.RemoteAddr),
			)
			defer span.End()

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r.WithContext(ctx))

			duration := time.Since(start)
			l.Info(ctx, "http request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapper.statusCode),
				slog.Duration("duration", duration),
				slog.String("remote_addr", r.RemoteAddr),
			)

			span.SetAttributes(attribute.Int("http.status_code", wrapper.statusCode))
			if wrapper.statusCode >= 400 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			}
		})
	}
}

// responseWriter captures the status code a wrapped handler writes, so
// HTTPRequestLogger can log and trace it after the handler returns.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
