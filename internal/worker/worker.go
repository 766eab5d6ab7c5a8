// Package worker implements the per-connection proxy pipeline: parse
// the client's request, consult the shared cache, and either serve
// from cache or dial the origin, forward its response, and cache it
// if it qualifies. One Worker instance serves exactly one connection
// then exits; nothing here outlives a single Serve call except the
// Cache and OriginPool registry it was handed, which are shared
// across every worker.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mendesjr/fproxy/internal/cache"
	"github.com/mendesjr/fproxy/internal/logging"
	"github.com/mendesjr/fproxy/internal/metrics"
	"github.com/mendesjr/fproxy/internal/netio"
	"github.com/mendesjr/fproxy/internal/originpool"
	"github.com/mendesjr/fproxy/internal/proxyerr"
	"github.com/mendesjr/fproxy/internal/request"
)

// errorResponseTemplate is the fixed HTML error page template the proxy sends
// to the client for client-visible failures.
const errorResponseTemplate = "HTTP/1.0 %d %s\r\n" +
	"Content-type: text/html\r\n" +
	"Content-length: %d\r\n" +
	"\r\n" +
	"%s"

const errorBodyTemplate = "<html><title>Proxy Error</title><body bgcolor=\"ffffff\">\r\n" +
	"%d: %s\r\n" +
	"<p>%s: %v\r\n" +
	"<hr><em>The proxy server</em>\r\n"

// Worker drives one accepted connection end to end.
type Worker struct {
	ID      int
	cache   *cache.Cache
	origins *originpool.Registry
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New builds a Worker for one connection. c and origins are shared
// across every worker; log and m may be nil to disable logging and
// metrics respectively (used by tests).
func New(id int, c *cache.Cache, origins *originpool.Registry, log *logging.Logger, m *metrics.Metrics) *Worker {
	return &Worker{ID: id, cache: c, origins: origins, log: log, metrics: m}
}

// Serve parses one request off conn, serves it from cache or from
// origin, and closes conn before returning. It never panics and never
// returns an error the caller must act on: every failure is logged (if
// a logger is configured) and results in conn being closed.
func (w *Worker) Serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if w.log != nil {
		var span trace.Span
		ctx, span = w.log.StartSpan(ctx, "proxy.connection", attribute.Int("worker.id", w.ID))
		defer span.End()
		w.log.Info(ctx, "connection opened", slog.Int("worker_id", w.ID))
	}

	bc := netio.New(conn)
	req, err := request.Parse(bc)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		w.handleParseError(ctx, conn, err)
		return
	}

	key := req.CanonicalKey()
	if w.log != nil {
		w.log.Info(ctx, "request parsed",
			slog.String("method", req.Method),
			slog.String("host", req.Hostname),
			slog.Int("port", req.Port),
			slog.String("path", req.Path),
		)
	}

	content, hit := w.lookupTraced(ctx, key)
	if hit {
		w.recordOutcome("hit")
		if w.log != nil {
			w.log.Info(ctx, "cache hit", slog.String("uri", key), slog.Int("bytes", len(content)))
		}
		if err := bc.WriteAll(content); err != nil {
			w.logTransportError(ctx, "write cached response to client", err)
		}
		if w.metrics != nil {
			w.metrics.AddBytesTransferred(len(content))
		}
		return
	}
	w.recordOutcome("miss")
	if w.log != nil {
		w.log.Info(ctx, "cache miss", slog.String("uri", key))
	}

	w.serveFromOrigin(ctx, bc, req, key)
}

// lookupTraced wraps the two-phase cache protocol in a child span so a
// slow lookup (lock contention under load) is visible separately from
// the rest of the connection's timeline.
func (w *Worker) lookupTraced(ctx context.Context, key string) ([]byte, bool) {
	if w.log == nil {
		return w.cache.Lookup(key)
	}
	_, span := w.log.StartSpan(ctx, "cache.lookup", attribute.String("cache.key", key))
	defer span.End()
	return w.cache.Lookup(key)
}

func (w *Worker) serveFromOrigin(ctx context.Context, client *netio.BufferedConn, req *request.Request, key string) {
	if w.log != nil {
		var span trace.Span
		ctx, span = w.log.StartSpan(ctx, "origin.fetch", attribute.String("origin.host", req.Hostname), attribute.Int("origin.port", req.Port))
		defer span.End()
	}

	pool, err := w.origins.Get(ctx, req.Hostname, req.Port)
	if err != nil {
		w.handleError(ctx, client.Conn(), proxyerr.New(proxyerr.OriginDNS, "resolve origin", err), true)
		return
	}

	originConn, err := pool.Dial(ctx)
	if err != nil {
		w.handleError(ctx, client.Conn(), proxyerr.New(proxyerr.OriginConnect, "dial origin", err), false)
		return
	}
	defer originConn.Close()

	originBC := netio.New(originConn)
	if err := originBC.WriteAll(req.Raw); err != nil {
		w.logTransportError(ctx, "write request to origin", err)
		return
	}

	buf := make([]byte, cache.MaxObjectSize)
	total := 0
	// pending holds a short first read until EOF shows it was the only
	// read; any further non-empty read rules the response out of the cache.
	var pending []byte
	for k := 1; ; k++ {
		n, err := originBC.ReadBlock(buf)
		if n > 0 {
			total += n
			pending = nil
			if k == 1 && n < cache.MaxObjectSize {
				pending = append([]byte(nil), buf[:n]...)
			}
			if werr := client.WriteAll(buf[:n]); werr != nil {
				w.logTransportError(ctx, "forward response to client", werr)
				return
			}
			if w.metrics != nil {
				w.metrics.AddBytesTransferred(n)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.logTransportError(ctx, "read response from origin", err)
			} else if pending != nil {
				w.cache.Add(key, pending)
			}
			break
		}
	}

	if w.log != nil {
		w.log.Info(ctx, "origin response forwarded",
			slog.String("uri", key),
			slog.Int("bytes", total),
		)
	}
}

func (w *Worker) handleParseError(ctx context.Context, conn net.Conn, err error) {
	var perr *proxyerr.Error
	if !errors.As(err, &perr) {
		w.logTransportError(ctx, "parse request", err)
		return
	}
	w.handleError(ctx, conn, perr, true)
}

// handleError logs a worker-scoped error and, if sendResponse is true,
// writes the matching HTTP/1.0 error page to the client before
// returning. Every kind other than ClientProtocol and OriginDNS is
// logged only, per the error-handling design's silent-close policy for
// connect and transport failures.
func (w *Worker) handleError(ctx context.Context, conn net.Conn, perr *proxyerr.Error, sendResponse bool) {
	if w.log != nil {
		w.log.Error(ctx, "worker error", perr, slog.String("kind", perr.Kind.String()))
	}
	w.recordOutcome(perr.Kind.String())

	if !sendResponse {
		return
	}

	code, short := errorCodeFor(perr.Kind)
	body := fmt.Sprintf(errorBodyTemplate, code, short, perr.Op, perr.Err)
	response := fmt.Sprintf(errorResponseTemplate, code, short, len(body), body)
	_ = netio.New(conn).WriteAll([]byte(response))
}

func errorCodeFor(kind proxyerr.Kind) (int, string) {
	switch kind {
	case proxyerr.OriginDNS:
		return 400, "Bad Request"
	default:
		return 501, "Not Implemented"
	}
}

func (w *Worker) logTransportError(ctx context.Context, op string, err error) {
	w.recordOutcome(proxyerr.Transport.String())
	if w.log != nil {
		w.log.Error(ctx, "transport error", proxyerr.New(proxyerr.Transport, op, err))
	}
}

func (w *Worker) recordOutcome(outcome string) {
	if w.metrics == nil {
		return
	}
	w.metrics.RecordRequest(outcome)
	switch outcome {
	case "hit":
		w.metrics.RecordCacheHit()
	case "miss":
		w.metrics.RecordCacheMiss()
	}
}
