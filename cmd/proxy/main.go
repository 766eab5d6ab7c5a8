package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mendesjr/fproxy/internal/cache"
	"github.com/mendesjr/fproxy/internal/config"
	"github.com/mendesjr/fproxy/internal/dispatcher"
	"github.com/mendesjr/fproxy/internal/logging"
	"github.com/mendesjr/fproxy/internal/metrics"
	"github.com/mendesjr/fproxy/internal/originpool"
	"github.com/mendesjr/fproxy/internal/resolver"
	"github.com/mendesjr/fproxy/internal/tracing"
)

// main initializes and starts the forward proxy
// Orchestrates configuration loading, cache and origin pool setup,
// tracing/metrics wiring, and the dispatcher's accept loop, with
// graceful shutdown on SIGINT/SIGTERM
func main() {
	configPath := flag.String("config", "", "Path to configuration file (optional)")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "usage: proxy <port>\n")
		os.Exit(1)
	}

	port, err := strconv.Atoi(args[0])
	if err != nil || port < 0 || port > 65535 {
		fmt.Fprintf(os.Stderr, "legal port number: 0 to 65535\n")
		os.Exit(1)
	}

	if *configPath != "" {
		if err := config.LoadConfig(*configPath); err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	cfg := config.GetInstance()

	shutdownTracing, err := tracing.InitTracing(tracing.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Tracing.ServiceVersion,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SamplingRatio:  cfg.Tracing.SamplingRatio,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		log.Fatalf("failed to initialise tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	logger := logging.NewLogger(cfg.Tracing.ServiceName)
	m := metrics.NewMetrics()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		log.Fatalf("listen on port %d: %v", port, err)
	}

	c := cache.New(logger)
	reg := originpool.NewRegistry(resolver.New(), cfg.Origin.Algorithm, cfg.Origin.ResolveTTL)
	reg.SetMetrics(m)
	reg.SetLogger(logger)
	d := dispatcher.New(ln, c, reg, logger, m, cfg.Server.MaxWorkerID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Health.Enabled {
		go reg.StartHealthChecks(ctx, cfg.Health.Interval)
	}

	go reportCacheOccupancy(ctx, c, m)
	go serveMetrics(m, logger, cfg.Metrics.ListenAddr)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("forward proxy listening on port %d", port)
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("dispatcher stopped: %v", err)
		}
	}()

	<-sigChan
	log.Println("received termination signal, shutting down")
	cancel()
}

// reportCacheOccupancy polls the cache's byte accounting every second
// and republishes it on the proxy_cache_used_bytes / proxy_cache_free_bytes
// gauges, since those numbers only change as a side effect of a worker's
// Lookup/Add call and have no natural push point of their own.
func reportCacheOccupancy(ctx context.Context, c *cache.Cache, m *metrics.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.Stats()
			m.SetCacheOccupancy(stats.UsedBytes, stats.FreeBytes)
		}
	}
}

// serveMetrics exposes Prometheus metrics on an internal HTTP server,
// separate from the proxy's own listener, the way the teacher's
// reverse proxy exposes /metrics alongside its backend traffic. Scrape
// requests are themselves logged through the same Logger every
// connection's span comes from, so a scraper hitting this endpoint
// shows up alongside worker activity in the same log stream.
func serveMetrics(m *metrics.Metrics, logger *logging.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", logger.HTTPRequestLogger()(m.Handler()))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server stopped: %v", err)
	}
}
