// Package dispatcher runs the proxy's accept loop: it owns the
// listening socket, spawns one worker per accepted connection, and
// tracks the live-worker count and a wrapping worker id used only for
// log correlation.
package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/mendesjr/fproxy/internal/cache"
	"github.com/mendesjr/fproxy/internal/logging"
	"github.com/mendesjr/fproxy/internal/metrics"
	"github.com/mendesjr/fproxy/internal/originpool"
	"github.com/mendesjr/fproxy/internal/worker"
)

// Dispatcher accepts connections on a listener and hands each one to a
// new Worker, sharing one Cache and one origin Registry across all of
// them.
type Dispatcher struct {
	listener net.Listener
	cache    *cache.Cache
	origins  *originpool.Registry
	log      *logging.Logger
	metrics  *metrics.Metrics

	maxWorkerID int

	mu        sync.Mutex
	nextID    int
	liveCount int
}

// New builds a Dispatcher serving ln. maxWorkerID bounds the wrapping
// worker-id counter; it carries no semantic meaning beyond log
// correlation, so any positive value is accepted.
func New(ln net.Listener, c *cache.Cache, origins *originpool.Registry, log *logging.Logger, m *metrics.Metrics, maxWorkerID int) *Dispatcher {
	if maxWorkerID <= 0 {
		maxWorkerID = 100
	}
	return &Dispatcher{
		listener:    ln,
		cache:       c,
		origins:     origins,
		log:         log,
		metrics:     m,
		maxWorkerID: maxWorkerID,
	}
}

// Run loops accepting connections until ctx is canceled or the
// listener is closed. Accept errors are logged and do not stop the
// loop; the only way Run returns is ctx cancellation or a listener
// that refuses to accept again (e.g. because it was closed).
func (d *Dispatcher) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		d.listener.Close()
	}()

	for {
		conn, err := d.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if d.log != nil {
				d.log.Error(ctx, "accept failed", err)
			}
			continue
		}

		id := d.nextWorkerID()
		d.incrementLive()
		if d.log != nil {
			d.log.Info(ctx, "connection accepted",
				slog.Int("worker_id", id),
				slog.Int("live_workers", d.LiveCount()),
			)
		}
		if d.metrics != nil {
			d.metrics.IncrementConnections()
		}

		go func() {
			defer d.decrementLive()
			defer func() {
				if d.metrics != nil {
					d.metrics.DecrementConnections()
				}
			}()
			w := worker.New(id, d.cache, d.origins, d.log, d.metrics)
			w.Serve(ctx, conn)
			if d.log != nil {
				d.log.Info(ctx, "connection closed",
					slog.Int("worker_id", id),
					slog.Int("live_workers", d.LiveCount()-1),
				)
			}
		}()
	}
}

// LiveCount returns the current number of workers in flight.
func (d *Dispatcher) LiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveCount
}

func (d *Dispatcher) nextWorkerID() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	if d.nextID > d.maxWorkerID {
		d.nextID = 1
	}
	return d.nextID
}

func (d *Dispatcher) incrementLive() {
	d.mu.Lock()
	d.liveCount++
	d.mu.Unlock()
}

func (d *Dispatcher) decrementLive() {
	d.mu.Lock()
	d.liveCount--
	d.mu.Unlock()
}
