// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package security

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"

	"github.com/holomush/authgate/pkg/errutil"
)

// Dispatcher defaults.
const (
	DefaultBufferSize  = 256
	DefaultEmitTimeout = 5 * time.Second
)

// DispatcherConfig controls buffering.
type DispatcherConfig struct {
	BufferSize int

	// EmitTimeout bounds each call to the wrapped sink.
	EmitTimeout time.Duration

	Logger   *slog.Logger
	Registry prometheus.Registerer
}

// Dispatcher forwards events to a slow sink (database, network) on a single
// background goroutine so that incident handling never waits on I/O. When
// the buffer is full the event is dropped and counted.
//
// Dispatcher implements Sink. Close drains buffered events before returning.
type Dispatcher struct {
	sink        Sink
	emitTimeout time.Duration
	logger      *slog.Logger

	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	// mu orders Emit against Close: once Close holds the write lock no
	// send is in flight, so the drain in run sees every accepted event.
	mu     sync.RWMutex
	closed bool

	dropped       atomic.Uint64
	droppedMetric prometheus.Counter
}

// NewDispatcher starts a dispatcher in front of sink.
func NewDispatcher(cfg DispatcherConfig, sink Sink) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.EmitTimeout <= 0 {
		cfg.EmitTimeout = DefaultEmitTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if sink == nil {
		sink = NopSink{}
	}

	d := &Dispatcher{
		sink:        sink,
		emitTimeout: cfg.EmitTimeout,
		logger:      cfg.Logger,
		ch:          make(chan Event, cfg.BufferSize),
		done:        make(chan struct{}),
	}
	if cfg.Registry != nil {
		d.droppedMetric = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_audit_dropped_total",
			Help: "Total number of audit events dropped because the dispatch buffer was full",
		})
		cfg.Registry.MustRegister(d.droppedMetric)
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.forward(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.forward(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) forward(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.emitTimeout)
	defer cancel()

	if err := d.sink.Emit(ctx, event); err != nil {
		errutil.LogError(d.logger, "audit sink failed", oops.
			Code("AUDIT_EMIT_FAILED").
			With("event_id", event.ID.String()).
			With("kind", string(event.Kind)).
			Wrap(err))
	}
}

// Emit queues event without blocking. It returns an error when the event
// was dropped or the dispatcher is closed.
func (d *Dispatcher) Emit(_ context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return oops.Code("AUDIT_CLOSED").
			With("event_id", event.ID.String()).
			Errorf("audit dispatcher is closed")
	}

	select {
	case d.ch <- event:
		return nil
	default:
		d.dropped.Add(1)
		if d.droppedMetric != nil {
			d.droppedMetric.Inc()
		}
		return oops.Code("AUDIT_DROPPED").
			With("event_id", event.ID.String()).
			With("kind", string(event.Kind)).
			Errorf("audit buffer full")
	}
}

// Dropped returns the number of events dropped so far.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Close stops accepting events, flushes the buffer to the sink, and waits.
// It is safe to call more than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.done)
	}
	d.mu.Unlock()
	d.wg.Wait()
}
