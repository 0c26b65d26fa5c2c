package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DispatcherConfig controls buffering and per-publish timeouts.
type DispatcherConfig struct {
	BufferSize     int
	DropIfFull     bool
	PublishTimeout time.Duration
}

// Dispatcher asynchronously forwards events to a Publisher. A nil
// *Dispatcher discards everything.
type Dispatcher struct {
	cfg       DispatcherConfig
	publisher Publisher
	logger    *zap.Logger
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	failed    atomic.Uint64
	published atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine.
func NewDispatcher(cfg DispatcherConfig, publisher Publisher, logger *zap.Logger) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		ch:        make(chan Event, cfg.BufferSize),
		done:      make(chan struct{}),
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
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.PublishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, event); err != nil {
		d.failed.Add(1)
		d.logger.Warn("event publish failed",
			zap.String("event", event.Type),
			zap.String("event_id", event.ID),
			zap.String("tenant_id", event.TenantID),
			zap.Error(err))
		return
	}
	d.published.Add(1)
}

// Dispatch enqueues events. With DropIfFull a full buffer drops the event and
// counts it; otherwise Dispatch waits for room or ctx.
func (d *Dispatcher) Dispatch(ctx context.Context, events ...Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	for _, event := range events {
		if d.cfg.DropIfFull {
			select {
			case d.ch <- event:
			case <-d.done:
				return
			default:
				d.dropped.Add(1)
				d.logger.Debug("event dropped", zap.String("event", event.Type))
			}
			continue
		}

		select {
		case d.ch <- event:
		case <-ctx.Done():
			d.dropped.Add(1)
		case <-d.done:
			return
		}
	}
}

// Close stops accepting events and drains the buffer.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() (published, failed, dropped uint64) {
	if d == nil {
		return 0, 0, 0
	}
	return d.published.Load(), d.failed.Load(), d.dropped.Load()
}
