package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Options struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	return o
}

// Dispatcher queues events in a bounded buffer and delivers them from a
// small worker pool. Emit never blocks: when the buffer is full the event is
// dropped and logged.
type Dispatcher struct {
	transport Transport
	dedup     Deduper
	logger    *slog.Logger
	opts      Options

	queue chan Event
	done  chan struct{}
	wg    sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once

	dropped   atomic.Int64
	delivered atomic.Int64
}

func NewDispatcher(transport Transport, dedup Deduper, logger *slog.Logger, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	if dedup == nil {
		dedup = NewMemoryDeduper(24 * time.Hour)
	}
	return &Dispatcher{
		transport: transport,
		dedup:     dedup,
		logger:    logger,
		opts:      opts,
		queue:     make(chan Event, opts.QueueSize),
		done:      make(chan struct{}),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Close is
// called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.opts.Workers; i++ {
			d.wg.Add(1)
			go d.run(ctx)
		}
	})
}

// Close stops accepting events, delivers what is already queued and waits
// for the workers.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
	d.wg.Wait()
}

func (d *Dispatcher) Emit(_ context.Context, ev Event) {
	select {
	case <-d.done:
		d.drop(ev, "dispatcher closed")
		return
	default:
	}

	if ev.ID == "" {
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = time.Now().UTC()
		}
		ev.ID = EventID(ev.Kind, ev.SubjectID, ev.OccurredAt)
	}

	select {
	case d.queue <- ev:
	default:
		d.drop(ev, "queue full")
	}
}

// Dropped is the number of events discarded because the queue was full or
// closed.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) Delivered() int64 {
	return d.delivered.Load()
}

func (d *Dispatcher) drop(ev Event, reason string) {
	d.dropped.Add(1)
	d.logger.Warn("notification dropped", "event_id", ev.ID, "kind", ev.Kind, "reason", reason)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		case <-d.done:
			d.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	log := d.logger.With("event_id", ev.ID, "kind", ev.Kind, "tenant_id", ev.TenantID)

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.opts.SendTimeout)
	defer cancel()

	claimed, err := d.dedup.Claim(sendCtx, ev.ID)
	if err != nil {
		// Without a dedup answer, sending is still preferable to losing
		// the event; downstream delivery is keyed by event id as well.
		log.Warn("notification dedup unavailable", "error", err)
		claimed = true
	}
	if !claimed {
		log.Debug("notification already delivered")
		return
	}

	if err := d.transport.Send(sendCtx, ev); err != nil {
		log.Warn("notification delivery failed", "error", err)
		if relErr := d.dedup.Release(sendCtx, ev.ID); relErr != nil {
			log.Warn("releasing notification claim failed", "error", relErr)
		}
		return
	}

	d.delivered.Add(1)
	log.Debug("notification delivered", "recipients", len(ev.Recipients))
}
