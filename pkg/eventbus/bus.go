package eventbus

import (
	"context"
	"sync"

	"github.com/lynkbyte/go-evolution-client/pkg/evolution"
)

// Subscriber consumes one dispatched domain event.
type Subscriber func(ctx context.Context, event evolution.DomainEvent)

type task struct {
	event evolution.DomainEvent
	subs  []Subscriber
}

// Bus is an in-process, asynchronous fan-out of domain events to
// subscribers. Dispatch never blocks the webhook pipeline: events are
// enqueued onto a bounded queue served by a worker pool, and dropped with a
// log line when the queue is full.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string][]Subscriber
	all      []Subscriber
	queue    chan task
	logger   evolution.Logger
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	draining bool
}

func New(workers, queueSize int, logger evolution.Logger) *Bus {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	if logger == nil {
		logger = evolution.NopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		subs:   make(map[string][]Subscriber),
		queue:  make(chan task, queueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		bus.wg.Add(1)
		go bus.worker()
	}
	return bus
}

// Subscribe registers fn for events with the given name (for example
// "message.received").
func (b *Bus) Subscribe(eventName string, fn Subscriber) {
	b.mu.Lock()
	b.subs[eventName] = append(b.subs[eventName], fn)
	b.mu.Unlock()
}

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(fn Subscriber) {
	b.mu.Lock()
	b.all = append(b.all, fn)
	b.mu.Unlock()
}

// Dispatch implements evolution.Dispatcher. The read lock is held across
// the enqueue so Shutdown cannot close the queue under a send.
func (b *Bus) Dispatch(_ context.Context, event evolution.DomainEvent) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.draining {
		return nil
	}
	subs := append([]Subscriber(nil), b.subs[event.EventName()]...)
	subs = append(subs, b.all...)
	if len(subs) == 0 {
		return nil
	}

	select {
	case b.queue <- task{event: event, subs: subs}:
	default:
		b.logger.Warn("event bus queue full, dropping event", map[string]any{"event": event.EventName()})
	}
	return nil
}

func (b *Bus) worker() {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case t, ok := <-b.queue:
			if !ok {
				return
			}
			for _, fn := range t.subs {
				b.deliver(t.event, fn)
			}
		}
	}
}

func (b *Bus) deliver(event evolution.DomainEvent, fn Subscriber) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("event subscriber panicked", map[string]any{"event": event.EventName(), "panic": rec})
		}
	}()
	fn(b.ctx, event)
}

// Shutdown stops accepting events and waits for in-flight deliveries.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.draining {
		b.mu.Unlock()
		return
	}
	b.draining = true
	b.mu.Unlock()

	close(b.queue)
	b.wg.Wait()
	b.cancel()
}
