package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Handler processes events on the bus.
type Handler interface {
	// ID returns a unique identifier for this handler, used in logs.
	ID() string

	// Handles returns the event types this handler processes.
	Handles() []EventType

	// Handle processes a single event. Returning an error logs a warning
	// but never affects delivery to other handlers.
	Handle(ctx context.Context, event *Event) error
}

// Publisher is the subset of Bus that processors use to re-inject synthetic
// events.
type Publisher interface {
	Publish(event *Event)
	PublishAfter(event *Event, delay time.Duration)
}

const instrumentationScope = "github.com/groombot/groom/internal/eventbus"

// Bus delivers every published event to every subscribed handler whose
// Handles set contains the event type. Each subscriber drains its own
// mailbox on its own goroutine, so ordering holds per subscriber while
// subscribers never block each other or the publisher.
type Bus struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *slog.Logger

	published    metric.Int64Counter
	handlerFails metric.Int64Counter
}

// New creates a new event bus. Close releases its subscriber goroutines.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	meter := otel.Meter(instrumentationScope)
	published, _ := meter.Int64Counter("groom.events.published",
		metric.WithDescription("Events published on the bus"))
	handlerFails, _ := meter.Int64Counter("groom.events.handler_errors",
		metric.WithDescription("Handler invocations that returned an error"))

	return &Bus{
		ctx:          ctx,
		cancel:       cancel,
		log:          log.With("component", "eventbus"),
		published:    published,
		handlerFails: handlerFails,
	}
}

// subscriber owns one handler's mailbox and delivery goroutine.
type subscriber struct {
	handler Handler
	types   map[EventType]bool

	mu    sync.Mutex
	queue []*Event
	wake  chan struct{}
}

// Subscribe registers a handler and starts its delivery goroutine. Events
// published before Subscribe are not replayed.
func (b *Bus) Subscribe(h Handler) {
	sub := &subscriber{
		handler: h,
		types:   make(map[EventType]bool, len(h.Handles())),
		wake:    make(chan struct{}, 1),
	}
	for _, t := range h.Handles() {
		sub.types[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go b.deliver(sub)
}

// Publish fans the event out to all matching subscribers in publication
// order. It never blocks on handler execution.
func (b *Bus) Publish(event *Event) {
	if event == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.log.Warn("dropping event published after close", "type", event.Type)
		return
	}
	subs := b.subs
	b.mu.Unlock()

	b.published.Add(b.ctx, 1, metric.WithAttributes(attribute.String("type", string(event.Type))))

	for _, sub := range subs {
		if !sub.types[event.Type] {
			continue
		}
		sub.mu.Lock()
		sub.queue = append(sub.queue, event)
		sub.mu.Unlock()
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}

// PublishAfter publishes the event once the delay elapses. Scheduled events
// cannot be cancelled; consumers re-validate their trigger condition on
// delivery instead.
func (b *Bus) PublishAfter(event *Event, delay time.Duration) {
	if delay <= 0 {
		b.Publish(event)
		return
	}
	time.AfterFunc(delay, func() { b.Publish(event) })
}

// Close stops delivery. Events already queued are drained before the
// subscriber goroutines exit.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
}

// deliver drains one subscriber's mailbox until the bus closes.
func (b *Bus) deliver(sub *subscriber) {
	defer b.wg.Done()
	for {
		sub.mu.Lock()
		queue := sub.queue
		sub.queue = nil
		sub.mu.Unlock()

		for _, event := range queue {
			b.handle(sub.handler, event)
		}

		select {
		case <-sub.wake:
		case <-b.ctx.Done():
			// Final drain so Close does not lose queued events.
			sub.mu.Lock()
			queue = sub.queue
			sub.queue = nil
			sub.mu.Unlock()
			for _, event := range queue {
				b.handle(sub.handler, event)
			}
			return
		}
	}
}

// handle invokes one handler, isolating its failures from the rest of the
// bus: errors are logged, panics are recovered.
func (b *Bus) handle(h Handler, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.handlerFails.Add(b.ctx, 1, metric.WithAttributes(attribute.String("handler", h.ID())))
			b.log.Error("handler panicked", "handler", h.ID(), "type", event.Type, "panic", r)
		}
	}()

	if err := h.Handle(context.Background(), event); err != nil {
		b.handlerFails.Add(b.ctx, 1, metric.WithAttributes(attribute.String("handler", h.ID())))
		b.log.Warn("handler error", "handler", h.ID(), "type", event.Type, "err", err)
	}
}
