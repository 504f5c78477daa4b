// Package pubsub is a small typed publish/subscribe broker. The node publishes its lifecycle events on it, anything
// interested (the command line, tests, monitoring) subscribes with a channel of the payload type it expects.
package pubsub

import (
	"log"
	"sync"
	"sync/atomic"
)

// EventType is the type of event subscribers are listening for.
type EventType int

// SubscriptionOptions configures the behavior of a subscription.
type SubscriptionOptions struct {
	// If true, the broker blocks until the subscriber's channel accepts the event. This guarantees delivery but a
	// slow subscriber stalls every other one, so it should generally be false.
	IsBlocking bool
}

// SubscriberID identifies a single subscription and is required to unsubscribe.
type SubscriberID uint64

// Event is a published event together with its payload.
type Event[T any] struct {
	Type    EventType
	Payload T
}

func NewEvent[T any](eventType EventType, payload T) *Event[T] {
	return &Event[T]{Type: eventType, Payload: payload}
}

// subscriber is the type-erased view of a typed subscription. Channels of different Event[T] cannot share a map, so
// the registry stores closures over the typed channel instead.
type subscriber struct {
	send  func(eventType EventType, payload any) bool
	close func()

	options SubscriptionOptions
	dropped atomic.Uint64
}

type published struct {
	eventType EventType
	payload   any
}

// Broker fans published events out to subscribers from a single goroutine. It is safe for concurrent use.
type Broker struct {
	mu     sync.RWMutex
	wg     sync.WaitGroup
	nextID atomic.Uint64

	registry map[EventType]map[SubscriberID]*subscriber
	// publishChan decouples Publish from the fan-out and lets in-flight events drain on shutdown.
	publishChan  chan published
	shuttingDown atomic.Bool
	logger       *log.Logger

	// overflow counts events Publish dropped because publishChan was full.
	overflow atomic.Uint64
}

// NewBroker starts a broker that buffers up to buffer published events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 100
	}
	b := &Broker{
		registry:    make(map[EventType]map[SubscriberID]*subscriber),
		publishChan: make(chan published, buffer),
		logger:      log.Default(),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers ch for events of eventType. The caller owns the channel and picks its buffer; it is closed
// when the subscription ends. Events whose payload is not a T are not delivered.
//
// Go methods cannot declare type parameters, so this is a free function taking the broker first, like
// slices.Sort.
func Subscribe[T any](b *Broker, eventType EventType, ch chan *Event[T], opts SubscriptionOptions) SubscriberID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := SubscriberID(b.nextID.Add(1))
	sub := &subscriber{
		options: opts,
		send: func(evType EventType, payload any) bool {
			typed, ok := payload.(T)
			if !ok {
				b.logger.Printf("[PUBSUB] Type mismatch for event %v: expected %T, got %T", evType, *new(T), payload)
				return false
			}
			event := &Event[T]{Type: evType, Payload: typed}
			if opts.IsBlocking {
				ch <- event
				return true
			}
			select {
			case ch <- event:
				return true
			default:
				// The subscriber is not keeping up.
				return false
			}
		},
		close: func() { close(ch) },
	}

	if _, ok := b.registry[eventType]; !ok {
		b.registry[eventType] = make(map[SubscriberID]*subscriber)
	}
	b.registry[eventType][id] = sub
	return id
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broker) Unsubscribe(eventType EventType, id SubscriberID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subscribers, ok := b.registry[eventType]
	if !ok {
		return
	}
	if sub, ok := subscribers[id]; ok {
		delete(subscribers, id)
		sub.close()
		if len(subscribers) == 0 {
			delete(b.registry, eventType)
		}
	}
}

// Publish queues an event for every subscriber of its type and never blocks. Events published after shutdown, or
// while the broker's buffer is full, are dropped; see Overflow.
func Publish[T any](b *Broker, event *Event[T]) {
	// Holding the read lock keeps a concurrent shutdown from closing publishChan between the check and the send.
	// The send must not block under it: a waiting writer would keep run from taking the read lock to drain.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.shuttingDown.Load() {
		return
	}
	select {
	case b.publishChan <- published{eventType: event.Type, payload: event.Payload}:
	default:
		if b.overflow.Add(1) == 1 {
			b.logger.Printf("[PUBSUB] Buffer full, dropping event %v", event.Type)
		}
	}
}

// Overflow returns how many events Publish dropped because the broker's buffer was full.
func (b *Broker) Overflow() uint64 {
	return b.overflow.Load()
}

// Dropped returns how many events a non-blocking subscriber missed because its channel was full.
func (b *Broker) Dropped(eventType EventType, id SubscriberID) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.registry[eventType][id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// GracefulShutdown rejects new events, delivers the buffered ones and waits for the broker goroutine to exit. It
// is idempotent.
func (b *Broker) GracefulShutdown() {
	b.mu.Lock()
	if b.shuttingDown.Load() {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.shuttingDown.Store(true)
	close(b.publishChan)
	// Unlock before waiting, run needs the read lock to drain.
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Broker) run() {
	defer b.wg.Done()

	for msg := range b.publishChan {
		b.mu.RLock()
		for _, sub := range b.registry[msg.eventType] {
			if !sub.send(msg.eventType, msg.payload) && !sub.options.IsBlocking {
				sub.dropped.Add(1)
			}
		}
		b.mu.RUnlock()
	}
}
