// Package eventbus fans out domain events (flow recorded, intercept
// pending, attack progress, spider progress, scan issue found) to any
// number of subscribers without letting a slow subscriber block the
// publisher.
//
// The design mirrors the teacher's dashboard wsHub: a single goroutine
// owns the subscriber set and mutates it only in response to messages
// on its own channels, so no mutex guards the subscriber map itself.
// Delivery to each subscriber is a bounded, non-blocking send; a
// subscriber that falls behind has its oldest buffered event dropped
// rather than stalling every other subscriber.
package eventbus

import (
	"log/slog"

	"github.com/webintercept/proxycore/internal/metrics"
)

// Event is one published occurrence. Topic groups related events (e.g.
// "flow", "intercept", "intruder", "spider", "scan") so subscribers can
// filter without the bus understanding payload shapes.
type Event struct {
	Topic   string
	Payload any
}

// Subscription is a bus-owned handle for one subscriber. Read from C
// until Close is called or the bus shuts down (C is closed in that
// case).
type Subscription struct {
	id     uint64
	topics map[string]struct{} // empty set = all topics
	c      chan Event
	bus    *Bus
}

// C returns the channel events are delivered on.
func (s *Subscription) C() <-chan Event { return s.c }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.unregister(s)
}

const defaultQueueSize = 64

type registration struct {
	sub *Subscription
}

// Bus is a topic fan-out event bus.
type Bus struct {
	queueSize int

	registerCh   chan registration
	unregisterCh chan *Subscription
	publishCh    chan Event
	done         chan struct{}

	nextID uint64
	subs   map[uint64]*Subscription

	// dropped counts events dropped because a subscriber's queue was
	// full, exposed for internal/metrics.
	dropped uint64
}

// New starts a Bus with its single owning goroutine running.
func New() *Bus {
	b := &Bus{
		queueSize:    defaultQueueSize,
		registerCh:   make(chan registration),
		unregisterCh: make(chan *Subscription),
		publishCh:    make(chan Event, 256),
		done:         make(chan struct{}),
		subs:         make(map[uint64]*Subscription),
	}
	go b.run()
	return b
}

// Subscribe registers a new subscriber. If topics is empty, the
// subscriber receives every event regardless of topic.
func (b *Bus) Subscribe(topics ...string) *Subscription {
	topicSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		topicSet[t] = struct{}{}
	}
	sub := &Subscription{
		topics: topicSet,
		c:      make(chan Event, b.queueSize),
		bus:    b,
	}
	select {
	case b.registerCh <- registration{sub: sub}:
	case <-b.done:
	}
	return sub
}

func (b *Bus) unregister(sub *Subscription) {
	select {
	case b.unregisterCh <- sub:
	case <-b.done:
	}
}

// Publish sends an event to every matching subscriber. Never blocks the
// caller for longer than it takes to enqueue onto the bus's own
// internal channel; per-subscriber delivery backpressure is handled
// inside run().
func (b *Bus) Publish(topic string, payload any) {
	select {
	case b.publishCh <- Event{Topic: topic, Payload: payload}:
	case <-b.done:
	default:
		// Internal publish channel is full — the owning goroutine is
		// behind. Drop rather than block the publisher.
		slog.Warn("eventbus publish channel full, dropping event", "topic", topic)
	}
}

// DroppedCount returns how many subscriber deliveries have been dropped
// due to a full per-subscriber queue, for metrics export.
func (b *Bus) DroppedCount() uint64 {
	return b.dropped
}

// Close stops the bus and closes every subscriber channel.
func (b *Bus) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}

func (b *Bus) run() {
	for {
		select {
		case reg := <-b.registerCh:
			b.nextID++
			reg.sub.id = b.nextID
			b.subs[reg.sub.id] = reg.sub

		case sub := <-b.unregisterCh:
			if _, ok := b.subs[sub.id]; ok {
				delete(b.subs, sub.id)
				close(sub.c)
			}

		case ev := <-b.publishCh:
			metrics.ObserveEventBusPublish(ev.Topic)
			for _, sub := range b.subs {
				if len(sub.topics) > 0 {
					if _, ok := sub.topics[ev.Topic]; !ok {
						continue
					}
				}
				select {
				case sub.c <- ev:
				default:
					// Subscriber is behind: drop the oldest queued event
					// to make room rather than block the bus goroutine.
					select {
					case <-sub.c:
					default:
					}
					select {
					case sub.c <- ev:
					default:
					}
					b.dropped++
					metrics.ObserveEventBusDrop(ev.Topic)
				}
			}

		case <-b.done:
			for id, sub := range b.subs {
				delete(b.subs, id)
				close(sub.c)
			}
			return
		}
	}
}
