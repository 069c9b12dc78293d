package protocol

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Handler receives the payload of a dispatched event.
//
// Handlers run on the reader loop goroutine; a slow handler delays further
// frame processing. Returned errors are logged per handler and never stop
// delivery to the remaining handlers.
type Handler func(payload json.RawMessage) error

// Subscription is the opaque handle returned by a registration and passed
// back to unregister it.
type Subscription struct {
	id    uint64
	topic string
	scope string
}

// Topic returns the event topic this subscription is registered for.
func (s Subscription) Topic() string { return s.topic }

// Scope returns the resource scope, or "" for a topic-wide subscription.
func (s Subscription) Scope() string { return s.scope }

// subEntry pairs a subscription handle with its handler.
type subEntry struct {
	sub     Subscription
	handler Handler
}

// registry maps (topic, optional scope) to ordered handler lists.
//
// Registration and removal happen from arbitrary caller goroutines while
// dispatch runs on the reader loop; all accesses take the lock and dispatch
// snapshots the matching entries before invoking anything.
type registry struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]*subEntry // per topic, in registration order
}

func newRegistry() *registry {
	return &registry{
		topics: make(map[string][]*subEntry, 10),
	}
}

// register adds a handler for topic, optionally narrowed to scope.
//
// Duplicate (topic, scope, handler) registrations are allowed and yield
// independent subscriptions. first reports whether this is the topic's first
// handler, which is the trigger for subscribing server-side.
func (r *registry) register(topic, scope string, handler Handler) (sub Subscription, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++

	sub = Subscription{id: r.nextID, topic: topic, scope: scope}
	entries := r.topics[topic]
	first = len(entries) == 0

	r.topics[topic] = append(entries, &subEntry{sub: sub, handler: handler})

	return sub, first
}

// unregister removes the subscription. last reports whether the topic now
// has no handlers left, the trigger for unsubscribing server-side.
func (r *registry) unregister(sub Subscription) (last, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.topics[sub.topic]

	for i, e := range entries {
		if e.sub.id != sub.id {
			continue
		}

		entries = append(entries[:i], entries[i+1:]...)

		if len(entries) == 0 {
			delete(r.topics, sub.topic)

			return true, true
		}

		r.topics[sub.topic] = entries

		return false, true
	}

	return false, false
}

// dispatch invokes every handler registered for topic whose scope matches.
//
// An unscoped registration matches every scope; a scoped one matches only its
// exact scope id. Handler errors and panics are logged per handler and never
// prevent delivery to the remaining handlers. Invocation order is
// registration order. Returns the number of handlers invoked; zero matching
// handlers is a no-op.
func (r *registry) dispatch(log *slog.Logger, topic, scope string, payload json.RawMessage) int {
	r.mu.RLock()

	entries := r.topics[topic]
	matched := make([]*subEntry, 0, len(entries))

	for _, e := range entries {
		if e.sub.scope == "" || e.sub.scope == scope {
			matched = append(matched, e)
		}
	}

	r.mu.RUnlock()

	for _, e := range matched {
		invoke(log, e, topic, scope, payload)
	}

	return len(matched)
}

// invoke runs one handler, isolating its failures from the reader loop.
func invoke(log *slog.Logger, e *subEntry, topic, scope string, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Event handler panicked",
				"topic", topic, "scope", scope, "panic", rec)
		}
	}()

	if err := e.handler(payload); err != nil {
		log.Warn("Event handler returned error",
			"topic", topic, "scope", scope, "error", err)
	}
}

// topicCount reports the number of handlers registered for topic.
func (r *registry) topicCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.topics[topic])
}
