// Package events carries resource change notifications from the datastore
// and the API layer to the automation engines and outer integrations.
package events

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Event types
const (
	LightCreated      = "light-created"
	LightModified     = "light-modified"
	LightStateChanged = "light-state-modified"
	LightDeleted      = "light-deleted"

	GroupCreated  = "group-created"
	GroupModified = "group-modified"
	GroupDeleted  = "group-deleted"

	SceneCreated  = "scene-created"
	SceneModified = "scene-modified"
	SceneDeleted  = "scene-deleted"

	ScheduleCreated  = "schedule-created"
	ScheduleModified = "schedule-modified"
	ScheduleDeleted  = "schedule-deleted"

	SensorCreated        = "sensor-created"
	SensorModified       = "sensor-modified"
	SensorConfigModified = "sensor-config-modified"
	SensorStateModified  = "sensor-state-modified"
	SensorDeleted        = "sensor-deleted"

	RuleCreated  = "rule-created"
	RuleModified = "rule-modified"
	RuleDeleted  = "rule-deleted"

	ResourcelinkCreated  = "resourcelink-created"
	ResourcelinkModified = "resourcelink-modified"
	ResourcelinkDeleted  = "resourcelink-deleted"

	ConfigModified    = "config-modified"
	LinkButton        = "linkbutton"
	UserCreated       = "user-created"
	UserDeleted       = "user-deleted"
	Manage            = "manage"
	DatastoreReloaded = "datastore-reloaded"
)

// Event is a single notification. ID names the affected resource; Address
// and Value are set for attribute-level changes such as sensor state keys.
type Event struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Address string `json:"address,omitempty"`
	Value   any    `json:"value,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Resource returns the API collection an event type concerns, such as
// "lights" for light-state-modified. Whitelist and link button events
// belong to "config"; manage and reload events to "bridge".
func Resource(eventType string) string {
	switch eventType {
	case ConfigModified, LinkButton, UserCreated, UserDeleted:
		return "config"
	case Manage, DatastoreReloaded:
		return "bridge"
	}
	kind, _, _ := strings.Cut(eventType, "-")
	return kind + "s"
}

// Handler is a callback for events.
type Handler func(Event)

// Publisher is the sending half of the bus.
type Publisher interface {
	Publish(Event)
}

type subscription struct {
	id      uint64
	typ     string // empty = all events
	handler Handler
}

// Bus delivers events asynchronously, in publish order, on a single
// goroutine. Publish never blocks on handlers, so it is safe to call while
// holding locks that handlers may also take.
type Bus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	busy   bool
	closed bool
	subs   map[uint64]subscription
	nextID uint64
	done   chan struct{}
	logger *slog.Logger
}

// NewBus creates a bus and starts its delivery goroutine.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		subs:   make(map[uint64]subscription),
		done:   make(chan struct{}),
		logger: logger,
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// On registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) On(eventType string, handler Handler) func() {
	return b.subscribe(eventType, handler)
}

// OnAll registers a handler that receives all events.
// Returns an unsubscribe function.
func (b *Bus) OnAll(handler Handler) func() {
	return b.subscribe("", handler)
}

func (b *Bus) subscribe(eventType string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{id: id, typ: eventType, handler: handler}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish enqueues an event. Events published after Close are dropped.
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue = append(b.queue, event)
	b.cond.Broadcast()
}

// Flush blocks until every queued event, including those published by
// handlers while flushing, has been delivered. Must not be called from a
// handler.
func (b *Bus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) > 0 || b.busy {
		b.cond.Wait()
	}
}

// Close delivers what is already queued and stops the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.mu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue = b.queue[1:]
		b.busy = true
		handlers := b.matching(event.Type)
		b.mu.Unlock()

		for _, h := range handlers {
			b.deliver(h, event)
		}

		b.mu.Lock()
		b.busy = false
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// matching returns handlers in subscription order. Caller holds b.mu.
func (b *Bus) matching(eventType string) []Handler {
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.typ == "" || s.typ == eventType {
			subs = append(subs, s)
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].id < subs[j].id })
	handlers := make([]Handler, len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}
	return handlers
}

func (b *Bus) deliver(h Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panic", "type", event.Type, "panic", r)
		}
	}()
	h(event)
}
