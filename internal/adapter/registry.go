// Package adapter is where outer integrations attach lights, sensors, link
// buttons and management clients to the bridge.
package adapter

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

// Kind is the role a client registers for.
type Kind string

const (
	KindLight  Kind = "light"
	KindSensor Kind = "sensor"
	KindLink   Kind = "link"
	KindManage Kind = "manage"
)

// ParseKind accepts the kind names used on the wire.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindLight, KindSensor, KindLink, KindManage:
		return k, nil
	}
	return "", fmt.Errorf("unknown client kind %q", s)
}

var (
	ErrNotRegistered = errors.New("client not registered")
	ErrInvalidType   = errors.New("invalid device type")
)

// Registration describes a client. Type is a light type code such as
// "0x0210" for lights and a sensor type such as "CLIPPresence" for sensors.
type Registration struct {
	Type string
	Name string

	// OnLightChange receives state changes of the client's light.
	OnLightChange func(LightChange)
	// OnManage receives manage notifications.
	OnManage func(events.Event)
}

// LightChange is sent to a light client after its state changed. New holds
// only the changed keys its light type can render.
type LightChange struct {
	ID      string         `json:"id"`
	Current hue.LightState `json:"current"`
	New     map[string]any `json:"new"`
}

// LightInfo lists one registered light.
type LightInfo struct {
	ClientID string `json:"clientid"`
	Type     string `json:"type"`
	ID       string `json:"id"`
}

type clientKey struct {
	id   string
	kind Kind
}

type client struct {
	reg      Registration
	objectID string
	release  *time.Timer // pending link button release
}

// Registry tracks attached clients and routes bridge events to them.
type Registry struct {
	ds     *datastore.Datastore
	pub    events.Publisher
	logger *slog.Logger

	mu      sync.Mutex
	clients map[clientKey]*client
	unsubs  []func()
}

func NewRegistry(ds *datastore.Datastore, pub events.Publisher, logger *slog.Logger) *Registry {
	return &Registry{
		ds:      ds,
		pub:     pub,
		logger:  logger.With("component", "adapter"),
		clients: make(map[clientKey]*client),
	}
}

// Start subscribes to the events adapters are notified about.
func (r *Registry) Start(bus *events.Bus) {
	r.unsubs = append(r.unsubs,
		bus.On(events.LightStateChanged, r.lightStateChanged),
		bus.On(events.Manage, r.manage),
	)
}

// Stop unsubscribes and releases any pressed link button.
func (r *Registry) Stop() {
	for _, u := range r.unsubs {
		u()
	}
	r.unsubs = nil
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		r.releaseLink(c)
	}
}

// Register attaches a client. Light and sensor clients get the id of the
// resource they own, which is created on first registration and kept for
// every later one.
func (r *Registry) Register(clientID string, kind Kind, reg Registration) (string, error) {
	var id string
	switch kind {
	case KindLight:
		t, err := hue.ParseLightType(reg.Type)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidType, err)
		}
		name := reg.Name
		if name == "" {
			name = t.Name
		}
		lid, created, err := r.ds.CreateLight(clientID, name, t)
		if err != nil {
			return "", fmt.Errorf("register light %s: %w", clientID, err)
		}
		if created {
			r.pub.Publish(events.Event{Type: events.LightCreated, ID: lid})
		}
		id = lid
	case KindSensor:
		if reg.Type == "" {
			return "", fmt.Errorf("%w: sensor type required", ErrInvalidType)
		}
		s := hue.NewSensor()
		s.Type = reg.Type
		s.Name = reg.Name
		s.ModelID = reg.Type
		sid, created, err := r.ds.RegisterSensor(clientID, s)
		if err != nil {
			return "", fmt.Errorf("register sensor %s: %w", clientID, err)
		}
		if created {
			r.pub.Publish(events.Event{Type: events.SensorCreated, ID: sid})
		}
		id = sid
	case KindLink, KindManage:
	default:
		return "", fmt.Errorf("unknown client kind %q", kind)
	}

	r.mu.Lock()
	key := clientKey{clientID, kind}
	if old, ok := r.clients[key]; ok {
		r.releaseLink(old)
	}
	r.clients[key] = &client{reg: reg, objectID: id}
	r.mu.Unlock()

	r.logger.Info("client registered", "client", clientID, "kind", kind, "id", id)
	return id, nil
}

// Deregister detaches a client and leaves its resources in place.
func (r *Registry) Deregister(clientID string, kind Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := clientKey{clientID, kind}
	c, ok := r.clients[key]
	if !ok {
		return fmt.Errorf("%s %s: %w", kind, clientID, ErrNotRegistered)
	}
	r.releaseLink(c)
	delete(r.clients, key)
	r.logger.Info("client deregistered", "client", clientID, "kind", kind)
	return nil
}

// Remove detaches a client and deletes the light or sensor it owns. A
// removed light is pruned from every group, scene, schedule, rule and
// resourcelink.
func (r *Registry) Remove(clientID string, kind Kind) error {
	_ = r.Deregister(clientID, kind)

	switch kind {
	case KindLight:
		id, ok := r.ds.LightID(clientID)
		if !ok {
			return fmt.Errorf("light %s: %w", clientID, ErrNotRegistered)
		}
		if err := r.ds.DeleteLight(id); err != nil {
			return err
		}
		r.pub.Publish(events.Event{Type: events.LightDeleted, ID: id})
	case KindSensor:
		id, ok := r.ds.SensorID(clientID)
		if !ok {
			return fmt.Errorf("sensor %s: %w", clientID, ErrNotRegistered)
		}
		if err := r.ds.DeleteSensor(id); err != nil {
			return err
		}
		r.pub.Publish(events.Event{Type: events.SensorDeleted, ID: id})
	}
	r.logger.Info("client removed", "client", clientID, "kind", kind)
	return nil
}

// Press holds the link button down for d on behalf of a link client.
func (r *Registry) Press(clientID string, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[clientKey{clientID, KindLink}]
	if !ok {
		return fmt.Errorf("link %s: %w", clientID, ErrNotRegistered)
	}
	if err := r.ds.SetLinkButton(true); err != nil {
		return err
	}
	if c.release != nil {
		c.release.Stop()
	}
	c.release = time.AfterFunc(d, func() {
		if err := r.ds.SetLinkButton(false); err != nil {
			r.logger.Error("release link button", "err", err)
		}
	})
	r.logger.Info("link button pressed", "client", clientID, "duration", d)
	return nil
}

// releaseLink cancels a pending release of c's press and lets the button go
// immediately. Called with r.mu held.
func (r *Registry) releaseLink(c *client) {
	if c.release == nil {
		return
	}
	pending := c.release.Stop()
	c.release = nil
	if !pending {
		return
	}
	if err := r.ds.SetLinkButton(false); err != nil {
		r.logger.Error("release link button", "err", err)
	}
}

// SetSensorState merges state into the sensor owned by clientID and
// publishes one event per key.
func (r *Registry) SetSensorState(clientID string, state map[string]any) error {
	id, ok := r.ds.SensorID(clientID)
	if !ok {
		return fmt.Errorf("sensor %s: %w", clientID, ErrNotRegistered)
	}
	return r.UpdateSensorState(id, state)
}

// UpdateSensorState merges state into sensor id.
func (r *Registry) UpdateSensorState(id string, state map[string]any) error {
	s, err := r.ds.Sensor(id)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(state))
	for k, v := range state {
		if k == "lastupdated" {
			continue
		}
		s.State[k] = hue.CloneValue(v)
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := r.ds.UpdateSensor(id, s); err != nil {
		return err
	}
	for _, k := range keys {
		r.pub.Publish(events.Event{
			Type:    events.SensorStateModified,
			ID:      id,
			Address: "/sensors/" + id + "/state/" + k,
			Value:   state[k],
		})
	}
	return nil
}

func (r *Registry) lightStateChanged(ev events.Event) {
	l, err := r.ds.Light(ev.ID)
	if err != nil {
		return
	}
	change, _ := ev.Data.(map[string]any)
	t, ok := hue.LightTypeByName(l.Type)
	if !ok {
		r.logger.Warn("light of unknown type", "id", ev.ID, "type", l.Type)
		return
	}
	lc := LightChange{ID: ev.ID, Current: l.State, New: t.Filter(change)}

	for _, fn := range r.callbacks(KindLight, ev.ID) {
		fn(lc)
	}
}

func (r *Registry) callbacks(kind Kind, objectID string) []func(LightChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []func(LightChange)
	for key, c := range r.clients {
		if key.kind == kind && c.objectID == objectID && c.reg.OnLightChange != nil {
			out = append(out, c.reg.OnLightChange)
		}
	}
	return out
}

func (r *Registry) manage(ev events.Event) {
	r.mu.Lock()
	var fns []func(events.Event)
	for key, c := range r.clients {
		if key.kind == KindManage && c.reg.OnManage != nil {
			fns = append(fns, c.reg.OnManage)
		}
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
