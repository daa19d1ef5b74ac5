// Package datastore owns every bridge resource collection, allocates ids and
// keeps the persisted copy in the store in step with memory.
package datastore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/store"
)

var (
	// ErrNotFound is returned when the requested resource id does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidImport is returned when an import document lacks a required
	// top-level key or cannot be decoded. Nothing is changed in that case.
	ErrInvalidImport = errors.New("invalid import document")
	// ErrReserved is returned when deleting the built-in daylight sensor.
	ErrReserved = errors.New("resource is reserved")
)

// Meta bucket keys.
const (
	keyConfig       = "config"
	keyCounters     = "counters"
	keyLightNodes   = "lightnodes"
	keyLightClients = "lightclients"
	keySensorNodes  = "sensornodes"
)

type counters struct {
	Lights        int `json:"lights"`
	Groups        int `json:"groups"`
	Schedules     int `json:"schedules"`
	Sensors       int `json:"sensors"`
	Rules         int `json:"rules"`
	Resourcelinks int `json:"resourcelinks"`
}

// state is everything that is persisted. Import and ClearConfiguration build
// a fresh state and swap it in after the store has committed it.
type state struct {
	config        hue.Config
	lights        *collection[hue.Light]
	lightNodes    map[string]string // client id -> light id
	lightClients  map[string]string // light id -> client id
	groups        *collection[hue.Group]
	scenes        *collection[hue.Scene]
	schedules     *collection[hue.Schedule]
	sensors       *collection[hue.Sensor]
	sensorNodes   map[string]string // client id -> sensor id
	rules         *collection[hue.Rule]
	resourcelinks *collection[hue.Resourcelink]
}

func newState(name string) *state {
	return &state{
		config:        hue.DefaultConfig(name),
		lights:        newCollection[hue.Light](store.BucketLights),
		lightNodes:    map[string]string{},
		lightClients:  map[string]string{},
		groups:        newCollection[hue.Group](store.BucketGroups),
		scenes:        newCollection[hue.Scene](store.BucketScenes),
		schedules:     newCollection[hue.Schedule](store.BucketSchedules),
		sensors:       newCollection[hue.Sensor](store.BucketSensors),
		sensorNodes:   map[string]string{},
		rules:         newCollection[hue.Rule](store.BucketRules),
		resourcelinks: newCollection[hue.Resourcelink](store.BucketResourcelinks),
	}
}

// persisted is the part of a collection that snapshots need.
type persisted interface {
	name() string
	load(map[string][]byte) error
	entries() (map[string][]byte, error)
}

func (s *state) collections() []persisted {
	return []persisted{s.lights, s.groups, s.scenes, s.schedules, s.sensors, s.rules, s.resourcelinks}
}

func (s *state) counters() counters {
	return counters{
		Lights:        s.lights.nextFree,
		Groups:        s.groups.nextFree,
		Schedules:     s.schedules.nextFree,
		Sensors:       s.sensors.nextFree,
		Rules:         s.rules.nextFree,
		Resourcelinks: s.resourcelinks.nextFree,
	}
}

// Network is the interface information the bridge advertises.
type Network struct {
	Address string
	Netmask string
	Gateway string
	MAC     string
	Port    int
}

// BridgeID derives the 16 character bridge id from the MAC address by
// inserting FFFE between its two halves.
func (n Network) BridgeID() string {
	hex := strings.ReplaceAll(n.MAC, ":", "")
	if len(hex) != 12 {
		return ""
	}
	return strings.ToUpper(hex[:6] + "FFFE" + hex[6:])
}

// Option configures a Datastore.
type Option func(*Datastore)

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Datastore) { d.now = now }
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Datastore) { d.logger = logger }
}

// WithPublisher sets where link button, reload and cascade notifications go.
func WithPublisher(p events.Publisher) Option {
	return func(d *Datastore) { d.pub = p }
}

// WithName sets the bridge name used for a factory-new configuration.
func WithName(name string) Option {
	return func(d *Datastore) { d.name = name }
}

// Datastore is safe for concurrent use.
type Datastore struct {
	mu      sync.Mutex
	st      store.Store
	s       *state
	network Network
	name    string
	now     func() time.Time
	logger  *slog.Logger
	pub     events.Publisher
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.Event) {}

// New loads the datastore from st, creating the factory-new configuration
// and the daylight sensor when they are missing.
func New(st store.Store, opts ...Option) (*Datastore, error) {
	d := &Datastore{
		st:     st,
		name:   "Go Hue Bridge",
		now:    time.Now,
		logger: slog.Default(),
		pub:    nopPublisher{},
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = d.logger.With("component", "datastore")

	s, err := d.load()
	if err != nil {
		return nil, err
	}
	d.s = s
	if err := d.ensureDaylight(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Datastore) load() (*state, error) {
	s := newState(d.name)

	for _, c := range s.collections() {
		bucket := c.name()
		raw, err := d.st.Load(bucket)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", bucket, err)
		}
		if err := c.load(raw); err != nil {
			return nil, err
		}
	}

	fresh := false
	if err := d.loadMeta(keyConfig, &s.config); errors.Is(err, store.ErrNotFound) {
		fresh = true
	} else if err != nil {
		return nil, err
	}
	var cnt counters
	if err := d.loadMeta(keyCounters, &cnt); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	for _, m := range []struct {
		key string
		dst *map[string]string
	}{
		{keyLightNodes, &s.lightNodes},
		{keyLightClients, &s.lightClients},
		{keySensorNodes, &s.sensorNodes},
	} {
		if err := d.loadMeta(m.key, m.dst); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if *m.dst == nil {
			*m.dst = map[string]string{}
		}
	}
	if s.config.Whitelist == nil {
		s.config.Whitelist = map[string]hue.WhitelistEntry{}
	}
	s.lights.nextFree = max(cnt.Lights, s.lights.nextFree)
	s.groups.nextFree = max(cnt.Groups, s.groups.nextFree)
	s.schedules.nextFree = max(cnt.Schedules, s.schedules.nextFree)
	s.sensors.nextFree = max(cnt.Sensors, s.sensors.nextFree)
	s.rules.nextFree = max(cnt.Rules, s.rules.nextFree)
	s.resourcelinks.nextFree = max(cnt.Resourcelinks, s.resourcelinks.nextFree)

	if fresh {
		d.logger.Info("initializing new datastore", "name", s.config.Name)
		b := &batch{}
		b.put(store.BucketMeta, keyConfig, s.config)
		b.put(store.BucketMeta, keyCounters, s.counters())
		if err := d.apply(b); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (d *Datastore) loadMeta(key string, dst any) error {
	data, err := d.st.Get(store.BucketMeta, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode meta/%s: %w", key, err)
	}
	return nil
}

// ensureDaylight creates the daylight sensor under its reserved id.
func (d *Datastore) ensureDaylight() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := &batch{}
	stampDaylight(d.s, d.now(), b)
	return d.apply(b)
}

func stampDaylight(s *state, now time.Time, b *batch) {
	if s.sensors.has(hue.DaylightSensorID) {
		return
	}
	sensor := hue.NewDaylightSensor()
	sensor.State["lastupdated"] = hue.FormatTime(now)
	s.sensors.list[hue.DaylightSensorID] = sensor
	s.sensors.nextFree = max(s.sensors.nextFree, 2)
	b.put(store.BucketSensors, hue.DaylightSensorID, sensor)
	b.put(store.BucketMeta, keyCounters, s.counters())
}

// SetNetwork records the advertised interface.
func (d *Datastore) SetNetwork(n Network) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.network = n
}

func (d *Datastore) Network() Network {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.network
}

// Now returns the datastore clock.
func (d *Datastore) Now() time.Time {
	return d.now()
}

// batch collects store writes; the first encoding error sticks.
type batch struct {
	ops []store.Op
	err error
}

func (b *batch) put(bucket, key string, v any) {
	if b.err != nil {
		return
	}
	op, err := store.Put(bucket, key, v)
	if err != nil {
		b.err = err
		return
	}
	b.ops = append(b.ops, op)
}

func (b *batch) del(bucket, key string) {
	b.ops = append(b.ops, store.Del(bucket, key))
}

func (d *Datastore) apply(b *batch) error {
	if b.err != nil {
		return b.err
	}
	if err := d.st.Apply(b.ops...); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// create persists v under the next free id of c. Caller holds d.mu.
func create[T cloner[T]](d *Datastore, c *collection[T], v T) (string, error) {
	id := c.peekID()
	c.nextFree++
	b := &batch{}
	b.put(c.bucket, id, v)
	b.put(store.BucketMeta, keyCounters, d.s.counters())
	if err := d.apply(b); err != nil {
		c.nextFree--
		return "", err
	}
	c.list[id] = v.Clone()
	return id, nil
}

// update replaces the record with id wholesale. Caller holds d.mu.
func update[T cloner[T]](d *Datastore, c *collection[T], id string, v T) error {
	if !c.has(id) {
		return fmt.Errorf("%s %s: %w", c.bucket, id, ErrNotFound)
	}
	b := &batch{}
	b.put(c.bucket, id, v)
	if err := d.apply(b); err != nil {
		return err
	}
	c.list[id] = v.Clone()
	return nil
}

// remove deletes the record with id. Caller holds d.mu.
func remove[T cloner[T]](d *Datastore, c *collection[T], id string) error {
	if !c.has(id) {
		return fmt.Errorf("%s %s: %w", c.bucket, id, ErrNotFound)
	}
	b := &batch{}
	b.del(c.bucket, id)
	if err := d.apply(b); err != nil {
		return err
	}
	delete(c.list, id)
	return nil
}

func lookup[T cloner[T]](c *collection[T], id string) (T, error) {
	v, ok := c.get(id)
	if !ok {
		return v, fmt.Errorf("%s %s: %w", c.bucket, id, ErrNotFound)
	}
	return v, nil
}

// token returns prefix followed by 24 hex characters.
func token(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
