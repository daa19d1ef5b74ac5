package datastore

import (
	"fmt"
	"maps"

	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/store"
)

// Groups

func (d *Datastore) CreateGroup(g hue.Group) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return create(d, d.s.groups, g)
}

func (d *Datastore) Group(id string) (hue.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookup(d.s.groups, id)
}

func (d *Datastore) Groups() map[string]hue.Group {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.groups.all()
}

func (d *Datastore) UpdateGroup(id string, g hue.Group) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return update(d, d.s.groups, id, g)
}

func (d *Datastore) DeleteGroup(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return remove(d, d.s.groups, id)
}

// Scenes

// CreateScene stores sc under a new "S"-prefixed id.
func (d *Datastore) CreateScene(sc hue.Scene) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.s.scenes
	id := token("S")
	for c.has(id) {
		id = token("S")
	}
	sc.LastUpdated = hue.FormatTime(d.now())
	b := &batch{}
	b.put(c.bucket, id, sc)
	if err := d.apply(b); err != nil {
		return "", err
	}
	c.list[id] = sc.Clone()
	return id, nil
}

func (d *Datastore) Scene(id string) (hue.Scene, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookup(d.s.scenes, id)
}

func (d *Datastore) Scenes() map[string]hue.Scene {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.scenes.all()
}

// UpdateScene replaces the scene and refreshes its lastupdated timestamp.
func (d *Datastore) UpdateScene(id string, sc hue.Scene) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sc.LastUpdated = hue.FormatTime(d.now())
	return update(d, d.s.scenes, id, sc)
}

func (d *Datastore) DeleteScene(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return remove(d, d.s.scenes, id)
}

// Schedules

func (d *Datastore) CreateSchedule(sch hue.Schedule) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return create(d, d.s.schedules, sch)
}

func (d *Datastore) Schedule(id string) (hue.Schedule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookup(d.s.schedules, id)
}

func (d *Datastore) Schedules() map[string]hue.Schedule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.schedules.all()
}

func (d *Datastore) UpdateSchedule(id string, sch hue.Schedule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return update(d, d.s.schedules, id, sch)
}

func (d *Datastore) DeleteSchedule(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return remove(d, d.s.schedules, id)
}

// Rules

func (d *Datastore) CreateRule(r hue.Rule) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return create(d, d.s.rules, r)
}

func (d *Datastore) Rule(id string) (hue.Rule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookup(d.s.rules, id)
}

func (d *Datastore) Rules() map[string]hue.Rule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.rules.all()
}

// RuleIDs returns rule ids in numeric order.
func (d *Datastore) RuleIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.rules.ids()
}

func (d *Datastore) UpdateRule(id string, r hue.Rule) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return update(d, d.s.rules, id, r)
}

func (d *Datastore) DeleteRule(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return remove(d, d.s.rules, id)
}

// Resourcelinks

func (d *Datastore) CreateResourcelink(rl hue.Resourcelink) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return create(d, d.s.resourcelinks, rl)
}

func (d *Datastore) Resourcelink(id string) (hue.Resourcelink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookup(d.s.resourcelinks, id)
}

func (d *Datastore) Resourcelinks() map[string]hue.Resourcelink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.resourcelinks.all()
}

func (d *Datastore) UpdateResourcelink(id string, rl hue.Resourcelink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return update(d, d.s.resourcelinks, id, rl)
}

func (d *Datastore) DeleteResourcelink(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return remove(d, d.s.resourcelinks, id)
}

// Sensors

// CreateSensor stores s under the next free id and stamps state.lastupdated.
func (d *Datastore) CreateSensor(s hue.Sensor) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return create(d, d.s.sensors, d.stampSensor(s))
}

// RegisterSensor returns the sensor owned by clientID, creating it from s
// when the client has none.
func (d *Datastore) RegisterSensor(clientID string, s hue.Sensor) (id string, created bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.s
	if id, ok := st.sensorNodes[clientID]; ok && st.sensors.has(id) {
		return id, false, nil
	}

	s = d.stampSensor(s)
	s.UniqueID = clientID
	id = st.sensors.peekID()
	st.sensors.nextFree++
	nodes := maps.Clone(st.sensorNodes)
	nodes[clientID] = id

	b := &batch{}
	b.put(st.sensors.bucket, id, s)
	b.put(store.BucketMeta, keySensorNodes, nodes)
	b.put(store.BucketMeta, keyCounters, st.counters())
	if err := d.apply(b); err != nil {
		st.sensors.nextFree--
		return "", false, err
	}
	st.sensors.list[id] = s.Clone()
	st.sensorNodes = nodes
	return id, true, nil
}

// SensorID returns the sensor id registered for clientID.
func (d *Datastore) SensorID(clientID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.s.sensorNodes[clientID]
	return id, ok
}

func (d *Datastore) Sensor(id string) (hue.Sensor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookup(d.s.sensors, id)
}

func (d *Datastore) Sensors() map[string]hue.Sensor {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.sensors.all()
}

// UpdateSensor replaces the sensor and sets state.lastupdated to now.
func (d *Datastore) UpdateSensor(id string, s hue.Sensor) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return update(d, d.s.sensors, id, d.stampSensor(s))
}

// DeleteSensor removes a sensor. The daylight sensor cannot be removed.
func (d *Datastore) DeleteSensor(id string) error {
	if id == hue.DaylightSensorID {
		return fmt.Errorf("sensor %s: %w", id, ErrReserved)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return remove(d, d.s.sensors, id)
}

func (d *Datastore) stampSensor(s hue.Sensor) hue.Sensor {
	s = s.Clone()
	if s.State == nil {
		s.State = map[string]any{}
	}
	if s.Config == nil {
		s.Config = map[string]any{}
	}
	s.State["lastupdated"] = hue.FormatTime(d.now())
	return s
}
