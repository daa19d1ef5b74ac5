package datastore

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/store"
)

// Document is the complete exported datastore.
type Document struct {
	Config        hue.Config                     `json:"config"`
	Lights        LightsDocument                 `json:"lights"`
	Groups        ListDocument[hue.Group]        `json:"groups"`
	Schedules     ListDocument[hue.Schedule]     `json:"schedules"`
	Scenes        ScenesDocument                 `json:"scenes"`
	Sensors       SensorsDocument                `json:"sensors"`
	Rules         ListDocument[hue.Rule]         `json:"rules"`
	Resourcelinks ListDocument[hue.Resourcelink] `json:"resourcelinks"`
}

type ListDocument[T any] struct {
	List     map[string]T `json:"list"`
	NextFree int          `json:"nextfree"`
}

type NodeList struct {
	NextFree int               `json:"nextfree"`
	Nodes    map[string]string `json:"nodes"`
}

type LightsDocument struct {
	List     map[string]hue.Light `json:"list"`
	NodeList NodeList             `json:"nodelist"`
	Clients  map[string]string    `json:"clients"`
}

type ScenesDocument struct {
	List map[string]hue.Scene `json:"list"`
}

type SensorsDocument struct {
	List     map[string]hue.Sensor `json:"list"`
	NextFree int                   `json:"nextfree"`
	Nodes    map[string]string     `json:"nodes"`
}

var documentKeys = []string{
	"config", "lights", "groups", "schedules", "scenes", "sensors", "rules", "resourcelinks",
}

// Export returns a deep copy of every collection and the configuration.
func (d *Datastore) Export() Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.s
	return Document{
		Config: s.config.Clone(),
		Lights: LightsDocument{
			List:     s.lights.all(),
			NodeList: NodeList{NextFree: s.lights.nextFree, Nodes: maps.Clone(s.lightNodes)},
			Clients:  maps.Clone(s.lightClients),
		},
		Groups:    ListDocument[hue.Group]{List: s.groups.all(), NextFree: s.groups.nextFree},
		Schedules: ListDocument[hue.Schedule]{List: s.schedules.all(), NextFree: s.schedules.nextFree},
		Scenes:    ScenesDocument{List: s.scenes.all()},
		Sensors: SensorsDocument{
			List:     s.sensors.all(),
			NextFree: s.sensors.nextFree,
			Nodes:    maps.Clone(s.sensorNodes),
		},
		Rules:         ListDocument[hue.Rule]{List: s.rules.all(), NextFree: s.rules.nextFree},
		Resourcelinks: ListDocument[hue.Resourcelink]{List: s.resourcelinks.all(), NextFree: s.resourcelinks.nextFree},
	}
}

// Import replaces the whole datastore with an exported document. The
// document must carry every top-level key; otherwise ErrInvalidImport is
// returned and nothing changes.
func (d *Datastore) Import(data []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	for _, k := range documentKeys {
		if _, ok := top[k]; !ok {
			return fmt.Errorf("%w: %s object missing", ErrInvalidImport, k)
		}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	s := stateFromDocument(doc, d.name)
	if err := d.replace(s); err != nil {
		return err
	}
	d.logger.Info("datastore imported",
		"lights", len(s.lights.list), "sensors", len(s.sensors.list), "rules", len(s.rules.list))
	d.pub.Publish(events.Event{Type: events.DatastoreReloaded})
	return nil
}

// ClearConfiguration resets everything except lights to factory state.
func (d *Datastore) ClearConfiguration() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := newState(d.name)
	s.lights = d.s.lights.clone()
	s.lightNodes = maps.Clone(d.s.lightNodes)
	s.lightClients = maps.Clone(d.s.lightClients)
	if err := d.replace(s); err != nil {
		return err
	}
	d.logger.Info("configuration cleared")
	d.pub.Publish(events.Event{Type: events.DatastoreReloaded})
	return nil
}

// replace commits s as a full snapshot and swaps it in. Caller holds d.mu.
func (d *Datastore) replace(s *state) error {
	b := &batch{}
	stampDaylight(s, d.now(), b)
	if b.err != nil {
		return b.err
	}
	snap, err := snapshot(s)
	if err != nil {
		return err
	}
	if err := d.st.Replace(snap); err != nil {
		return fmt.Errorf("persist snapshot: %w", err)
	}
	d.s = s
	return nil
}

func snapshot(s *state) (map[string]map[string][]byte, error) {
	snap := make(map[string]map[string][]byte, len(store.Buckets))
	for _, c := range s.collections() {
		entries, err := c.entries()
		if err != nil {
			return nil, err
		}
		snap[c.name()] = entries
	}
	meta := map[string]any{
		keyConfig:       s.config,
		keyCounters:     s.counters(),
		keyLightNodes:   s.lightNodes,
		keyLightClients: s.lightClients,
		keySensorNodes:  s.sensorNodes,
	}
	snap[store.BucketMeta] = make(map[string][]byte, len(meta))
	for k, v := range meta {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode meta/%s: %w", k, err)
		}
		snap[store.BucketMeta][k] = data
	}
	return snap, nil
}

func stateFromDocument(doc Document, name string) *state {
	s := newState(name)
	s.config = doc.Config.Clone()
	if s.config.Whitelist == nil {
		s.config.Whitelist = map[string]hue.WhitelistEntry{}
	}
	fill(s.lights, doc.Lights.List, doc.Lights.NodeList.NextFree)
	fill(s.groups, doc.Groups.List, doc.Groups.NextFree)
	fill(s.schedules, doc.Schedules.List, doc.Schedules.NextFree)
	fill(s.scenes, doc.Scenes.List, 0)
	fill(s.sensors, doc.Sensors.List, doc.Sensors.NextFree)
	fill(s.rules, doc.Rules.List, doc.Rules.NextFree)
	fill(s.resourcelinks, doc.Resourcelinks.List, doc.Resourcelinks.NextFree)
	if doc.Lights.NodeList.Nodes != nil {
		s.lightNodes = maps.Clone(doc.Lights.NodeList.Nodes)
	}
	if doc.Lights.Clients != nil {
		s.lightClients = maps.Clone(doc.Lights.Clients)
	}
	if doc.Sensors.Nodes != nil {
		s.sensorNodes = maps.Clone(doc.Sensors.Nodes)
	}
	return s
}

// fill loads list into c. The counter never goes below the highest numeric
// id in use.
func fill[T cloner[T]](c *collection[T], list map[string]T, nextFree int) {
	c.nextFree = max(nextFree, 1)
	for id, v := range list {
		c.list[id] = v.Clone()
		if n, err := strconv.Atoi(id); err == nil && n >= c.nextFree {
			c.nextFree = n + 1
		}
	}
}
