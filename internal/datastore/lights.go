package datastore

import (
	"fmt"
	"maps"
	"slices"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/store"
)

// LightNode ties a light to the adapter client that owns it.
type LightNode struct {
	ClientID string `json:"clientid"`
	Type     string `json:"type"`
}

// CreateLight returns the light owned by clientID, creating it when the
// client has none. Re-registering a client always yields the id it was
// first given, even after its light has been removed.
func (d *Datastore) CreateLight(clientID, name string, t hue.LightType) (id string, created bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.s

	id, known := s.lightNodes[clientID]
	if known && s.lights.has(id) {
		return id, false, nil
	}
	if !known {
		id = s.lights.peekID()
		s.lights.nextFree++
	}

	light := hue.NewLight(clientID, name, t)
	nodes := maps.Clone(s.lightNodes)
	nodes[clientID] = id
	clients := maps.Clone(s.lightClients)
	clients[id] = clientID

	b := &batch{}
	b.put(store.BucketLights, id, light)
	b.put(store.BucketMeta, keyLightNodes, nodes)
	b.put(store.BucketMeta, keyLightClients, clients)
	b.put(store.BucketMeta, keyCounters, s.counters())
	if err := d.apply(b); err != nil {
		if !known {
			s.lights.nextFree--
		}
		return "", false, err
	}
	s.lights.list[id] = light
	s.lightNodes = nodes
	s.lightClients = clients
	d.logger.Debug("light created", "id", id, "client", clientID, "type", t.Name)
	return id, true, nil
}

// LightID returns the light id allocated to clientID.
func (d *Datastore) LightID(clientID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.s.lightNodes[clientID]
	return id, ok
}

func (d *Datastore) Light(id string) (hue.Light, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return lookup(d.s.lights, id)
}

func (d *Datastore) Lights() map[string]hue.Light {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.lights.all()
}

// LightIDs returns the ids of all lights in numeric order.
func (d *Datastore) LightIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.s.lights.ids()
}

func (d *Datastore) UpdateLight(id string, l hue.Light) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return update(d, d.s.lights, id, l)
}

// LightNodes returns the owning client and type of every light.
func (d *Datastore) LightNodes() map[string]LightNode {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]LightNode, len(d.s.lights.list))
	for id, l := range d.s.lights.list {
		out[id] = LightNode{ClientID: d.s.lightClients[id], Type: l.Type}
	}
	return out
}

// DeleteLight removes a light and every reference to it: group membership,
// scene light states, schedule commands addressing it, rule actions and
// resourcelink entries. All changes commit in one transaction, after which a
// modified event is published for every resource the cascade rewrote.
func (d *Datastore) DeleteLight(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.s
	if !s.lights.has(id) {
		return fmt.Errorf("light %s: %w", id, ErrNotFound)
	}

	b := &batch{}
	groups := map[string]hue.Group{}
	for gid, g := range s.groups.list {
		if !slices.Contains(g.Lights, id) {
			continue
		}
		g = g.Clone()
		g.Lights = slices.DeleteFunc(g.Lights, func(l string) bool { return l == id })
		groups[gid] = g
		b.put(store.BucketGroups, gid, g)
	}

	scenes := map[string]hue.Scene{}
	for sid, sc := range s.scenes.list {
		_, hasState := sc.LightStates[id]
		if !hasState && !slices.Contains(sc.Lights, id) {
			continue
		}
		sc = sc.Clone()
		delete(sc.LightStates, id)
		sc.Lights = slices.DeleteFunc(sc.Lights, func(l string) bool { return l == id })
		scenes[sid] = sc
		b.put(store.BucketScenes, sid, sc)
	}

	schedules := map[string]hue.Schedule{}
	for sid, sch := range s.schedules.list {
		// /api/<user>/lights/<id>/...
		if !hue.ReferencesLight(sch.Command.Address, 3, id) {
			continue
		}
		sch = sch.Clone()
		sch.Command = hue.Command{}
		schedules[sid] = sch
		b.put(store.BucketSchedules, sid, sch)
	}

	links := map[string]hue.Resourcelink{}
	for lid, rl := range s.resourcelinks.list {
		kept := slices.DeleteFunc(slices.Clone(rl.Links), func(a string) bool {
			return hue.ReferencesLight(a, 1, id)
		})
		if len(kept) == len(rl.Links) {
			continue
		}
		rl = rl.Clone()
		rl.Links = kept
		links[lid] = rl
		b.put(store.BucketResourcelinks, lid, rl)
	}

	rules := map[string]hue.Rule{}
	for rid, r := range s.rules.list {
		r = r.Clone()
		n := len(r.Actions)
		r.Actions = slices.DeleteFunc(r.Actions, func(a hue.Action) bool {
			return hue.ReferencesLight(a.Address, 1, id)
		})
		if len(r.Actions) == n {
			continue
		}
		rules[rid] = r
		b.put(store.BucketRules, rid, r)
	}

	clients := maps.Clone(s.lightClients)
	delete(clients, id)
	b.del(store.BucketLights, id)
	b.put(store.BucketMeta, keyLightClients, clients)
	if err := d.apply(b); err != nil {
		return err
	}

	maps.Copy(s.groups.list, groups)
	maps.Copy(s.scenes.list, scenes)
	maps.Copy(s.schedules.list, schedules)
	maps.Copy(s.resourcelinks.list, links)
	maps.Copy(s.rules.list, rules)
	delete(s.lights.list, id)
	s.lightClients = clients
	publishModified(d.pub, events.GroupModified, groups)
	publishModified(d.pub, events.SceneModified, scenes)
	publishModified(d.pub, events.ScheduleModified, schedules)
	publishModified(d.pub, events.ResourcelinkModified, links)
	publishModified(d.pub, events.RuleModified, rules)
	d.logger.Debug("light deleted", "id", id,
		"groups", len(groups), "scenes", len(scenes), "schedules", len(schedules),
		"resourcelinks", len(links), "rules", len(rules))
	return nil
}

func publishModified[T any](pub events.Publisher, typ string, changed map[string]T) {
	for _, id := range slices.Sorted(maps.Keys(changed)) {
		pub.Publish(events.Event{Type: typ, ID: id})
	}
}
