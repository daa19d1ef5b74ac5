package bridge

import (
	"slices"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

// allLightsGroup addresses every light.
const allLightsGroup = "0"

func groupRoutes(h *handler) *family {
	return &family{name: "groups", h: h, routes: []route{
		get(`^/api/(\w+)/groups$`, h.getGroups),
		post(`^/api/(\w+)/groups$`, h.createGroup),
		get(`^/api/(\w+)/groups/(\w+)$`, h.getGroup),
		put(`^/api/(\w+)/groups/(\w+)$`, h.putGroup),
		put(`^/api/(\w+)/groups/(\w+)/action$`, h.putGroupAction),
		del(`^/api/(\w+)/groups/(\w+)$`, h.deleteGroup),
	}}
}

func (h *handler) getGroups(_ Request, _ []string) Response {
	groups := h.ds.Groups()
	lights := h.ds.Lights()
	for id, g := range groups {
		g.State = aggregateState(lights, g.Lights)
		groups[id] = g
	}
	return jsonResponse(groups)
}

func (h *handler) getGroup(_ Request, m []string) Response {
	g, err := h.group(m[2])
	if err != nil {
		return notAvailable("/groups/" + m[2])
	}
	g.State = aggregateState(h.ds.Lights(), g.Lights)
	return jsonResponse(g)
}

// group returns a stored group, or the implicit group of all lights.
func (h *handler) group(id string) (hue.Group, error) {
	if id != allLightsGroup {
		return h.ds.Group(id)
	}
	g := hue.NewGroup("Group 0")
	g.Lights = h.ds.LightIDs()
	return g, nil
}

func aggregateState(lights map[string]hue.Light, ids []string) hue.GroupState {
	var st hue.GroupState
	on := 0
	for _, id := range ids {
		if l, ok := lights[id]; ok && l.State.On {
			on++
		}
	}
	st.AnyOn = on > 0
	st.AllOn = on > 0 && on == len(ids)
	return st
}

func (h *handler) createGroup(req Request, _ []string) Response {
	g := hue.NewGroup("")
	h.applyGroupAttributes(&g, req.Body, nil)
	id, err := h.ds.CreateGroup(g)
	if err != nil {
		h.logger.Error("create group", "err", err)
		return internalError("/groups")
	}
	if g.Name == "" {
		g.Name = "Group " + id
		if err := h.ds.UpdateGroup(id, g); err != nil {
			h.logger.Error("name group", "id", id, "err", err)
		}
	}
	h.emit(events.GroupCreated, id, g)
	return created(id)
}

func (h *handler) putGroup(req Request, m []string) Response {
	id := m[2]
	g, err := h.ds.Group(id)
	if err != nil {
		return notAvailable("/groups/" + id)
	}
	var r results
	h.applyGroupAttributes(&g, req.Body, func(key string, value any) {
		r.success("/groups/"+id+"/"+key, value)
	})
	if err := h.ds.UpdateGroup(id, g); err != nil {
		return failure(err, "/groups/"+id)
	}
	h.emit(events.GroupModified, id, g)
	return r.response()
}

// applyGroupAttributes copies the writable group attributes of body into g,
// in received order, reporting each one to ok when it is non-nil.
func (h *handler) applyGroupAttributes(g *hue.Group, body Body, ok func(key string, value any)) {
	report := func(key string, value any) {
		if ok != nil {
			ok(key, value)
		}
	}
	for _, key := range body.Keys() {
		switch key {
		case "name":
			if v, valid := body.String(key); valid {
				g.Name = v
				report(key, v)
			}
		case "lights":
			if v, valid := body.Strings(key); valid {
				g.Lights = v
				report(key, v)
			}
		case "type":
			if v, valid := body.String(key); valid {
				g.Type = v
				report(key, v)
			}
		case "class":
			if v, valid := body.String(key); valid {
				g.Class = v
				report(key, v)
			}
		case "recycle":
			if v, valid := body.Bool(key); valid {
				g.Recycle = v
				report(key, v)
			}
		case "state":
			var st hue.GroupState
			if err := body.Decode(key, &st); err == nil {
				g.State = st
				report(key, st)
			}
		case "action":
			sub, valid := body.Object(key)
			if !valid {
				continue
			}
			st := actionState(g.Action)
			applyState(&st, sub)
			g.Action = groupAction(st)
			report(key, g.Action)
		}
	}
}

func (h *handler) putGroupAction(req Request, m []string) Response {
	gid := m[2]
	prefix := "/groups/" + gid + "/action/"
	g, err := h.group(gid)
	if err != nil {
		return notAvailable("/groups/" + gid)
	}

	if req.Body.Has("scene") {
		sid, _ := req.Body.String("scene")
		if err := h.recallScene(sid); err != nil {
			return notAvailable(prefix + "scene")
		}
		var r results
		r.success(prefix+"scene", sid)
		return r.response()
	}

	// Results are reported for the group's own action state; every member
	// light then gets the same body applied to its current state.
	st := actionState(g.Action)
	applied := applyState(&st, req.Body)
	for _, lid := range g.Lights {
		if _, err := h.setLightState(lid, req.Body); err != nil {
			h.logger.Warn("group member not updated", "group", gid, "light", lid, "err", err)
		}
	}
	if gid != allLightsGroup {
		g.Action = groupAction(st)
		if err := h.ds.UpdateGroup(gid, g); err != nil {
			h.logger.Error("update group action", "id", gid, "err", err)
		}
	}

	var r results
	for _, res := range applied.results {
		r.success(prefix+res.key, res.value)
	}
	return r.response()
}

// recallScene applies the stored light state of every light in the scene.
func (h *handler) recallScene(id string) error {
	sc, err := h.ds.Scene(id)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(sc.LightStates))
	for lid := range sc.LightStates {
		ids = append(ids, lid)
	}
	slices.SortFunc(ids, hue.CompareIDs)
	for _, lid := range ids {
		if _, err := h.setLightState(lid, BodyFromMap(sc.LightStates[lid])); err != nil {
			h.logger.Warn("scene light not recalled", "scene", id, "light", lid, "err", err)
		}
	}
	h.logger.Debug("scene recalled", "scene", id, "lights", len(ids))
	return nil
}

func (h *handler) deleteGroup(_ Request, m []string) Response {
	id := m[2]
	if err := h.ds.DeleteGroup(id); err != nil {
		return failure(err, "/groups/"+id)
	}
	h.emit(events.GroupDeleted, id, nil)
	return deleted("/groups/" + id)
}
