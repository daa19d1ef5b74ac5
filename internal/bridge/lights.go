package bridge

import (
	"hue-go-bridge/internal/events"
)

func lightRoutes(h *handler) *family {
	return &family{name: "lights", h: h, routes: []route{
		get(`^/api/(\w+)/lights$`, h.getLights),
		get(`^/api/(\w+)/lights/new$`, h.getLights),
		post(`^/api/(\w+)/lights$`, h.searchLights),
		get(`^/api/(\w+)/lights/(\w+)$`, h.getLight),
		put(`^/api/(\w+)/lights/(\w+)$`, h.putLight),
		put(`^/api/(\w+)/lights/(\w+)/state$`, h.putLightState),
		del(`^/api/(\w+)/lights/(\w+)$`, h.deleteLight),
	}}
}

func (h *handler) getLights(_ Request, _ []string) Response {
	return jsonResponse(h.ds.Lights())
}

// searchLights acknowledges a search; lights only appear through adapter
// registration.
func (h *handler) searchLights(_ Request, _ []string) Response {
	var r results
	r.success("/lights", "Searching for new devices")
	return r.response()
}

func (h *handler) getLight(_ Request, m []string) Response {
	l, err := h.ds.Light(m[2])
	if err != nil {
		return notAvailable("/lights/" + m[2])
	}
	return jsonResponse(l)
}

func (h *handler) putLight(req Request, m []string) Response {
	id := m[2]
	l, err := h.ds.Light(id)
	if err != nil {
		return notAvailable("/lights/" + id)
	}
	var r results
	if name, ok := req.Body.String("name"); ok {
		l.Name = name
		r.success("/lights/"+id+"/name", name)
	}
	if err := h.ds.UpdateLight(id, l); err != nil {
		h.logger.Error("update light", "id", id, "err", err)
		return internalError("/lights/" + id)
	}
	h.emit(events.LightModified, id, l)
	return r.response()
}

func (h *handler) putLightState(req Request, m []string) Response {
	id := m[2]
	prefix := "/lights/" + id + "/state/"
	applied, err := h.setLightState(id, req.Body)
	if err != nil {
		return failure(err, "/lights/"+id)
	}
	var r results
	for _, res := range applied.results {
		r.success(prefix+res.key, res.value)
	}
	return r.response()
}

// setLightState applies body to light id, persists it and announces the
// change.
func (h *handler) setLightState(id string, body Body) (appliedState, error) {
	l, err := h.ds.Light(id)
	if err != nil {
		return appliedState{}, err
	}
	applied := applyState(&l.State, body)
	if err := h.ds.UpdateLight(id, l); err != nil {
		h.logger.Error("update light state", "id", id, "err", err)
		return appliedState{}, err
	}
	h.emit(events.LightStateChanged, id, applied.change)
	return applied, nil
}

// deleteLight is always refused; lights go away only when their adapter
// client is removed.
func (h *handler) deleteLight(_ Request, m []string) Response {
	return internalError("/lights/" + m[2])
}
