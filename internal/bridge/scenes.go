package bridge

import (
	"slices"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

// lightstateKeys are the attributes a scene light state may hold.
var lightstateKeys = []string{"on", "bri", "hue", "sat", "xy", "ct", "effect", "transitiontime"}

func sceneRoutes(h *handler) *family {
	return &family{name: "scenes", h: h, routes: []route{
		get(`^/api/(\w+)/scenes$`, h.getScenes),
		post(`^/api/(\w+)/scenes$`, h.createScene),
		get(`^/api/(\w+)/scenes/(\w+)$`, h.getScene),
		put(`^/api/(\w+)/scenes/(\w+)$`, h.putScene),
		put(`^/api/(\w+)/scenes/(\w+)/lightstates/(\w+)$`, h.putSceneLightState),
		del(`^/api/(\w+)/scenes/(\w+)$`, h.deleteScene),
	}}
}

func (h *handler) getScenes(_ Request, _ []string) Response {
	return jsonResponse(h.ds.Scenes())
}

func (h *handler) getScene(_ Request, m []string) Response {
	sc, err := h.ds.Scene(m[2])
	if err != nil {
		return notAvailable("/scenes/" + m[2])
	}
	return jsonResponse(sc)
}

func (h *handler) createScene(req Request, m []string) Response {
	sc := hue.NewScene(m[1], h.ds.Now())
	b := req.Body
	if v, ok := b.String("name"); ok {
		sc.Name = v
	}
	if v, ok := b.Strings("lights"); ok {
		sc.Lights = v
	}
	if v, ok := b.String("owner"); ok {
		sc.Owner = v
	}
	if v, ok := b.Bool("recycle"); ok {
		sc.Recycle = v
	}
	if v, ok := b.Value("appdata").(map[string]any); ok {
		sc.AppData = v
	}
	if v, ok := b.String("picture"); ok {
		sc.Picture = v
	}
	if v, ok := b.String("effect"); ok {
		sc.Effect = v
	}
	if v, ok := b.Int("transitiontime"); ok {
		sc.TransitionTime = &v
	}
	if v, ok := b.Int("version"); ok {
		sc.Version = v
	}

	var states map[string]map[string]any
	if err := b.Decode("lightstates", &states); err == nil && states != nil {
		sc.LightStates = states
	} else {
		h.captureLightStates(&sc)
	}

	id, err := h.ds.CreateScene(sc)
	if err != nil {
		h.logger.Error("create scene", "err", err)
		return internalError("/scenes")
	}
	h.emit(events.SceneCreated, id, nil)
	return created(id)
}

// captureLightStates stores the current state of every scene light.
func (h *handler) captureLightStates(sc *hue.Scene) {
	states := make(map[string]map[string]any, len(sc.Lights))
	for _, lid := range sc.Lights {
		l, err := h.ds.Light(lid)
		if err != nil {
			continue
		}
		states[lid] = sceneState(l.State)
	}
	sc.LightStates = states
}

func (h *handler) putScene(req Request, m []string) Response {
	id := m[2]
	sc, err := h.ds.Scene(id)
	if err != nil {
		return notAvailable("/scenes/" + id)
	}
	prefix := "/scenes/" + id + "/"
	var r results
	for _, key := range req.Body.Keys() {
		switch key {
		case "name":
			if v, ok := req.Body.String(key); ok {
				sc.Name = v
				r.success(prefix+key, v)
			}
		case "lights":
			if v, ok := req.Body.Strings(key); ok {
				sc.Lights = v
				for lid := range sc.LightStates {
					if !slices.Contains(v, lid) {
						delete(sc.LightStates, lid)
					}
				}
				r.success(prefix+key, v)
			}
		case "storelightstate":
			if v, ok := req.Body.Bool(key); ok {
				if v {
					h.captureLightStates(&sc)
				}
				r.success(prefix+key, v)
			}
		}
	}
	if err := h.ds.UpdateScene(id, sc); err != nil {
		return failure(err, "/scenes/"+id)
	}
	h.emit(events.SceneModified, id, nil)
	return r.response()
}

func (h *handler) putSceneLightState(req Request, m []string) Response {
	id, lid := m[2], m[3]
	sc, err := h.ds.Scene(id)
	if err != nil {
		return notAvailable("/scenes/" + id)
	}
	if sc.LightStates == nil {
		sc.LightStates = map[string]map[string]any{}
	}
	ls, ok := sc.LightStates[lid]
	if !ok {
		ls = defaultLightstate()
	}
	prefix := "/scenes/" + id + "/lightstates/" + lid + "/"
	var r results
	for _, key := range req.Body.Keys() {
		if !slices.Contains(lightstateKeys, key) {
			continue
		}
		v := req.Body.Value(key)
		if v == nil {
			continue
		}
		ls[key] = v
		r.success(prefix+key, v)
	}
	sc.LightStates[lid] = ls
	if !slices.Contains(sc.Lights, lid) {
		sc.Lights = append(sc.Lights, lid)
	}
	if err := h.ds.UpdateScene(id, sc); err != nil {
		return failure(err, "/scenes/"+id)
	}
	h.emit(events.SceneModified, id, nil)
	return r.response()
}

func defaultLightstate() map[string]any {
	st := hue.DefaultLightState()
	return map[string]any{
		"on":             st.On,
		"bri":            st.Bri,
		"transitiontime": st.TransitionTime,
	}
}

func (h *handler) deleteScene(_ Request, m []string) Response {
	id := m[2]
	if err := h.ds.DeleteScene(id); err != nil {
		return failure(err, "/scenes/"+id)
	}
	h.emit(events.SceneDeleted, id, nil)
	return deleted("/scenes/" + id)
}
