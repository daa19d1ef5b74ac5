package bridge

import (
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

func resourcelinkRoutes(h *handler) *family {
	return &family{name: "resourcelinks", h: h, routes: []route{
		get(`^/api/(\w+)/resourcelinks$`, h.getResourcelinks),
		post(`^/api/(\w+)/resourcelinks$`, h.createResourcelink),
		get(`^/api/(\w+)/resourcelinks/(\w+)$`, h.getResourcelink),
		put(`^/api/(\w+)/resourcelinks/(\w+)$`, h.putResourcelink),
		del(`^/api/(\w+)/resourcelinks/(\w+)$`, h.deleteResourcelink),
	}}
}

func (h *handler) getResourcelinks(_ Request, _ []string) Response {
	return jsonResponse(h.ds.Resourcelinks())
}

func (h *handler) getResourcelink(_ Request, m []string) Response {
	rl, err := h.ds.Resourcelink(m[2])
	if err != nil {
		return notAvailable("/resourcelinks/" + m[2])
	}
	return jsonResponse(rl)
}

func (h *handler) createResourcelink(req Request, m []string) Response {
	rl := hue.NewResourcelink(m[1])
	applyResourcelinkAttributes(&rl, req.Body, nil)
	id, err := h.ds.CreateResourcelink(rl)
	if err != nil {
		h.logger.Error("create resourcelink", "err", err)
		return internalError("/resourcelinks")
	}
	h.emit(events.ResourcelinkCreated, id, nil)
	return created(id)
}

func (h *handler) putResourcelink(req Request, m []string) Response {
	id := m[2]
	rl, err := h.ds.Resourcelink(id)
	if err != nil {
		return notAvailable("/resourcelinks/" + id)
	}
	var r results
	applyResourcelinkAttributes(&rl, req.Body, func(key string, value any) {
		r.success("/resourcelinks/"+id+"/"+key, value)
	})
	if err := h.ds.UpdateResourcelink(id, rl); err != nil {
		return failure(err, "/resourcelinks/"+id)
	}
	h.emit(events.ResourcelinkModified, id, nil)
	return r.response()
}

func applyResourcelinkAttributes(rl *hue.Resourcelink, body Body, ok func(key string, value any)) {
	report := func(key string, value any) {
		if ok != nil {
			ok(key, value)
		}
	}
	for _, key := range body.Keys() {
		switch key {
		case "name":
			if v, valid := body.String(key); valid {
				rl.Name = v
				report(key, v)
			}
		case "description":
			if v, valid := body.String(key); valid {
				rl.Description = v
				report(key, v)
			}
		case "classid":
			if v, valid := body.Int(key); valid {
				rl.ClassID = v
				report(key, v)
			}
		case "recycle":
			if v, valid := body.Bool(key); valid {
				rl.Recycle = v
				report(key, v)
			}
		case "links":
			if v, valid := body.Strings(key); valid {
				rl.Links = v
				report(key, v)
			}
		}
	}
}

func (h *handler) deleteResourcelink(_ Request, m []string) Response {
	id := m[2]
	if err := h.ds.DeleteResourcelink(id); err != nil {
		return failure(err, "/resourcelinks/"+id)
	}
	h.emit(events.ResourcelinkDeleted, id, nil)
	return deleted("/resourcelinks/" + id)
}
