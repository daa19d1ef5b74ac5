package bridge

import (
	"errors"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

func sensorRoutes(h *handler) *family {
	return &family{name: "sensors", h: h, routes: []route{
		get(`^/api/(\w+)/sensors$`, h.getSensors),
		post(`^/api/(\w+)/sensors$`, h.createSensor),
		get(`^/api/(\w+)/sensors/new$`, h.getSensors),
		post(`^/api/(\w+)/sensors/new$`, h.searchSensors),
		get(`^/api/(\w+)/sensors/(\w+)$`, h.getSensor),
		put(`^/api/(\w+)/sensors/(\w+)$`, h.putSensor),
		put(`^/api/(\w+)/sensors/(\w+)/config$`, h.putSensorConfig),
		put(`^/api/(\w+)/sensors/(\w+)/state$`, h.putSensorState),
		del(`^/api/(\w+)/sensors/(\w+)$`, h.deleteSensor),
	}}
}

func (h *handler) getSensors(_ Request, _ []string) Response {
	return jsonResponse(h.ds.Sensors())
}

func (h *handler) searchSensors(_ Request, _ []string) Response {
	var r results
	r.success("/sensors", "Searching for new devices")
	return r.response()
}

func (h *handler) getSensor(_ Request, m []string) Response {
	s, err := h.ds.Sensor(m[2])
	if err != nil {
		return notAvailable("/sensors/" + m[2])
	}
	return jsonResponse(s)
}

func (h *handler) createSensor(req Request, _ []string) Response {
	s := hue.NewSensor()
	applySensorAttributes(&s, req.Body, nil)
	if sub, ok := req.Body.Object("config"); ok {
		mergeKeys(s.Config, sub, nil)
	}
	if sub, ok := req.Body.Object("state"); ok {
		mergeKeys(s.State, sub, nil)
	}
	id, err := h.ds.CreateSensor(s)
	if err != nil {
		h.logger.Error("create sensor", "err", err)
		return internalError("/sensors")
	}
	h.emit(events.SensorCreated, id, nil)
	return created(id)
}

// applySensorAttributes copies the writable top-level sensor attributes.
func applySensorAttributes(s *hue.Sensor, body Body, ok func(key string, value any)) {
	fields := []struct {
		key string
		dst *string
	}{
		{"name", &s.Name},
		{"modelid", &s.ModelID},
		{"swversion", &s.SWVersion},
		{"type", &s.Type},
		{"uniqueid", &s.UniqueID},
		{"manufacturername", &s.ManufacturerName},
	}
	for _, f := range fields {
		v, valid := body.String(f.key)
		if !valid {
			continue
		}
		*f.dst = v
		if ok != nil {
			ok(f.key, v)
		}
	}
	if v, valid := body.Bool("recycle"); valid {
		s.Recycle = v
		if ok != nil {
			ok("recycle", v)
		}
	}
}

func initSensorMaps(s *hue.Sensor) {
	if s.State == nil {
		s.State = map[string]any{}
	}
	if s.Config == nil {
		s.Config = map[string]any{}
	}
}

// mergeKeys copies every key of body into dst in received order.
func mergeKeys(dst map[string]any, body Body, ok func(key string, value any)) {
	for _, key := range body.Keys() {
		v := body.Value(key)
		dst[key] = v
		if ok != nil {
			ok(key, v)
		}
	}
}

func (h *handler) putSensor(req Request, m []string) Response {
	id := m[2]
	s, err := h.ds.Sensor(id)
	if err != nil {
		return notAvailable("/sensors/" + id)
	}
	initSensorMaps(&s)
	prefix := "/sensors/" + id + "/"
	var r results
	applySensorAttributes(&s, req.Body, func(key string, value any) {
		r.success(prefix+key, value)
	})
	if sub, ok := req.Body.Object("config"); ok {
		mergeKeys(s.Config, sub, func(key string, value any) {
			r.success(prefix+"config/"+key, value)
		})
	}
	if sub, ok := req.Body.Object("state"); ok {
		mergeKeys(s.State, sub, func(key string, value any) {
			r.success(prefix+"state/"+key, value)
		})
	}
	if err := h.ds.UpdateSensor(id, s); err != nil {
		return failure(err, "/sensors/"+id)
	}
	h.emit(events.SensorModified, id, nil)
	return r.response()
}

func (h *handler) putSensorConfig(req Request, m []string) Response {
	id := m[2]
	s, err := h.ds.Sensor(id)
	if err != nil {
		return notAvailable("/sensors/" + id)
	}
	initSensorMaps(&s)
	prefix := "/sensors/" + id + "/config/"
	var r results
	mergeKeys(s.Config, req.Body, func(key string, value any) {
		r.success(prefix+key, value)
	})
	if err := h.ds.UpdateSensor(id, s); err != nil {
		return failure(err, "/sensors/"+id)
	}
	h.emit(events.SensorConfigModified, id, nil)
	return r.response()
}

func (h *handler) putSensorState(req Request, m []string) Response {
	id := m[2]
	s, err := h.ds.Sensor(id)
	if err != nil {
		return notAvailable("/sensors/" + id)
	}
	initSensorMaps(&s)
	prefix := "/sensors/" + id + "/state/"
	var r results
	var changed []events.Event
	mergeKeys(s.State, req.Body, func(key string, value any) {
		r.success(prefix+key, value)
		changed = append(changed, events.Event{
			Type:    events.SensorStateModified,
			ID:      id,
			Address: prefix + key,
			Value:   value,
		})
	})
	if err := h.ds.UpdateSensor(id, s); err != nil {
		return failure(err, "/sensors/"+id)
	}
	for _, e := range changed {
		h.pub.Publish(e)
	}
	return r.response()
}

func (h *handler) deleteSensor(_ Request, m []string) Response {
	id := m[2]
	err := h.ds.DeleteSensor(id)
	switch {
	case errors.Is(err, datastore.ErrReserved):
		return internalError("/sensors/" + id)
	case err != nil:
		return failure(err, "/sensors/"+id)
	}
	h.emit(events.SensorDeleted, id, nil)
	return deleted("/sensors/" + id)
}
