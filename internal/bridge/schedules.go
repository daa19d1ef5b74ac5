package bridge

import (
	"strings"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

func scheduleRoutes(h *handler) *family {
	return &family{name: "schedules", h: h, routes: []route{
		get(`^/api/(\w+)/schedules$`, h.getSchedules),
		post(`^/api/(\w+)/schedules$`, h.createSchedule),
		get(`^/api/(\w+)/schedules/(\w+)$`, h.getSchedule),
		put(`^/api/(\w+)/schedules/(\w+)$`, h.putSchedule),
		del(`^/api/(\w+)/schedules/(\w+)$`, h.deleteSchedule),
	}}
}

func (h *handler) getSchedules(_ Request, _ []string) Response {
	return jsonResponse(h.ds.Schedules())
}

func (h *handler) getSchedule(_ Request, m []string) Response {
	sch, err := h.ds.Schedule(m[2])
	if err != nil {
		return notAvailable("/schedules/" + m[2])
	}
	return jsonResponse(sch)
}

func (h *handler) createSchedule(req Request, _ []string) Response {
	sch := hue.NewSchedule(h.ds.Now())
	sch.Name = "schedule"
	h.applyScheduleAttributes(&sch, req.Body, nil)
	id, err := h.ds.CreateSchedule(sch)
	if err != nil {
		h.logger.Error("create schedule", "err", err)
		return internalError("/schedules")
	}
	h.emit(events.ScheduleCreated, id, nil)
	return created(id)
}

func (h *handler) putSchedule(req Request, m []string) Response {
	id := m[2]
	sch, err := h.ds.Schedule(id)
	if err != nil {
		return notAvailable("/schedules/" + id)
	}
	var r results
	h.applyScheduleAttributes(&sch, req.Body, func(key string, value any) {
		r.success("/schedules/"+id+"/"+key, value)
	})
	if err := h.ds.UpdateSchedule(id, sch); err != nil {
		return failure(err, "/schedules/"+id)
	}
	h.emit(events.ScheduleModified, id, nil)
	return r.response()
}

// applyScheduleAttributes copies the writable schedule attributes in
// received order. An invalid command is logged and left out.
func (h *handler) applyScheduleAttributes(sch *hue.Schedule, body Body, ok func(key string, value any)) {
	report := func(key string, value any) {
		if ok != nil {
			ok(key, value)
		}
	}
	text := map[string]*string{
		"name":        &sch.Name,
		"description": &sch.Description,
		"localtime":   &sch.LocalTime,
		"time":        &sch.Time,
		"status":      &sch.Status,
	}
	for _, key := range body.Keys() {
		if dst, isText := text[key]; isText {
			v, valid := body.String(key)
			if !valid {
				continue
			}
			*dst = v
			if key == "time" && !body.Has("localtime") {
				sch.LocalTime = v
			}
			report(key, v)
			continue
		}
		switch key {
		case "autodelete":
			if v, valid := body.Bool(key); valid {
				sch.AutoDelete = v
				report(key, v)
			}
		case "recycle":
			if v, valid := body.Bool(key); valid {
				sch.Recycle = v
				report(key, v)
			}
		case "command":
			cmd, err := parseCommand(body)
			if err != nil {
				h.logger.Warn("invalid schedule command", "err", err)
				continue
			}
			sch.Command = cmd
			report(key, cmd)
		}
	}
}

func parseCommand(body Body) (hue.Command, error) {
	var cmd hue.Command
	if err := body.Decode("command", &cmd); err != nil {
		return hue.Command{}, err
	}
	cmd.Method = strings.ToUpper(cmd.Method)
	if !strings.HasPrefix(cmd.Address, "/api/") {
		return hue.Command{}, NewAPIError(ErrActionError, cmd.Address)
	}
	switch cmd.Method {
	case "GET", "PUT", "POST", "DELETE":
	default:
		return hue.Command{}, NewAPIError(ErrActionError, cmd.Address)
	}
	return cmd, nil
}

func (h *handler) deleteSchedule(_ Request, m []string) Response {
	id := m[2]
	if err := h.ds.DeleteSchedule(id); err != nil {
		return failure(err, "/schedules/"+id)
	}
	h.emit(events.ScheduleDeleted, id, nil)
	return deleted("/schedules/" + id)
}
