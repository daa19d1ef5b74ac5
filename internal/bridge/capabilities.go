package bridge

import (
	_ "embed"
	"encoding/json"
)

//go:embed timezones.json
var timezonesJSON []byte

type available struct {
	Available int `json:"available"`
}

type sensorCapabilities struct {
	Available int       `json:"available"`
	Clip      available `json:"clip"`
	ZLL       available `json:"zll"`
	ZGP       available `json:"zgp"`
}

type sceneCapabilities struct {
	Available   int       `json:"available"`
	LightStates available `json:"lightstates"`
}

type ruleCapabilities struct {
	Available  int       `json:"available"`
	Actions    available `json:"actions"`
	Conditions available `json:"conditions"`
}

type streamingCapabilities struct {
	Available int `json:"available"`
	Total     int `json:"total"`
	Channels  int `json:"channels"`
}

type timezones struct {
	Values []string `json:"values"`
}

// Capabilities lists how many resources of each kind the bridge accepts.
type Capabilities struct {
	Lights        available             `json:"lights"`
	Sensors       sensorCapabilities    `json:"sensors"`
	Groups        available             `json:"groups"`
	Scenes        sceneCapabilities     `json:"scenes"`
	Rules         ruleCapabilities      `json:"rules"`
	Schedules     available             `json:"schedules"`
	Resourcelinks available             `json:"resourcelinks"`
	Streaming     streamingCapabilities `json:"streaming"`
	Timezones     timezones             `json:"timezones"`
}

func capabilityRoutes(h *handler) *family {
	return &family{name: "capabilities", h: h, routes: []route{
		get(`^/api/(\w+)/capabilities$`, h.getCapabilities),
		get(`^/api/(\w+)/capabilities/timezones$`, h.getTimezones),
	}}
}

func (h *handler) capabilities() Capabilities {
	return Capabilities{
		Lights: available{64},
		Sensors: sensorCapabilities{
			Available: 63,
			Clip:      available{63},
			ZLL:       available{63},
			ZGP:       available{63},
		},
		Groups:        available{63},
		Scenes:        sceneCapabilities{Available: 200, LightStates: available{2048}},
		Rules:         ruleCapabilities{Available: 250, Actions: available{1000}, Conditions: available{1500}},
		Schedules:     available{100},
		Resourcelinks: available{64},
		Streaming:     streamingCapabilities{Available: 1, Total: 1, Channels: 10},
		Timezones:     timezones{Values: h.timezones()},
	}
}

func (h *handler) timezones() []string {
	var tz []string
	if err := json.Unmarshal(timezonesJSON, &tz); err != nil {
		h.logger.Error("decode timezones", "err", err)
		return []string{}
	}
	return tz
}

func (h *handler) getCapabilities(_ Request, _ []string) Response {
	return jsonResponse(h.capabilities())
}

func (h *handler) getTimezones(_ Request, _ []string) Response {
	return jsonResponse(h.timezones())
}
