// Package hue holds the resource model exposed by the bridge API.
package hue

import "time"

// LightState is the mutable state block of a light.
type LightState struct {
	On             bool      `json:"on"`
	Bri            int       `json:"bri"`
	Hue            int       `json:"hue"`
	Sat            int       `json:"sat"`
	Effect         string    `json:"effect"`
	XY             []float64 `json:"xy"`
	CT             int       `json:"ct"`
	Alert          string    `json:"alert"`
	ColorMode      string    `json:"colormode"`
	TransitionTime int       `json:"transitiontime"`
	Reachable      bool      `json:"reachable"`
}

type Streaming struct {
	Renderer bool `json:"renderer"`
	Proxy    bool `json:"proxy"`
}

type LightCapabilities struct {
	Certified bool      `json:"certified"`
	Streaming Streaming `json:"streaming"`
}

type SWUpdate struct {
	State       string `json:"state"`
	LastInstall string `json:"lastinstall"`
}

// Light is a virtual lamp owned by an adapter client.
type Light struct {
	State            LightState        `json:"state"`
	SWUpdate         SWUpdate          `json:"swupdate"`
	Type             string            `json:"type"`
	Name             string            `json:"name"`
	ModelID          string            `json:"modelid"`
	ManufacturerName string            `json:"manufacturername"`
	ProductID        string            `json:"productid"`
	Capabilities     LightCapabilities `json:"capabilities"`
	UniqueID         string            `json:"uniqueid"`
	SWVersion        string            `json:"swversion"`
}

type GroupState struct {
	AllOn bool `json:"all_on"`
	AnyOn bool `json:"any_on"`
}

// GroupAction is the last action applied to a group.
type GroupAction struct {
	On             bool      `json:"on"`
	Bri            int       `json:"bri"`
	Hue            int       `json:"hue"`
	Sat            int       `json:"sat"`
	Effect         string    `json:"effect"`
	XY             []float64 `json:"xy"`
	CT             int       `json:"ct"`
	Alert          string    `json:"alert"`
	ColorMode      string    `json:"colormode"`
	TransitionTime int       `json:"transitiontime"`
}

type Group struct {
	Name    string      `json:"name"`
	Lights  []string    `json:"lights"`
	Type    string      `json:"type"`
	State   GroupState  `json:"state"`
	Recycle bool        `json:"recycle"`
	Class   string      `json:"class"`
	Action  GroupAction `json:"action"`
}

// Scene stores per-light target states. LightStates values use the same
// keys as a light state update body.
type Scene struct {
	Name           string                    `json:"name"`
	Lights         []string                  `json:"lights"`
	Owner          string                    `json:"owner"`
	Recycle        bool                      `json:"recycle"`
	Locked         bool                      `json:"locked"`
	AppData        map[string]any            `json:"appdata"`
	Picture        string                    `json:"picture"`
	Effect         string                    `json:"effect"`
	TransitionTime *int                      `json:"transitiontime,omitempty"`
	LastUpdated    string                    `json:"lastupdated"`
	Version        int                       `json:"version"`
	LightStates    map[string]map[string]any `json:"lightstates"`
}

// Command is an API call stored in a schedule. Address includes the
// /api/<username> prefix.
type Command struct {
	Address string         `json:"address,omitempty"`
	Method  string         `json:"method,omitempty"`
	Body    map[string]any `json:"body,omitempty"`
}

// IsZero reports whether the command was never set or has been cleared.
func (c Command) IsZero() bool {
	return c.Address == "" && c.Method == "" && len(c.Body) == 0
}

type Schedule struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Command     Command `json:"command"`
	LocalTime   string  `json:"localtime"`
	Time        string  `json:"time"`
	Created     string  `json:"created"`
	Status      string  `json:"status"`
	AutoDelete  bool    `json:"autodelete"`
	Recycle     bool    `json:"recycle"`
}

type Sensor struct {
	State            map[string]any `json:"state"`
	Config           map[string]any `json:"config"`
	Name             string         `json:"name"`
	Type             string         `json:"type"`
	ModelID          string         `json:"modelid"`
	ManufacturerName string         `json:"manufacturername"`
	ProductName      string         `json:"productname"`
	UniqueID         string         `json:"uniqueid"`
	SWVersion        string         `json:"swversion"`
	Recycle          bool           `json:"recycle"`
}

// Condition addresses a sensor state attribute: /sensors/<id>/state/<key>.
type Condition struct {
	Address  string `json:"address"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Action addresses are relative to /api/<owner>.
type Action struct {
	Address string         `json:"address"`
	Method  string         `json:"method"`
	Body    map[string]any `json:"body"`
}

type Rule struct {
	Name           string      `json:"name"`
	Owner          string      `json:"owner"`
	Created        string      `json:"created"`
	LastTriggered  string      `json:"lasttriggered"`
	TimesTriggered int         `json:"timestriggered"`
	Status         string      `json:"status"`
	Recycle        bool        `json:"recycle"`
	Conditions     []Condition `json:"conditions"`
	Actions        []Action    `json:"actions"`
}

type Resourcelink struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Type        string   `json:"type"`
	ClassID     int      `json:"classid"`
	Owner       string   `json:"owner"`
	Recycle     bool     `json:"recycle"`
	Links       []string `json:"links"`
}

// WhitelistEntry describes one authorized username.
type WhitelistEntry struct {
	LastUseDate string `json:"last use date"`
	CreateDate  string `json:"create date"`
	Name        string `json:"name"`
}

// Config is the persisted part of the bridge configuration.
type Config struct {
	Name           string                    `json:"name"`
	Timezone       string                    `json:"timezone"`
	PortalServices bool                      `json:"portalservices"`
	ZigbeeChannel  int                       `json:"zigbeechannel"`
	LinkButton     bool                      `json:"linkbutton"`
	Whitelist      map[string]WhitelistEntry `json:"whitelist"`
}

const (
	DaylightSensorID = "1"
	lastInstall      = "2018-02-02T00:00:00"
)

// DefaultConfig returns the configuration of a factory-new bridge.
func DefaultConfig(name string) Config {
	return Config{
		Name:          name,
		Timezone:      "Europe/Copenhagen",
		ZigbeeChannel: 25,
		Whitelist:     map[string]WhitelistEntry{},
	}
}

// DefaultLightState is the state of a freshly registered light.
func DefaultLightState() LightState {
	return LightState{
		ColorMode:      "hs",
		Effect:         "none",
		XY:             []float64{1, 1},
		Bri:            254,
		CT:             500,
		TransitionTime: 4,
		Alert:          "none",
		Reachable:      true,
	}
}

// NewLight builds a light record for the given type and client.
func NewLight(clientID, name string, t LightType) Light {
	st := DefaultLightState()
	if t.ColorMode != "" {
		st.ColorMode = t.ColorMode
	}
	return Light{
		State:            st,
		SWUpdate:         SWUpdate{State: "notupdatable", LastInstall: lastInstall},
		Type:             t.Name,
		Name:             name,
		ModelID:          t.ModelID,
		ManufacturerName: "Go Hue Bridge",
		ProductID:        "hue-go-bridge",
		Capabilities:     LightCapabilities{Certified: true, Streaming: Streaming{Renderer: true}},
		UniqueID:         clientID,
		SWVersion:        "99999999",
	}
}

func NewGroup(name string) Group {
	return Group{
		Name:   name,
		Lights: []string{},
		Type:   "LightGroup",
		Class:  "Other",
		Action: GroupAction{
			ColorMode:      "hs",
			Effect:         "none",
			XY:             []float64{0, 0},
			CT:             500,
			TransitionTime: 4,
			Alert:          "none",
		},
	}
}

func NewScene(owner string, now time.Time) Scene {
	return Scene{
		Lights:      []string{},
		Owner:       owner,
		Recycle:     true,
		AppData:     map[string]any{},
		LastUpdated: FormatTime(now),
		Version:     2,
		LightStates: map[string]map[string]any{},
	}
}

func NewSchedule(now time.Time) Schedule {
	return Schedule{
		Created:    FormatTime(now),
		Status:     "enabled",
		AutoDelete: true,
		Recycle:    true,
	}
}

func NewSensor() Sensor {
	return Sensor{
		State:            map[string]any{"lastupdated": "none"},
		Config:           map[string]any{"on": false, "reachable": true},
		ManufacturerName: "Go Hue Bridge",
		ProductName:      "Go Hue Bridge Sensor",
		SWVersion:        "1.0",
	}
}

// NewDaylightSensor builds the always-present sensor with id 1.
func NewDaylightSensor() Sensor {
	s := NewSensor()
	s.Name = "Daylight"
	s.Type = "Daylight"
	s.ModelID = "PHDL00"
	s.ManufacturerName = "Philips"
	s.State["daylight"] = false
	s.Config = map[string]any{
		"on":            true,
		"long":          "none",
		"lat":           "none",
		"configured":    false,
		"sunriseoffset": 30,
		"sunsetoffset":  -30,
	}
	return s
}

func NewRule(owner string, now time.Time) Rule {
	return Rule{
		Owner:         owner,
		Created:       FormatTime(now),
		LastTriggered: "none",
		Status:        "enabled",
		Recycle:       true,
		Conditions:    []Condition{},
		Actions:       []Action{},
	}
}

func NewResourcelink(owner string) Resourcelink {
	return Resourcelink{
		Type:    "Link",
		ClassID: 1,
		Owner:   owner,
		Recycle: true,
		Links:   []string{},
	}
}
