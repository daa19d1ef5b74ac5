//go:build !no_mqtt

package mqtt

import (
	"fmt"
	"slices"
	"strings"

	"hue-go-bridge/internal/hue"
)

// discoveryMsg is a Home Assistant MQTT discovery payload.
type discoveryMsg struct {
	Topic   string // e.g. "homeassistant/light/huebridge_light_1/light/config"
	Payload []byte // JSON, empty means delete
}

// haDevice is the "device" block in HA discovery.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name"`
}

// haDiscovery is a generic HA discovery payload.
type haDiscovery struct {
	Name                      string   `json:"name"`
	UniqueID                  string   `json:"unique_id"`
	StateTopic                string   `json:"state_topic"`
	CommandTopic              string   `json:"command_topic,omitempty"`
	AvailabilityTopic         string   `json:"availability_topic"`
	ValueTemplate             string   `json:"value_template,omitempty"`
	StateValueTemplate        string   `json:"state_value_template,omitempty"`
	UnitOfMeasurement         string   `json:"unit_of_measurement,omitempty"`
	DeviceClass               string   `json:"device_class,omitempty"`
	StateClass                string   `json:"state_class,omitempty"`
	PayloadOn                 string   `json:"payload_on,omitempty"`
	PayloadOff                string   `json:"payload_off,omitempty"`
	BrightnessScale           int      `json:"brightness_scale,omitempty"`
	BrightnessStateTopic      string   `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic    string   `json:"brightness_command_topic,omitempty"`
	BrightnessValueTemplate   string   `json:"brightness_value_template,omitempty"`
	BrightnessCommandTemplate string   `json:"brightness_command_template,omitempty"`
	OnCommandType             string   `json:"on_command_type,omitempty"`
	SupportedColorModes       []string `json:"supported_color_modes,omitempty"`
	Device                    haDevice `json:"device"`
}

// sensorEntity maps a Hue sensor type to one HA entity reading a key of
// the sensor state.
type sensorEntity struct {
	component   string // sensor or binary_sensor
	deviceClass string
	unit        string
	template    string
}

var sensorEntities = map[string]sensorEntity{
	"Daylight":          {"binary_sensor", "light", "", "{{ 'ON' if value_json.daylight else 'OFF' }}"},
	"ZLLPresence":       {"binary_sensor", "occupancy", "", "{{ 'ON' if value_json.presence else 'OFF' }}"},
	"CLIPPresence":      {"binary_sensor", "occupancy", "", "{{ 'ON' if value_json.presence else 'OFF' }}"},
	"CLIPOpenClose":     {"binary_sensor", "opening", "", "{{ 'ON' if value_json.open else 'OFF' }}"},
	"CLIPGenericFlag":   {"binary_sensor", "", "", "{{ 'ON' if value_json.flag else 'OFF' }}"},
	"ZLLTemperature":    {"sensor", "temperature", "°C", "{{ value_json.temperature / 100 }}"},
	"CLIPTemperature":   {"sensor", "temperature", "°C", "{{ value_json.temperature / 100 }}"},
	"CLIPHumidity":      {"sensor", "humidity", "%", "{{ value_json.humidity / 100 }}"},
	"ZLLLightLevel":     {"sensor", "illuminance", "lx", "{{ (10 ** ((value_json.lightlevel - 1) / 10000)) | round(1) }}"},
	"CLIPLightLevel":    {"sensor", "illuminance", "lx", "{{ (10 ** ((value_json.lightlevel - 1) / 10000)) | round(1) }}"},
	"CLIPGenericStatus": {"sensor", "", "", "{{ value_json.status }}"},
}

func nodeID(kind, id string) string {
	return "huebridge_" + kind + "_" + id
}

func displayName(name, kind, id string) string {
	if name != "" {
		return name
	}
	return strings.ToUpper(kind[:1]) + kind[1:] + " " + id
}

// buildLightDiscovery describes light id as an HA light driven through
// P/lights/<id>/set.
func buildLightDiscovery(id string, l hue.Light, prefix, discoveryPrefix string) []discoveryMsg {
	node := nodeID("light", id)
	stateTopic := prefix + "/lights/" + id + "/state"
	cmdTopic := prefix + "/lights/" + id + "/set"

	payload := haDiscovery{
		Name:                displayName(l.Name, "light", id),
		UniqueID:            node + "_light",
		StateTopic:          stateTopic,
		CommandTopic:        cmdTopic,
		AvailabilityTopic:   prefix + "/bridge/state",
		StateValueTemplate:  "{{ 'ON' if value_json.on else 'OFF' }}",
		PayloadOn:           `{"on":true}`,
		PayloadOff:          `{"on":false}`,
		SupportedColorModes: []string{"onoff"},
		Device: haDevice{
			Identifiers:  []string{node},
			Manufacturer: l.ManufacturerName,
			Model:        l.ModelID,
			Name:         displayName(l.Name, "light", id),
		},
	}
	if t, ok := hue.LightTypeByName(l.Type); ok && slices.Contains(t.StateKeys, "bri") {
		payload.SupportedColorModes = []string{"brightness"}
		payload.BrightnessScale = 254
		payload.BrightnessStateTopic = stateTopic
		payload.BrightnessValueTemplate = "{{ value_json.bri }}"
		payload.BrightnessCommandTopic = cmdTopic
		payload.BrightnessCommandTemplate = `{"on":true,"bri":{{ value }}}`
		payload.OnCommandType = "brightness"
	}
	return []discoveryMsg{{
		Topic:   fmt.Sprintf("%s/light/%s/light/config", discoveryPrefix, node),
		Payload: mustJSON(payload),
	}}
}

// buildSensorDiscovery describes sensor id when its type has an HA
// counterpart, and returns nothing otherwise.
func buildSensorDiscovery(id string, s hue.Sensor, prefix, discoveryPrefix string) []discoveryMsg {
	e, ok := sensorEntities[s.Type]
	if !ok {
		return nil
	}
	node := nodeID("sensor", id)
	name := displayName(s.Name, "sensor", id)
	payload := haDiscovery{
		Name:              name,
		UniqueID:          node + "_" + e.component,
		StateTopic:        prefix + "/sensors/" + id + "/state",
		AvailabilityTopic: prefix + "/bridge/state",
		ValueTemplate:     e.template,
		UnitOfMeasurement: e.unit,
		DeviceClass:       e.deviceClass,
		Device: haDevice{
			Identifiers:  []string{node},
			Manufacturer: s.ManufacturerName,
			Model:        s.ModelID,
			Name:         name,
		},
	}
	if e.component == "binary_sensor" {
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	} else {
		payload.StateClass = "measurement"
	}
	return []discoveryMsg{{
		Topic:   fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, e.component, node, e.component),
		Payload: mustJSON(payload),
	}}
}

// buildRemoveDiscovery generates empty retained messages that remove every
// entity a light or sensor may have announced.
func buildRemoveDiscovery(kind, id, discoveryPrefix string) []discoveryMsg {
	node := nodeID(kind, id)
	components := []string{"light"}
	if kind == "sensor" {
		components = []string{"sensor", "binary_sensor"}
	}
	var msgs []discoveryMsg
	for _, c := range components {
		msgs = append(msgs, discoveryMsg{
			Topic: fmt.Sprintf("%s/%s/%s/%s/config", discoveryPrefix, c, node, c),
		})
	}
	return msgs
}
