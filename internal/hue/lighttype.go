package hue

import (
	"fmt"
	"strings"
)

// LightType describes one of the supported ZigBee Light Link device types.
type LightType struct {
	Code      uint16
	Name      string
	ModelID   string
	ColorMode string
	// StateKeys lists the state attributes the device type can render.
	StateKeys []string
}

var lightTypes = []LightType{
	{
		Code:      0x0000,
		Name:      "On/off Light",
		ModelID:   "XX001",
		StateKeys: []string{"on", "transitiontime"},
	},
	{
		Code:      0x0100,
		Name:      "Dimmable Light",
		ModelID:   "LWB010",
		StateKeys: []string{"on", "transitiontime", "bri"},
	},
	{
		Code:      0x0200,
		Name:      "Color Light",
		ModelID:   "LST001",
		StateKeys: []string{"on", "transitiontime", "bri", "hue", "sat", "xy", "colormode", "effect"},
	},
	{
		Code:      0x0210,
		Name:      "Extended Color Light",
		ModelID:   "LCT001",
		StateKeys: []string{"on", "transitiontime", "bri", "hue", "sat", "ct", "xy", "colormode", "effect"},
	},
	{
		Code:      0x0220,
		Name:      "Color Temperature Light",
		ModelID:   "LTW011",
		ColorMode: "ct",
		StateKeys: []string{"on", "transitiontime", "bri", "ct", "colormode"},
	},
}

// ParseLightType accepts a hex type code such as "0x0210".
func ParseLightType(code string) (LightType, error) {
	c := strings.ToLower(strings.TrimSpace(code))
	for _, t := range lightTypes {
		if c == fmt.Sprintf("0x%04x", t.Code) {
			return t, nil
		}
	}
	return LightType{}, fmt.Errorf("invalid light type %q", code)
}

// LightTypeByName maps a device type label back to its type.
func LightTypeByName(name string) (LightType, bool) {
	for _, t := range lightTypes {
		if t.Name == name {
			return t, true
		}
	}
	return LightType{}, false
}

// HexCode renders the type code the way adapters register it.
func (t LightType) HexCode() string {
	return fmt.Sprintf("0x%04X", t.Code)
}

// Filter keeps only the keys of change the device type can render.
func (t LightType) Filter(change map[string]any) map[string]any {
	out := make(map[string]any)
	for _, k := range t.StateKeys {
		if v, ok := change[k]; ok {
			out[k] = CloneValue(v)
		}
	}
	return out
}
