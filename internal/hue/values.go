package hue

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// ToInt converts a decoded JSON number to int. Strings are not accepted.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(math.Round(n)), true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return int(math.Round(f)), true
	}
	return 0, false
}

func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// ToXY converts a two-element JSON array to an xy pair.
func ToXY(v any) ([]float64, bool) {
	switch arr := v.(type) {
	case []float64:
		if len(arr) == 2 {
			return []float64{arr[0], arr[1]}, true
		}
	case []any:
		if len(arr) != 2 {
			return nil, false
		}
		x, okX := ToFloat(arr[0])
		y, okY := ToFloat(arr[1])
		if okX && okY {
			return []float64{x, y}, true
		}
	}
	return nil, false
}

// ToString renders scalars the way a rule condition value is stored.
func ToString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

// StateMap converts a light state into the generic form stored in scenes.
func StateMap(s LightState) map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}
