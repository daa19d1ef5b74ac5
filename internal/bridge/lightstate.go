package bridge

import (
	"math"

	"hue-go-bridge/internal/hue"
)

// Attribute ranges of a light state.
const (
	minBri = 1
	maxBri = 254
	maxSat = 254
	minCT  = 153
	maxCT  = 500
	hueMod = 65536
)

// stateResult is one applied attribute with its resulting value. Increments
// report the attribute they changed.
type stateResult struct {
	key   string
	value any
}

// appliedState is the outcome of applying an update body to a light state.
type appliedState struct {
	results []stateResult
	// change holds the resulting absolute values keyed by state attribute.
	change    map[string]any
	colorMode string
}

// applyState applies body to st in a fixed attribute order. The color mode
// follows the last color family touched with precedence xy > ct > hs;
// without any color attribute an explicit colormode is taken as given.
// Values of the wrong JSON type are skipped.
func applyState(st *hue.LightState, body Body) appliedState {
	a := appliedState{change: map[string]any{}}
	var touchedXY, touchedCT, touchedHS bool

	record := func(attr string, value any) {
		a.results = append(a.results, stateResult{key: attr, value: value})
		a.change[attr] = value
	}

	if on, ok := body.Bool("on"); ok {
		st.On = on
		record("on", on)
	}

	if bri, ok := body.Int("bri"); ok {
		st.Bri = clamp(bri, minBri, maxBri)
		record("bri", st.Bri)
	} else if inc, ok := body.Int("bri_inc"); ok {
		st.Bri = clamp(st.Bri+inc, minBri, maxBri)
		record("bri", st.Bri)
	}

	if h, ok := body.Int("hue"); ok {
		st.Hue = clamp(h, 0, hueMod-1)
		touchedHS = true
		record("hue", st.Hue)
	} else if inc, ok := body.Int("hue_inc"); ok {
		st.Hue = ((st.Hue+inc)%hueMod + hueMod) % hueMod
		touchedHS = true
		record("hue", st.Hue)
	}

	if sat, ok := body.Int("sat"); ok {
		st.Sat = clamp(sat, 0, maxSat)
		touchedHS = true
		record("sat", st.Sat)
	} else if inc, ok := body.Int("sat_inc"); ok {
		st.Sat = clamp(st.Sat+inc, 0, maxSat)
		touchedHS = true
		record("sat", st.Sat)
	}

	if ct, ok := body.Int("ct"); ok {
		st.CT = clamp(ct, minCT, maxCT)
		touchedCT = true
		record("ct", st.CT)
	} else if inc, ok := body.Int("ct_inc"); ok {
		st.CT = clamp(st.CT+inc, minCT, maxCT)
		touchedCT = true
		record("ct", st.CT)
	}

	if xy, ok := hue.ToXY(body.Value("xy")); ok {
		st.XY = []float64{clampUnit(xy[0]), clampUnit(xy[1])}
		touchedXY = true
		record("xy", st.XY)
	} else if inc, ok := hue.ToXY(body.Value("xy_inc")); ok {
		cur := st.XY
		if len(cur) != 2 {
			cur = []float64{0, 0}
		}
		st.XY = []float64{clampUnit(cur[0] + inc[0]), clampUnit(cur[1] + inc[1])}
		touchedXY = true
		record("xy", st.XY)
	}

	switch {
	case touchedXY:
		a.colorMode = "xy"
	case touchedCT:
		a.colorMode = "ct"
	case touchedHS:
		a.colorMode = "hs"
	default:
		if cm, ok := body.String("colormode"); ok {
			a.colorMode = cm
		}
	}
	if a.colorMode != "" {
		st.ColorMode = a.colorMode
		record("colormode", a.colorMode)
	}

	if effect, ok := body.String("effect"); ok {
		st.Effect = effect
		record("effect", effect)
	}
	if alert, ok := body.String("alert"); ok {
		st.Alert = alert
		record("alert", alert)
	}
	if tt, ok := body.Int("transitiontime"); ok && tt >= 0 {
		st.TransitionTime = tt
		record("transitiontime", tt)
	}
	return a
}

// sceneState captures the attributes of st a scene restores: on, bri and
// the color attributes of its current color mode.
func sceneState(st hue.LightState) map[string]any {
	m := map[string]any{"on": st.On, "bri": st.Bri}
	switch st.ColorMode {
	case "xy":
		if len(st.XY) == 2 {
			m["xy"] = []any{st.XY[0], st.XY[1]}
		}
	case "ct":
		m["ct"] = st.CT
	case "hs":
		m["hue"] = st.Hue
		m["sat"] = st.Sat
	}
	return m
}

func actionState(a hue.GroupAction) hue.LightState {
	return hue.LightState{
		On:             a.On,
		Bri:            a.Bri,
		Hue:            a.Hue,
		Sat:            a.Sat,
		Effect:         a.Effect,
		XY:             append([]float64(nil), a.XY...),
		CT:             a.CT,
		Alert:          a.Alert,
		ColorMode:      a.ColorMode,
		TransitionTime: a.TransitionTime,
	}
}

func groupAction(st hue.LightState) hue.GroupAction {
	return hue.GroupAction{
		On:             st.On,
		Bri:            st.Bri,
		Hue:            st.Hue,
		Sat:            st.Sat,
		Effect:         st.Effect,
		XY:             st.XY,
		CT:             st.CT,
		Alert:          st.Alert,
		ColorMode:      st.ColorMode,
		TransitionTime: st.TransitionTime,
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
