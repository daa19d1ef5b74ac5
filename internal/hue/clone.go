package hue

// CloneValue deep-copies a decoded JSON value.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = CloneValue(e)
		}
		return out
	case []float64:
		return append([]float64(nil), val...)
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

// CloneMap deep-copies a JSON object. A nil map stays nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}

func cloneFloats(f []float64) []float64 {
	if f == nil {
		return nil
	}
	return append([]float64{}, f...)
}

func (s LightState) Clone() LightState {
	s.XY = cloneFloats(s.XY)
	return s
}

func (l Light) Clone() Light {
	l.State = l.State.Clone()
	return l
}

func (g Group) Clone() Group {
	g.Lights = cloneStrings(g.Lights)
	g.Action.XY = cloneFloats(g.Action.XY)
	return g
}

func (s Scene) Clone() Scene {
	s.Lights = cloneStrings(s.Lights)
	s.AppData = CloneMap(s.AppData)
	if s.TransitionTime != nil {
		tt := *s.TransitionTime
		s.TransitionTime = &tt
	}
	if s.LightStates != nil {
		ls := make(map[string]map[string]any, len(s.LightStates))
		for id, st := range s.LightStates {
			ls[id] = CloneMap(st)
		}
		s.LightStates = ls
	}
	return s
}

func (c Command) Clone() Command {
	c.Body = CloneMap(c.Body)
	return c
}

func (s Schedule) Clone() Schedule {
	s.Command = s.Command.Clone()
	return s
}

func (s Sensor) Clone() Sensor {
	s.State = CloneMap(s.State)
	s.Config = CloneMap(s.Config)
	return s
}

func (r Rule) Clone() Rule {
	if r.Conditions != nil {
		r.Conditions = append([]Condition{}, r.Conditions...)
	}
	if r.Actions != nil {
		actions := make([]Action, len(r.Actions))
		for i, a := range r.Actions {
			a.Body = CloneMap(a.Body)
			actions[i] = a
		}
		r.Actions = actions
	}
	return r
}

func (r Resourcelink) Clone() Resourcelink {
	r.Links = cloneStrings(r.Links)
	return r
}

func (c Config) Clone() Config {
	if c.Whitelist != nil {
		wl := make(map[string]WhitelistEntry, len(c.Whitelist))
		for k, v := range c.Whitelist {
			wl[k] = v
		}
		c.Whitelist = wl
	}
	return c
}
