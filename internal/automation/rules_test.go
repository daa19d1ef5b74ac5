package automation

import (
	"context"
	"slices"
	"testing"
	"time"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/hue"
)

func addSensor(t *testing.T, ds *datastore.Datastore, state map[string]any) string {
	t.Helper()
	s := hue.NewSensor()
	s.Type = "CLIPGenericStatus"
	for k, v := range state {
		s.State[k] = v
	}
	id, err := ds.CreateSensor(s)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func addRule(t *testing.T, ds *datastore.Datastore, conds []hue.Condition, actions ...hue.Action) string {
	t.Helper()
	r := hue.NewRule("owner1", testNow)
	r.Name = "test rule"
	r.Conditions = conds
	r.Actions = append([]hue.Action{}, actions...)
	id, err := ds.CreateRule(r)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestRuleEqualsFiresActions(t *testing.T) {
	clk := newClock(testNow)
	ds := newTestDatastore(t, clk)
	sid := addSensor(t, ds, map[string]any{"status": 2, "flag": true})
	f := &firer{}
	obs := newCounts()
	e := NewRuleEngine(ds, f, discard, WithObserver(obs))

	matching := addRule(t, ds, []hue.Condition{
		{Address: "/sensors/" + sid + "/state/status", Operator: "eq", Value: "2"},
		{Address: "/sensors/" + sid + "/state/flag", Operator: "eq", Value: "true"},
	}, hue.Action{Address: "/lights/1/state", Method: "PUT", Body: map[string]any{"on": true}})
	addRule(t, ds, []hue.Condition{
		{Address: "/sensors/" + sid + "/state/status", Operator: "eq", Value: "3"},
	}, hue.Action{Address: "/lights/2/state", Method: "PUT", Body: map[string]any{"on": true}})

	later := testNow.Add(5 * time.Second)
	got := e.EvaluateAll(later)
	if !slices.Equal(got, []string{matching}) {
		t.Fatalf("triggered = %v, want [%s]", got, matching)
	}

	calls := f.fired()
	if len(calls) != 1 {
		t.Fatalf("fired %d actions, want 1", len(calls))
	}
	if calls[0].method != "PUT" || calls[0].url != "/api/owner1/lights/1/state" {
		t.Errorf("fired %s %s, want PUT /api/owner1/lights/1/state", calls[0].method, calls[0].url)
	}

	r, err := ds.Rule(matching)
	if err != nil {
		t.Fatal(err)
	}
	if r.TimesTriggered != 1 {
		t.Errorf("timestriggered = %d, want 1", r.TimesTriggered)
	}
	if r.LastTriggered != hue.FormatTime(later) {
		t.Errorf("lasttriggered = %q, want %q", r.LastTriggered, hue.FormatTime(later))
	}
	if obs.rules[matching] != 1 {
		t.Errorf("observer saw %d triggers, want 1", obs.rules[matching])
	}
}

func TestRuleEqualsValueTypes(t *testing.T) {
	tests := []struct {
		state any
		value string
		want  bool
	}{
		{true, "true", true},
		{false, "true", false},
		{false, "false", true},
		{1, "true", false},
		{5, "5", true},
		{5.0, "5", true},
		{5.5, "5", false},
		{"5", "5", false},
		{nil, "0", false},
		{5, "five", false},
	}
	for _, tt := range tests {
		if got := equal(tt.state, tt.value); got != tt.want {
			t.Errorf("equal(%#v, %q) = %v, want %v", tt.state, tt.value, got, tt.want)
		}
	}
}

func TestRuleDxMatchesOnlyInTheChangedSecond(t *testing.T) {
	clk := newClock(testNow)
	ds := newTestDatastore(t, clk)
	sid := addSensor(t, ds, map[string]any{"buttonevent": 1002})
	f := &firer{}
	e := NewRuleEngine(ds, f, discard)
	addRule(t, ds, []hue.Condition{
		{Address: "/sensors/" + sid + "/state/lastupdated", Operator: "dx"},
	}, hue.Action{Address: "/groups/0/action", Method: "PUT", Body: map[string]any{"on": false}})

	if got := e.EvaluateAll(testNow); len(got) != 1 {
		t.Errorf("same second: triggered %v, want one rule", got)
	}
	if got := e.EvaluateAll(testNow.Add(time.Second)); len(got) != 0 {
		t.Errorf("next second: triggered %v, want none", got)
	}

	// A further change re-arms the condition.
	changed := testNow.Add(10 * time.Second)
	clk.Set(changed)
	s, err := ds.Sensor(sid)
	if err != nil {
		t.Fatal(err)
	}
	s.State["buttonevent"] = 2002
	if err := ds.UpdateSensor(sid, s); err != nil {
		t.Fatal(err)
	}
	if got := e.EvaluateAll(changed); len(got) != 1 {
		t.Errorf("after change: triggered %v, want one rule", got)
	}
	if n := len(f.fired()); n != 2 {
		t.Errorf("fired %d actions, want 2", n)
	}
}

func TestRuleDdxWaitsForDelay(t *testing.T) {
	clk := newClock(testNow)
	ds := newTestDatastore(t, clk)
	sid := addSensor(t, ds, map[string]any{"presence": true})
	e := NewRuleEngine(ds, &firer{}, discard)
	addRule(t, ds, []hue.Condition{
		{Address: "/sensors/" + sid + "/state/presence", Operator: "ddx", Value: "PT00:05:00"},
	})

	if got := e.EvaluateAll(testNow); len(got) != 0 {
		t.Errorf("at change: triggered %v, want none", got)
	}
	if got := e.EvaluateAll(testNow.Add(5 * time.Minute)); len(got) != 1 {
		t.Errorf("after delay: triggered %v, want one rule", got)
	}
	if got := e.EvaluateAll(testNow.Add(5*time.Minute + time.Second)); len(got) != 0 {
		t.Errorf("after delay+1s: triggered %v, want none", got)
	}
}

func TestRuleUnevaluatedOperatorsAreNeutral(t *testing.T) {
	clk := newClock(testNow)
	ds := newTestDatastore(t, clk)
	sid := addSensor(t, ds, map[string]any{"status": 10})
	e := NewRuleEngine(ds, &firer{}, discard)
	addr := "/sensors/" + sid + "/state/status"

	var withEq, withFailingEq []string
	for _, op := range []string{"lt", "gt", "in", "not in", "stable", "not stable"} {
		withEq = append(withEq, addRule(t, ds, []hue.Condition{
			{Address: addr, Operator: op, Value: "20"},
			{Address: addr, Operator: "eq", Value: "10"},
		}))
		withFailingEq = append(withFailingEq, addRule(t, ds, []hue.Condition{
			{Address: addr, Operator: op, Value: "20"},
			{Address: addr, Operator: "eq", Value: "11"},
		}))
	}
	addRule(t, ds, []hue.Condition{{Address: addr, Operator: "bogus", Value: "20"}})

	got := e.EvaluateAll(testNow)
	slices.Sort(got)
	slices.Sort(withEq)
	if !slices.Equal(got, withEq) {
		t.Errorf("triggered %v, want %v", got, withEq)
	}
	for _, id := range withFailingEq {
		if slices.Contains(got, id) {
			t.Errorf("rule %s with failing eq triggered", id)
		}
	}
}

func TestRuleEmptyConditionsMatch(t *testing.T) {
	ds := newTestDatastore(t, newClock(testNow))
	e := NewRuleEngine(ds, &firer{}, discard)
	id := addRule(t, ds, nil)
	if got := e.EvaluateAll(testNow); !slices.Equal(got, []string{id}) {
		t.Errorf("triggered %v, want [%s]", got, id)
	}
}

func TestRuleSkipsDisabledAndMissingSensor(t *testing.T) {
	ds := newTestDatastore(t, newClock(testNow))
	e := NewRuleEngine(ds, &firer{}, discard)

	id := addRule(t, ds, nil)
	r, _ := ds.Rule(id)
	r.Status = "disabled"
	if err := ds.UpdateRule(id, r); err != nil {
		t.Fatal(err)
	}
	addRule(t, ds, []hue.Condition{{Address: "/sensors/99/state/status", Operator: "eq", Value: "1"}})

	if got := e.EvaluateAll(testNow); len(got) != 0 {
		t.Errorf("triggered %v, want none", got)
	}
}

func TestRuleEngineStartStop(t *testing.T) {
	ds := newTestDatastore(t, newClock(testNow))
	obs := newCounts()
	id := addRule(t, ds, nil)
	e := NewRuleEngine(ds, &firer{}, discard, WithTick(5*time.Millisecond), WithObserver(obs), WithClock(func() time.Time { return testNow }))

	e.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for {
		obs.mu.Lock()
		n := obs.rules[id]
		obs.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("rule never evaluated")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.Stop()
	e.Stop()
}
