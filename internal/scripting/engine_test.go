//go:build !no_scripting

package scripting

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/store"

	lua "github.com/yuin/gopher-lua"
)

type engineFixture struct {
	e     *Engine
	ds    *datastore.Datastore
	bus   *events.Bus
	mgr   *Manager
	user  string
	light string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "scripting.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	bus := events.NewBus(testLogger())
	t.Cleanup(bus.Close)
	ds, err := datastore.New(st, datastore.WithLogger(testLogger()), datastore.WithPublisher(bus))
	if err != nil {
		t.Fatal(err)
	}
	user, err := ds.CreateUser("test#scripting")
	if err != nil {
		t.Fatal(err)
	}
	lt, err := hue.ParseLightType("0x0100")
	if err != nil {
		t.Fatal(err)
	}
	light, _, err := ds.CreateLight("node-1", "Desk", lt)
	if err != nil {
		t.Fatal(err)
	}
	api := bridge.New(ds, bridge.WithLogger(testLogger()), bridge.WithPublisher(bus))
	mgr := newTestManager(t)
	e := NewEngine(api, ds, mgr, testLogger())
	t.Cleanup(e.Stop)
	return &engineFixture{e: e, ds: ds, bus: bus, mgr: mgr, user: user, light: light}
}

func TestRunLuaCodeRequestAndRead(t *testing.T) {
	f := newEngineFixture(t)
	code := `
local res, status = hue.request("PUT", "/api/` + f.user + `/lights/` + f.light + `/state", {on = true, bri = 99})
hue.log(tostring(status))
hue.log(tostring(res[1].success ~= nil))
local l = hue.light("` + f.light + `")
hue.log(l.name .. " " .. tostring(l.state.on) .. " " .. l.state.bri)
hue.log(tostring(hue.light("404")))
`
	res := f.e.RunLuaCode(code)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"200", "true", "Desk true 99", "nil"}
	if !slices.Equal(res.Logs, want) {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}

	l, _ := f.ds.Light(f.light)
	if !l.State.On || l.State.Bri != 99 {
		t.Errorf("light state = %+v", l.State)
	}
}

func TestRunLuaCodeUnauthorized(t *testing.T) {
	f := newEngineFixture(t)
	res := f.e.RunLuaCode(`
local res, status = hue.request("GET", "/api/nobody/lights")
hue.log(tostring(res[1].error.type))
local none, code = hue.request("GET", "/nothing/here")
hue.log(tostring(none) .. " " .. code)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	want := []string{"1", "nil 404"}
	if !slices.Equal(res.Logs, want) {
		t.Errorf("logs = %q, want %q", res.Logs, want)
	}
}

func TestRunLuaCodeInvokesHandlers(t *testing.T) {
	f := newEngineFixture(t)
	res := f.e.RunLuaCode(`
hue.on("sensor-state-modified", "5", function(ev)
  hue.log(ev.type .. " " .. ev.id .. " " .. tostring(ev.value))
end)
`)
	if !res.OK {
		t.Fatalf("run failed: %s", res.Error)
	}
	if len(res.Logs) != 1 || res.Logs[0] != "sensor-state-modified 5 true" {
		t.Errorf("logs = %q", res.Logs)
	}
}

func TestRunLuaCodeErrors(t *testing.T) {
	f := newEngineFixture(t)
	if res := f.e.RunLuaCode(`this is not lua`); res.OK || res.Error == "" {
		t.Errorf("syntax error result = %+v", res)
	}
	if res := f.e.RunLuaCode(`os.exit(1)`); res.OK {
		t.Error("os available in sandbox")
	}
	res := f.e.RunLuaCode(`while true do end`)
	if res.OK || !strings.Contains(res.Error, "timeout") {
		t.Errorf("endless loop result = %+v", res)
	}
}

func TestRunScriptNotFound(t *testing.T) {
	f := newEngineFixture(t)
	if res := f.e.RunScript("missing"); res.OK {
		t.Error("missing script ran")
	}
}

func TestEngineRunsEnabledScriptsOnEvents(t *testing.T) {
	f := newEngineFixture(t)
	f.mgr.Save(&Script{ID: "follow", Meta: Meta{Name: "follow", Enabled: true}, Code: `
hue.on("sensor-state-modified", function(ev)
  if ev.value == true then
    hue.request("PUT", "/api/` + f.user + `/lights/` + f.light + `/state", {on = true})
  end
end)
`})
	f.mgr.Save(&Script{ID: "off", Meta: Meta{Name: "off"}, Code: `error("must not start")`})

	f.e.Start(f.bus)
	if n := f.e.Running(); n != 1 {
		t.Fatalf("running = %d, want 1", n)
	}

	f.bus.Publish(events.Event{Type: events.SensorStateModified, ID: "2", Value: true})
	f.bus.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for {
		l, _ := f.ds.Light(f.light)
		if l.State.On {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("script never switched the light on")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.e.StopScript("follow")
	if n := f.e.Running(); n != 0 {
		t.Errorf("running after stop = %d", n)
	}
	if err := f.e.ReloadScript("off"); err != nil {
		t.Errorf("reload of disabled script: %v", err)
	}
	if err := f.e.ReloadScript("follow"); err != nil {
		t.Fatal(err)
	}
	if n := f.e.Running(); n != 1 {
		t.Errorf("running after reload = %d", n)
	}
}

func TestHandlerLimit(t *testing.T) {
	f := newEngineFixture(t)
	res := f.e.RunLuaCode(`for i = 1, 101 do hue.on("*", function() end) end`)
	if res.OK || !strings.Contains(res.Error, "too many handlers") {
		t.Errorf("result = %+v", res)
	}
}

func TestMatchesHandler(t *testing.T) {
	ev := events.Event{Type: events.LightStateChanged, ID: "3"}
	tests := []struct {
		name string
		h    luaEventHandler
		want bool
	}{
		{"type only", luaEventHandler{eventType: events.LightStateChanged}, true},
		{"type and id", luaEventHandler{eventType: events.LightStateChanged, id: "3"}, true},
		{"other id", luaEventHandler{eventType: events.LightStateChanged, id: "4"}, false},
		{"other type", luaEventHandler{eventType: events.GroupModified}, false},
		{"wildcard", luaEventHandler{eventType: "*"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := matchesHandler(tt.h, ev); got != tt.want {
				t.Errorf("matchesHandler = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGoToLua(t *testing.T) {
	L := lua.NewState()
	defer L.Close()

	tests := []struct {
		name string
		val  any
		want lua.LValueType
	}{
		{"nil", nil, lua.LTNil},
		{"bool", true, lua.LTBool},
		{"string", "hello", lua.LTString},
		{"int", 42, lua.LTNumber},
		{"uint16", uint16(1024), lua.LTNumber},
		{"float64", 3.14, lua.LTNumber},
		{"map", map[string]any{"a": 1}, lua.LTTable},
		{"slice", []any{1, 2}, lua.LTTable},
		{"strings", []string{"1", "2"}, lua.LTTable},
		{"unknown", struct{}{}, lua.LTString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := goToLua(L, tt.val).Type(); got != tt.want {
				t.Errorf("goToLua(%v) type = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestLuaToGo(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	if err := L.DoString(`v = {on = true, bri = 10, xy = {0.3, 0.4}, name = "x"}`); err != nil {
		t.Fatal(err)
	}
	got, ok := luaToGo(L.GetGlobal("v")).(map[string]any)
	if !ok {
		t.Fatalf("luaToGo = %T, want map", got)
	}
	if got["on"] != true || got["bri"] != int64(10) || got["name"] != "x" {
		t.Errorf("scalars = %v", got)
	}
	xy, ok := got["xy"].([]any)
	if !ok || len(xy) != 2 || xy[0] != 0.3 {
		t.Errorf("xy = %v", got["xy"])
	}
}
