package datastore

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/store"
)

var testNow = time.Date(2024, 5, 17, 12, 30, 0, 0, time.Local)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func openStore(t *testing.T, path string) *store.BoltStore {
	t.Helper()
	st, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestDatastore(t *testing.T, opts ...Option) *Datastore {
	t.Helper()
	st := openStore(t, filepath.Join(t.TempDir(), "test.db"))
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	d, err := New(st, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func extendedColor(t *testing.T) hue.LightType {
	t.Helper()
	lt, err := hue.ParseLightType("0x0210")
	if err != nil {
		t.Fatal(err)
	}
	return lt
}

func TestDaylightSensorCreated(t *testing.T) {
	d := newTestDatastore(t)

	s, err := d.Sensor(hue.DaylightSensorID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Type != "Daylight" {
		t.Errorf("type = %q, want Daylight", s.Type)
	}
	if s.Config["long"] != "none" {
		t.Errorf("config.long = %v, want none", s.Config["long"])
	}

	id, err := d.CreateSensor(hue.NewSensor())
	if err != nil {
		t.Fatal(err)
	}
	if id != "2" {
		t.Errorf("next sensor id = %q, want 2", id)
	}
}

func TestDeleteDaylightSensorRefused(t *testing.T) {
	d := newTestDatastore(t)
	if err := d.DeleteSensor(hue.DaylightSensorID); !errors.Is(err, ErrReserved) {
		t.Errorf("err = %v, want ErrReserved", err)
	}
}

func TestCreateLightIDs(t *testing.T) {
	d := newTestDatastore(t)
	lt := extendedColor(t)

	var ids []string
	for _, client := range []string{"a", "b", "c"} {
		id, created, err := d.CreateLight(client, "Lamp "+client, lt)
		if err != nil {
			t.Fatal(err)
		}
		if !created {
			t.Errorf("client %s: created = false, want true", client)
		}
		ids = append(ids, id)
	}
	if want := []string{"1", "2", "3"}; !slices.Equal(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}

	id, created, err := d.CreateLight("b", "again", lt)
	if err != nil {
		t.Fatal(err)
	}
	if id != "2" || created {
		t.Errorf("re-register = %q, %v, want 2, false", id, created)
	}
	l, _ := d.Light("2")
	if l.Name != "Lamp b" {
		t.Errorf("name = %q, want unchanged", l.Name)
	}
}

func TestRemovedLightKeepsItsID(t *testing.T) {
	d := newTestDatastore(t)
	lt := extendedColor(t)

	d.CreateLight("a", "A", lt)
	d.CreateLight("b", "B", lt)
	if err := d.DeleteLight("1"); err != nil {
		t.Fatal(err)
	}

	id, _, _ := d.CreateLight("c", "C", lt)
	if id != "3" {
		t.Errorf("new client id = %q, want 3", id)
	}
	id, created, _ := d.CreateLight("a", "A", lt)
	if id != "1" || !created {
		t.Errorf("returning client = %q, %v, want 1, true", id, created)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	d := newTestDatastore(t)
	id, _ := d.CreateGroup(hue.NewGroup("Kitchen"))

	g, _ := d.Group(id)
	g.Lights = append(g.Lights, "9")
	g.Name = "changed"

	again, _ := d.Group(id)
	if again.Name != "Kitchen" || len(again.Lights) != 0 {
		t.Errorf("stored group mutated through copy: %+v", again)
	}
}

func TestUpdateMissing(t *testing.T) {
	d := newTestDatastore(t)
	if err := d.UpdateRule("7", hue.NewRule("u", testNow)); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if err := d.DeleteScene("Sx"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSceneIDsAndTimestamps(t *testing.T) {
	now := testNow
	d := newTestDatastore(t, WithClock(func() time.Time { return now }))

	id, err := d.CreateScene(hue.NewScene("u", now))
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 25 || id[0] != 'S' {
		t.Errorf("scene id = %q, want S + 24 hex", id)
	}

	now = now.Add(time.Minute)
	sc, _ := d.Scene(id)
	sc.Name = "Relax"
	if err := d.UpdateScene(id, sc); err != nil {
		t.Fatal(err)
	}
	sc, _ = d.Scene(id)
	if sc.LastUpdated != hue.FormatTime(now) {
		t.Errorf("lastupdated = %q, want %q", sc.LastUpdated, hue.FormatTime(now))
	}
}

func TestUpdateSensorStampsLastUpdated(t *testing.T) {
	now := testNow
	d := newTestDatastore(t, WithClock(func() time.Time { return now }))
	id, _ := d.CreateSensor(hue.NewSensor())

	now = now.Add(5 * time.Second)
	s, _ := d.Sensor(id)
	s.State["status"] = 1
	if err := d.UpdateSensor(id, s); err != nil {
		t.Fatal(err)
	}
	s, _ = d.Sensor(id)
	if s.State["lastupdated"] != hue.FormatTime(now) {
		t.Errorf("lastupdated = %v, want %s", s.State["lastupdated"], hue.FormatTime(now))
	}
}

func TestRegisterSensorIdempotent(t *testing.T) {
	d := newTestDatastore(t)
	s := hue.NewSensor()
	s.Type = "ZLLSwitch"

	id, created, err := d.RegisterSensor("switch-1", s)
	if err != nil || !created {
		t.Fatalf("RegisterSensor = %q, %v, %v", id, created, err)
	}
	again, created, _ := d.RegisterSensor("switch-1", s)
	if again != id || created {
		t.Errorf("re-register = %q, %v, want %q, false", again, created, id)
	}
	if got, ok := d.SensorID("switch-1"); !ok || got != id {
		t.Errorf("SensorID = %q, %v", got, ok)
	}
}

func TestDeleteLightCascade(t *testing.T) {
	rec := &recorder{}
	d := newTestDatastore(t, WithPublisher(rec))
	lt := extendedColor(t)
	lightID, _, _ := d.CreateLight("client-1", "Lamp", lt)
	otherID, _, _ := d.CreateLight("client-2", "Other", lt)

	g := hue.NewGroup("Room")
	g.Lights = []string{lightID, otherID}
	gid, _ := d.CreateGroup(g)
	untouched := hue.NewGroup("Hall")
	untouched.Lights = []string{otherID}
	untouchedID, _ := d.CreateGroup(untouched)

	sc := hue.NewScene("u", testNow)
	sc.Lights = []string{lightID, otherID}
	sc.LightStates = map[string]map[string]any{lightID: {"on": true}, otherID: {"on": false}}
	sid, _ := d.CreateScene(sc)

	sch := hue.NewSchedule(testNow)
	sch.Command = hue.Command{Address: "/api/u/lights/" + lightID + "/state", Method: "PUT", Body: map[string]any{"on": true}}
	schID, _ := d.CreateSchedule(sch)

	r := hue.NewRule("u", testNow)
	r.Actions = []hue.Action{
		{Address: "/lights/" + lightID + "/state", Method: "PUT", Body: map[string]any{"on": true}},
		{Address: "/groups/" + gid + "/action", Method: "PUT", Body: map[string]any{"on": true}},
	}
	rid, _ := d.CreateRule(r)

	rl := hue.NewResourcelink("u")
	rl.Links = []string{"/lights/" + lightID, "/groups/" + gid}
	rlID, _ := d.CreateResourcelink(rl)

	if err := d.DeleteLight(lightID); err != nil {
		t.Fatal(err)
	}

	if _, err := d.Light(lightID); !errors.Is(err, ErrNotFound) {
		t.Errorf("light still present: %v", err)
	}
	g, _ = d.Group(gid)
	if !slices.Equal(g.Lights, []string{otherID}) {
		t.Errorf("group lights = %v, want [%s]", g.Lights, otherID)
	}
	sc, _ = d.Scene(sid)
	if _, ok := sc.LightStates[lightID]; ok {
		t.Error("scene lightstate not pruned")
	}
	if _, ok := sc.LightStates[otherID]; !ok {
		t.Error("unrelated scene lightstate pruned")
	}
	sch, _ = d.Schedule(schID)
	if !sch.Command.IsZero() {
		t.Errorf("schedule command = %+v, want empty", sch.Command)
	}
	r, _ = d.Rule(rid)
	if len(r.Actions) != 1 || r.Actions[0].Address != "/groups/"+gid+"/action" {
		t.Errorf("rule actions = %+v", r.Actions)
	}
	rl, _ = d.Resourcelink(rlID)
	if !slices.Equal(rl.Links, []string{"/groups/" + gid}) {
		t.Errorf("resourcelink links = %v", rl.Links)
	}
	if _, ok := d.LightNodes()[lightID]; ok {
		t.Error("light node still listed")
	}
	if id, ok := d.LightID("client-1"); !ok || id != lightID {
		t.Errorf("client mapping = %q, %v, want kept", id, ok)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	got := map[string]bool{}
	for _, e := range rec.events {
		got[e.Type+" "+e.ID] = true
	}
	for _, want := range []string{
		events.GroupModified + " " + gid,
		events.SceneModified + " " + sid,
		events.ScheduleModified + " " + schID,
		events.RuleModified + " " + rid,
		events.ResourcelinkModified + " " + rlID,
	} {
		if !got[want] {
			t.Errorf("missing event %q in %v", want, rec.events)
		}
	}
	if got[events.GroupModified+" "+untouchedID] {
		t.Errorf("event for group %s the cascade did not touch", untouchedID)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	d := newTestDatastore(t)
	lt := extendedColor(t)
	d.CreateLight("client-1", "Lamp", lt)
	g := hue.NewGroup("Room")
	g.Lights = []string{"1"}
	d.CreateGroup(g)
	d.CreateScene(hue.NewScene("u", testNow))
	d.CreateSchedule(hue.NewSchedule(testNow))
	d.RegisterSensor("switch-1", hue.NewSensor())
	d.CreateRule(hue.NewRule("u", testNow))
	d.CreateResourcelink(hue.NewResourcelink("u"))
	d.CreateUser("app#phone")

	first, err := json.Marshal(d.Export())
	if err != nil {
		t.Fatal(err)
	}

	other := newTestDatastore(t)
	if err := other.Import(first); err != nil {
		t.Fatal(err)
	}
	second, err := json.Marshal(other.Export())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("round trip differs:\n%s\n%s", first, second)
	}
}

func TestImportMissingKey(t *testing.T) {
	d := newTestDatastore(t)
	d.CreateGroup(hue.NewGroup("keep"))

	doc := map[string]any{}
	data, _ := json.Marshal(d.Export())
	json.Unmarshal(data, &doc)
	delete(doc, "rules")
	data, _ = json.Marshal(doc)

	if err := d.Import(data); !errors.Is(err, ErrInvalidImport) {
		t.Fatalf("err = %v, want ErrInvalidImport", err)
	}
	if _, err := d.Group("1"); err != nil {
		t.Errorf("group lost after failed import: %v", err)
	}
	if err := d.Import([]byte("not json")); !errors.Is(err, ErrInvalidImport) {
		t.Errorf("err = %v, want ErrInvalidImport", err)
	}
}

func TestImportPublishesReload(t *testing.T) {
	rec := &recorder{}
	d := newTestDatastore(t, WithPublisher(rec))
	data, _ := json.Marshal(d.Export())
	if err := d.Import(data); err != nil {
		t.Fatal(err)
	}
	if len(rec.events) != 1 || rec.events[0].Type != events.DatastoreReloaded {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestClearConfigurationKeepsLights(t *testing.T) {
	d := newTestDatastore(t)
	d.CreateLight("client-1", "Lamp", extendedColor(t))
	d.CreateGroup(hue.NewGroup("Room"))
	d.CreateRule(hue.NewRule("u", testNow))
	user, _ := d.CreateUser("app")

	if err := d.ClearConfiguration(); err != nil {
		t.Fatal(err)
	}

	if len(d.Lights()) != 1 {
		t.Errorf("lights = %d, want 1", len(d.Lights()))
	}
	if len(d.Groups()) != 0 || len(d.Rules()) != 0 {
		t.Error("groups/rules not cleared")
	}
	if d.ValidUser(user) {
		t.Error("whitelist not cleared")
	}
	if _, err := d.Sensor(hue.DaylightSensorID); err != nil {
		t.Errorf("daylight sensor missing: %v", err)
	}
	if id, _ := d.CreateGroup(hue.NewGroup("new")); id != "1" {
		t.Errorf("group id after clear = %q, want 1", id)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	st, err := store.NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	d, err := New(st)
	if err != nil {
		t.Fatal(err)
	}
	d.CreateLight("client-1", "Lamp", extendedColor(t))
	gid, _ := d.CreateGroup(hue.NewGroup("Room"))
	user, _ := d.CreateUser("app")
	st.Close()

	d2, err := New(openStore(t, path))
	if err != nil {
		t.Fatal(err)
	}
	if g, err := d2.Group(gid); err != nil || g.Name != "Room" {
		t.Errorf("group = %+v, %v", g, err)
	}
	if !d2.ValidUser(user) {
		t.Error("user lost")
	}
	if id, _ := d2.CreateGroup(hue.NewGroup("Next")); id != "2" {
		t.Errorf("next group id = %q, want 2", id)
	}
	if id, _, _ := d2.CreateLight("client-2", "Lamp 2", extendedColor(t)); id != "2" {
		t.Errorf("next light id = %q, want 2", id)
	}
}

func TestUsersAndLinkButton(t *testing.T) {
	rec := &recorder{}
	d := newTestDatastore(t, WithPublisher(rec))

	user, err := d.CreateUser("app#phone")
	if err != nil {
		t.Fatal(err)
	}
	if user[0] != 'U' || !d.ValidUser(user) {
		t.Errorf("user %q not valid", user)
	}
	if d.ValidUser("") || d.ValidUser("nobody") {
		t.Error("unknown user accepted")
	}
	if err := d.DeleteUser(user); err != nil {
		t.Fatal(err)
	}
	if err := d.DeleteUser(user); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if err := d.SetLinkButton(true); err != nil {
		t.Fatal(err)
	}
	if !d.LinkButton() {
		t.Error("linkbutton = false, want true")
	}
	if len(rec.events) != 1 || rec.events[0].Type != events.LinkButton || rec.events[0].Value != true {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestServiceUserReused(t *testing.T) {
	d := newTestDatastore(t)
	first, err := d.ServiceUser("huebridge#mqtt")
	if err != nil {
		t.Fatal(err)
	}
	again, err := d.ServiceUser("huebridge#mqtt")
	if err != nil {
		t.Fatal(err)
	}
	if again != first {
		t.Errorf("ServiceUser = %s, want %s", again, first)
	}
	if other, _ := d.ServiceUser("huebridge#scripts"); other == first {
		t.Error("different device types share a user")
	}
	if n := len(d.Config().Whitelist); n != 2 {
		t.Errorf("whitelist size = %d, want 2", n)
	}
}

func TestBridgeID(t *testing.T) {
	n := Network{MAC: "b8:27:eb:12:34:56"}
	if got := n.BridgeID(); got != "B827EBFFFE123456" {
		t.Errorf("BridgeID = %q", got)
	}
	if got := (Network{MAC: "bad"}).BridgeID(); got != "" {
		t.Errorf("BridgeID(bad) = %q, want empty", got)
	}
}
