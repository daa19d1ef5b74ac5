//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"hue-go-bridge/internal/adapter"
	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/store"
)

type doneToken struct{}

func (doneToken) Wait() bool                     { return true }
func (doneToken) WaitTimeout(time.Duration) bool { return true }
func (doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (doneToken) Error() error { return nil }

type published struct {
	topic    string
	payload  []byte
	retained bool
}

type fakeClient struct {
	mu           sync.Mutex
	msgs         []published
	subs         []string
	disconnected bool
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload any) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, _ := payload.([]byte)
	c.msgs = append(c.msgs, published{topic: topic, payload: data, retained: retained})
	return doneToken{}
}

func (c *fakeClient) Subscribe(topic string, _ byte, _ pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs = append(c.subs, topic)
	return doneToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
}

// last returns the most recent message on topic.
func (c *fakeClient) last(topic string) (published, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.msgs) - 1; i >= 0; i-- {
		if c.msgs[i].topic == topic {
			return c.msgs[i], true
		}
	}
	return published{}, false
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func msg(topic, payload string) pahomqtt.Message {
	return fakeMessage{topic: topic, payload: []byte(payload)}
}

type fixture struct {
	ds     *datastore.Datastore
	bus    *events.Bus
	client *fakeClient
	b      *Bridge
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "mqtt.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	bus := events.NewBus(logger)
	t.Cleanup(bus.Close)
	ds, err := datastore.New(st, datastore.WithPublisher(bus), datastore.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	reg := adapter.NewRegistry(ds, bus, logger)
	reg.Start(bus)
	t.Cleanup(reg.Stop)
	api := bridge.New(ds, bridge.WithLogger(logger), bridge.WithPublisher(bus))

	fc := &fakeClient{}
	b := newBridge(fc, Config{Discovery: true}, reg, ds, api, logger)
	if err := b.Start(bus); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if b.unsub != nil {
			b.unsub()
		}
	})
	return &fixture{ds: ds, bus: bus, client: fc, b: b}
}

func (f *fixture) register(t *testing.T, clientID, body string) map[string]any {
	t.Helper()
	f.b.onAdapter(nil, msg("huebridge/adapter/"+clientID+"/register", body))
	m, ok := f.client.last("huebridge/adapter/" + clientID + "/reply")
	if !ok {
		t.Fatal("no register reply")
	}
	var reply map[string]any
	if err := json.Unmarshal(m.payload, &reply); err != nil {
		t.Fatal(err)
	}
	return reply
}

func TestSubscribeOnConnect(t *testing.T) {
	f := newFixture(t)
	f.b.onConnect()

	want := map[string]bool{
		"huebridge/adapter/+/+":           true,
		"huebridge/sensors/+/state/set":   true,
		"huebridge/lights/+/set":          true,
		"huebridge/bridge/linkbutton/set": true,
		"huebridge/manage/+":              true,
	}
	f.client.mu.Lock()
	subs := f.client.subs
	f.client.mu.Unlock()
	if len(subs) != len(want) {
		t.Fatalf("subscriptions = %v", subs)
	}
	for _, s := range subs {
		if !want[s] {
			t.Errorf("unexpected subscription %q", s)
		}
	}
	if m, ok := f.client.last("huebridge/bridge/state"); !ok || string(m.payload) != "online" || !m.retained {
		t.Errorf("bridge state = %+v", m)
	}
}

func TestRegisterLightOverMQTT(t *testing.T) {
	f := newFixture(t)
	reply := f.register(t, "lamp-1", `{"kind":"light","type":"0x0100","name":"Desk"}`)
	id, _ := reply["id"].(string)
	if id == "" || reply["error"] != nil {
		t.Fatalf("reply = %v", reply)
	}
	f.bus.Flush()

	if m, ok := f.client.last("huebridge/lights/" + id + "/state"); !ok || !m.retained {
		t.Errorf("light state not published retained: %+v", m)
	}
	m, ok := f.client.last("homeassistant/light/huebridge_light_" + id + "/light/config")
	if !ok {
		t.Fatal("light discovery not published")
	}
	var d haDiscovery
	if err := json.Unmarshal(m.payload, &d); err != nil {
		t.Fatal(err)
	}
	if d.Name != "Desk" || d.BrightnessScale != 254 {
		t.Errorf("discovery = %+v", d)
	}
}

func TestRegisterRejectsUnknownKind(t *testing.T) {
	f := newFixture(t)
	reply := f.register(t, "x", `{"kind":"toaster"}`)
	if reply["error"] == nil {
		t.Errorf("reply = %v, want error", reply)
	}
}

func TestReplyTopicsIgnored(t *testing.T) {
	f := newFixture(t)
	before := f.client.count()
	f.b.onAdapter(nil, msg("huebridge/adapter/lamp-1/reply", `{"kind":"light","type":"0x0100"}`))
	f.b.onAdapter(nil, msg("huebridge/adapter/lamp-1/manage", `{"type":"manage"}`))
	if n := f.client.count(); n != before {
		t.Errorf("published %d messages for own topics", n-before)
	}
	if len(f.ds.Lights()) != 0 {
		t.Error("reply topic registered a light")
	}
}

func TestLightChangeForwarded(t *testing.T) {
	f := newFixture(t)
	reply := f.register(t, "lamp-1", `{"kind":"light","type":"0x0100"}`)
	id := reply["id"].(string)

	f.b.onLightSet(nil, msg("huebridge/lights/"+id+"/set", `{"on":true,"bri":120}`))
	l, err := f.ds.Light(id)
	if err != nil {
		t.Fatal(err)
	}
	if !l.State.On || l.State.Bri != 120 {
		t.Errorf("state = %+v", l.State)
	}

	f.bus.Flush()
	m, ok := f.client.last("huebridge/lights/" + id + "/change")
	if !ok {
		t.Fatal("light change not forwarded to adapter topic")
	}
	var change adapter.LightChange
	if err := json.Unmarshal(m.payload, &change); err != nil {
		t.Fatal(err)
	}
	if change.ID != id || change.New["on"] != true {
		t.Errorf("change = %+v", change)
	}
}

func TestSensorStateSet(t *testing.T) {
	f := newFixture(t)
	reply := f.register(t, "motion", `{"kind":"sensor","type":"CLIPPresence","name":"Hall"}`)
	id := reply["id"].(string)

	f.b.onSensorState(nil, msg("huebridge/sensors/"+id+"/state/set", `{"presence":true}`))
	s, err := f.ds.Sensor(id)
	if err != nil {
		t.Fatal(err)
	}
	if s.State["presence"] != true {
		t.Errorf("state = %v", s.State)
	}

	f.bus.Flush()
	m, ok := f.client.last("huebridge/sensors/" + id + "/state")
	if !ok {
		t.Fatal("sensor state not published")
	}
	var state map[string]any
	if err := json.Unmarshal(m.payload, &state); err != nil {
		t.Fatal(err)
	}
	if state["presence"] != true {
		t.Errorf("published state = %v", state)
	}
	if _, ok := f.client.last("homeassistant/binary_sensor/huebridge_sensor_" + id + "/binary_sensor/config"); !ok {
		t.Error("presence discovery not published")
	}
}

func TestRemoveClearsRetained(t *testing.T) {
	f := newFixture(t)
	reply := f.register(t, "lamp-1", `{"kind":"light","type":"0x0000"}`)
	id := reply["id"].(string)

	f.b.onAdapter(nil, msg("huebridge/adapter/lamp-1/remove", `{"kind":"light"}`))
	f.bus.Flush()
	if _, err := f.ds.Light(id); err == nil {
		t.Fatal("light still present")
	}
	m, ok := f.client.last("huebridge/lights/" + id + "/state")
	if !ok || m.payload != nil || !m.retained {
		t.Errorf("state after remove = %+v", m)
	}
	m, ok = f.client.last("homeassistant/light/huebridge_light_" + id + "/light/config")
	if !ok || m.payload != nil {
		t.Errorf("discovery after remove = %+v", m)
	}
}

func TestLinkButton(t *testing.T) {
	f := newFixture(t)
	f.b.onLinkButton(nil, msg("huebridge/bridge/linkbutton/set", "abc"))
	if f.ds.LinkButton() {
		t.Fatal("invalid duration pressed the button")
	}
	f.b.onLinkButton(nil, msg("huebridge/bridge/linkbutton/set", "0.05"))
	if !f.ds.LinkButton() {
		t.Fatal("button not pressed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.ds.LinkButton() {
		if time.Now().After(deadline) {
			t.Fatal("button never released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestManage(t *testing.T) {
	f := newFixture(t)
	f.register(t, "lamp-1", `{"kind":"light","type":"0x0210"}`)

	f.b.onManage(nil, msg("huebridge/manage/"+adapter.OpLightIDs, ""))
	m, ok := f.client.last("huebridge/manage/" + adapter.OpLightIDs + "/result")
	if !ok {
		t.Fatal("no result")
	}
	var res struct {
		OK   bool                `json:"ok"`
		Data []adapter.LightInfo `json:"data"`
	}
	if err := json.Unmarshal(m.payload, &res); err != nil {
		t.Fatal(err)
	}
	if !res.OK || len(res.Data) != 1 || res.Data[0].ClientID != "lamp-1" || res.Data[0].Type != "0x0210" {
		t.Errorf("result = %+v", res)
	}

	f.b.onManage(nil, msg("huebridge/manage/reboot", ""))
	m, _ = f.client.last("huebridge/manage/reboot/result")
	var bad manageResult
	if err := json.Unmarshal(m.payload, &bad); err != nil {
		t.Fatal(err)
	}
	if bad.OK || bad.Error == "" {
		t.Errorf("unknown op result = %+v", bad)
	}
}

func TestEventsTopic(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ds.CreateGroup(hue.NewGroup("Hall")); err != nil {
		t.Fatal(err)
	}
	f.bus.Publish(events.Event{Type: events.GroupCreated, ID: "1"})
	f.bus.Flush()
	m, ok := f.client.last("huebridge/events")
	if !ok || m.retained {
		t.Fatalf("events = %+v", m)
	}
	var ev events.Event
	if err := json.Unmarshal(m.payload, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Type != events.GroupCreated {
		t.Errorf("event = %+v", ev)
	}
}

func TestStop(t *testing.T) {
	f := newFixture(t)
	f.register(t, "lamp-1", `{"kind":"light","type":"0x0100"}`)
	f.b.Stop()
	if m, ok := f.client.last("huebridge/bridge/state"); !ok || string(m.payload) != "offline" {
		t.Errorf("bridge state = %+v", m)
	}
	f.client.mu.Lock()
	disconnected := f.client.disconnected
	f.client.mu.Unlock()
	if !disconnected {
		t.Error("client not disconnected")
	}
	if len(f.b.clients) != 0 {
		t.Error("clients not cleared")
	}
}

func TestSplit(t *testing.T) {
	b := &Bridge{prefix: "hb"}
	tests := []struct {
		topic string
		want  int
	}{
		{"hb/lights/1/set", 3},
		{"hb/manage/getconfig", 2},
		{"other/lights/1/set", 0},
	}
	for _, tt := range tests {
		if got := b.split(tt.topic); len(got) != tt.want {
			t.Errorf("split(%q) = %v", tt.topic, got)
		}
	}
	if got := b.topic("lights", "3", "state"); got != "hb/lights/3/state" {
		t.Errorf("topic = %q", got)
	}
}
