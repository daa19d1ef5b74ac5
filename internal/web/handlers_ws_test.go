package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"hue-go-bridge/internal/events"

	"nhooyr.io/websocket"
)

func newTestHub() *WSHub {
	return NewWSHub(testLogger())
}

func clientCount(hub *WSHub) int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

func TestWSHubRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if n := clientCount(hub); n != 1 {
		t.Errorf("after register: count = %d, want 1", n)
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if n := clientCount(hub); n != 0 {
		t.Errorf("after unregister: count = %d, want 0", n)
	}
}

func TestWSHubBroadcastFilters(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	all := &wsClient{send: make(chan []byte, 16)}
	states := &wsClient{send: make(chan []byte, 16), filter: wsFilter{types: parseList("light-state-modified")}}
	light3 := &wsClient{send: make(chan []byte, 16), filter: wsFilter{resources: parseList("lights"), id: "3"}}
	for _, c := range []*wsClient{all, states, light3} {
		hub.register <- c
	}
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(events.Event{Type: events.SensorStateModified, ID: "3"})
	hub.Broadcast(events.Event{Type: events.LightStateChanged, ID: "1"})
	hub.Broadcast(events.Event{Type: events.LightModified, ID: "3"})
	time.Sleep(10 * time.Millisecond)

	if n := len(all.send); n != 3 {
		t.Errorf("unfiltered client got %d frames, want 3", n)
	}
	if n := len(states.send); n != 1 {
		t.Fatalf("type filtered client got %d frames, want 1", n)
	}
	if n := len(light3.send); n != 1 {
		t.Fatalf("resource filtered client got %d frames, want 1", n)
	}

	var f wsFrame
	if err := json.Unmarshal(<-states.send, &f); err != nil {
		t.Fatal(err)
	}
	if f.Type != events.LightStateChanged || f.ID != "1" || f.Resource != "lights" || f.Seq != 2 {
		t.Errorf("frame = %+v, want seq 2 light-state-modified of light 1", f)
	}
	if err := json.Unmarshal(<-light3.send, &f); err != nil {
		t.Fatal(err)
	}
	if f.Type != events.LightModified || f.Seq != 3 {
		t.Errorf("frame = %+v, want seq 3 light-modified", f)
	}
}

func TestWSHubSlowClientEviction(t *testing.T) {
	hub := newTestHub()
	go hub.Run()
	defer hub.Stop()

	slow := &wsClient{send: make(chan []byte, 1)}
	fast := &wsClient{send: make(chan []byte, 64)}
	hub.register <- slow
	hub.register <- fast
	time.Sleep(10 * time.Millisecond)

	hub.Broadcast(events.Event{Type: events.GroupCreated})
	time.Sleep(10 * time.Millisecond)
	hub.Broadcast(events.Event{Type: events.GroupModified})
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	_, slowPresent := hub.clients[slow]
	_, fastPresent := hub.clients[fast]
	hub.mu.RUnlock()
	if slowPresent {
		t.Error("slow client should have been evicted")
	}
	if !fastPresent {
		t.Error("fast client should still be present")
	}
}

func TestWSHubBroadcastDropsWhenFull(t *testing.T) {
	hub := newTestHub()
	defer hub.Stop()

	for i := 0; i < 256; i++ {
		hub.Broadcast(events.Event{Type: events.ConfigModified})
	}
	done := make(chan struct{})
	go func() {
		hub.Broadcast(events.Event{Type: events.ConfigModified})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Broadcast blocked when channel is full")
	}
}

func TestWSHubStopClosesClients(t *testing.T) {
	hub := newTestHub()
	go hub.Run()

	client := &wsClient{send: make(chan []byte, 16)}
	hub.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Stop()
	hub.Stop()
	time.Sleep(10 * time.Millisecond)

	if _, ok := <-client.send; ok {
		t.Error("client.send should be closed after hub stop")
	}
}

func TestParseFilter(t *testing.T) {
	f := parseFilter(url.Values{})
	if f.types != nil || f.resources != nil || f.id != "" {
		t.Errorf("empty query filter = %+v, want match-all", f)
	}
	f = parseFilter(url.Values{"types": {" light-created, ,rule-modified"}, "resources": {"sensors"}, "id": {" 4 "}})
	if len(f.types) != 2 || !f.types["light-created"] || !f.types["rule-modified"] {
		t.Errorf("types = %v", f.types)
	}
	if !f.resources["sensors"] || f.id != "4" {
		t.Errorf("filter = %+v", f)
	}
	if parseList(" , ") != nil {
		t.Error("blank list should match everything")
	}
}

func TestWSStreamsBusEvents(t *testing.T) {
	f := newTestServer(t, "")
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?resources=groups"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// The hub registers the client asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for clientCount(f.srv.wsHub) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	f.do(t, "POST", "/api/"+f.user+"/groups", `{"name":"Kitchen","lights":[]}`)

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var f wsFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Type != events.GroupCreated || f.ID == "" || f.Resource != "groups" || f.Seq == 0 {
		t.Errorf("frame = %+v", f)
	}
}
