package automation

import (
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/store"
)

// Friday.
var testNow = time.Date(2024, 5, 17, 12, 30, 0, 0, time.Local)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type call struct {
	method string
	url    string
	body   map[string]any
}

type firer struct {
	mu    sync.Mutex
	calls []call
}

func (f *firer) Fire(method, url string, body map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{method, url, body})
}

func (f *firer) fired() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) published() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

// timers records one-shot jobs instead of running them.
type timers struct {
	mu  sync.Mutex
	all []*fakeTimer
}

func (ts *timers) after(d time.Duration, f func()) func() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	ts.all = append(ts.all, t)
	return func() bool {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		was := !t.stopped
		t.stopped = true
		return was
	}
}

func (ts *timers) last(t *testing.T) *fakeTimer {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.all) == 0 {
		t.Fatal("no timer scheduled")
	}
	return ts.all[len(ts.all)-1]
}

func (ts *timers) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.all)
}

func newTestDatastore(t *testing.T, clk *clock) *datastore.Datastore {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "automation.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	ds, err := datastore.New(st, datastore.WithClock(clk.Now), datastore.WithLogger(discard))
	if err != nil {
		t.Fatal(err)
	}
	return ds
}

type counts struct {
	mu        sync.Mutex
	rules     map[string]int
	schedules map[string]int
	daylight  []bool
}

func newCounts() *counts {
	return &counts{rules: map[string]int{}, schedules: map[string]int{}}
}

func (c *counts) RuleTriggered(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[id]++
}

func (c *counts) ScheduleFired(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedules[id]++
}

func (c *counts) DaylightChanged(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.daylight = append(c.daylight, v)
}
