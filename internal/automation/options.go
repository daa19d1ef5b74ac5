package automation

import (
	"math/rand/v2"
	"time"

	"hue-go-bridge/internal/events"
)

// Firer re-enters the API with a synthesized request. The response is
// discarded.
type Firer interface {
	Fire(method, url string, body map[string]any)
}

// Subscriber is the receiving half of the event bus.
type Subscriber interface {
	On(eventType string, handler events.Handler) func()
}

// Observer is told about automation activity, for metrics.
type Observer interface {
	RuleTriggered(id string)
	ScheduleFired(id string)
	DaylightChanged(daylight bool)
}

type nopObserver struct{}

func (nopObserver) RuleTriggered(string) {}
func (nopObserver) ScheduleFired(string) {}
func (nopObserver) DaylightChanged(bool) {}

// AfterFunc runs f once after d and returns a function that cancels it.
type AfterFunc func(d time.Duration, f func()) (stop func() bool)

func realAfterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Option configures an engine.
type Option func(*options)

type options struct {
	now      func() time.Time
	after    AfterFunc
	randN    func(n int64) int64
	tick     time.Duration
	observer Observer
}

func newOptions(opts []Option) options {
	o := options{
		now:      time.Now,
		after:    realAfterFunc,
		randN:    rand.Int64N,
		tick:     time.Second,
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithAfterFunc replaces time.AfterFunc for one-shot jobs.
func WithAfterFunc(f AfterFunc) Option {
	return func(o *options) { o.after = f }
}

// WithRand sets the source of random jitter; f returns a value in [0, n).
func WithRand(f func(n int64) int64) Option {
	return func(o *options) { o.randN = f }
}

// WithTick sets the rule evaluation interval.
func WithTick(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tick = d
		}
	}
}

func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}
