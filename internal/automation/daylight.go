package automation

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nathan-osman/go-sunrise"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

const daylightAddress = "/sensors/" + hue.DaylightSensorID + "/state/daylight"

// Transition is the next daylight change.
type Transition struct {
	At       time.Time
	Daylight bool
}

// DaylightEngine keeps state.daylight of the daylight sensor in step with
// sunrise and sunset at the configured coordinates. At most one transition
// job is pending at a time.
type DaylightEngine struct {
	ds     *datastore.Datastore
	pub    events.Publisher
	logger *slog.Logger
	opts   options

	mu      sync.Mutex
	stop    func() bool
	next    Transition
	pending bool
	stopped bool
	unsubs  []func()
}

func NewDaylightEngine(ds *datastore.Datastore, pub events.Publisher, logger *slog.Logger, opts ...Option) *DaylightEngine {
	return &DaylightEngine{
		ds:     ds,
		pub:    pub,
		logger: logger.With("component", "daylight"),
		opts:   newOptions(opts),
	}
}

// Start schedules the first transition and watches the sensor's
// configuration on sub.
func (e *DaylightEngine) Start(sub Subscriber) {
	if sub != nil {
		onSensor := func(ev events.Event) {
			if ev.ID == hue.DaylightSensorID {
				e.Configure()
			}
		}
		e.unsubs = append(e.unsubs,
			sub.On(events.SensorModified, onSensor),
			sub.On(events.SensorConfigModified, onSensor),
			sub.On(events.DatastoreReloaded, func(events.Event) { e.Configure() }),
		)
	}
	e.Configure()
}

// Stop cancels the pending transition. The engine cannot be restarted.
func (e *DaylightEngine) Stop() {
	for _, u := range e.unsubs {
		u()
	}
	e.unsubs = nil
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	e.cancelLocked()
}

// Next returns the pending transition.
func (e *DaylightEngine) Next() (Transition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.next, e.pending
}

// Configure marks the sensor configured once both coordinates are set and
// reschedules the next transition.
func (e *DaylightEngine) Configure() {
	s, err := e.ds.Sensor(hue.DaylightSensorID)
	if err != nil {
		e.logger.Warn("no daylight sensor", "err", err)
		return
	}
	_, latOK := coordinate(s.Config["lat"])
	_, longOK := coordinate(s.Config["long"])
	if latOK && longOK && s.Config["configured"] != true {
		s.Config["configured"] = true
		if err := e.ds.UpdateSensor(hue.DaylightSensorID, s); err != nil {
			e.logger.Error("update daylight sensor", "err", err)
			return
		}
		e.logger.Info("daylight sensor configured", "lat", s.Config["lat"], "long", s.Config["long"])
	}
	e.schedule()
}

func (e *DaylightEngine) schedule() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
	if e.stopped {
		return
	}

	s, err := e.ds.Sensor(hue.DaylightSensorID)
	if err != nil || s.Config["configured"] != true {
		e.logger.Debug("daylight sensor not configured")
		return
	}
	lat, latOK := coordinate(s.Config["lat"])
	long, longOK := coordinate(s.Config["long"])
	if !latOK || !longOK {
		return
	}
	riseOffset, _ := hue.ToInt(s.Config["sunriseoffset"])
	setOffset, _ := hue.ToInt(s.Config["sunsetoffset"])

	now := e.opts.now()
	t, ok := nextTransition(now, lat, long, riseOffset, setOffset)
	if !ok {
		e.logger.Warn("no sunrise or sunset at coordinates", "lat", lat, "long", long)
		return
	}

	e.next, e.pending = t, true
	e.stop = e.opts.after(t.At.Sub(now), func() { e.transition(t) })
	e.logger.Debug("daylight transition scheduled", "at", t.At, "daylight", t.Daylight)
}

func (e *DaylightEngine) cancelLocked() {
	if e.stop != nil {
		e.stop()
		e.stop = nil
	}
	e.pending = false
}

func (e *DaylightEngine) transition(t Transition) {
	e.mu.Lock()
	if e.stopped || !e.pending || e.next != t {
		e.mu.Unlock()
		return
	}
	e.stop, e.pending = nil, false
	e.mu.Unlock()

	s, err := e.ds.Sensor(hue.DaylightSensorID)
	if err != nil {
		e.logger.Error("daylight transition", "err", err)
		return
	}
	s.State["daylight"] = t.Daylight
	if err := e.ds.UpdateSensor(hue.DaylightSensorID, s); err != nil {
		e.logger.Error("update daylight sensor", "err", err)
	} else {
		e.pub.Publish(events.Event{
			Type:    events.SensorStateModified,
			ID:      hue.DaylightSensorID,
			Address: daylightAddress,
			Value:   t.Daylight,
		})
		e.opts.observer.DaylightChanged(t.Daylight)
		e.logger.Info("daylight changed", "daylight", t.Daylight)
	}
	e.schedule()
}

// nextTransition finds the first adjusted sunrise or sunset after now.
// Sunrise is moved earlier by riseOffset minutes and sunset later by
// setOffset minutes.
func nextTransition(now time.Time, lat, long float64, riseOffset, setOffset int) (Transition, bool) {
	rise, set, ok := sunTimes(now, lat, long)
	if !ok {
		return Transition{}, false
	}
	rise = rise.Add(-time.Duration(riseOffset) * time.Minute)
	set = set.Add(time.Duration(setOffset) * time.Minute)

	switch {
	case now.Before(rise):
		return Transition{At: rise, Daylight: true}, true
	case now.After(set):
		rise, _, ok = sunTimes(now.AddDate(0, 0, 1), lat, long)
		if !ok {
			return Transition{}, false
		}
		return Transition{At: rise.Add(-time.Duration(riseOffset) * time.Minute), Daylight: true}, true
	default:
		return Transition{At: set, Daylight: false}, true
	}
}

func sunTimes(day time.Time, lat, long float64) (rise, set time.Time, ok bool) {
	day = day.Local()
	rise, set = sunrise.SunriseSunset(lat, long, day.Year(), day.Month(), day.Day())
	if rise.IsZero() || set.IsZero() {
		return rise, set, false
	}
	return rise, set, true
}

// coordinate reads a latitude or longitude. Strings may carry a trailing
// hemisphere letter, as in "052.3700N" or "004.8900W".
func coordinate(v any) (float64, bool) {
	if f, ok := hue.ToFloat(v); ok {
		return f, true
	}
	s, ok := v.(string)
	if !ok || s == "" || s == "none" {
		return 0, false
	}
	sign := 1.0
	switch strings.ToUpper(s[len(s)-1:]) {
	case "N", "E":
		s = s[:len(s)-1]
	case "S", "W":
		s, sign = s[:len(s)-1], -1
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return sign * f, true
}
