// Package history records light and sensor state changes in InfluxDB.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/hue"
)

var (
	// ErrDisabled is returned by Connect when history is switched off.
	ErrDisabled = errors.New("influx history disabled")
	// ErrConnectionFailed wraps ping failures.
	ErrConnectionFailed = errors.New("influx connection failed")
)

const connectTimeout = 10 * time.Second

// Config selects the InfluxDB v2 bucket points are written to.
type Config struct {
	Enabled       bool
	URL           string
	Token         string
	Org           string
	Bucket        string
	BatchSize     int // points per batch, default 100
	FlushInterval int // seconds, default 10
}

// LightSource reads the light whose state changed.
type LightSource interface {
	Light(id string) (hue.Light, error)
}

// Subscriber is the receiving half of the event bus.
type Subscriber interface {
	On(eventType string, handler events.Handler) func()
}

// pointWriter is the part of the non-blocking write API the recorder uses.
type pointWriter interface {
	WritePoint(p *write.Point)
	Flush()
}

// Recorder turns state events into points.
type Recorder struct {
	client influxdb2.Client
	writer pointWriter
	lights LightSource
	logger *slog.Logger
	now    func() time.Time
	unsubs []func()
}

// Connect pings the server and prepares a batching writer. Async write
// errors are logged.
func Connect(cfg Config, lights LightSource, logger *slog.Logger) (*Recorder, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	r := newRecorder(writeAPI, lights, logger)
	r.client = client
	go func() {
		for err := range writeAPI.Errors() {
			r.logger.Warn("influx write failed", "err", err)
		}
	}()
	r.logger.Info("influx history enabled", "url", cfg.URL, "bucket", cfg.Bucket)
	return r, nil
}

func newRecorder(w pointWriter, lights LightSource, logger *slog.Logger) *Recorder {
	return &Recorder{
		writer: w,
		lights: lights,
		logger: logger.With("component", "history"),
		now:    time.Now,
	}
}

// Start subscribes to light and sensor state changes.
func (r *Recorder) Start(sub Subscriber) {
	r.unsubs = append(r.unsubs,
		sub.On(events.LightStateChanged, r.lightChanged),
		sub.On(events.SensorStateModified, r.sensorChanged),
	)
}

// Stop unsubscribes, flushes pending points and closes the client.
func (r *Recorder) Stop() {
	for _, u := range r.unsubs {
		u()
	}
	r.unsubs = nil
	r.writer.Flush()
	if r.client != nil {
		r.client.Close()
	}
}

func (r *Recorder) lightChanged(ev events.Event) {
	l, err := r.lights.Light(ev.ID)
	if err != nil {
		return
	}
	fields := map[string]any{
		"on":        l.State.On,
		"reachable": l.State.Reachable,
	}
	levels := map[string]int{
		"bri": l.State.Bri,
		"hue": l.State.Hue,
		"sat": l.State.Sat,
		"ct":  l.State.CT,
	}
	t, _ := hue.LightTypeByName(l.Type)
	for k, v := range levels {
		if slices.Contains(t.StateKeys, k) {
			fields[k] = v
		}
	}
	r.writer.WritePoint(write.NewPoint("light_state",
		map[string]string{"light_id": ev.ID}, fields, r.now()))
}

func (r *Recorder) sensorChanged(ev events.Event) {
	id, key, ok := hue.Condition{Address: ev.Address}.Target()
	if !ok {
		return
	}
	var value any
	switch v := ev.Value.(type) {
	case bool:
		value = v
	default:
		f, ok := hue.ToFloat(v)
		if !ok {
			return
		}
		value = f
	}
	r.writer.WritePoint(write.NewPoint("sensor_state",
		map[string]string{"sensor_id": id, "key": key},
		map[string]any{"value": value}, r.now()))
}
