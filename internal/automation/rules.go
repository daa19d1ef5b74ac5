package automation

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/hue"
)

// RuleEngine evaluates every rule once per tick and fires the actions of
// the rules whose conditions all hold.
type RuleEngine struct {
	ds     *datastore.Datastore
	fire   Firer
	logger *slog.Logger
	opts   options

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRuleEngine(ds *datastore.Datastore, fire Firer, logger *slog.Logger, opts ...Option) *RuleEngine {
	return &RuleEngine{
		ds:     ds,
		fire:   fire,
		logger: logger.With("component", "rules"),
		opts:   newOptions(opts),
	}
}

// Start runs the evaluation loop until Stop is called or ctx ends.
func (e *RuleEngine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.loop(ctx, e.done)
	e.logger.Info("rule engine started", "tick", e.opts.tick)
}

func (e *RuleEngine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (e *RuleEngine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.opts.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.EvaluateAll(e.opts.now())
		}
	}
}

// EvaluateAll checks every enabled rule against now and returns the ids of
// the rules that triggered, in id order.
func (e *RuleEngine) EvaluateAll(now time.Time) []string {
	var triggered []string
	for _, id := range e.ds.RuleIDs() {
		r, err := e.ds.Rule(id)
		if err != nil || r.Status == "disabled" {
			continue
		}
		if !e.matches(id, r.Conditions, now) {
			continue
		}

		r.TimesTriggered++
		r.LastTriggered = hue.FormatTime(now)
		if err := e.ds.UpdateRule(id, r); err != nil {
			e.logger.Error("update rule", "id", id, "err", err)
		}
		e.logger.Debug("rule triggered", "id", id, "name", r.Name, "actions", len(r.Actions))
		e.opts.observer.RuleTriggered(id)
		triggered = append(triggered, id)

		for _, a := range r.Actions {
			e.fire.Fire(a.Method, "/api/"+r.Owner+a.Address, a.Body)
		}
	}
	return triggered
}

func (e *RuleEngine) matches(ruleID string, conds []hue.Condition, now time.Time) bool {
	for _, c := range conds {
		if !e.holds(ruleID, c, now) {
			return false
		}
	}
	return true
}

func (e *RuleEngine) holds(ruleID string, c hue.Condition, now time.Time) bool {
	sensorID, key, ok := c.Target()
	if !ok {
		return false
	}
	s, err := e.ds.Sensor(sensorID)
	if err != nil {
		return false
	}

	switch c.Operator {
	case "eq":
		return equal(s.State[key], c.Value)
	case "dx":
		changed, ok := lastUpdated(s)
		return ok && sameSecond(changed, now)
	case "ddx":
		delay, ok := parseDelay(c.Value)
		if !ok {
			e.logger.Warn("ddx value is not a PT duration", "rule", ruleID, "value", c.Value)
			return false
		}
		changed, ok := lastUpdated(s)
		return ok && sameSecond(changed.Add(delay), now)
	case "lt", "gt", "in", "not in", "stable", "not stable":
		// Stored and validated but not evaluated. The condition holds, so
		// the remaining conditions decide.
		e.logger.Debug("operator not evaluated", "rule", ruleID, "operator", c.Operator)
		return true
	default:
		e.logger.Debug("unknown operator", "rule", ruleID, "operator", c.Operator)
		return false
	}
}

// equal compares a sensor state value with a condition value, which is a
// boolean ("true"/"false") or an integer.
func equal(state any, value string) bool {
	switch value {
	case "true", "false":
		b, ok := state.(bool)
		return ok && b == (value == "true")
	}
	want, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	got, ok := hue.ToFloat(state)
	return ok && got == float64(want)
}

func lastUpdated(s hue.Sensor) (time.Time, bool) {
	v, ok := s.State["lastupdated"].(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := hue.ParseTime(v)
	return t, err == nil
}

// sameSecond compares the wall clock hour, minute and second of a and b.
func sameSecond(a, b time.Time) bool {
	a, b = a.Local(), b.Local()
	return a.Hour() == b.Hour() && a.Minute() == b.Minute() && a.Second() == b.Second()
}
