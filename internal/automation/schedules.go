package automation

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
)

type scheduleJob struct {
	pattern TimePattern
	entry   cron.EntryID
	stop    func() bool
	at      time.Time
}

// ScheduleEngine turns stored schedules into jobs. Weekly patterns run on a
// cron with second resolution; PT timers run once.
type ScheduleEngine struct {
	ds     *datastore.Datastore
	fire   Firer
	logger *slog.Logger
	opts   options
	cron   *cron.Cron

	mu     sync.Mutex
	jobs   map[string]*scheduleJob
	unsubs []func()
}

func NewScheduleEngine(ds *datastore.Datastore, fire Firer, logger *slog.Logger, opts ...Option) *ScheduleEngine {
	logger = logger.With("component", "schedules")
	return &ScheduleEngine{
		ds:     ds,
		fire:   fire,
		logger: logger,
		opts:   newOptions(opts),
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.Local),
			cron.WithLogger(cronLogger{logger}),
		),
		jobs: make(map[string]*scheduleJob),
	}
}

// Start schedules every stored schedule and follows schedule changes on sub.
func (e *ScheduleEngine) Start(sub Subscriber) {
	if sub != nil {
		e.unsubs = append(e.unsubs,
			sub.On(events.ScheduleCreated, func(ev events.Event) { e.Add(ev.ID) }),
			sub.On(events.ScheduleModified, func(ev events.Event) { e.Add(ev.ID) }),
			sub.On(events.ScheduleDeleted, func(ev events.Event) { e.Remove(ev.ID) }),
			sub.On(events.DatastoreReloaded, func(events.Event) { e.Reload() }),
		)
	}
	e.Reload()
	e.cron.Start()
	e.logger.Info("schedule engine started", "jobs", e.Len())
}

// Stop cancels every job and waits for running cron jobs to finish.
func (e *ScheduleEngine) Stop() {
	for _, u := range e.unsubs {
		u()
	}
	e.unsubs = nil
	e.mu.Lock()
	for id := range e.jobs {
		e.cancelLocked(id)
	}
	e.mu.Unlock()
	<-e.cron.Stop().Done()
}

// Reload drops all jobs and schedules the stored schedules again.
func (e *ScheduleEngine) Reload() {
	e.mu.Lock()
	for id := range e.jobs {
		e.cancelLocked(id)
	}
	e.mu.Unlock()
	for id := range e.ds.Schedules() {
		e.Add(id)
	}
}

// Add replaces the job for schedule id with one built from its current
// localtime. It reports whether a job was created.
func (e *ScheduleEngine) Add(id string) bool {
	sch, err := e.ds.Schedule(id)
	if err != nil {
		e.Remove(id)
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked(id)

	if sch.Status == "disabled" {
		e.logger.Debug("schedule disabled", "id", id)
		return false
	}
	p, err := Parse(sch.LocalTime)
	if err != nil {
		e.logger.Warn("schedule not started", "id", id, "localtime", sch.LocalTime, "err", err)
		return false
	}

	j := &scheduleJob{pattern: p}
	switch p.Form {
	case FormRecurring, FormRecurringRandom:
		at := p.Time
		if p.Form == FormRecurringRandom {
			at = e.jitter(p)
		}
		entry, err := e.cron.AddFunc(cronSpec(at, p.Days()), func() { e.run(id) })
		if err != nil {
			e.logger.Error("add cron job", "id", id, "err", err)
			return false
		}
		j.entry = entry
	case FormTimer:
		d := p.Time.Duration()
		j.at = e.opts.now().Add(d)
		j.stop = e.opts.after(d, func() { e.runOnce(id, j) })
	default:
		e.logger.Warn("time pattern not schedulable", "id", id, "form", p.Form.String())
		return false
	}
	e.jobs[id] = j
	e.logger.Debug("schedule added", "id", id, "form", p.Form.String())
	return true
}

// Remove cancels the job for schedule id, if any.
func (e *ScheduleEngine) Remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked(id)
}

// Len returns the number of live jobs.
func (e *ScheduleEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs)
}

// Next returns when the job for schedule id runs next.
func (e *ScheduleEngine) Next(id string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.jobs[id]
	if !ok {
		return time.Time{}, false
	}
	if j.stop != nil {
		return j.at, true
	}
	entry := e.cron.Entry(j.entry)
	if !entry.Valid() {
		return time.Time{}, false
	}
	return entry.Schedule.Next(e.opts.now()), true
}

func (e *ScheduleEngine) cancelLocked(id string) {
	j, ok := e.jobs[id]
	if !ok {
		return
	}
	if j.stop != nil {
		j.stop()
	} else {
		e.cron.Remove(j.entry)
	}
	delete(e.jobs, id)
}

// jitter moves the time of day forward by a random amount below the
// pattern's random bound, wrapping at midnight.
func (e *ScheduleEngine) jitter(p TimePattern) Clock {
	secs := p.Time.Seconds()
	if bound := int64(p.Random.Seconds()); bound > 0 {
		secs += int(e.opts.randN(bound))
	}
	secs %= 24 * 3600
	return Clock{H: secs / 3600, M: secs % 3600 / 60, S: secs % 60}
}

func (e *ScheduleEngine) runOnce(id string, j *scheduleJob) {
	e.mu.Lock()
	current, ok := e.jobs[id]
	if !ok || current != j {
		e.mu.Unlock()
		return
	}
	delete(e.jobs, id)
	e.mu.Unlock()
	e.run(id)
}

func (e *ScheduleEngine) run(id string) {
	sch, err := e.ds.Schedule(id)
	if err != nil {
		e.logger.Warn("scheduled run for missing schedule", "id", id)
		return
	}
	e.logger.Debug("schedule fired", "id", id, "method", sch.Command.Method, "address", sch.Command.Address)
	e.opts.observer.ScheduleFired(id)
	if sch.Command.IsZero() {
		return
	}
	e.fire.Fire(sch.Command.Method, sch.Command.Address, sch.Command.Body)
}

// cronSpec builds a six field (seconds first) cron expression.
func cronSpec(at Clock, days []time.Weekday) string {
	dow := make([]string, len(days))
	for i, d := range days {
		dow[i] = fmt.Sprint(int(d))
	}
	return fmt.Sprintf("%d %d %d * * %s", at.S, at.M, at.H, strings.Join(dow, ","))
}

// cronLogger routes cron's logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
