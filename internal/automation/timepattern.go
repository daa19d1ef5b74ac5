// Package automation runs the bridge's time and state driven behaviour:
// rules evaluated against sensor state, schedules fired from their time
// patterns, and the daylight sensor.
package automation

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// ErrNoValidTime is returned for a localtime string that matches none of
// the supported time patterns.
var ErrNoValidTime = errors.New("no valid time")

// Form identifies which time pattern a localtime string uses.
type Form int

const (
	FormAbsolute           Form = iota + 1 // YYYY-MM-DDThh:mm:ss
	FormRandomized                         // YYYY-MM-DDThh:mm:ssAhh:mm:ss
	FormRecurring                          // Wbbb/Thh:mm:ss
	FormRecurringRandom                    // Wbbb/Thh:mm:ssAhh:mm:ss
	FormInterval                           // Thh:mm:ss/Thh:mm:ss
	FormWeekdayInterval                    // Wbbb/Thh:mm:ss/Thh:mm:ss
	FormTimer                              // PThh:mm:ss
	FormTimerRandom                        // PThh:mm:ssAhh:mm:ss
	FormTimerRepeat                        // Rnn/PThh:mm:ss
	FormTimerRepeatForever                 // R/PThh:mm:ss
	FormTimerRepeatRandom                  // Rnn/PThh:mm:ssAhh:mm:ss
	FormTimerRepeatForeverRandom           // R/PThh:mm:ssAhh:mm:ss
)

var formNames = map[Form]string{
	FormAbsolute:                 "abs",
	FormRandomized:               "rand",
	FormRecurring:                "recur",
	FormRecurringRandom:          "recurRand",
	FormInterval:                 "interval",
	FormWeekdayInterval:          "day",
	FormTimer:                    "t1",
	FormTimerRandom:              "t2",
	FormTimerRepeat:              "t3",
	FormTimerRepeatForever:       "t4",
	FormTimerRepeatRandom:        "t5",
	FormTimerRepeatForeverRandom: "t6",
}

func (f Form) String() string {
	if s, ok := formNames[f]; ok {
		return s
	}
	return fmt.Sprintf("form(%d)", int(f))
}

// Clock is an hours/minutes/seconds triple. Depending on the form it is a
// time of day or a duration.
type Clock struct {
	H, M, S int
}

// Duration returns the clock as a span of time.
func (c Clock) Duration() time.Duration {
	return time.Duration(c.H)*time.Hour + time.Duration(c.M)*time.Minute + time.Duration(c.S)*time.Second
}

// Seconds returns the clock as seconds since midnight.
func (c Clock) Seconds() int {
	return c.H*3600 + c.M*60 + c.S
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", c.H, c.M, c.S)
}

func (c Clock) timeOfDay() bool {
	return c.H < 24 && c.M < 60 && c.S < 60
}

// TimePattern is a parsed localtime string. Only the fields relevant to
// Form are set.
type TimePattern struct {
	Form  Form
	Year  int
	Month int
	Day   int
	// Time is the time of day, the interval start, or the timer duration.
	Time Clock
	// End closes interval forms.
	End Clock
	// Random bounds the jitter of the randomized forms.
	Random Clock
	// Weekdays is indexed by time.Weekday.
	Weekdays [7]bool
	// Repeat is the recurrence count of Rnn timers; 0 repeats forever.
	Repeat int
}

// On reports whether a weekly pattern includes d.
func (p TimePattern) On(d time.Weekday) bool {
	return p.Weekdays[d]
}

// Days lists the selected weekdays, Sunday first.
func (p TimePattern) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if p.Weekdays[d] {
			days = append(days, d)
		}
	}
	return days
}

const (
	hms  = `(\d{2}):(\d{2}):(\d{2})`
	date = `(\d{4})-(\d{2})-(\d{2})`
	week = `W(\d{1,3})`
)

var patterns = []struct {
	form Form
	re   *regexp.Regexp
}{
	{FormAbsolute, regexp.MustCompile(`^` + date + `T` + hms + `$`)},
	{FormRandomized, regexp.MustCompile(`^` + date + `T` + hms + `A` + hms + `$`)},
	{FormRecurring, regexp.MustCompile(`^` + week + `/T` + hms + `$`)},
	{FormRecurringRandom, regexp.MustCompile(`^` + week + `/T` + hms + `A` + hms + `$`)},
	{FormInterval, regexp.MustCompile(`^T` + hms + `/T` + hms + `$`)},
	{FormWeekdayInterval, regexp.MustCompile(`^` + week + `/T` + hms + `/T` + hms + `$`)},
	{FormTimer, regexp.MustCompile(`^PT` + hms + `$`)},
	{FormTimerRandom, regexp.MustCompile(`^PT` + hms + `A` + hms + `$`)},
	{FormTimerRepeat, regexp.MustCompile(`^R(\d{2})/PT` + hms + `$`)},
	{FormTimerRepeatForever, regexp.MustCompile(`^R/PT` + hms + `$`)},
	{FormTimerRepeatRandom, regexp.MustCompile(`^R(\d{2})/PT` + hms + `A` + hms + `$`)},
	{FormTimerRepeatForeverRandom, regexp.MustCompile(`^R/PT` + hms + `A` + hms + `$`)},
}

// Parse recognizes the Hue time patterns used in schedule localtime values.
func Parse(localtime string) (TimePattern, error) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(localtime)
		if m == nil {
			continue
		}
		n := make([]int, len(m)-1)
		for i, s := range m[1:] {
			n[i], _ = strconv.Atoi(s)
		}
		t, ok := build(p.form, n)
		if !ok {
			break
		}
		return t, nil
	}
	return TimePattern{}, fmt.Errorf("%q: %w", localtime, ErrNoValidTime)
}

func build(form Form, n []int) (TimePattern, bool) {
	t := TimePattern{Form: form}
	clock := func(i int) Clock { return Clock{n[i], n[i+1], n[i+2]} }

	switch form {
	case FormAbsolute, FormRandomized:
		t.Year, t.Month, t.Day = n[0], n[1], n[2]
		t.Time = clock(3)
		if form == FormRandomized {
			t.Random = clock(6)
		}
		if t.Month < 1 || t.Month > 12 || t.Day < 1 || t.Day > 31 || !t.Time.timeOfDay() {
			return t, false
		}
	case FormRecurring, FormRecurringRandom, FormWeekdayInterval:
		days, ok := weekdays(n[0])
		if !ok {
			return t, false
		}
		t.Weekdays = days
		t.Time = clock(1)
		switch form {
		case FormRecurringRandom:
			t.Random = clock(4)
		case FormWeekdayInterval:
			t.End = clock(4)
			if !t.End.timeOfDay() {
				return t, false
			}
		}
		if !t.Time.timeOfDay() {
			return t, false
		}
	case FormInterval:
		t.Time, t.End = clock(0), clock(3)
		if !t.Time.timeOfDay() || !t.End.timeOfDay() {
			return t, false
		}
	case FormTimer, FormTimerRandom:
		t.Time = clock(0)
		if form == FormTimerRandom {
			t.Random = clock(3)
		}
	case FormTimerRepeat, FormTimerRepeatRandom:
		t.Repeat = n[0]
		t.Time = clock(1)
		if form == FormTimerRepeatRandom {
			t.Random = clock(4)
		}
	case FormTimerRepeatForever, FormTimerRepeatForeverRandom:
		t.Time = clock(0)
		if form == FormTimerRepeatForeverRandom {
			t.Random = clock(3)
		}
	}
	return t, true
}

// weekdays decodes the bitmask of a W pattern: bit 6 is Monday and bit 0
// is Sunday.
func weekdays(mask int) ([7]bool, bool) {
	var days [7]bool
	if mask < 1 || mask > 127 {
		return days, false
	}
	order := [7]time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
	for i, d := range order {
		days[d] = mask&(1<<(6-i)) != 0
	}
	return days, true
}

var delayPattern = regexp.MustCompile(`^PT` + hms)

// parseDelay reads the PThh:mm:ss prefix of a ddx condition value.
func parseDelay(s string) (time.Duration, bool) {
	m := delayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	var c Clock
	c.H, _ = strconv.Atoi(m[1])
	c.M, _ = strconv.Atoi(m[2])
	c.S, _ = strconv.Atoi(m[3])
	return c.Duration(), true
}
