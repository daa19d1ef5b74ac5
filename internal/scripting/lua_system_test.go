//go:build !no_scripting

package scripting

import (
	"io"
	"log/slog"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func withNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func newSystemState(t *testing.T, capture func(string)) *lua.LState {
	t.Helper()
	L := lua.NewState()
	t.Cleanup(L.Close)
	registerSystemModule(L, &Engine{logger: testLogger()}, capture)
	return L
}

func TestSystemDatetime(t *testing.T) {
	withNow(t, time.Date(2024, 5, 17, 21, 4, 5, 0, time.Local))
	L := newSystemState(t, nil)

	tests := []struct {
		component string
		want      lua.LValue
	}{
		{"hour", lua.LNumber(21)},
		{"minute", lua.LNumber(4)},
		{"second", lua.LNumber(5)},
		{"weekday", lua.LNumber(5)},
		{"day", lua.LNumber(17)},
		{"month", lua.LNumber(5)},
		{"year", lua.LNumber(2024)},
		{"time_str", lua.LString("21:04:05")},
		{"date_str", lua.LString("2024-05-17")},
	}
	for _, tt := range tests {
		if err := L.DoString(`result = system.datetime("` + tt.component + `")`); err != nil {
			t.Fatalf("%s: %v", tt.component, err)
		}
		if got := L.GetGlobal("result"); got != tt.want {
			t.Errorf("datetime(%s) = %v, want %v", tt.component, got, tt.want)
		}
	}

	if err := L.DoString(`system.datetime("century")`); err == nil {
		t.Error("unknown component accepted")
	}
}

func TestSystemTimeBetween(t *testing.T) {
	tests := []struct {
		hour     int
		from, to int
		want     bool
	}{
		{12, 8, 22, true},
		{22, 8, 22, false},
		{7, 8, 22, false},
		{23, 22, 6, true},
		{3, 22, 6, true},
		{12, 22, 6, false},
	}
	for _, tt := range tests {
		withNow(t, time.Date(2024, 5, 17, tt.hour, 0, 0, 0, time.Local))
		L := newSystemState(t, nil)
		code := "result = system.time_between(" + itoa(tt.from) + ", " + itoa(tt.to) + ")"
		if err := L.DoString(code); err != nil {
			t.Fatal(err)
		}
		if got := L.GetGlobal("result"); got != lua.LBool(tt.want) {
			t.Errorf("hour %d in [%d,%d) = %v, want %v", tt.hour, tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSystemLogCapture(t *testing.T) {
	var lines []string
	L := newSystemState(t, func(s string) { lines = append(lines, s) })
	if err := L.DoString(`system.log("warn", "door open")`); err != nil {
		t.Fatal(err)
	}
	if len(lines) != 1 || lines[0] != "[warn] door open" {
		t.Errorf("captured = %q", lines)
	}
}

func itoa(n int) string {
	return lua.LNumber(n).String()
}
