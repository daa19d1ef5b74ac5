//go:build !no_scripting

package scripting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"

	lua "github.com/yuin/gopher-lua"
)

const runTimeout = 5 * time.Second

// Dispatcher answers bridge API requests made by scripts.
type Dispatcher interface {
	Dispatch(req bridge.Request) bridge.Response
}

// Subscriber delivers every bus event.
type Subscriber interface {
	OnAll(h events.Handler) func()
}

type luaEventHandler struct {
	eventType string
	id        string // empty matches any resource
	fn        *lua.LFunction
}

// scriptVM is the Lua state of one running script. Only the goroutine
// draining commands touches state.
type scriptVM struct {
	state    *lua.LState
	commands chan func(*lua.LState)
	handlers []luaEventHandler
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex // protects handlers
}

// Engine runs enabled scripts and feeds them bridge events.
type Engine struct {
	api     Dispatcher
	ds      *datastore.Datastore
	manager *Manager
	logger  *slog.Logger

	mu    sync.Mutex
	vms   map[string]*scriptVM
	unsub func()
}

func NewEngine(api Dispatcher, ds *datastore.Datastore, mgr *Manager, logger *slog.Logger) *Engine {
	return &Engine{
		api:     api,
		ds:      ds,
		manager: mgr,
		logger:  logger.With("component", "scripting"),
		vms:     make(map[string]*scriptVM),
	}
}

// Start subscribes to the bus and starts every enabled script.
func (e *Engine) Start(sub Subscriber) {
	e.unsub = sub.OnAll(e.dispatchEvent)

	scripts, err := e.manager.List()
	if err != nil {
		e.logger.Error("load scripts", "err", err)
		return
	}
	for _, s := range scripts {
		if !s.Meta.Enabled {
			continue
		}
		if err := e.startScript(s); err != nil {
			e.logger.Error("start script", "id", s.ID, "err", err)
		}
	}
	e.logger.Info("scripting engine started", "scripts", e.Running())
}

func (e *Engine) Stop() {
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, vm := range e.vms {
		vm.cancel()
		delete(e.vms, id)
	}
	e.logger.Info("scripting engine stopped")
}

// Running returns the number of live script VMs.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.vms)
}

// ReloadScript restarts id from disk. A disabled script is only stopped.
func (e *Engine) ReloadScript(id string) error {
	e.StopScript(id)

	s, err := e.manager.Get(id)
	if err != nil {
		return fmt.Errorf("get script: %w", err)
	}
	if !s.Meta.Enabled {
		return nil
	}
	return e.startScript(s)
}

func (e *Engine) StopScript(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if vm, ok := e.vms[id]; ok {
		vm.cancel()
		delete(e.vms, id)
		e.logger.Info("script stopped", "id", id)
	}
}

// RunScript executes a stored script once. See RunLuaCode.
func (e *Engine) RunScript(id string) *RunResult {
	start := time.Now()
	s, err := e.manager.Get(id)
	if err != nil {
		return &RunResult{Error: err.Error(), Duration: time.Since(start).String()}
	}
	return e.RunLuaCode(s.Code)
}

// RunLuaCode runs code in a throwaway VM, then calls each handler it
// registered once with a synthetic event. Output of hue.log and system.log
// is returned instead of logged.
func (e *Engine) RunLuaCode(code string) *RunResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	var (
		logs  []string
		logMu sync.Mutex
	)
	capture := func(line string) {
		logMu.Lock()
		defer logMu.Unlock()
		logs = append(logs, line)
	}

	vm := e.newVM(ctx, cancel, capture)
	L := vm.state
	defer L.Close()

	fail := func(err error) *RunResult {
		msg := err.Error()
		if strings.Contains(msg, context.DeadlineExceeded.Error()) {
			msg = "timeout (" + runTimeout.String() + ")"
		}
		e.logger.Warn("script run failed", "err", msg)
		logMu.Lock()
		defer logMu.Unlock()
		return &RunResult{Error: msg, Logs: logs, Duration: time.Since(start).String()}
	}

	if err := L.DoString(code); err != nil {
		return fail(err)
	}

	vm.mu.Lock()
	handlers := append([]luaEventHandler(nil), vm.handlers...)
	vm.mu.Unlock()

	for _, h := range handlers {
		ev := L.NewTable()
		ev.RawSetString("type", lua.LString(h.eventType))
		if h.id != "" {
			ev.RawSetString("id", lua.LString(h.id))
		}
		ev.RawSetString("value", lua.LTrue)
		if err := L.CallByParam(lua.P{Fn: h.fn, NRet: 0, Protect: true}, ev); err != nil {
			return fail(err)
		}
	}

	logMu.Lock()
	defer logMu.Unlock()
	return &RunResult{OK: true, Logs: logs, Duration: time.Since(start).String()}
}

// newVM builds a sandboxed state with the hue and system modules. capture,
// when set, receives log lines in place of the engine logger.
func (e *Engine) newVM(ctx context.Context, cancel context.CancelFunc, capture func(string)) *scriptVM {
	L := lua.NewState()
	for _, name := range []string{"os", "io", "loadfile", "dofile", "require", "load", "debug", "package"} {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetContext(ctx)

	vm := &scriptVM{
		state:    L,
		commands: make(chan func(*lua.LState), 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	registerHueModule(L, vm, e, capture)
	registerSystemModule(L, e, capture)
	return vm
}

func (e *Engine) startScript(s *Script) error {
	ctx, cancel := context.WithCancel(context.Background())
	vm := e.newVM(ctx, cancel, nil)
	L := vm.state

	if err := L.DoString(s.Code); err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("execute script %s: %w", s.ID, err)
	}

	e.mu.Lock()
	if old, ok := e.vms[s.ID]; ok {
		old.cancel()
	}
	e.vms[s.ID] = vm
	e.mu.Unlock()

	go func() {
		defer L.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-vm.commands:
				fn(L)
			}
		}
	}()

	e.logger.Info("script started", "id", s.ID, "name", s.Meta.Name)
	return nil
}

// dispatchEvent queues ev on every VM with a matching handler.
func (e *Engine) dispatchEvent(ev events.Event) {
	e.mu.Lock()
	vms := make([]*scriptVM, 0, len(e.vms))
	for _, vm := range e.vms {
		vms = append(vms, vm)
	}
	e.mu.Unlock()

	for _, vm := range vms {
		vm.mu.Lock()
		handlers := append([]luaEventHandler(nil), vm.handlers...)
		vm.mu.Unlock()

	queue:
		for _, h := range handlers {
			if !matchesHandler(h, ev) {
				continue
			}
			fn := h.fn
			select {
			case <-vm.ctx.Done():
				break queue
			case vm.commands <- func(L *lua.LState) { e.callHandler(L, fn, ev) }:
			default:
				e.logger.Warn("script command queue full, dropping event", "type", ev.Type)
			}
		}
	}
}

func matchesHandler(h luaEventHandler, ev events.Event) bool {
	if h.eventType != "*" && h.eventType != ev.Type {
		return false
	}
	return h.id == "" || h.id == ev.ID
}

func (e *Engine) callHandler(L *lua.LState, fn *lua.LFunction, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("lua handler panic", "err", r)
		}
	}()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, eventTable(L, ev)); err != nil {
		e.logger.Error("lua handler error", "type", ev.Type, "err", err)
	}
}

func eventTable(L *lua.LState, ev events.Event) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("type", lua.LString(ev.Type))
	if ev.ID != "" {
		t.RawSetString("id", lua.LString(ev.ID))
	}
	if ev.Address != "" {
		t.RawSetString("address", lua.LString(ev.Address))
	}
	if ev.Value != nil {
		t.RawSetString("value", goToLua(L, ev.Value))
	}
	if ev.Data != nil {
		t.RawSetString("data", goToLua(L, ev.Data))
	}
	return t
}

// toLua converts any JSON-encodable value through its JSON form.
func toLua(L *lua.LState, v any) lua.LValue {
	data, err := json.Marshal(v)
	if err != nil {
		return lua.LNil
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return lua.LNil
	}
	return goToLua(L, generic)
}

func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case json.Number:
		f, _ := val.Float64()
		return lua.LNumber(f)
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.NewTable()
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	case []string:
		t := L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value for a JSON request body. A table with a
// non-empty array part becomes a slice, anything else a map.
func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		f := float64(val)
		if f == float64(int64(f)) {
			return int64(f)
		}
		return f
	case *lua.LTable:
		if n := val.Len(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, vv lua.LValue) {
			out[k.String()] = luaToGo(vv)
		})
		return out
	default:
		return val.String()
	}
}
