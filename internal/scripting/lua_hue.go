//go:build !no_scripting

package scripting

import (
	"encoding/json"
	"strings"
	"time"

	"hue-go-bridge/internal/bridge"

	lua "github.com/yuin/gopher-lua"
)

const maxHandlersPerScript = 100

// registerHueModule installs the `hue` global table.
func registerHueModule(L *lua.LState, vm *scriptVM, e *Engine, capture func(string)) {
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"on":      func(L *lua.LState) int { return hueOn(L, vm) },
		"request": func(L *lua.LState) int { return hueRequest(L, e) },
		"light":   func(L *lua.LState) int { return hueLight(L, e) },
		"sensor":  func(L *lua.LState) int { return hueSensor(L, e) },
		"after":   func(L *lua.LState) int { return hueAfter(L, vm, e) },
		"log": func(L *lua.LState) int {
			msg := L.CheckString(1)
			if capture != nil {
				capture(msg)
			} else {
				e.logger.Info("script log", "msg", msg)
			}
			return 0
		},
	})
	L.SetGlobal("hue", mod)
}

// hue.on(type, [id], fn). Type "*" matches every event.
func hueOn(L *lua.LState, vm *scriptVM) int {
	h := luaEventHandler{eventType: L.CheckString(1)}
	if L.GetTop() >= 3 {
		h.id = L.CheckString(2)
		h.fn = L.CheckFunction(3)
	} else {
		h.fn = L.CheckFunction(2)
	}

	vm.mu.Lock()
	defer vm.mu.Unlock()
	if len(vm.handlers) >= maxHandlersPerScript {
		L.RaiseError("too many handlers (max %d)", maxHandlersPerScript)
		return 0
	}
	vm.handlers = append(vm.handlers, h)
	return 0
}

// hue.request(method, url, [body]) returns the decoded response and the
// HTTP status.
func hueRequest(L *lua.LState, e *Engine) int {
	method := strings.ToUpper(L.CheckString(1))
	url := L.CheckString(2)

	var body []byte
	if L.GetTop() >= 3 && L.Get(3) != lua.LNil {
		data, err := json.Marshal(luaToGo(L.CheckTable(3)))
		if err != nil {
			L.ArgError(3, err.Error())
			return 0
		}
		body = data
	}

	resp := e.api.Dispatch(bridge.Request{Method: method, Path: url, Body: bridge.ParseBody(body)})
	var decoded any
	if len(resp.Body) > 0 && json.Unmarshal(resp.Body, &decoded) == nil {
		L.Push(goToLua(L, decoded))
	} else {
		L.Push(lua.LNil)
	}
	L.Push(lua.LNumber(resp.StatusCode()))
	return 2
}

func hueLight(L *lua.LState, e *Engine) int {
	l, err := e.ds.Light(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, l))
	return 1
}

func hueSensor(L *lua.LState, e *Engine) int {
	s, err := e.ds.Sensor(L.CheckString(1))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, s))
	return 1
}

// hue.after(seconds, fn) runs fn on the script's goroutine once the delay
// has passed.
func hueAfter(L *lua.LState, vm *scriptVM, e *Engine) int {
	seconds := L.CheckNumber(1)
	fn := L.CheckFunction(2)

	go func() {
		timer := time.NewTimer(time.Duration(float64(seconds) * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-vm.ctx.Done():
			return
		}
		select {
		case vm.commands <- func(L *lua.LState) {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
				e.logger.Error("after callback error", "err", err)
			}
		}:
		case <-vm.ctx.Done():
		default:
			e.logger.Warn("after: command queue full")
		}
	}()
	return 0
}
