//go:build no_scripting

package scripting

import (
	"errors"
	"log/slog"

	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
)

var errDisabled = errors.New("scripting disabled")

type Dispatcher interface {
	Dispatch(req bridge.Request) bridge.Response
}

type Subscriber interface {
	OnAll(h events.Handler) func()
}

// Manager is a no-op when scripting is compiled out.
type Manager struct{}

func NewManager(string, *slog.Logger) (*Manager, error) { return &Manager{}, nil }

func (m *Manager) List() ([]*Script, error)      { return nil, nil }
func (m *Manager) Get(string) (*Script, error)   { return nil, errDisabled }
func (m *Manager) Save(*Script) (*Script, error) { return nil, errDisabled }
func (m *Manager) Delete(string) error           { return errDisabled }

// Engine is a no-op when scripting is compiled out.
type Engine struct{}

func NewEngine(Dispatcher, *datastore.Datastore, *Manager, *slog.Logger) *Engine {
	return &Engine{}
}

func (e *Engine) Start(Subscriber)          {}
func (e *Engine) Stop()                     {}
func (e *Engine) Running() int              { return 0 }
func (e *Engine) ReloadScript(string) error { return nil }
func (e *Engine) StopScript(string)         {}

func (e *Engine) RunScript(string) *RunResult {
	return &RunResult{Error: errDisabled.Error()}
}

func (e *Engine) RunLuaCode(string) *RunResult {
	return &RunResult{Error: errDisabled.Error()}
}
