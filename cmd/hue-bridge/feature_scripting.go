//go:build !no_scripting

package main

import (
	"log/slog"

	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/scripting"
	"hue-go-bridge/internal/web"
)

type scriptStopper struct {
	engine *scripting.Engine
}

func (s *scriptStopper) Stop() {
	if s.engine != nil {
		s.engine.Stop()
	}
}

func initScripting(api *bridge.Dispatcher, ds *datastore.Datastore, bus *events.Bus, cfg *Config, logger *slog.Logger) (*scriptStopper, []web.ServerOption) {
	mgr, err := scripting.NewManager(cfg.ScriptsDir, logger)
	if err != nil {
		logger.Error("create script manager", "err", err)
		return &scriptStopper{}, nil
	}
	engine := scripting.NewEngine(api, ds, mgr, logger)
	engine.Start(bus)

	opts := []web.ServerOption{
		web.WithScripting(engine, mgr),
	}
	return &scriptStopper{engine: engine}, opts
}
