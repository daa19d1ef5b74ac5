//go:build no_scripting

package main

import (
	"log/slog"

	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/web"
)

type scriptStopper struct{}

func (s *scriptStopper) Stop() {}

func initScripting(_ *bridge.Dispatcher, _ *datastore.Datastore, _ *events.Bus, _ *Config, _ *slog.Logger) (*scriptStopper, []web.ServerOption) {
	return &scriptStopper{}, nil
}
