//go:build no_mqtt

package main

import (
	"log/slog"

	"hue-go-bridge/internal/adapter"
	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *adapter.Registry, _ *datastore.Datastore, _ *bridge.Dispatcher, _ *events.Bus, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
