//go:build !no_mqtt

package main

import (
	"log/slog"

	"hue-go-bridge/internal/adapter"
	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	mqttbridge "hue-go-bridge/internal/mqtt"
)

type mqttStopper struct {
	bridge *mqttbridge.Bridge
}

func (m *mqttStopper) Stop() {
	if m.bridge != nil {
		m.bridge.Stop()
	}
}

func initMQTT(reg *adapter.Registry, ds *datastore.Datastore, api *bridge.Dispatcher, bus *events.Bus, cfg *Config, logger *slog.Logger) *mqttStopper {
	if !cfg.MQTT.Enabled {
		return &mqttStopper{}
	}
	b, err := mqttbridge.NewBridge(mqttbridge.Config{
		Broker:          cfg.MQTT.Broker,
		Username:        cfg.MQTT.Username,
		Password:        cfg.MQTT.Password,
		TopicPrefix:     cfg.MQTT.TopicPrefix,
		Discovery:       cfg.MQTT.Discovery,
		DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
	}, reg, ds, api, logger)
	if err != nil {
		logger.Error("mqtt bridge", "err", err)
		return &mqttStopper{}
	}
	if err := b.Start(bus); err != nil {
		logger.Error("mqtt bridge start", "err", err)
		b.Stop()
		return &mqttStopper{}
	}
	return &mqttStopper{bridge: b}
}
