package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"hue-go-bridge/internal/adapter"
	"hue-go-bridge/internal/automation"
	"hue-go-bridge/internal/bridge"
	"hue-go-bridge/internal/datastore"
	"hue-go-bridge/internal/events"
	"hue-go-bridge/internal/history"
	"hue-go-bridge/internal/hue"
	"hue-go-bridge/internal/metrics"
	"hue-go-bridge/internal/store"
	"hue-go-bridge/internal/web"
)

func runServe(opts *rootOptions) error {
	cfg, logger, err := setup(opts)
	if err != nil {
		return err
	}
	logger.Info("hue-bridge starting", "version", version)

	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		return err
	}
	defer db.Close()

	bus := events.NewBus(logger)
	defer bus.Close()

	ds, err := datastore.New(db,
		datastore.WithLogger(logger),
		datastore.WithPublisher(bus),
		datastore.WithName(cfg.Bridge.Name))
	if err != nil {
		logger.Error("load datastore", "err", err)
		return err
	}
	ds.SetNetwork(datastore.Network{
		Address: cfg.Bridge.Address,
		Netmask: cfg.Bridge.Netmask,
		Gateway: cfg.Bridge.Gateway,
		MAC:     cfg.Bridge.MAC,
		Port:    cfg.Bridge.Port,
	})
	if err := seedTimezone(ds, cfg.Bridge.Timezone); err != nil {
		logger.Error("set timezone", "err", err)
		return err
	}
	logger.Info("datastore loaded", "path", cfg.Store.Path, "bridgeid", ds.Network().BridgeID())

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)
	m.Start(bus)
	defer m.Stop()

	api := bridge.New(ds,
		bridge.WithLogger(logger),
		bridge.WithPublisher(bus),
		bridge.WithObserver(m))

	registry := adapter.NewRegistry(ds, bus, logger)
	registry.Start(bus)

	autoOpts := []automation.Option{
		automation.WithObserver(m),
		automation.WithTick(cfg.tick()),
	}
	rules := automation.NewRuleEngine(ds, api, logger, autoOpts...)
	rules.Start(context.Background())
	schedules := automation.NewScheduleEngine(ds, api, logger, autoOpts...)
	schedules.Start(bus)
	daylight := automation.NewDaylightEngine(ds, bus, logger, autoOpts...)
	daylight.Start(bus)

	// Scripting and MQTT are no-ops when built with no_scripting / no_mqtt.
	scripts, scriptOpts := initScripting(api, ds, bus, cfg, logger)
	mqtt := initMQTT(registry, ds, api, bus, cfg, logger)
	hist := initHistory(ds, bus, cfg, logger)

	var webOpts []web.ServerOption
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	webOpts = append(webOpts, web.WithVersion(version), web.WithMetrics(m.Handler()))
	webOpts = append(webOpts, scriptOpts...)

	webServer := web.NewServer(api, registry, bus, logger, webOpts...)
	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	mqtt.Stop()
	scripts.Stop()
	daylight.Stop()
	schedules.Stop()
	rules.Stop()
	registry.Stop()
	hist.Stop()
	bus.Flush()

	logger.Info("goodbye")
	return nil
}

// seedTimezone applies the configured timezone while the stored one is
// still the factory default; a timezone set over the API wins.
func seedTimezone(ds *datastore.Datastore, tz string) error {
	def := hue.DefaultConfig("").Timezone
	if tz == def || ds.Config().Timezone != def {
		return nil
	}
	return ds.UpdateConfig(func(c *hue.Config) { c.Timezone = tz })
}

type historyStopper struct {
	rec *history.Recorder
}

func (h *historyStopper) Stop() {
	if h.rec != nil {
		h.rec.Stop()
	}
}

func initHistory(ds *datastore.Datastore, bus *events.Bus, cfg *Config, logger *slog.Logger) *historyStopper {
	rec, err := history.Connect(history.Config{
		Enabled:       cfg.Influx.Enabled,
		URL:           cfg.Influx.URL,
		Token:         cfg.Influx.Token,
		Org:           cfg.Influx.Org,
		Bucket:        cfg.Influx.Bucket,
		BatchSize:     cfg.Influx.BatchSize,
		FlushInterval: cfg.Influx.FlushInterval,
	}, ds, logger)
	if errors.Is(err, history.ErrDisabled) {
		return &historyStopper{}
	}
	if err != nil {
		logger.Error("influx history", "err", err)
		return &historyStopper{}
	}
	rec.Start(bus)
	return &historyStopper{rec: rec}
}
