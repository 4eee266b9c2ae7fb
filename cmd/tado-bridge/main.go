package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/ha-addons/tado-bridge/internal/api"
	"github.com/ha-addons/tado-bridge/internal/bus"
	"github.com/ha-addons/tado-bridge/internal/config"
	"github.com/ha-addons/tado-bridge/internal/connector"
	"github.com/ha-addons/tado-bridge/internal/ha"
	"github.com/ha-addons/tado-bridge/internal/logging"
	"github.com/ha-addons/tado-bridge/internal/metrics"
	"github.com/ha-addons/tado-bridge/internal/model"
	"github.com/ha-addons/tado-bridge/internal/scheduler"
	"github.com/ha-addons/tado-bridge/internal/store"
	"github.com/ha-addons/tado-bridge/internal/tado"
)

const setupRetryInterval = 30 * time.Second

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel)
	log.Info().Msg("Starting tado-bridge")

	metrics.InitStatsd(cfg.DDAgentAddr, cfg.DDNamespace, cfg.DDTags, cfg.EnableDatadog)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create data directory")
	}
	options, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open options store")
	}
	defer options.Close()

	mergePersistedOptions(cfg, options)

	dispatcher := bus.New()
	haClient := ha.NewClient(cfg.HomeAssistantURL, cfg.HomeAssistantToken)

	conn := connector.New(connector.Config{
		TokenFile:             cfg.TokenFile,
		Fallback:              cfg.Fallback,
		ScanIntervalSeconds:   cfg.ScanIntervalSeconds,
		DeviceIDOverrides:     cfg.DeviceIDOverrides,
		DeviceTypeIDOverrides: cfg.DeviceTypeIDOverrides,
		DeviceOffsets:         cfg.DeviceOffsets,
		DeviceTypeOffsets:     cfg.DeviceTypeOffsets,
		DeviceZoneMap:         cfg.DeviceZoneMap,
		ZoneSensorMap:         cfg.ZoneSensorMap,
		LinkablePrefixes:      cfg.LinkableDevicePrefixes,
	}, func(tokenFile string) (tado.API, error) {
		return tado.NewClient(tokenFile)
	}, dispatcher, haClient)

	setUp(conn)
	conn.Update()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := ha.NewWatcher(haClient, func() map[string]bool {
		watched := make(map[string]bool)
		for _, sensors := range conn.Offsets().ZoneSensorMap() {
			for _, sensor := range sensors {
				watched[sensor] = true
			}
		}
		return watched
	}, func(entityID string, force bool) {
		conn.Offsets().RecomputeForSensor(entityID, force)
	})
	go watcher.Run(ctx)

	go emitGauges(ctx, dispatcher, conn)

	sched := scheduler.New(conn)
	err = sched.Start(scheduler.Intervals{
		ScanSeconds:          conn.ScanIntervalSeconds(),
		OffsetRecalcSeconds:  cfg.OffsetRecalcIntervalSeconds,
		OffsetRefreshSeconds: cfg.TempOffsetRefreshIntervalSeconds,
		HomeRefreshSeconds:   cfg.HomeWeatherRefreshIntervalSeconds,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start poll scheduler")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(conn))
	server := api.NewServer(conn, options, reg)
	go func() {
		if err := server.Start(cfg.ListenAddr); err != nil {
			log.Fatal().Err(err).Msg("REST API server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	sched.Stop()
}

// setUp establishes the remote session, retrying while the cloud API is
// unreachable. Auth and permanent failures are fatal; restarting with the
// same inputs would fail the same way.
func setUp(conn *connector.Connector) {
	for {
		err := conn.Setup()
		if err == nil {
			return
		}
		if errors.Is(err, tado.ErrTransient) {
			log.Warn().Err(err).Dur("retry_in", setupRetryInterval).Msg("Setup failed, will retry")
			time.Sleep(setupRetryInterval)
			continue
		}
		log.Fatal().Err(err).Msg("Setup failed")
	}
}

func mergePersistedOptions(cfg *config.Config, options *store.Store) {
	opts, err := options.LoadOptions()
	if err != nil {
		log.Warn().Err(err).Msg("Could not load persisted runtime options")
		return
	}
	if opts == nil {
		return
	}
	log.Info().Msg("Applying persisted runtime options")
	if len(opts.DeviceIDOverrides) > 0 {
		cfg.DeviceIDOverrides = opts.DeviceIDOverrides
	}
	if len(opts.DeviceOffsets) > 0 {
		cfg.DeviceOffsets = opts.DeviceOffsets
	}
	if len(opts.DeviceZoneMap) > 0 {
		cfg.DeviceZoneMap = opts.DeviceZoneMap
	}
	if len(opts.ZoneSensorMap) > 0 {
		cfg.ZoneSensorMap = opts.ZoneSensorMap
	}
	if opts.ScanIntervalSeconds > 0 {
		cfg.ScanIntervalSeconds = opts.ScanIntervalSeconds
	}
}

// emitGauges mirrors zone and counter changes to DogStatsD as they happen.
func emitGauges(ctx context.Context, dispatcher *bus.Bus, conn *connector.Connector) {
	signals, cancel := dispatcher.Subscribe(func(sig bus.Signal) bool {
		return sig.Category == model.CategoryZone || sig.Category == model.CategoryAPICalls
	})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if sig.Category == model.CategoryAPICalls {
				metrics.Gauge("api_calls_today", float64(conn.APICallCount()))
				continue
			}
			zoneID, err := strconv.Atoi(sig.EntityID)
			if err != nil {
				continue
			}
			data, ok := conn.ZoneData(zoneID)
			if !ok {
				continue
			}
			tag := "zone_id:" + sig.EntityID
			if data.CurrentTemp != nil {
				metrics.Gauge("zone.current_temperature", *data.CurrentTemp, tag)
			}
			if data.TargetTemp != nil {
				metrics.Gauge("zone.target_temperature", *data.TargetTemp, tag)
			}
			if data.HeatingPowerPercentage != nil {
				metrics.Gauge("zone.heating_power", *data.HeatingPowerPercentage, tag)
			}
		}
	}
}
