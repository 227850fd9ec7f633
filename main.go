package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/FringeDweller/fleet2-sub005/ble"
	"github.com/FringeDweller/fleet2-sub005/live"
	"github.com/FringeDweller/fleet2-sub005/metrics"
	"github.com/FringeDweller/fleet2-sub005/obd"
	"github.com/FringeDweller/fleet2-sub005/poller"
	"github.com/FringeDweller/fleet2-sub005/session"
	"github.com/FringeDweller/fleet2-sub005/utils"
)

func main() {
	zerolog.DurationFieldUnit = time.Second
	zerolog.TimeFieldFormat = time.RFC3339Nano

	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05.000",
	})

	cfg := ParseArgs()

	if cfg.Trace || os.Getenv("TRACE") != "" {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else if cfg.Debug || os.Getenv("DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if cfg.DiscoverDevices {
		doDeviceDiscovery(cfg)
		return
	}

	log.Info().
		Str("BindAddr", cfg.BindAddress).
		Str("View", cfg.View).
		Int("BluetoothDeviceID", cfg.BluetoothDeviceId).
		Dur("PollInterval", cfg.PollInterval).
		Msg("Starting with the specified configuration")

	handle, err := ble.Init(cfg.BluetoothDeviceId)

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
	}

	transport := session.NewBLETransport(handle)
	transport.ScanTimeout = cfg.ScanTimeout

	manager := session.New(transport, cfg.Reconnect)
	manager.Channel().SetTimeout(cfg.CommandTimeout)

	device := locateAdapter(cfg, manager)

	ctx := ble.WrapContextWithSigHandler(context.WithCancel(context.Background()))

	if err := manager.Connect(ctx, device); err != nil {
		log.Fatal().Err(err).Stringer("Device", device).Msg("Failed to connect to adapter")
	}

	aggregator := buildAggregator(cfg, manager)

	if err := aggregator.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start polling")
	}

	registry := prometheus.NewRegistry()
	ble.RegisterMetrics(registry)

	metrics.RegisterCollector(
		func() (poller.Snapshot, []obd.PID, session.State) {
			return aggregator.Snapshot(), activePIDs(cfg), manager.State()
		},
		registry,
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/live", liveHandler(aggregator))

	server := &http.Server{Addr: cfg.BindAddress, Handler: mux}

	var eg errgroup.Group

	eg.Go(func() error {
		log.Info().Str("ListenAddress", cfg.BindAddress).Msg("Starting HTTP server")
		return server.ListenAndServe()
	})

	eg.Go(func() error {
		<-ctx.Done()

		log.Info().Msg("Shutting down")

		aggregator.Close()
		manager.Close()
		handle.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server terminated abnormally")
	}
}

// locateAdapter resolves the adapter identity, either from the -adapter
// flag or via a scan.
func locateAdapter(cfg config, manager *session.Manager) session.Device {
	if cfg.AdapterAddress != "" {
		return session.Device{ID: cfg.AdapterAddress}
	}

	log.Info().Dur("Timeout", cfg.ScanTimeout).Msg("Scanning for an OBD adapter")

	scanCtx := ble.WrapContextWithSigHandler(context.WithCancel(context.Background()))
	device, err := manager.Scan(scanCtx)

	if err != nil {
		log.Fatal().Err(err).Msg("Adapter discovery failed")
	}

	if device == nil {
		log.Info().Msg("Scan cancelled, exiting")
		os.Exit(0)
	}

	return *device
}

func buildAggregator(cfg config, manager *session.Manager) *live.Aggregator {
	var aggregator *live.Aggregator

	if cfg.View == "overview" {
		aggregator = live.NewOverview(manager, cfg.PollInterval)
	} else {
		aggregator = live.NewFull(manager, cfg.PollInterval)
	}

	aggregator.SetThresholds(cfg.Thresholds)

	log.Debug().
		Array("Parameters", utils.ToZeroLogArray(activePIDs(cfg))).
		Msg("Live view configured")

	return aggregator
}

func activePIDs(cfg config) []obd.PID {
	if cfg.View == "overview" {
		return live.OverviewPIDs
	}

	return live.FullPIDs
}
