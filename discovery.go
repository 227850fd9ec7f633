package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/maps"

	"github.com/FringeDweller/fleet2-sub005/ble"
)

// doDeviceDiscovery scans for a few seconds and prints everything seen,
// merging repeated advertisements per address. Useful for finding the
// adapter's MAC for the -adapter flag.
func doDeviceDiscovery(cfg config) {
	log.Info().Msg("Starting in device discovery mode - collecting devices for 5 seconds...")

	handle, err := ble.Init(cfg.BluetoothDeviceId)

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Bluetooth device")
	}

	ctx := ble.WrapContextWithSigHandler(
		context.WithTimeout(
			context.Background(),
			5*time.Second,
		),
	)

	type deviceInfo struct {
		name        string
		connectable bool
		services    map[string]bool
	}

	devices := make(map[string]deviceInfo)

	err = handle.ScanAll(ctx, func(a ble.Advertisement) {
		info, ok := devices[a.Addr().String()]

		if !ok {
			info = deviceInfo{services: make(map[string]bool)}
		}

		if info.name == "" {
			info.name = a.LocalName()
		}

		info.connectable = a.Connectable()

		for _, uuid := range a.Services() {
			info.services[uuid.String()] = true
		}

		devices[a.Addr().String()] = info

		log.Debug().
			Str("Addr", a.Addr().String()).
			Str("Name", a.LocalName()).
			Bool("Connectable", a.Connectable()).
			Strs("Services", maps.Keys(info.services)).
			Msg("Received device advertisement")
	})

	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		log.Fatal().Err(err).Msg("Failed to initiate scan")
	}

	log.Info().Int("Found", len(devices)).Msg("Finished device discovery")

	for addr, data := range devices {
		log.Info().
			Str("Addr", addr).
			Str("Name", data.name).
			Bool("Connectable", data.connectable).
			Strs("Services", maps.Keys(data.services)).
			Msg("Found device")
	}
}
