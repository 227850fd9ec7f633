package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/FringeDweller/fleet2-sub005/elm"
	"github.com/FringeDweller/fleet2-sub005/obd"
	"github.com/FringeDweller/fleet2-sub005/poller"
	"github.com/FringeDweller/fleet2-sub005/session"
	"github.com/rs/zerolog/log"
)

type config struct {
	Debug, Trace      bool
	BindAddress       string
	DiscoverDevices   bool
	BluetoothDeviceId int

	AdapterAddress string // skip scanning when set
	ScanTimeout    time.Duration
	CommandTimeout time.Duration
	PollInterval   time.Duration
	View           string

	ThresholdsFile string
	Thresholds     obd.Thresholds

	Reconnect session.Policy
}

func ParseArgs() config {
	var cfg config

	flag.StringVar(&cfg.BindAddress, "bind", "localhost:9109", "Where the HTTP server will bind to")
	flag.IntVar(&cfg.BluetoothDeviceId, "bluetooth-device", 0, "Bluetooth (HCI) device ID")
	flag.BoolVar(&cfg.DiscoverDevices, "discover", false, "Discover available BLE devices and quit")
	flag.StringVar(&cfg.AdapterAddress, "adapter", "",
		"MAC address of the OBD adapter. When empty, the first matching adapter found by a scan is used")
	flag.DurationVar(&cfg.ScanTimeout, "scan-timeout", session.DefaultScanTimeout,
		"How long to scan for an adapter before giving up")
	flag.DurationVar(&cfg.CommandTimeout, "command-timeout", elm.DefaultTimeout,
		"Per-command response timeout")
	flag.DurationVar(&cfg.PollInterval, "interval", poller.DefaultInterval,
		fmt.Sprintf("How frequently live data is polled (clamped to %v-%v)",
			poller.MinInterval, poller.MaxInterval))
	flag.StringVar(&cfg.View, "view", "full",
		"Live view to serve: 'full' (6 metrics) or 'overview' (5 metrics)")
	flag.StringVar(&cfg.ThresholdsFile, "thresholds", "",
		"Optional yaml file overriding the severity classification thresholds")

	cfg.Reconnect = session.DefaultPolicy()
	flag.BoolVar(&cfg.Reconnect.Enabled, "reconnect", cfg.Reconnect.Enabled,
		"Automatically reconnect after an unsolicited disconnect")
	flag.IntVar(&cfg.Reconnect.MaxRetries, "reconnect-max-retries", cfg.Reconnect.MaxRetries,
		"Max number of reconnection attempts")
	flag.DurationVar(&cfg.Reconnect.BaseDelay, "reconnect-delay", cfg.Reconnect.BaseDelay,
		"Base delay before the first reconnection retry")
	flag.Float64Var(&cfg.Reconnect.Multiplier, "reconnect-backoff", cfg.Reconnect.Multiplier,
		"Exponential backoff multiplier between reconnection retries")

	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logs")
	flag.BoolVar(&cfg.Trace, "trace", false, "Enable trace logs")

	flag.Parse()

	if cfg.View != "full" && cfg.View != "overview" {
		fmt.Fprintf(os.Stderr, "Error: unknown view %q (must be 'full' or 'overview')\n", cfg.View)
		flag.Usage()
		os.Exit(1)
	}

	cfg.Thresholds = obd.DefaultThresholds()

	if cfg.ThresholdsFile != "" {
		thresholds, err := obd.LoadThresholds(cfg.ThresholdsFile)

		if err != nil {
			log.Fatal().Err(err).Str("File", cfg.ThresholdsFile).Msg("Failed to load thresholds")
		}

		cfg.Thresholds = thresholds
	}

	return cfg
}
