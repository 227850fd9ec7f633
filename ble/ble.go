package ble

import (
	"fmt"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Advertisement = ble.Advertisement
type Characteristic = ble.Characteristic
type Client = ble.Client

// Handle wraps the HCI device. Exactly one Handle exists per process.
type Handle struct {
	dev *linux.Device
}

func UUID16(i uint16) ble.UUID {
	return ble.UUID16(i)
}

func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		successfulConnectionsCounter,
		failedConnectionsCounter,
		disconnectsCounter,
	)
}

// Init opens the given HCI device. OBD adapter clones generally put their
// local name only in the scan response, so scans are active.
func Init(deviceId int) (*Handle, error) {
	log.Debug().
		Int("DeviceID", deviceId).
		Msg("Initializing Bluetooth device")

	dev, err := linux.NewDevice(
		ble.OptDeviceID(deviceId),
		ble.OptScanParams(cmd.LESetScanParameters{
			LEScanType:           0x01,   // active scan
			LEScanInterval:       0x0004, // 0x0004 - 0x4000; N * 0.625msec
			LEScanWindow:         0x0004, // 0x0004 - 0x4000; N * 0.625msec
			OwnAddressType:       0x00,   // public
			ScanningFilterPolicy: 0x00,   // accept all
		}),
	)

	if err != nil {
		return nil, fmt.Errorf("failed to init bluetooth device: %w", err)
	}

	ble.SetDefaultDevice(dev)

	return &Handle{dev: dev}, nil
}

func (h *Handle) Stop() {
	h.dev.Stop()
}
