package ble

import (
	"context"
	"net"

	"github.com/go-ble/ble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	successfulConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obd_ble_successful_connections_total",
	})
	failedConnectionsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obd_ble_failed_connections_total",
	})
	disconnectsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "obd_ble_disconnections_total",
	})
)

// Dial opens a connection to the adapter at the given address. The session
// layer owns the returned client; the watchdog goroutine only accounts for
// connection loss.
func (h *Handle) Dial(ctx context.Context, addr net.HardwareAddr) (Client, error) {
	conn, err := ble.Dial(ctx, addr)

	if err != nil {
		failedConnectionsCounter.Inc()
		return nil, err
	}

	successfulConnectionsCounter.Inc()
	log.Debug().Stringer("Addr", addr).Msg("ble: successfully opened connection to adapter")

	go func() {
		<-conn.Disconnected()

		disconnectsCounter.Inc()
		log.Debug().Stringer("Addr", addr).Msg("ble: connection with adapter closed")
	}()

	return conn, nil
}
