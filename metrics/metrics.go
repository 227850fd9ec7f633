package metrics

import (
	"github.com/FringeDweller/fleet2-sub005/obd"
	"github.com/FringeDweller/fleet2-sub005/poller"
	"github.com/FringeDweller/fleet2-sub005/session"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	descValue = prometheus.NewDesc(
		"obd_parameter_value",
		"Decoded value of an OBD live-data parameter.",
		[]string{"code", "name", "unit"},
		nil,
	)

	descPollCycles = prometheus.NewDesc(
		"obd_poll_cycles_total",
		"Number of completed poll cycles.",
		nil,
		nil,
	)

	descConnectionState = prometheus.NewDesc(
		"obd_connection_state",
		"Connection state. 0 = disconnected, 1 = scanning, 2 = connecting, "+
			"3 = connected, 4 = reconnecting.",
		nil,
		nil,
	)
)

// CollectFunc returns the data exported on each scrape: the current
// snapshot, the parameters it covers and the session state.
type CollectFunc func() (poller.Snapshot, []obd.PID, session.State)

type collector struct {
	CollectFunc
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	snap, pids, state := c.CollectFunc()

	ch <- prometheus.MustNewConstMetric(
		descConnectionState,
		prometheus.GaugeValue,
		float64(state),
	)

	ch <- prometheus.MustNewConstMetric(
		descPollCycles,
		prometheus.CounterValue,
		float64(snap.Seq),
	)

	if snap.Seq == 0 {
		return
	}

	for _, p := range pids {
		sample := snap.Sample(p)

		if !sample.Valid {
			// no-data: absent rather than zero.
			continue
		}

		value := prometheus.MustNewConstMetric(
			descValue,
			prometheus.GaugeValue,
			sample.Value,
			p.Code,
			p.Name,
			p.Unit,
		)

		ch <- prometheus.NewMetricWithTimestamp(snap.At, value)
	}
}

func RegisterCollector(f CollectFunc, reg prometheus.Registerer) {
	c := &collector{f}

	reg.MustRegister(c)
}
