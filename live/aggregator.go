package live

import (
	"context"
	"time"

	"github.com/FringeDweller/fleet2-sub005/obd"
	"github.com/FringeDweller/fleet2-sub005/poller"
	"github.com/FringeDweller/fleet2-sub005/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// OverviewPIDs is the 5-parameter vehicle overview set.
var OverviewPIDs = []obd.PID{
	obd.EngineRPM,
	obd.VehicleSpeed,
	obd.CoolantTemp,
	obd.FuelLevel,
	obd.ThrottlePosition,
}

// FullPIDs is the 6-parameter full live-data set.
var FullPIDs = []obd.PID{
	obd.EngineRPM,
	obd.VehicleSpeed,
	obd.CoolantTemp,
	obd.FuelLevel,
	obd.ThrottlePosition,
	obd.EngineLoad,
}

// Aggregator composes the session, the poller and the parameter registry
// into a per-metric read model. Both the overview and the full live-data
// view are instances of the same mechanics over different parameter sets.
//
// The aggregator subscribes to session state changes and halts polling
// whenever the connection is lost.
type Aggregator struct {
	manager    *session.Manager
	poller     *poller.Poller
	pids       []obd.PID
	thresholds obd.Thresholds

	unsubscribe func()
	watcherDone chan struct{}
}

// NewOverview builds the 5-metric vehicle overview aggregator.
func NewOverview(m *session.Manager, interval time.Duration) *Aggregator {
	return NewAggregator(m, OverviewPIDs, interval)
}

// NewFull builds the 6-metric full live-data aggregator.
func NewFull(m *session.Manager, interval time.Duration) *Aggregator {
	return NewAggregator(m, FullPIDs, interval)
}

func NewAggregator(m *session.Manager, pids []obd.PID, interval time.Duration) *Aggregator {
	a := &Aggregator{
		manager:    m,
		poller:     poller.New(m.Channel(), pids, interval),
		pids:       pids,
		thresholds: obd.DefaultThresholds(),
	}

	states, unsubscribe := m.Subscribe()
	a.unsubscribe = unsubscribe
	a.watcherDone = make(chan struct{})

	go a.watchConnection(states)

	return a
}

// SetThresholds replaces the severity classification thresholds.
func (a *Aggregator) SetThresholds(t obd.Thresholds) {
	a.thresholds = t
}

func (a *Aggregator) watchConnection(states <-chan session.State) {
	defer close(a.watcherDone)

	for state := range states {
		if state == session.StateConnected {
			continue
		}

		if a.poller.Polling() {
			log.Info().
				Stringer("State", state).
				Msg("live: connection lost, halting polling")
			a.poller.Stop()
		}

		a.poller.Clear()
	}
}

// Start begins polling. Requires an established connection.
func (a *Aggregator) Start(ctx context.Context) error {
	if state := a.manager.State(); state != session.StateConnected {
		return errors.Errorf("cannot start polling while %v", state)
	}

	a.poller.Start(ctx)
	return nil
}

func (a *Aggregator) Stop() {
	a.poller.Stop()
}

func (a *Aggregator) SetInterval(ctx context.Context, d time.Duration) {
	a.poller.SetInterval(ctx, d)
}

func (a *Aggregator) Interval() time.Duration {
	return a.poller.Interval()
}

// Snapshot exposes the underlying poll snapshot for collaborators that
// persist raw values.
func (a *Aggregator) Snapshot() poller.Snapshot {
	return a.poller.Latest()
}

// Views recomputes the per-metric read model from the current snapshot.
func (a *Aggregator) Views() []MetricView {
	snap := a.poller.Latest()

	var connErr error

	if a.manager.State() == session.StateDisconnected {
		connErr = a.manager.LastError()
	}

	views := make([]MetricView, len(a.pids))

	for i, p := range a.pids {
		views[i] = buildView(p, snap, a.thresholds, connErr)
	}

	return views
}

// Close stops polling and detaches from the session. The aggregator must
// not be reused afterwards.
func (a *Aggregator) Close() {
	a.poller.Stop()
	a.unsubscribe()
	<-a.watcherDone
}
