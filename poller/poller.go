package poller

import (
	"context"
	"sync"
	"time"

	"github.com/FringeDweller/fleet2-sub005/obd"
	"github.com/rs/zerolog/log"
)

const (
	MinInterval     = 200 * time.Millisecond
	MaxInterval     = 10000 * time.Millisecond
	DefaultInterval = 1000 * time.Millisecond
)

// ClampInterval forces an interval into the supported range.
func ClampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}

	if d > MaxInterval {
		return MaxInterval
	}

	return d
}

// Querier reads one parameter. Implementations must tolerate strictly
// sequential calls only; the poller never issues two queries at once.
type Querier interface {
	Query(ctx context.Context, p obd.PID) (obd.Sample, error)
}

// Snapshot is one complete, internally consistent set of readings as of a
// single poll cycle. It is replaced wholesale, never mutated in place.
type Snapshot struct {
	Values map[string]obd.Sample // keyed by PID code
	At     time.Time
	Seq    uint64
}

// Sample returns the reading for a parameter; a missing entry is an
// invalid sample.
func (s Snapshot) Sample(p obd.PID) obd.Sample {
	return s.Values[p.Code]
}

// Poller drives the querier across a configured parameter set on a timer,
// producing timestamped snapshots. One command is in flight at a time; a
// per-parameter failure never aborts the rest of the cycle.
type Poller struct {
	querier Querier
	pids    []obd.PID

	mu       sync.Mutex
	interval time.Duration
	snap     Snapshot
	polling  bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(q Querier, pids []obd.PID, interval time.Duration) *Poller {
	return &Poller{
		querier:  q,
		pids:     pids,
		interval: ClampInterval(interval),
	}
}

// Start begins polling: one immediate cycle, then one per interval. If
// already polling, the previous loop is stopped first.
func (p *Poller) Start(parentCtx context.Context) {
	p.Stop()

	ctx, cancel := context.WithCancel(parentCtx)
	done := make(chan struct{})

	p.mu.Lock()
	p.polling = true
	p.cancel = cancel
	p.done = done
	interval := p.interval
	p.mu.Unlock()

	log.Info().
		Dur("Interval", interval).
		Int("Parameters", len(p.pids)).
		Msg("poller: starting")

	go p.run(ctx, done, interval)
}

func (p *Poller) run(ctx context.Context, done chan struct{}, interval time.Duration) {
	defer close(done)

	p.Poll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll performs exactly one cycle: every configured parameter is queried
// in order, failures degrade to invalid samples, and the accumulated
// values replace the snapshot atomically. A cycle cancelled mid-flight is
// discarded instead of committed.
func (p *Poller) Poll(ctx context.Context) {
	values := make(map[string]obd.Sample, len(p.pids))

	for _, pid := range p.pids {
		if ctx.Err() != nil {
			return
		}

		sample, err := p.querier.Query(ctx, pid)

		if err != nil {
			log.Warn().
				Err(err).
				Stringer("PID", pid).
				Msg("poller: parameter read failed")
			values[pid.Code] = obd.Sample{}
			continue
		}

		values[pid.Code] = sample
	}

	// stopped while the last command was in flight: discard rather than
	// write into a torn-down snapshot.
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap = Snapshot{
		Values: values,
		At:     time.Now(),
		Seq:    p.snap.Seq + 1,
	}
}

// Stop cancels the poll loop and waits for an in-flight cycle to settle.
// Its result is discarded.
func (p *Poller) Stop() {
	p.mu.Lock()

	if !p.polling {
		p.mu.Unlock()
		return
	}

	p.polling = false
	cancel := p.cancel
	done := p.done
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	<-done

	log.Info().Msg("poller: stopped")
}

// SetInterval clamps and applies a new interval. If currently polling,
// the loop restarts so the new cadence takes effect immediately.
func (p *Poller) SetInterval(ctx context.Context, d time.Duration) {
	d = ClampInterval(d)

	p.mu.Lock()
	p.interval = d
	polling := p.polling
	p.mu.Unlock()

	log.Debug().Dur("Interval", d).Msg("poller: interval updated")

	if polling {
		p.Start(ctx)
	}
}

// Interval returns the effective (clamped) interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.interval
}

func (p *Poller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.polling
}

// Latest returns the current snapshot. Safe to hand out: snapshots are
// replaced, never mutated.
func (p *Poller) Latest() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.snap
}

// Clear drops the snapshot, e.g. after a disconnect.
func (p *Poller) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.snap = Snapshot{}
}

// PIDs returns the configured parameter set in poll order.
func (p *Poller) PIDs() []obd.PID {
	return p.pids
}
