package session

import (
	"context"
	"sync"
	"time"

	"github.com/FringeDweller/fleet2-sub005/elm"
	"github.com/FringeDweller/fleet2-sub005/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultConnectTimeout = 10 * time.Second

// Manager owns the transport lifecycle and the
// disconnected→scanning→connecting→connected→reconnecting state machine,
// including automatic reconnection with exponential backoff.
//
// A Manager is constructed and owned by its caller; it is not a process
// singleton.
type Manager struct {
	transport      Transport
	policy         Policy
	connectTimeout time.Duration
	channel        *elm.Channel
	hub            *Hub

	mu          sync.Mutex
	state       State
	link        Link
	last        *Device // last-connected identity, reused for reconnects
	intentional bool    // manual disconnect suppresses auto-reconnect
	attempt     int
	retryTimer  *time.Timer
	gen         int // invalidates stale disconnect watchers
	lastErr     error
}

func New(t Transport, policy Policy) *Manager {
	return &Manager{
		transport:      t,
		policy:         policy,
		connectTimeout: DefaultConnectTimeout,
		channel:        elm.NewChannel(),
		hub:            newHub(),
		state:          StateDisconnected,
	}
}

// Channel returns the command channel bound to the current link. It is
// valid for the Manager's whole lifetime; sends fail while disconnected.
func (m *Manager) Channel() *elm.Channel {
	return m.channel
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastErr
}

// LastDevice returns the last-connected identity, or nil.
func (m *Manager) LastDevice() *Device {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last == nil {
		return nil
	}

	dev := *m.last
	return &dev
}

// Subscribe registers a state-change listener. The returned function
// unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan State, func()) {
	return m.hub.Subscribe()
}

// setState must be called with m.mu held.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}

	log.Debug().
		Stringer("From", m.state).
		Stringer("To", s).
		Msg("session: state change")

	m.state = s
	m.hub.publish(s)
}

// Scan discovers one adapter. A user-initiated cancellation is not an
// error and yields (nil, nil); any other discovery failure is recorded
// and returned. An unsupported transport fails immediately without
// changing state.
func (m *Manager) Scan(ctx context.Context) (*Device, error) {
	if err := m.transport.Ready(); err != nil {
		return nil, err
	}

	m.mu.Lock()

	if m.state != StateDisconnected {
		defer m.mu.Unlock()
		return nil, errors.Errorf("cannot scan while %v", m.state)
	}

	m.setState(StateScanning)
	m.mu.Unlock()

	dev, err := m.transport.Scan(ctx)

	m.mu.Lock()
	m.setState(StateDisconnected)

	if err != nil {
		if utils.ErrorIsAnyOf(err, context.Canceled) {
			m.mu.Unlock()
			log.Debug().Msg("session: scan cancelled by caller")
			return nil, nil
		}

		m.lastErr = err
		m.mu.Unlock()
		return nil, errors.Wrap(err, "adapter discovery failed")
	}

	m.mu.Unlock()

	log.Info().Stringer("Device", dev).Msg("session: adapter discovered")

	return &dev, nil
}

// Connect establishes a link to the given adapter. On failure the state
// reverts to disconnected, the error is recorded and partial resources
// are released; the caller may retry manually.
func (m *Manager) Connect(ctx context.Context, dev Device) error {
	m.mu.Lock()

	if m.state != StateDisconnected {
		defer m.mu.Unlock()
		return errors.Errorf("cannot connect while %v", m.state)
	}

	m.setState(StateConnecting)
	m.mu.Unlock()

	if err := m.dial(ctx, dev); err != nil {
		m.mu.Lock()
		m.lastErr = err
		m.setState(StateDisconnected)
		m.mu.Unlock()
		return err
	}

	return nil
}

// dial performs one connection attempt: open the link, attach the command
// channel, run the adapter init sequence and install the disconnect
// watcher. The caller owns state transitions on failure.
func (m *Manager) dial(parentCtx context.Context, dev Device) error {
	ctx, cancel := context.WithTimeout(parentCtx, m.connectTimeout)
	defer cancel()

	link, err := m.transport.Dial(ctx, dev, m.channel.HandleNotification)

	if err != nil {
		return errors.Wrapf(err, "failed to connect to %v", dev)
	}

	m.channel.Attach(link)

	if err := m.channel.Initialize(ctx); err != nil {
		m.channel.Detach()
		_ = link.Close()
		return errors.Wrap(err, "adapter initialization failed")
	}

	m.mu.Lock()

	if m.intentional && m.state == StateDisconnected {
		// torn down while the dial was in flight.
		m.mu.Unlock()
		m.channel.Detach()
		_ = link.Close()
		return errors.New("session: torn down during connect")
	}

	m.link = link
	m.last = &dev
	m.intentional = false
	m.gen++
	gen := m.gen
	m.setState(StateConnected)
	m.mu.Unlock()

	log.Info().Stringer("Device", dev).Msg("session: connected to adapter")

	go m.watch(link, gen)

	return nil
}

func (m *Manager) watch(link Link, gen int) {
	<-link.Disconnected()
	m.onUnsolicitedDisconnect(gen)
}

// onUnsolicitedDisconnect handles connection loss signalled by the
// transport. Begins the reconnect sequence when the policy allows it,
// otherwise falls back to disconnected.
func (m *Manager) onUnsolicitedDisconnect(gen int) {
	m.mu.Lock()

	if gen != m.gen || m.state != StateConnected {
		// stale watcher, or the loss was already handled.
		m.mu.Unlock()
		return
	}

	log.Warn().Msg("session: connection to adapter lost")

	m.channel.Detach()
	m.link = nil

	if !m.intentional && m.policy.Enabled && m.last != nil {
		m.setState(StateReconnecting)
		m.mu.Unlock()

		go m.reconnectStep()
		return
	}

	m.last = nil
	m.setState(StateDisconnected)
	m.mu.Unlock()
}

// reconnectStep runs one attempt of the reconnect sequence. It reschedules
// itself with exponential backoff until it succeeds, exhausts the retry
// budget, or is cancelled by Disconnect/Close.
func (m *Manager) reconnectStep() {
	m.mu.Lock()

	if m.state != StateReconnecting {
		// cancelled in the meantime.
		m.mu.Unlock()
		return
	}

	m.attempt++

	if m.attempt > m.policy.MaxRetries {
		m.lastErr = errors.Errorf("reconnection failed after %d attempts", m.policy.MaxRetries)
		m.attempt = 0
		m.last = nil
		m.setState(StateDisconnected)
		m.mu.Unlock()

		log.Error().Err(m.LastError()).Msg("session: giving up on reconnection")
		return
	}

	dev := *m.last
	attempt := m.attempt
	m.mu.Unlock()

	log.Info().
		Int("Attempt", attempt).
		Int("MaxRetries", m.policy.MaxRetries).
		Stringer("Device", dev).
		Msg("session: attempting reconnection")

	err := m.dial(context.Background(), dev)

	if err == nil {
		m.mu.Lock()
		m.attempt = 0
		m.mu.Unlock()
		return
	}

	m.mu.Lock()

	if m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}

	delay := m.policy.Delay(attempt)
	m.retryTimer = time.AfterFunc(delay, m.reconnectStep)
	m.mu.Unlock()

	log.Warn().
		Err(err).
		Dur("Backoff", delay).
		Int("Attempt", attempt).
		Msg("session: reconnection attempt failed, backing off")
}

// Disconnect tears the link down on purpose: auto-reconnect is
// suppressed, any pending reconnect timer is cancelled and the
// last-connected identity is dropped.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.intentional = true
	m.attempt = 0

	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}

	// invalidate the disconnect watcher before closing the link so the
	// close is not mistaken for an unsolicited loss.
	m.gen++

	m.channel.Detach()

	if m.link != nil {
		if err := m.link.Close(); err != nil {
			log.Warn().Err(err).Msg("session: error closing link")
		}
		m.link = nil
	}

	m.last = nil
	m.setState(StateDisconnected)
}

// Close releases the session entirely: disconnect plus subscriber
// teardown. The Manager must not be reused afterwards.
func (m *Manager) Close() {
	m.Disconnect()
	m.hub.closeAll()
}
