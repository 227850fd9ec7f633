package session_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FringeDweller/fleet2-sub005/session"
)

type fakeLink struct {
	notify func([]byte)
	drop   chan struct{}
	once   sync.Once
}

func newFakeLink(notify func([]byte)) *fakeLink {
	return &fakeLink{
		notify: notify,
		drop:   make(chan struct{}),
	}
}

func (l *fakeLink) Write(p []byte) error {
	// acknowledge every command so the adapter init sequence completes.
	l.notify([]byte("OK\r>"))
	return nil
}

func (l *fakeLink) Disconnected() <-chan struct{} {
	return l.drop
}

func (l *fakeLink) Close() error {
	l.once.Do(func() { close(l.drop) })
	return nil
}

// Drop simulates an unsolicited connection loss.
func (l *fakeLink) Drop() {
	l.once.Do(func() { close(l.drop) })
}

type fakeTransport struct {
	mu       sync.Mutex
	ready    error
	scanDev  session.Device
	scanErr  error
	dials    int
	failDial func(n int) bool // 1-based dial counter
	links    []*fakeLink
}

func (t *fakeTransport) Ready() error {
	return t.ready
}

func (t *fakeTransport) Scan(ctx context.Context) (session.Device, error) {
	if err := ctx.Err(); err != nil {
		return session.Device{}, err
	}

	return t.scanDev, t.scanErr
}

func (t *fakeTransport) Dial(
	ctx context.Context,
	dev session.Device,
	notify func([]byte),
) (session.Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dials++

	if t.failDial != nil && t.failDial(t.dials) {
		return nil, context.DeadlineExceeded
	}

	link := newFakeLink(notify)
	t.links = append(t.links, link)

	return link, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.dials
}

func (t *fakeTransport) lastLink() *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.links) == 0 {
		return nil
	}

	return t.links[len(t.links)-1]
}

func waitForState(t *testing.T, m *session.Manager, want session.State) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)

	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("state = %v, want %v", m.State(), want)
}

func fastPolicy(maxRetries int) session.Policy {
	return session.Policy{
		Enabled:    true,
		MaxRetries: maxRetries,
		BaseDelay:  10 * time.Millisecond,
		Multiplier: 2,
	}
}

func TestPolicy_DelaySequence(t *testing.T) {
	p := session.Policy{
		Enabled:    true,
		MaxRetries: 3,
		BaseDelay:  1000 * time.Millisecond,
		Multiplier: 2,
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestScan_UnsupportedTransport(t *testing.T) {
	tr := &fakeTransport{ready: session.ErrUnsupported}
	m := session.New(tr, session.DefaultPolicy())

	if _, err := m.Scan(context.Background()); err == nil {
		t.Fatal("Scan() on unsupported transport succeeded")
	}

	if got := m.State(); got != session.StateDisconnected {
		t.Fatalf("state after unsupported scan = %v, want Disconnected", got)
	}
}

func TestScan_UserCancelIsSilent(t *testing.T) {
	tr := &fakeTransport{}
	m := session.New(tr, session.DefaultPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dev, err := m.Scan(ctx)

	if dev != nil || err != nil {
		t.Fatalf("cancelled Scan() = %v, %v; want nil, nil", dev, err)
	}

	if got := m.State(); got != session.StateDisconnected {
		t.Fatalf("state after cancelled scan = %v, want Disconnected", got)
	}
}

func TestConnect_FailureRevertsToDisconnected(t *testing.T) {
	tr := &fakeTransport{failDial: func(int) bool { return true }}
	m := session.New(tr, session.DefaultPolicy())

	err := m.Connect(context.Background(), session.Device{ID: "11:22:33:44:55:66"})

	if err == nil {
		t.Fatal("Connect() against failing transport succeeded")
	}

	if got := m.State(); got != session.StateDisconnected {
		t.Fatalf("state after failed connect = %v, want Disconnected", got)
	}

	if m.LastError() == nil {
		t.Fatal("LastError() not recorded after failed connect")
	}
}

func TestConnect_ThenUnsolicitedDropReconnects(t *testing.T) {
	tr := &fakeTransport{}
	m := session.New(tr, fastPolicy(3))
	defer m.Close()

	if err := m.Connect(context.Background(), session.Device{ID: "11:22:33:44:55:66"}); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	waitForState(t, m, session.StateConnected)

	tr.lastLink().Drop()

	// the reconnect dial succeeds immediately, so we come back connected.
	waitForState(t, m, session.StateConnected)

	if got := tr.dialCount(); got != 2 {
		t.Fatalf("dial count after reconnect = %d, want 2", got)
	}
}

func TestReconnect_ExhaustsRetriesThenDisconnects(t *testing.T) {
	tr := &fakeTransport{}
	tr.failDial = func(n int) bool { return n > 1 } // only the first dial succeeds

	m := session.New(tr, fastPolicy(2))
	defer m.Close()

	if err := m.Connect(context.Background(), session.Device{ID: "11:22:33:44:55:66"}); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	tr.lastLink().Drop()

	waitForState(t, m, session.StateDisconnected)

	// initial dial + two failed reconnect attempts; the terminal step
	// must not dial again.
	if got := tr.dialCount(); got != 3 {
		t.Fatalf("dial count after exhaustion = %d, want 3", got)
	}

	err := m.LastError()

	if err == nil || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("LastError() = %v, want reconnection-exhausted error", err)
	}

	if m.LastDevice() != nil {
		t.Fatal("last-connected identity kept after reconnect exhaustion")
	}
}

func TestDisconnect_DuringReconnectCancelsTimer(t *testing.T) {
	tr := &fakeTransport{}
	tr.failDial = func(n int) bool { return n > 1 }

	policy := fastPolicy(5)
	policy.BaseDelay = 150 * time.Millisecond

	m := session.New(tr, policy)
	defer m.Close()

	if err := m.Connect(context.Background(), session.Device{ID: "11:22:33:44:55:66"}); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	tr.lastLink().Drop()

	waitForState(t, m, session.StateReconnecting)

	// wait for the first failed attempt so a retry timer is pending.
	deadline := time.Now().Add(2 * time.Second)
	for tr.dialCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	m.Disconnect()

	dials := tr.dialCount()
	time.Sleep(400 * time.Millisecond)

	if got := tr.dialCount(); got != dials {
		t.Fatalf("a reconnect attempt fired after Disconnect(): %d -> %d dials", dials, got)
	}

	if got := m.State(); got != session.StateDisconnected {
		t.Fatalf("state after Disconnect() = %v, want Disconnected", got)
	}
}

func TestDisconnect_IsIntentional(t *testing.T) {
	tr := &fakeTransport{}
	m := session.New(tr, fastPolicy(3))
	defer m.Close()

	if err := m.Connect(context.Background(), session.Device{ID: "11:22:33:44:55:66"}); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	m.Disconnect()

	if got := m.State(); got != session.StateDisconnected {
		t.Fatalf("state after Disconnect() = %v, want Disconnected", got)
	}

	// the close of our own link must not trigger a reconnect.
	time.Sleep(100 * time.Millisecond)

	if got := tr.dialCount(); got != 1 {
		t.Fatalf("dial count after manual disconnect = %d, want 1", got)
	}

	if m.LastDevice() != nil {
		t.Fatal("last-connected identity kept after manual disconnect")
	}
}

func TestSubscribe_SeesStateChanges(t *testing.T) {
	tr := &fakeTransport{}
	m := session.New(tr, fastPolicy(3))
	defer m.Close()

	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	if err := m.Connect(context.Background(), session.Device{ID: "11:22:33:44:55:66"}); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	var seen []session.State

	timeout := time.After(2 * time.Second)

	for len(seen) < 2 {
		select {
		case s := <-ch:
			seen = append(seen, s)
		case <-timeout:
			t.Fatalf("timed out waiting for state changes, saw %v", seen)
		}
	}

	if seen[0] != session.StateConnecting || seen[1] != session.StateConnected {
		t.Fatalf("state sequence = %v, want [Connecting Connected]", seen)
	}
}
