package elm_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/FringeDweller/fleet2-sub005/elm"
	"github.com/FringeDweller/fleet2-sub005/obd"
)

// fakeWriter records writes and optionally replies with canned fragments.
type fakeWriter struct {
	mu       sync.Mutex
	written  []string
	reply    func(cmd string) []string // fragments delivered per write
	channel  *elm.Channel
}

func (w *fakeWriter) Write(p []byte) error {
	w.mu.Lock()
	cmd := string(p)
	w.written = append(w.written, cmd)
	reply := w.reply
	w.mu.Unlock()

	if reply != nil {
		go func() {
			for _, fragment := range reply(cmd) {
				w.channel.HandleNotification([]byte(fragment))
			}
		}()
	}

	return nil
}

func (w *fakeWriter) writes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]string, len(w.written))
	copy(out, w.written)
	return out
}

func newAttachedChannel(reply func(string) []string) (*elm.Channel, *fakeWriter) {
	c := elm.NewChannel()
	w := &fakeWriter{reply: reply, channel: c}
	c.Attach(w)
	return c, w
}

func TestSend_ReassemblesFragments(t *testing.T) {
	c, w := newAttachedChannel(func(cmd string) []string {
		return []string{"41 0C ", "1A F8", "\r\r>"}
	})

	got, err := c.Send(context.Background(), "010C")

	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if got != "41 0C 1A F8" {
		t.Fatalf("Send() = %q, want %q", got, "41 0C 1A F8")
	}

	if writes := w.writes(); len(writes) != 1 || writes[0] != "010C\r" {
		t.Fatalf("unexpected writes: %q", writes)
	}
}

func TestSend_Timeout(t *testing.T) {
	c, _ := newAttachedChannel(nil) // never replies
	c.SetTimeout(30 * time.Millisecond)

	_, err := c.Send(context.Background(), "010D")

	if !errors.Is(err, elm.ErrTimeout) {
		t.Fatalf("Send() error = %v, want ErrTimeout", err)
	}

	// the slot must be clean again: a subsequent command succeeds.
	cOK, _ := newAttachedChannel(func(string) []string { return []string{"OK\r>"} })
	cOK.SetTimeout(time.Second)

	if got, err := cOK.Send(context.Background(), "ATE0"); err != nil || got != "OK" {
		t.Fatalf("Send() after timeout = %q, %v; want OK", got, err)
	}
}

func TestSend_TimeoutThenCleanRetry(t *testing.T) {
	c := elm.NewChannel()
	w := &fakeWriter{channel: c}
	c.Attach(w)
	c.SetTimeout(20 * time.Millisecond)

	if _, err := c.Send(context.Background(), "010C"); !errors.Is(err, elm.ErrTimeout) {
		t.Fatalf("first Send() error = %v, want ErrTimeout", err)
	}

	// a late fragment from the timed-out command must not satisfy or
	// pollute the next one.
	c.HandleNotification([]byte("41 0C 00 00\r>"))

	c.SetTimeout(time.Second)
	w.mu.Lock()
	w.reply = func(string) []string { return []string{"41 0D 50\r>"} }
	w.mu.Unlock()

	got, err := c.Send(context.Background(), "010D")

	if err != nil || got != "41 0D 50" {
		t.Fatalf("second Send() = %q, %v; want %q", got, err, "41 0D 50")
	}
}

func TestSend_BusyIsRejected(t *testing.T) {
	c, _ := newAttachedChannel(nil)
	c.SetTimeout(200 * time.Millisecond)

	started := make(chan struct{})

	go func() {
		close(started)
		_, _ = c.Send(context.Background(), "010C")
	}()

	<-started
	time.Sleep(20 * time.Millisecond) // let the first Send occupy the slot

	_, err := c.Send(context.Background(), "010D")

	if !errors.Is(err, elm.ErrBusy) {
		t.Fatalf("concurrent Send() error = %v, want ErrBusy", err)
	}
}

func TestSend_Detached(t *testing.T) {
	c := elm.NewChannel()

	if _, err := c.Send(context.Background(), "010C"); !errors.Is(err, elm.ErrDetached) {
		t.Fatalf("Send() on detached channel = %v, want ErrDetached", err)
	}
}

func TestQuery_DecodesSample(t *testing.T) {
	c, _ := newAttachedChannel(func(cmd string) []string {
		switch cmd {
		case "010C\r":
			return []string{"41 0C 1A F8\r>"}
		default:
			return []string{"NO DATA\r>"}
		}
	})

	sample, err := c.Query(context.Background(), obd.EngineRPM)

	if err != nil {
		t.Fatalf("Query(rpm) error: %v", err)
	}

	if !sample.Valid || sample.Value != 1726 {
		t.Fatalf("Query(rpm) = %+v, want valid 1726", sample)
	}

	sample, err = c.Query(context.Background(), obd.VehicleSpeed)

	if err != nil {
		t.Fatalf("Query(speed) error: %v", err)
	}

	if sample.Valid {
		t.Fatalf("Query(speed) on NO DATA = %+v, want invalid sample", sample)
	}
}

func TestHandleNotification_DropsUnsolicited(t *testing.T) {
	c, _ := newAttachedChannel(func(string) []string { return []string{"41 0D 50\r>"} })

	// boot banner with no command in flight.
	c.HandleNotification([]byte("ELM327 v1.5\r>"))

	got, err := c.Send(context.Background(), "010D")

	if err != nil || got != "41 0D 50" {
		t.Fatalf("Send() after unsolicited chatter = %q, %v", got, err)
	}
}
