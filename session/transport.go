package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// ErrUnsupported means the platform has no usable transport; fatal for
// the session and never retried.
var ErrUnsupported = errors.New("session: transport not supported on this platform")

// Device identifies an adapter found by a scan. The identity is stable
// across reconnects of the same physical adapter.
type Device struct {
	ID   string
	Name string
}

func (d Device) String() string {
	return fmt.Sprintf("adapter[id=%s, name=%q]", d.ID, d.Name)
}

// Link is one established write/notify connection to an adapter.
type Link interface {
	Write(p []byte) error
	Disconnected() <-chan struct{}
	Close() error
}

// Transport abstracts scanning and dialing so the state machine can be
// exercised against fakes.
type Transport interface {
	// Ready reports whether the transport is usable at all.
	Ready() error

	// Scan discovers one adapter. Returns the context's error when
	// cancelled before anything matched.
	Scan(ctx context.Context) (Device, error)

	// Dial connects to a previously discovered adapter. Notification
	// fragments are delivered to notify from the transport's goroutine.
	Dial(ctx context.Context, dev Device, notify func([]byte)) (Link, error)
}

// Policy configures automatic reconnection. Immutable per session.
type Policy struct {
	Enabled    bool
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

func DefaultPolicy() Policy {
	return Policy{
		Enabled:    true,
		MaxRetries: 3,
		BaseDelay:  1000 * time.Millisecond,
		Multiplier: 2,
	}
}

// Delay returns the backoff before retrying after the given failed
// attempt (1-based): BaseDelay * Multiplier^(attempt-1).
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay

	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}

	return d
}
