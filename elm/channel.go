package elm

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/FringeDweller/fleet2-sub005/obd"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	// ErrBusy means a command is already in flight. The channel never
	// queues: callers are expected to serialize their own sends.
	ErrBusy = errors.New("elm: command already in flight")

	ErrTimeout = errors.New("elm: command timed out")

	// ErrDetached means no transport is attached (not connected).
	ErrDetached = errors.New("elm: channel is not attached to a transport")
)

// Writer is the transport's write characteristic.
type Writer interface {
	Write(p []byte) error
}

// pendingRequest occupies the channel's single in-flight slot between
// send and resolve/timeout.
type pendingRequest struct {
	issuedAt time.Time
	done     chan string // buffered, capacity 1
}

// Channel serializes one command at a time over a write/notify pair and
// reassembles fragmented notifications into complete responses.
//
// The response buffer and the pending slot are owned by the channel's
// mutex; HandleNotification may be called from the transport's goroutine
// at any time.
type Channel struct {
	timeout time.Duration

	mu      sync.Mutex
	w       Writer
	pending *pendingRequest
	buf     strings.Builder
}

func NewChannel() *Channel {
	return &Channel{timeout: DefaultTimeout}
}

// SetTimeout overrides the per-command timeout. Intended for tests and
// slow adapters.
func (c *Channel) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timeout = d
}

// Attach binds the channel to a freshly connected transport, starting
// from a clean buffer.
func (c *Channel) Attach(w Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.w = w
	c.buf.Reset()
}

// Detach drops the transport and fails any in-flight command. Called on
// disconnect so a future Attach starts clean.
func (c *Channel) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.w = nil
	c.pending = nil
	c.buf.Reset()
}

// HandleNotification ingests one notification fragment. Fragments are
// appended to the buffer until the prompt marker arrives, at which point
// the assembled response resolves the pending command.
func (c *Channel) HandleNotification(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		// unsolicited chatter (boot banner, late fragments of a timed-out
		// command): drop it so it can't leak into the next response.
		log.Trace().
			Bytes("Fragment", data).
			Msg("elm: dropping fragment with no command in flight")
		c.buf.Reset()
		return
	}

	c.buf.Write(data)

	assembled := c.buf.String()
	i := strings.IndexByte(assembled, Prompt)

	if i < 0 {
		return
	}

	response := strings.TrimSpace(assembled[:i])
	c.buf.Reset()

	c.pending.done <- response
	c.pending = nil
}

// Send writes one command and waits for its assembled response. Only one
// Send may be outstanding per channel; a concurrent Send fails with
// ErrBusy rather than queueing.
func (c *Channel) Send(ctx context.Context, command string) (string, error) {
	c.mu.Lock()

	if c.w == nil {
		c.mu.Unlock()
		return "", ErrDetached
	}

	if c.pending != nil {
		c.mu.Unlock()
		return "", errors.Wrapf(ErrBusy, "while sending %q", command)
	}

	req := &pendingRequest{
		issuedAt: time.Now(),
		done:     make(chan string, 1),
	}

	c.pending = req
	c.buf.Reset()
	w, timeout := c.w, c.timeout
	c.mu.Unlock()

	log.Trace().Str("Command", command).Msg("elm: sending command")

	if err := w.Write([]byte(command + string(CommandTerminator))); err != nil {
		c.abort(req)
		return "", errors.Wrapf(err, "failed to write command %q", command)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case response := <-req.done:
		log.Trace().
			Str("Command", command).
			Str("Response", response).
			Dur("Elapsed", time.Since(req.issuedAt)).
			Msg("elm: received response")
		return response, nil
	case <-timer.C:
		c.abort(req)
		return "", errors.Wrapf(ErrTimeout, "command %q after %v", command, timeout)
	case <-ctx.Done():
		c.abort(req)
		return "", ctx.Err()
	}
}

// abort clears the pending slot and buffer if req still occupies it, so
// the next Send starts clean. A response racing in just before the abort
// is discarded.
func (c *Channel) abort(req *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == req {
		c.pending = nil
		c.buf.Reset()
	}
}

// Query reads one parameter: issues its read command and decodes the
// reply. Transport-level failures surface as errors; no-data and
// malformed replies surface as an invalid Sample.
func (c *Channel) Query(ctx context.Context, p obd.PID) (obd.Sample, error) {
	response, err := c.Send(ctx, p.Command())

	if err != nil {
		return obd.Sample{}, err
	}

	return obd.DecodeSample(response, p), nil
}

// Initialize runs the adapter setup sequence. Only a failing reset is
// fatal; the remaining commands are tolerated to fail since some clones
// answer them with noise.
func (c *Channel) Initialize(ctx context.Context) error {
	for i, command := range InitCommands {
		response, err := c.Send(ctx, command)

		if err != nil {
			if i == 0 {
				return errors.Wrap(err, "adapter reset failed")
			}

			log.Warn().
				Err(err).
				Str("Command", command).
				Msg("elm: init command failed, continuing")
			continue
		}

		// the prompt only arrives once the reset has completed, so no
		// settle delay is needed between commands.
		log.Debug().
			Str("Command", command).
			Str("Response", response).
			Msg("elm: init command acknowledged")
	}

	return nil
}
