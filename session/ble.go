package session

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/FringeDweller/fleet2-sub005/ble"
	"github.com/FringeDweller/fleet2-sub005/elm"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultScanTimeout = 10 * time.Second

// adapterNameHints match the local names used by the common adapter
// clones when the FFF0 service is absent from the advertisement.
var adapterNameHints = []string{"OBD", "ELM", "V-LINK", "VLINK", "IOS-VLINK"}

// BLETransport implements Transport over a GATT write/notify pair.
type BLETransport struct {
	handle      *ble.Handle
	ScanTimeout time.Duration
}

func NewBLETransport(h *ble.Handle) *BLETransport {
	return &BLETransport{
		handle:      h,
		ScanTimeout: DefaultScanTimeout,
	}
}

func (t *BLETransport) Ready() error {
	if t.handle == nil {
		return ErrUnsupported
	}

	return nil
}

// matchAdapter accepts advertisements that either list the adapter
// service or carry a known adapter name.
func matchAdapter(a ble.Advertisement) bool {
	for _, uuid := range a.Services() {
		if uuid.Equal(ble.UUID16(elm.ServiceUUID)) {
			return true
		}
	}

	name := strings.ToUpper(a.LocalName())

	if name == "" {
		return false
	}

	for _, hint := range adapterNameHints {
		if strings.Contains(name, hint) {
			return true
		}
	}

	return false
}

func (t *BLETransport) Scan(ctx context.Context) (Device, error) {
	if err := t.Ready(); err != nil {
		return Device{}, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, t.ScanTimeout)
	defer cancel()

	adv, err := t.handle.ScanFirst(scanCtx, matchAdapter)

	if err != nil {
		// the parent context ending is a caller cancellation; our own
		// deadline means nothing was found.
		if ctx.Err() != nil {
			return Device{}, ctx.Err()
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return Device{}, errors.New("no adapter found")
		}

		return Device{}, err
	}

	return Device{
		ID:   adv.Addr().String(),
		Name: adv.LocalName(),
	}, nil
}

func (t *BLETransport) Dial(
	ctx context.Context,
	dev Device,
	notify func([]byte),
) (Link, error) {
	if err := t.Ready(); err != nil {
		return nil, err
	}

	addr, err := net.ParseMAC(dev.ID)

	if err != nil {
		return nil, errors.Wrapf(err, "invalid adapter address %q", dev.ID)
	}

	client, err := t.handle.Dial(ctx, addr)

	if err != nil {
		return nil, err
	}

	link, err := newBLELink(client, notify)

	if err != nil {
		_ = client.CancelConnection()
		return nil, err
	}

	return link, nil
}

type bleLink struct {
	client ble.Client
	write  *ble.Characteristic
	notify *ble.Characteristic
}

// newBLELink discovers the write/notify pair and subscribes the
// notification handler. The profile walk mirrors what the adapter family
// actually exposes: one service, two characteristics.
func newBLELink(client ble.Client, notify func([]byte)) (*bleLink, error) {
	profile, err := client.DiscoverProfile(true)

	if err != nil {
		return nil, errors.Wrap(err, "cannot discover adapter profile")
	}

	link := &bleLink{client: client}

	for _, svc := range profile.Services {
		for _, char := range svc.Characteristics {
			switch {
			case char.UUID.Equal(ble.UUID16(elm.WriteCharUUID)):
				link.write = char
			case char.UUID.Equal(ble.UUID16(elm.NotifyCharUUID)):
				link.notify = char
			}
		}
	}

	if link.write == nil || link.notify == nil {
		return nil, errors.Errorf(
			"adapter does not expose the %04x/%04x characteristic pair",
			elm.WriteCharUUID, elm.NotifyCharUUID,
		)
	}

	err = client.Subscribe(link.notify, false, func(data []byte) {
		log.Trace().Bytes("Fragment", data).Msg("ble: notification fragment")
		notify(data)
	})

	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to notifications")
	}

	return link, nil
}

func (l *bleLink) Write(p []byte) error {
	return l.client.WriteCharacteristic(l.write, p, false)
}

func (l *bleLink) Disconnected() <-chan struct{} {
	return l.client.Disconnected()
}

func (l *bleLink) Close() error {
	if err := l.client.Unsubscribe(l.notify, false); err != nil {
		log.Debug().Err(err).Msg("ble: unsubscribe on close failed")
	}

	return l.client.CancelConnection()
}
