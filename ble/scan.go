package ble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/rs/zerolog/log"
)

func WrapContextWithSigHandler(ctx context.Context, cancel func()) context.Context {
	return ble.WithSigHandler(ctx, cancel)
}

// ScanAll performs an active scan and reports every advertisement found
// until the context ends.
func (h *Handle) ScanAll(ctx context.Context, onDevice func(Advertisement)) error {
	err := h.dev.Scan(ctx, true, onDevice)

	if err != nil {
		return fmt.Errorf("failed to initiate scan: %w", err)
	}

	return nil
}

// ScanFirst scans until `match` accepts an advertisement and returns it.
// A nil advertisement with a nil error means the parent context was
// cancelled before anything matched.
func (h *Handle) ScanFirst(
	parentCtx context.Context,
	match func(Advertisement) bool,
) (Advertisement, error) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	var mu sync.Mutex
	var found Advertisement

	err := h.dev.Scan(ctx, false, func(a Advertisement) {
		mu.Lock()
		defer mu.Unlock()

		// the BLE lib can keep delivering advertisements briefly after we
		// cancel; keep only the first match.
		if found != nil {
			return
		}

		if match(a) {
			log.Trace().
				Str("Addr", a.Addr().String()).
				Str("LocalName", a.LocalName()).
				Msg("ble: advertisement accepted, ending scan")

			found = a
			cancel()
		}
	})

	mu.Lock()
	defer mu.Unlock()

	if found != nil {
		return found, nil
	}

	// our own cancel() never fires without a match, so any Canceled error
	// here comes from the parent context.
	return nil, err
}
