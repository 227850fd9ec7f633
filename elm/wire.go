package elm

import "time"

// Wire-level constants for the FFF0 adapter family. These must match the
// physical adapter exactly; they are shared by every common ELM327 BLE
// clone (Vgate iCar, Viecar, Kiwi...).
const (
	ServiceUUID    = uint16(0xfff0)
	NotifyCharUUID = uint16(0xfff1) // adapter -> host fragments
	WriteCharUUID  = uint16(0xfff2) // host -> adapter commands

	// Prompt terminates every adapter response, possibly split across
	// several notifications.
	Prompt = '>'

	// CommandTerminator ends every command written to the adapter.
	CommandTerminator = '\r'

	DefaultTimeout = 3000 * time.Millisecond
)

// InitCommands puts the adapter into the framing the codec assumes: no
// echo, no linefeeds, no spaces, automatic protocol selection.
var InitCommands = []string{
	"ATZ",  // reset
	"ATE0", // echo off
	"ATL0", // linefeeds off
	"ATS0", // spaces off
	"ATSP0", // protocol auto
}
