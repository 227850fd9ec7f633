package session

import "strconv"

// State is the connection lifecycle state. Exactly one transport link is
// current while the state is not StateDisconnected.
type State uint8

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateScanning:
		return "Scanning"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		panic("unknown connection state: " + strconv.Itoa(int(s)))
	}
}
