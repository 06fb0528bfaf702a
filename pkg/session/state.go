package session

import "fmt"

// State is the connection state of a session.
type State int

const (
	Disconnected State = iota
	AcquiringToken
	StartingChannel
	Connected
	Disconnecting
	ChannelDisconnected
	NetworkUnavailable
)

var stateNames = [...]string{
	Disconnected:        "disconnected",
	AcquiringToken:      "acquiring_token",
	StartingChannel:     "starting_channel",
	Connected:           "connected",
	Disconnecting:       "disconnecting",
	ChannelDisconnected: "channel_disconnected",
	NetworkUnavailable:  "network_unavailable",
}

var stateDescriptions = [...]string{
	Disconnected:        "Disconnected",
	AcquiringToken:      "Acquiring access token",
	StartingChannel:     "Connecting to server",
	Connected:           "Connected",
	Disconnecting:       "Disconnecting",
	ChannelDisconnected: "Connection paused",
	NetworkUnavailable:  "Network not available",
}

func (s State) valid() bool {
	return s >= Disconnected && s <= NetworkUnavailable
}

func (s State) String() string {
	if !s.valid() {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Description is a human readable label for status displays.
func (s State) Description() string {
	if !s.valid() {
		return stateDescriptions[Disconnected]
	}
	return stateDescriptions[s]
}

// Active reports whether a token request or a live channel belongs to the
// current attempt.
func (s State) Active() bool {
	return s == AcquiringToken || s == StartingChannel || s == Connected
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if !s.valid() {
		return nil, fmt.Errorf("unknown session state %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}
