package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Events raised locally by the socket itself.
const (
	EventConnect      = "connect"
	EventConnectError = "connect_error"
	EventDisconnect   = "disconnect"
)

// Client to server events.
const (
	EventAuthentication       = "authentication"
	EventClientRequestData    = "clientRequestData"
	EventOperatorChangeSpeed  = "operatorChangeSpeed"
	EventOperatorStartMoving  = "operatorStartMoving"
	EventOperatorStopMoving   = "operatorStopMoving"
	EventOperatorRotateCamera = "operatorRotateCamera"
	EventOperatorRotate       = "operatorRotate"
)

// Server to client events.
const (
	EventAuthorized           = "authorized"
	EventUnauthorized         = "unauthorized"
	EventTestClient           = "testClient"
	EventTestOperator         = "testOperator"
	EventTestRobot            = "testRobot"
	EventClientDataReceived   = "clientDataReceived"
	EventRobotSendSessionInfo = "robotSendSessionInfo"
	EventClientUpdateData     = "clientUpdateData"
	EventClientSendVideo      = "clientSendVideo"
)

// MaxBinaryNameLength is the longest event name a binary frame can carry.
const MaxBinaryNameLength = 255

var (
	ErrEmptyEventName  = errors.New("event name is empty")
	ErrEventNameLength = fmt.Errorf("event name longer than %d bytes", MaxBinaryNameLength)
	ErrShortFrame      = errors.New("binary frame shorter than its name header")
)

// Envelope is the text frame layout.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EncodeEvent builds a text frame. A nil payload is sent without data.
func EncodeEvent(name string, payload interface{}) ([]byte, error) {
	if name == "" {
		return nil, ErrEmptyEventName
	}
	env := Envelope{Event: name}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", name, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeEvent parses a text frame.
func DecodeEvent(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode event frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, ErrEmptyEventName
	}
	return env, nil
}

// EncodeBinary builds a binary frame: one length byte, the name, then the
// opaque payload.
func EncodeBinary(name string, payload []byte) ([]byte, error) {
	if name == "" {
		return nil, ErrEmptyEventName
	}
	if len(name) > MaxBinaryNameLength {
		return nil, ErrEventNameLength
	}
	frame := make([]byte, 0, 1+len(name)+len(payload))
	frame = append(frame, byte(len(name)))
	frame = append(frame, name...)
	return append(frame, payload...), nil
}

// DecodeBinary splits a binary frame into its name and payload. The payload
// aliases frame.
func DecodeBinary(frame []byte) (string, []byte, error) {
	if len(frame) < 1 {
		return "", nil, ErrShortFrame
	}
	n := int(frame[0])
	if n == 0 {
		return "", nil, ErrEmptyEventName
	}
	if len(frame) < 1+n {
		return "", nil, ErrShortFrame
	}
	return string(frame[1 : 1+n]), frame[1+n:], nil
}
