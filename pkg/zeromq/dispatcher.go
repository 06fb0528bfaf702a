package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/open-teleop/presence/pkg/flatbuffers/open_teleop/message"
	customlog "github.com/open-teleop/presence/pkg/log"
)

// Common errors
var (
	ErrServiceClosed      = errors.New("zeromq service is closed")
	ErrInvalidMessage     = errors.New("invalid message format")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrUnknownTopic       = errors.New("unknown ott topic")
)

// Reply message types.
const (
	MsgTypeAck   = "ACK"
	MsgTypeError = "ERROR"
)

// ZeroMQMessage is the JSON envelope used on both bridge sockets.
type ZeroMQMessage struct {
	Type      string          `json:"type"`
	Timestamp float64         `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ErrorResponse is the data of an ERROR reply.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// MessageHandler handles one JSON message type and returns the reply data.
type MessageHandler interface {
	HandleMessage(msg ZeroMQMessage) (interface{}, error)
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(msg ZeroMQMessage) (interface{}, error)

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(msg ZeroMQMessage) (interface{}, error) {
	return f(msg)
}

// OTTHandler handles the payload of an OttMessage for one topic.
type OTTHandler func(contentType message.ContentType, payload []byte) (interface{}, error)

// Dispatcher routes request frames. JSON frames go to the handler for their
// type; anything else is read as an OttMessage and routed by its topic.
type Dispatcher struct {
	logger      customlog.Logger
	handlers    map[string]MessageHandler
	ottHandlers map[string]OTTHandler
	now         func() time.Time
	mu          sync.RWMutex
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger customlog.Logger) *Dispatcher {
	if logger == nil {
		logger = customlog.Discard()
	}
	return &Dispatcher{
		logger:      logger,
		handlers:    make(map[string]MessageHandler),
		ottHandlers: make(map[string]OTTHandler),
		now:         time.Now,
	}
}

// RegisterHandler adds a handler for a JSON message type.
func (d *Dispatcher) RegisterHandler(messageType string, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[messageType] = handler
	d.logger.Debugf("Registered handler for message type: %s", messageType)
}

// RegisterOTTHandler adds a handler for an OttMessage topic.
func (d *Dispatcher) RegisterOTTHandler(topic string, handler OTTHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ottHandlers[topic] = handler
	d.logger.Debugf("Registered handler for ott topic: %s", topic)
}

// Dispatch handles one request and always returns a reply frame.
func (d *Dispatcher) Dispatch(data []byte) []byte {
	replyType, replyData, err := d.route(data)
	if err != nil {
		d.logger.Warnf("Bridge request failed: %v", err)
		return d.encode(MsgTypeError, ErrorResponse{Message: err.Error(), Code: errorCode(err)})
	}
	return d.encode(replyType, replyData)
}

func (d *Dispatcher) route(data []byte) (string, interface{}, error) {
	var msg ZeroMQMessage
	if err := json.Unmarshal(data, &msg); err == nil {
		d.mu.RLock()
		handler, exists := d.handlers[msg.Type]
		d.mu.RUnlock()
		if !exists {
			return "", nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, msg.Type)
		}
		reply, err := handler.HandleMessage(msg)
		return responseType(msg.Type), reply, err
	}

	topic, contentType, payload, err := parseOttMessage(data)
	if err != nil {
		return "", nil, err
	}
	d.mu.RLock()
	handler, exists := d.ottHandlers[topic]
	d.mu.RUnlock()
	if !exists {
		return "", nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	d.logger.Debugf("Routing %s message for topic %s (%d bytes)", contentType, topic, len(payload))
	reply, err := handler(contentType, payload)
	return MsgTypeAck, reply, err
}

// parseOttMessage reads an OttMessage, rejecting buffers too short or
// malformed to hold one.
func parseOttMessage(data []byte) (topic string, contentType message.ContentType, payload []byte, err error) {
	if len(data) < 8 {
		return "", 0, nil, fmt.Errorf("%w: %d bytes", ErrInvalidMessage, len(data))
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: corrupt flatbuffer", ErrInvalidMessage)
		}
	}()
	msg := message.GetRootAsOttMessage(data, 0)
	topic = string(msg.Ott())
	if topic == "" {
		return "", 0, nil, fmt.Errorf("%w: missing ott topic", ErrInvalidMessage)
	}
	return topic, msg.ContentType(), msg.PayloadBytes(), nil
}

// responseType maps FOO_REQUEST to FOO_RESPONSE. Other types are acknowledged.
func responseType(requestType string) string {
	const suffix = "_REQUEST"
	if n := len(requestType) - len(suffix); n > 0 && requestType[n:] == suffix {
		return requestType[:n] + "_RESPONSE"
	}
	return MsgTypeAck
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrInvalidMessage), errors.Is(err, ErrUnknownMessageType), errors.Is(err, ErrUnknownTopic), errors.Is(err, ErrBadRequest):
		return 400
	default:
		return 500
	}
}

func (d *Dispatcher) encode(messageType string, data interface{}) []byte {
	msg := ZeroMQMessage{Type: messageType, Timestamp: float64(d.now().UnixNano()) / 1e9}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			d.logger.Errorf("Error serializing %s reply: %v", messageType, err)
			msg.Type = MsgTypeError
			raw, _ = json.Marshal(ErrorResponse{Message: "failed to serialize reply", Code: 500})
		}
		msg.Data = raw
	}
	out, _ := json.Marshal(msg)
	return out
}
