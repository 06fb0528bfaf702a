package api

import (
	"encoding/json"
	"errors"
	"sync"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/motion"
	"github.com/open-teleop/presence/pkg/session"
)

// DefaultClientBuffer is the number of frames queued per /ws/events client
// before frames are dropped for it.
const DefaultClientBuffer = 64

type outFrame struct {
	messageType int
	data        []byte
}

type hubClient struct {
	send chan outFrame
}

// EventHub pushes session updates as JSON text frames and wrapped video as
// binary frames to every /ws/events client. It implements session.Observer
// and never blocks the caller: a client whose queue is full misses frames.
type EventHub struct {
	logger     customlog.Logger
	bufferSize int
	now        func() time.Time

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	latest  map[string][]byte
}

// NewEventHub creates an empty hub.
func NewEventHub(logger customlog.Logger) *EventHub {
	if logger == nil {
		logger = customlog.Discard()
	}
	return &EventHub{
		logger:     logger,
		bufferSize: DefaultClientBuffer,
		now:        time.Now,
		clients:    make(map[*hubClient]struct{}),
		latest:     make(map[string][]byte),
	}
}

// ClientCount returns the number of connected clients.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *EventHub) OnStateChanged(state session.State) {
	h.publish(EventTypeState, StatePayload{State: state.String(), Description: state.Description()}, true)
}

func (h *EventHub) OnTelemetryUpdated(telemetry session.Telemetry) {
	h.publish(EventTypeTelemetry, telemetry, true)
}

func (h *EventHub) OnRoleChanged(isOperator bool) {
	h.publish(EventTypeRole, RolePayload{Operator: isOperator}, true)
}

func (h *EventHub) OnNotice(notice session.Notice) {
	h.publish(EventTypeNotice, notice, false)
}

// BroadcastVideo sends a finished OttMessage buffer to every client.
func (h *EventHub) BroadcastVideo(buf []byte) {
	h.broadcast(outFrame{messageType: websocket.BinaryMessage, data: buf})
}

// publish encodes an event and broadcasts it. Retained events are replayed
// to clients that connect later.
func (h *EventHub) publish(eventType string, data interface{}, retain bool) {
	encoded, err := json.Marshal(EventMessage{Type: eventType, Data: data, TimestampNs: h.now().UnixNano()})
	if err != nil {
		h.logger.Errorf("Failed to encode %s event: %v", eventType, err)
		return
	}
	if retain {
		h.mu.Lock()
		h.latest[eventType] = encoded
		h.mu.Unlock()
	}
	h.broadcast(outFrame{messageType: websocket.TextMessage, data: encoded})
}

func (h *EventHub) broadcast(frame outFrame) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- frame:
		default:
			h.logger.Debugf("Event client queue full, dropping frame")
		}
	}
}

func (h *EventHub) register() *hubClient {
	client := &hubClient{send: make(chan outFrame, h.bufferSize)}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, eventType := range []string{EventTypeState, EventTypeRole, EventTypeTelemetry} {
		if encoded, ok := h.latest[eventType]; ok {
			client.send <- outFrame{messageType: websocket.TextMessage, data: encoded}
		}
	}
	h.clients[client] = struct{}{}
	return client
}

func (h *EventHub) unregister(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
}

// Serve runs one /ws/events connection until the client goes away. Inbound
// frames are read and discarded.
func (h *EventHub) Serve(conn *websocket.Conn) {
	h.logger.Infof("Events WebSocket connected: %s", conn.RemoteAddr())
	client := h.register()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for frame := range client.send {
			if err := conn.WriteMessage(frame.messageType, frame.data); err != nil {
				h.logger.Debugf("Events WS write failed: %v", err)
				_ = conn.Close()
				for range client.send {
				}
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			logClose(h.logger, "Events", err)
			break
		}
	}
	h.unregister(client)
	<-done
	h.logger.Infof("Events WebSocket disconnected: %s", conn.RemoteAddr())
}

// ControlSink consumes control input. input.Pipeline implements it.
type ControlSink interface {
	HandleGyro(sample motion.GyroSample)
	HandleAxes(frame motion.AxisFrame)
	SetMode(mode string) error
}

// ControlWebSocketHandler handles incoming WebSocket messages for rover control.
func ControlWebSocketHandler(conn *websocket.Conn, logger customlog.Logger, controls ControlSink) {
	logger.Infof("Control WebSocket connected: %s", conn.RemoteAddr())
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			logClose(logger, "Control", err)
			break
		}
		if mt != websocket.TextMessage {
			logger.Infof("Ignoring non-text Control WS message type: %d", mt)
			continue
		}

		if err := dispatchControl(msg, controls); err != nil {
			logger.Warnf("Rejected control message: %v. Message: %s", err, string(msg))
			reply, _ := json.Marshal(EventMessage{Type: EventTypeError, Data: err.Error(), TimestampNs: time.Now().UnixNano()})
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				break
			}
		}
	}
	logger.Infof("Control WebSocket disconnected: %s", conn.RemoteAddr())
}

var errMissingField = errors.New("control message is missing its data field")

func dispatchControl(msg []byte, controls ControlSink) error {
	var cm ControlMessage
	if err := json.Unmarshal(msg, &cm); err != nil {
		return err
	}
	switch cm.Type {
	case ControlTypeGyro:
		if cm.Gyro == nil {
			return errMissingField
		}
		controls.HandleGyro(*cm.Gyro)
	case ControlTypeAxes:
		if cm.Axes == nil {
			return errMissingField
		}
		controls.HandleAxes(cm.Axes)
	case ControlTypeMode:
		return controls.SetMode(cm.Mode)
	default:
		return errors.New("unknown control message type " + cm.Type)
	}
	return nil
}

func logClose(logger customlog.Logger, name string, err error) {
	switch {
	case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
		logger.Errorf("%s WS read error: %v", name, err)
	case errors.Is(err, syscall.EPIPE), errors.Is(err, syscall.ECONNRESET):
		logger.Infof("%s WS connection reset", name)
	default:
		logger.Infof("%s WS connection closed: %v", name, err)
	}
}

// RegisterWebSocketRoutes mounts /ws/events and /ws/control.
func RegisterWebSocketRoutes(app *fiber.App, hub *EventHub, controls ControlSink, logger customlog.Logger) {
	if logger == nil {
		logger = customlog.Discard()
	}
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(hub.Serve))
	app.Get("/ws/control", websocket.New(func(conn *websocket.Conn) {
		ControlWebSocketHandler(conn, logger, controls)
	}))
	logger.Infof("Registered WebSocket endpoints /ws/events and /ws/control")
}
