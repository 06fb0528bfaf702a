// Package channel is a named-event wrapper over one websocket connection.
package channel

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/processing"
)

// Dial header names.
const (
	HeaderGUID         = "guid"
	HeaderToken        = "token"
	HeaderConnectionID = "X-Connection-ID"
)

const (
	defaultPingInterval     = 15 * time.Second
	defaultPongWait         = 45 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
	writeWait               = 5 * time.Second
	maxMessageSize          = 4 << 20
)

// ErrNotConnected is returned by Emit without an open connection.
var ErrNotConnected = errors.New("channel is not connected")

// Options configures a Socket.
type Options struct {
	URL              string
	Header           http.Header
	PingInterval     time.Duration
	PongWait         time.Duration
	HandshakeTimeout time.Duration
	Logger           customlog.Logger
	Registry         *processing.EventRegistry
}

// Socket implements connect, disconnect, on, off and emit over gorilla/websocket.
// Connect is asynchronous and reports through the connect and connect_error
// events. disconnect fires only when the remote side drops the connection.
type Socket struct {
	opts   Options
	dialer websocket.Dialer
	logger customlog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	connecting bool
	generation uint64
	done       chan struct{}

	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   listenerSet
}

// NewSocket creates a disconnected socket.
func NewSocket(opts Options) *Socket {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = customlog.Discard()
	}
	return &Socket{
		opts: opts,
		dialer: websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
			NetDialContext: (&net.Dialer{
				Timeout:   opts.HandshakeTimeout,
				KeepAlive: 15 * time.Second,
			}).DialContext,
		},
		logger:    opts.Logger,
		listeners: make(listenerSet),
	}
}

// Connect starts dialing in the background. It is a no-op while connected or
// already dialing.
func (s *Socket) Connect() {
	s.mu.Lock()
	if s.conn != nil || s.connecting {
		s.mu.Unlock()
		return
	}
	s.generation++
	gen := s.generation
	s.connecting = true
	s.mu.Unlock()

	go s.dial(gen)
}

func (s *Socket) dial(gen uint64) {
	s.logger.Debugf("Dialing %s", s.opts.URL)
	conn, resp, err := s.dialer.Dial(s.opts.URL, s.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		s.logger.Debugf("Dial to %s finished after disconnect, discarding", s.opts.URL)
		return
	}
	s.connecting = false
	if err != nil {
		s.mu.Unlock()
		s.logger.Warnf("Failed to connect to %s: %v", s.opts.URL, err)
		s.dispatch(EventConnectError, errorPayload(err))
		return
	}
	done := make(chan struct{})
	s.conn = conn
	s.done = done
	s.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	})

	s.logger.Infof("Connected to %s", s.opts.URL)
	s.dispatch(EventConnect, nil)

	go s.readLoop(conn, gen)
	go s.pingLoop(conn, done)
}

// Disconnect closes the connection or abandons a dial in progress. It does not
// fire the disconnect event.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	s.generation++
	s.connecting = false
	conn := s.conn
	s.conn = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	if conn == nil {
		return
	}
	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	s.writeMu.Unlock()
	_ = conn.Close()
	s.logger.Infof("Disconnected from %s", s.opts.URL)
}

// IsConnected reports whether the connection is open.
func (s *Socket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// On registers l for name. Registering the same listener twice has no effect.
func (s *Socket) On(name string, l *Listener) {
	if l == nil {
		return
	}
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners.add(name, l)
}

// Off removes l from name.
func (s *Socket) Off(name string, l *Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners.remove(name, l)
}

// ListenerCount returns the number of listeners bound to name.
func (s *Socket) ListenerCount(name string) int {
	s.listenersMu.RLock()
	defer s.listenersMu.RUnlock()
	return len(s.listeners[name])
}

// Emit sends a named event. payload is JSON encoded; nil sends no data.
func (s *Socket) Emit(name string, payload interface{}) error {
	frame, err := EncodeEvent(name, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, frame)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Warnf("Failed to emit %s: %v", name, err)
		return err
	}

	s.record(processing.DirectionOutbound, name, len(frame))
	return nil
}

func (s *Socket) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			s.closed(conn, gen, err)
			return
		}

		switch messageType {
		case websocket.TextMessage:
			env, err := DecodeEvent(data)
			if err != nil {
				s.logger.Warnf("Dropping malformed text frame: %v", err)
				continue
			}
			s.record(processing.DirectionInbound, env.Event, len(data))
			s.dispatch(env.Event, env.Data)
		case websocket.BinaryMessage:
			name, payload, err := DecodeBinary(data)
			if err != nil {
				s.logger.Warnf("Dropping malformed binary frame: %v", err)
				continue
			}
			s.record(processing.DirectionInbound, name, len(data))
			s.dispatch(name, payload)
		}
	}
}

// closed handles a read error. A read error after Disconnect is expected and
// stays silent.
func (s *Socket) closed(conn *websocket.Conn, gen uint64, err error) {
	s.mu.Lock()
	if s.generation != gen || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.conn = nil
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.mu.Unlock()

	_ = conn.Close()
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.logger.Warnf("Connection to %s lost: %v", s.opts.URL, err)
	} else {
		s.logger.Infof("Connection to %s closed by server: %v", s.opts.URL, err)
	}
	s.dispatch(EventDisconnect, errorPayload(err))
}

func (s *Socket) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debugf("Ping failed: %v", err)
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Socket) dispatch(name string, payload []byte) {
	s.listenersMu.RLock()
	listeners := s.listeners.snapshot(name)
	s.listenersMu.RUnlock()

	if len(listeners) == 0 {
		s.logger.Debugf("No listener for event %s", name)
		return
	}
	for _, l := range listeners {
		if l.Handle != nil {
			l.Handle(payload)
		}
	}
}

func (s *Socket) record(direction, name string, size int) {
	if s.opts.Registry != nil {
		s.opts.Registry.Record(direction, name, size, time.Now().UnixNano())
	}
}

func errorPayload(err error) []byte {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return data
}
