package devserver

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/open-teleop/presence/pkg/channel"
)

// fakeFrame stands in for an encoded video frame.
var fakeFrame = []byte{0x00, 0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00}

type authenticationPayload struct {
	GUID  string `json:"guid"`
	Token string `json:"token"`
}

type velocityPayload struct {
	Velocity json.RawMessage `json:"velocity"`
}

// socketSession is one event channel connection. Writes come from the read
// loop and the telemetry ticker, so they go through writeMu.
type socketSession struct {
	server  *Server
	conn    *websocket.Conn
	token   string
	writeMu sync.Mutex

	role          atomic.Value
	authenticated atomic.Bool

	done      chan struct{}
	closeOnce sync.Once
}

func (s *Server) serveSocket(conn *websocket.Conn) {
	sess := &socketSession{
		server: s,
		conn:   conn,
		token:  conn.Headers(channel.HeaderToken),
		done:   make(chan struct{}),
	}
	sess.role.Store("")
	s.track(sess)
	defer s.untrack(sess)

	s.logger.Infof("Channel connected: guid=%s connection=%s", conn.Headers(channel.HeaderGUID), conn.Headers(channel.HeaderConnectionID))
	// The connection is released when this handler returns, so the pusher
	// must be gone by then.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.pushTelemetry()
	}()
	sess.readLoop()
	sess.close()
	wg.Wait()
	s.logger.Infof("Channel closed: guid=%s", conn.Headers(channel.HeaderGUID))
}

func (sess *socketSession) close() {
	sess.closeOnce.Do(func() {
		close(sess.done)
		_ = sess.conn.Close()
	})
}

func (sess *socketSession) readLoop() {
	for {
		mt, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		env, err := channel.DecodeEvent(data)
		if err != nil {
			sess.server.logger.Warnf("Dropping undecodable frame: %v", err)
			continue
		}
		sess.handle(env.Event, env.Data)
	}
}

func (sess *socketSession) handle(event string, data []byte) {
	if event == channel.EventAuthentication {
		sess.authenticate(data)
		return
	}
	if !sess.authenticated.Load() {
		sess.server.logger.Warnf("Ignoring %s before authentication", event)
		return
	}

	rover := sess.server.rover
	switch event {
	case channel.EventClientRequestData:
		sess.emit(channel.EventClientDataReceived, rover.Telemetry())
		sess.emit(channel.EventRobotSendSessionInfo, rover.SessionInfo())
		return
	case channel.EventOperatorChangeSpeed, channel.EventOperatorStartMoving, channel.EventOperatorStopMoving,
		channel.EventOperatorRotateCamera, channel.EventOperatorRotate:
	default:
		sess.server.logger.Debugf("Ignoring unknown event %s", event)
		return
	}

	if sess.role.Load() != RoleOperator {
		sess.server.logger.Warnf("Ignoring %s from a non-operator", event)
		return
	}
	switch event {
	case channel.EventOperatorChangeSpeed:
		var p struct {
			Velocity int `json:"velocity"`
		}
		if err := json.Unmarshal(data, &p); err == nil && p.Velocity >= 1 && p.Velocity <= 3 {
			rover.SetVelocity(p.Velocity)
		}
	case channel.EventOperatorStartMoving:
		rover.SetMoving(true)
	case channel.EventOperatorStopMoving:
		rover.SetMoving(false)
	case channel.EventOperatorRotateCamera:
		if v, ok := rotation(data); ok {
			rover.SetCameraRotation(v)
		}
	case channel.EventOperatorRotate:
		if v, ok := rotation(data); ok {
			rover.SetRotation(v)
		}
	}
}

// rotation reads {"velocity":"0.1234"}, accepting a bare number as well.
func rotation(data []byte) (float64, bool) {
	var p velocityPayload
	if err := json.Unmarshal(data, &p); err != nil || len(p.Velocity) == 0 {
		return 0, false
	}
	var text string
	if err := json.Unmarshal(p.Velocity, &text); err == nil {
		v, err := strconv.ParseFloat(text, 64)
		return v, err == nil
	}
	var v float64
	if err := json.Unmarshal(p.Velocity, &v); err != nil {
		return 0, false
	}
	return v, true
}

func (sess *socketSession) authenticate(data []byte) {
	var p authenticationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		sess.emit(channel.EventUnauthorized, nil)
		return
	}
	role, err := sess.server.verify(p.GUID, p.Token)
	if err != nil {
		sess.server.logger.Warnf("Authentication failed for %s: %v", p.GUID, err)
		sess.emit(channel.EventUnauthorized, nil)
		return
	}

	sess.role.Store(role)
	sess.authenticated.Store(true)
	sess.emit(channel.EventAuthorized, nil)
	if role == RoleOperator {
		sess.emit(channel.EventTestOperator, nil)
	} else {
		sess.emit(channel.EventTestClient, nil)
	}
}

func (sess *socketSession) pushTelemetry() {
	ticker := time.NewTicker(sess.server.opts.TelemetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
			if !sess.authenticated.Load() {
				continue
			}
			sess.server.rover.Step()
			sess.emit(channel.EventClientUpdateData, sess.server.rover.Telemetry())
			if sess.server.opts.SendVideo {
				sess.emitBinary(channel.EventClientSendVideo, fakeFrame)
			}
		}
	}
}

func (sess *socketSession) emit(event string, payload interface{}) {
	frame, err := channel.EncodeEvent(event, payload)
	if err != nil {
		sess.server.logger.Errorf("Failed to encode %s: %v", event, err)
		return
	}
	sess.write(websocket.TextMessage, frame)
}

func (sess *socketSession) emitBinary(event string, payload []byte) {
	frame, err := channel.EncodeBinary(event, payload)
	if err != nil {
		sess.server.logger.Errorf("Failed to encode %s: %v", event, err)
		return
	}
	sess.write(websocket.BinaryMessage, frame)
}

func (sess *socketSession) write(messageType int, frame []byte) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteMessage(messageType, frame); err != nil {
		sess.server.logger.Debugf("Channel write failed: %v", err)
	}
}
