package channel

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/open-teleop/presence/pkg/processing"
)

const waitTimeout = 2 * time.Second

type testServer struct {
	*httptest.Server
	headers chan http.Header
	conns   chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		headers: make(chan http.Header, 4),
		conns:   make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.headers <- r.Header.Clone()
		ts.conns <- conn
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-ts.conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for client connection")
		return nil
	}
}

func signal(ch chan []byte) *Listener {
	return NewListener(func(payload []byte) {
		ch <- append([]byte(nil), payload...)
	})
}

func wait(t *testing.T, ch chan []byte, what string) []byte {
	t.Helper()
	select {
	case payload := <-ch:
		return payload
	case <-time.After(waitTimeout):
		t.Fatalf("Timed out waiting for %s", what)
		return nil
	}
}

func TestSocketConnectAndExchange(t *testing.T) {
	ts := newTestServer(t)
	registry := processing.NewEventRegistry(nil)

	header := http.Header{}
	header.Set(HeaderGUID, "install-1")
	header.Set(HeaderToken, "tok-1")
	socket := NewSocket(Options{URL: ts.wsURL(), Header: header, Registry: registry})
	defer socket.Disconnect()

	connected := make(chan []byte, 1)
	socket.On(EventConnect, signal(connected))
	socket.Connect()

	wait(t, connected, "connect event")
	server := ts.accept(t)
	if !socket.IsConnected() {
		t.Fatal("Expected socket to report connected")
	}

	got := <-ts.headers
	if got.Get(HeaderGUID) != "install-1" || got.Get(HeaderToken) != "tok-1" {
		t.Errorf("Expected dial headers guid/token, got %v", got)
	}

	if err := socket.Emit(EventOperatorChangeSpeed, map[string]int{"velocity": 2}); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	_, frame, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("Server read failed: %v", err)
	}
	env, err := DecodeEvent(frame)
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if env.Event != EventOperatorChangeSpeed || string(env.Data) != `{"velocity":2}` {
		t.Errorf("Unexpected frame %s", frame)
	}

	telemetry := make(chan []byte, 1)
	socket.On(EventClientDataReceived, signal(telemetry))
	out, _ := EncodeEvent(EventClientDataReceived, map[string]float64{"temp": 21.5})
	if err := server.WriteMessage(websocket.TextMessage, out); err != nil {
		t.Fatalf("Server write failed: %v", err)
	}
	if payload := wait(t, telemetry, "telemetry event"); string(payload) != `{"temp":21.5}` {
		t.Errorf("Expected raw payload, got %s", payload)
	}

	video := make(chan []byte, 1)
	socket.On(EventClientSendVideo, signal(video))
	bin, _ := EncodeBinary(EventClientSendVideo, []byte{0xde, 0xad})
	if err := server.WriteMessage(websocket.BinaryMessage, bin); err != nil {
		t.Fatalf("Server write failed: %v", err)
	}
	if payload := wait(t, video, "video frame"); len(payload) != 2 || payload[0] != 0xde {
		t.Errorf("Unexpected video payload %v", payload)
	}

	info, ok := registry.GetEventInfo(processing.DirectionOutbound, EventOperatorChangeSpeed)
	if !ok || info.Count != 1 {
		t.Errorf("Expected one outbound %s recorded, got %+v", EventOperatorChangeSpeed, info)
	}
}

func TestSocketConnectError(t *testing.T) {
	socket := NewSocket(Options{URL: "ws://127.0.0.1:1/socket", HandshakeTimeout: time.Second})
	failed := make(chan []byte, 1)
	socket.On(EventConnectError, signal(failed))
	socket.Connect()

	payload := wait(t, failed, "connect_error event")
	var body map[string]string
	if err := json.Unmarshal(payload, &body); err != nil || body["error"] == "" {
		t.Errorf("Expected error payload, got %s", payload)
	}
	if socket.IsConnected() {
		t.Error("Expected socket to stay disconnected")
	}
}

func TestSocketRemoteCloseFiresDisconnect(t *testing.T) {
	ts := newTestServer(t)
	socket := NewSocket(Options{URL: ts.wsURL()})
	connected := make(chan []byte, 1)
	dropped := make(chan []byte, 1)
	socket.On(EventConnect, signal(connected))
	socket.On(EventDisconnect, signal(dropped))
	socket.Connect()
	wait(t, connected, "connect event")

	server := ts.accept(t)
	_ = server.Close()

	wait(t, dropped, "disconnect event")
	if socket.IsConnected() {
		t.Error("Expected socket to be disconnected after remote close")
	}
}

func TestSocketLocalDisconnectIsSilent(t *testing.T) {
	ts := newTestServer(t)
	socket := NewSocket(Options{URL: ts.wsURL()})
	connected := make(chan []byte, 1)
	dropped := make(chan []byte, 1)
	socket.On(EventConnect, signal(connected))
	socket.On(EventDisconnect, signal(dropped))
	socket.Connect()
	wait(t, connected, "connect event")
	ts.accept(t)

	socket.Disconnect()
	select {
	case <-dropped:
		t.Error("Expected no disconnect event for a local disconnect")
	case <-time.After(200 * time.Millisecond):
	}

	if err := socket.Emit(EventOperatorStopMoving, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}

func TestSocketOnOffUsesListenerIdentity(t *testing.T) {
	socket := NewSocket(Options{URL: "ws://unused"})
	l := NewListener(func([]byte) {})
	other := NewListener(func([]byte) {})

	socket.On(EventTestClient, l)
	socket.On(EventTestClient, l)
	if socket.ListenerCount(EventTestClient) != 1 {
		t.Fatalf("Expected duplicate registration to be ignored, got %d", socket.ListenerCount(EventTestClient))
	}

	socket.Off(EventTestClient, other)
	if socket.ListenerCount(EventTestClient) != 1 {
		t.Error("Expected Off with a different listener to leave the binding")
	}

	socket.Off(EventTestClient, l)
	if socket.ListenerCount(EventTestClient) != 0 {
		t.Errorf("Expected no listeners, got %d", socket.ListenerCount(EventTestClient))
	}
}

func TestEncodeEventWithoutPayload(t *testing.T) {
	frame, err := EncodeEvent(EventOperatorStartMoving, nil)
	if err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if string(frame) != `{"event":"operatorStartMoving"}` {
		t.Errorf("Unexpected frame %s", frame)
	}
	if _, err := EncodeEvent("", nil); !errors.Is(err, ErrEmptyEventName) {
		t.Errorf("Expected ErrEmptyEventName, got %v", err)
	}
}

func TestDecodeBinaryRejectsShortFrames(t *testing.T) {
	if _, _, err := DecodeBinary([]byte{5, 'a', 'b'}); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
	if _, _, err := DecodeBinary(nil); !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame for empty frame, got %v", err)
	}
	if _, err := EncodeBinary(strings.Repeat("x", MaxBinaryNameLength+1), nil); !errors.Is(err, ErrEventNameLength) {
		t.Errorf("Expected ErrEventNameLength, got %v", err)
	}

	name, payload, err := DecodeBinary([]byte{1, 'v'})
	if err != nil || name != "v" || len(payload) != 0 {
		t.Errorf("Expected name v with empty payload, got %q %v %v", name, payload, err)
	}
}
