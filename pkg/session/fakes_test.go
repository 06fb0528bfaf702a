package session

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/open-teleop/presence/pkg/access"
	"github.com/open-teleop/presence/pkg/channel"
	"github.com/open-teleop/presence/pkg/network"
)

type tokenCall struct {
	GUID   string
	Secret string
	Token  string
}

type fakeTokens struct {
	mu          sync.Mutex
	requests    []tokenCall
	revokes     []tokenCall
	requestErr  error
	revokeErr   error
	gate        chan struct{}
	issued      int
	tokenPrefix string
}

func (f *fakeTokens) RequestToken(ctx context.Context, guid, secret string) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, tokenCall{GUID: guid, Secret: secret})
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestErr != nil {
		return "", f.requestErr
	}
	f.issued++
	prefix := f.tokenPrefix
	if prefix == "" {
		prefix = "tok"
	}
	return prefix + "-" + strconv.Itoa(f.issued), nil
}

func (f *fakeTokens) RevokeToken(ctx context.Context, guid, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokes = append(f.revokes, tokenCall{GUID: guid, Token: token})
	return f.revokeErr
}

func (f *fakeTokens) requestCalls() []tokenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tokenCall(nil), f.requests...)
}

func (f *fakeTokens) revokeCalls() []tokenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tokenCall(nil), f.revokes...)
}

type emitted struct {
	Event   string
	Payload string
}

type fakeChannel struct {
	mu          sync.Mutex
	identity    Identity
	connected   bool
	connects    int
	disconnects int
	ons         int
	offs        int
	listeners   map[string][]*channel.Listener
	emits       []emitted
}

func newFakeChannel(identity Identity) *fakeChannel {
	return &fakeChannel{identity: identity, listeners: make(map[string][]*channel.Listener)}
}

func (f *fakeChannel) Connect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
}

func (f *fakeChannel) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

func (f *fakeChannel) On(event string, l *channel.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ons++
	f.listeners[event] = append(f.listeners[event], l)
}

func (f *fakeChannel) Off(event string, l *channel.Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offs++
	current := f.listeners[event]
	for i, existing := range current {
		if existing == l {
			f.listeners[event] = append(current[:i:i], current[i+1:]...)
			return
		}
	}
}

func (f *fakeChannel) Emit(event string, payload interface{}) error {
	data := ""
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		data = string(raw)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return channel.ErrNotConnected
	}
	f.emits = append(f.emits, emitted{Event: event, Payload: data})
	return nil
}

func (f *fakeChannel) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// open marks the channel connected and delivers the connect event.
func (f *fakeChannel) open() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.fire(channel.EventConnect, nil)
}

// drop simulates a remote close.
func (f *fakeChannel) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.fire(channel.EventDisconnect, []byte(`{"error":"closed"}`))
}

func (f *fakeChannel) fire(event string, payload []byte) {
	f.mu.Lock()
	listeners := append([]*channel.Listener(nil), f.listeners[event]...)
	f.mu.Unlock()
	for _, l := range listeners {
		l.Handle(payload)
	}
}

func (f *fakeChannel) bindingCounts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, ls := range f.listeners {
		total += len(ls)
	}
	return f.ons, f.offs, total
}

func (f *fakeChannel) listenerCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[event])
}

func (f *fakeChannel) emitted() []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]emitted(nil), f.emits...)
}

func (f *fakeChannel) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type fakeChannels struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
}

func (f *fakeChannels) factory(identity Identity) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ch := newFakeChannel(identity)
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeChannels) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

func (f *fakeChannels) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

type fakeReach struct {
	mu          sync.Mutex
	reachable   bool
	callback    func(bool)
	registers   int
	unregisters int
	// upAfterRead makes the network come up right after the next read,
	// delivered only to a callback registered at that moment.
	upAfterRead bool
}

func (f *fakeReach) IsReachable() bool {
	f.mu.Lock()
	reachable := f.reachable
	if !f.upAfterRead {
		f.mu.Unlock()
		return reachable
	}
	f.upAfterRead = false
	f.mu.Unlock()

	f.set(true)
	return reachable
}

func (f *fakeReach) Register(callback func(bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registers++
	f.callback = callback
}

func (f *fakeReach) Unregister() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callback == nil {
		return network.ErrNotRegistered
	}
	f.unregisters++
	f.callback = nil
	return nil
}

// set changes reachability and notifies a registered callback.
func (f *fakeReach) set(reachable bool) {
	f.mu.Lock()
	f.reachable = reachable
	callback := f.callback
	f.mu.Unlock()
	if callback != nil {
		callback(reachable)
	}
}

// recorder keeps every observer callback in order.
type recorder struct {
	mu        sync.Mutex
	log       []string
	states    []State
	roles     []bool
	notices   []Notice
	telemetry []Telemetry
}

func (r *recorder) OnStateChanged(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.log = append(r.log, "state:"+state.String())
}

func (r *recorder) OnTelemetryUpdated(t Telemetry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.telemetry = append(r.telemetry, t)
}

func (r *recorder) OnRoleChanged(isOperator bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles = append(r.roles, isOperator)
	if isOperator {
		r.log = append(r.log, "role:operator")
	} else {
		r.log = append(r.log, "role:observer")
	}
}

func (r *recorder) OnNotice(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	r.log = append(r.log, "notice:"+string(n.Kind))
}

func (r *recorder) stateList() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) noticeList() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) lastTelemetry() (Telemetry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.telemetry) == 0 {
		return Telemetry{}, false
	}
	return r.telemetry[len(r.telemetry)-1], true
}

type videoRecorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (v *videoRecorder) OnVideoFrame(frame []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frames = append(v.frames, frame)
}

func (v *videoRecorder) count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.frames)
}

var _ TokenClient = (*access.Client)(nil)
var _ Channel = (*channel.Socket)(nil)
var _ Reachability = (*network.Monitor)(nil)
