package devserver

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/open-teleop/presence/pkg/access"
	"github.com/open-teleop/presence/pkg/channel"
	"github.com/open-teleop/presence/pkg/network"
	"github.com/open-teleop/presence/pkg/processing"
	"github.com/open-teleop/presence/pkg/session"
)

type observed struct {
	mu        sync.Mutex
	states    []session.State
	telemetry session.Telemetry
	updates   int
	frames    int
}

func (o *observed) OnStateChanged(state session.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, state)
}

func (o *observed) OnTelemetryUpdated(t session.Telemetry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.telemetry = t
	o.updates++
}

func (o *observed) OnRoleChanged(bool) {}

func (o *observed) OnNotice(session.Notice) {}

func (o *observed) OnVideoFrame([]byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames++
}

func (o *observed) last() session.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.states) == 0 {
		return session.Disconnected
	}
	return o.states[len(o.states)-1]
}

func (o *observed) snapshot() (session.Telemetry, int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.telemetry, o.updates, o.frames
}

func TestControllerAgainstDevServer(t *testing.T) {
	opts := testOptions(t)
	opts.TelemetryInterval = 20 * time.Millisecond
	opts.SendVideo = true
	srv, addr := newServer(t, opts)

	tokens := access.NewClient("http://"+addr, 2*time.Second, nil)
	registry := processing.NewEventRegistry(nil)
	channels := func(id session.Identity) (session.Channel, error) {
		header := http.Header{}
		header.Set(channel.HeaderGUID, id.InstallID)
		header.Set(channel.HeaderToken, id.Token)
		header.Set(channel.HeaderConnectionID, id.ConnectionID)
		return channel.NewSocket(channel.Options{
			URL:      "ws://" + addr + SocketPath,
			Header:   header,
			Registry: registry,
		}), nil
	}

	monitor := network.NewMonitor(network.ServerProber{Checker: tokens}, 50*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	defer monitor.Stop()
	waitFor(t, "reachability", monitor.IsReachable)

	obs := &observed{}
	ctrl, err := session.NewController(session.Options{
		InstallID:      "install-e2e",
		OperatorSecret: operatorSecret,
		ObserverSecret: observerSecret,
		Operator:       true,
	}, session.Dependencies{
		Tokens:       tokens,
		Channels:     channels,
		Reachability: monitor,
		Observer:     obs,
		Video:        obs,
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	ctrl.Start()
	defer ctrl.Close()

	ctrl.CreateSession()
	waitFor(t, "connected state", func() bool { return obs.last() == session.Connected })

	waitFor(t, "telemetry and video", func() bool {
		telemetry, updates, frames := obs.snapshot()
		return updates > 0 && frames > 0 && telemetry.Temperature != 0
	})
	telemetry, _, _ := obs.snapshot()
	if telemetry.BackObstacle != 200 {
		t.Errorf("Expected back obstacle 200, got %v", telemetry.BackObstacle)
	}

	if err := ctrl.SetVelocity(2); err != nil {
		t.Fatalf("SetVelocity failed: %v", err)
	}
	ctrl.SetMoving(true)
	ctrl.SetCameraRotation(0.125)
	waitFor(t, "rover commands", func() bool {
		st := srv.Rover().State()
		return st.Velocity == 2 && st.Moving && st.CameraRotation == 0.125
	})

	status, err := ctrl.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !status.IsOperator || !status.HasToken {
		t.Errorf("Expected operator session with token, got %+v", status)
	}

	ctrl.Terminate()
	waitFor(t, "disconnected state", func() bool { return obs.last() == session.Disconnected })
	waitFor(t, "server session close", func() bool { return srv.SessionCount() == 0 })

	if info, ok := registry.GetEventInfo(processing.DirectionInbound, channel.EventClientUpdateData); !ok || info.Count == 0 {
		t.Errorf("Expected inbound %s events to be recorded, got %+v", channel.EventClientUpdateData, info)
	}
}
