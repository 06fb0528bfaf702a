package zeromq

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/open-teleop/presence/pkg/config"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(config.ZeroMQBootstrap{
		RequestBindAddress: "tcp://127.0.0.1:*",
		PublishBindAddress: "tcp://127.0.0.1:*",
	}, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func TestServiceRequestReply(t *testing.T) {
	svc := newTestService(t)
	RegisterSessionHandlers(svc.Dispatcher(), &fakeController{}, nil, nil, nil)
	svc.Start()

	requestEndpoint, _ := svc.Endpoints()
	req, err := zmq4.NewSocket(zmq4.REQ)
	if err != nil {
		t.Fatalf("Failed to create REQ socket: %v", err)
	}
	defer req.Close()
	_ = req.SetLinger(0)
	_ = req.SetRcvtimeo(2 * time.Second)
	if err := req.Connect(requestEndpoint); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, err := req.SendBytes([]byte(`{"type":"STATUS_REQUEST"}`), 0); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	raw, err := req.RecvBytes(0)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	var reply ZeroMQMessage
	if err := json.Unmarshal(raw, &reply); err != nil || reply.Type != "STATUS_RESPONSE" {
		t.Errorf("Expected STATUS_RESPONSE, got %s (%v)", raw, err)
	}
}

func TestServicePublish(t *testing.T) {
	svc := newTestService(t)
	_, publishEndpoint := svc.Endpoints()

	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		t.Fatalf("Failed to create SUB socket: %v", err)
	}
	defer sub.Close()
	_ = sub.SetLinger(0)
	_ = sub.SetRcvtimeo(200 * time.Millisecond)
	if err := sub.SetSubscribe(TopicState); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Connect(publishEndpoint); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	publisher := NewSessionPublisher(svc, nil)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		publisher.OnRoleChanged(false)
		if err := svc.PublishJSON(TopicState, MsgTypeStateChanged, map[string]string{"state": "connected"}); err != nil {
			t.Fatalf("PublishJSON failed: %v", err)
		}
		parts, err := sub.RecvMessageBytes(0)
		if err != nil {
			continue
		}
		if len(parts) != 2 || string(parts[0]) != TopicState {
			t.Fatalf("Unexpected frames %q", parts)
		}
		var msg ZeroMQMessage
		if err := json.Unmarshal(parts[1], &msg); err != nil || msg.Type != MsgTypeStateChanged {
			t.Errorf("Unexpected payload %s (%v)", parts[1], err)
		}
		return
	}
	t.Fatal("Timed out waiting for a published state message")
}

func TestServicePublishAfterStop(t *testing.T) {
	svc := newTestService(t)
	svc.Stop()
	if err := svc.Publish(TopicState, []byte("x")); err != ErrServiceClosed {
		t.Errorf("Expected ErrServiceClosed, got %v", err)
	}
}
