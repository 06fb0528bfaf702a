package zeromq

import (
	"encoding/json"
	"testing"

	"github.com/open-teleop/presence/pkg/config"
	"github.com/open-teleop/presence/pkg/session"
)

type published struct {
	topic       string
	messageType string
	data        string
	raw         []byte
}

type fakePublisher struct {
	sent []published
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.sent = append(f.sent, published{topic: topic, raw: payload})
	return nil
}

func (f *fakePublisher) PublishJSON(topic, messageType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, published{topic: topic, messageType: messageType, data: string(raw)})
	return nil
}

func TestSessionPublisher(t *testing.T) {
	svc := &fakePublisher{}
	p := NewSessionPublisher(svc, nil)

	var observer session.Observer = p
	observer.OnStateChanged(session.NetworkUnavailable)
	observer.OnRoleChanged(true)
	observer.OnNotice(session.Notice{Kind: session.NoticeRevertedFromOperator, Message: "fallback"})
	observer.OnTelemetryUpdated(session.DefaultTelemetry())
	p.PublishVideo([]byte{1, 2})
	if err := p.PublishProfileUpdated(config.DefaultProfile()); err != nil {
		t.Fatalf("PublishProfileUpdated failed: %v", err)
	}

	want := []struct {
		topic       string
		messageType string
	}{
		{TopicState, MsgTypeStateChanged},
		{TopicRole, MsgTypeRoleChanged},
		{TopicNotice, MsgTypeNotice},
		{TopicTelemetry, MsgTypeTelemetryUpdated},
		{TopicVideoFrame, ""},
		{TopicProfileNotes, MsgTypeProfileUpdated},
	}
	if len(svc.sent) != len(want) {
		t.Fatalf("Expected %d publishes, got %d", len(want), len(svc.sent))
	}
	for i, w := range want {
		if svc.sent[i].topic != w.topic || svc.sent[i].messageType != w.messageType {
			t.Errorf("Publish %d: expected %s/%s, got %s/%s", i, w.topic, w.messageType, svc.sent[i].topic, svc.sent[i].messageType)
		}
	}
	if svc.sent[0].data != `{"state":"network_unavailable","description":"Network not available"}` {
		t.Errorf("Unexpected state payload %s", svc.sent[0].data)
	}
	if svc.sent[1].data != `{"operator":true}` {
		t.Errorf("Unexpected role payload %s", svc.sent[1].data)
	}
}
