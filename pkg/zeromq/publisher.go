package zeromq

import (
	"github.com/open-teleop/presence/pkg/api"
	"github.com/open-teleop/presence/pkg/config"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/session"
)

// Published topics.
const (
	TopicState        = "session.state"
	TopicTelemetry    = "session.telemetry"
	TopicRole         = "session.role"
	TopicNotice       = "session.notice"
	TopicVideoFrame   = "video.frame"
	TopicProfileNotes = "configuration.notification"
)

// Published message types.
const (
	MsgTypeStateChanged     = "STATE_CHANGED"
	MsgTypeTelemetryUpdated = "TELEMETRY_UPDATED"
	MsgTypeRoleChanged      = "ROLE_CHANGED"
	MsgTypeNotice           = "NOTICE"
	MsgTypeProfileUpdated   = "PROFILE_UPDATED"
)

// Publisher is the subset of Service used for outbound updates.
type Publisher interface {
	Publish(topic string, payload []byte) error
	PublishJSON(topic, messageType string, data interface{}) error
}

// SessionPublisher mirrors session updates, wrapped video and profile
// changes onto the PUB socket. It implements session.Observer and
// services.ProfilePublisher.
type SessionPublisher struct {
	service Publisher
	logger  customlog.Logger
}

// NewSessionPublisher creates a publisher on service.
func NewSessionPublisher(service Publisher, logger customlog.Logger) *SessionPublisher {
	if logger == nil {
		logger = customlog.Discard()
	}
	return &SessionPublisher{service: service, logger: logger}
}

func (p *SessionPublisher) publish(topic, messageType string, data interface{}) {
	if err := p.service.PublishJSON(topic, messageType, data); err != nil {
		p.logger.Warnf("Failed to publish %s: %v", topic, err)
	}
}

func (p *SessionPublisher) OnStateChanged(state session.State) {
	p.publish(TopicState, MsgTypeStateChanged, api.StatePayload{State: state.String(), Description: state.Description()})
}

func (p *SessionPublisher) OnTelemetryUpdated(telemetry session.Telemetry) {
	p.publish(TopicTelemetry, MsgTypeTelemetryUpdated, telemetry)
}

func (p *SessionPublisher) OnRoleChanged(isOperator bool) {
	p.publish(TopicRole, MsgTypeRoleChanged, api.RolePayload{Operator: isOperator})
}

func (p *SessionPublisher) OnNotice(notice session.Notice) {
	p.publish(TopicNotice, MsgTypeNotice, notice)
}

// PublishVideo forwards an OttMessage-wrapped frame unchanged.
func (p *SessionPublisher) PublishVideo(buf []byte) {
	if err := p.service.Publish(TopicVideoFrame, buf); err != nil {
		p.logger.Debugf("Failed to publish video frame: %v", err)
	}
}

// PublishProfileUpdated announces a new control profile.
func (p *SessionPublisher) PublishProfileUpdated(profile *config.ControlProfile) error {
	return p.service.PublishJSON(TopicProfileNotes, MsgTypeProfileUpdated, map[string]string{
		"profile_id":   profile.ProfileID,
		"version":      profile.Version,
		"last_updated": profile.LastUpdated,
		"mode":         profile.Control.Mode,
	})
}
