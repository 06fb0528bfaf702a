package zeromq

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/open-teleop/presence/domain/teleop"
	"github.com/open-teleop/presence/pkg/config"
	"github.com/open-teleop/presence/pkg/flatbuffers/open_teleop/message"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/session"
)

// ErrBadRequest marks a request rejected on content.
var ErrBadRequest = errors.New("bad request")

// Request message types.
const (
	MsgTypeStatusRequest  = "STATUS_REQUEST"
	MsgTypeProfileRequest = "PROFILE_REQUEST"
	MsgTypeSessionCommand = "SESSION_COMMAND"
)

// OTT topics accepted as raw OttMessage requests.
const (
	TopicSessionCommand = "session.command"
	TopicTeleopCommand  = "teleop.command"
)

// Session command actions.
const (
	ActionCreate      = "create"
	ActionPause       = "pause"
	ActionResume      = "resume"
	ActionTerminate   = "terminate"
	ActionSetOperator = "set_operator"
)

// SessionController is the part of session.Controller driven over the bridge.
type SessionController interface {
	CreateSession()
	Resume()
	Pause()
	Terminate()
	SetOperatorRole(operator bool)
	Status() (session.Status, error)
}

// CommandSender forwards rover commands. teleop.TeleopService implements it.
type CommandSender interface {
	SendCommand(cmd teleop.Command) error
}

// ProfileSource returns the active control profile.
type ProfileSource interface {
	GetCurrentProfile() *config.ControlProfile
}

// SessionCommand is the data of SESSION_COMMAND and session.command.
type SessionCommand struct {
	Action   string `json:"action"`
	Operator *bool  `json:"operator,omitempty"`
}

// SessionHandlers serves the bridge requests.
type SessionHandlers struct {
	controller SessionController
	commands   CommandSender
	profiles   ProfileSource
	logger     customlog.Logger
}

// RegisterSessionHandlers wires the session requests into d. commands and
// profiles may be nil, which leaves their requests unregistered.
func RegisterSessionHandlers(d *Dispatcher, controller SessionController, commands CommandSender, profiles ProfileSource, logger customlog.Logger) *SessionHandlers {
	if logger == nil {
		logger = customlog.Discard()
	}
	h := &SessionHandlers{controller: controller, commands: commands, profiles: profiles, logger: logger}

	d.RegisterHandler(MsgTypeStatusRequest, HandlerFunc(h.handleStatus))
	d.RegisterHandler(MsgTypeSessionCommand, HandlerFunc(func(msg ZeroMQMessage) (interface{}, error) {
		return h.runCommand(msg.Data)
	}))
	d.RegisterOTTHandler(TopicSessionCommand, h.handleOTTSession)
	if profiles != nil {
		d.RegisterHandler(MsgTypeProfileRequest, HandlerFunc(h.handleProfile))
	}
	if commands != nil {
		d.RegisterOTTHandler(TopicTeleopCommand, h.handleOTTTeleop)
	}
	return h
}

func (h *SessionHandlers) handleStatus(ZeroMQMessage) (interface{}, error) {
	return h.controller.Status()
}

func (h *SessionHandlers) handleProfile(ZeroMQMessage) (interface{}, error) {
	return h.profiles.GetCurrentProfile(), nil
}

func (h *SessionHandlers) handleOTTSession(contentType message.ContentType, payload []byte) (interface{}, error) {
	if contentType != message.ContentTypeJSON_COMMAND {
		return nil, fmt.Errorf("%w: %s expects JSON_COMMAND, got %s", ErrBadRequest, TopicSessionCommand, contentType)
	}
	return h.runCommand(payload)
}

func (h *SessionHandlers) handleOTTTeleop(contentType message.ContentType, payload []byte) (interface{}, error) {
	if contentType != message.ContentTypeJSON_COMMAND {
		return nil, fmt.Errorf("%w: %s expects JSON_COMMAND, got %s", ErrBadRequest, TopicTeleopCommand, contentType)
	}
	var cmd teleop.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := h.commands.SendCommand(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return map[string]string{"status": "OK", "type": cmd.Type}, nil
}

func (h *SessionHandlers) runCommand(data []byte) (interface{}, error) {
	var cmd SessionCommand
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: missing command data", ErrBadRequest)
	}
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	switch cmd.Action {
	case ActionCreate:
		h.controller.CreateSession()
	case ActionPause:
		h.controller.Pause()
	case ActionResume:
		h.controller.Resume()
	case ActionTerminate:
		h.controller.Terminate()
	case ActionSetOperator:
		if cmd.Operator == nil {
			return nil, fmt.Errorf("%w: set_operator requires operator", ErrBadRequest)
		}
		h.controller.SetOperatorRole(*cmd.Operator)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrBadRequest, cmd.Action)
	}
	h.logger.Debugf("Bridge session command %s accepted", cmd.Action)
	return map[string]string{"status": "accepted", "action": cmd.Action}, nil
}
