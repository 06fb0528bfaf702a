// Package relay mirrors session updates onto NATS subjects for fleet tooling.
package relay

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/open-teleop/presence/pkg/config"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/session"
)

// Subject suffixes under <prefix>.<install_id>.
const (
	SubjectState     = "state"
	SubjectTelemetry = "telemetry"
	SubjectRole      = "role"
	SubjectNotice    = "notice"
)

// Publisher is the part of *nats.Conn the relay uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the JSON body of every relayed update.
type Message struct {
	InstallID string      `json:"install_id"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Connect dials the NATS server with reconnects enabled.
func Connect(cfg config.NATSConfig, name string, logger customlog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = customlog.Discard()
	}
	return nats.Connect(cfg.URL,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
}

// Relay is a session.Observer that publishes each update as JSON.
type Relay struct {
	conn      Publisher
	base      string
	installID string
	logger    customlog.Logger
	now       func() time.Time
}

// NewRelay creates a relay publishing under prefix.installID.
func NewRelay(conn Publisher, prefix, installID string, logger customlog.Logger) *Relay {
	if logger == nil {
		logger = customlog.Discard()
	}
	return &Relay{
		conn:      conn,
		base:      prefix + "." + subjectToken(installID),
		installID: installID,
		logger:    logger,
		now:       time.Now,
	}
}

// subjectToken keeps an ID from introducing extra subject levels or wildcards.
func subjectToken(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, id)
}

// Subject returns the full subject for a suffix.
func (r *Relay) Subject(suffix string) string {
	return r.base + "." + suffix
}

func (r *Relay) publish(suffix string, data interface{}) {
	body, err := json.Marshal(Message{InstallID: r.installID, Timestamp: r.now().UnixMilli(), Data: data})
	if err != nil {
		r.logger.Errorf("Failed to encode %s relay message: %v", suffix, err)
		return
	}
	if err := r.conn.Publish(r.Subject(suffix), body); err != nil {
		r.logger.Warnf("Failed to relay %s: %v", suffix, err)
	}
}

func (r *Relay) OnStateChanged(state session.State) {
	r.publish(SubjectState, map[string]string{"state": state.String(), "description": state.Description()})
}

func (r *Relay) OnTelemetryUpdated(telemetry session.Telemetry) {
	r.publish(SubjectTelemetry, telemetry)
}

func (r *Relay) OnRoleChanged(isOperator bool) {
	r.publish(SubjectRole, map[string]bool{"operator": isOperator})
}

func (r *Relay) OnNotice(notice session.Notice) {
	r.publish(SubjectNotice, notice)
}
