// Package session runs the connection state machine between the local client
// and the presence server.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/open-teleop/presence/pkg/access"
	"github.com/open-teleop/presence/pkg/channel"
	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/motion"
	"github.com/open-teleop/presence/pkg/network"
	"github.com/open-teleop/presence/pkg/processing"
)

// ErrInvalidVelocity is returned by SetVelocity for steps outside 1..3.
var ErrInvalidVelocity = fmt.Errorf("velocity step must be between %d and %d", motion.MinStep, motion.MaxStep)

// TokenClient requests and revokes access tokens. access.Client implements it.
type TokenClient interface {
	RequestToken(ctx context.Context, guid, secret string) (string, error)
	RevokeToken(ctx context.Context, guid, token string) error
}

// Channel is the event channel used by one session. channel.Socket implements it.
type Channel interface {
	Connect()
	Disconnect()
	On(event string, l *channel.Listener)
	Off(event string, l *channel.Listener)
	Emit(event string, payload interface{}) error
	IsConnected() bool
}

// ChannelFactory creates the channel for a granted token.
type ChannelFactory func(identity Identity) (Channel, error)

// Reachability is the controller's view of network.Monitor.
type Reachability interface {
	IsReachable() bool
	Register(callback func(reachable bool))
	Unregister() error
}

// Options holds controller settings.
type Options struct {
	InstallID      string
	OperatorSecret string
	ObserverSecret string
	Operator       bool
	RequestTimeout time.Duration
	MailboxSize    int
	IOWorkers      int
	IOQueueSize    int
}

// Dependencies are the collaborators of a controller. Observer, Video and
// Logger are optional.
type Dependencies struct {
	Tokens       TokenClient
	Channels     ChannelFactory
	Reachability Reachability
	Observer     Observer
	Video        VideoSink
	Logger       customlog.Logger
}

// Status is a snapshot of the controller.
type Status struct {
	State        State     `json:"state"`
	Description  string    `json:"description"`
	IsOperator   bool      `json:"is_operator"`
	InstallID    string    `json:"install_id"`
	ConnectionID string    `json:"connection_id,omitempty"`
	HasToken     bool      `json:"has_token"`
	Suspended    bool      `json:"suspended"`
	Telemetry    Telemetry `json:"telemetry"`
}

type velocityPayload struct {
	Velocity int `json:"velocity"`
}

type rotationPayload struct {
	Velocity string `json:"velocity"`
}

type authenticationPayload struct {
	GUID  string `json:"guid"`
	Token string `json:"token"`
}

// Controller owns the session state. Every state read and write happens on a
// single worker mailbox; token requests and revokes run on a separate IO pool
// and post their results back. Public methods only enqueue work.
type Controller struct {
	opts     Options
	tokens   TokenClient
	channels ChannelFactory
	reach    Reachability
	observer Observer
	video    VideoSink
	logger   customlog.Logger

	mailbox *processing.Pool
	io      *processing.Pool

	onReachability func(bool)

	// Mailbox owned.
	state      State
	isOperator bool
	identity   Identity
	channel    Channel
	listeners  *eventListeners
	bound      bool
	suspended  bool
	attempt    uint64
	telemetry  Telemetry
}

// NewController creates a stopped controller.
func NewController(opts Options, deps Dependencies) (*Controller, error) {
	if deps.Tokens == nil {
		return nil, errors.New("session controller requires a token client")
	}
	if deps.Channels == nil {
		return nil, errors.New("session controller requires a channel factory")
	}
	if deps.Reachability == nil {
		return nil, errors.New("session controller requires a reachability source")
	}
	if opts.ObserverSecret == "" {
		return nil, errors.New("session controller requires an observer secret")
	}
	if opts.InstallID == "" {
		opts.InstallID = NewInstallID()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = access.DefaultTimeout
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 256
	}
	if opts.IOWorkers <= 0 {
		opts.IOWorkers = 2
	}
	if opts.IOQueueSize <= 0 {
		opts.IOQueueSize = 16
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Video == nil {
		deps.Video = discardVideo{}
	}
	if deps.Logger == nil {
		deps.Logger = customlog.Discard()
	}

	c := &Controller{
		opts:       opts,
		tokens:     deps.Tokens,
		channels:   deps.Channels,
		reach:      deps.Reachability,
		observer:   deps.Observer,
		video:      deps.Video,
		logger:     deps.Logger,
		mailbox:    processing.NewPool("session-mailbox", 1, opts.MailboxSize, deps.Logger),
		io:         processing.NewPool("session-io", opts.IOWorkers, opts.IOQueueSize, deps.Logger),
		isOperator: opts.Operator,
		identity:   Identity{InstallID: opts.InstallID},
		telemetry:  DefaultTelemetry(),
	}
	c.onReachability = func(reachable bool) {
		c.post(func() { c.reachabilityChanged(reachable) })
	}
	return c, nil
}

type discardVideo struct{}

func (discardVideo) OnVideoFrame([]byte) {}

// Start runs the mailbox and IO pools, starts listening for reachability
// changes and sets the initial state from the current reachability.
func (c *Controller) Start() {
	c.mailbox.Start()
	c.io.Start()
	c.post(func() {
		// Register before reading so a change landing in between is delivered.
		c.reach.Register(c.onReachability)
		if !c.reach.IsReachable() {
			c.setState(NetworkUnavailable)
		}
	})
	c.logger.Infof("Session controller started for install %s", c.opts.InstallID)
}

// Close pauses the session and stops both pools. The token is not revoked;
// call Terminate first for a clean shutdown.
func (c *Controller) Close() {
	c.post(c.pause)
	c.mailbox.Stop()
	c.io.Stop()
	c.logger.Infof("Session controller stopped")
}

// CreateSession requests a token and opens the channel.
func (c *Controller) CreateSession() { c.post(c.createSession) }

// Resume reconnects a paused channel.
func (c *Controller) Resume() { c.post(c.resume) }

// Pause disconnects the channel while keeping the token.
func (c *Controller) Pause() { c.post(c.pause) }

// Terminate disconnects and revokes the token.
func (c *Controller) Terminate() { c.post(c.terminate) }

// SetOperatorRole recreates the session under the given role.
func (c *Controller) SetOperatorRole(operator bool) {
	c.post(func() { c.setOperatorRole(operator) })
}

// SetVelocity sends a velocity step between 1 and 3.
func (c *Controller) SetVelocity(step int) error {
	if step < motion.MinStep || step > motion.MaxStep {
		return ErrInvalidVelocity
	}
	c.post(func() {
		c.telemetry.Velocity = step
		c.emit(channel.EventOperatorChangeSpeed, velocityPayload{Velocity: step})
		c.notifyTelemetry()
	})
	return nil
}

// SetMoving starts or stops the rover.
func (c *Controller) SetMoving(moving bool) {
	c.post(func() {
		c.telemetry.Moving = moving
		if moving {
			c.emit(channel.EventOperatorStartMoving, nil)
		} else {
			c.emit(channel.EventOperatorStopMoving, nil)
		}
		c.notifyTelemetry()
	})
}

// SetCameraRotation sends a camera rotation. Rotations arrive at sensor rate
// and are dropped while the mailbox is saturated.
func (c *Controller) SetCameraRotation(value float64) {
	c.tryPost(func() {
		c.telemetry.CameraRotation = value
		c.emit(channel.EventOperatorRotateCamera, rotationPayload{Velocity: FormatRotation(value)})
		c.notifyTelemetry()
	})
}

// SetRobotRotation sends a body rotation, dropped like SetCameraRotation.
func (c *Controller) SetRobotRotation(value float64) {
	c.tryPost(func() {
		c.telemetry.RobotRotation = value
		c.emit(channel.EventOperatorRotate, rotationPayload{Velocity: FormatRotation(value)})
		c.notifyTelemetry()
	})
}

// Status waits for the mailbox and returns a snapshot. It must not be called
// from an Observer callback.
func (c *Controller) Status() (Status, error) {
	result := make(chan Status, 1)
	if !c.mailbox.Submit(func() { result <- c.snapshot() }) {
		return Status{}, processing.ErrPoolStopped
	}
	return <-result, nil
}

// Metrics returns the mailbox and IO pool metrics.
func (c *Controller) Metrics() map[string]processing.PoolMetrics {
	return map[string]processing.PoolMetrics{
		c.mailbox.GetName(): c.mailbox.GetMetrics(),
		c.io.GetName():      c.io.GetMetrics(),
	}
}

// FormatRotation renders a rotation with four decimals.
func FormatRotation(value float64) string {
	s := strconv.FormatFloat(value, 'f', 4, 64)
	if s == "-0.0000" {
		return "0.0000"
	}
	return s
}

func (c *Controller) post(task func()) bool {
	return c.mailbox.Submit(processing.Task(task))
}

func (c *Controller) tryPost(task func()) bool {
	return c.mailbox.TrySubmit(processing.Task(task))
}

func (c *Controller) snapshot() Status {
	return Status{
		State:        c.state,
		Description:  c.state.Description(),
		IsOperator:   c.isOperator,
		InstallID:    c.identity.InstallID,
		ConnectionID: c.identity.ConnectionID,
		HasToken:     c.identity.HasToken(),
		Suspended:    c.suspended,
		Telemetry:    c.telemetry,
	}
}

func (c *Controller) secret() string {
	if c.isOperator {
		return c.opts.OperatorSecret
	}
	return c.opts.ObserverSecret
}

func (c *Controller) setState(state State) {
	if c.state == state {
		return
	}
	c.logger.Infof("Session state %s -> %s", c.state, state)
	c.state = state
	c.observer.OnStateChanged(state)
}

func (c *Controller) setRole(operator bool) {
	if c.isOperator == operator {
		return
	}
	c.isOperator = operator
	c.observer.OnRoleChanged(operator)
}

func (c *Controller) notice(kind NoticeKind, message string) {
	c.observer.OnNotice(Notice{Kind: kind, Message: message})
}

func (c *Controller) notifyTelemetry() {
	c.observer.OnTelemetryUpdated(c.telemetry)
}

func (c *Controller) emit(event string, payload interface{}) {
	if c.channel == nil || !c.channel.IsConnected() {
		c.logger.Debugf("Channel not connected, %s kept local", event)
		return
	}
	if err := c.channel.Emit(event, payload); err != nil {
		c.logger.Warnf("Failed to emit %s: %v", event, err)
	}
}

func (c *Controller) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.RequestTimeout)
}

func (c *Controller) createSession() {
	if c.state.Active() {
		c.logger.Debugf("Session already %s, ignoring create", c.state)
		return
	}
	if !c.reach.IsReachable() {
		c.setState(NetworkUnavailable)
		return
	}

	if c.identity.HasToken() {
		c.revokeOrphan(c.identity.Token)
	}
	c.suspended = false
	c.dropSession()
	c.attempt++
	attempt := c.attempt
	c.identity.renew()
	c.setState(AcquiringToken)

	guid, secret := c.identity.InstallID, c.secret()
	submitted := c.io.TrySubmit(func() {
		ctx, cancel := c.requestContext()
		defer cancel()
		token, err := c.tokens.RequestToken(ctx, guid, secret)
		c.post(func() { c.tokenResult(attempt, token, err) })
	})
	if !submitted {
		c.connectionFailure("token request queue full")
	}
}

func (c *Controller) tokenResult(attempt uint64, token string, err error) {
	if attempt != c.attempt || c.state != AcquiringToken {
		c.logger.Debugf("Discarding stale token response for attempt %d", attempt)
		if err == nil && token != "" {
			c.revokeOrphan(token)
		}
		return
	}
	if err != nil {
		c.connectionFailure(fmt.Sprintf("token request failed: %v", err))
		return
	}

	identity := c.identity
	identity.Token = token
	ch, err := c.channels(identity)
	if err != nil {
		c.revokeOrphan(token)
		c.connectionFailure(fmt.Sprintf("failed to create channel: %v", err))
		return
	}

	c.identity.Token = token
	c.channel = ch
	c.listeners = c.newListeners()
	c.setState(ChannelDisconnected)
	if !c.suspended {
		c.resume()
	}
}

// revokeOrphan revokes a token that no session will use. Failures are logged.
func (c *Controller) revokeOrphan(token string) {
	guid := c.identity.InstallID
	submitted := c.io.TrySubmit(func() {
		ctx, cancel := c.requestContext()
		defer cancel()
		if err := c.tokens.RevokeToken(ctx, guid, token); err != nil && !errors.Is(err, access.ErrTokenNotFound) {
			c.logger.Warnf("Failed to revoke unused token: %v", err)
		}
	})
	if !submitted {
		c.logger.Warnf("Request queue full, unused token left to expire")
	}
}

func (c *Controller) resume() {
	c.suspended = false
	if c.channel != nil && !c.bound && !c.channel.IsConnected() {
		c.setState(StartingChannel)
		c.bind()
		c.channel.Connect()
	}
	c.reach.Register(c.onReachability)
}

func (c *Controller) pause() {
	c.suspended = true
	if c.bound {
		c.channel.Disconnect()
		c.unbind()
		c.setState(ChannelDisconnected)
	}
	if err := c.reach.Unregister(); err != nil && !errors.Is(err, network.ErrNotRegistered) {
		c.logger.Warnf("Failed to unregister reachability callback: %v", err)
	}
}

// dropSession forgets the channel and token without revoking.
func (c *Controller) dropSession() {
	if c.channel != nil {
		if c.bound {
			c.unbind()
		}
		c.channel.Disconnect()
	}
	c.channel = nil
	c.listeners = nil
	c.bound = false
	c.identity.Token = ""
}

func (c *Controller) terminate() {
	if c.state == NetworkUnavailable {
		c.pause()
		c.dropSession()
		c.notice(NoticeNetworkUnavailable, c.state.Description())
		return
	}

	c.pause()
	c.attempt++
	attempt := c.attempt
	token := c.identity.Token
	c.dropSession()
	if token == "" {
		c.setState(Disconnected)
		return
	}

	guid := c.identity.InstallID
	submitted := c.io.TrySubmit(func() {
		ctx, cancel := c.requestContext()
		defer cancel()
		err := c.tokens.RevokeToken(ctx, guid, token)
		c.post(func() { c.revokeResult(attempt, err) })
	})
	if !submitted {
		c.connectionFailure("token revoke queue full")
	}
}

func (c *Controller) revokeResult(attempt uint64, err error) {
	if attempt != c.attempt {
		if err != nil && !errors.Is(err, access.ErrTokenNotFound) {
			c.logger.Warnf("Revoke for a previous session failed: %v", err)
		}
		return
	}
	if err != nil && !errors.Is(err, access.ErrTokenNotFound) {
		c.connectionFailure(fmt.Sprintf("token revoke failed: %v", err))
		return
	}
	if err != nil {
		c.logger.Infof("Token already revoked on server")
	}
	c.setState(Disconnecting)
	c.setState(Disconnected)
}

func (c *Controller) setOperatorRole(operator bool) {
	c.logger.Infof("Switching role to operator=%v", operator)
	c.setRole(operator)
	c.terminate()
	c.createSession()
}

// connectionFailure ends the current attempt. An operator falls back to
// observer once and retries; an observer failure is reported.
func (c *Controller) connectionFailure(reason string) {
	c.logger.Warnf("Network connection failed: %s", reason)
	c.attempt++
	c.dropSession()
	if c.reach.IsReachable() {
		c.setState(Disconnected)
	} else {
		c.setState(NetworkUnavailable)
	}

	if c.isOperator {
		c.setRole(false)
		c.notice(NoticeRevertedFromOperator, reason)
		c.createSession()
		return
	}
	c.notice(NoticeConnectionFailed, reason)
}

func (c *Controller) reachabilityChanged(reachable bool) {
	if reachable {
		if c.state == NetworkUnavailable {
			c.setState(Disconnected)
			c.createSession()
		}
		return
	}

	switch c.state {
	case NetworkUnavailable:
	case Disconnected:
		c.setState(NetworkUnavailable)
	default:
		c.attempt++
		c.dropSession()
		c.setState(NetworkUnavailable)
		c.notice(NoticeNetworkUnavailable, "network connection lost")
	}
}

func (c *Controller) onChannelConnect([]byte) {
	if c.state != StartingChannel {
		return
	}
	c.emit(channel.EventAuthentication, authenticationPayload{
		GUID:  c.identity.InstallID,
		Token: c.identity.Token,
	})
}

func (c *Controller) onChannelError(payload []byte) {
	if c.state != StartingChannel && c.state != Connected {
		return
	}
	c.connectionFailure(fmt.Sprintf("channel closed: %s", payload))
}

func (c *Controller) onAuthorized([]byte) {
	c.emit(channel.EventClientRequestData, nil)
}

func (c *Controller) onUnauthorized([]byte) {
	c.connectionFailure("authentication rejected by server")
}

func (c *Controller) onTestClient([]byte) {
	if c.isOperator {
		c.connectionFailure("testClient event received for operator")
		return
	}
	c.confirmRole()
}

func (c *Controller) onTestOperator([]byte) {
	if !c.isOperator {
		c.connectionFailure("testOperator event received for client")
		return
	}
	c.confirmRole()
}

func (c *Controller) onTestRobot([]byte) {
	c.connectionFailure("testRobot event received for client")
}

func (c *Controller) confirmRole() {
	if c.state == StartingChannel {
		c.setState(Connected)
	}
}

func (c *Controller) onTelemetry(payload []byte) {
	applied, err := c.telemetry.Apply(payload)
	if err != nil {
		c.connectionFailure(fmt.Sprintf("malformed telemetry: %v", err))
		return
	}
	if applied > 0 {
		c.notifyTelemetry()
	}
}
