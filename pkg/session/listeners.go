package session

import "github.com/open-teleop/presence/pkg/channel"

type binding struct {
	event    string
	listener *channel.Listener
}

// eventListeners is created once per granted token. bind and unbind walk the
// same bindings so every On has a matching Off with the same listener.
type eventListeners struct {
	bindings []binding
}

func (c *Controller) newListeners() *eventListeners {
	l := &eventListeners{}

	handlers := []struct {
		event  string
		handle func(payload []byte)
	}{
		{channel.EventConnect, c.onChannelConnect},
		{channel.EventConnectError, c.onChannelError},
		{channel.EventDisconnect, c.onChannelError},
		{channel.EventAuthorized, c.onAuthorized},
		{channel.EventUnauthorized, c.onUnauthorized},
		{channel.EventTestClient, c.onTestClient},
		{channel.EventTestOperator, c.onTestOperator},
		{channel.EventTestRobot, c.onTestRobot},
		{channel.EventClientDataReceived, c.onTelemetry},
		{channel.EventRobotSendSessionInfo, c.onTelemetry},
		{channel.EventClientUpdateData, c.onTelemetry},
	}
	for _, h := range handlers {
		l.bindings = append(l.bindings, binding{event: h.event, listener: c.mailboxListener(l, h.event, h.handle)})
	}

	l.bindings = append(l.bindings, binding{
		event: channel.EventClientSendVideo,
		listener: channel.NewListener(func(payload []byte) {
			c.video.OnVideoFrame(payload)
		}),
	})
	return l
}

// mailboxListener moves an inbound event onto the mailbox and drops it if the
// listener set has been replaced in the meantime.
func (c *Controller) mailboxListener(owner *eventListeners, event string, handle func([]byte)) *channel.Listener {
	return channel.NewListener(func(payload []byte) {
		c.post(func() {
			if c.listeners != owner {
				c.logger.Debugf("Dropping %s from a previous session", event)
				return
			}
			handle(payload)
		})
	})
}

func (c *Controller) bind() {
	if c.bound || c.channel == nil || c.listeners == nil {
		return
	}
	for _, b := range c.listeners.bindings {
		c.channel.On(b.event, b.listener)
	}
	c.bound = true
}

func (c *Controller) unbind() {
	if !c.bound || c.channel == nil || c.listeners == nil {
		c.bound = false
		return
	}
	for _, b := range c.listeners.bindings {
		c.channel.Off(b.event, b.listener)
	}
	c.bound = false
}
