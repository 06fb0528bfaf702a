// Package zeromq exposes the session to a local UI process over a REP socket
// for commands and a PUB socket for updates.
package zeromq

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pebbe/zmq4"

	"github.com/open-teleop/presence/pkg/config"
	customlog "github.com/open-teleop/presence/pkg/log"
)

const (
	pollInterval  = 250 * time.Millisecond
	socketTimeout = time.Second
)

// Service owns the ZeroMQ context and both bridge sockets. The REP socket is
// only touched by the receive goroutine; publishes are serialized by pubMu.
type Service struct {
	ctx        *zmq4.Context
	rep        *zmq4.Socket
	pub        *zmq4.Socket
	dispatcher *Dispatcher
	logger     customlog.Logger

	requestEndpoint string
	publishEndpoint string

	pubMu   sync.Mutex
	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewService binds both sockets. Addresses may use a wildcard port
// ("tcp://127.0.0.1:*"); Endpoints reports the bound addresses.
func NewService(cfg config.ZeroMQBootstrap, logger customlog.Logger) (*Service, error) {
	if logger == nil {
		logger = customlog.Discard()
	}
	ctx, err := zmq4.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ context: %w", err)
	}

	rep, requestEndpoint, err := bindSocket(ctx, zmq4.REP, cfg.RequestBindAddress)
	if err != nil {
		_ = ctx.Term()
		return nil, err
	}
	if err := rep.SetSndtimeo(socketTimeout); err != nil {
		_ = rep.Close()
		_ = ctx.Term()
		return nil, fmt.Errorf("failed to set send timeout: %w", err)
	}

	pub, publishEndpoint, err := bindSocket(ctx, zmq4.PUB, cfg.PublishBindAddress)
	if err != nil {
		_ = rep.Close()
		_ = ctx.Term()
		return nil, err
	}

	logger.Infof("ZeroMQ bridge bound: requests on %s, updates on %s", requestEndpoint, publishEndpoint)
	return &Service{
		ctx:             ctx,
		rep:             rep,
		pub:             pub,
		dispatcher:      NewDispatcher(logger),
		logger:          logger,
		requestEndpoint: requestEndpoint,
		publishEndpoint: publishEndpoint,
		stop:            make(chan struct{}),
	}, nil
}

func bindSocket(ctx *zmq4.Context, kind zmq4.Type, address string) (*zmq4.Socket, string, error) {
	socket, err := ctx.NewSocket(kind)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s socket: %w", kind, err)
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, "", fmt.Errorf("failed to set linger option: %w", err)
	}
	if err := socket.Bind(address); err != nil {
		_ = socket.Close()
		return nil, "", fmt.Errorf("failed to bind to %s: %w", address, err)
	}
	endpoint, err := socket.GetLastEndpoint()
	if err != nil {
		endpoint = address
	}
	return socket, endpoint, nil
}

// Endpoints returns the bound request and publish addresses.
func (s *Service) Endpoints() (request, publish string) {
	return s.requestEndpoint, s.publishEndpoint
}

// Dispatcher returns the request router for handler registration.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatcher
}

// Start launches the receive loop.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.closed {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.receive()
}

func (s *Service) receive() {
	defer s.wg.Done()

	poller := zmq4.NewPoller()
	poller.Add(s.rep, zmq4.POLLIN)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		polled, err := poller.Poll(pollInterval)
		if err != nil {
			s.logger.Warnf("Error polling request socket: %v", err)
			continue
		}
		if len(polled) == 0 {
			continue
		}

		request, err := s.rep.RecvBytes(0)
		if err != nil {
			s.logger.Warnf("Error receiving request: %v", err)
			continue
		}
		reply := s.dispatcher.Dispatch(request)
		if _, err := s.rep.SendBytes(reply, 0); err != nil {
			s.logger.Warnf("Error sending reply: %v", err)
		}
	}
}

// Stop ends the receive loop, closes both sockets and terminates the context.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()

	s.pubMu.Lock()
	_ = s.pub.Close()
	s.pub = nil
	s.pubMu.Unlock()
	_ = s.rep.Close()
	_ = s.ctx.Term()
	s.logger.Infof("ZeroMQ bridge stopped")
}

// Publish sends a two-frame [topic, payload] message.
func (s *Service) Publish(topic string, payload []byte) error {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	if s.pub == nil {
		return ErrServiceClosed
	}
	if _, err := s.pub.Send(topic, zmq4.SNDMORE); err != nil {
		return fmt.Errorf("failed to send topic: %w", err)
	}
	if _, err := s.pub.SendBytes(payload, 0); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// PublishJSON wraps data in a ZeroMQMessage and publishes it.
func (s *Service) PublishJSON(topic, messageType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	msg, err := json.Marshal(ZeroMQMessage{
		Type:      messageType,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Data:      raw,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.Publish(topic, msg)
}
