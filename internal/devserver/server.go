// Package devserver is a local presence server: it issues access tokens,
// answers reachability checks and runs a simulated rover behind the event
// channel. It exists for development runs and end-to-end tests.
package devserver

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/open-teleop/presence/pkg/access"
	customlog "github.com/open-teleop/presence/pkg/log"
)

// Roles carried in issued tokens.
const (
	RoleOperator = "operator"
	RoleClient   = "client"
)

// SocketPath is where the event channel is served.
const SocketPath = "/socket"

var (
	errUnknownToken = errors.New("token is not active")
	errGUIDMismatch = errors.New("token was issued to a different guid")
)

// Options configures a Server.
type Options struct {
	OperatorSecretHash []byte
	ObserverSecretHash []byte
	SigningKey         []byte
	TokenTTL           time.Duration
	TelemetryInterval  time.Duration
	SendVideo          bool
	Logger             customlog.Logger
}

// Claims are the JWT claims of an access token. Subject is the guid.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type accessRequest struct {
	GUID   string `json:"guid"`
	Secret string `json:"secret"`
	Token  string `json:"token"`
}

// Server holds issued tokens, open channel sessions and the rover.
type Server struct {
	opts   Options
	logger customlog.Logger
	rover  *Rover

	mu       sync.Mutex
	tokens   map[string]string
	sessions map[*socketSession]struct{}
}

// HashSecret hashes a shared secret for Options.
func HashSecret(secret string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
}

// New creates a server. Both secret hashes and the signing key are required.
func New(opts Options) (*Server, error) {
	if len(opts.OperatorSecretHash) == 0 || len(opts.ObserverSecretHash) == 0 {
		return nil, errors.New("devserver requires operator and observer secret hashes")
	}
	if len(opts.SigningKey) == 0 {
		return nil, errors.New("devserver requires a signing key")
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = customlog.Discard()
	}
	return &Server{
		opts:     opts,
		logger:   opts.Logger,
		rover:    NewRover(),
		tokens:   make(map[string]string),
		sessions: make(map[*socketSession]struct{}),
	}, nil
}

// Rover returns the simulated rover.
func (s *Server) Rover() *Rover {
	return s.rover
}

// Register mounts the server routes on app.
func (s *Server) Register(app *fiber.App) {
	app.Post(access.AccessPath, s.handleRequestToken)
	app.Delete(access.AccessPath, s.handleRevokeToken)
	app.Get(access.TestPath, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "online"})
	})
	app.Use(SocketPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(SocketPath, websocket.New(s.serveSocket))
}

func (s *Server) handleRequestToken(c *fiber.Ctx) error {
	var req accessRequest
	if err := c.BodyParser(&req); err != nil || req.GUID == "" || req.Secret == "" {
		return fiber.NewError(fiber.StatusBadRequest, "guid and secret are required")
	}

	role, ok := s.roleForSecret(req.Secret)
	if !ok {
		s.logger.Warnf("Rejected token request from %s", req.GUID)
		return fiber.NewError(fiber.StatusUnauthorized, "invalid secret")
	}

	token, err := s.issue(req.GUID, role)
	if err != nil {
		return err
	}
	s.logger.Infof("Issued %s token to %s", role, req.GUID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"token": token})
}

func (s *Server) roleForSecret(secret string) (string, bool) {
	if bcrypt.CompareHashAndPassword(s.opts.OperatorSecretHash, []byte(secret)) == nil {
		return RoleOperator, true
	}
	if bcrypt.CompareHashAndPassword(s.opts.ObserverSecretHash, []byte(secret)) == nil {
		return RoleClient, true
	}
	return "", false
}

func (s *Server) issue(guid, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   guid,
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.SigningKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	s.mu.Lock()
	s.tokens[token] = guid
	s.mu.Unlock()
	return token, nil
}

func (s *Server) handleRevokeToken(c *fiber.Ctx) error {
	var req accessRequest
	if err := c.BodyParser(&req); err != nil || req.Token == "" {
		return fiber.NewError(fiber.StatusBadRequest, "guid and token are required")
	}

	s.mu.Lock()
	guid, ok := s.tokens[req.Token]
	if ok && guid == req.GUID {
		delete(s.tokens, req.Token)
	}
	var closing []*socketSession
	for sess := range s.sessions {
		if sess.token == req.Token {
			closing = append(closing, sess)
		}
	}
	s.mu.Unlock()

	if !ok || guid != req.GUID {
		return c.SendStatus(fiber.StatusNotFound)
	}
	for _, sess := range closing {
		sess.close()
	}
	s.logger.Infof("Revoked token of %s", req.GUID)
	return c.SendStatus(fiber.StatusNoContent)
}

// verify checks an authentication payload and returns the token's role.
func (s *Server) verify(guid, token string) (string, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.opts.SigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	s.mu.Lock()
	owner, ok := s.tokens[token]
	s.mu.Unlock()
	if !ok {
		return "", errUnknownToken
	}
	if owner != guid || claims.Subject != guid {
		return "", errGUIDMismatch
	}
	return claims.Role, nil
}

func (s *Server) track(sess *socketSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *Server) untrack(sess *socketSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// SessionCount returns the number of open channel connections.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
