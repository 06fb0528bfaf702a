// Package access talks to the presence server's credential endpoint.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	customlog "github.com/open-teleop/presence/pkg/log"
)

// Endpoint paths on the presence server.
const (
	AccessPath = "/access"
	TestPath   = "/test"
)

// DefaultTimeout bounds a single credential request.
const DefaultTimeout = 10 * time.Second

var (
	// ErrTokenNotFound is returned by RevokeToken on 404. Callers treat it as
	// an already revoked token.
	ErrTokenNotFound = errors.New("access token not found")

	// ErrMissingToken is returned when a 201 response carries no token.
	ErrMissingToken = errors.New("response did not contain a token")
)

// StatusError reports an unexpected HTTP status from the credential endpoint.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected response code %d", e.Op, e.Code)
}

type tokenRequest struct {
	GUID   string `json:"guid"`
	Secret string `json:"secret"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type revokeRequest struct {
	GUID  string `json:"guid"`
	Token string `json:"token"`
}

// Client performs token request and revoke calls. Calls block; run them off
// any latency-sensitive goroutine.
type Client struct {
	baseURL string
	timeout time.Duration
	logger  customlog.Logger
}

// NewClient creates a client for the server at baseURL (scheme://host[:port]).
func NewClient(baseURL string, timeout time.Duration, logger customlog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = customlog.Discard()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		logger:  logger,
	}
}

// requestTimeout shortens the client timeout to the context deadline.
func (c *Client) requestTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return 0, context.DeadlineExceeded
	}
	return timeout, nil
}

// RequestToken posts {guid, secret} and returns the granted token. Only a 201
// with a token field is a success.
func (c *Client) RequestToken(ctx context.Context, guid, secret string) (string, error) {
	timeout, err := c.requestTimeout(ctx)
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}

	agent := fiber.Post(c.baseURL + AccessPath).
		JSON(tokenRequest{GUID: guid, Secret: secret}).
		Timeout(timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return "", fmt.Errorf("token request: %w", errors.Join(errs...))
	}

	c.logger.Debugf("Response of POST request from server returns code %d", code)
	if code != fiber.StatusCreated {
		c.logger.Warnf("Token request rejected with response code %d", code)
		return "", &StatusError{Op: "token request", Code: code}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil || resp.Token == "" {
		c.logger.Warnf("Token request returned code %d without a token", code)
		return "", ErrMissingToken
	}
	return resp.Token, nil
}

// RevokeToken deletes {guid, token}. 204 is success, 404 is ErrTokenNotFound.
// A 204 that carries a body is logged and still treated as success.
func (c *Client) RevokeToken(ctx context.Context, guid, token string) error {
	timeout, err := c.requestTimeout(ctx)
	if err != nil {
		return fmt.Errorf("token revoke: %w", err)
	}

	agent := fiber.Delete(c.baseURL + AccessPath).
		JSON(revokeRequest{GUID: guid, Token: token}).
		Timeout(timeout)
	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("token revoke: %w", errors.Join(errs...))
	}

	c.logger.Debugf("Response of DELETE request from server returns code %d", code)
	switch code {
	case fiber.StatusNoContent:
		if len(body) > 0 {
			c.logger.Warnf("Token revoke returned no-content status with a %d byte body", len(body))
		}
		return nil
	case fiber.StatusNotFound:
		return ErrTokenNotFound
	default:
		c.logger.Warnf("Token revoke rejected with response code %d", code)
		return &StatusError{Op: "token revoke", Code: code}
	}
}

// CheckOnline reports whether GET /test answers 200.
func (c *Client) CheckOnline(ctx context.Context) bool {
	timeout, err := c.requestTimeout(ctx)
	if err != nil {
		return false
	}
	code, _, errs := fiber.Get(c.baseURL + TestPath).Timeout(timeout).Bytes()
	if len(errs) > 0 {
		c.logger.Debugf("Server check failed: %v", errors.Join(errs...))
		return false
	}
	return code == fiber.StatusOK
}
