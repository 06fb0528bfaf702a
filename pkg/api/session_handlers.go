package api

import (
	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/pkg/session"
)

// SessionController is the part of session.Controller exposed over HTTP.
type SessionController interface {
	CreateSession()
	Resume()
	Pause()
	Terminate()
	SetOperatorRole(operator bool)
	Status() (session.Status, error)
}

// SessionHandler holds dependencies for the session endpoints.
type SessionHandler struct {
	controller SessionController
	logger     customlog.Logger
}

// RegisterSessionRoutes registers the session API under /api/v1.
func RegisterSessionRoutes(app *fiber.App, controller SessionController, logger customlog.Logger) {
	if logger == nil {
		logger = customlog.Discard()
	}
	h := &SessionHandler{controller: controller, logger: logger}

	v1 := app.Group("/api/v1")
	v1.Get("/session", h.handleGetStatus)
	v1.Get("/telemetry", h.handleGetTelemetry)
	v1.Post("/session/create", h.action("create", controller.CreateSession))
	v1.Post("/session/pause", h.action("pause", controller.Pause))
	v1.Post("/session/resume", h.action("resume", controller.Resume))
	v1.Post("/session/terminate", h.action("terminate", controller.Terminate))
	v1.Put("/session/role", h.handleSetRole)

	logger.Infof("Registered session API endpoints under /api/v1")
}

func (h *SessionHandler) handleGetStatus(c *fiber.Ctx) error {
	status, err := h.controller.Status()
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(status)
}

func (h *SessionHandler) handleGetTelemetry(c *fiber.Ctx) error {
	status, err := h.controller.Status()
	if err != nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return c.JSON(status.Telemetry)
}

// action acknowledges a queued controller operation. The outcome arrives
// later as state events.
func (h *SessionHandler) action(name string, run func()) fiber.Handler {
	return func(c *fiber.Ctx) error {
		h.logger.Debugf("Session %s requested", name)
		run()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "accepted",
			"action": name,
		})
	}
}

func (h *SessionHandler) handleSetRole(c *fiber.Ctx) error {
	var req RoleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if req.Operator == nil {
		return fiber.NewError(fiber.StatusBadRequest, "operator is required")
	}
	h.controller.SetOperatorRole(*req.Operator)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":   "accepted",
		"operator": *req.Operator,
	})
}
