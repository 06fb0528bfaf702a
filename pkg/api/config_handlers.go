package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/open-teleop/presence/pkg/log"
	"github.com/open-teleop/presence/services"
)

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	profiles services.ProfileService
	logger   customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(profiles services.ProfileService, logger customlog.Logger) *ConfigHandler {
	if profiles == nil {
		panic("ProfileService cannot be nil in NewConfigHandler")
	}
	if logger == nil {
		logger = customlog.Discard()
	}
	return &ConfigHandler{
		profiles: profiles,
		logger:   logger,
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app *fiber.App, profiles services.ProfileService, logger customlog.Logger) {
	h := NewConfigHandler(profiles, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/control", h.handleGetControlProfile)
	apiGroup.Put("/control", h.handleUpdateControlProfile)

	h.logger.Infof("Registered control profile API endpoints under /api/v1/config")
}

// handleGetControlProfile returns the active profile as YAML.
func (h *ConfigHandler) handleGetControlProfile(c *fiber.Ctx) error {
	yamlData, err := h.profiles.GetCurrentProfileYAML()
	if err != nil {
		h.logger.Errorf("Failed to encode control profile: %v", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Failed to retrieve configuration: %v", err),
		})
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateControlProfile replaces the active profile with the YAML body.
func (h *ConfigHandler) handleUpdateControlProfile(c *fiber.Ctx) error {
	switch c.Get(fiber.HeaderContentType) {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		h.logger.Warnf("Control profile PUT with Content-Type %q, parsing as YAML", c.Get(fiber.HeaderContentType))
	}

	body := c.Body()
	if len(body) == 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Request body cannot be empty.",
		})
	}

	if err := h.profiles.UpdateProfile(body); err != nil {
		h.logger.Errorf("Failed to update control profile: %v", err)
		if errors.Is(err, services.ErrInvalidProfile) {
			return c.Status(http.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("Configuration update failed: %v", err),
			})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": fmt.Sprintf("Internal server error during configuration update: %v", err),
		})
	}

	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Control profile updated and applied.",
	})
}
