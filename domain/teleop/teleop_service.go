package teleop

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/presence/pkg/input"
	customlog "github.com/open-teleop/presence/pkg/log"
)

// Command types accepted by CommandHandler.
const (
	CommandVelocity = "velocity"
	CommandMoving   = "moving"
	CommandCamera   = "camera"
	CommandRobot    = "robot"
)

// ErrUnknownCommand is returned for an unrecognised command type.
var ErrUnknownCommand = errors.New("unknown command type")

// Command represents a teleoperation command
type Command struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// TeleopService turns local API commands into rover commands.
type TeleopService struct {
	commander input.Commander
	logger    customlog.Logger
}

// NewTeleopService creates a new teleop service instance
func NewTeleopService(commander input.Commander, logger customlog.Logger) *TeleopService {
	if logger == nil {
		logger = customlog.Discard()
	}
	return &TeleopService{commander: commander, logger: logger}
}

// CommandHandler processes incoming teleop commands
func (s *TeleopService) CommandHandler(c *fiber.Ctx) error {
	var cmd Command
	if err := c.BodyParser(&cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	if err := s.SendCommand(cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status":  "command sent",
		"command": cmd,
	})
}

// SendCommand validates a command and forwards it to the commander.
func (s *TeleopService) SendCommand(cmd Command) error {
	switch cmd.Type {
	case CommandVelocity:
		var step int
		if err := json.Unmarshal(cmd.Value, &step); err != nil {
			return fmt.Errorf("velocity value must be an integer: %w", err)
		}
		return s.commander.SetVelocity(step)
	case CommandMoving:
		var moving bool
		if err := json.Unmarshal(cmd.Value, &moving); err != nil {
			return fmt.Errorf("moving value must be a boolean: %w", err)
		}
		s.commander.SetMoving(moving)
	case CommandCamera, CommandRobot:
		value, err := rotationValue(cmd.Value)
		if err != nil {
			return err
		}
		if cmd.Type == CommandCamera {
			s.commander.SetCameraRotation(value)
		} else {
			s.commander.SetRobotRotation(value)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}
	s.logger.Debugf("Forwarded %s command", cmd.Type)
	return nil
}

func rotationValue(raw json.RawMessage) (float64, error) {
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, fmt.Errorf("rotation value must be a number: %w", err)
	}
	if math.IsNaN(value) || value < -1 || value > 1 {
		return 0, fmt.Errorf("rotation value %v outside [-1, 1]", value)
	}
	return value, nil
}
