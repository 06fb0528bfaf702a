package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadProfile(t *testing.T) {
	tempDir := t.TempDir()

	profileContent := `
version: "1.2"
profile_id: "headset-camera"
lastUpdated: "2024-01-01T00:00:00Z"

control:
  mode: "robot"
  send_rate_hz: 20

targets:
  camera:
    axis: "x"
    max_tilt_degrees: 90
    output_range: 0.8
  robot:
    axis: "z"
    max_tilt_degrees: 100
    output_range: 0.4

joystick:
  backend: "evdev"
  device: "/dev/input/event3"
  x_axes: ["x", "hat_x"]
`

	profilePath := filepath.Join(tempDir, "control_profile.yaml")
	if err := os.WriteFile(profilePath, []byte(profileContent), 0644); err != nil {
		t.Fatalf("Failed to write test profile: %v", err)
	}

	profile, err := LoadProfile(profilePath)
	if err != nil {
		t.Fatalf("LoadProfile failed: %v", err)
	}

	if profile.Version != "1.2" {
		t.Errorf("Expected version 1.2, got %s", profile.Version)
	}
	if profile.ProfileID != "headset-camera" {
		t.Errorf("Expected profile_id headset-camera, got %s", profile.ProfileID)
	}
	if profile.Control.Mode != ModeRobot {
		t.Errorf("Expected mode robot, got %s", profile.Control.Mode)
	}
	if profile.Control.SendRateHz != 20 {
		t.Errorf("Expected send_rate_hz 20, got %d", profile.Control.SendRateHz)
	}
	if profile.Targets.Camera.Axis != "x" || profile.Targets.Camera.MaxTiltDegrees != 90 {
		t.Errorf("Unexpected camera target: %+v", profile.Targets.Camera)
	}
	if profile.Targets.Robot.OutputRange != 0.4 {
		t.Errorf("Expected robot output_range 0.4, got %f", profile.Targets.Robot.OutputRange)
	}
	if len(profile.Joystick.XAxes) != 2 {
		t.Errorf("Expected 2 x axes, got %d", len(profile.Joystick.XAxes))
	}

	// Omitted sections keep their defaults.
	if profile.Integrator.Epsilon != 1.0 {
		t.Errorf("Expected default epsilon 1.0, got %f", profile.Integrator.Epsilon)
	}
	if profile.Integrator.MinRotation != 0.001 {
		t.Errorf("Expected default min_rotation 0.001, got %f", profile.Integrator.MinRotation)
	}
	if len(profile.Joystick.YAxes) != 3 || profile.Joystick.YAxes[0] != "y" {
		t.Errorf("Expected default y axes, got %v", profile.Joystick.YAxes)
	}
	if profile.Joystick.HatAxis != "hat_y" {
		t.Errorf("Expected default hat axis hat_y, got %s", profile.Joystick.HatAxis)
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Expected error for missing profile file, got nil")
	}
	if !strings.Contains(err.Error(), "error reading config file") {
		t.Errorf("Expected read error, got: %v", err)
	}
}

func TestParseProfileValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"unknown mode", "control:\n  mode: \"wheel\"\n", "control.mode"},
		{"zero rate", "control:\n  send_rate_hz: -1\n", "control.send_rate_hz"},
		{"bad camera axis", "targets:\n  camera:\n    axis: \"w\"\n", "targets.camera.axis"},
		{"tilt out of range", "targets:\n  robot:\n    max_tilt_degrees: 270\n", "targets.robot.max_tilt_degrees"},
		{"unknown backend", "joystick:\n  backend: \"hid\"\n", "joystick.backend"},
		{"unknown axis", "joystick:\n  y_axes: [\"y\", \"throttle\"]\n", "joystick"},
		{"flat too large", "joystick:\n  flat: 1.5\n", "joystick.flat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProfile([]byte(tt.content))
			if err == nil {
				t.Fatalf("Expected validation error, got nil")
			}
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("Expected *ValidationError, got %T: %v", err, err)
			}
			if vErr.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, vErr.Field)
			}
		})
	}
}

func TestParseProfileSyntaxError(t *testing.T) {
	_, err := ParseProfile([]byte("control: [unclosed"))
	if err == nil {
		t.Fatal("Expected parse error, got nil")
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		t.Errorf("Expected a parse error, got validation error: %v", err)
	}
	if !strings.Contains(err.Error(), "error parsing config file") {
		t.Errorf("Expected parse error message, got: %v", err)
	}
}

func TestGetTarget(t *testing.T) {
	profile := DefaultProfile()

	camera, ok := profile.GetTarget(TargetCamera)
	if !ok {
		t.Fatal("Expected camera target to exist")
	}
	if camera.OutputRange != 0.8 {
		t.Errorf("Expected camera output range 0.8, got %f", camera.OutputRange)
	}

	robot, ok := profile.GetTarget(TargetRobot)
	if !ok {
		t.Fatal("Expected robot target to exist")
	}
	if robot.OutputRange == camera.OutputRange {
		t.Errorf("Expected camera and robot to have independent scales, both are %f", robot.OutputRange)
	}

	if _, ok := profile.GetTarget("turret"); ok {
		t.Error("Expected unknown target to be absent")
	}
}

func TestLoadBootstrapConfig(t *testing.T) {
	tempDir := t.TempDir()

	bootstrapContent := `
logging:
  level: "debug"

server:
  http_port: 9090

remote:
  server_url: "http://rover.local:3000"
  operator_secret: "op-secret"
  observer_secret: "obs-secret"
  request_timeout_ms: 5000

zeromq:
  request_bind_address: "tcp://*:5555"
  publish_bind_address: "tcp://*:5556"

data:
  directory: "/tmp/presence"
  profile_file: "control_profile.yaml"
`
	if err := os.WriteFile(filepath.Join(tempDir, BootstrapFileName), []byte(bootstrapContent), 0644); err != nil {
		t.Fatalf("Failed to write bootstrap config: %v", err)
	}

	cfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected level debug, got %s", cfg.Logging.Level)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("Expected http_port 9090, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Remote.ServerURL != "http://rover.local:3000" {
		t.Errorf("Expected server_url, got %s", cfg.Remote.ServerURL)
	}
	if cfg.Remote.RequestTimeout().Milliseconds() != 5000 {
		t.Errorf("Expected request timeout 5000ms, got %v", cfg.Remote.RequestTimeout())
	}
	if cfg.Remote.ChannelPath != "/socket" {
		t.Errorf("Expected default channel path /socket, got %s", cfg.Remote.ChannelPath)
	}
	if cfg.Network.ProbeIntervalMs != 2000 {
		t.Errorf("Expected default probe interval 2000, got %d", cfg.Network.ProbeIntervalMs)
	}
	if cfg.Processing.MailboxSize != 256 {
		t.Errorf("Expected default mailbox size 256, got %d", cfg.Processing.MailboxSize)
	}
	if cfg.Data.ProfilePath() != filepath.Join("/tmp/presence", "control_profile.yaml") {
		t.Errorf("Unexpected profile path %s", cfg.Data.ProfilePath())
	}
}

func TestLoadBootstrapConfigMissingFields(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected string
	}{
		{
			name:     "missing server url",
			content:  "remote:\n  observer_secret: \"s\"\ndata:\n  directory: \"/d\"\n  profile_file: \"p.yaml\"\n",
			expected: "remote.server_url",
		},
		{
			name:     "missing observer secret",
			content:  "remote:\n  server_url: \"http://x\"\ndata:\n  directory: \"/d\"\n  profile_file: \"p.yaml\"\n",
			expected: "remote.observer_secret",
		},
		{
			name:     "missing profile file",
			content:  "remote:\n  server_url: \"http://x\"\n  observer_secret: \"s\"\ndata:\n  directory: \"/d\"\n",
			expected: "data.profile_file",
		},
		{
			name:     "half configured zeromq",
			content:  "remote:\n  server_url: \"http://x\"\n  observer_secret: \"s\"\ndata:\n  directory: \"/d\"\n  profile_file: \"p.yaml\"\nzeromq:\n  request_bind_address: \"tcp://*:5555\"\n",
			expected: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			if err := os.WriteFile(filepath.Join(tempDir, BootstrapFileName), []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write bootstrap config: %v", err)
			}
			_, err := LoadBootstrapConfig(tempDir)
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.expected)
			}
			if !strings.Contains(err.Error(), tt.expected) {
				t.Errorf("Expected error containing %q, got: %v", tt.expected, err)
			}
		})
	}
}

func TestBootstrapEnvOverrides(t *testing.T) {
	tempDir := t.TempDir()
	content := "remote:\n  server_url: \"http://x\"\n  observer_secret: \"file-secret\"\ndata:\n  directory: \"/d\"\n  profile_file: \"p.yaml\"\n"
	if err := os.WriteFile(filepath.Join(tempDir, BootstrapFileName), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write bootstrap config: %v", err)
	}

	t.Setenv("PRESENCE_OBSERVER_SECRET", "env-secret")
	t.Setenv("PRESENCE_INSTALL_ID", "install-42")

	cfg, err := LoadBootstrapConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadBootstrapConfig failed: %v", err)
	}
	if cfg.Remote.ObserverSecret != "env-secret" {
		t.Errorf("Expected env override for observer secret, got %s", cfg.Remote.ObserverSecret)
	}
	if cfg.Identity.InstallID != "install-42" {
		t.Errorf("Expected env override for install id, got %s", cfg.Identity.InstallID)
	}
}
