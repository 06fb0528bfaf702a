package services

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/open-teleop/presence/pkg/config"
)

type recordingPublisher struct {
	published chan string
}

func (p *recordingPublisher) PublishProfileUpdated(profile *config.ControlProfile) error {
	p.published <- profile.ProfileID
	return nil
}

const robotProfile = `
profile_id: "robot-mode"
version: "1.1"
control:
  mode: robot
  send_rate_hz: 10
`

func TestNewProfileServiceMissingFileUsesDefaults(t *testing.T) {
	s, err := NewProfileService(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatalf("NewProfileService failed: %v", err)
	}
	if s.GetCurrentProfile().ProfileID != "default" {
		t.Errorf("Expected default profile, got %s", s.GetCurrentProfile().ProfileID)
	}
}

func TestNewProfileServiceRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("control: {mode: sideways}"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewProfileService(path, nil); err == nil {
		t.Error("Expected an error for an invalid profile file")
	}
}

func TestUpdateProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("profile_id: seeded\n"), 0644); err != nil {
		t.Fatal(err)
	}
	s, err := NewProfileService(path, nil)
	if err != nil {
		t.Fatalf("NewProfileService failed: %v", err)
	}
	if s.GetCurrentProfile().ProfileID != "seeded" {
		t.Fatalf("Expected seeded profile, got %s", s.GetCurrentProfile().ProfileID)
	}

	var applied []string
	s.AddListener(func(p *config.ControlProfile) { applied = append(applied, p.Control.Mode) })
	publisher := &recordingPublisher{published: make(chan string, 1)}
	s.SetPublisher(publisher)

	if err := s.UpdateProfile([]byte(robotProfile)); err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}

	if len(applied) != 1 || applied[0] != config.ModeRobot {
		t.Errorf("Expected listener to see robot mode, got %v", applied)
	}
	select {
	case id := <-publisher.published:
		if id != "robot-mode" {
			t.Errorf("Expected robot-mode published, got %s", id)
		}
	case <-time.After(time.Second):
		t.Error("Timed out waiting for publish")
	}

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "profile_id: seeded\n" {
		t.Errorf("Expected profile file untouched, got %q (%v)", data, err)
	}

	out, err := s.GetCurrentProfileYAML()
	if err != nil || !strings.Contains(string(out), "send_rate_hz: 10") {
		t.Errorf("Expected current YAML with new rate, got %s (%v)", out, err)
	}
}

func TestUpdateProfileInvalid(t *testing.T) {
	s, _ := NewProfileService("", nil)
	called := false
	s.AddListener(func(*config.ControlProfile) { called = true })

	for _, body := range []string{"profile_id: [", "control: {mode: sideways}"} {
		if err := s.UpdateProfile([]byte(body)); !errors.Is(err, ErrInvalidProfile) {
			t.Errorf("Expected ErrInvalidProfile for %q, got %v", body, err)
		}
	}
	if called {
		t.Error("Expected listeners not to run for rejected profiles")
	}
	if s.GetCurrentProfile().ProfileID != "default" {
		t.Errorf("Expected default profile to remain, got %s", s.GetCurrentProfile().ProfileID)
	}
}
