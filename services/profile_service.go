package services

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/open-teleop/presence/pkg/config"
	customlog "github.com/open-teleop/presence/pkg/log"
)

// ErrInvalidProfile wraps every rejection caused by the submitted YAML itself.
var ErrInvalidProfile = errors.New("invalid control profile")

// ProfilePublisher announces profile changes to out-of-process consumers.
type ProfilePublisher interface {
	PublishProfileUpdated(profile *config.ControlProfile) error
}

// ProfileListener is called synchronously with every applied profile.
type ProfileListener func(profile *config.ControlProfile)

// ProfileService manages the operational control profile.
type ProfileService interface {
	LoadProfile() error
	GetCurrentProfile() *config.ControlProfile
	GetCurrentProfileYAML() ([]byte, error)
	UpdateProfile(newProfileYAML []byte) error
	AddListener(l ProfileListener)
	SetPublisher(p ProfilePublisher)
}

type profileService struct {
	profilePath string
	logger      customlog.Logger
	publisher   ProfilePublisher
	listeners   []ProfileListener
	current     *config.ControlProfile
	mu          sync.RWMutex
}

// NewProfileService creates a profile service seeded from profilePath. An
// empty path or a missing file starts from config.DefaultProfile. Updates are
// held in memory and never written back.
func NewProfileService(profilePath string, logger customlog.Logger) (ProfileService, error) {
	if logger == nil {
		logger = customlog.Discard()
	}
	s := &profileService{
		profilePath: profilePath,
		logger:      logger,
		current:     config.DefaultProfile(),
	}
	if err := s.LoadProfile(); err != nil {
		return nil, err
	}
	return s, nil
}

// LoadProfile reads the profile file. A missing file is not an error.
func (s *profileService) LoadProfile() error {
	if s.profilePath == "" {
		return nil
	}

	profile, err := config.LoadProfile(s.profilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Warnf("Control profile %s not found, using defaults", s.profilePath)
			return nil
		}
		return fmt.Errorf("error loading control profile '%s': %w", s.profilePath, err)
	}

	s.mu.Lock()
	s.current = profile
	s.mu.Unlock()
	s.logger.Infof("Loaded control profile %s (version %s)", profile.ProfileID, profile.Version)
	return nil
}

// GetCurrentProfile returns the active profile. Callers must treat it as read-only.
func (s *profileService) GetCurrentProfile() *config.ControlProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// GetCurrentProfileYAML encodes the active profile.
func (s *profileService) GetCurrentProfileYAML() ([]byte, error) {
	return s.GetCurrentProfile().Marshal()
}

// UpdateProfile validates and applies a new profile, then notifies listeners
// and the publisher.
func (s *profileService) UpdateProfile(newProfileYAML []byte) error {
	profile, err := config.ParseProfile(newProfileYAML)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	s.mu.Lock()
	oldID := s.current.ProfileID
	s.current = profile
	listeners := append([]ProfileListener(nil), s.listeners...)
	publisher := s.publisher
	s.mu.Unlock()

	s.logger.Infof("Control profile updated: %s -> %s (version %s)", oldID, profile.ProfileID, profile.Version)

	for _, l := range listeners {
		l(profile)
	}

	if publisher != nil {
		go func() {
			if err := publisher.PublishProfileUpdated(profile); err != nil {
				s.logger.Warnf("Failed to publish profile update notification: %v", err)
			}
		}()
	}
	return nil
}

// AddListener registers a callback for applied profiles.
func (s *profileService) AddListener(l ProfileListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SetPublisher injects the publisher after construction.
func (s *profileService) SetPublisher(p ProfilePublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publisher = p
}
