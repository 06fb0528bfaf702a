package session

import "github.com/google/uuid"

// Identity identifies one connection attempt. InstallID is stable across
// sessions; ConnectionID is regenerated for every attempt.
type Identity struct {
	InstallID    string
	ConnectionID string
	Token        string
}

// NewInstallID generates an install identifier for devices without one.
func NewInstallID() string {
	return uuid.NewString()
}

func (i *Identity) renew() {
	i.ConnectionID = uuid.NewString()
	i.Token = ""
}

// HasToken reports whether an access token is held.
func (i Identity) HasToken() bool {
	return i.Token != ""
}
