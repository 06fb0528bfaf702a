package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BootstrapFileName is the bootstrap file looked up in the config directory.
const BootstrapFileName = "presence_config.yaml"

// BootstrapConfig holds the settings read once at start from presence_config.yaml.
type BootstrapConfig struct {
	Logging    LoggingConfig         `yaml:"logging"`
	Server     BootstrapServerConfig `yaml:"server"`
	Remote     RemoteConfig          `yaml:"remote"`
	Identity   IdentityConfig        `yaml:"identity"`
	Network    NetworkConfig         `yaml:"network"`
	ZeroMQ     ZeroMQBootstrap       `yaml:"zeromq"`
	NATS       NATSConfig            `yaml:"nats"`
	Data       DataConfig            `yaml:"data"`
	Processing ProcessingConfig      `yaml:"processing"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogPath string `yaml:"log_path,omitempty"`
}

// BootstrapServerConfig holds the local control API settings.
type BootstrapServerConfig struct {
	HTTPPort int `yaml:"http_port"`
}

// RemoteConfig describes the presence server: credential endpoint and event channel.
type RemoteConfig struct {
	ServerURL        string `yaml:"server_url"`
	ChannelPath      string `yaml:"channel_path"`
	OperatorSecret   string `yaml:"operator_secret"`
	ObserverSecret   string `yaml:"observer_secret"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
	PingIntervalMs   int    `yaml:"ping_interval_ms"`
	PongWaitMs       int    `yaml:"pong_wait_ms"`
}

// IdentityConfig pins the per-install identifier. Empty means generate one at start.
type IdentityConfig struct {
	InstallID string `yaml:"install_id"`
}

// NetworkConfig configures the reachability monitor.
type NetworkConfig struct {
	ProbeIntervalMs int  `yaml:"probe_interval_ms"`
	ProbeServer     bool `yaml:"probe_server"`
}

// ZeroMQBootstrap holds the UI bridge sockets. Both empty disables the bridge.
type ZeroMQBootstrap struct {
	RequestBindAddress string `yaml:"request_bind_address"`
	PublishBindAddress string `yaml:"publish_bind_address"`
}

// NATSConfig configures the optional telemetry relay. Empty URL disables it.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// ProcessingConfig sizes the controller's task pools.
type ProcessingConfig struct {
	MailboxSize int `yaml:"mailbox_size"`
	IOWorkers   int `yaml:"io_workers"`
	IOQueueSize int `yaml:"io_queue_size"`
}

// DataConfig holds the data directory and the control profile file name.
type DataConfig struct {
	Directory       string `yaml:"directory"`
	ProfileFilename string `yaml:"profile_file"`
}

// ProfilePath joins the data directory and the profile file name.
func (d DataConfig) ProfilePath() string {
	return filepath.Join(d.Directory, d.ProfileFilename)
}

// RequestTimeout returns the credential request timeout.
func (r RemoteConfig) RequestTimeout() time.Duration {
	return time.Duration(r.RequestTimeoutMs) * time.Millisecond
}

// PingInterval returns the channel keepalive interval.
func (r RemoteConfig) PingInterval() time.Duration {
	return time.Duration(r.PingIntervalMs) * time.Millisecond
}

// PongWait returns how long the channel waits for any frame before giving up.
func (r RemoteConfig) PongWait() time.Duration {
	return time.Duration(r.PongWaitMs) * time.Millisecond
}

// ProbeInterval returns the reachability polling interval.
func (n NetworkConfig) ProbeInterval() time.Duration {
	return time.Duration(n.ProbeIntervalMs) * time.Millisecond
}

// LoadBootstrapConfig loads presence_config.yaml from configDir, applies
// environment overrides and defaults, and validates required fields.
func LoadBootstrapConfig(configDir string) (*BootstrapConfig, error) {
	bootstrapConfigPath := filepath.Join(configDir, BootstrapFileName)

	data, err := os.ReadFile(bootstrapConfigPath)
	if err != nil {
		return nil, fmt.Errorf("error reading bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	var bootstrapCfg BootstrapConfig
	if err := yaml.Unmarshal(data, &bootstrapCfg); err != nil {
		return nil, fmt.Errorf("error parsing bootstrap config file '%s': %w", bootstrapConfigPath, err)
	}

	bootstrapCfg.applyEnvOverrides()
	bootstrapCfg.applyDefaults()

	if err := bootstrapCfg.Validate(); err != nil {
		return nil, err
	}
	return &bootstrapCfg, nil
}

// Validate checks the fields the client cannot run without.
func (b *BootstrapConfig) Validate() error {
	if b.Remote.ServerURL == "" {
		return fmt.Errorf("missing required field in bootstrap config: remote.server_url")
	}
	if b.Remote.ObserverSecret == "" {
		return fmt.Errorf("missing required field in bootstrap config: remote.observer_secret")
	}
	if b.Data.Directory == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.directory")
	}
	if b.Data.ProfileFilename == "" {
		return fmt.Errorf("missing required field in bootstrap config: data.profile_file")
	}
	if (b.ZeroMQ.RequestBindAddress == "") != (b.ZeroMQ.PublishBindAddress == "") {
		return fmt.Errorf("zeromq.request_bind_address and zeromq.publish_bind_address must be set together")
	}
	return nil
}

// applyEnvOverrides lets deployments keep secrets out of the YAML file.
func (b *BootstrapConfig) applyEnvOverrides() {
	if v := os.Getenv("PRESENCE_SERVER_URL"); v != "" {
		b.Remote.ServerURL = v
	}
	if v := os.Getenv("PRESENCE_OPERATOR_SECRET"); v != "" {
		b.Remote.OperatorSecret = v
	}
	if v := os.Getenv("PRESENCE_OBSERVER_SECRET"); v != "" {
		b.Remote.ObserverSecret = v
	}
	if v := os.Getenv("PRESENCE_INSTALL_ID"); v != "" {
		b.Identity.InstallID = v
	}
}

func (b *BootstrapConfig) applyDefaults() {
	if b.Logging.Level == "" {
		b.Logging.Level = "info"
	}
	if b.Server.HTTPPort == 0 {
		b.Server.HTTPPort = 8080
	}
	if b.Remote.ChannelPath == "" {
		b.Remote.ChannelPath = "/socket"
	}
	if b.Remote.RequestTimeoutMs == 0 {
		b.Remote.RequestTimeoutMs = 10000
	}
	if b.Remote.PingIntervalMs == 0 {
		b.Remote.PingIntervalMs = 15000
	}
	if b.Remote.PongWaitMs == 0 {
		b.Remote.PongWaitMs = 45000
	}
	if b.Network.ProbeIntervalMs == 0 {
		b.Network.ProbeIntervalMs = 2000
	}
	if b.NATS.SubjectPrefix == "" {
		b.NATS.SubjectPrefix = "presence"
	}
	if b.Processing.MailboxSize == 0 {
		b.Processing.MailboxSize = 256
	}
	if b.Processing.IOWorkers == 0 {
		b.Processing.IOWorkers = 2
	}
	if b.Processing.IOQueueSize == 0 {
		b.Processing.IOQueueSize = 16
	}
}
