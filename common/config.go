package common

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Protocol defaults
const (
	DefaultTimeoutMS           = 15_000
	DefaultHeartbeatIntervalMS = 1_000
	DefaultSweepIntervalMS     = 500
	DefaultStatusIntervalMS    = 5_000
	DefaultHandshakeRetries    = 3
	DefaultMaxQueuedFragments  = 50
)

// ProtocolConfig holds the liveness timers shared by client and server.
type ProtocolConfig struct {
	TimeoutMS           int `toml:"timeout_ms"`
	HeartbeatIntervalMS int `toml:"heartbeat_interval_ms"`
	SweepIntervalMS     int `toml:"sweep_interval_ms"`
}

func (c ProtocolConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c ProtocolConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMS) * time.Millisecond
}

func (c ProtocolConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMS) * time.Millisecond
}

func (c *ProtocolConfig) applyDefaults() {
	if c.TimeoutMS == 0 {
		c.TimeoutMS = DefaultTimeoutMS
	}
	if c.HeartbeatIntervalMS == 0 {
		c.HeartbeatIntervalMS = DefaultHeartbeatIntervalMS
	}
	if c.SweepIntervalMS == 0 {
		c.SweepIntervalMS = DefaultSweepIntervalMS
	}
}

func (c ProtocolConfig) Validate() error {
	if c.TimeoutMS <= 0 || c.HeartbeatIntervalMS <= 0 || c.SweepIntervalMS <= 0 {
		return fmt.Errorf("%w: protocol intervals must be positive", ErrInvalidConfig)
	}
	if c.HeartbeatIntervalMS >= c.TimeoutMS {
		return fmt.Errorf("%w: heartbeat_interval_ms (%d) must be shorter than timeout_ms (%d)",
			ErrInvalidConfig, c.HeartbeatIntervalMS, c.TimeoutMS)
	}
	return nil
}

// MetricsConfig holds metrics server configuration
type MetricsConfig struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

// APIServerConfig configures the admin HTTP API of the relay server.
type APIServerConfig struct {
	ListenAddr   string `toml:"listen_addr"`
	DatabasePath string `toml:"database_path"`
	AdminUser    string `toml:"admin_user"`
	// AdminPasswordHash is a bcrypt hash. When empty the API is unauthenticated.
	AdminPasswordHash string `toml:"admin_password_hash"`
}

// ServerConfig holds the relay server configuration from the TOML file
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	LogLevel   string `toml:"log_level"`

	// Sound is the fixed session format handed to every client at handshake.
	Sound    SessionParams  `toml:"sound"`
	Protocol ProtocolConfig `toml:"protocol"`

	// MixIntervalMS is the mixing cadence. Zero derives it from the buffer duration.
	MixIntervalMS       int `toml:"mix_interval_ms"`
	MaxQueuedFragments  int `toml:"max_queued_fragments"`
	MaxPacketsPerSecond int `toml:"max_packets_per_second"`

	APIServer APIServerConfig `toml:"api_server"`
	Metrics   MetricsConfig   `toml:"metrics"`
}

// MixInterval returns the mixing cadence.
func (c ServerConfig) MixInterval() time.Duration {
	if c.MixIntervalMS > 0 {
		return time.Duration(c.MixIntervalMS) * time.Millisecond
	}
	return c.Sound.BufferDuration()
}

// ApplyDefaults fills every unset field.
func (c *ServerConfig) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:3333"
	}
	c.Sound = withSoundDefaults(c.Sound)
	c.Protocol.applyDefaults()
	if c.MaxQueuedFragments == 0 {
		c.MaxQueuedFragments = DefaultMaxQueuedFragments
	}
	if c.APIServer.AdminUser == "" {
		c.APIServer.AdminUser = "admin"
	}
}

func (c ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen_addr", ErrMissingConfig)
	}
	if err := c.Sound.Validate(); err != nil {
		return fmt.Errorf("sound: %w", err)
	}
	if err := c.Protocol.Validate(); err != nil {
		return err
	}
	if c.MixIntervalMS < 0 || c.MaxQueuedFragments < 0 || c.MaxPacketsPerSecond < 0 {
		return fmt.Errorf("%w: mix_interval_ms, max_queued_fragments and max_packets_per_second must not be negative", ErrInvalidConfig)
	}
	if c.MixInterval() <= 0 {
		return fmt.Errorf("%w: mixing interval resolves to zero", ErrInvalidConfig)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("%w: metrics.listen_addr", ErrMissingConfig)
	}
	return nil
}

// Client audio devices
const (
	DeviceSilence = "silence"
	DeviceTone    = "tone"
)

// ClientConfig holds the client configuration from the TOML file
type ClientConfig struct {
	ServerAddr  string `toml:"server_addr"`
	DisplayName string `toml:"display_name"`
	LogLevel    string `toml:"log_level"`
	Muted       bool   `toml:"muted"`
	Device      string `toml:"device"`

	HandshakeRetries int `toml:"handshake_retries"`
	StatusIntervalMS int `toml:"status_interval_ms"`

	// Sound holds local defaults used only until the server's handshake reply.
	Sound    SessionParams  `toml:"sound"`
	Protocol ProtocolConfig `toml:"protocol"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

func (c ClientConfig) StatusInterval() time.Duration {
	return time.Duration(c.StatusIntervalMS) * time.Millisecond
}

// ApplyDefaults fills every unset field.
func (c *ClientConfig) ApplyDefaults() {
	if c.Device == "" {
		c.Device = DeviceSilence
	}
	if c.HandshakeRetries == 0 {
		c.HandshakeRetries = DefaultHandshakeRetries
	}
	if c.StatusIntervalMS == 0 {
		c.StatusIntervalMS = DefaultStatusIntervalMS
	}
	c.Sound = withSoundDefaults(c.Sound)
	c.Protocol.applyDefaults()
}

func (c ClientConfig) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("%w: server_addr", ErrMissingConfig)
	}
	if c.DisplayName == "" {
		return fmt.Errorf("%w: display_name", ErrMissingConfig)
	}
	switch c.Device {
	case DeviceSilence, DeviceTone:
	default:
		return fmt.Errorf("%w: unknown device %q", ErrInvalidConfig, c.Device)
	}
	if c.HandshakeRetries < 1 || c.StatusIntervalMS < 0 {
		return fmt.Errorf("%w: handshake_retries must be >= 1 and status_interval_ms >= 0", ErrInvalidConfig)
	}
	if err := c.Sound.Validate(); err != nil {
		return fmt.Errorf("sound: %w", err)
	}
	if err := c.Protocol.Validate(); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("%w: metrics.listen_addr", ErrMissingConfig)
	}
	return nil
}

// LoadServerConfig decodes path, applies defaults and validates the result.
func LoadServerConfig(path string) (ServerConfig, error) {
	var cfg ServerConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("error loading config file %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

// LoadClientConfig decodes path, applies defaults and validates the result.
func LoadClientConfig(path string) (ClientConfig, error) {
	var cfg ClientConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return ClientConfig{}, fmt.Errorf("error loading config file %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func withSoundDefaults(p SessionParams) SessionParams {
	def := DefaultSessionParams()
	if p.SampleRate == 0 {
		p.SampleRate = def.SampleRate
	}
	if p.Channels == 0 {
		p.Channels = def.Channels
	}
	if p.WordType == "" {
		p.WordType = def.WordType
	}
	if p.BufferSize == 0 {
		p.BufferSize = def.BufferSize
	}
	return p
}
