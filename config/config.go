package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"pinpilot-telemetry/application"
)

type Config struct {
	Device  DeviceConfig  `toml:"device"`
	Link    LinkConfig    `toml:"link"`
	Session SessionConfig `toml:"session"`
	Auth    AuthConfig    `toml:"auth"`
	Metrics MetricsConfig `toml:"metrics"`
}

type DeviceConfig struct {
	ID                  string `toml:"id"`
	StatusTopic         string `toml:"status_topic"`
	HeartbeatTopic      string `toml:"heartbeat_topic"`
	HeartbeatIntervalMs int64  `toml:"heartbeat_interval_ms"`
	TickIntervalMs      int64  `toml:"tick_interval_ms"`
	ReportIntervalMs    int64  `toml:"report_interval_ms"`
}

type LinkConfig struct {
	ProbeAddr         string        `toml:"probe_addr"`
	ProbeTimeoutMs    int64         `toml:"probe_timeout_ms"`
	RecheckIntervalMs int64         `toml:"recheck_interval_ms"`
	MaxRetries        int           `toml:"max_retries"`
	Backoff           BackoffConfig `toml:"backoff"`
}

type SessionConfig struct {
	BrokerURL        string        `toml:"broker_url"`
	Username         string        `toml:"username"`
	Password         string        `toml:"password"`
	QoS              int           `toml:"qos"`
	ConnectTimeoutMs int64         `toml:"connect_timeout_ms"`
	SendTimeoutMs    int64         `toml:"send_timeout_ms"`
	KeepAliveMs      int64         `toml:"keep_alive_ms"`
	OutboxCapacity   int           `toml:"outbox_capacity"`
	Backoff          BackoffConfig `toml:"backoff"`
}

type BackoffConfig struct {
	InitialDelayMs int64   `toml:"initial_delay_ms"`
	Multiplier     float64 `toml:"multiplier"`
	MaxDelayMs     int64   `toml:"max_delay_ms"`
	Jitter         bool    `toml:"jitter"`
}

// AuthConfig enables per-connect token credentials when a secret is
// present; otherwise the session username and password are used as-is.
type AuthConfig struct {
	TokenSecret   string `toml:"token_secret"`
	TokenAudience string `toml:"token_audience"`
	TokenTTLMs    int64  `toml:"token_ttl_ms"`
}

type MetricsConfig struct {
	// Addr exposes the metrics endpoint when non-empty.
	Addr string `toml:"addr"`
}

// Load reads the TOML file at path, fills defaults and validates. An
// empty path yields the default configuration.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func (c *Config) ApplyDefaults() {
	if c.Device.ID == "" {
		c.Device.ID = application.DefaultDeviceID
	}
	if c.Device.StatusTopic == "" {
		c.Device.StatusTopic = application.DefaultStatusTopic
	}
	if c.Device.HeartbeatTopic == "" {
		c.Device.HeartbeatTopic = application.DefaultHeartbeatTopic
	}
	if c.Device.HeartbeatIntervalMs == 0 {
		c.Device.HeartbeatIntervalMs = 5000
	}
	if c.Device.TickIntervalMs == 0 {
		c.Device.TickIntervalMs = 250
	}
	if c.Device.ReportIntervalMs == 0 {
		c.Device.ReportIntervalMs = 30000
	}

	if c.Session.BrokerURL == "" {
		c.Session.BrokerURL = "tcp://192.168.1.10:1883"
	}
	if c.Session.QoS == 0 {
		c.Session.QoS = 1
	}
	if c.Session.ConnectTimeoutMs == 0 {
		c.Session.ConnectTimeoutMs = 30000
	}
	if c.Session.SendTimeoutMs == 0 {
		c.Session.SendTimeoutMs = 5000
	}
	if c.Session.KeepAliveMs == 0 {
		c.Session.KeepAliveMs = 30000
	}
	if c.Session.OutboxCapacity == 0 {
		c.Session.OutboxCapacity = application.DefaultOutboxCapacity
	}
	applyBackoffDefaults(&c.Session.Backoff, 2000, 60000)

	if c.Link.ProbeAddr == "" {
		c.Link.ProbeAddr = brokerHostPort(c.Session.BrokerURL)
	}
	if c.Link.ProbeTimeoutMs == 0 {
		c.Link.ProbeTimeoutMs = 5000
	}
	if c.Link.RecheckIntervalMs == 0 {
		c.Link.RecheckIntervalMs = 60000
	}
	if c.Link.MaxRetries == 0 {
		c.Link.MaxRetries = application.DefaultLinkMaxRetries
	}
	applyBackoffDefaults(&c.Link.Backoff, 250, 5000)

	if c.Auth.TokenAudience == "" {
		c.Auth.TokenAudience = "pinpilot"
	}
	if c.Auth.TokenTTLMs == 0 {
		c.Auth.TokenTTLMs = 3600000
	}
}

func applyBackoffDefaults(b *BackoffConfig, initialMs, maxMs int64) {
	if b.InitialDelayMs == 0 {
		b.InitialDelayMs = initialMs
	}
	if b.Multiplier == 0 {
		b.Multiplier = 2.0
	}
	if b.MaxDelayMs == 0 {
		b.MaxDelayMs = maxMs
	}
}

// brokerHostPort strips the scheme so the broker address doubles as the
// default reachability probe target.
func brokerHostPort(brokerURL string) string {
	addr := brokerURL
	for _, scheme := range []string{"tcp://", "ssl://", "tls://", "ws://", "wss://"} {
		if strings.HasPrefix(addr, scheme) {
			return strings.TrimPrefix(addr, scheme)
		}
	}
	return addr
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Device.ID) == "" {
		return fmt.Errorf("device config missing id")
	}
	if strings.TrimSpace(cfg.Session.BrokerURL) == "" {
		return fmt.Errorf("session config missing broker_url")
	}
	if cfg.Session.QoS < 0 || cfg.Session.QoS > 2 {
		return fmt.Errorf("session config qos out of range: %d", cfg.Session.QoS)
	}
	if strings.TrimSpace(cfg.Link.ProbeAddr) == "" {
		return fmt.Errorf("link config missing probe_addr")
	}
	if cfg.Device.HeartbeatIntervalMs < 0 {
		return fmt.Errorf("device config heartbeat_interval_ms is negative")
	}
	if cfg.Device.TickIntervalMs < 0 {
		return fmt.Errorf("device config tick_interval_ms is negative")
	}
	return nil
}

// ClientID derives a broker client identifier that is unique per
// process run, so a restarted device does not fight its own stale
// session for the identifier.
func (c Config) ClientID() string {
	return fmt.Sprintf("%s-%s", c.Device.ID, uuid.NewString()[:8])
}

func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Device.HeartbeatIntervalMs) * time.Millisecond
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Device.TickIntervalMs) * time.Millisecond
}

func (c Config) ReportInterval() time.Duration {
	return time.Duration(c.Device.ReportIntervalMs) * time.Millisecond
}

func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Link.ProbeTimeoutMs) * time.Millisecond
}

func (c Config) RecheckInterval() time.Duration {
	return time.Duration(c.Link.RecheckIntervalMs) * time.Millisecond
}

func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Session.ConnectTimeoutMs) * time.Millisecond
}

func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.Session.SendTimeoutMs) * time.Millisecond
}

func (c Config) KeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAliveMs) * time.Millisecond
}

func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLMs) * time.Millisecond
}

func (c Config) LinkBackoff() application.BackoffConfig {
	return c.Link.Backoff.toApplication()
}

func (c Config) SessionBackoff() application.BackoffConfig {
	return c.Session.Backoff.toApplication()
}

func (b BackoffConfig) toApplication() application.BackoffConfig {
	return application.BackoffConfig{
		InitialDelay: time.Duration(b.InitialDelayMs) * time.Millisecond,
		Multiplier:   b.Multiplier,
		MaxDelay:     time.Duration(b.MaxDelayMs) * time.Millisecond,
		Jitter:       b.Jitter,
	}
}
