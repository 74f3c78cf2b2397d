package core

import (
	"fmt"
	"strings"
	"time"
)

type HandshakeConfig struct {
	SessionTTLSeconds int `koanf:"session_ttl_seconds" mapstructure:"session_ttl_seconds"`
}

func (c HandshakeConfig) SessionTTL() time.Duration {
	if c.SessionTTLSeconds <= 0 {
		return defaultHandshakeSessionTTL
	}
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

type SyncConfig struct {
	WindowDays              int `koanf:"window_days" mapstructure:"window_days"`
	FetchTimeoutSeconds     int `koanf:"fetch_timeout_seconds" mapstructure:"fetch_timeout_seconds"`
	ScheduleIntervalSeconds int `koanf:"schedule_interval_seconds" mapstructure:"schedule_interval_seconds"`
}

func (c SyncConfig) FetchTimeout() time.Duration {
	if c.FetchTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// ScheduleInterval paces the recurring sync pass over active integrations.
func (c SyncConfig) ScheduleInterval() time.Duration {
	if c.ScheduleIntervalSeconds <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.ScheduleIntervalSeconds) * time.Second
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	ConnectPage string          `koanf:"connect_page" mapstructure:"connect_page"`
	Handshake   HandshakeConfig `koanf:"handshake" mapstructure:"handshake"`
	Sync        SyncConfig      `koanf:"sync" mapstructure:"sync"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "wearables",
		ConnectPage: "/settings/devices",
		Handshake: HandshakeConfig{
			SessionTTLSeconds: int(defaultHandshakeSessionTTL / time.Second),
		},
		Sync: SyncConfig{
			WindowDays:              7,
			FetchTimeoutSeconds:     15,
			ScheduleIntervalSeconds: 900,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if c.Sync.WindowDays < 0 {
		return fmt.Errorf("core: sync window_days must be >= 0")
	}
	return nil
}
