package config

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds every server-level option for the edge worker.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs owned by the worker lifecycle.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Origin  OriginConfig  `koanf:"origin"`
	Cache   CacheConfig   `koanf:"cache"`
	Queue   QueueConfig   `koanf:"queue"`
	Sync    SyncConfig    `koanf:"sync"`
	Update  UpdateConfig  `koanf:"update"`
	Push    PushConfig    `koanf:"push"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// OriginConfig identifies the backend origin the worker fronts. Requests whose
// fetch metadata or Host header point elsewhere bypass the cache layer
// entirely.
type OriginConfig struct {
	URL            string   `koanf:"url"`
	AllowedHosts   []string `koanf:"allowedHosts"`
	TimeoutSeconds int      `koanf:"timeoutSeconds"`
}

// CacheConfig shapes the named content caches. Version stamps the cache names
// so activation can sweep superseded generations.
type CacheConfig struct {
	Backend         string            `koanf:"backend"`
	App             string            `koanf:"app"`
	Version         string            `koanf:"version"`
	RetentionDays   int               `koanf:"retentionDays"`
	EvictionMinutes int               `koanf:"evictionMinutes"`
	ClassOverrides  map[string]string `koanf:"classOverrides"`
	OfflineTemplate string            `koanf:"offlineTemplate"`
	Redis           RedisCacheConfig  `koanf:"redis"`
}

type RedisCacheConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// QueueConfig controls the durable pending-operations store.
type QueueConfig struct {
	Backend       string `koanf:"backend"`
	Path          string `koanf:"path"`
	DefaultURL    string `koanf:"defaultUrl"`
	DefaultMethod string `koanf:"defaultMethod"`
}

// SyncConfig bounds replay retries. ProbeSeconds enables the connectivity
// probe loop when positive; zero leaves draining to explicit sync signals.
type SyncConfig struct {
	MaxAttempts    int `koanf:"maxAttempts"`
	BackoffSeconds int `koanf:"backoffSeconds"`
	ProbeSeconds   int `koanf:"probeSeconds"`
}

// UpdateConfig points the generation controller at the release manifest. An
// empty manifest path disables update detection.
type UpdateConfig struct {
	ManifestFile string `koanf:"manifestFile"`
}

// PushConfig supplies defaults for rendered notifications.
type PushConfig struct {
	DefaultTitle string `koanf:"defaultTitle"`
	Icon         string `koanf:"icon"`
	Badge        string `koanf:"badge"`
}

// Strategy override values accepted in cache.classOverrides.
const (
	StrategyCacheFirst           = "cache-first"
	StrategyNetworkFirst         = "network-first"
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
)

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if strings.TrimSpace(c.Server.Origin.URL) == "" {
		return errors.New("config: server.origin.url required")
	}
	if c.Server.Origin.TimeoutSeconds < 0 {
		return fmt.Errorf("config: server.origin.timeoutSeconds invalid: %d", c.Server.Origin.TimeoutSeconds)
	}
	if strings.TrimSpace(c.Server.Cache.App) == "" {
		return errors.New("config: server.cache.app required")
	}
	if strings.TrimSpace(c.Server.Cache.Version) == "" {
		return errors.New("config: server.cache.version required")
	}
	if c.Server.Cache.RetentionDays < 0 {
		return fmt.Errorf("config: server.cache.retentionDays invalid: %d", c.Server.Cache.RetentionDays)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	for class, strategy := range c.Server.Cache.ClassOverrides {
		switch strings.TrimSpace(strings.ToLower(strategy)) {
		case StrategyCacheFirst, StrategyNetworkFirst, StrategyStaleWhileRevalidate:
		default:
			return fmt.Errorf("config: server.cache.classOverrides[%s] unsupported strategy: %s", class, strategy)
		}
	}
	queueBackend := strings.TrimSpace(strings.ToLower(c.Server.Queue.Backend))
	switch queueBackend {
	case "", "memory":
	case "leveldb":
		if strings.TrimSpace(c.Server.Queue.Path) == "" {
			return errors.New("config: server.queue.path required for leveldb backend")
		}
	default:
		return fmt.Errorf("config: server.queue.backend unsupported: %s", c.Server.Queue.Backend)
	}
	if c.Server.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("config: server.sync.maxAttempts invalid: %d", c.Server.Sync.MaxAttempts)
	}
	if c.Server.Sync.BackoffSeconds < 0 {
		return fmt.Errorf("config: server.sync.backoffSeconds invalid: %d", c.Server.Sync.BackoffSeconds)
	}
	if c.Server.Sync.ProbeSeconds < 0 {
		return fmt.Errorf("config: server.sync.probeSeconds invalid: %d", c.Server.Sync.ProbeSeconds)
	}
	return nil
}

// DefaultConfig returns the baseline values that align with the design
// defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
			Origin: OriginConfig{
				URL:            "http://localhost:3000",
				TimeoutSeconds: 30,
			},
			Cache: CacheConfig{
				Backend:         "memory",
				App:             "novapress",
				Version:         "v1.0.0",
				RetentionDays:   7,
				EvictionMinutes: 60,
			},
			Queue: QueueConfig{
				Backend:       "leveldb",
				Path:          "./data/pending-ops",
				DefaultURL:    "/api/v1/bookmarks",
				DefaultMethod: "POST",
			},
			Sync: SyncConfig{
				MaxAttempts:    5,
				BackoffSeconds: 30,
			},
			Update: UpdateConfig{
				ManifestFile: "",
			},
			Push: PushConfig{
				DefaultTitle: "NovaPress",
				Icon:         "/icons/icon-192.png",
				Badge:        "/icons/badge-72.png",
			},
		},
	}
}
