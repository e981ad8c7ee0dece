package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserForExtension(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.origin.allowedhosts":    "server.origin.allowedHosts",
			"server.origin.timeoutseconds":  "server.origin.timeoutSeconds",
			"server.cache.retentiondays":    "server.cache.retentionDays",
			"server.cache.evictionminutes":  "server.cache.evictionMinutes",
			"server.cache.classoverrides":   "server.cache.classOverrides",
			"server.cache.offlinetemplate":  "server.cache.offlineTemplate",
			"server.cache.redis.tls.cafile": "server.cache.redis.tls.caFile",
			"server.queue.defaulturl":       "server.queue.defaultUrl",
			"server.queue.defaultmethod":    "server.queue.defaultMethod",
			"server.sync.maxattempts":       "server.sync.maxAttempts",
			"server.sync.backoffseconds":    "server.sync.backoffSeconds",
			"server.sync.probeseconds":      "server.sync.probeSeconds",
			"server.update.manifestfile":    "server.update.manifestFile",
			"server.push.defaulttitle":      "server.push.defaultTitle",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores are removed so LISTEN_PORT collapses into listenport
			// when callers choose not to use double underscores for object nesting.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parserForExtension selects the koanf parser matching the file extension so
// operators can author configuration in yaml, json, or toml.
func parserForExtension(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension: %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
			"origin": map[string]any{
				"url":            cfg.Server.Origin.URL,
				"allowedHosts":   cfg.Server.Origin.AllowedHosts,
				"timeoutSeconds": cfg.Server.Origin.TimeoutSeconds,
			},
			"cache": map[string]any{
				"backend":         cfg.Server.Cache.Backend,
				"app":             cfg.Server.Cache.App,
				"version":         cfg.Server.Cache.Version,
				"retentionDays":   cfg.Server.Cache.RetentionDays,
				"evictionMinutes": cfg.Server.Cache.EvictionMinutes,
				"classOverrides":  cfg.Server.Cache.ClassOverrides,
				"offlineTemplate": cfg.Server.Cache.OfflineTemplate,
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
			"queue": map[string]any{
				"backend":       cfg.Server.Queue.Backend,
				"path":          cfg.Server.Queue.Path,
				"defaultUrl":    cfg.Server.Queue.DefaultURL,
				"defaultMethod": cfg.Server.Queue.DefaultMethod,
			},
			"sync": map[string]any{
				"maxAttempts":    cfg.Server.Sync.MaxAttempts,
				"backoffSeconds": cfg.Server.Sync.BackoffSeconds,
				"probeSeconds":   cfg.Server.Sync.ProbeSeconds,
			},
			"update": map[string]any{
				"manifestFile": cfg.Server.Update.ManifestFile,
			},
			"push": map[string]any{
				"defaultTitle": cfg.Server.Push.DefaultTitle,
				"icon":         cfg.Server.Push.Icon,
				"badge":        cfg.Server.Push.Badge,
			},
		},
	}
}
