package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "novapress", cfg.Server.Cache.App)
				require.Equal(t, "/api/v1/bookmarks", cfg.Server.Queue.DefaultURL)
				require.Equal(t, 5, cfg.Server.Sync.MaxAttempts)
			},
		},
		{
			name: "merges file overrides",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				path := filepath.Join(dir, "worker.yaml")
				contents := "server:\n  listen:\n    port: 9090\n  cache:\n    version: v2.1.0\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, "v2.1.0", cfg.Server.Cache.Version)
			},
		},
		{
			name: "accepts json configuration",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				path := filepath.Join(dir, "worker.json")
				contents := `{"server":{"origin":{"url":"https://api.novapress.io","allowedHosts":["app.novapress.io"]}}}`
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, "https://api.novapress.io", cfg.Server.Origin.URL)
				require.Equal(t, []string{"app.novapress.io"}, cfg.Server.Origin.AllowedHosts)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				path := filepath.Join(dir, "worker.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				t.Setenv("NOVAPRESS_SERVER__LISTEN__PORT", "9091")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
			},
		},
		{
			name: "maps camel case env keys",
			setup: func(t *testing.T) []string {
				t.Setenv("NOVAPRESS_SERVER__SYNC__MAXATTEMPTS", "9")
				t.Setenv("NOVAPRESS_SERVER__QUEUE__DEFAULTURL", "/api/v2/bookmarks")
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9, cfg.Server.Sync.MaxAttempts)
				require.Equal(t, "/api/v2/bookmarks", cfg.Server.Queue.DefaultURL)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				return []string{filepath.Join(dir, "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported extension",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				path := filepath.Join(dir, "worker.ini")
				require.NoError(t, os.WriteFile(path, []byte("port=1"), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
		{
			name: "fails validation on bad strategy override",
			setup: func(t *testing.T) []string {
				dir := t.TempDir()
				path := filepath.Join(dir, "worker.yaml")
				contents := "server:\n  cache:\n    classOverrides:\n      script: cache-only\n"
				require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
				return []string{path}
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			loader := NewLoader("NOVAPRESS", files...)
			cfg, err := loader.Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tc.assert != nil {
				tc.assert(t, cfg)
			}
		})
	}
}
