package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/novapress/edgeworker/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildContentStoreDefaultsToMemory(t *testing.T) {
	store := buildContentStore(testLogger(), config.CacheConfig{Backend: ""})
	require.NotNil(t, store)

	store = buildContentStore(testLogger(), config.CacheConfig{Backend: "carrier-pigeon"})
	require.NotNil(t, store, "unknown backends fall back to memory")
}

func TestBuildContentStoreRedisFallsBackWhenUnreachable(t *testing.T) {
	store := buildContentStore(testLogger(), config.CacheConfig{
		Backend: "redis",
		Redis:   config.RedisCacheConfig{Address: "127.0.0.1:1"},
	})
	require.NotNil(t, store, "an unreachable redis must not take the worker down")
}

func TestBuildOfflineRendererCompilesConfiguredTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "offline.html")
	require.NoError(t, os.WriteFile(path, []byte("<h1>{{ .app }} indisponible</h1>"), 0o600))

	renderer, file := buildOfflineRenderer(config.CacheConfig{OfflineTemplate: path})
	require.Equal(t, "offline.html", file)

	tmpl, err := renderer.CompileFile(file)
	require.NoError(t, err)
	rendered, err := tmpl.Render(map[string]any{"app": "novapress"})
	require.NoError(t, err)
	require.Contains(t, rendered, "novapress indisponible")
}

func TestBuildOfflineRendererWithoutTemplate(t *testing.T) {
	renderer, file := buildOfflineRenderer(config.CacheConfig{})
	require.NotNil(t, renderer)
	require.Empty(t, file)
}

func TestBuildQueueStoreBackends(t *testing.T) {
	store, err := buildQueueStore(testLogger(), config.QueueConfig{Backend: "memory"})
	require.NoError(t, err)
	require.NotNil(t, store)

	dir := t.TempDir()
	store, err = buildQueueStore(testLogger(), config.QueueConfig{
		Backend: "leveldb",
		Path:    filepath.Join(dir, "pending-ops"),
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	require.NoError(t, store.Close())

	_, err = buildQueueStore(testLogger(), config.QueueConfig{Backend: "sqlite"})
	require.Error(t, err)
}
