package update

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/novapress/edgeworker/internal/contentcache"
	"github.com/novapress/edgeworker/internal/gateway"
)

type versionStub struct {
	mu sync.Mutex
	v  string
}

func (s *versionStub) Version() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func (s *versionStub) SetVersion(v string) {
	s.mu.Lock()
	s.v = v
	s.mu.Unlock()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func assetOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>shell</html>"))
		case "/app.js":
			w.Header().Set("Content-Type", "application/javascript")
			_, _ = w.Write([]byte("console.log('v')"))
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 0x50, 0x4e, 0x47})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newController(t *testing.T, store contentcache.Store, gw VersionSwapper, origin string, onReload func()) *Controller {
	t.Helper()
	c, err := NewController(testLogger(), ControllerOptions{
		Store:     store,
		Gateway:   gw,
		Client:    &http.Client{Timeout: 5 * time.Second},
		OriginURL: origin,
		App:       "novapress",
		OnReload:  onReload,
	})
	require.NoError(t, err)
	return c
}

func TestInstallColdStartActivatesImmediately(t *testing.T) {
	origin := assetOrigin(t)
	store := contentcache.NewMemory()
	gw := &versionStub{}
	c := newController(t, store, gw, origin.URL, nil)

	m := Manifest{Version: "v1.0.0", Precache: []string{"/", "/app.js", "/logo.png"}}
	require.NoError(t, c.Install(context.Background(), m))

	assert.Equal(t, "v1.0.0", gw.Version())
	snap := c.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Empty(t, snap.Waiting)

	ctx := context.Background()
	entry, ok, err := store.Match(ctx, "novapress-v1.0.0-runtime", gateway.CacheKey(http.MethodGet, "/app.js"))
	require.NoError(t, err)
	require.True(t, ok, "script must be precached in the runtime cache")
	assert.Equal(t, http.StatusOK, entry.Status)

	_, ok, err = store.Match(ctx, "novapress-v1.0.0-static", gateway.CacheKey(http.MethodGet, "/logo.png"))
	require.NoError(t, err)
	assert.True(t, ok, "image must be precached in the static cache")
}

func TestInstallParksNewReleaseUntilPromoted(t *testing.T) {
	origin := assetOrigin(t)
	store := contentcache.NewMemory()
	gw := &versionStub{v: "v1.0.0"}
	c := newController(t, store, gw, origin.URL, nil)

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "novapress-v1.0.0-runtime", "GET /", contentcache.Entry{
		Status: http.StatusOK, Body: []byte("old shell"), StoredAt: time.Now(),
	}))

	m := Manifest{Version: "v2.0.0", Precache: []string{"/index.html"}}
	require.NoError(t, c.Install(ctx, m))

	assert.Equal(t, "v1.0.0", gw.Version(), "waiting release must not serve yet")
	snap := c.Snapshot()
	assert.Equal(t, StateWaiting, snap.State)
	assert.Equal(t, "v2.0.0", snap.Waiting)

	require.NoError(t, c.Promote(ctx, false))
	assert.Equal(t, "v2.0.0", gw.Version())

	names, err := store.CacheNames(ctx)
	require.NoError(t, err)
	for _, name := range names {
		assert.NotContains(t, name, "v1.0.0", "superseded caches must be swept on activation")
	}
}

func TestPromoteWithoutWaitingIsSilentNoOp(t *testing.T) {
	origin := assetOrigin(t)
	var reloads atomic.Int32
	gw := &versionStub{v: "v1.0.0"}
	c := newController(t, contentcache.NewMemory(), gw, origin.URL, func() { reloads.Add(1) })

	require.NoError(t, c.Promote(context.Background(), true))
	assert.Equal(t, "v1.0.0", gw.Version())
	assert.Zero(t, reloads.Load(), "no waiting release, no reload")
}

func TestReloadFiresOnlyForUserInitiatedActivation(t *testing.T) {
	origin := assetOrigin(t)
	store := contentcache.NewMemory()
	var reloads atomic.Int32
	gw := &versionStub{v: "v1.0.0"}
	c := newController(t, store, gw, origin.URL, func() { reloads.Add(1) })

	ctx := context.Background()
	require.NoError(t, c.Install(ctx, Manifest{Version: "v2.0.0", Precache: []string{"/"}}))
	require.NoError(t, c.Promote(ctx, false))
	assert.Zero(t, reloads.Load(), "automatic activation must not reload clients")

	require.NoError(t, c.Install(ctx, Manifest{Version: "v3.0.0", Precache: []string{"/"}}))
	require.NoError(t, c.Promote(ctx, true))
	assert.Equal(t, int32(1), reloads.Load())

	// The waiting slot is consumed; promoting again does nothing.
	require.NoError(t, c.Promote(ctx, true))
	assert.Equal(t, int32(1), reloads.Load())
}

func TestConcurrentPromotesActivateExactlyOnce(t *testing.T) {
	origin := assetOrigin(t)
	store := contentcache.NewMemory()
	var reloads atomic.Int32
	gw := &versionStub{v: "v1.0.0"}
	c := newController(t, store, gw, origin.URL, func() { reloads.Add(1) })

	ctx := context.Background()
	require.NoError(t, c.Install(ctx, Manifest{Version: "v2.0.0", Precache: []string{"/"}}))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Promote(ctx, true)
		}()
	}
	wg.Wait()

	assert.Equal(t, "v2.0.0", gw.Version())
	assert.Equal(t, int32(1), reloads.Load(), "only the promotion that claims the waiting slot may reload")
}

func TestInstallFailureDiscardsIncompleteGeneration(t *testing.T) {
	origin := assetOrigin(t)
	store := contentcache.NewMemory()
	gw := &versionStub{v: "v1.0.0"}
	c := newController(t, store, gw, origin.URL, nil)

	ctx := context.Background()
	err := c.Install(ctx, Manifest{Version: "v2.0.0", Precache: []string{"/", "/missing.js"}})
	require.Error(t, err)

	assert.Equal(t, "v1.0.0", gw.Version())
	names, err := store.CacheNames(ctx)
	require.NoError(t, err)
	for _, name := range names {
		assert.NotContains(t, name, "v2.0.0", "failed install must leave no caches behind")
	}
	snap := c.Snapshot()
	assert.Equal(t, StateActive, snap.State)
	assert.Empty(t, snap.Waiting)
}

func TestInstallKnownVersionIsNoOp(t *testing.T) {
	origin := assetOrigin(t)
	store := contentcache.NewMemory()
	gw := &versionStub{v: "v1.0.0"}
	c := newController(t, store, gw, origin.URL, nil)

	ctx := context.Background()
	require.NoError(t, c.Install(ctx, Manifest{Version: "v1.0.0", Precache: []string{"/"}}))
	names, err := store.CacheNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, names, "re-announcing the active version must not touch storage")
}

func TestSubscribersSeeLifecycleTransitions(t *testing.T) {
	origin := assetOrigin(t)
	store := contentcache.NewMemory()
	gw := &versionStub{v: "v1.0.0"}
	c := newController(t, store, gw, origin.URL, nil)

	events := make(chan Event, 16)
	c.Subscribe(func(ev Event) { events <- ev })

	ctx := context.Background()
	require.NoError(t, c.Install(ctx, Manifest{Version: "v2.0.0", Precache: []string{"/"}}))
	require.NoError(t, c.Promote(ctx, false))

	var states []State
	deadline := time.After(2 * time.Second)
	for len(states) < 4 {
		select {
		case ev := <-events:
			states = append(states, ev.State)
		case <-deadline:
			t.Fatalf("timed out waiting for lifecycle events, got %v", states)
		}
	}
	assert.Equal(t, []State{StateInstalling, StateWaiting, StateActivating, StateActive}, states)
}
