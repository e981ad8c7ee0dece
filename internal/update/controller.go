package update

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/novapress/edgeworker/internal/contentcache"
	"github.com/novapress/edgeworker/internal/gateway"
)

// State of the release lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateInstalling State = "installing"
	StateWaiting    State = "waiting"
	StateActivating State = "activating"
	StateActive     State = "active"
)

// VersionSwapper is the slice of the fetch gateway the controller drives: it
// reads the active version stamp and swaps it on activation.
type VersionSwapper interface {
	Version() string
	SetVersion(version string)
}

// Event is delivered to subscribers on every lifecycle transition.
type Event struct {
	State   State
	Version string
}

// Snapshot reports the lifecycle for status endpoints.
type Snapshot struct {
	State   State  `json:"state"`
	Active  string `json:"active"`
	Waiting string `json:"waiting,omitempty"`
}

// ControllerOptions wires the controller's collaborators.
type ControllerOptions struct {
	Store     contentcache.Store
	Gateway   VersionSwapper
	Client    *http.Client
	OriginURL string
	App       string
	// OnReload fires after a user-initiated activation so connected clients
	// can be told to refresh. Automatic activations never fire it.
	OnReload func()
}

// Controller walks a new release through install, waiting and activation.
// A release installs its assets into its own version-stamped caches, then
// parks until promoted; promotion swaps the gateway's version stamp and
// sweeps the superseded generation's caches.
type Controller struct {
	logger   *slog.Logger
	store    contentcache.Store
	gateway  VersionSwapper
	client   *http.Client
	origin   string
	app      string
	onReload func()

	mu      sync.Mutex
	state   State
	waiting string
	subs    []func(Event)
}

// NewController constructs the release lifecycle controller.
func NewController(logger *slog.Logger, opts ControllerOptions) (*Controller, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("update: content cache store required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("update: gateway required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Controller{
		logger:   logger.With(slog.String("agent", "update_controller")),
		store:    opts.Store,
		gateway:  opts.Gateway,
		client:   client,
		origin:   strings.TrimRight(opts.OriginURL, "/"),
		app:      opts.App,
		onReload: opts.OnReload,
		state:    StateIdle,
	}, nil
}

// Subscribe registers a lifecycle listener. Listeners are invoked in
// transition order while the controller lock is held; they must not block and
// must not call back into the controller.
func (c *Controller) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.subs = append(c.subs, fn)
	c.mu.Unlock()
}

// Snapshot reports the current lifecycle state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{State: c.state, Active: c.gateway.Version(), Waiting: c.waiting}
}

// Install walks a manifest through the installing phase: every precache asset
// is fetched into the incoming version's caches. A version already active or
// already waiting is a no-op. When no generation is active yet the release
// activates immediately; otherwise it parks in waiting until promoted.
func (c *Controller) Install(ctx context.Context, m Manifest) error {
	c.mu.Lock()
	active := c.gateway.Version()
	if m.Version == active || m.Version == c.waiting {
		c.mu.Unlock()
		c.logger.Debug("release already known", slog.String("version", m.Version))
		return nil
	}
	if c.state == StateInstalling {
		c.mu.Unlock()
		return fmt.Errorf("update: install of %s already in progress", m.Version)
	}
	c.setStateLocked(StateInstalling, m.Version)
	c.mu.Unlock()

	c.logger.Info("installing release",
		slog.String("version", m.Version),
		slog.Int("assets", len(m.Precache)))

	if err := c.precache(ctx, m); err != nil {
		// An incomplete generation must never serve; discard what landed.
		c.discard(ctx, m.Version)
		c.mu.Lock()
		if c.waiting != "" {
			c.setStateLocked(StateWaiting, c.waiting)
		} else if active != "" {
			c.setStateLocked(StateActive, active)
		} else {
			c.setStateLocked(StateIdle, "")
		}
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	if active == "" {
		// Cold start: nothing is serving yet, take over directly.
		c.mu.Unlock()
		c.logger.Info("no active release, activating immediately", slog.String("version", m.Version))
		return c.activate(ctx, m.Version, false)
	}
	c.waiting = m.Version
	c.setStateLocked(StateWaiting, m.Version)
	c.mu.Unlock()
	c.logger.Info("release installed, waiting for activation", slog.String("version", m.Version))
	return nil
}

// Promote activates the waiting release. Without one it is a silent no-op.
// userInitiated marks activations the user asked for, via the refresh banner
// or a SKIP_WAITING message; only those fire the reload callback. The waiting
// slot is claimed inside the critical section, so concurrent promotions race
// for it and every loser takes the no-op path.
func (c *Controller) Promote(ctx context.Context, userInitiated bool) error {
	c.mu.Lock()
	version := c.waiting
	c.waiting = ""
	c.mu.Unlock()
	if version == "" {
		return nil
	}
	return c.activate(ctx, version, userInitiated)
}

func (c *Controller) activate(ctx context.Context, version string, userInitiated bool) error {
	c.mu.Lock()
	c.setStateLocked(StateActivating, version)
	c.mu.Unlock()

	c.gateway.SetVersion(version)

	namer := contentcache.Namer{App: c.app, Version: version}
	deleted, err := contentcache.SweepStale(ctx, c.store, namer)
	if err != nil {
		c.logger.Warn("stale cache sweep failed", slog.Any("error", err))
	} else if len(deleted) > 0 {
		c.logger.Info("superseded caches removed", slog.Any("caches", deleted))
	}

	c.mu.Lock()
	c.setStateLocked(StateActive, version)
	c.mu.Unlock()
	c.logger.Info("release active", slog.String("version", version), slog.Bool("userInitiated", userInitiated))

	if userInitiated && c.onReload != nil {
		c.onReload()
	}
	return nil
}

func (c *Controller) precache(ctx context.Context, m Manifest) error {
	namer := contentcache.Namer{App: c.app, Version: m.Version}
	for _, asset := range m.Precache {
		entry, err := c.fetchAsset(ctx, asset)
		if err != nil {
			return fmt.Errorf("update: precache %s: %w", asset, err)
		}
		name := namer.Name(gateway.CacheClass(gateway.PathDestination(asset)))
		key := gateway.CacheKey(http.MethodGet, asset)
		if err := c.store.Put(ctx, name, key, entry); err != nil {
			return fmt.Errorf("update: store %s: %w", asset, err)
		}
	}
	return nil
}

func (c *Controller) fetchAsset(ctx context.Context, asset string) (contentcache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.origin+asset, nil)
	if err != nil {
		return contentcache.Entry{}, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	resp, err := c.client.Do(req)
	if err != nil {
		return contentcache.Entry{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return contentcache.Entry{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return contentcache.Entry{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	header := resp.Header.Clone()
	header.Del("Content-Length")
	return contentcache.Entry{
		Status:   resp.StatusCode,
		Header:   header,
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

// discard removes the caches of a generation whose install failed.
func (c *Controller) discard(ctx context.Context, version string) {
	namer := contentcache.Namer{App: c.app, Version: version}
	names, err := c.store.CacheNames(ctx)
	if err != nil {
		c.logger.Warn("listing caches for discard failed", slog.Any("error", err))
		return
	}
	for _, name := range names {
		if !namer.Owns(name) || !namer.Current(name) {
			continue
		}
		if _, err := c.store.DeleteCache(ctx, name); err != nil {
			c.logger.Warn("discarding cache failed", slog.String("cache", name), slog.Any("error", err))
		}
	}
}

// setStateLocked transitions and notifies subscribers; callers hold c.mu.
func (c *Controller) setStateLocked(state State, version string) {
	c.state = state
	ev := Event{State: state, Version: version}
	for _, fn := range c.subs {
		fn(ev)
	}
}
