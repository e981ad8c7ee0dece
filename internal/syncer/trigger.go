package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sync tags the worker accepts. Anything else is rejected so typos in client
// registrations surface instead of silently draining nothing.
const (
	TagBackgroundSync = "background-sync"
	TagSyncBookmarks  = "sync-bookmarks"
)

// ValidTag reports whether tag names a registered sync event.
func ValidTag(tag string) bool {
	return tag == TagBackgroundSync || tag == TagSyncBookmarks
}

// Trigger turns sync signals and connectivity changes into drain passes. A
// failed pass re-arms itself after the policy backoff; an optional probe loop
// watches the backend and drains when it comes back after an outage.
type Trigger struct {
	logger  *slog.Logger
	drainer *Drainer
	backoff time.Duration
	probe   time.Duration
	origin  string
	client  *http.Client

	mu         sync.Mutex
	retryArmed bool
	online     bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// TriggerOptions configures the trigger.
type TriggerOptions struct {
	Drainer       *Drainer
	Backoff       time.Duration
	ProbeInterval time.Duration
	OriginURL     string
	Client        *http.Client
}

// NewTrigger constructs a trigger around a drainer.
func NewTrigger(logger *slog.Logger, opts TriggerOptions) *Trigger {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	return &Trigger{
		logger:  logger.With(slog.String("agent", "sync_trigger")),
		drainer: opts.Drainer,
		backoff: backoff,
		probe:   opts.ProbeInterval,
		origin:  strings.TrimRight(opts.OriginURL, "/"),
		client:  client,
		online:  true,
		stopCh:  make(chan struct{}),
	}
}

// HandleSignal processes a sync event for the given tag. Unknown tags are an
// error; known tags start a drain pass immediately.
func (t *Trigger) HandleSignal(ctx context.Context, tag string) error {
	if !ValidTag(tag) {
		return fmt.Errorf("syncer: unknown sync tag %q", tag)
	}
	t.logger.Info("sync signal received", slog.String("tag", tag))
	t.drain(ctx)
	return nil
}

// Start launches the connectivity probe loop when an interval is configured.
func (t *Trigger) Start() {
	if t.probe <= 0 {
		return
	}
	t.wg.Add(1)
	go t.probeLoop()
}

// Stop terminates the probe loop and waits for in-flight passes.
func (t *Trigger) Stop() {
	t.stopOnce.Do(func() { close(t.stopCh) })
	t.wg.Wait()
}

func (t *Trigger) drain(ctx context.Context) {
	if err := t.drainer.Drain(ctx); err != nil {
		t.logger.Warn("drain pass failed", slog.Any("error", err))
		t.scheduleRetry()
		return
	}
	if pending, err := t.drainer.Pending(ctx); err == nil && pending > 0 {
		t.logger.Info("operations still pending after drain", slog.Int("pending", pending))
		t.scheduleRetry()
	}
}

// scheduleRetry arms at most one delayed pass at a time.
func (t *Trigger) scheduleRetry() {
	t.mu.Lock()
	if t.retryArmed {
		t.mu.Unlock()
		return
	}
	t.retryArmed = true
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		select {
		case <-time.After(t.backoff):
		case <-t.stopCh:
			return
		}
		t.mu.Lock()
		t.retryArmed = false
		t.mu.Unlock()
		t.drain(context.Background())
	}()
}

func (t *Trigger) probeLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.probe)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.checkConnectivity()
		}
	}
}

// checkConnectivity drains on the offline-to-online transition only, so a
// healthy backend does not cause a replay storm every probe tick.
func (t *Trigger) checkConnectivity() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.origin+"/", nil)
	if err != nil {
		return
	}
	resp, err := t.client.Do(req)
	reachable := err == nil
	if resp != nil {
		resp.Body.Close()
	}

	t.mu.Lock()
	wasOnline := t.online
	t.online = reachable
	t.mu.Unlock()

	if reachable && !wasOnline {
		t.logger.Info("backend reachable again, draining queue")
		t.drain(context.Background())
	}
}
