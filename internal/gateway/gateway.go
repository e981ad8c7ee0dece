package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/novapress/edgeworker/internal/contentcache"
	"github.com/novapress/edgeworker/internal/metrics"
	"github.com/novapress/edgeworker/internal/offline"
	"github.com/novapress/edgeworker/internal/templates"
)

// Options wires the gateway's collaborators.
type Options struct {
	Store               contentcache.Store
	Queue               offline.Store
	Client              *http.Client
	OriginURL           string
	AllowedHosts        []string
	App                 string
	Version             string
	ClassOverrides      map[string]string
	Renderer            *templates.Renderer
	OfflineTemplateFile string
	Metrics             *metrics.Recorder
}

// Gateway intercepts fetch traffic and applies the per-request-class cache
// strategy against the version-stamped named caches. Mutating requests that
// cannot reach the origin land in the offline queue.
type Gateway struct {
	logger       *slog.Logger
	store        contentcache.Store
	queue        offline.Store
	client       *http.Client
	origin       *url.URL
	allowedHosts map[string]struct{}
	overrides    map[string]string
	offlinePage  *templates.Template
	metrics      *metrics.Recorder
	app          string

	mu      sync.RWMutex
	version string

	bgSem chan struct{}
	wg    sync.WaitGroup
}

// New builds the fetch gateway. The version stamp is swappable at runtime so
// the update controller can roll caches forward on activation.
func New(logger *slog.Logger, opts Options) (*Gateway, error) {
	if opts.Store == nil {
		return nil, errors.New("gateway: content cache store required")
	}
	if opts.Queue == nil {
		return nil, errors.New("gateway: offline queue required")
	}
	origin, err := url.Parse(opts.OriginURL)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("gateway: invalid origin url %q", opts.OriginURL)
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	renderer := opts.Renderer
	if renderer == nil {
		renderer = templates.NewRenderer("")
	}
	offlinePage, err := compileOfflinePage(renderer, opts.OfflineTemplateFile)
	if err != nil {
		return nil, fmt.Errorf("gateway: offline page: %w", err)
	}
	allowed := make(map[string]struct{}, len(opts.AllowedHosts))
	for _, host := range opts.AllowedHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			allowed[host] = struct{}{}
		}
	}
	return &Gateway{
		logger:       logger.With(slog.String("agent", "fetch_gateway")),
		store:        opts.Store,
		queue:        opts.Queue,
		client:       client,
		origin:       origin,
		allowedHosts: allowed,
		overrides:    opts.ClassOverrides,
		offlinePage:  offlinePage,
		metrics:      opts.Metrics,
		app:          opts.App,
		version:      opts.Version,
		bgSem:        make(chan struct{}, 8),
	}, nil
}

// Version reports the cache version stamp currently in effect.
func (g *Gateway) Version() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.version
}

// SetVersion swaps the cache version stamp. Called by the update controller
// when a new generation activates; subsequent requests read and write the new
// generation's named caches.
func (g *Gateway) SetVersion(version string) {
	g.mu.Lock()
	g.version = version
	g.mu.Unlock()
}

func (g *Gateway) cacheName(destination string) string {
	g.mu.RLock()
	namer := contentcache.Namer{App: g.app, Version: g.version}
	g.mu.RUnlock()
	return namer.Name(CacheClass(destination))
}

// Close waits for in-flight background revalidations to settle.
func (g *Gateway) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeFetch dispatches one intercepted request through the routing rule and
// the selected strategy.
func (g *Gateway) ServeFetch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	dest := Destination(r)
	same := SameOrigin(r, g.allowedHosts)
	strategy := Classify(r.Method, same, dest, g.overrides)

	switch strategy {
	case StrategyCacheFirst:
		g.serveCacheFirst(w, r, dest, start)
	case StrategyNetworkFirst:
		g.serveNetworkFirst(w, r, dest, start)
	case StrategyStaleWhileRevalidate:
		g.serveStaleWhileRevalidate(w, r, dest, start)
	default:
		g.serveBypass(w, r, dest, same, start)
	}
}

type originResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

func (g *Gateway) fetchOrigin(ctx context.Context, method, requestURI string, header http.Header, body []byte) (originResponse, error) {
	target := strings.TrimRight(g.origin.String(), "/") + requestURI
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return originResponse{}, fmt.Errorf("gateway: build origin request: %w", err)
	}
	copyHeader(req.Header, header)
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := g.client.Do(req)
	if err != nil {
		return originResponse{}, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return originResponse{}, err
	}
	out := originResponse{
		Status: resp.StatusCode,
		Header: cloneHeader(resp.Header),
		Body:   payload,
	}
	out.Header.Del("Content-Length")
	return out, nil
}

func (g *Gateway) serveCacheFirst(w http.ResponseWriter, r *http.Request, dest string, start time.Time) {
	name := g.cacheName(dest)
	key := cacheKey(r)

	entry, ok, err := g.store.Match(r.Context(), name, key)
	if err != nil {
		g.logger.Warn("cache match failed", slog.String("cache", name), slog.Any("error", err))
		g.metrics.ObserveCache(name, metrics.CacheOperationMatch, metrics.CacheError)
		ok = false
	} else if ok {
		g.metrics.ObserveCache(name, metrics.CacheOperationMatch, metrics.CacheHit)
	} else {
		g.metrics.ObserveCache(name, metrics.CacheOperationMatch, metrics.CacheMiss)
	}
	if ok {
		g.writeEntry(w, entry, "hit")
		g.metrics.ObserveFetch(dest, string(StrategyCacheFirst), "hit", entry.Status, time.Since(start))
		return
	}

	resp, err := g.fetchOrigin(r.Context(), http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if err != nil {
		if dest == DestImage {
			writePlaceholderImage(w)
			g.metrics.ObserveFetch(dest, string(StrategyCacheFirst), "placeholder", http.StatusOK, time.Since(start))
			return
		}
		g.logger.Warn("origin fetch failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		g.metrics.ObserveFetch(dest, string(StrategyCacheFirst), "error", http.StatusBadGateway, time.Since(start))
		return
	}
	if resp.Status >= 200 && resp.Status < 300 {
		g.putEntry(r.Context(), name, key, resp)
	}
	g.writeLive(w, resp, "miss")
	g.metrics.ObserveFetch(dest, string(StrategyCacheFirst), "miss", resp.Status, time.Since(start))
}

func (g *Gateway) serveNetworkFirst(w http.ResponseWriter, r *http.Request, dest string, start time.Time) {
	name := g.cacheName(dest)
	key := cacheKey(r)

	resp, err := g.fetchOrigin(r.Context(), http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if err == nil {
		// Only a plain 200 refreshes the cache; redirects and partial
		// responses pass through live without being persisted.
		if resp.Status == http.StatusOK {
			g.putEntry(r.Context(), name, key, resp)
		}
		g.writeLive(w, resp, "network")
		g.metrics.ObserveFetch(dest, string(StrategyNetworkFirst), "network", resp.Status, time.Since(start))
		return
	}

	entry, ok, merr := g.store.Match(r.Context(), name, key)
	if merr != nil {
		g.logger.Warn("cache fallback failed", slog.String("cache", name), slog.Any("error", merr))
		g.metrics.ObserveCache(name, metrics.CacheOperationMatch, metrics.CacheError)
		ok = false
	}
	if ok {
		g.metrics.ObserveCache(name, metrics.CacheOperationMatch, metrics.CacheHit)
		g.writeEntry(w, entry, "fallback")
		g.metrics.ObserveFetch(dest, string(StrategyNetworkFirst), "fallback", entry.Status, time.Since(start))
		return
	}
	if dest == DestDocument {
		g.writeOfflinePage(w)
		g.metrics.ObserveFetch(dest, string(StrategyNetworkFirst), "offline", http.StatusServiceUnavailable, time.Since(start))
		return
	}
	g.logger.Warn("origin fetch failed with no cached copy", slog.String("path", r.URL.Path), slog.Any("error", err))
	http.Error(w, "bad gateway", http.StatusBadGateway)
	g.metrics.ObserveFetch(dest, string(StrategyNetworkFirst), "error", http.StatusBadGateway, time.Since(start))
}

func (g *Gateway) serveStaleWhileRevalidate(w http.ResponseWriter, r *http.Request, dest string, start time.Time) {
	name := g.cacheName(dest)
	key := cacheKey(r)

	entry, ok, err := g.store.Match(r.Context(), name, key)
	if err != nil {
		g.logger.Warn("cache match failed", slog.String("cache", name), slog.Any("error", err))
		ok = false
	}
	if ok {
		g.metrics.ObserveCache(name, metrics.CacheOperationMatch, metrics.CacheHit)
		g.writeEntry(w, entry, "stale")
		g.metrics.ObserveFetch(dest, string(StrategyStaleWhileRevalidate), "stale", entry.Status, time.Since(start))
		g.revalidateAsync(name, key, r.URL.RequestURI(), r.Header.Clone())
		return
	}
	g.metrics.ObserveCache(name, metrics.CacheOperationMatch, metrics.CacheMiss)

	resp, ferr := g.fetchOrigin(r.Context(), http.MethodGet, r.URL.RequestURI(), r.Header, nil)
	if ferr != nil {
		if dest == DestDocument {
			g.writeOfflinePage(w)
			g.metrics.ObserveFetch(dest, string(StrategyStaleWhileRevalidate), "offline", http.StatusServiceUnavailable, time.Since(start))
			return
		}
		http.Error(w, "bad gateway", http.StatusBadGateway)
		g.metrics.ObserveFetch(dest, string(StrategyStaleWhileRevalidate), "error", http.StatusBadGateway, time.Since(start))
		return
	}
	if resp.Status == http.StatusOK {
		g.putEntry(r.Context(), name, key, resp)
	}
	g.writeLive(w, resp, "miss")
	g.metrics.ObserveFetch(dest, string(StrategyStaleWhileRevalidate), "miss", resp.Status, time.Since(start))
}

// revalidateAsync refreshes a served-stale entry in the background. The
// semaphore bounds concurrent refreshes; when it is full the refresh is
// skipped rather than queued.
func (g *Gateway) revalidateAsync(name, key, requestURI string, header http.Header) {
	select {
	case g.bgSem <- struct{}{}:
	default:
		return
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer func() { <-g.bgSem }()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		resp, err := g.fetchOrigin(ctx, http.MethodGet, requestURI, header, nil)
		if err != nil || resp.Status != http.StatusOK {
			return
		}
		g.putEntry(ctx, name, key, resp)
	}()
}

func (g *Gateway) serveBypass(w http.ResponseWriter, r *http.Request, dest string, sameOrigin bool, start time.Time) {
	if r.Method != http.MethodGet && sameOrigin {
		g.serveMutation(w, r, dest, start)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	resp, err := g.fetchOrigin(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err != nil {
		http.Error(w, "bad gateway", http.StatusBadGateway)
		g.metrics.ObserveFetch(dest, string(StrategyBypass), "error", http.StatusBadGateway, time.Since(start))
		return
	}
	g.writeLive(w, resp, "bypass")
	g.metrics.ObserveFetch(dest, string(StrategyBypass), "bypass", resp.Status, time.Since(start))
}

// serveMutation proxies a same-origin write. A transport failure records the
// operation in the durable queue and acknowledges with 202 so the client can
// move on; the sync trigger replays it later.
func (g *Gateway) serveMutation(w http.ResponseWriter, r *http.Request, dest string, start time.Time) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	resp, err := g.fetchOrigin(r.Context(), r.Method, r.URL.RequestURI(), r.Header, body)
	if err == nil {
		g.writeLive(w, resp, "bypass")
		g.metrics.ObserveFetch(dest, string(StrategyBypass), "bypass", resp.Status, time.Since(start))
		return
	}

	op := offline.Operation{URL: r.URL.RequestURI(), Method: r.Method}
	if len(body) > 0 && json.Valid(body) {
		op.Data = json.RawMessage(body)
	}
	id, qerr := g.queue.Append(r.Context(), op)
	if qerr != nil {
		g.logger.Error("offline enqueue failed", slog.String("path", r.URL.Path), slog.Any("error", qerr))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		g.metrics.ObserveFetch(dest, string(StrategyBypass), "error", http.StatusBadGateway, time.Since(start))
		return
	}
	if depth, err := g.queue.Len(r.Context()); err == nil {
		g.metrics.SetQueueDepth(depth)
	}
	g.logger.Info("operation queued while offline",
		slog.Uint64("id", id),
		slog.String("method", r.Method),
		slog.String("url", op.URL))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Edgeworker", "queued")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"queued": true, "id": id})
	g.metrics.ObserveFetch(dest, string(StrategyBypass), "queued", http.StatusAccepted, time.Since(start))
}

func (g *Gateway) putEntry(ctx context.Context, name, key string, resp originResponse) {
	entry := contentcache.Entry{
		Status:   resp.Status,
		Header:   cloneHeader(resp.Header),
		Body:     resp.Body,
		StoredAt: time.Now().UTC(),
	}
	if err := g.store.Put(ctx, name, key, entry); err != nil {
		g.logger.Warn("cache put failed", slog.String("cache", name), slog.Any("error", err))
		g.metrics.ObserveCache(name, metrics.CacheOperationPut, metrics.CacheError)
		return
	}
	g.metrics.ObserveCache(name, metrics.CacheOperationPut, metrics.CacheStored)
}

func (g *Gateway) writeEntry(w http.ResponseWriter, entry contentcache.Entry, verdict string) {
	for k, vs := range entry.Header {
		if strings.EqualFold(k, "X-Edgeworker") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Edgeworker", verdict)
	w.WriteHeader(entry.Status)
	_, _ = w.Write(entry.Body)
}

func (g *Gateway) writeLive(w http.ResponseWriter, resp originResponse, verdict string) {
	for k, vs := range resp.Header {
		if strings.EqualFold(k, "X-Edgeworker") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("X-Edgeworker", verdict)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// CacheKey is the canonical entry key shared by the serving path and the
// precache path, so precached assets are found on the first request.
func CacheKey(method, requestURI string) string {
	return method + " " + requestURI
}

func cacheKey(r *http.Request) string {
	return CacheKey(r.Method, r.URL.RequestURI())
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
