package syncer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/novapress/edgeworker/internal/metrics"
	"github.com/novapress/edgeworker/internal/offline"
)

// RetryPolicy bounds replay retries. MaxAttempts counts drain passes in which
// an operation failed before it is dropped; Backoff spaces out the retry pass
// scheduled after a drain that left failures behind.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// Options wires the drainer's collaborators.
type Options struct {
	Queue         offline.Store
	Client        *http.Client
	OriginURL     string
	DefaultURL    string
	DefaultMethod string
	Policy        RetryPolicy
	Metrics       *metrics.Recorder
}

// Drainer replays pending offline operations against the backend in strict
// insertion order. Delivery is at-least-once; the backend endpoints are
// expected to tolerate duplicates.
type Drainer struct {
	logger        *slog.Logger
	queue         offline.Store
	client        *http.Client
	origin        string
	defaultURL    string
	defaultMethod string
	policy        RetryPolicy
	metrics       *metrics.Recorder

	mu sync.Mutex
	// attempts tracks failed passes per operation id. It is in-memory on
	// purpose: records in the durable store are never mutated, so counts
	// reset on worker restart and the budget applies per process lifetime.
	attempts map[uint64]int
}

// NewDrainer constructs the replay engine.
func NewDrainer(logger *slog.Logger, opts Options) *Drainer {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	policy := opts.Policy
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	defaultURL := opts.DefaultURL
	if defaultURL == "" {
		defaultURL = "/api/v1/bookmarks"
	}
	defaultMethod := opts.DefaultMethod
	if defaultMethod == "" {
		defaultMethod = http.MethodPost
	}
	return &Drainer{
		logger:        logger.With(slog.String("agent", "sync_drainer")),
		queue:         opts.Queue,
		client:        client,
		origin:        strings.TrimRight(opts.OriginURL, "/"),
		defaultURL:    defaultURL,
		defaultMethod: defaultMethod,
		policy:        policy,
		metrics:       opts.Metrics,
	}
}

// Drain replays every pending operation once, in insertion order. A failing
// operation is logged and left queued without blocking the ones behind it; a
// store failure is propagated so the caller's retry scheduling takes over.
// Drains are serialized; a second invocation waits for the first.
func (d *Drainer) Drain(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ops, err := d.queue.List(ctx)
	if err != nil {
		return fmt.Errorf("syncer: list pending operations: %w", err)
	}
	if d.attempts == nil {
		d.attempts = make(map[uint64]int)
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.replayOne(ctx, op) {
			if err := d.queue.Delete(ctx, op.ID); err != nil {
				return fmt.Errorf("syncer: delete operation %d: %w", op.ID, err)
			}
			delete(d.attempts, op.ID)
			d.metrics.ObserveReplay(metrics.ReplayDelivered)
			continue
		}

		d.attempts[op.ID]++
		if d.attempts[op.ID] >= d.policy.MaxAttempts {
			d.logger.Error("operation exhausted retry budget, dropping",
				slog.Uint64("id", op.ID),
				slog.Int("attempts", d.attempts[op.ID]))
			if err := d.queue.Delete(ctx, op.ID); err != nil {
				return fmt.Errorf("syncer: drop operation %d: %w", op.ID, err)
			}
			delete(d.attempts, op.ID)
			d.metrics.ObserveReplay(metrics.ReplayDropped)
			continue
		}
		d.metrics.ObserveReplay(metrics.ReplayRetained)
	}

	if depth, err := d.queue.Len(ctx); err == nil {
		d.metrics.SetQueueDepth(depth)
	}
	return nil
}

// Pending reports whether operations remain queued after the last drain.
func (d *Drainer) Pending(ctx context.Context) (int, error) {
	return d.queue.Len(ctx)
}

func (d *Drainer) replayOne(ctx context.Context, op offline.PendingOperation) bool {
	targetURL := op.URL
	method := op.Method
	if strings.TrimSpace(targetURL) == "" {
		targetURL = d.defaultURL
		method = d.defaultMethod
	}
	if strings.TrimSpace(method) == "" {
		method = d.defaultMethod
	}

	var body io.Reader
	if len(op.Data) > 0 {
		body = bytes.NewReader(op.Data)
	}
	req, err := http.NewRequestWithContext(ctx, method, d.origin+targetURL, body)
	if err != nil {
		d.logger.Warn("replay request build failed", slog.Uint64("id", op.ID), slog.Any("error", err))
		return false
	}
	if len(op.Data) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("replay failed, keeping operation queued",
			slog.Uint64("id", op.ID),
			slog.String("url", targetURL),
			slog.Any("error", err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.logger.Info("operation replayed",
			slog.Uint64("id", op.ID),
			slog.String("url", targetURL),
			slog.Int("status", resp.StatusCode))
		return true
	}
	d.logger.Warn("backend rejected replay, keeping operation queued",
		slog.Uint64("id", op.ID),
		slog.String("url", targetURL),
		slog.Int("status", resp.StatusCode))
	return false
}
