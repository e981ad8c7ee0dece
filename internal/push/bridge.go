package push

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/novapress/edgeworker/internal/metrics"
)

// Options wires the bridge's collaborators.
type Options struct {
	Notifier Notifier
	Windows  Windows
	Defaults Defaults
	Metrics  *metrics.Recorder
}

// Bridge turns push messages into displayed notifications and routes
// notification clicks back into application windows.
type Bridge struct {
	logger   *slog.Logger
	notifier Notifier
	windows  Windows
	defaults Defaults
	metrics  *metrics.Recorder
}

// NewBridge constructs the push bridge. Missing notifier or window backends
// fall back to the in-memory defaults.
func NewBridge(logger *slog.Logger, opts Options) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = NewMemoryNotifier()
	}
	windows := opts.Windows
	if windows == nil {
		windows = NewMemoryWindows()
	}
	defaults := opts.Defaults
	if defaults.Title == "" {
		defaults.Title = "NovaPress"
	}
	return &Bridge{
		logger:   logger.With(slog.String("agent", "push_bridge")),
		notifier: notifier,
		windows:  windows,
		defaults: defaults,
		metrics:  opts.Metrics,
	}
}

// HandlePush parses a raw push message and displays its notification.
func (b *Bridge) HandlePush(ctx context.Context, raw []byte) (Notification, error) {
	payload, structured := ParsePayload(raw, b.defaults)
	result := "structured"
	if !structured {
		result = "text_fallback"
		b.logger.Warn("push payload degraded to text", slog.Int("bytes", len(raw)))
	}
	b.metrics.ObservePush(result)

	n := Notification{
		Payload: payload,
		Badge:   b.defaults.Badge,
		Actions: []Action{
			{ID: ActionOpen, Title: "Ouvrir"},
			{ID: ActionClose, Title: "Fermer"},
		},
		ShownAt: time.Now().UTC(),
	}
	if err := b.notifier.Show(ctx, n); err != nil {
		return Notification{}, fmt.Errorf("push: show notification: %w", err)
	}
	b.logger.Info("notification shown",
		slog.String("title", payload.Title),
		slog.String("tag", payload.Tag))
	return n, nil
}

// Click is a user interaction with a displayed notification.
type Click struct {
	Tag    string `json:"tag,omitempty"`
	Action string `json:"action,omitempty"`
	URL    string `json:"url,omitempty"`
}

// HandleClick dismisses the notification, then routes the open intent: an
// existing application window is focused and navigated to the target, and a
// fresh one is opened when none exists. The close action only dismisses.
// The target URL travels with the displayed notification; clicks only need to
// name the tag, an explicit click URL overrides the stored one.
func (b *Bridge) HandleClick(ctx context.Context, click Click) error {
	target := click.URL
	if click.Tag != "" {
		if target == "" {
			target = b.storedURL(ctx, click.Tag)
		}
		if err := b.notifier.Dismiss(ctx, click.Tag); err != nil {
			b.logger.Warn("dismiss failed", slog.String("tag", click.Tag), slog.Any("error", err))
		}
	}
	if click.Action == ActionClose {
		return nil
	}

	if target == "" {
		target = "/"
	}

	windows, err := b.windows.List(ctx)
	if err != nil {
		return fmt.Errorf("push: list windows: %w", err)
	}
	if len(windows) > 0 {
		win := windows[0]
		for _, w := range windows {
			if w.Focused {
				win = w
				break
			}
		}
		if err := b.windows.Focus(ctx, win.ID); err != nil {
			return fmt.Errorf("push: focus window %s: %w", win.ID, err)
		}
		if err := b.windows.Navigate(ctx, win.ID, target); err != nil {
			return fmt.Errorf("push: navigate window %s: %w", win.ID, err)
		}
		b.logger.Info("click routed to existing window",
			slog.String("window", win.ID),
			slog.String("url", target))
		return nil
	}

	win, err := b.windows.Open(ctx, target)
	if err != nil {
		return fmt.Errorf("push: open window: %w", err)
	}
	b.logger.Info("click opened new window",
		slog.String("window", win.ID),
		slog.String("url", target))
	return nil
}

// storedURL recovers the data URL of the displayed notification carrying the
// clicked tag. It must run before the dismiss drops the notification.
func (b *Bridge) storedURL(ctx context.Context, tag string) string {
	active, err := b.notifier.Active(ctx)
	if err != nil {
		b.logger.Warn("listing notifications failed", slog.String("tag", tag), slog.Any("error", err))
		return ""
	}
	for _, n := range active {
		if n.Tag == tag {
			return n.URL
		}
	}
	return ""
}
