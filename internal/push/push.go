package push

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Payload is the notification content carried by a push message.
type Payload struct {
	Title              string `json:"title"`
	Body               string `json:"body"`
	Icon               string `json:"icon,omitempty"`
	Tag                string `json:"tag,omitempty"`
	URL                string `json:"url,omitempty"`
	RequireInteraction bool   `json:"requireInteraction,omitempty"`
}

// Defaults fill the gaps of sparse payloads.
type Defaults struct {
	Title string
	Icon  string
	Badge string
}

// ParsePayload decodes a push message body. Valid JSON maps onto the payload
// fields; anything else degrades to a plain-text body under the default
// title, so a malformed push still reaches the user.
func ParsePayload(raw []byte, defaults Defaults) (Payload, bool) {
	var p Payload
	structured := json.Valid(raw) && json.Unmarshal(raw, &p) == nil && strings.TrimSpace(p.Title) != ""
	if !structured {
		p = Payload{Body: strings.TrimSpace(string(raw))}
	}
	if strings.TrimSpace(p.Title) == "" {
		p.Title = defaults.Title
	}
	if p.Icon == "" {
		p.Icon = defaults.Icon
	}
	return p, structured
}

// Action identifiers rendered on every notification.
const (
	ActionOpen  = "open"
	ActionClose = "close"
)

// Action is a button on a displayed notification.
type Action struct {
	ID    string `json:"action"`
	Title string `json:"title"`
}

// Notification is a payload prepared for display.
type Notification struct {
	Payload
	Badge   string    `json:"badge,omitempty"`
	Actions []Action  `json:"actions,omitempty"`
	ShownAt time.Time `json:"shownAt"`
}

// Notifier displays notifications. Showing a notification whose tag matches a
// visible one replaces it instead of stacking a duplicate.
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Dismiss(ctx context.Context, tag string) error
	Active(ctx context.Context) ([]Notification, error)
}

// Window is an application window the worker controls.
type Window struct {
	ID      string
	URL     string
	Focused bool
}

// Windows focuses, navigates, and opens application windows.
type Windows interface {
	List(ctx context.Context) ([]Window, error)
	Focus(ctx context.Context, id string) error
	Navigate(ctx context.Context, id, url string) error
	Open(ctx context.Context, url string) (Window, error)
}
