package push

import (
	"context"
	"fmt"
	"sync"
)

// memoryNotifier keeps displayed notifications in process memory. It is the
// default backend; a real deployment swaps in a transport that reaches the
// client, the dedup and dismissal semantics stay identical.
type memoryNotifier struct {
	mu     sync.Mutex
	seq    int
	shown  []string
	byTag  map[string]Notification
	anonID map[string]struct{}
}

// NewMemoryNotifier builds the in-process notification surface.
func NewMemoryNotifier() Notifier {
	return &memoryNotifier{
		byTag:  make(map[string]Notification),
		anonID: make(map[string]struct{}),
	}
}

func (m *memoryNotifier) Show(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tag := n.Tag
	if tag == "" {
		// Untagged notifications never coalesce; give each a private slot.
		m.seq++
		tag = fmt.Sprintf("~anon-%d", m.seq)
		m.anonID[tag] = struct{}{}
	}
	if _, exists := m.byTag[tag]; !exists {
		m.shown = append(m.shown, tag)
	}
	m.byTag[tag] = n
	return nil
}

func (m *memoryNotifier) Dismiss(_ context.Context, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTag[tag]; !ok {
		return nil
	}
	delete(m.byTag, tag)
	for i, t := range m.shown {
		if t == tag {
			m.shown = append(m.shown[:i], m.shown[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memoryNotifier) Active(_ context.Context) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Notification, 0, len(m.shown))
	for _, tag := range m.shown {
		out = append(out, m.byTag[tag])
	}
	return out, nil
}

// memoryWindows models the set of open application windows.
type memoryWindows struct {
	mu      sync.Mutex
	seq     int
	windows []Window
}

// NewMemoryWindows builds the in-process window registry.
func NewMemoryWindows(initial ...Window) Windows {
	return &memoryWindows{windows: append([]Window(nil), initial...)}
}

func (m *memoryWindows) List(_ context.Context) ([]Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Window(nil), m.windows...), nil
}

func (m *memoryWindows) Focus(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i := range m.windows {
		m.windows[i].Focused = m.windows[i].ID == id
		if m.windows[i].Focused {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("push: no window %s", id)
	}
	return nil
}

func (m *memoryWindows) Navigate(_ context.Context, id, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.windows {
		if m.windows[i].ID == id {
			m.windows[i].URL = url
			return nil
		}
	}
	return fmt.Errorf("push: no window %s", id)
}

func (m *memoryWindows) Open(_ context.Context, url string) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	w := Window{ID: fmt.Sprintf("win-%d", m.seq), URL: url, Focused: true}
	for i := range m.windows {
		m.windows[i].Focused = false
	}
	m.windows = append(m.windows, w)
	return w, nil
}
