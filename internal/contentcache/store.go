package contentcache

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Entry is a stored response snapshot: status, headers, and body, plus the
// time it was captured so age-based eviction can reason about staleness.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Body     []byte      `json:"body,omitempty"`
	StoredAt time.Time   `json:"storedAt"`
}

// Store is the named-cache storage service. Each named cache maps a GET
// request identity to a response snapshot. Implementations provide atomic
// per-key put/match semantics; callers never lock around individual keys.
type Store interface {
	Match(ctx context.Context, cache, key string) (Entry, bool, error)
	Put(ctx context.Context, cache, key string, entry Entry) error
	Delete(ctx context.Context, cache, key string) (bool, error)
	CacheNames(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, name string) (bool, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	Close(ctx context.Context) error
}

// Namer builds and recognizes version-stamped cache names of the form
// <app>-<version>-<class>.
type Namer struct {
	App     string
	Version string
}

// Name returns the current cache name for a request class.
func (n Namer) Name(class string) string {
	return fmt.Sprintf("%s-%s-%s", n.App, n.Version, class)
}

// Owns reports whether a cache name belongs to this application, regardless
// of version stamp.
func (n Namer) Owns(name string) bool {
	return strings.HasPrefix(name, n.App+"-")
}

// Current reports whether a cache name carries the active version stamp.
func (n Namer) Current(name string) bool {
	return strings.HasPrefix(name, n.App+"-"+n.Version+"-")
}

// SweepStale deletes every named cache owned by the application whose name
// does not match the current version stamp. Entries are never migrated
// between versions; superseded caches are dropped outright. The deleted
// names are returned for logging.
func SweepStale(ctx context.Context, s Store, namer Namer) ([]string, error) {
	names, err := s.CacheNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("contentcache: list caches: %w", err)
	}
	var deleted []string
	for _, name := range names {
		if !namer.Owns(name) || namer.Current(name) {
			continue
		}
		if _, err := s.DeleteCache(ctx, name); err != nil {
			return deleted, fmt.Errorf("contentcache: delete cache %s: %w", name, err)
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
