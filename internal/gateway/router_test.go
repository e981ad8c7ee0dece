package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClassifyRoutingOrder(t *testing.T) {
	cases := []struct {
		name       string
		method     string
		sameOrigin bool
		dest       string
		want       Strategy
	}{
		{"post bypasses", http.MethodPost, true, DestDocument, StrategyBypass},
		{"delete bypasses", http.MethodDelete, true, DestEmpty, StrategyBypass},
		{"cross origin bypasses", http.MethodGet, false, DestImage, StrategyBypass},
		{"image is cache-first", http.MethodGet, true, DestImage, StrategyCacheFirst},
		{"font is cache-first", http.MethodGet, true, DestFont, StrategyCacheFirst},
		{"document is network-first", http.MethodGet, true, DestDocument, StrategyNetworkFirst},
		{"script is network-first", http.MethodGet, true, DestScript, StrategyNetworkFirst},
		{"api is network-first", http.MethodGet, true, DestEmpty, StrategyNetworkFirst},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.method, tc.sameOrigin, tc.dest, nil)
			if got != tc.want {
				t.Fatalf("Classify(%s, %v, %s) = %s, want %s", tc.method, tc.sameOrigin, tc.dest, got, tc.want)
			}
		})
	}
}

func TestClassifyOverrides(t *testing.T) {
	overrides := map[string]string{DestScript: "stale-while-revalidate"}
	if got := Classify(http.MethodGet, true, DestScript, overrides); got != StrategyStaleWhileRevalidate {
		t.Fatalf("expected override to apply, got %s", got)
	}
	// Overrides never resurrect bypassed traffic.
	if got := Classify(http.MethodPost, true, DestScript, overrides); got != StrategyBypass {
		t.Fatalf("expected non-GET to stay bypassed, got %s", got)
	}
	if got := Classify(http.MethodGet, false, DestScript, overrides); got != StrategyBypass {
		t.Fatalf("expected cross-origin to stay bypassed, got %s", got)
	}
}

func TestDestinationPrefersFetchMetadata(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/logo.css", nil)
	r.Header.Set("Sec-Fetch-Dest", "image")
	if got := Destination(r); got != DestImage {
		t.Fatalf("expected fetch metadata to win, got %s", got)
	}
}

func TestDestinationSniffsExtensionAndAccept(t *testing.T) {
	cases := []struct {
		path   string
		accept string
		want   string
	}{
		{"/fonts/inter.woff2", "", DestFont},
		{"/img/logo.svg", "", DestImage},
		{"/app/main.js", "", DestScript},
		{"/styles/site.css", "", DestStyle},
		{"/synthesis/42", "text/html,application/xhtml+xml", DestDocument},
		{"/api/v1/feed", "application/json", DestEmpty},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.accept != "" {
			r.Header.Set("Accept", tc.accept)
		}
		if got := Destination(r); got != tc.want {
			t.Fatalf("Destination(%s) = %s, want %s", tc.path, got, tc.want)
		}
	}
}

func TestSameOrigin(t *testing.T) {
	allowed := map[string]struct{}{"app.novapress.io": {}}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Sec-Fetch-Site", "cross-site")
	if SameOrigin(r, allowed) {
		t.Fatalf("cross-site fetch metadata must be cross-origin")
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Sec-Fetch-Site", "same-origin")
	if !SameOrigin(r, allowed) {
		t.Fatalf("same-origin fetch metadata must pass")
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "app.novapress.io:443"
	if !SameOrigin(r, allowed) {
		t.Fatalf("allowed host must pass")
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "evil.example.com"
	if SameOrigin(r, allowed) {
		t.Fatalf("unknown host must be cross-origin")
	}

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Host = "anything.example"
	if !SameOrigin(r, nil) {
		t.Fatalf("empty allow list accepts any host")
	}
}

func TestCacheClassGrouping(t *testing.T) {
	if CacheClass(DestImage) != "static" || CacheClass(DestFont) != "static" {
		t.Fatalf("images and fonts belong to the static class")
	}
	if CacheClass(DestDocument) != "runtime" || CacheClass(DestEmpty) != "runtime" {
		t.Fatalf("documents and api calls belong to the runtime class")
	}
}
