package gateway

import (
	"net/http"
	"path"
	"strings"
)

// Strategy tags the caching behavior selected for an intercepted request.
type Strategy string

const (
	StrategyBypass               Strategy = "bypass"
	StrategyCacheFirst           Strategy = "cache-first"
	StrategyNetworkFirst         Strategy = "network-first"
	StrategyStaleWhileRevalidate Strategy = "stale-while-revalidate"
)

// Destination classes mirrored from fetch metadata.
const (
	DestDocument = "document"
	DestScript   = "script"
	DestStyle    = "style"
	DestImage    = "image"
	DestFont     = "font"
	DestEmpty    = "empty"
)

// Classify is the routing rule: a pure mapping from (method, origin,
// destination) to a strategy tag, evaluated first-match. Overrides may remap
// a destination class (the only way stale-while-revalidate is reachable);
// they never resurrect bypassed traffic.
func Classify(method string, sameOrigin bool, destination string, overrides map[string]string) Strategy {
	if method != http.MethodGet {
		return StrategyBypass
	}
	if !sameOrigin {
		return StrategyBypass
	}
	if override, ok := overrides[destination]; ok {
		switch strings.ToLower(strings.TrimSpace(override)) {
		case string(StrategyCacheFirst):
			return StrategyCacheFirst
		case string(StrategyNetworkFirst):
			return StrategyNetworkFirst
		case string(StrategyStaleWhileRevalidate):
			return StrategyStaleWhileRevalidate
		}
	}
	switch destination {
	case DestImage, DestFont:
		return StrategyCacheFirst
	default:
		return StrategyNetworkFirst
	}
}

// CacheClass groups destinations into the named-cache classes that appear in
// version-stamped cache names: static assets on one side, runtime content on
// the other.
func CacheClass(destination string) string {
	switch destination {
	case DestImage, DestFont:
		return "static"
	default:
		return "runtime"
	}
}

var extensionDestinations = map[string]string{
	".png":   DestImage,
	".jpg":   DestImage,
	".jpeg":  DestImage,
	".gif":   DestImage,
	".webp":  DestImage,
	".svg":   DestImage,
	".ico":   DestImage,
	".woff":  DestFont,
	".woff2": DestFont,
	".ttf":   DestFont,
	".otf":   DestFont,
	".js":    DestScript,
	".mjs":   DestScript,
	".css":   DestStyle,
}

// PathDestination resolves a destination from a bare path, for precaching
// release assets where no request headers exist. Paths without a recognized
// extension are treated as navigations.
func PathDestination(p string) string {
	if dest, ok := extensionDestinations[strings.ToLower(path.Ext(p))]; ok {
		return dest
	}
	return DestDocument
}

// Destination resolves the request's content class. Browsers announce it via
// Sec-Fetch-Dest; for clients that do not send fetch metadata the extension
// and Accept header are sniffed instead.
func Destination(r *http.Request) string {
	if dest := strings.ToLower(strings.TrimSpace(r.Header.Get("Sec-Fetch-Dest"))); dest != "" {
		return dest
	}
	if dest, ok := extensionDestinations[strings.ToLower(path.Ext(r.URL.Path))]; ok {
		return dest
	}
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "text/html") {
		return DestDocument
	}
	return DestEmpty
}

// SameOrigin reports whether the request targets the application origin.
// Cross-origin traffic is recognized via fetch metadata when present,
// otherwise by comparing the Host header against the allow list.
func SameOrigin(r *http.Request, allowedHosts map[string]struct{}) bool {
	switch strings.ToLower(strings.TrimSpace(r.Header.Get("Sec-Fetch-Site"))) {
	case "cross-site":
		return false
	case "same-origin", "same-site", "none":
		return true
	}
	if len(allowedHosts) == 0 {
		return true
	}
	host := r.Host
	if idx := strings.IndexByte(host, ':'); idx >= 0 {
		host = host[:idx]
	}
	_, ok := allowedHosts[strings.ToLower(host)]
	return ok
}
