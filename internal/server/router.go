package server

import (
	"net/http"
	"strings"
)

// WorkerHTTP defines the minimal surface the router needs from the worker to
// serve HTTP requests. Everything outside the /worker/ control plane is fetch
// traffic and flows through the cache strategies.
type WorkerHTTP interface {
	ServeFetch(http.ResponseWriter, *http.Request)
	ServeMessage(http.ResponseWriter, *http.Request)
	ServeSync(http.ResponseWriter, *http.Request)
	ServePush(http.ResponseWriter, *http.Request)
	ServeNotificationClick(http.ResponseWriter, *http.Request)
	ServeStatus(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// NewWorkerHandler wires the HTTP routing facade to the worker so the
// lifecycle server owns URL dispatch without embedding routing logic into the
// worker itself.
func NewWorkerHandler(w WorkerHTTP) http.Handler {
	if w == nil {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			http.Error(rw, "worker unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		route, ok := parseWorkerRoute(r.URL.Path)
		if !ok {
			w.ServeFetch(rw, r)
			return
		}

		if route == "status" {
			if r.Method != http.MethodGet {
				w.WriteError(rw, http.StatusMethodNotAllowed, "status requires GET")
				return
			}
			w.ServeStatus(rw, r)
			return
		}

		var handle http.HandlerFunc
		switch route {
		case "message":
			handle = w.ServeMessage
		case "sync":
			handle = w.ServeSync
		case "push":
			handle = w.ServePush
		case "notification-click":
			handle = w.ServeNotificationClick
		default:
			w.WriteError(rw, http.StatusNotFound, "unknown worker route")
			return
		}
		if r.Method != http.MethodPost {
			w.WriteError(rw, http.StatusMethodNotAllowed, "worker control requires POST")
			return
		}
		handle(rw, r)
	})
}

// parseWorkerRoute extracts the control-plane subroute from a /worker/<route>
// path. Any other shape is fetch traffic.
func parseWorkerRoute(path string) (string, bool) {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "worker") {
		return "", false
	}
	return strings.ToLower(parts[1]), true
}
