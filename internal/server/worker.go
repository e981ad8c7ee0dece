package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/novapress/edgeworker/internal/offline"
	"github.com/novapress/edgeworker/internal/push"
	"github.com/novapress/edgeworker/internal/syncer"
	"github.com/novapress/edgeworker/internal/update"
)

// FetchHandler is the slice of the gateway the worker exposes to the router.
type FetchHandler interface {
	ServeFetch(http.ResponseWriter, *http.Request)
}

// Worker glues the control-plane endpoints to the lifecycle controller, the
// sync trigger, and the push bridge. Fetch traffic passes straight through to
// the gateway.
type Worker struct {
	logger     *slog.Logger
	gateway    FetchHandler
	controller *update.Controller
	trigger    *syncer.Trigger
	bridge     *push.Bridge
	queue      offline.Store
}

// WorkerOptions wires the worker's collaborators.
type WorkerOptions struct {
	Gateway    FetchHandler
	Controller *update.Controller
	Trigger    *syncer.Trigger
	Bridge     *push.Bridge
	Queue      offline.Store
}

// NewWorker constructs the control-plane facade.
func NewWorker(logger *slog.Logger, opts WorkerOptions) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		logger:     logger.With(slog.String("agent", "worker")),
		gateway:    opts.Gateway,
		controller: opts.Controller,
		trigger:    opts.Trigger,
		bridge:     opts.Bridge,
		queue:      opts.Queue,
	}
}

// ServeFetch forwards intercepted traffic to the gateway.
func (w *Worker) ServeFetch(rw http.ResponseWriter, r *http.Request) {
	w.gateway.ServeFetch(rw, r)
}

type workerMessage struct {
	Type string `json:"type"`
}

// ServeMessage handles client messages. SKIP_WAITING promotes the waiting
// release on the user's behalf; the activation counts as user initiated.
func (w *Worker) ServeMessage(rw http.ResponseWriter, r *http.Request) {
	var msg workerMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		w.WriteError(rw, http.StatusBadRequest, "invalid message body")
		return
	}
	switch strings.ToUpper(strings.TrimSpace(msg.Type)) {
	case "SKIP_WAITING":
		if err := w.controller.Promote(r.Context(), true); err != nil {
			w.logger.Error("promotion failed", slog.Any("error", err))
			w.WriteError(rw, http.StatusInternalServerError, "activation failed")
			return
		}
		writeJSON(rw, http.StatusAccepted, map[string]any{"status": "activating"})
	default:
		w.WriteError(rw, http.StatusBadRequest, "unknown message type")
	}
}

// ServeSync handles sync events: a recognized tag drains the offline queue.
func (w *Worker) ServeSync(rw http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if err := w.trigger.HandleSignal(r.Context(), tag); err != nil {
		w.WriteError(rw, http.StatusBadRequest, err.Error())
		return
	}
	depth := 0
	if w.queue != nil {
		if n, err := w.queue.Len(r.Context()); err == nil {
			depth = n
		}
	}
	writeJSON(rw, http.StatusOK, map[string]any{"tag": tag, "pending": depth})
}

// ServePush renders an incoming push message into a notification.
func (w *Worker) ServePush(rw http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteError(rw, http.StatusBadRequest, "unreadable push body")
		return
	}
	n, err := w.bridge.HandlePush(r.Context(), raw)
	if err != nil {
		w.logger.Error("push handling failed", slog.Any("error", err))
		w.WriteError(rw, http.StatusInternalServerError, "notification failed")
		return
	}
	writeJSON(rw, http.StatusCreated, n)
}

// ServeNotificationClick routes a notification interaction.
func (w *Worker) ServeNotificationClick(rw http.ResponseWriter, r *http.Request) {
	var click push.Click
	if err := json.NewDecoder(r.Body).Decode(&click); err != nil {
		w.WriteError(rw, http.StatusBadRequest, "invalid click body")
		return
	}
	if err := w.bridge.HandleClick(r.Context(), click); err != nil {
		w.logger.Error("click handling failed", slog.Any("error", err))
		w.WriteError(rw, http.StatusInternalServerError, "click routing failed")
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

type statusReport struct {
	Update  update.Snapshot `json:"update"`
	Pending int             `json:"pendingOperations"`
}

// ServeStatus reports the release lifecycle and the offline queue depth.
func (w *Worker) ServeStatus(rw http.ResponseWriter, r *http.Request) {
	report := statusReport{Update: w.controller.Snapshot()}
	if w.queue != nil {
		if n, err := w.queue.Len(r.Context()); err == nil {
			report.Pending = n
		}
	}
	writeJSON(rw, http.StatusOK, report)
}

// WriteError emits the shared JSON error envelope.
func (w *Worker) WriteError(rw http.ResponseWriter, status int, msg string) {
	writeJSON(rw, status, map[string]string{"error": msg})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}
