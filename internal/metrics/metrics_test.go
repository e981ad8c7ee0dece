package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveFetch(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveFetch("image", "cache-first", "hit", 200, 250*time.Millisecond)

	families := gather(t, rec, "edgeworker_fetch_requests_total", "edgeworker_fetch_request_duration_seconds")

	counter := findMetric(t, families["edgeworker_fetch_requests_total"], map[string]string{
		"class":       "image",
		"strategy":    "cache-first",
		"outcome":     "hit",
		"status_code": "200",
	})
	if counter.GetCounter() == nil {
		t.Fatalf("expected counter metric for fetch requests")
	}
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["edgeworker_fetch_request_duration_seconds"], map[string]string{
		"class":    "image",
		"strategy": "cache-first",
	})
	hist := histMetric.GetHistogram()
	if hist == nil {
		t.Fatalf("expected histogram metric for fetch latency")
	}
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderQueueAndReplay(t *testing.T) {
	rec := NewRecorder(nil)
	rec.SetQueueDepth(3)
	rec.ObserveReplay(ReplayDelivered)
	rec.ObserveReplay(ReplayRetained)

	families := gather(t, rec, "edgeworker_queue_pending_operations", "edgeworker_queue_replays_total")

	depth := families["edgeworker_queue_pending_operations"]
	if len(depth) != 1 || depth[0].GetGauge().GetValue() != 3 {
		t.Fatalf("expected queue depth gauge 3, got %v", depth)
	}

	delivered := findMetric(t, families["edgeworker_queue_replays_total"], map[string]string{
		"outcome": string(ReplayDelivered),
	})
	if delivered.GetCounter().GetValue() != 1 {
		t.Fatalf("expected 1 delivered replay")
	}
}

func TestRecorderNilSafety(t *testing.T) {
	var rec *Recorder
	rec.ObserveFetch("", "", "", 0, 0)
	rec.ObserveCache("", CacheOperationMatch, CacheHit)
	rec.SetQueueDepth(0)
	rec.ObserveReplay(ReplayDropped)
	rec.ObservePush("rendered")

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, family := range families {
		if wanted[family.GetName()] {
			collected[family.GetName()] = family.GetMetric()
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	have := make(map[string]string, len(metric.GetLabel()))
	for _, pair := range metric.GetLabel() {
		have[pair.GetName()] = pair.GetValue()
	}
	for name, value := range labels {
		if have[name] != value {
			return false
		}
	}
	return true
}
