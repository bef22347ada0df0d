package otel

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewMetrics_AllInstrumentsCreated(t *testing.T) {
	p, err := Init(context.Background(), Config{
		Enabled:  true,
		Exporter: "none",
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	if m.RequestDuration == nil {
		t.Error("RequestDuration is nil")
	}
	if m.TasksSubmitted == nil || m.TasksRejected == nil {
		t.Error("submission counters are nil")
	}
	if m.TasksCompleted == nil || m.TasksFailed == nil {
		t.Error("terminal counters are nil")
	}
	if m.TaskDuration == nil {
		t.Error("TaskDuration is nil")
	}
	if m.CollaboratorDuration == nil {
		t.Error("CollaboratorDuration is nil")
	}
	if m.RateLimitRejects == nil {
		t.Error("RateLimitRejects is nil")
	}
	if err := m.ObserveQueueDepth(func() int64 { return 3 }); err != nil {
		t.Fatalf("ObserveQueueDepth: %v", err)
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics()
	if m == nil {
		t.Fatal("expected non-nil Metrics")
	}
	m.TasksSubmitted.Add(context.Background(), 1)
	if err := m.ObserveQueueDepth(func() int64 { return 0 }); err != nil {
		t.Fatalf("ObserveQueueDepth on noop meter: %v", err)
	}
}

func TestPrometheusExporter_ServesInstruments(t *testing.T) {
	p, err := Init(context.Background(), Config{MetricsExporter: "prometheus"})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer p.Shutdown(context.Background())

	if p.MetricsHandler == nil {
		t.Fatal("expected a metrics handler")
	}
	m, err := NewMetrics(p.Meter)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.TasksSubmitted.Add(context.Background(), 2)
	if err := m.ObserveQueueDepth(func() int64 { return 4 }); err != nil {
		t.Fatalf("ObserveQueueDepth: %v", err)
	}

	rec := httptest.NewRecorder()
	p.MetricsHandler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	if !strings.Contains(text, "scout_tasks_submitted") {
		t.Fatalf("expected scout_tasks_submitted in exposition, got:\n%s", text)
	}
	if !strings.Contains(text, "scout_queue_depth") {
		t.Fatalf("expected scout_queue_depth in exposition, got:\n%s", text)
	}
}
