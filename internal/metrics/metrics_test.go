package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

func getCounterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("write counter metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func getCounterVecValue(t *testing.T, counterVec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	return getCounterValue(t, counterVec.WithLabelValues(labels...))
}

func getHistogramCount(t *testing.T, hist prometheus.Observer) uint64 {
	t.Helper()
	h, ok := hist.(prometheus.Histogram)
	if !ok {
		t.Fatalf("observer is not a prometheus.Histogram")
	}
	metric := &dto.Metric{}
	if err := h.Write(metric); err != nil {
		t.Fatalf("write histogram metric: %v", err)
	}
	return metric.GetHistogram().GetSampleCount()
}

func TestObserveSchedulerCall(t *testing.T) {
	before := getCounterVecValue(t, SchedulerCallsTotal, "submit", "ok")
	beforeCount := getHistogramCount(t, SchedulerCallDuration.WithLabelValues("submit"))

	ObserveSchedulerCall("submit", "ok", 20*time.Millisecond)

	if got := getCounterVecValue(t, SchedulerCallsTotal, "submit", "ok"); got != before+1 {
		t.Fatalf("calls = %v, want %v", got, before+1)
	}
	if got := getHistogramCount(t, SchedulerCallDuration.WithLabelValues("submit")); got != beforeCount+1 {
		t.Fatalf("histogram count = %d, want %d", got, beforeCount+1)
	}
}

func TestRecordCatalogReload(t *testing.T) {
	RecordCatalogReload("success", 42)
	if got := GetCatalogChannels(); got != 42 {
		t.Fatalf("catalog channels = %v, want 42", got)
	}

	before := getCounterVecValue(t, CatalogReloadsTotal, "malformed")
	RecordCatalogReload("malformed", 0)
	if got := getCounterVecValue(t, CatalogReloadsTotal, "malformed"); got != before+1 {
		t.Fatalf("malformed reloads = %v, want %v", got, before+1)
	}
	if got := GetCatalogChannels(); got != 42 {
		t.Fatalf("failed reload changed gauge to %v", got)
	}
}

func TestAddCorruptPayloadsIgnoresZero(t *testing.T) {
	before := getCounterValue(t, CorruptPayloadsTotal)
	AddCorruptPayloads(0)
	AddCorruptPayloads(2)
	if got := getCounterValue(t, CorruptPayloadsTotal); got != before+2 {
		t.Fatalf("corrupt = %v, want %v", got, before+2)
	}
}

func TestPromhttpExposure(t *testing.T) {
	RecordRecording("schedule", "ok")

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "recsched_recordings_total") {
		t.Fatalf("recsched_recordings_total not exposed")
	}
}

func TestRecordMaintenanceRun(t *testing.T) {
	before := getCounterVecValue(t, MaintenanceRunsTotal, "resync", "skipped")
	RecordMaintenanceRun("resync", "skipped")
	if got := getCounterVecValue(t, MaintenanceRunsTotal, "resync", "skipped"); got != before+1 {
		t.Fatalf("skipped runs = %v, want %v", got, before+1)
	}
}
