package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/thomasrockhu-codecov/cradle/pkg/types"
)

var _ types.MetricsCollector = (*Collector)(nil)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector.config.Namespace != "cradle" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "cradle")
		}
		if collector.registry == nil {
			t.Error("collector.registry is nil")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		collector, err := NewCollector(&Config{Enabled: false})
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector.registry != nil {
			t.Error("disabled collector should not have registry")
		}

		// Every recording method is a no-op.
		collector.RecordCacheHit("memory")
		collector.RecordCacheMiss("disk")
		collector.RecordEvictions("memory", 3)
		collector.RecordDiskError("find")
		collector.RecordProducer(time.Second, true)
		collector.SetUnusedBytes(10)
		if snap := collector.Snapshot(); len(snap.Tiers) != 0 {
			t.Errorf("disabled collector tracked tiers: %+v", snap.Tiers)
		}
	})
}

func TestRecordLookups(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(nil)
	if err != nil {
		t.Fatal(err)
	}

	collector.RecordCacheHit("memory")
	collector.RecordCacheHit("memory")
	collector.RecordCacheHit("memory")
	collector.RecordCacheMiss("memory")
	collector.RecordCacheMiss("disk")
	collector.RecordEvictions("memory", 2)
	collector.RecordEvictions("disk", 0)

	if got := testutil.ToFloat64(collector.cacheRequests.WithLabelValues("memory", "hit")); got != 3 {
		t.Errorf("memory hits = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.cacheRequests.WithLabelValues("disk", "miss")); got != 1 {
		t.Errorf("disk misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.cacheEvictions.WithLabelValues("memory")); got != 2 {
		t.Errorf("memory evictions = %v, want 2", got)
	}

	snap := collector.Snapshot()
	memory := snap.Tiers["memory"]
	if memory.Hits != 3 || memory.Misses != 1 || memory.Evictions != 2 {
		t.Errorf("memory tier = %+v", memory)
	}
	if memory.HitRate != 0.75 {
		t.Errorf("memory hit rate = %v, want 0.75", memory.HitRate)
	}
	if snap.Tiers["disk"].Evictions != 0 {
		t.Errorf("zero evictions should not be recorded: %+v", snap.Tiers["disk"])
	}
}

func TestRecordProducerAndGauges(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(nil)
	if err != nil {
		t.Fatal(err)
	}

	collector.RecordProducer(10*time.Millisecond, true)
	collector.RecordProducer(30*time.Millisecond, false)
	collector.RecordDiskError("insert")
	collector.RecordDiskError("insert")
	collector.SetUnusedBytes(4096)

	snap := collector.Snapshot()
	if snap.Producers.Count != 2 || snap.Producers.Errors != 1 {
		t.Errorf("producers = %+v", snap.Producers)
	}
	if snap.Producers.AvgDuration != 20*time.Millisecond {
		t.Errorf("avg duration = %v, want 20ms", snap.Producers.AvgDuration)
	}
	if snap.DiskErrors["insert"] != 2 {
		t.Errorf("disk errors = %+v", snap.DiskErrors)
	}
	if snap.UnusedBytes != 4096 {
		t.Errorf("unused bytes = %d, want 4096", snap.UnusedBytes)
	}

	collector.Reset()
	if snap := collector.Snapshot(); snap.Producers.Count != 0 || len(snap.Tiers) != 0 {
		t.Errorf("Reset() left state behind: %+v", snap)
	}
}

func TestHandler(t *testing.T) {
	t.Parallel()

	collector, err := NewCollector(&Config{
		Enabled:   true,
		Namespace: "cradle",
		Labels:    map[string]string{"instance": "test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	collector.RecordCacheHit("disk")

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `cradle_cache_requests_total{instance="test",result="hit",tier="disk"} 1`) {
		t.Errorf("metrics output missing hit counter:\n%s", body)
	}

	disabled, _ := NewCollector(&Config{Enabled: false})
	rec = httptest.NewRecorder()
	disabled.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
}
