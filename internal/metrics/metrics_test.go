package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/geologic-api/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RuntimeCollectorsAndBuildInfo(t *testing.T) {
	p, err := New(BuildInfo{Version: "1.0.0", Revision: "abc123", BuildDate: "2026-01-01"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Registerer().MustRegister(g)
	g.Set(42)
	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	body := scrape(t, p)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, "process_cpu_seconds_total") && !strings.Contains(body, "process_start_time_seconds") {
		t.Fatalf("expected process_* metrics in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `app_build_info{build_date="2026-01-01",revision="abc123",version="1.0.0"} 1`) {
		t.Fatalf("expected app_build_info in payload; got:\n%s", body)
	}
}

func TestProvider_ExposesServiceMetrics(t *testing.T) {
	p, err := New(BuildInfo{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	observability.ObserveHTTP("GET", "/api/v1/geologic/tables", 200, 0.002)
	observability.ObserveCacheOp("get", nil, 0.001)
	observability.ObserveInvalidation("reload", errors.New("x"))
	observability.IncKafkaConsumerError("decode")

	body := scrape(t, p)
	for _, want := range []string{
		`app_build_info{build_date="",revision="",version="dev"} 1`,
		`http_requests_total{method="GET",route="/api/v1/geologic/tables",status="200"}`,
		`cache_op_duration_seconds_count{op="get",outcome="ok"}`,
		`invalidations_total{op="reload",outcome="error"}`,
		`kafka_consumer_errors_total{kind="decode"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics to contain %q;\n---\n%s", want, body)
		}
	}
}
