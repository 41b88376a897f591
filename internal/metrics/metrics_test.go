package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jwulff/memo/internal/metrics"
)

func TestRouterExposesMetrics(t *testing.T) {
	metrics.RecordCaptureError("begin")
	metrics.RecordPermission(true)
	metrics.SetRecording(true)

	srv := httptest.NewServer(metrics.Router())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	buf := new(strings.Builder)
	if _, err := io.Copy(buf, resp.Body); err != nil {
		t.Fatal(err)
	}
	body := buf.String()

	for _, want := range []string{
		`memo_capture_errors_total{op="begin"}`,
		`memo_permission_requests_total{result="granted"}`,
		"memo_session_recording 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	metrics.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
