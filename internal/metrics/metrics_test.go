package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed(errors.New("boom"))
	m.PacketReceived()
	m.PacketSent(true)
	m.PayloadReceived(10)
	m.DecodeError()
	m.Dropped()
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed(nil)
	m.ConnectionClosed(errors.New("boom"))
	m.PacketSent(false)
	m.PacketSent(true)
	m.PayloadReceived(5)
	m.PayloadReceived(0)

	testCases := []struct {
		name      string
		collector prometheus.Collector
		want      float64
	}{
		{"active", m.ActiveConnections, 0},
		{"total", m.ConnectionsTotal, 2},
		{"errors", m.ConnectionErrors, 1},
		{"sent", m.PacketsSent, 2},
		{"retransmits", m.Retransmits, 1},
		{"payload", m.PayloadBytes, 5},
	}

	for _, tc := range testCases {
		if got := testutil.ToFloat64(tc.collector); got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.DecodeError()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "utcp_decode_errors_total 1") {
		t.Errorf("decode errors missing from output:\n%s", rec.Body.String())
	}
}
