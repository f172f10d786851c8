package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveEvent("message")
	m.ObservePanic()
	m.ObserveSend("text", true)
	m.ObserveDial(false)
	m.SetLinkUp(true)
	m.ObservePersistError()
	if err := m.Register(prometheus.NewCounter(prometheus.CounterOpts{Name: "x"})); err != nil {
		t.Errorf("nil Register() error = %v", err)
	}
}

// counterValue sums every sample of the named family matching labels.
func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			got := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			switch {
			case metric.Counter != nil:
				total += metric.GetCounter().GetValue()
			case metric.Gauge != nil:
				total += metric.GetGauge().GetValue()
			}
		}
	}
	return total
}

func TestObserve(t *testing.T) {
	m := New()
	m.ObserveEvent("message")
	m.ObserveEvent("message")
	m.ObserveEvent("presence")
	m.ObserveSend("image", false)
	m.ObserveDial(true)
	m.SetLinkUp(true)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"wppinbox_stream_events_total", map[string]string{"kind": "message"}, 2},
		{"wppinbox_stream_events_total", map[string]string{"kind": "presence"}, 1},
		{"wppinbox_outbound_sends_total", map[string]string{"kind": "image", "result": "error"}, 1},
		{"wppinbox_stream_dials_total", map[string]string{"result": "ok"}, 1},
		{"wppinbox_stream_link_up", nil, 1},
	}
	for _, tt := range tests {
		if got := counterValue(t, m, tt.name, tt.labels); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObservePersistError()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "wppinbox_snapshot_persist_errors_total 1") {
		t.Errorf("exposition missing persist counter:\n%s", body)
	}
}

func TestServer(t *testing.T) {
	disabled := NewServer("", New(), zap.NewNop())
	if err := disabled.Start(); err != nil {
		t.Fatalf("disabled Start() error = %v", err)
	}
	if disabled.Addr() != "" {
		t.Errorf("disabled server bound %q", disabled.Addr())
	}
	if err := disabled.Stop(context.Background()); err != nil {
		t.Errorf("disabled Stop() error = %v", err)
	}

	s := NewServer("127.0.0.1:0", New(), zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
