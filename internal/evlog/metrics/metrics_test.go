package metrics

import (
	"errors"
	"fmt"
	"testing"

	tst "github.com/julianstephens/go-utils/tests"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/julianstephens/evlog/internal/evlog/conn"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	if m.Counter == nil {
		t.Fatal("expected counter metric to have Counter field")
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	if m.Gauge == nil {
		t.Fatal("expected gauge metric to have Gauge field")
	}
	return m.GetGauge().GetValue()
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	m.ObserveDial(nil)
	m.ObserveReconnect(3)
	m.ObserveSend(errors.New("x"))
	m.AddEvents(2)
	m.SetQueued(1)
}

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(Config{Registry: reg, ConstLabels: prometheus.Labels{"addr": "127.0.0.1:1"}})

	m.ObserveDial(nil)
	m.ObserveDial(errors.New("refused"))
	m.ObserveDial(errors.New("refused"))
	tst.AssertEqual(t, counterValue(t, m.dials.WithLabelValues(ResultOK)), 1.0, "ok dials")
	tst.AssertEqual(t, counterValue(t, m.dials.WithLabelValues(ResultError)), 2.0, "failed dials")

	m.ObserveSend(nil)
	m.ObserveSend(fmt.Errorf("send: %w", conn.ErrVersionConflict))
	m.ObserveSend(conn.ErrClosed)
	tst.AssertEqual(t, counterValue(t, m.sends.WithLabelValues(ResultOK)), 1.0, "confirmed sends")
	tst.AssertEqual(t, counterValue(t, m.sends.WithLabelValues(ResultConflict)), 1.0, "conflicts")
	tst.AssertEqual(t, counterValue(t, m.sends.WithLabelValues(ResultError)), 1.0, "failed sends")

	m.ObserveReconnect(4)
	m.ObserveReconnect(0)
	tst.AssertEqual(t, counterValue(t, m.reconnects), 2.0, "reconnects")
	tst.AssertEqual(t, counterValue(t, m.replayed), 4.0, "replayed")

	m.AddEvents(5)
	tst.AssertEqual(t, counterValue(t, m.events), 5.0, "events")

	m.SetQueued(7)
	m.SetQueued(2)
	tst.AssertEqual(t, gaugeValue(t, m.queued), 2.0, "queue depth")

	families, err := reg.Gather()
	tst.RequireNoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	tst.AssertTrue(t, names["evlog_client_dials_total"], "namespaced dial counter")
	tst.AssertTrue(t, names["evlog_client_queued_requests"], "namespaced queue gauge")
}

func TestNew_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(Config{Registry: reg})
	defer func() {
		tst.AssertTrue(t, recover() != nil, "expected panic on duplicate registration")
	}()
	New(Config{Registry: reg})
}
