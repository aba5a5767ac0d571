package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/scopelab/rigolab/capture"
)

var _ capture.Observer = (*Capture)(nil)

func TestCaptureMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatal(err)
	}
	c.ChunkDone(capture.Window{Start: 1, Stop: 250000}, 250012, 40*time.Millisecond)
	c.ChunkDone(capture.Window{Start: 250001, Stop: 300000}, 50012, 10*time.Millisecond)
	c.CaptureDone(300000, nil)
	c.CaptureDone(0, errors.New("timeout"))

	if got := testutil.ToFloat64(c.chunks); got != 2 {
		t.Errorf("expected 2 chunks, got %g", got)
	}
	if got := testutil.ToFloat64(c.chunkBytes); got != 300024 {
		t.Errorf("expected 300024 bytes, got %g", got)
	}
	if got := testutil.ToFloat64(c.points); got != 300000 {
		t.Errorf("expected 300000 points, got %g", got)
	}
	if got := testutil.ToFloat64(c.captures.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 ok capture, got %g", got)
	}
	if got := testutil.ToFloat64(c.captures.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed capture, got %g", got)
	}
	if n := testutil.CollectAndCount(c.chunkTime); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
	if n, err := testutil.GatherAndCount(reg, "rigolab_captures_total"); err != nil || n != 2 {
		t.Errorf("expected 2 capture series, got %d %v", n, err)
	}
}

func TestDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatal(err)
	}
	if _, err := New(reg); err == nil {
		t.Error("expected a second registration to fail")
	}
}
