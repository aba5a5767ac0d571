// Package metrics exposes capture statistics to Prometheus
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scopelab/rigolab/capture"
)

// Capture implements capture.Observer with Prometheus collectors
type Capture struct {
	captures   *prometheus.CounterVec
	chunks     prometheus.Counter
	chunkBytes prometheus.Counter
	chunkTime  prometheus.Histogram
	points     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Capture, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Capture{
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rigolab",
			Name:      "captures_total",
			Help:      "Captures finished, by result (ok or failed).",
		}, []string{"result"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rigolab",
			Name:      "chunks_total",
			Help:      "Waveform windows transferred.",
		}),
		chunkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rigolab",
			Name:      "chunk_bytes_total",
			Help:      "Bytes of binary block data transferred, headers included.",
		}),
		chunkTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rigolab",
			Name:      "chunk_seconds",
			Help:      "Time to set a window and read its block.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		points: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rigolab",
			Name:      "capture_points",
			Help:      "Points in the last successful capture.",
		}),
	}
	for _, coll := range []prometheus.Collector{c.captures, c.chunks, c.chunkBytes, c.chunkTime, c.points} {
		if err := reg.Register(coll); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ChunkDone implements capture.Observer
func (c *Capture) ChunkDone(w capture.Window, bytes int, elapsed time.Duration) {
	c.chunks.Inc()
	c.chunkBytes.Add(float64(bytes))
	c.chunkTime.Observe(elapsed.Seconds())
}

// CaptureDone implements capture.Observer
func (c *Capture) CaptureDone(points int, err error) {
	if err != nil {
		c.captures.WithLabelValues("failed").Inc()
		return
	}
	c.captures.WithLabelValues("ok").Inc()
	c.points.Set(float64(points))
}
