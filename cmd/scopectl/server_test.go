package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/scopelab/rigolab/metrics"
)

func TestBuildRouter(t *testing.T) {
	c := defaultConfig()
	c.Mock = true
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	lg := log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
	s, err := openScope(c, lg, m)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	srv := httptest.NewServer(BuildRouter(c, s, nil, reg))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/scope/capture", "application/json", strings.NewReader(`{"channel": 1}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from capture, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `rigolab_captures_total{result="ok"} 1`) {
		t.Errorf("expected one successful capture in the metrics, got\n%s", body)
	}
}

func TestDefaultConfig(t *testing.T) {
	c := defaultConfig()
	if c.ChunkSize != 250000 {
		t.Errorf("expected the default chunk size to be 250000, got %d", c.ChunkSize)
	}
	if len(c.Monitor.Items) == 0 {
		t.Error("expected default monitor items")
	}
}
