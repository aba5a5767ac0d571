package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scopelab/rigolab/capture"
	"github.com/scopelab/rigolab/generichttp"
	"github.com/scopelab/rigolab/generichttp/scope"
	"github.com/scopelab/rigolab/metrics"
	"github.com/scopelab/rigolab/monitor"
	"github.com/scopelab/rigolab/rigol"
	"github.com/scopelab/rigolab/server/middleware/locker"
)

// BuildRouter serves s under c.Root, and the metrics registry at /metrics
// if reg is not nil
func BuildRouter(c Config, s *rigol.Scope, mon *monitor.Monitor, reg *prometheus.Registry) chi.Router {
	w := scope.NewHTTPScope(s, mon)
	lock := locker.New()
	locker.Inject(w, lock)

	mux := chi.NewRouter()
	mux.Use(lock.Check)
	w.RT().Bind(mux)

	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount(generichttp.SubMuxSanitize(c.Root), mux)
	if reg != nil {
		root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	return root
}

func run(c Config, lg *log.Logger) error {
	var (
		reg *prometheus.Registry
		obs capture.Observer
	)
	if c.Metrics {
		reg = prometheus.NewRegistry()
		m, err := metrics.New(reg)
		if err != nil {
			return err
		}
		obs = m
	}
	s, err := openScope(c, lg, obs)
	if err != nil {
		return err
	}
	defer s.Close()

	var mon *monitor.Monitor
	if c.Monitor.Interval > 0 && len(c.Monitor.Items) > 0 {
		mon, err = monitor.New(s, c.Monitor.Items, c.Monitor.Interval, c.Monitor.Capacity, lg)
		if err != nil {
			return err
		}
		mon.Start()
		defer mon.Stop()
	}

	srv := &http.Server{Addr: c.Addr, Handler: BuildRouter(c, s, mon, reg)}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()
	lg.Info("now listening for requests", "addr", c.Addr, "root", generichttp.SubMuxSanitize(c.Root))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
