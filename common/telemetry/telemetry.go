package telemetry

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weftlabs/weft/common/logger"
)

// Opts selects which debug listeners a service exposes.
type Opts struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
	Logger        *logger.Logger
}

// Telemetry serves pprof and Prometheus metrics on their own ports,
// away from the service's API listener.
type Telemetry struct {
	log  *logger.Logger
	opts Opts

	pprof   *http.Server
	metrics *http.Server
}

func New(opts Opts) *Telemetry {
	return &Telemetry{log: opts.Logger, opts: opts}
}

// Start brings up the enabled listeners. Listen failures are logged,
// not returned; a service must not die because a debug port is taken.
func (t *Telemetry) Start(ctx context.Context) error {
	if t.opts.EnablePprof {
		// The pprof handlers register on the default mux via the blank
		// import. Binding to localhost keeps them off the pod network.
		t.pprof = &http.Server{
			Addr:    fmt.Sprintf("localhost:%d", t.opts.PprofPort),
			Handler: http.DefaultServeMux,
		}
		go func() {
			t.log.Info("pprof listening", "addr", t.pprof.Addr)
			if err := t.pprof.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				t.log.Error("pprof server error", "error", err)
			}
		}()
	}

	if t.opts.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		t.metrics = &http.Server{
			Addr:         fmt.Sprintf(":%d", t.opts.MetricsPort),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			t.log.Info("metrics listening", "addr", t.metrics.Addr)
			if err := t.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				t.log.Error("metrics server error", "error", err)
			}
		}()
	}

	return nil
}

// Stop drains whichever listeners Start brought up.
func (t *Telemetry) Stop(ctx context.Context) error {
	var firstErr error
	for _, srv := range []*http.Server{t.pprof, t.metrics} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
