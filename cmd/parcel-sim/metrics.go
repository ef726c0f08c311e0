package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/signalsfoundry/parcel-positioning/internal/logging"
	"github.com/signalsfoundry/parcel-positioning/internal/observability"
)

// serveMetrics exposes collector on addr until the returned server is shut
// down. It returns nil when addr is empty.
func serveMetrics(addr, path string, collector *observability.PositioningCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr), logging.String("path", path))
	return srv
}
