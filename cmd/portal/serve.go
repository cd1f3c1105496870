package main

import (
	"context"
	"expvar"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"entityportal/internal/portal"
	"entityportal/internal/transport"
)

const shutdownTimeout = 10 * time.Second

// Metrics backends accepted by --metrics.
const (
	metricsPrometheus = "prometheus"
	metricsExpvar     = "expvar"
)

const expvarName = "entityportal_calls"

func newServeCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Host the portal over HTTP",
		Long: `Host the portal over HTTP.

Routes:
  POST /portal/{operation}   remote portal calls
  GET  /healthz              liveness
  GET  /metrics              Prometheus metrics (--metrics prometheus)
  GET  /debug/vars           expvar counters (--metrics expvar)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	cmd.Flags().String(portal.KeyListen, ":8080", "listen address")
	cmd.Flags().Bool(keyTrace, false, "write one JSON trace line per call to stderr")
	cmd.Flags().String(keyMetrics, metricsPrometheus, "metrics backend (prometheus|expvar)")
	return cmd
}

// hostHandler routes portal calls to an in-process router over the
// session's store and exposes the router's metrics through backend.
func (s *session) hostHandler(backend string, reg *prometheus.Registry, tracer portal.Tracer) (http.Handler, error) {
	r := mux.NewRouter()
	var metrics portal.MetricsRecorder
	switch backend {
	case metricsPrometheus, "":
		rec, err := portal.NewPrometheusRecorder(reg)
		if err != nil {
			return nil, err
		}
		metrics = rec
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET").Name("GetMetrics")
	case metricsExpvar:
		rec, err := portal.NewExpvarRecorder(expvarName)
		if err != nil {
			return nil, err
		}
		metrics = rec
		r.Handle("/debug/vars", expvar.Handler()).Methods("GET").Name("GetVars")
	default:
		return nil, errors.Errorf("unknown metrics backend %q", backend)
	}
	router := s.router(portal.WithMetrics(metrics), portal.WithTracer(tracer))

	r.PathPrefix("/").Handler(transport.Handler(router, s.logger.Named("host"),
		transport.WithHostIdentity(transport.HeaderIdentity)))
	return r, nil
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := opts.open(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	var tracer portal.Tracer
	if opts.v.GetBool(keyTrace) {
		tracer = portal.NewJSONTracer(cmd.ErrOrStderr())
	}
	handler, err := s.hostHandler(opts.v.GetString(keyMetrics), reg, tracer)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              opts.v.GetString(portal.KeyListen),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Infow("portal listening",
		"addr", srv.Addr,
		"storage", opts.v.GetString(portal.KeyStorageDriver),
		"auth", s.config.AuthenticationMode())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	s.logger.Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
