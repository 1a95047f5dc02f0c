package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/rti/internal/config"
	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/internal/observability"
	"github.com/signalsfoundry/rti/internal/savestore"
	"github.com/signalsfoundry/rti/internal/server"
	"github.com/signalsfoundry/rti/internal/transport"
)

const shutdownGrace = 5 * time.Second

// run serves one node until ctx ends. A nil lis listens on
// cfg.ListenAddress.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) error {
	if log == nil {
		log = logging.Noop()
	}
	log = log.With(logging.String("node", cfg.Name))

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := observability.NewRTICollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	store, err := openStore(cfg.SaveDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn(context.Background(), "closing save store failed", logging.Err(err))
		}
	}()

	if lis == nil {
		lis, err = net.Listen("tcp", cfg.ListenAddress)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
		}
	}

	loop := server.NewLoop(server.NewNode(log,
		server.WithName(cfg.Name),
		server.WithDDM(cfg.DDMEnabled),
		server.WithSaveStore(store),
		server.WithMetricsRecorder(collector),
	))
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	if cfg.ParentAddress != "" {
		parent, err := linkParent(ctx, loop, cfg, log)
		if err != nil {
			return err
		}
		defer parent.Close()
	}

	srv := transport.NewServer(loop, log, grpc.ChainStreamInterceptor(collector.StreamServerInterceptor()))
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(lis) }()
	log.Info(ctx, "serving transport", logging.String("addr", lis.Addr().String()), logging.Bool("root", cfg.ParentAddress == ""))

	metricsSrv := serveMetrics(cfg.MetricsAddress, collector, log)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		log.Error(context.Background(), "transport server exited", logging.Err(err))
	}

	log.Info(context.Background(), "shutting down node")
	// Ending the loop erases every connect, which ends their streams.
	stopLoop()
	<-loopDone
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownGrace):
		srv.Stop()
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func openStore(dir string) (savestore.Store, error) {
	if dir == "" {
		return savestore.NewMemoryStore(), nil
	}
	store, err := savestore.OpenPebble(dir)
	if err != nil {
		return nil, fmt.Errorf("open save store %s: %w", dir, err)
	}
	return store, nil
}

// linkParent dials the parent node and attaches the stream as this node's
// upstream connect.
func linkParent(ctx context.Context, loop *server.Loop, cfg config.Config, log logging.Logger) (*transport.Client, error) {
	client, err := transport.Dial(cfg.ParentAddress, log)
	if err != nil {
		return nil, fmt.Errorf("dial parent %s: %w", cfg.ParentAddress, err)
	}
	opts := map[string][]string{"node": {cfg.Name}}
	up, err := client.Connect(context.Background(), opts)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to parent %s: %w", cfg.ParentAddress, err)
	}
	if _, err := loop.AttachParent(ctx, up, opts); err != nil {
		up.Close()
		_ = client.Close()
		return nil, fmt.Errorf("attach parent: %w", err)
	}
	log.Info(ctx, "linked to parent", logging.String("parent", cfg.ParentAddress))
	return client, nil
}

func serveMetrics(addr string, collector *observability.RTICollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
