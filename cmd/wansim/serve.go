package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/wan-balancer-sim/internal/config"
	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/internal/nbi"
	"github.com/signalsfoundry/wan-balancer-sim/internal/observability"
	"github.com/signalsfoundry/wan-balancer-sim/internal/sim"
	"github.com/signalsfoundry/wan-balancer-sim/internal/web"
	"github.com/signalsfoundry/wan-balancer-sim/kb"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the gRPC control API, the web UI endpoints and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := logging.New(cfg.Logging())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
			}
			httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				grpcLis.Close()
				return fmt.Errorf("listen %s: %w", cfg.HTTPAddr, err)
			}
			gin.SetMode(gin.ReleaseMode)
			return serve(ctx, cfg, log, grpcLis, httpLis)
		},
	}
	cmd.Flags().String("grpc-addr", "", "TCP address the gRPC control API listens on")
	cmd.Flags().String("http-addr", "", "TCP address for the web API, websocket and /metrics")
	cmd.Flags().String("mode", "", "Clock mode: realtime or accelerated")
	return cmd
}

// buildController assembles a topology from the configured scenario and a
// controller over it.
func buildController(ctx context.Context, cfg *config.Config, log logging.Logger, metrics sim.MetricsRecorder) (*sim.Controller, error) {
	sc, err := loadScenario(cfg.ScenarioPath)
	if err != nil {
		return nil, err
	}
	topo := kb.New()
	summary, err := sc.Apply(topo)
	if err != nil {
		return nil, fmt.Errorf("apply scenario: %w", err)
	}
	log.Info(ctx, "scenario loaded",
		logging.Int("sites", summary.NumSites),
		logging.Int("links", len(summary.LinkIDs)),
	)

	opts := []sim.Option{sim.WithLogger(log)}
	if metrics != nil {
		opts = append(opts, sim.WithMetrics(metrics))
	}
	return sim.NewController(topo, cfg.Sim(), opts...)
}

// serve runs both servers on the given listeners until ctx is done, then
// stops any active run and shuts everything down.
func serve(ctx context.Context, cfg *config.Config, log logging.Logger, grpcLis, httpLis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	rpcMetrics, err := observability.NewRPCCollector(reg)
	if err != nil {
		return fmt.Errorf("rpc metrics: %w", err)
	}
	simMetrics, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("sim metrics: %w", err)
	}

	ctrl, err := buildController(ctx, cfg, log, simMetrics)
	if err != nil {
		return err
	}

	grpcServer := nbi.NewServer(ctrl, nbi.ServerOptions{Log: log, Metrics: rpcMetrics})

	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	hub := web.NewHub(log.With(logging.String("component", "hub")), web.DefaultFrameThrottle)
	go hub.Run(hubCtx)

	webServer := web.NewServer(ctrl, web.Options{
		Log:      log,
		Metrics:  rpcMetrics,
		Gatherer: reg,
		Hub:      hub,
	})
	httpServer := &http.Server{
		Handler:           webServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info(ctx, "gRPC server listening", logging.String("addr", grpcLis.Addr().String()))
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		log.Info(ctx, "HTTP server listening", logging.String("addr", httpLis.Addr().String()))
		if err := httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down")
	case serveErr = <-errCh:
		log.Error(context.Background(), "server failed", logging.Err(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Stop(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "stopping simulation failed", logging.Err(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "HTTP shutdown failed", logging.Err(err))
	}
	cancelHub()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		grpcServer.Stop()
	}
	return serveErr
}
