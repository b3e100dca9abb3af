package nbi

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/internal/observability"
	"github.com/signalsfoundry/wan-balancer-sim/internal/sim"
)

// ServerOptions configures NewServer. Nil fields disable the matching
// concern.
type ServerOptions struct {
	Log     logging.Logger
	Metrics *observability.RPCCollector
	// Extra is appended to the server options built here.
	Extra []grpc.ServerOption
}

// NewServer builds a gRPC server exposing SimulationService and the
// standard health service, instrumented with request ids, tracing and
// metrics.
func NewServer(ctrl *sim.Controller, opts ServerOptions) *grpc.Server {
	log := opts.Log
	if log == nil {
		log = logging.Noop()
	}

	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(log),
			TracingUnaryServerInterceptor(),
			opts.Metrics.UnaryServerInterceptor(),
		),
	}
	serverOpts = append(serverOpts, opts.Extra...)
	server := grpc.NewServer(serverOpts...)

	RegisterSimulationServiceServer(server, NewSimulationService(ctrl, log))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(SimulationServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return server
}
