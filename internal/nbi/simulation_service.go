package nbi

import (
	"context"
	"fmt"

	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/internal/nbi/types"
	"github.com/signalsfoundry/wan-balancer-sim/internal/observability"
	"github.com/signalsfoundry/wan-balancer-sim/internal/sim"
	"github.com/signalsfoundry/wan-balancer-sim/kb"
	"github.com/signalsfoundry/wan-balancer-sim/model"
)

// SimulationService implements SimulationServiceServer on top of a
// simulation controller and its topology.
type SimulationService struct {
	ctrl *sim.Controller
	topo *kb.Topology
	log  logging.Logger
}

var _ SimulationServiceServer = (*SimulationService)(nil)

// NewSimulationService constructs a SimulationService bound to ctrl.
func NewSimulationService(ctrl *sim.Controller, log logging.Logger) *SimulationService {
	if log == nil {
		log = logging.Noop()
	}
	s := &SimulationService{ctrl: ctrl, log: log}
	if ctrl != nil {
		s.topo = ctrl.Topology()
	}
	return s
}

func (s *SimulationService) ensureReady() error {
	if s == nil || s.ctrl == nil || s.topo == nil {
		return ToStatusError(fmt.Errorf("simulation service is not initialised"))
	}
	return nil
}

// requestLogger prefers the logger installed by the request-id interceptor.
func (s *SimulationService) requestLogger(ctx context.Context, entity, op string) logging.Logger {
	return logging.FromContext(ctx, s.log).With(
		logging.String("entity_type", entity),
		logging.String("operation", op),
	)
}

// Configure replaces sites and hosts. Existing links are kept.
func (s *SimulationService) Configure(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	reqLog := s.requestLogger(ctx, "topology", "configure")

	var req types.ConfigureRequest
	if err := types.FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if err := ValidateConfigure(req); err != nil {
		reqLog.Debug(ctx, "Configure validation failed", logging.Err(err))
		return nil, ToStatusError(err)
	}

	ctx, span := observability.StartSpan(ctx, "topology/configure", "topology", "")
	defer span.End()

	if err := s.topo.Configure(req.Sites, req.HostsPerSite); err != nil {
		reqLog.Warn(ctx, "Configure failed", logging.Err(err))
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	reqLog.Info(ctx, "topology configured",
		logging.Int("sites", req.Sites),
		logging.Int("hosts_per_site", req.HostsPerSite),
	)
	return respond(s.topo.Snapshot())
}

// AddLink appends a link built from a kb.LinkConfig payload.
func (s *SimulationService) AddLink(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	reqLog := s.requestLogger(ctx, "link", "create")

	var cfg kb.LinkConfig
	if err := types.FromStruct(in, &cfg); err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := observability.StartSpan(ctx, "link/create", "link", "")
	defer span.End()

	link, err := s.topo.AddLink(cfg)
	if err != nil {
		reqLog.Warn(ctx, "AddLink failed", logging.Err(err))
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	reqLog.Info(ctx, "link created",
		logging.String("entity_id", link.ID),
		logging.String("type", link.Type),
	)
	return respond(link)
}

// UpdateLink applies a patch to the link named by "id".
func (s *SimulationService) UpdateLink(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	reqLog := s.requestLogger(ctx, "link", "update")

	var req types.UpdateLinkRequest
	if err := types.FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if err := ValidateLinkID(req.ID); err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := observability.StartSpan(ctx, "link/update", "link", req.ID)
	defer span.End()

	link, err := s.topo.UpdateLink(req.ID, req.LinkPatch)
	if err != nil {
		reqLog.Warn(ctx, "UpdateLink failed", logging.String("entity_id", req.ID), logging.Err(err))
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	reqLog.Info(ctx, "link updated", logging.String("entity_id", link.ID))
	return respond(link)
}

// RemoveLink deletes the link named by "id".
func (s *SimulationService) RemoveLink(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	reqLog := s.requestLogger(ctx, "link", "delete")

	var req types.LinkIDRequest
	if err := types.FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if err := ValidateLinkID(req.ID); err != nil {
		return nil, ToStatusError(err)
	}

	ctx, span := observability.StartSpan(ctx, "link/delete", "link", req.ID)
	defer span.End()

	if err := s.topo.RemoveLink(req.ID); err != nil {
		reqLog.Warn(ctx, "RemoveLink failed", logging.String("entity_id", req.ID), logging.Err(err))
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	reqLog.Info(ctx, "link deleted", logging.String("entity_id", req.ID))
	return &emptypb.Empty{}, nil
}

// ListLinks returns every configured link, eligible or not.
func (s *SimulationService) ListLinks(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return respond(types.LinkList[model.WanLink]{Links: s.topo.Links()})
}

// GetTopology returns a snapshot of sites, hosts and links.
func (s *SimulationService) GetTopology(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return respond(s.topo.Snapshot())
}

// SetAlgorithm selects the algorithm for the next run.
func (s *SimulationService) SetAlgorithm(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	reqLog := s.requestLogger(ctx, "simulation", "set-algorithm")

	var req types.AlgorithmRequest
	if err := types.FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	algo, err := model.ParseAlgorithm(req.Algorithm)
	if err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.ctrl.SetAlgorithm(algo); err != nil {
		reqLog.Warn(ctx, "SetAlgorithm failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	reqLog.Info(ctx, "algorithm selected", logging.String("algorithm", algo.String()))
	return respond(s.ctrl.Status())
}

// SetGenerationRate changes the generation rate, live when running.
func (s *SimulationService) SetGenerationRate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req types.RateRequest
	if err := types.FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.ctrl.SetGenerationRate(req.Rate); err != nil {
		return nil, ToStatusError(err)
	}
	s.requestLogger(ctx, "simulation", "set-rate").Info(ctx, "generation rate changed",
		logging.Float64("rate", req.Rate),
	)
	return respond(s.ctrl.Status())
}

// SetSpeed changes the animation speed, including in-flight packets.
func (s *SimulationService) SetSpeed(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req types.SpeedRequest
	if err := types.FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.ctrl.SetAnimationSpeed(req.Speed); err != nil {
		return nil, ToStatusError(err)
	}
	return respond(s.ctrl.Status())
}

// SetTotalPackets changes the packet budget.
func (s *SimulationService) SetTotalPackets(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	var req types.TotalPacketsRequest
	if err := types.FromStruct(in, &req); err != nil {
		return nil, ToStatusError(err)
	}
	if err := s.ctrl.SetTotalPackets(req.TotalPackets); err != nil {
		return nil, ToStatusError(err)
	}
	return respond(s.ctrl.Status())
}

// Start begins a run.
func (s *SimulationService) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, span := observability.StartSpan(ctx, "simulation/start", "simulation", "")
	defer span.End()

	runID, err := s.ctrl.Start(ctx)
	if err != nil {
		span.RecordError(err)
		s.requestLogger(ctx, "simulation", "start").Warn(ctx, "Start failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return respond(types.StartResponse{RunID: runID})
}

// Stop ends the current run. Stopping an idle simulation succeeds.
func (s *SimulationService) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, span := observability.StartSpan(ctx, "simulation/stop", "simulation", "")
	defer span.End()

	if err := s.ctrl.Stop(ctx); err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return respond(s.ctrl.Status())
}

// GetStatus reports run state and settings.
func (s *SimulationService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return respond(s.ctrl.Status())
}

// GetFrame returns the latest output snapshot.
func (s *SimulationService) GetFrame(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return respond(s.ctrl.Frame())
}

// GetStats returns the latest statistics snapshot.
func (s *SimulationService) GetStats(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return respond(s.ctrl.Stats())
}

func respond(v any) (*structpb.Struct, error) {
	out, err := types.ToStruct(v)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return out, nil
}
