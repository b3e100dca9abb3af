package nbi

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/wan-balancer-sim/internal/nbi/types"
	"github.com/signalsfoundry/wan-balancer-sim/internal/sim"
	"github.com/signalsfoundry/wan-balancer-sim/model"
)

var (
	// ErrNotFound is a package-level sentinel used when an entity cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrInvalidEntity is a package-level sentinel used for client-side validation failures.
	ErrInvalidEntity = errors.New("invalid entity")
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, sim.ErrLinkNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidEntity),
		errors.Is(err, types.ErrMalformed),
		errors.Is(err, sim.ErrInvalidTopology),
		errors.Is(err, sim.ErrInvalidLink),
		errors.Is(err, sim.ErrInvalidSetting),
		errors.Is(err, model.ErrUnknownAlgorithm):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrTopologyFrozen),
		errors.Is(err, sim.ErrConfigurationRejected),
		errors.Is(err, sim.ErrRunActive):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
