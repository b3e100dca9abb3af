package nbi

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// SimulationServiceName is the fully-qualified gRPC service name.
const SimulationServiceName = "wansim.v1.SimulationService"

// Method names of SimulationService.
const (
	MethodConfigure         = "Configure"
	MethodAddLink           = "AddLink"
	MethodUpdateLink        = "UpdateLink"
	MethodRemoveLink        = "RemoveLink"
	MethodListLinks         = "ListLinks"
	MethodGetTopology       = "GetTopology"
	MethodSetAlgorithm      = "SetAlgorithm"
	MethodSetGenerationRate = "SetGenerationRate"
	MethodSetSpeed          = "SetSpeed"
	MethodSetTotalPackets   = "SetTotalPackets"
	MethodStart             = "Start"
	MethodStop              = "Stop"
	MethodGetStatus         = "GetStatus"
	MethodGetFrame          = "GetFrame"
	MethodGetStats          = "GetStats"
)

// SimulationServiceServer is the server API for SimulationService. Request
// and response payloads are Struct messages shaped like the domain types'
// JSON form; see the types package.
type SimulationServiceServer interface {
	Configure(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddLink(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateLink(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveLink(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListLinks(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetTopology(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	SetAlgorithm(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetGenerationRate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSpeed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetTotalPackets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetFrame(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetStats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterSimulationServiceServer registers srv on s.
func RegisterSimulationServiceServer(s grpc.ServiceRegistrar, srv SimulationServiceServer) {
	s.RegisterService(&SimulationServiceDesc, srv)
}

// SimulationServiceDesc is the grpc.ServiceDesc for SimulationService.
var SimulationServiceDesc = grpc.ServiceDesc{
	ServiceName: SimulationServiceName,
	HandlerType: (*SimulationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodConfigure, Handler: unary(MethodConfigure, newStruct, SimulationServiceServer.Configure)},
		{MethodName: MethodAddLink, Handler: unary(MethodAddLink, newStruct, SimulationServiceServer.AddLink)},
		{MethodName: MethodUpdateLink, Handler: unary(MethodUpdateLink, newStruct, SimulationServiceServer.UpdateLink)},
		{MethodName: MethodRemoveLink, Handler: unary(MethodRemoveLink, newStruct, SimulationServiceServer.RemoveLink)},
		{MethodName: MethodListLinks, Handler: unary(MethodListLinks, newEmpty, SimulationServiceServer.ListLinks)},
		{MethodName: MethodGetTopology, Handler: unary(MethodGetTopology, newEmpty, SimulationServiceServer.GetTopology)},
		{MethodName: MethodSetAlgorithm, Handler: unary(MethodSetAlgorithm, newStruct, SimulationServiceServer.SetAlgorithm)},
		{MethodName: MethodSetGenerationRate, Handler: unary(MethodSetGenerationRate, newStruct, SimulationServiceServer.SetGenerationRate)},
		{MethodName: MethodSetSpeed, Handler: unary(MethodSetSpeed, newStruct, SimulationServiceServer.SetSpeed)},
		{MethodName: MethodSetTotalPackets, Handler: unary(MethodSetTotalPackets, newStruct, SimulationServiceServer.SetTotalPackets)},
		{MethodName: MethodStart, Handler: unary(MethodStart, newEmpty, SimulationServiceServer.Start)},
		{MethodName: MethodStop, Handler: unary(MethodStop, newEmpty, SimulationServiceServer.Stop)},
		{MethodName: MethodGetStatus, Handler: unary(MethodGetStatus, newEmpty, SimulationServiceServer.GetStatus)},
		{MethodName: MethodGetFrame, Handler: unary(MethodGetFrame, newEmpty, SimulationServiceServer.GetFrame)},
		{MethodName: MethodGetStats, Handler: unary(MethodGetStats, newEmpty, SimulationServiceServer.GetStats)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "wansim/v1/simulation.proto",
}

func newStruct() *structpb.Struct { return &structpb.Struct{} }
func newEmpty() *emptypb.Empty    { return &emptypb.Empty{} }

func fullMethod(method string) string { return "/" + SimulationServiceName + "/" + method }

// unary adapts a typed server method to a grpc.MethodHandler, running it
// through the server's interceptor chain when one is installed.
func unary[Req, Resp proto.Message](
	method string,
	newReq func() Req,
	call func(SimulationServiceServer, context.Context, Req) (Resp, error),
) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SimulationServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(SimulationServiceServer), ctx, req.(Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// SimulationServiceClient is the raw client API for SimulationService.
type SimulationServiceClient interface {
	Invoke(ctx context.Context, method string, in, out proto.Message, opts ...grpc.CallOption) error
}

type simulationServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSimulationServiceClient wraps cc.
func NewSimulationServiceClient(cc grpc.ClientConnInterface) SimulationServiceClient {
	return &simulationServiceClient{cc: cc}
}

func (c *simulationServiceClient) Invoke(ctx context.Context, method string, in, out proto.Message, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}
