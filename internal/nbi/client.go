package nbi

import (
	"context"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/wan-balancer-sim/core"
	"github.com/signalsfoundry/wan-balancer-sim/internal/nbi/types"
	"github.com/signalsfoundry/wan-balancer-sim/internal/sim"
	"github.com/signalsfoundry/wan-balancer-sim/kb"
	"github.com/signalsfoundry/wan-balancer-sim/model"
)

// Client is a typed client for SimulationService.
type Client struct {
	conn   *grpc.ClientConn
	raw    SimulationServiceClient
	health healthpb.HealthClient
}

// Dial connects to a SimulationService at addr over plaintext. Extra dial
// options are applied after the defaults.
func Dial(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	}
	dialOpts = append(dialOpts, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewClient(conn), nil
}

// NewClient wraps an existing connection. Close will close conn.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{
		conn:   conn,
		raw:    NewSimulationServiceClient(conn),
		health: healthpb.NewHealthClient(conn),
	}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) Configure(ctx context.Context, sites, hostsPerSite int) (kb.Snapshot, error) {
	return call[kb.Snapshot](ctx, c, MethodConfigure, types.ConfigureRequest{Sites: sites, HostsPerSite: hostsPerSite})
}

func (c *Client) AddLink(ctx context.Context, cfg kb.LinkConfig) (model.WanLink, error) {
	return call[model.WanLink](ctx, c, MethodAddLink, cfg)
}

func (c *Client) UpdateLink(ctx context.Context, id string, patch kb.LinkPatch) (model.WanLink, error) {
	return call[model.WanLink](ctx, c, MethodUpdateLink, types.UpdateLinkRequest{ID: id, LinkPatch: patch})
}

func (c *Client) RemoveLink(ctx context.Context, id string) error {
	in, err := types.ToStruct(types.LinkIDRequest{ID: id})
	if err != nil {
		return err
	}
	return c.raw.Invoke(ctx, MethodRemoveLink, in, &emptypb.Empty{})
}

func (c *Client) ListLinks(ctx context.Context) ([]model.WanLink, error) {
	out, err := call[types.LinkList[model.WanLink]](ctx, c, MethodListLinks, nil)
	return out.Links, err
}

func (c *Client) Topology(ctx context.Context) (kb.Snapshot, error) {
	return call[kb.Snapshot](ctx, c, MethodGetTopology, nil)
}

func (c *Client) SetAlgorithm(ctx context.Context, algorithm string) (sim.Status, error) {
	return call[sim.Status](ctx, c, MethodSetAlgorithm, types.AlgorithmRequest{Algorithm: algorithm})
}

func (c *Client) SetGenerationRate(ctx context.Context, rate float64) (sim.Status, error) {
	return call[sim.Status](ctx, c, MethodSetGenerationRate, types.RateRequest{Rate: rate})
}

func (c *Client) SetSpeed(ctx context.Context, speed float64) (sim.Status, error) {
	return call[sim.Status](ctx, c, MethodSetSpeed, types.SpeedRequest{Speed: speed})
}

func (c *Client) SetTotalPackets(ctx context.Context, n int) (sim.Status, error) {
	return call[sim.Status](ctx, c, MethodSetTotalPackets, types.TotalPacketsRequest{TotalPackets: n})
}

// Start begins a run and returns its id.
func (c *Client) Start(ctx context.Context) (string, error) {
	out, err := call[types.StartResponse](ctx, c, MethodStart, nil)
	return out.RunID, err
}

func (c *Client) Stop(ctx context.Context) (sim.Status, error) {
	return call[sim.Status](ctx, c, MethodStop, nil)
}

func (c *Client) Status(ctx context.Context) (sim.Status, error) {
	return call[sim.Status](ctx, c, MethodGetStatus, nil)
}

func (c *Client) Frame(ctx context.Context) (sim.Frame, error) {
	return call[sim.Frame](ctx, c, MethodGetFrame, nil)
}

func (c *Client) Stats(ctx context.Context) (core.Stats, error) {
	return call[core.Stats](ctx, c, MethodGetStats, nil)
}

// Healthy reports whether the server's SimulationService is serving.
func (c *Client) Healthy(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: SimulationServiceName})
	if err != nil {
		return false, err
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// call invokes method with req encoded as a Struct, or Empty when req is
// nil, and decodes the Struct response into T.
func call[T any](ctx context.Context, c *Client, method string, req any) (T, error) {
	var out T
	var in proto.Message = &emptypb.Empty{}
	if req != nil {
		s, err := types.ToStruct(req)
		if err != nil {
			return out, err
		}
		in = s
	}
	resp := &structpb.Struct{}
	if err := c.raw.Invoke(ctx, method, in, resp); err != nil {
		return out, err
	}
	if err := types.FromStruct(resp, &out); err != nil {
		return out, err
	}
	return out, nil
}
