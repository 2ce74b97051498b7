package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/reward"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region service-desc
const (
	serviceName     = "companion.sensor.v1.RewardSensor"
	prepareMethod   = "/" + serviceName + "/Prepare"
	evaluateMethod  = "/" + serviceName + "/Evaluate"
	fieldScore      = "score"
	fieldConfidence = "confidence"
	fieldFeatures   = "raw_features"
)

// RewardSensorClient is the client API of the RewardSensor service.
type RewardSensorClient interface {
	Prepare(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	Evaluate(ctx context.Context, in *durationpb.Duration, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// RewardSensorServer is the server API of the RewardSensor service.
type RewardSensorServer interface {
	Prepare(ctx context.Context, in *emptypb.Empty) (*wrapperspb.BoolValue, error)
	Evaluate(ctx context.Context, in *durationpb.Duration) (*structpb.Struct, error)
}

type rewardSensorClient struct {
	cc grpc.ClientConnInterface
}

// NewRewardSensorClient binds the service to a connection.
func NewRewardSensorClient(cc grpc.ClientConnInterface) RewardSensorClient {
	return &rewardSensorClient{cc: cc}
}

func (c *rewardSensorClient) Prepare(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, prepareMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *rewardSensorClient) Evaluate(ctx context.Context, in *durationpb.Duration, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, evaluateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RewardSensorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Prepare", Handler: prepareHandler},
		{MethodName: "Evaluate", Handler: evaluateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "companion/sensor/v1/sensor.proto",
}

// RegisterRewardSensorServer exposes srv on s.
func RegisterRewardSensorServer(s grpc.ServiceRegistrar, srv RewardSensorServer) {
	s.RegisterService(&serviceDesc, srv)
}

func prepareHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RewardSensorServer).Prepare(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: prepareMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RewardSensorServer).Prepare(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func evaluateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(durationpb.Duration)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RewardSensorServer).Evaluate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: evaluateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RewardSensorServer).Evaluate(ctx, req.(*durationpb.Duration))
	}
	return interceptor(ctx, in, info, handler)
}
// #endregion service-desc

// #region server
// Server exposes a local reward.Evaluator over gRPC.
type Server struct {
	evaluator reward.Evaluator
	logger    *zap.Logger
}

// NewServer wraps ev. A nil logger discards output.
func NewServer(ev reward.Evaluator, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{evaluator: ev, logger: logger}
}

// Prepare reports whether the wrapped evaluator is usable after preparing it.
// The failure reason stays on the server side; the client only sees false.
func (s *Server) Prepare(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BoolValue, error) {
	if err := s.evaluator.Prepare(ctx); err != nil {
		s.logger.Warn("evaluator prepare failed", zap.Error(err))
	}
	return wrapperspb.Bool(s.evaluator.Available()), nil
}

// Evaluate observes for the requested window.
func (s *Server) Evaluate(ctx context.Context, in *durationpb.Duration) (*structpb.Struct, error) {
	if err := in.CheckValid(); err != nil {
		return nil, fmt.Errorf("window: %w", err)
	}
	return encodeSignal(s.evaluator.Evaluate(ctx, in.AsDuration()))
}

func encodeSignal(sig reward.Signal) (*structpb.Struct, error) {
	features := make([]any, len(sig.RawFeatures))
	for i, f := range sig.RawFeatures {
		features[i] = f
	}
	st, err := structpb.NewStruct(map[string]any{
		fieldScore:      sig.Score,
		fieldConfidence: sig.Confidence,
		fieldFeatures:   features,
	})
	if err != nil {
		return nil, fmt.Errorf("encode signal: %w", err)
	}
	return st, nil
}

func decodeSignal(st *structpb.Struct) reward.Signal {
	fields := st.GetFields()
	sig := reward.Signal{
		Score:      fields[fieldScore].GetNumberValue(),
		Confidence: fields[fieldConfidence].GetNumberValue(),
	}
	if list := fields[fieldFeatures].GetListValue(); list != nil && len(list.GetValues()) > 0 {
		sig.RawFeatures = make([]float64, len(list.GetValues()))
		for i, v := range list.GetValues() {
			sig.RawFeatures[i] = v.GetNumberValue()
		}
	}
	return sig.Clamp()
}

// evaluateTimeout bounds one remote evaluation.
func evaluateTimeout(window, grace time.Duration) time.Duration {
	return window + grace
}
// #endregion server
