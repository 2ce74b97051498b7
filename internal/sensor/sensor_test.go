package sensor

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/reward"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// #region fakes
type fakeEvaluator struct {
	prepareErr error
	ready      bool
	signal     reward.Signal
	lastWindow time.Duration
}

func (f *fakeEvaluator) Prepare(context.Context) error {
	if f.prepareErr != nil {
		return f.prepareErr
	}
	f.ready = true
	return nil
}
func (f *fakeEvaluator) Available() bool { return f.ready }
func (f *fakeEvaluator) Evaluate(_ context.Context, window time.Duration) reward.Signal {
	f.lastWindow = window
	return f.signal
}
func (f *fakeEvaluator) Close() error { return nil }

type mockSensorService struct {
	prepareResp *wrapperspb.BoolValue
	prepareErr  error
	evalResp    *structpb.Struct
	evalErr     error
	deadline    time.Duration
}

func (m *mockSensorService) Prepare(_ context.Context, _ *emptypb.Empty, _ ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	return m.prepareResp, m.prepareErr
}

func (m *mockSensorService) Evaluate(ctx context.Context, _ *durationpb.Duration, _ ...grpc.CallOption) (*structpb.Struct, error) {
	if d, ok := ctx.Deadline(); ok {
		m.deadline = time.Until(d)
	}
	return m.evalResp, m.evalErr
}
// #endregion fakes

func startServer(t *testing.T, ev reward.Evaluator) *Client {
	t.Helper()
	return startServerWithLogger(t, ev, nil)
}

func startServerWithLogger(t *testing.T, ev reward.Evaluator, logger *zap.Logger) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterRewardSensorServer(srv, NewServer(ev, logger))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	c, err := NewClient("passthrough:///bufnet", time.Second, nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRoundTripOverGRPC(t *testing.T) {
	ev := &fakeEvaluator{signal: reward.Signal{Score: 0.6, Confidence: 0.75, RawFeatures: []float64{0.1, 0.9}}}
	c := startServer(t, ev)

	ctx := context.Background()
	require.NoError(t, c.Prepare(ctx))
	require.True(t, c.Available())

	sig := c.Evaluate(ctx, 3*time.Second)
	assert.InDelta(t, 0.6, sig.Score, 1e-12)
	assert.InDelta(t, 0.75, sig.Confidence, 1e-12)
	assert.Equal(t, []float64{0.1, 0.9}, sig.RawFeatures)
	assert.Equal(t, 3*time.Second, ev.lastWindow)
}

func TestRemotePrepareFailureDegrades(t *testing.T) {
	ev := &fakeEvaluator{prepareErr: errors.New("camera busy"), signal: reward.Signal{Score: 1, Confidence: 1}}
	c := startServer(t, ev)

	assert.Error(t, c.Prepare(context.Background()))
	assert.False(t, c.Available())
	assert.Equal(t, reward.Neutral(), c.Evaluate(context.Background(), time.Second))
}

func TestServerLogsPrepareFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ev := &fakeEvaluator{prepareErr: errors.New("camera busy")}
	c := startServerWithLogger(t, ev, zap.New(core))

	assert.Error(t, c.Prepare(context.Background()))
	entries := logs.FilterMessage("evaluator prepare failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "camera busy", entries[0].ContextMap()["error"])
}

func TestEvaluateRPCErrorIsNeutral(t *testing.T) {
	svc := &mockSensorService{prepareResp: wrapperspb.Bool(true), evalErr: errors.New("unavailable")}
	c := NewClientWithService(svc, 500*time.Millisecond, nil)
	require.NoError(t, c.Prepare(context.Background()))

	assert.Equal(t, reward.Neutral(), c.Evaluate(context.Background(), 2*time.Second))
	assert.InDelta(t, (2500 * time.Millisecond).Seconds(), svc.deadline.Seconds(), 0.1)
}

func TestEvaluateClampsRemoteValues(t *testing.T) {
	st, err := structpb.NewStruct(map[string]any{"score": 4.0, "confidence": -1.0})
	require.NoError(t, err)
	svc := &mockSensorService{prepareResp: wrapperspb.Bool(true), evalResp: st}
	c := NewClientWithService(svc, 0, nil)
	require.NoError(t, c.Prepare(context.Background()))

	sig := c.Evaluate(context.Background(), time.Second)
	assert.Equal(t, 1.0, sig.Score)
	assert.Equal(t, 0.0, sig.Confidence)
	assert.Nil(t, sig.RawFeatures)
}

func TestPrepareRPCError(t *testing.T) {
	c := NewClientWithService(&mockSensorService{prepareErr: errors.New("down")}, 0, nil)
	assert.Error(t, c.Prepare(context.Background()))
	assert.False(t, c.Available())
	assert.NoError(t, c.Close())
}
