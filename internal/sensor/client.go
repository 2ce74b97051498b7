package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/edge-companion/internal/reward"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
)

// #region client-struct
// Client is a reward.Evaluator backed by a remote RewardSensor. RPC failures
// degrade to a neutral signal.
type Client struct {
	conn   *grpc.ClientConn
	client RewardSensorClient
	grace  time.Duration
	logger *zap.Logger

	mu        sync.Mutex
	available bool
}
// #endregion client-struct

// #region constructor
// NewClient connects to the sensor at addr. The connection is lazy; Prepare
// performs the first RPC. opts are appended after the insecure transport option.
func NewClient(addr string, grace time.Duration, logger *zap.Logger, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	c := NewClientWithService(NewRewardSensorClient(conn), grace, logger)
	c.conn = conn
	return c, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc RewardSensorClient, grace time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if grace <= 0 {
		grace = time.Second
	}
	return &Client{client: svc, grace: grace, logger: logger}
}
// #endregion constructor

// #region evaluator
// Prepare asks the remote sensor to acquire its hardware.
func (c *Client) Prepare(ctx context.Context) error {
	resp, err := c.client.Prepare(ctx, &emptypb.Empty{})
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.available = false
		return fmt.Errorf("prepare rpc: %w", err)
	}
	c.available = resp.GetValue()
	if !c.available {
		return fmt.Errorf("prepare rpc: sensor unavailable")
	}
	return nil
}

// Available reports the result of the last Prepare.
func (c *Client) Available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// Evaluate runs one remote observation bounded by window plus the grace period.
func (c *Client) Evaluate(ctx context.Context, window time.Duration) reward.Signal {
	if !c.Available() {
		return reward.Neutral()
	}
	ctx, cancel := context.WithTimeout(ctx, evaluateTimeout(window, c.grace))
	defer cancel()

	resp, err := c.client.Evaluate(ctx, durationpb.New(window))
	if err != nil {
		c.logger.Warn("evaluate rpc failed", zap.Error(err))
		return reward.Neutral()
	}
	return decodeSignal(resp)
}

// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.available = false
	c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
// #endregion evaluator
