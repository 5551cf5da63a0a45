package grpcclient

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	apperrors "github.com/GriffinCanCode/screenwatch/internal/errors"
	"github.com/GriffinCanCode/screenwatch/internal/resilience"
	"github.com/GriffinCanCode/screenwatch/internal/trace"
)

// Client wraps the health service client
type Client struct {
	conn   *grpc.ClientConn
	Health healthpb.HealthClient
	retry  resilience.RetryConfig
}

// New creates a client for addr. Extra dial options are appended.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    DefaultKeepaliveTime,
			Timeout: DefaultKeepaliveTimeout,
		}),
		grpc.WithChainUnaryInterceptor(trace.UnaryClientInterceptor()),
	}, opts...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.Unavailable, "dial %s", addr)
	}
	return &Client{
		conn:   conn,
		Health: healthpb.NewHealthClient(conn),
		retry:  resilience.DefaultRetryConfig(),
	}, nil
}

// Close closes the gRPC connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Check returns the serving status of service, retrying transient failures.
func (c *Client) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	var status healthpb.HealthCheckResponse_ServingStatus
	err := resilience.Retry(ctx, c.retry, func() error {
		cctx, cancel := context.WithTimeout(ctx, HealthCheckTimeout)
		defer cancel()
		resp, err := c.Health.Check(cctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return err
		}
		status = resp.GetStatus()
		return nil
	})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, apperrors.FromGRPCError(err)
	}
	return status, nil
}
