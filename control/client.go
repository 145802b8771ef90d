package control

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"simhost/shared"
)

// Dial opens a plaintext, traced connection to a control service.
func Dial(target string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial control service %s: %w", target, err)
	}
	return conn, nil
}

// Client calls the control service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an open connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Start asks the clock to run.
func (c *Client) Start(ctx context.Context) (shared.Status, error) {
	return c.invoke(ctx, StartMethod, &emptypb.Empty{})
}

// Pause asks the clock to pause.
func (c *Client) Pause(ctx context.Context) (shared.Status, error) {
	return c.invoke(ctx, PauseMethod, &emptypb.Empty{})
}

// Reset asks the clock to reset.
func (c *Client) Reset(ctx context.Context) (shared.Status, error) {
	return c.invoke(ctx, ResetMethod, &emptypb.Empty{})
}

// SetSpeed requests a speed multiplier; the returned status holds the
// applied value.
func (c *Client) SetSpeed(ctx context.Context, speed float64) (shared.Status, error) {
	return c.invoke(ctx, SetSpeedMethod, wrapperspb.Double(speed))
}

// Status fetches the clock status.
func (c *Client) Status(ctx context.Context) (shared.Status, error) {
	return c.invoke(ctx, GetStatusMethod, &emptypb.Empty{})
}

func (c *Client) invoke(ctx context.Context, method string, in any) (shared.Status, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out); err != nil {
		return shared.Status{}, err
	}
	return StatusFromStruct(out)
}

// Watch opens the frame stream and calls fn for every frame until the server
// ends the stream, ctx is cancelled, or fn returns an error. A stream ended by
// the server returns nil.
func (c *Client) Watch(ctx context.Context, fn func(shared.Frame) error) error {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], WatchMethod)
	if err != nil {
		return err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := x.CloseSend(); err != nil {
		return err
	}

	for {
		msg, err := x.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		frame, err := FrameFromStruct(msg)
		if err != nil {
			return err
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
