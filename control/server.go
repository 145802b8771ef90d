package control

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"simhost/apperrors"
	"simhost/events"
	"simhost/shared"
	"simhost/simclock"
)

// watchBuffer is the number of frames queued per Watch stream before new
// frames are dropped.
const watchBuffer = 64

// Server implements ControlServer over a clock and its event directory
type Server struct {
	clock        *simclock.Clock
	dir          *events.Directory
	stateChannel string
	stepChannel  string
	log          *slog.Logger
}

// NewServer creates the control service. stepChannel may be empty, in which
// case Watch streams state changes only.
func NewServer(clock *simclock.Clock, dir *events.Directory, stateChannel, stepChannel string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Server{
		clock:        clock,
		dir:          dir,
		stateChannel: stateChannel,
		stepChannel:  stepChannel,
		log:          log,
	}
}

var _ ControlServer = (*Server)(nil)

// Start implements ControlServer
func (s *Server) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.afterControl(ctx, "start", s.clock.Start())
}

// Pause implements ControlServer
func (s *Server) Pause(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.afterControl(ctx, "pause", s.clock.Pause())
}

// Reset implements ControlServer
func (s *Server) Reset(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.afterControl(ctx, "reset", s.clock.Reset())
}

// SetSpeed implements ControlServer. The reply carries the applied,
// clamped speed.
func (s *Server) SetSpeed(ctx context.Context, in *wrapperspb.DoubleValue) (*structpb.Struct, error) {
	if in == nil {
		return nil, apperrors.GRPCStatus(apperrors.New(apperrors.CodeInvalidArgument, "speed is required"))
	}
	applied := s.clock.SetSpeed(in.GetValue())
	s.log.InfoContext(ctx, "speed changed", slog.Float64("requested", in.GetValue()), slog.Float64("applied", applied))
	return s.status()
}

// GetStatus implements ControlServer
func (s *Server) GetStatus(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.status()
}

// Watch implements ControlServer. It sends a hello frame with the current
// status, then one frame per state change and step until the client goes away.
func (s *Server) Watch(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()

	stateCh, err := events.GetChannel[shared.StateChangeRecord](s.dir, s.stateChannel)
	if err != nil {
		return apperrors.GRPCStatus(err)
	}

	frames := make(chan shared.Frame, watchBuffer)
	enqueue := func(f shared.Frame) {
		select {
		case frames <- f:
		default:
			s.log.Warn("watch stream lagging, frame dropped", slog.String("type", string(f.Type)))
		}
	}

	onState := events.NewListener(func(rec shared.StateChangeRecord) error {
		enqueue(shared.Frame{Type: shared.FrameStateChanged, Record: &rec, Timestamp: time.Now()})
		return nil
	})
	stateCh.Register(onState)
	defer stateCh.Unregister(onState)

	if s.stepChannel != "" {
		if stepCh, err := events.GetChannel[shared.Void](s.dir, s.stepChannel); err == nil {
			onStep := events.NewListener(func(shared.Void) error {
				st := s.clock.Status()
				enqueue(shared.Frame{Type: shared.FrameStep, Status: &st, Timestamp: time.Now()})
				return nil
			})
			stepCh.Register(onStep)
			defer stepCh.Unregister(onStep)
		}
	}

	st := s.clock.Status()
	if err := send(stream, shared.Frame{Type: shared.FrameHello, Status: &st, Timestamp: time.Now()}); err != nil {
		return err
	}
	s.log.Info("watch stream opened")
	defer s.log.Info("watch stream closed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-frames:
			if err := send(stream, f); err != nil {
				return err
			}
		}
	}
}

func send(stream grpc.ServerStreamingServer[structpb.Struct], f shared.Frame) error {
	msg, err := FrameToStruct(f)
	if err != nil {
		return apperrors.GRPCStatus(err)
	}
	return stream.Send(msg)
}

// afterControl turns the result of a control call into a reply. A listener
// failure is reported even though the transition was applied.
func (s *Server) afterControl(ctx context.Context, op string, err error) (*structpb.Struct, error) {
	if err != nil {
		s.log.ErrorContext(ctx, "control call listener failure", slog.String("op", op), slog.String("err", err.Error()))
		return nil, apperrors.GRPCStatus(err)
	}
	return s.status()
}

func (s *Server) status() (*structpb.Struct, error) {
	msg, err := StatusToStruct(s.clock.Status())
	if err != nil {
		return nil, apperrors.GRPCStatus(err)
	}
	return msg, nil
}
