package collective

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/hpc/Spindle/pkg/logutil"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const serviceName = "pynamic.Collective"

const maxMsgSize = 64 * 1024 * 1024

type collectiveServer interface {
	Join(context.Context, *JoinRequest) (*Ack, error)
	Barrier(context.Context, *ArriveRequest) (*Ack, error)
	Contribute(context.Context, *ContributeRequest) (*Ack, error)
	Result(context.Context, *ResultRequest) (*Contribution, error)
}

func unary[Req, Resp any](name string, call func(collectiveServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(collectiveServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(collectiveServer), ctx, req.(*Req))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*collectiveServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Join", collectiveServer.Join),
		unary("Barrier", collectiveServer.Barrier),
		unary("Contribute", collectiveServer.Contribute),
		unary("Result", collectiveServer.Result),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pynamic/collective",
}

// Server exposes rank 0's hub to the other ranks.
type Server struct {
	hub   *Hub
	runID string
	srv   *grpc.Server
}

func NewServer(hub *Hub, runID string) *Server {
	s := &Server{hub: hub, runID: runID}
	s.srv = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
		grpc.UnaryInterceptor(logCalls),
	)
	s.srv.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) Serve(lis net.Listener) error {
	return s.srv.Serve(lis)
}

func (s *Server) Stop() {
	s.srv.GracefulStop()
}

func (s *Server) Join(ctx context.Context, in *JoinRequest) (*Ack, error) {
	if in.RunID != s.runID {
		return nil, status.Errorf(codes.FailedPrecondition, "rank %d belongs to run %q, coordinator runs %q", in.Rank, in.RunID, s.runID)
	}
	if in.Size != s.hub.Size() {
		return nil, status.Errorf(codes.FailedPrecondition, "rank %d expects %d ranks, coordinator has %d", in.Rank, in.Size, s.hub.Size())
	}
	logutil.GetLogger().Debug("rank joining", zap.Int("rank", in.Rank))
	return &Ack{}, toStatus(s.hub.Arrive(ctx, 0, in.Rank))
}

func (s *Server) Barrier(ctx context.Context, in *ArriveRequest) (*Ack, error) {
	return &Ack{}, toStatus(s.hub.Arrive(ctx, in.Seq, in.Rank))
}

func (s *Server) Contribute(ctx context.Context, in *ContributeRequest) (*Ack, error) {
	return &Ack{}, toStatus(s.hub.Contribute(ctx, in.Seq, in.Root, in.Contribution))
}

func (s *Server) Result(ctx context.Context, in *ResultRequest) (*Contribution, error) {
	res, err := s.hub.Result(ctx, in.Seq)
	if err != nil {
		return nil, toStatus(err)
	}
	return &res, nil
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		logutil.GetLogger().Warn("collective call failed", zap.String("method", info.FullMethod), zap.Error(err))
	}
	return resp, err
}

func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, ErrOrderMismatch):
		return status.Error(codes.Aborted, err.Error())
	default:
		return status.Error(codes.InvalidArgument, err.Error())
	}
}

func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.Aborted:
		return fmt.Errorf("%w: %s", ErrOrderMismatch, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrJoinRejected, st.Message())
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
}
