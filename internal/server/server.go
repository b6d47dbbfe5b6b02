// Package server exposes the command gateway and the event feed over gRPC.
//
// The service is described by hand (aging.v1.AgingService) with
// google.protobuf.Struct messages whose fields mirror the JSON command
// payloads, so no generated stubs are needed.
package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/devghori1264/agingwms/internal/events"
	"github.com/devghori1264/agingwms/internal/gateway"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName = "aging.v1.AgingService"
	pingMethod  = "Ping"
	watchStream = "Watch"
)

// Dispatcher is implemented by *gateway.Gateway.
type Dispatcher interface {
	Dispatch(ctx context.Context, command string, payload []byte) gateway.Result
}

// AgingServiceServer is the handler type of the service description.
type AgingServiceServer interface {
	Call(ctx context.Context, command string, in *structpb.Struct) (*structpb.Struct, error)
	Watch(in *structpb.Struct, stream grpc.ServerStream) error
}

// Server implements AgingServiceServer.
type Server struct {
	gw  Dispatcher
	hub *events.Hub
	log *zap.Logger
}

// New creates a new server instance.
func New(gw Dispatcher, hub *events.Hub, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{gw: gw, hub: hub, log: log.Named("grpc")}
}

// RegisterGRPC registers the gRPC handlers.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Call runs one gateway command. Command failures travel in the result
// body; only an undecodable request is a gRPC error.
func (s *Server) Call(ctx context.Context, command string, in *structpb.Struct) (*structpb.Struct, error) {
	if command == pingMethod {
		return structpb.NewStruct(map[string]any{"msg": "pong from agingd"})
	}
	var payload []byte
	if in != nil && len(in.GetFields()) > 0 {
		b, err := in.MarshalJSON()
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode %s request: %v", command, err)
		}
		payload = b
	}
	return toStruct(s.gw.Dispatch(ctx, command, payload))
}

// Watch streams events as Structs with an "event" discriminator. The request
// may carry "slot_id" to narrow the feed.
func (s *Server) Watch(in *structpb.Struct, stream grpc.ServerStream) error {
	slot := in.GetFields()["slot_id"].GetStringValue()
	sub := s.hub.Subscribe(256, slot)
	defer sub.Close()
	s.log.Debug("watch opened", zap.String("slot", slot))

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C:
			if !ok {
				return nil
			}
			name, payload := "telemetry", any(ev.Telemetry)
			if ev.StepState != nil {
				name, payload = "stepstate", ev.StepState
			}
			msg, err := toStruct(map[string]any{"event": name, "data": payload})
			if err != nil {
				return err
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

// Stop drains gs and forces it closed once ctx ends. Watch streams outlive
// GracefulStop until their hub is closed.
func Stop(ctx context.Context, gs *grpc.Server) error {
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		gs.Stop()
		<-done
		return ctx.Err()
	}
}

// ServiceDesc describes aging.v1.AgingService: one unary method per gateway
// command plus Ping, and the server-streaming Watch.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgingServiceServer)(nil),
	Methods:     methodDescs(),
	Streams: []grpc.StreamDesc{{
		StreamName:    watchStream,
		Handler:       watchHandler,
		ServerStreams: true,
	}},
	Metadata: "aging/v1/aging.proto",
}

func methodDescs() []grpc.MethodDesc {
	names := append([]string{pingMethod}, gateway.Commands...)
	out := make([]grpc.MethodDesc, 0, len(names))
	for _, name := range names {
		out = append(out, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name)})
	}
	return out
}

func unaryHandler(command string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		h := srv.(AgingServiceServer)
		if interceptor == nil {
			return h.Call(ctx, command, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(command)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return h.Call(ctx, command, req.(*structpb.Struct))
		})
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AgingServiceServer).Watch(in, stream)
}

// FullMethod returns the gRPC method path of command.
func FullMethod(command string) string {
	return "/" + ServiceName + "/" + command
}

// LoggingInterceptor logs every unary call with its latency.
func LoggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Debug("grpc call", zap.String("method", info.FullMethod), zap.Duration("took", time.Since(start)), zap.Error(err))
		return resp, err
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := out.UnmarshalJSON(b); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
