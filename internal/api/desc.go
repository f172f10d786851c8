package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified grpc service name.
	ServiceName = "inbox.v1.InboxService"
	// ProtoFile is the service definition, relative to the proto/ root.
	ProtoFile = "inbox/v1/inbox.proto"
)

// InboxServer is the daemon API declared in proto/inbox/v1/inbox.proto.
// Requests and replies travel as google.protobuf.Struct.
type InboxServer interface {
	GetStatus(context.Context, *StatusRequest) (*StatusReply, error)
	ListChats(context.Context, *ListChatsRequest) (*ListChatsReply, error)
	GetChat(context.Context, *ChatRequest) (*Chat, error)
	SetActive(context.Context, *ChatRequest) (*SetActiveReply, error)
	SendText(context.Context, *SendTextRequest) (*SendReply, error)
	SendMedia(context.Context, *SendMediaRequest) (*SendReply, error)
	ListOutbound(context.Context, *ListOutboundRequest) (*ListOutboundReply, error)
	Reset(context.Context, *ResetRequest) (*ResetReply, error)
	WatchEvents(*WatchRequest, EventStream) error
}

// EventStream is the server side of WatchEvents.
type EventStream interface {
	Send(*Envelope) error
	Context() context.Context
}

// ServiceDesc describes InboxServer for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InboxServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GetStatus", InboxServer.GetStatus),
		unary("ListChats", InboxServer.ListChats),
		unary("GetChat", InboxServer.GetChat),
		unary("SetActive", InboxServer.SetActive),
		unary("SendText", InboxServer.SendText),
		unary("SendMedia", InboxServer.SendMedia),
		unary("ListOutbound", InboxServer.ListOutbound),
		unary("Reset", InboxServer.Reset),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: ProtoFile,
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv InboxServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func unary[Req, Rep any](name string, call func(InboxServer, context.Context, *Req) (*Rep, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req any) (any, error) {
				r := new(Req)
				if err := fromStruct(req.(*structpb.Struct), r); err != nil {
					return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
				}
				rep, err := call(srv.(InboxServer), ctx, r)
				if err != nil {
					return nil, err
				}
				return toStruct(rep)
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	req := new(WatchRequest)
	if err := fromStruct(in, req); err != nil {
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return srv.(InboxServer).WatchEvents(req, &eventStream{stream})
}

type eventStream struct {
	grpc.ServerStream
}

func (s *eventStream) Send(env *Envelope) error {
	out, err := toStruct(env)
	if err != nil {
		return err
	}
	return s.ServerStream.SendMsg(out)
}
