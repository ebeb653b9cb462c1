// Package feed exposes session event logs over grpc. The service is
// described by hand instead of generated code: messages travel as JSON
// through the codec registered in internal/rpc/codec, so the descriptor
// only has to name the methods and wire up the handler plumbing.
package feed

import (
	"context"

	"chronicle/internal/events"

	"google.golang.org/grpc"
)

const ServiceName = "chronicle.feed.Feed"

const (
	MethodStreamEvents = "/" + ServiceName + "/StreamEvents"
	MethodAncestry     = "/" + ServiceName + "/Ancestry"
)

// StreamEventsRequest opens a live tail of one session's log. Events with
// Sequence < FromSeq are skipped during replay.
type StreamEventsRequest struct {
	SessionID string `json:"sessionId"`
	FromSeq   int64  `json:"fromSeq,omitempty"`
}

type AncestryRequest struct {
	SessionID string `json:"sessionId"`
}

// AncestryResponse carries the session's history root-first across fork
// segments, already in definitive order.
type AncestryResponse struct {
	SessionID string         `json:"sessionId"`
	Events    []events.Event `json:"events"`
}

type FeedServer interface {
	StreamEvents(*StreamEventsRequest, FeedStreamEventsServer) error
	Ancestry(context.Context, *AncestryRequest) (*AncestryResponse, error)
}

type FeedStreamEventsServer interface {
	Send(*events.Event) error
	grpc.ServerStream
}

type feedStreamEventsServer struct {
	grpc.ServerStream
}

func (s *feedStreamEventsServer) Send(ev *events.Event) error {
	return s.ServerStream.SendMsg(ev)
}

func RegisterFeedServer(reg grpc.ServiceRegistrar, srv FeedServer) {
	reg.RegisterService(&FeedServiceDesc, srv)
}

var FeedServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FeedServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Ancestry",
			Handler:    _Feed_Ancestry_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       _Feed_StreamEvents_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "proto/feed.proto",
}

func _Feed_Ancestry_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AncestryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FeedServer).Ancestry(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodAncestry}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FeedServer).Ancestry(ctx, req.(*AncestryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Feed_StreamEvents_Handler(srv any, stream grpc.ServerStream) error {
	in := new(StreamEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(FeedServer).StreamEvents(in, &feedStreamEventsServer{ServerStream: stream})
}

type FeedClient interface {
	StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (FeedStreamEventsClient, error)
	Ancestry(ctx context.Context, in *AncestryRequest, opts ...grpc.CallOption) (*AncestryResponse, error)
}

type FeedStreamEventsClient interface {
	Recv() (*events.Event, error)
	grpc.ClientStream
}

type feedClient struct {
	cc grpc.ClientConnInterface
}

func NewFeedClient(cc grpc.ClientConnInterface) FeedClient {
	return &feedClient{cc: cc}
}

func (c *feedClient) StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (FeedStreamEventsClient, error) {
	stream, err := c.cc.NewStream(ctx, &FeedServiceDesc.Streams[0], MethodStreamEvents, opts...)
	if err != nil {
		return nil, err
	}
	x := &feedStreamEventsClient{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *feedClient) Ancestry(ctx context.Context, in *AncestryRequest, opts ...grpc.CallOption) (*AncestryResponse, error) {
	out := new(AncestryResponse)
	if err := c.cc.Invoke(ctx, MethodAncestry, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type feedStreamEventsClient struct {
	grpc.ClientStream
}

func (x *feedStreamEventsClient) Recv() (*events.Event, error) {
	ev := new(events.Event)
	if err := x.ClientStream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}
