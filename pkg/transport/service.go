// Package transport carries the protocol over a gRPC mesh.
//
// The services are registered through hand-written grpc.ServiceDescs
// with structpb.Struct payloads instead of protoc-generated stubs, so
// the tree builds without a codegen step. Method names follow the
// usual proto naming ("printmesh.v1.MutualExclusion") and the payload
// schema is fixed by the json tags on pkg/types messages.
package transport

import (
	"context"

	"github.com/pixperk/printmesh/pkg/types"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	structpb "google.golang.org/protobuf/types/known/structpb"
)

const (
	mutualExclusionService = "printmesh.v1.MutualExclusion"
	printingService        = "printmesh.v1.Printing"

	methodRequestAccess = "/" + mutualExclusionService + "/RequestAccess"
	methodReleaseAccess = "/" + mutualExclusionService + "/ReleaseAccess"
	methodSendToPrinter = "/" + printingService + "/SendToPrinter"
)

// MutualExclusionServer is the inbound side of the mesh: answering a
// peer's request may block (deferral) until the local guard clears.
type MutualExclusionServer interface {
	RequestAccess(ctx context.Context, req types.AccessRequest) (types.AccessReply, error)
	ReleaseAccess(ctx context.Context, rel types.AccessRelease) error
}

// PrintingServer is implemented by the shared print service.
type PrintingServer interface {
	SendToPrinter(ctx context.Context, req types.PrintRequest) (types.PrintResponse, error)
}

func RegisterMutualExclusionServer(s grpc.ServiceRegistrar, srv MutualExclusionServer) {
	s.RegisterService(&mutualExclusionServiceDesc, srv)
}

func RegisterPrintingServer(s grpc.ServiceRegistrar, srv PrintingServer) {
	s.RegisterService(&printingServiceDesc, srv)
}

var mutualExclusionServiceDesc = grpc.ServiceDesc{
	ServiceName: mutualExclusionService,
	HandlerType: (*MutualExclusionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestAccess", Handler: requestAccessHandler},
		{MethodName: "ReleaseAccess", Handler: releaseAccessHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "printmesh/v1/mesh.proto",
}

var printingServiceDesc = grpc.ServiceDesc{
	ServiceName: printingService,
	HandlerType: (*PrintingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendToPrinter", Handler: sendToPrinterHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "printmesh/v1/mesh.proto",
}

func requestAccessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, raw any) (any, error) {
		var req types.AccessRequest
		if err := decodeMessage(raw.(*structpb.Struct), &req); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode access request: %v", err)
		}
		reply, err := srv.(MutualExclusionServer).RequestAccess(ctx, req)
		if err != nil {
			return nil, err
		}
		return encodeMessage(reply)
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRequestAccess}
	return interceptor(ctx, in, info, handler)
}

func releaseAccessHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, raw any) (any, error) {
		var rel types.AccessRelease
		if err := decodeMessage(raw.(*structpb.Struct), &rel); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode access release: %v", err)
		}
		if err := srv.(MutualExclusionServer).ReleaseAccess(ctx, rel); err != nil {
			return nil, err
		}
		return encodeMessage(struct{}{})
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReleaseAccess}
	return interceptor(ctx, in, info, handler)
}

func sendToPrinterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, raw any) (any, error) {
		var req types.PrintRequest
		if err := decodeMessage(raw.(*structpb.Struct), &req); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode print request: %v", err)
		}
		resp, err := srv.(PrintingServer).SendToPrinter(ctx, req)
		if err != nil {
			return nil, err
		}
		return encodeMessage(resp)
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSendToPrinter}
	return interceptor(ctx, in, info, handler)
}
