package grpc

import (
	"context"

	"github.com/dmitrijs2005/chatvault/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// vaultServer is the handler type of chatvault.v1.Vault.
type vaultServer interface {
	Query(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	Mutate(ctx context.Context, req *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func unaryHandler(method string, call func(vaultServer, context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(wrapperspb.BytesValue)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(vaultServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(vaultServer), ctx, req.(*wrapperspb.BytesValue))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: rpc.ServiceName,
	HandlerType: (*vaultServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Query", Handler: unaryHandler(rpc.QueryMethod, vaultServer.Query)},
		{MethodName: "Mutate", Handler: unaryHandler(rpc.MutateMethod, vaultServer.Mutate)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "chatvault/v1/vault.proto",
}
