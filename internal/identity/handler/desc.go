package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "identity.v1.IdentityService"

// IdentityServiceServer is the server API for identity.v1.IdentityService. Every message is a
// google.protobuf.Struct.
type IdentityServiceServer interface {
	Register(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetIdentity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateIdentity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangePassword(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ChangeRole(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteIdentity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRemoteRoles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListIdentities(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(IdentityServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(IdentityServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(IdentityServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc is the grpc.ServiceDesc for identity.v1.IdentityService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*IdentityServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", IdentityServiceServer.Register),
		unary("Login", IdentityServiceServer.Login),
		unary("Refresh", IdentityServiceServer.Refresh),
		unary("GetIdentity", IdentityServiceServer.GetIdentity),
		unary("UpdateIdentity", IdentityServiceServer.UpdateIdentity),
		unary("ChangePassword", IdentityServiceServer.ChangePassword),
		unary("ChangeRole", IdentityServiceServer.ChangeRole),
		unary("DeleteIdentity", IdentityServiceServer.DeleteIdentity),
		unary("ListRemoteRoles", IdentityServiceServer.ListRemoteRoles),
		unary("ListIdentities", IdentityServiceServer.ListIdentities),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "identity/v1/identity.proto",
}

// RegisterIdentityServiceServer registers srv with s.
func RegisterIdentityServiceServer(s grpc.ServiceRegistrar, srv IdentityServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the full gRPC method name for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Client is a minimal client for identity.v1.IdentityService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client that invokes methods over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with in and returns the response struct.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
