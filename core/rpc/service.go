package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

// Fully qualified method names.
const (
	ModuleCallMethod     = "/conduit.module.v1.Module/Call"
	ModulePublishMethod  = "/conduit.module.v1.Module/Publish"
	RouterRegisterMethod = "/conduit.gateway.v1.Router/RegisterRoutes"
)

// -----------------------------------------------------------------------------
// Module service (hosted by services)
// -----------------------------------------------------------------------------

// ModuleServer is implemented by services that own routes.
type ModuleServer interface {
	Call(ctx context.Context, env *Envelope) (*Reply, error)
	Publish(ctx context.Context, ev *Event) (*Ack, error)
}

// ModuleServiceDesc describes the module service for grpc.Server.
var ModuleServiceDesc = grpc.ServiceDesc{
	ServiceName: "conduit.module.v1.Module",
	HandlerType: (*ModuleServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: moduleCallHandler},
		{MethodName: "Publish", Handler: modulePublishHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "conduit/module/v1/module.proto",
}

func moduleCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModuleServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ModuleCallMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ModuleServer).Call(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

func modulePublishHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Event)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModuleServer).Publish(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ModulePublishMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ModuleServer).Publish(ctx, req.(*Event))
	}
	return interceptor(ctx, in, info, handler)
}

// -----------------------------------------------------------------------------
// Router service (hosted by the gateway)
// -----------------------------------------------------------------------------

// MiddlewareDef names a service function that acts as a middleware.
type MiddlewareDef struct {
	Name     string `json:"name"`
	Function string `json:"function"`
}

// RegisterRoutesRequest declares the complete route set of a service.
// Routes the service registered before and no longer declares are removed.
type RegisterRoutesRequest struct {
	Service     string             `json:"service"`
	Address     string             `json:"address"`
	Routes      []route.Definition `json:"routes"`
	Middlewares []MiddlewareDef    `json:"middlewares,omitempty"`
}

// RegisterRoutesResponse summarizes what changed.
type RegisterRoutesResponse struct {
	Added     int      `json:"added"`
	Changed   int      `json:"changed"`
	Unchanged int      `json:"unchanged"`
	Removed   int      `json:"removed"`
	Errors    []string `json:"errors,omitempty"`
}

// RouterServer accepts route registrations from services.
type RouterServer interface {
	RegisterRoutes(ctx context.Context, req *RegisterRoutesRequest) (*RegisterRoutesResponse, error)
}

// RouterServiceDesc describes the router service for grpc.Server.
var RouterServiceDesc = grpc.ServiceDesc{
	ServiceName: "conduit.gateway.v1.Router",
	HandlerType: (*RouterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterRoutes", Handler: routerRegisterHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "conduit/gateway/v1/router.proto",
}

func routerRegisterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterRoutesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RouterServer).RegisterRoutes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RouterRegisterMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RouterServer).RegisterRoutes(ctx, req.(*RegisterRoutesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterRouterServer attaches srv to s.
func RegisterRouterServer(s grpc.ServiceRegistrar, srv RouterServer) {
	s.RegisterService(&RouterServiceDesc, srv)
}

// RegisterRoutes calls the gateway's router service.
func RegisterRoutes(ctx context.Context, cc grpc.ClientConnInterface, req *RegisterRoutesRequest) (*RegisterRoutesResponse, error) {
	out := new(RegisterRoutesResponse)
	if err := cc.Invoke(ctx, RouterRegisterMethod, req, out, grpc.CallContentSubtype(CodecName)); err != nil {
		return nil, err
	}
	return out, nil
}
