// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
	"github.com/ConduitPlatform/Conduit-sub006/core/registry"
	"github.com/ConduitPlatform/Conduit-sub006/core/rpc"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
	"github.com/ConduitPlatform/Conduit-sub006/ports"
)

// DialFunc opens a client to a service's module endpoint.
type DialFunc func(address, service string) (*rpc.Client, error)

// RouterOptions configures a Router.
type RouterOptions struct {
	// REST receives every route.
	REST *registry.Registry

	// Tools receives tool-eligible routes. Nil disables tool routing.
	Tools *registry.Registry

	Middlewares *middleware.Registry

	// Store persists remote registrations. Nil disables persistence.
	Store ports.RouteStore

	Logger  zerolog.Logger
	Metrics rpc.Metrics

	// Dial defaults to rpc.Dial.
	Dial DialFunc

	// CallTimeout bounds each forwarded call. Zero means no bound.
	CallTimeout time.Duration
}

type remote struct {
	address string
	client  *rpc.Client
}

// Router is the registration API services use to publish routes. It feeds
// each protocol controller's registry.
type Router struct {
	rest        *registry.Registry
	tools       *registry.Registry
	mws         *middleware.Registry
	store       ports.RouteStore
	logger      zerolog.Logger
	dial        DialFunc
	callTimeout time.Duration

	mu      sync.Mutex
	remotes map[string]*remote
	closed  bool
}

var _ rpc.RouterServer = (*Router)(nil)

// NewRouter creates a router.
func NewRouter(opts RouterOptions) *Router {
	logger := opts.Logger.With().Str("component", "router").Logger()
	dial := opts.Dial
	if dial == nil {
		dial = func(address, service string) (*rpc.Client, error) {
			return rpc.Dial(address, service, opts.Logger, opts.Metrics)
		}
	}
	mws := opts.Middlewares
	if mws == nil {
		mws = middleware.NewRegistry(opts.Logger)
	}
	return &Router{
		rest:        opts.REST,
		tools:       opts.Tools,
		mws:         mws,
		store:       opts.Store,
		logger:      logger,
		dial:        dial,
		callTimeout: opts.CallTimeout,
		remotes:     make(map[string]*remote),
	}
}

// -----------------------------------------------------------------------------
// Local registration
// -----------------------------------------------------------------------------

// RegisterRoute registers def for owner in every controller it belongs to
// and returns the REST change.
func (r *Router) RegisterRoute(owner string, def route.Definition, h schema.Handler) (registry.Change, error) {
	def.Path = route.Normalize(def.Path)
	rt := route.Route{Definition: def, Owner: owner, Handler: h}

	change, err := r.rest.Register(rt)
	if err != nil {
		return change, err
	}

	if r.tools == nil {
		return change, nil
	}
	if def.ToolEligible {
		if _, err := r.tools.Register(rt); err != nil {
			r.logger.Warn().Err(err).Str("route", def.Key()).Msg("tool registration failed")
		}
	} else if existing, ok := r.tools.Get(def.Key()); ok && !existing.Meta && existing.Owner == owner {
		r.tools.Unregister(def.Key())
	}
	return change, nil
}

// RegisterRaw registers a passthrough REST route. Raw routes are never
// exposed as tools.
func (r *Router) RegisterRaw(owner string, action route.Action, path string, h http.Handler) (registry.Change, error) {
	return r.rest.Register(route.Route{
		Definition: route.Definition{Action: action, Path: route.Normalize(path)},
		Owner:      owner,
		Raw:        h,
	})
}

// CleanupRoutes removes the routes of owner whose key is not in live from
// every controller. It returns the keys removed from REST.
func (r *Router) CleanupRoutes(owner string, live []string) []string {
	removed := r.rest.CleanupOwner(owner, live)
	if r.tools != nil {
		r.tools.CleanupOwner(owner, live)
	}
	return removed
}

// -----------------------------------------------------------------------------
// Remote registration
// -----------------------------------------------------------------------------

// RegisterRoutes implements rpc.RouterServer. The request is the complete
// route set of a service: its previous routes missing from the set are
// removed.
func (r *Router) RegisterRoutes(ctx context.Context, req *rpc.RegisterRoutesRequest) (*rpc.RegisterRoutesResponse, error) {
	return r.registerRemote(ctx, req, true)
}

// RegisterFile registers the routes declared in a YAML file as served by
// the service at address. An empty service name falls back to the one the
// file declares.
func (r *Router) RegisterFile(ctx context.Context, service, address, path string) (*rpc.RegisterRoutesResponse, error) {
	f, err := route.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if service == "" {
		service = f.Service
	}
	return r.registerRemote(ctx, &rpc.RegisterRoutesRequest{
		Service: service,
		Address: address,
		Routes:  f.Routes,
	}, false)
}

// Recover re-registers the persisted routes of every service.
func (r *Router) Recover(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	stored, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list stored routes: %w", err)
	}

	byOwner := make(map[string]*rpc.RegisterRoutesRequest)
	var owners []string
	for _, s := range stored {
		req, ok := byOwner[s.Owner]
		if !ok {
			req = &rpc.RegisterRoutesRequest{Service: s.Owner, Address: s.Address}
			byOwner[s.Owner] = req
			owners = append(owners, s.Owner)
		}
		req.Routes = append(req.Routes, s.Definition)
	}
	sort.Strings(owners)

	for _, owner := range owners {
		resp, err := r.registerRemote(ctx, byOwner[owner], false)
		if err != nil {
			r.logger.Error().Err(err).Str("service", owner).Msg("recover routes failed")
			continue
		}
		r.logger.Info().
			Str("service", owner).
			Int("routes", resp.Added+resp.Changed+resp.Unchanged).
			Int("errors", len(resp.Errors)).
			Msg("routes recovered")
	}
	return nil
}

func (r *Router) registerRemote(ctx context.Context, req *rpc.RegisterRoutesRequest, persist bool) (*rpc.RegisterRoutesResponse, error) {
	if req.Service == "" {
		return nil, apperr.New(codes.InvalidArgument, "service is required")
	}
	if req.Address == "" {
		return nil, apperr.New(codes.InvalidArgument, "address is required")
	}

	client, err := r.client(req.Service, req.Address)
	if err != nil {
		return nil, apperr.New(codes.Unavailable, err.Error())
	}

	for _, mw := range req.Middlewares {
		if mw.Name == "" || mw.Function == "" {
			continue
		}
		r.mws.Register(mw.Name, middleware.Remote(r.forward(client, mw.Function)))
	}

	resp := &rpc.RegisterRoutesResponse{}
	var live []string
	var accepted []route.Definition
	for _, def := range req.Routes {
		def.Path = route.Normalize(def.Path)
		if def.Function == "" {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: function is required", def.Key()))
			continue
		}

		change, err := r.RegisterRoute(req.Service, def, r.forward(client, def.Function))
		if err != nil {
			var conflict *registry.ConflictError
			if errors.As(err, &conflict) {
				r.logger.Warn().Err(err).Str("service", req.Service).Msg("route key is held by another owner")
			} else {
				r.logger.Error().Err(err).Str("service", req.Service).Str("route", def.Key()).Msg("route registration failed")
			}
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}

		switch change {
		case registry.Added:
			resp.Added++
		case registry.Changed:
			resp.Changed++
		default:
			resp.Unchanged++
		}
		live = append(live, def.Key())
		accepted = append(accepted, def)
	}

	resp.Removed = len(r.CleanupRoutes(req.Service, live))

	if persist && r.store != nil {
		if err := r.persist(ctx, req, accepted, live); err != nil {
			r.logger.Error().Err(err).Str("service", req.Service).Msg("persist routes failed")
			resp.Errors = append(resp.Errors, err.Error())
		}
	}

	r.logger.Info().
		Str("service", req.Service).
		Str("address", req.Address).
		Int("added", resp.Added).
		Int("changed", resp.Changed).
		Int("unchanged", resp.Unchanged).
		Int("removed", resp.Removed).
		Int("errors", len(resp.Errors)).
		Msg("service routes registered")

	return resp, nil
}

func (r *Router) persist(ctx context.Context, req *rpc.RegisterRoutesRequest, defs []route.Definition, live []string) error {
	now := time.Now().UTC()
	for _, def := range defs {
		if err := r.store.Save(ctx, ports.StoredRoute{
			Owner:      req.Service,
			Address:    req.Address,
			Definition: def,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
	}
	if _, err := r.store.DeleteOwnerExcept(ctx, req.Service, live); err != nil {
		return err
	}
	return nil
}

// client returns the client for service, redialing when its address moved.
func (r *Router) client(service, address string) (*rpc.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("router closed")
	}
	if rm, ok := r.remotes[service]; ok {
		if rm.address == address {
			return rm.client, nil
		}
		if err := rm.client.Close(); err != nil {
			r.logger.Warn().Err(err).Str("service", service).Msg("close previous client")
		}
		delete(r.remotes, service)
	}

	c, err := r.dial(address, service)
	if err != nil {
		return nil, err
	}
	r.remotes[service] = &remote{address: address, client: c}
	return c, nil
}

func (r *Router) forward(c *rpc.Client, function string) schema.Handler {
	h := c.Handler(function)
	if r.callTimeout <= 0 {
		return h
	}
	timeout := r.callTimeout
	return func(ctx context.Context, rc *schema.RequestContext) (schema.Result, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return h(ctx, rc)
	}
}

// Services returns the names of the services with a live client, sorted.
func (r *Router) Services() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.remotes))
	for name := range r.remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases every service client. It is safe to call more than once.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for name, rm := range r.remotes {
		if err := rm.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.remotes = nil
	return errors.Join(errs...)
}
