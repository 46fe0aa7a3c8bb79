// Package middleware runs the named pre-handler steps a route declares.
//
// A route lists middleware names in order. Each one may reject the request
// with an error or enrich the request context. A name prefixed with "?" is
// optional: its rejection is ignored and the chain continues.
package middleware

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// Middleware inspects or enriches a request before its handler runs.
type Middleware func(ctx context.Context, rc *schema.RequestContext) error

// Registry maps middleware names to implementations.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Middleware
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Middleware),
		logger: logger,
	}
}

// Register adds or replaces a middleware.
func (r *Registry) Register(name string, mw Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[name] = mw
}

// Unregister removes a middleware.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Get returns a middleware by name.
func (r *Registry) Get(name string) (Middleware, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mw, ok := r.byName[name]
	return mw, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Optional reports whether a declared name is optional, and returns the
// bare name.
func Optional(declared string) (string, bool) {
	if strings.HasPrefix(declared, "?") {
		return declared[1:], true
	}
	return declared, false
}

// Run executes the declared middlewares in order. The first rejection stops
// the chain and is returned. An optional entry is skipped when no middleware
// is registered under its name.
func (r *Registry) Run(ctx context.Context, declared []string, rc *schema.RequestContext) error {
	for _, d := range declared {
		name, optional := Optional(d)

		mw, ok := r.Get(name)
		if !ok {
			if optional {
				continue
			}
			r.logger.Error().Str("middleware", name).Msg("route declares unknown middleware")
			return apperr.Newf(codes.Internal, "middleware %q is not registered", name)
		}

		if err := mw(ctx, rc); err != nil {
			return err
		}
	}
	return nil
}

// Remote adapts a service handler into a middleware. A map result is
// merged into the request context.
func Remote(h schema.Handler) Middleware {
	return func(ctx context.Context, rc *schema.RequestContext) error {
		res, err := h(ctx, rc)
		if err != nil {
			return err
		}

		var values map[string]any
		switch body := res.Body.(type) {
		case map[string]any:
			values = body
		case string:
			if json.Unmarshal([]byte(body), &values) != nil {
				return nil
			}
		}
		for k, v := range values {
			rc.SetContext(k, v)
		}
		return nil
	}
}
