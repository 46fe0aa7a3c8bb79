// Package http serves registered routes as a REST API.
//
// The channel rebuilds a chi router and the OpenAPI document from every
// registry snapshot and swaps them in atomically, so requests in flight
// keep the router they started with.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/cache"
	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
	"github.com/ConduitPlatform/Conduit-sub006/core/openapi"
	"github.com/ConduitPlatform/Conduit-sub006/core/registry"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/core/validation"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 10 << 20

// Options configures the REST channel.
type Options struct {
	Logger      zerolog.Logger
	Registry    *registry.Registry
	Middlewares *middleware.Registry

	// Cache enables response caching for GET routes with CacheControl.
	// Nil disables caching.
	Cache *cache.Cache

	Info    openapi.Info
	Servers []string

	MaxBodyBytes int64
}

// Channel is the REST protocol controller.
type Channel struct {
	logger       zerolog.Logger
	mws          *middleware.Registry
	cache        *cache.Cache
	gen          *openapi.Generator
	doc          *openapi.Doc
	maxBodyBytes int64

	router atomic.Pointer[chi.Mux]
}

// New creates the channel and subscribes it to the registry.
func New(opts Options) *Channel {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.Middlewares == nil {
		opts.Middlewares = middleware.NewRegistry(opts.Logger)
	}

	gen := openapi.NewGenerator()
	if opts.Info.Title != "" {
		gen.SetInfo(opts.Info)
	}
	for _, url := range opts.Servers {
		gen.AddServer(url, "")
	}

	c := &Channel{
		logger:       opts.Logger.With().Str("channel", "http").Logger(),
		mws:          opts.Middlewares,
		cache:        opts.Cache,
		gen:          gen,
		doc:          openapi.NewDoc(),
		maxBodyBytes: opts.MaxBodyBytes,
	}
	openapi.Register(docInstance, c.doc)

	c.rebuild(opts.Registry.Snapshot())
	opts.Registry.Subscribe(c.rebuild)
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "http"
}

// Doc returns the live OpenAPI document.
func (c *Channel) Doc() *openapi.Doc {
	return c.doc
}

// ServeHTTP dispatches to the router of the latest snapshot.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.router.Load().ServeHTTP(w, r)
}

// rebuild materializes a router and document for snap.
func (c *Channel) rebuild(snap *registry.Snapshot) {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		c.writeError(w, req, apperr.Newf(codes.NotFound, "route %s %s not found", req.Method, req.URL.Path))
	})
	c.mountDocs(r)

	for _, rt := range snap.Routes {
		c.mount(r, rt)
	}

	spec := c.gen.Generate(snap.Routes)
	if err := c.doc.Publish(spec); err != nil {
		c.logger.Error().Err(err).Msg("failed to publish openapi document")
	}

	c.router.Store(r)
	c.logger.Info().
		Uint64("version", snap.Version).
		Int("routes", snap.Len()).
		Int("paths", spec.PathCount()).
		Msg("rest routes rebuilt")
}

// mount adds one route. A route chi rejects is logged and skipped.
func (c *Channel) mount(r chi.Router, rt route.Route) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error().
				Str("route", rt.Key()).
				Str("owner", rt.Owner).
				Interface("reason", p).
				Msg("route registration failed")
		}
	}()

	pattern := route.BracePath(rt.Path)
	if rt.IsRaw() {
		r.Method(string(rt.Action), pattern, rt.Raw)
		return
	}

	var ctl *cache.Control
	if rt.CacheControl != "" && c.cache != nil {
		parsed, err := cache.ParseControl(rt.CacheControl)
		if err != nil {
			c.logger.Warn().Err(err).Str("route", rt.Key()).Msg("caching disabled for route")
		} else {
			ctl = &parsed
		}
	}
	r.Method(string(rt.Action), pattern, c.serve(rt, ctl))
}

// serve runs the request pipeline: parse, validate, middlewares, cache,
// handler, response.
func (c *Channel) serve(rt route.Route, ctl *cache.Control) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := middleware.WithClientIP(r.Context(), clientIP(r))

		rc, err := c.requestContext(r, rt)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		if err := validation.Request(rt.Definition, rc); err != nil {
			c.writeError(w, r, err)
			return
		}
		if err := c.mws.Run(ctx, rt.Middlewares, rc); err != nil {
			c.writeError(w, r, err)
			return
		}

		var key string
		if ctl != nil {
			key, err = cache.Key(rc.Path, rc.Context, rc.Params)
			if err != nil {
				c.logger.Warn().Err(err).Str("route", rt.Key()).Msg("request not cacheable")
			} else if body, ok := c.cache.Lookup(ctx, rt.Key(), key); ok {
				w.Header().Set("Cache-Control", ctl.Header())
				writeRaw(w, http.StatusOK, body)
				return
			}
		}

		res, err := rt.Handler(ctx, rc)
		if err != nil {
			c.writeError(w, r, err)
			return
		}

		applyCookies(w, res)
		if res.Redirect != "" {
			http.Redirect(w, r, res.Redirect, http.StatusFound)
			return
		}

		body, err := encodeBody(res.Body)
		if err != nil {
			c.writeError(w, r, apperr.New(codes.Internal, err.Error()))
			return
		}
		if ctl != nil {
			if key != "" {
				c.cache.Save(ctx, rt.Key(), key, body, ctl.MaxAge)
			}
			w.Header().Set("Cache-Control", ctl.Header())
		}
		writeRaw(w, http.StatusOK, body)
	}
}

// requestContext extracts the transport parts of r. Values are left as
// strings; validation coerces them to their declared types.
func (c *Channel) requestContext(r *http.Request, rt route.Route) (*schema.RequestContext, error) {
	rc := &schema.RequestContext{
		Path:        r.URL.Path,
		Headers:     make(map[string]string, len(r.Header)),
		Cookies:     make(map[string]string),
		Context:     make(map[string]any),
		URLParams:   make(map[string]any),
		QueryParams: make(map[string]any),
		BodyParams:  make(map[string]any),
	}

	for name, values := range r.Header {
		rc.Headers[name] = strings.Join(values, ", ")
	}
	for _, ck := range r.Cookies() {
		rc.Cookies[ck.Name] = ck.Value
	}
	for _, name := range route.ParamNames(rt.Path) {
		rc.URLParams[name] = chi.URLParam(r, name)
	}
	for name, values := range r.URL.Query() {
		if len(values) == 1 {
			rc.QueryParams[name] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		rc.QueryParams[name] = list
	}

	if rt.Action.HasBody() && r.Body != nil {
		data, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, c.maxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return nil, apperr.Newf(codes.InvalidArgument, "request body exceeds %d bytes", tooLarge.Limit)
			}
			return nil, apperr.New(codes.InvalidArgument, "failed to read request body")
		}
		if len(strings.TrimSpace(string(data))) > 0 {
			if err := json.Unmarshal(data, &rc.BodyParams); err != nil {
				return nil, apperr.New(codes.InvalidArgument, "request body must be a JSON object")
			}
		}
	}

	rc.MergeParams()
	return rc, nil
}

// writeError renders err through the error table. Errors outside the
// table are logged in full; the client only sees a generic message.
func (c *Channel) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body, unmapped := apperr.ToHTTP(err)
	if unmapped {
		c.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	data, merr := json.Marshal(body)
	if merr != nil {
		data = []byte(fmt.Sprintf(`{"name":%q,"status":%d,"message":%q}`, body.Name, body.Status, apperr.GenericMessage))
	}
	writeRaw(w, body.Status, data)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
