// Package mcp serves registered routes as agent tools over the Model
// Context Protocol.
//
// Tool discovery, initialization and resources are handled by mcp-go
// running one stateless streamable HTTP transport per request. tools/call
// is answered here so that errors carry the platform error codes.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
	"github.com/ConduitPlatform/Conduit-sub006/core/openapi"
	"github.com/ConduitPlatform/Conduit-sub006/core/registry"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

const (
	DefaultPath       = "/mcp"
	DefaultCoreModule = "core"
	ListModulesTool   = "list_modules"
	OpenAPIURI        = "conduit://openapi.json"

	maxMessageBytes = 4 << 20
)

// Options configures the tool channel.
type Options struct {
	Logger      zerolog.Logger
	Registry    *registry.Registry
	Middlewares *middleware.Registry
	Resources   *Resources

	// OpenAPI, when set, is published as a resource.
	OpenAPI *openapi.Doc

	Path       string
	CoreModule string
	Prefixes   []string

	ServerName    string
	ServerVersion string
}

// toolset is the compiled form of one registry snapshot.
type toolset struct {
	version uint64
	tools   []*ToolDefinition
	byName  map[string]*ToolDefinition
	modules []string
}

// serverCache holds one mcp-go server per enabled module set. It is
// replaced whenever tools or resources change.
type serverCache struct {
	ts      *toolset
	mu      sync.Mutex
	servers map[string]*mcpserver.MCPServer
}

// Channel is the tool protocol controller.
type Channel struct {
	logger     zerolog.Logger
	mws        *middleware.Registry
	resources  *Resources
	path       string
	coreModule string
	prefixes   []string
	name       string
	version    string
	started    time.Time

	tools atomic.Pointer[toolset]
	cache atomic.Pointer[serverCache]
}

type modulesKey struct{}

type headersKey struct{}

// New creates the channel, registers its meta tool and subscribes it to
// the registry.
func New(opts Options) (*Channel, error) {
	if opts.Path == "" {
		opts.Path = DefaultPath
	}
	if opts.CoreModule == "" {
		opts.CoreModule = DefaultCoreModule
	}
	if opts.Prefixes == nil {
		opts.Prefixes = DefaultPrefixes
	}
	if opts.Resources == nil {
		opts.Resources = NewResources()
	}
	if opts.Middlewares == nil {
		opts.Middlewares = middleware.NewRegistry(opts.Logger)
	}
	if opts.ServerName == "" {
		opts.ServerName = "conduit"
	}
	if opts.ServerVersion == "" {
		opts.ServerVersion = "1.0.0"
	}

	c := &Channel{
		logger:     opts.Logger.With().Str("channel", "mcp").Logger(),
		mws:        opts.Middlewares,
		resources:  opts.Resources,
		path:       strings.TrimSuffix(opts.Path, "/"),
		coreModule: opts.CoreModule,
		prefixes:   opts.Prefixes,
		name:       opts.ServerName,
		version:    opts.ServerVersion,
		started:    time.Now(),
	}

	if opts.OpenAPI != nil {
		doc := opts.OpenAPI
		err := c.resources.ReplaceResource(Resource{
			URI:         OpenAPIURI,
			Name:        "openapi",
			Description: "OpenAPI document of the REST API",
			MIMEType:    "application/json",
			Provider: func(context.Context) (string, error) {
				return string(doc.Bytes()), nil
			},
		})
		if err != nil {
			return nil, err
		}
	}
	c.resources.setOnChange(c.invalidate)

	c.rebuild(opts.Registry.Snapshot())
	opts.Registry.Subscribe(c.rebuild)

	_, err := opts.Registry.RegisterMeta(route.Route{
		Definition: route.Definition{
			Path:         "/" + ListModulesTool,
			Action:       route.ActionGet,
			Description:  "List the tool modules and which of them are enabled for this session. Enable more with the modules query parameter.",
			ToolEligible: true,
		},
		Owner:   c.coreModule,
		Handler: c.listModules,
	})
	if err != nil {
		return nil, err
	}
	opts.Registry.Flush()
	return c, nil
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "mcp"
}

// Path returns the mount path.
func (c *Channel) Path() string {
	return c.path
}

// Resources returns the resource registry.
func (c *Channel) Resources() *Resources {
	return c.resources
}

// Tools returns every compiled tool ordered by name.
func (c *Channel) Tools() []*ToolDefinition {
	return append([]*ToolDefinition(nil), c.tools.Load().tools...)
}

func (c *Channel) rebuild(snap *registry.Snapshot) {
	ts := &toolset{
		version: snap.Version,
		byName:  make(map[string]*ToolDefinition),
	}
	modules := map[string]bool{c.coreModule: true}

	for _, rt := range snap.Routes {
		if rt.IsRaw() || !rt.ToolEligible {
			continue
		}
		name := ToolName(rt.Action, rt.Path, c.prefixes)
		if rt.Meta {
			name = strings.TrimPrefix(rt.Path, "/")
		}
		if prev, dup := ts.byName[name]; dup {
			c.logger.Warn().
				Str("tool", name).
				Str("route", rt.Key()).
				Str("kept", prev.RouteKey).
				Msg("tool name collision, route skipped")
			continue
		}
		t, err := newTool(rt, name, c.coreModule, c.mws)
		if err != nil {
			c.logger.Error().Err(err).Str("route", rt.Key()).Msg("tool registration failed")
			continue
		}
		ts.byName[name] = t
		ts.tools = append(ts.tools, t)
		modules[t.Module] = true
	}
	sort.Slice(ts.tools, func(i, j int) bool { return ts.tools[i].Name < ts.tools[j].Name })
	for m := range modules {
		ts.modules = append(ts.modules, m)
	}
	sort.Strings(ts.modules)

	c.tools.Store(ts)
	c.invalidate()
	c.logger.Info().
		Uint64("version", snap.Version).
		Int("tools", len(ts.tools)).
		Strs("modules", ts.modules).
		Msg("tools rebuilt")
}

func (c *Channel) invalidate() {
	c.cache.Store(&serverCache{ts: c.tools.Load(), servers: make(map[string]*mcpserver.MCPServer)})
}

// ServeHTTP handles the tool endpoint, its health check and CORS preflight.
func (c *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method == http.MethodGet && r.URL.Path == c.path+"/health" {
		c.health(w)
		return
	}

	sc := c.cache.Load()
	enabled := c.enabledModules(sc.ts, r.URL.Query().Get("modules"))
	ctx := context.WithValue(r.Context(), modulesKey{}, enabled)
	r = r.WithContext(ctx)

	if r.Method == http.MethodPost {
		data, err := io.ReadAll(io.LimitReader(r.Body, maxMessageBytes))
		if err != nil {
			writeRPCError(w, nil, &RPCError{Code: CodeParseError, Message: "failed to read request"})
			return
		}
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] != '[' {
			var req rpcRequest
			if err := json.Unmarshal(trimmed, &req); err != nil {
				writeRPCError(w, nil, &RPCError{Code: CodeParseError, Message: "invalid JSON"})
				return
			}
			if req.Method == string(mcpgo.MethodToolsCall) {
				c.callTool(w, r, sc.ts, enabled, req)
				return
			}
		}
		r.Body = io.NopCloser(bytes.NewReader(data))
	}

	stream := mcpserver.NewStreamableHTTPServer(c.server(sc, enabled),
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return context.WithValue(ctx, headersKey{}, requestHeaders(r))
		}),
	)
	defer func() {
		if err := stream.Shutdown(context.WithoutCancel(ctx)); err != nil {
			c.logger.Debug().Err(err).Msg("tool transport shutdown")
		}
	}()
	stream.ServeHTTP(w, r)
}

// callTool answers tools/call directly.
func (c *Channel) callTool(w http.ResponseWriter, r *http.Request, ts *toolset, enabled map[string]bool, req rpcRequest) {
	var params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if len(req.Params) == 0 || json.Unmarshal(req.Params, &params) != nil || params.Name == "" {
		writeRPCError(w, req.ID, &RPCError{Code: CodeInvalidParams, Message: "tools/call requires a tool name"})
		return
	}

	t, ok := ts.byName[params.Name]
	if !ok {
		writeRPCError(w, req.ID, &RPCError{Code: CodeToolNotFound, Message: "tool " + params.Name + " not found"})
		return
	}
	if !enabled[t.Module] {
		writeRPCError(w, req.ID, &RPCError{
			Code:    CodeToolNotFound,
			Message: "tool " + params.Name + " belongs to a disabled module",
			Data:    map[string]string{"module": t.Module},
		})
		return
	}

	res, err := c.invoke(r.Context(), t, params.Arguments, requestHeaders(r), requestCookies(r))
	if err != nil {
		writeRPCError(w, req.ID, toRPCError(err))
		return
	}
	writeRPC(w, rpcResponse{ID: req.ID, Result: res})
}

func (c *Channel) invoke(ctx context.Context, t *ToolDefinition, args map[string]any, headers, cookies map[string]string) (*mcpgo.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := t.Validate(args); err != nil {
		return nil, err
	}
	body, err := t.Handler(ctx, ToolCall{Arguments: args, Headers: headers, Cookies: cookies})
	if err != nil {
		c.logger.Debug().Err(err).Str("tool", t.Name).Msg("tool call failed")
		return nil, err
	}
	return t.Result(body)
}

// server returns the mcp-go server exposing the tools of the enabled
// modules, building it on first use.
func (c *Channel) server(sc *serverCache, enabled map[string]bool) *mcpserver.MCPServer {
	key := modulesCacheKey(enabled)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if srv, ok := sc.servers[key]; ok {
		return srv
	}

	srv := mcpserver.NewMCPServer(c.name, c.version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
	)

	tools := make([]mcpserver.ServerTool, 0, len(sc.ts.tools))
	for _, t := range sc.ts.tools {
		if !enabled[t.Module] {
			continue
		}
		tool := mcpgo.Tool{
			Name:           t.Name,
			Description:    t.Description,
			RawInputSchema: t.InputSchema,
			Annotations:    mcpgo.ToolAnnotation{Title: t.Title},
		}
		if len(t.OutputSchema) > 0 {
			tool.RawOutputSchema = t.OutputSchema
		}
		tools = append(tools, mcpserver.ServerTool{
			Tool:    tool,
			Handler: c.sdkHandler(t),
		})
	}
	if len(tools) > 0 {
		srv.AddTools(tools...)
	}

	for _, res := range c.resources.List() {
		srv.AddResource(
			mcpgo.NewResource(res.URI, res.Name,
				mcpgo.WithResourceDescription(res.Description),
				mcpgo.WithMIMEType(res.MIMEType),
			),
			func(ctx context.Context, _ mcpgo.ReadResourceRequest) ([]mcpgo.ResourceContents, error) {
				text, err := res.Provider(ctx)
				if err != nil {
					return nil, err
				}
				return []mcpgo.ResourceContents{
					mcpgo.TextResourceContents{URI: res.URI, MIMEType: res.MIMEType, Text: text},
				}, nil
			},
		)
	}

	sc.servers[key] = srv
	return srv
}

// sdkHandler serves calls that reach mcp-go, such as batched requests.
func (c *Channel) sdkHandler(t *ToolDefinition) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
		headers, _ := ctx.Value(headersKey{}).(map[string]string)
		res, err := c.invoke(ctx, t, req.GetArguments(), headers, nil)
		if err != nil {
			return mcpgo.NewToolResultError(toRPCError(err).Message), nil
		}
		return res, nil
	}
}

// enabledModules parses ?modules=a,b. The core module is always enabled
// and unknown names are ignored.
func (c *Channel) enabledModules(ts *toolset, param string) map[string]bool {
	enabled := map[string]bool{c.coreModule: true}
	if param == "" {
		return enabled
	}
	known := make(map[string]bool, len(ts.modules))
	for _, m := range ts.modules {
		known[m] = true
	}
	for _, m := range strings.Split(param, ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if !known[m] {
			c.logger.Warn().Str("module", m).Msg("unknown module requested")
			continue
		}
		enabled[m] = true
	}
	return enabled
}

func modulesCacheKey(enabled map[string]bool) string {
	names := make([]string, 0, len(enabled))
	for m := range enabled {
		names = append(names, m)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

type moduleInfo struct {
	Name    string   `json:"name"`
	Core    bool     `json:"core"`
	Enabled bool     `json:"enabled"`
	Tools   []string `json:"tools"`
}

// listModules serves the list_modules meta tool.
func (c *Channel) listModules(ctx context.Context, _ *schema.RequestContext) (schema.Result, error) {
	ts := c.tools.Load()
	enabled, _ := ctx.Value(modulesKey{}).(map[string]bool)

	byModule := make(map[string][]string)
	for _, t := range ts.tools {
		byModule[t.Module] = append(byModule[t.Module], t.Name)
	}
	modules := make([]moduleInfo, 0, len(ts.modules))
	for _, m := range ts.modules {
		modules = append(modules, moduleInfo{
			Name:    m,
			Core:    m == c.coreModule,
			Enabled: m == c.coreModule || enabled[m],
			Tools:   append([]string{}, byModule[m]...),
		})
	}
	return schema.Result{Body: map[string]any{"modules": modules}}, nil
}

func (c *Channel) health(w http.ResponseWriter) {
	ts := c.tools.Load()
	body := map[string]any{
		"status":     "ok",
		"tools":      len(ts.tools),
		"resources":  c.resources.Len(),
		"modules":    ts.modules,
		"coreModule": c.coreModule,
		"uptime":     time.Since(c.started).Seconds(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func setCORS(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id, Mcp-Protocol-Version")
	h.Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
}

func requestHeaders(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func requestCookies(r *http.Request) map[string]string {
	out := make(map[string]string)
	for _, ck := range r.Cookies() {
		out[ck.Name] = ck.Value
	}
	return out
}
