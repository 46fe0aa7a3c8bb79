package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
	"github.com/ConduitPlatform/Conduit-sub006/core/openapi"
	"github.com/ConduitPlatform/Conduit-sub006/core/registry"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

func TestToolName(t *testing.T) {
	tests := []struct {
		action route.Action
		path   string
		want   string
	}{
		{route.ActionGet, "/admin/users", "getusers"},
		{route.ActionPatch, "/admin/users/:id", "patchusers_id"},
		{route.ActionGet, "/users/:id/posts", "getusers_id_posts"},
		{route.ActionPost, "/admin-panel/sign-in", "postadmin_panel_sign_in"},
		{route.ActionDelete, "/admin", "delete"},
		{route.ActionGet, "/Chat/Rooms.list", "getchat_rooms_list"},
		{route.ActionPut, "/a//b__c/", "puta_b_c"},
	}
	for _, tt := range tests {
		t.Run(string(tt.action)+tt.path, func(t *testing.T) {
			got := ToolName(tt.action, tt.path, DefaultPrefixes)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, ToolName(tt.action, tt.path, DefaultPrefixes))
		})
	}
}

type fixture struct {
	reg     *registry.Registry
	mws     *middleware.Registry
	channel *Channel
	server  *httptest.Server
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	reg := registry.New(registry.Options{Name: "mcp", Delay: time.Hour, Logger: zerolog.Nop()})
	t.Cleanup(reg.Close)
	mws := middleware.NewRegistry(zerolog.Nop())

	opts.Logger = zerolog.Nop()
	opts.Registry = reg
	opts.Middlewares = mws
	ch, err := New(opts)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.Handle(ch.Path(), ch)
	mux.Handle(ch.Path()+"/", ch)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &fixture{reg: reg, mws: mws, channel: ch, server: srv}
}

func (f *fixture) register(t *testing.T, rt route.Route) {
	t.Helper()
	rt.ToolEligible = true
	_, err := f.reg.Register(rt)
	require.NoError(t, err)
	f.reg.Flush()
}

type rpcReply struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (f *fixture) post(t *testing.T, query, body string, header ...string) rpcReply {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/mcp"+query, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var reply rpcReply
	require.NoError(t, json.Unmarshal(data, &reply), string(data))
	return reply
}

func callBody(name string, args map[string]any) string {
	data, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	return string(data)
}

func toolText(t *testing.T, reply rpcReply) string {
	t.Helper()
	require.Nil(t, reply.Error)
	var res struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StructuredContent map[string]any `json:"structuredContent"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &res))
	require.NotEmpty(t, res.Content)
	return res.Content[0].Text
}

func echo(_ context.Context, rc *schema.RequestContext) (schema.Result, error) {
	return schema.Result{Body: map[string]any{"path": rc.Path, "params": rc.Params}}, nil
}

func TestToolsCall_Success(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:        "/admin/users/:id",
			Action:      route.ActionGet,
			URLParams:   schema.M(schema.String("id").Req()),
			QueryParams: schema.M(schema.Number("depth")),
		},
		Owner:   "core",
		Handler: echo,
	})

	reply := f.post(t, "", callBody("getusers_id", map[string]any{"id": "42", "depth": 2}))
	assert.Equal(t, "7", string(reply.ID))
	assert.JSONEq(t, `{"path":"/admin/users/42","params":{"id":"42","depth":2}}`, toolText(t, reply))
}

func TestToolsCall_ForbiddenMapsToPlatformCode(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/admin/users", Action: route.ActionGet},
		Owner:      "core",
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{}, apperr.New(codes.PermissionDenied, "admins only").WithConduitCode("NOT_ADMIN")
		},
	})

	reply := f.post(t, "", callBody("getusers", nil))
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeForbidden, reply.Error.Code)
	assert.Equal(t, "admins only", reply.Error.Message)
	assert.Equal(t, map[string]any{"conduitCode": "NOT_ADMIN"}, reply.Error.Data)
}

func TestToolsCall_ErrorCodes(t *testing.T) {
	f := newFixture(t, Options{})
	f.mws.Register(middleware.AuthName, middleware.Auth(func(token string) (middleware.Principal, error) {
		if token != "good" {
			return middleware.Principal{}, apperr.New(codes.Unauthenticated, "bad token")
		}
		return middleware.Principal{ID: "u1"}, nil
	}))
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:        "/admin/users",
			Action:      route.ActionPost,
			BodyParams:  schema.M(schema.String("email").Req()),
			Middlewares: []string{middleware.AuthName},
		},
		Owner:   "core",
		Handler: echo,
	})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/admin/crash", Action: route.ActionGet},
		Owner:      "core",
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{}, apperr.New(codes.DataLoss, "secret details")
		},
	})

	reply := f.post(t, "", callBody("postusers", map[string]any{}), "Authorization", "Bearer good")
	assert.Equal(t, CodeInvalidParams, reply.Error.Code)

	reply = f.post(t, "", callBody("postusers", map[string]any{"email": "a@b.c"}))
	assert.Equal(t, CodeUnauthorized, reply.Error.Code)

	reply = f.post(t, "", callBody("postusers", map[string]any{"email": "a@b.c"}), "Authorization", "Bearer good")
	assert.Nil(t, reply.Error)

	reply = f.post(t, "", callBody("getcrash", nil))
	assert.Equal(t, CodeToolExecutionFailed, reply.Error.Code)
	assert.Equal(t, apperr.GenericMessage, reply.Error.Message)

	reply = f.post(t, "", callBody("nope", nil))
	assert.Equal(t, CodeToolNotFound, reply.Error.Code)

	reply = f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{}}`)
	assert.Equal(t, CodeInvalidParams, reply.Error.Code)

	reply = f.post(t, "", `{not json`)
	assert.Equal(t, CodeParseError, reply.Error.Code)
	assert.Equal(t, "null", string(reply.ID))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.InvalidArgument, CodeInvalidParams},
		{codes.Unauthenticated, CodeUnauthorized},
		{codes.PermissionDenied, CodeForbidden},
		{codes.ResourceExhausted, CodeRateLimited},
		{codes.Unavailable, CodeConnectionLost},
		{codes.NotFound, CodeToolExecutionFailed},
		{codes.Internal, CodeToolExecutionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(apperr.New(tt.code, "x")))
		})
	}
}

func TestModules_LazyLoading(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/chat/rooms", Action: route.ActionGet},
		Owner:      "chat",
		Handler:    echo,
	})

	reply := f.post(t, "", callBody("getchat_rooms", nil))
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeToolNotFound, reply.Error.Code)

	reply = f.post(t, "?modules=chat,ghost", callBody("getchat_rooms", nil))
	assert.Nil(t, reply.Error)

	reply = f.post(t, "?modules=chat", callBody(ListModulesTool, nil))
	var listed struct {
		Modules []moduleInfo `json:"modules"`
	}
	require.NoError(t, json.Unmarshal([]byte(toolText(t, reply)), &listed))
	require.Len(t, listed.Modules, 2)
	assert.Equal(t, moduleInfo{Name: "chat", Enabled: true, Tools: []string{"getchat_rooms"}}, listed.Modules[0])
	assert.Equal(t, moduleInfo{Name: "core", Core: true, Enabled: true, Tools: []string{ListModulesTool}}, listed.Modules[1])
}

func TestToolsList_ThroughSDK(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/admin/users", Action: route.ActionGet, Description: "List users"},
		Owner:      "core",
		Handler:    echo,
	})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/chat/rooms", Action: route.ActionGet},
		Owner:      "chat",
		Handler:    echo,
	})

	names := func(query string) []string {
		reply := f.post(t, query, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		require.Nil(t, reply.Error)
		var res struct {
			Tools []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			} `json:"tools"`
		}
		require.NoError(t, json.Unmarshal(reply.Result, &res))
		out := make([]string, 0, len(res.Tools))
		for _, tool := range res.Tools {
			out = append(out, tool.Name)
		}
		return out
	}

	assert.ElementsMatch(t, []string{"getusers", ListModulesTool}, names(""))
	assert.ElementsMatch(t, []string{"getusers", "getchat_rooms", ListModulesTool}, names("?modules=chat"))
}

func TestToolsList_AdvertisesOutputSchemaAndTitle(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:       "/admin/users/:id",
			Action:     route.ActionGet,
			URLParams:  schema.M(schema.String("id").Req()),
			ReturnType: route.ReturnType{Name: "User", Fields: schema.M(schema.String("email").Req())},
		},
		Owner:   "core",
		Handler: echo,
	})

	reply := f.post(t, "", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
	require.Nil(t, reply.Error)
	var res struct {
		Tools []struct {
			Name         string          `json:"name"`
			OutputSchema json.RawMessage `json:"outputSchema"`
			Annotations  struct {
				Title string `json:"title"`
			} `json:"annotations"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &res))

	byName := make(map[string]int)
	for i, tool := range res.Tools {
		byName[tool.Name] = i
	}
	i, ok := byName["getusers_id"]
	require.True(t, ok)
	tool := res.Tools[i]
	assert.Equal(t, "GET /admin/users/:id", tool.Annotations.Title)
	assert.JSONEq(t, `{"type":"object","properties":{"email":{"type":"string"}},"required":["email"]}`, string(tool.OutputSchema))

	meta := res.Tools[byName[ListModulesTool]]
	assert.Empty(t, meta.OutputSchema)
	assert.NotEmpty(t, meta.Annotations.Title)
}

func TestToolsCall_StructuredContentMatchesOutputSchema(t *testing.T) {
	f := newFixture(t, Options{})
	body := map[string]any{"email": "a@b.c", "team": map[string]any{"_id": "t1"}}
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:   "/admin/me",
			Action: route.ActionGet,
			ReturnType: route.ReturnType{Name: "User", Fields: schema.M(
				schema.String("email").Req(),
				schema.Relation("team", "Team"),
			)},
		},
		Owner: "core",
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{Body: body}, nil
		},
	})
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:       "/admin/broken",
			Action:     route.ActionGet,
			ReturnType: route.ReturnType{Name: "User", Fields: schema.M(schema.String("email").Req())},
		},
		Owner: "core",
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{Body: map[string]any{"name": "no email"}}, nil
		},
	})
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:       "/admin/count",
			Action:     route.ActionGet,
			ReturnType: route.ReturnType{Name: "Count", Fields: schema.M(schema.Number("total").Req())},
		},
		Owner: "core",
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{Body: "3"}, nil
		},
	})

	reply := f.post(t, "", callBody("getme", nil))
	require.Nil(t, reply.Error)
	var res struct {
		StructuredContent map[string]any `json:"structuredContent"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &res))
	assert.Equal(t, body, res.StructuredContent)

	reply = f.post(t, "", callBody("getbroken", nil))
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeToolExecutionFailed, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "output schema")

	reply = f.post(t, "", callBody("getcount", nil))
	require.NotNil(t, reply.Error)
	assert.Equal(t, CodeToolExecutionFailed, reply.Error.Code)
}

func TestMetaToolSurvivesCleanup(t *testing.T) {
	f := newFixture(t, Options{})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/admin/users", Action: route.ActionGet},
		Owner:      "core",
		Handler:    echo,
	})
	require.Len(t, f.channel.Tools(), 2)

	f.reg.Cleanup(nil)
	f.reg.Flush()

	tools := f.channel.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, ListModulesTool, tools[0].Name)
}

func TestNonEligibleAndRawRoutesSkipped(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.reg.Register(route.Route{
		Definition: route.Definition{Path: "/internal", Action: route.ActionGet},
		Owner:      "core",
		Handler:    echo,
	})
	require.NoError(t, err)
	_, err = f.reg.Register(route.Route{
		Definition: route.Definition{Path: "/hook", Action: route.ActionPost, ToolEligible: true},
		Owner:      "core",
		Raw:        http.NotFoundHandler(),
	})
	require.NoError(t, err)
	f.reg.Flush()

	assert.Len(t, f.channel.Tools(), 1)
}

func TestHealthAndPreflight(t *testing.T) {
	doc := openapi.NewDoc()
	f := newFixture(t, Options{OpenAPI: doc})

	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/mcp", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = http.Get(f.server.URL + "/mcp/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["tools"])
	assert.Equal(t, float64(1), health["resources"])
	assert.Equal(t, "core", health["coreModule"])
}

func TestResources(t *testing.T) {
	res := NewResources()
	provider := func(context.Context) (string, error) { return "v1", nil }

	require.NoError(t, res.RegisterResource(Resource{URI: "conduit://a", Name: "a", Provider: provider}))
	assert.Error(t, res.RegisterResource(Resource{URI: "conduit://a", Name: "a", Provider: provider}))
	assert.Error(t, res.RegisterResource(Resource{URI: "conduit://b"}))

	require.NoError(t, res.ReplaceResource(Resource{
		URI:  "conduit://a",
		Name: "a2",
		Provider: func(context.Context) (string, error) {
			return "v2", nil
		},
	}))
	got, ok := res.Get("conduit://a")
	require.True(t, ok)
	assert.Equal(t, "a2", got.Name)
	text, err := got.Provider(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2", text)
	assert.Equal(t, 1, res.Len())
}

func TestOpenAPIResourceRead(t *testing.T) {
	doc := openapi.NewDoc()
	f := newFixture(t, Options{OpenAPI: doc})

	reply := f.post(t, "", `{"jsonrpc":"2.0","id":3,"method":"resources/read","params":{"uri":"conduit://openapi.json"}}`)
	require.Nil(t, reply.Error)
	var res struct {
		Contents []struct {
			URI  string `json:"uri"`
			Text string `json:"text"`
		} `json:"contents"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &res))
	require.Len(t, res.Contents, 1)
	assert.Equal(t, string(doc.Bytes()), res.Contents[0].Text)
}
