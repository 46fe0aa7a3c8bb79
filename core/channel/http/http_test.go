package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/adapters/memory"
	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/cache"
	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
	"github.com/ConduitPlatform/Conduit-sub006/core/registry"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

type fixture struct {
	reg     *registry.Registry
	mws     *middleware.Registry
	channel *Channel
	server  *httptest.Server
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()

	reg := registry.New(registry.Options{Name: "rest", Delay: time.Hour, Logger: zerolog.Nop()})
	t.Cleanup(reg.Close)
	mws := middleware.NewRegistry(zerolog.Nop())

	opts := Options{Logger: zerolog.Nop(), Registry: reg, Middlewares: mws}
	if withCache {
		store := memory.NewResponseCache(memory.ResponseCacheConfig{})
		t.Cleanup(func() { store.Close() })
		opts.Cache = cache.New(store, zerolog.Nop(), nil)
	}
	ch := New(opts)
	srv := httptest.NewServer(ch)
	t.Cleanup(srv.Close)

	return &fixture{reg: reg, mws: mws, channel: ch, server: srv}
}

func (f *fixture) register(t *testing.T, rt route.Route) {
	t.Helper()
	if rt.Owner == "" {
		rt.Owner = "users"
	}
	_, err := f.reg.Register(rt)
	require.NoError(t, err)
	f.reg.Flush()
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.server.URL+path, rd)
	require.NoError(t, err)

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func echoParams(_ context.Context, rc *schema.RequestContext) (schema.Result, error) {
	return schema.Result{Body: rc.Params}, nil
}

func TestQueryCoercion(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:        "/users",
			Action:      route.ActionGet,
			QueryParams: schema.M(schema.Number("skip"), schema.Boolean("active")),
		},
		Handler: echoParams,
	})

	resp, body := f.do(t, http.MethodGet, "/users?skip=3&active=true", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `{"skip":3,"active":true}`, body)

	resp, body = f.do(t, http.MethodGet, "/users?skip=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errBody apperr.Body
	require.NoError(t, json.Unmarshal([]byte(body), &errBody))
	assert.Equal(t, "INVALID_ARGUMENTS", errBody.Name)
	assert.Contains(t, errBody.Message, "skip")

	for _, v := range []string{"NaN", "Inf", "-Infinity"} {
		resp, body = f.do(t, http.MethodGet, "/users?skip="+v, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "skip=%s: %s", v, body)
	}
}

func TestURLParamsAndBody(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:       "/users/:id",
			Action:     route.ActionPatch,
			URLParams:  schema.M(schema.String("id").Req()),
			BodyParams: schema.M(schema.String("email").Req()),
		},
		Handler: echoParams,
	})

	resp, body := f.do(t, http.MethodPatch, "/users/42", `{"email":"a@b.c"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.JSONEq(t, `{"id":"42","email":"a@b.c"}`, body)

	resp, _ = f.do(t, http.MethodPatch, "/users/42", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPatch, "/users/42", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorTranslation(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/forbidden", Action: route.ActionGet},
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{}, apperr.New(codes.PermissionDenied, "not yours").WithConduitCode("USER_FORBIDDEN")
		},
	})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/broken", Action: route.ActionGet},
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{}, apperr.New(codes.DataLoss, "disk on fire")
		},
	})

	resp, body := f.do(t, http.MethodGet, "/forbidden", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"name":"FORBIDDEN","status":403,"message":"not yours","conduitCode":"USER_FORBIDDEN"}`, body)

	resp, body = f.do(t, http.MethodGet, "/broken", "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.JSONEq(t, `{"name":"INTERNAL_SERVER_ERROR","status":500,"message":"Something went wrong"}`, body)

	resp, _ = f.do(t, http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMiddlewareRejection(t *testing.T) {
	f := newFixture(t, false)
	f.mws.Register("admin", func(_ context.Context, rc *schema.RequestContext) error {
		if rc.Header("X-Admin") != "yes" {
			return apperr.New(codes.PermissionDenied, "admins only")
		}
		rc.SetContext("admin", true)
		return nil
	})

	var calls atomic.Int32
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/admin/stats", Action: route.ActionGet, Middlewares: []string{"admin"}},
		Handler: func(_ context.Context, rc *schema.RequestContext) (schema.Result, error) {
			calls.Add(1)
			return schema.Result{Body: rc.Context}, nil
		},
	})

	resp, _ := f.do(t, http.MethodGet, "/admin/stats", "")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, calls.Load())

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/admin/stats", nil)
	req.Header.Set("X-Admin", "yes")
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer r.Body.Close()
	data, _ := io.ReadAll(r.Body)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.JSONEq(t, `{"admin":true}`, string(data))
}

func TestCache_HitReturnsIdenticalBytes(t *testing.T) {
	f := newFixture(t, true)

	var calls atomic.Int32
	f.register(t, route.Route{
		Definition: route.Definition{
			Path:         "/posts",
			Action:       route.ActionGet,
			QueryParams:  schema.M(schema.Number("page")),
			CacheControl: "public, max-age=60",
		},
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			n := calls.Add(1)
			return schema.Result{Body: map[string]any{"call": n, "at": time.Now().UnixNano()}}, nil
		},
	})

	first, body1 := f.do(t, http.MethodGet, "/posts?page=1", "")
	second, body2 := f.do(t, http.MethodGet, "/posts?page=1", "")

	assert.Equal(t, http.StatusOK, first.StatusCode)
	assert.Equal(t, body1, body2)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "public, max-age=60", first.Header.Get("Cache-Control"))
	assert.Equal(t, "public, max-age=60", second.Header.Get("Cache-Control"))

	_, body3 := f.do(t, http.MethodGet, "/posts?page=2", "")
	assert.NotEqual(t, body1, body3)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_DisabledWithoutStore(t *testing.T) {
	f := newFixture(t, false)

	var calls atomic.Int32
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/posts", Action: route.ActionGet, CacheControl: "public, max-age=60"},
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			calls.Add(1)
			return schema.Text("ok"), nil
		},
	})

	resp, _ := f.do(t, http.MethodGet, "/posts", "")
	f.do(t, http.MethodGet, "/posts", "")
	assert.Equal(t, int32(2), calls.Load())
	assert.Empty(t, resp.Header.Get("Cache-Control"))
}

func TestResponseShaping(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/login", Action: route.ActionPost},
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{
				Redirect:      "/home",
				SetCookies:    []schema.Cookie{{Name: "sid", Value: "abc", Options: schema.CookieOptions{HTTPOnly: true, SameSite: "strict"}}},
				RemoveCookies: []schema.Cookie{{Name: "old", Options: schema.CookieOptions{Path: "/"}}},
			}, nil
		},
	})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/raw-json", Action: route.ActionGet},
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Text(`{"already":"json"}`), nil
		},
	})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/text", Action: route.ActionGet},
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Text("hello"), nil
		},
	})
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/empty", Action: route.ActionGet},
		Handler: func(context.Context, *schema.RequestContext) (schema.Result, error) {
			return schema.Result{}, nil
		},
	})

	resp, _ := f.do(t, http.MethodPost, "/login", "")
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/home", resp.Header.Get("Location"))

	cookies := resp.Header.Values("Set-Cookie")
	require.Len(t, cookies, 2)
	assert.Equal(t, "sid=abc; HttpOnly; SameSite=Strict", cookies[0])
	assert.Contains(t, cookies[1], "old=; Path=/; Max-Age=0")

	_, body := f.do(t, http.MethodGet, "/raw-json", "")
	assert.Equal(t, `{"already":"json"}`, body)

	_, body = f.do(t, http.MethodGet, "/text", "")
	assert.Equal(t, `"hello"`, body)

	_, body = f.do(t, http.MethodGet, "/empty", "")
	assert.Equal(t, `{}`, body)
}

func TestRawRoute(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/hooks/:provider", Action: route.ActionPost},
		Raw: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte("raw " + r.URL.Path))
		}),
	})

	resp, body := f.do(t, http.MethodPost, "/hooks/stripe", "not json at all")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "raw /hooks/stripe", body)

	_, doc := f.do(t, http.MethodGet, "/swagger.json", "")
	assert.NotContains(t, doc, "/hooks")
}

func TestOpenAPI_IdempotentRegistration(t *testing.T) {
	f := newFixture(t, false)
	rt := route.Route{
		Definition: route.Definition{
			Path:       "/users/:id",
			Action:     route.ActionGet,
			URLParams:  schema.M(schema.String("id").Req()),
			ReturnType: route.ReturnType{Name: "User", Fields: schema.M(schema.String("email").Req())},
		},
		Handler: echoParams,
	}
	f.register(t, rt)
	before := f.channel.Doc().Spec().PathCount()
	f.register(t, rt)
	f.register(t, rt)

	assert.Equal(t, 1, before)
	assert.Equal(t, before, f.channel.Doc().Spec().PathCount())
	assert.Equal(t, 1, f.reg.Len())

	_, doc := f.do(t, http.MethodGet, "/swagger.json", "")
	assert.Contains(t, doc, `"/users/{id}"`)
}

func TestDocsEndpoints(t *testing.T) {
	f := newFixture(t, false)

	resp, _ := f.do(t, http.MethodGet, "/swagger", "")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
	assert.Equal(t, "/swagger/index.html", resp.Header.Get("Location"))

	resp, body := f.do(t, http.MethodGet, "/swagger/index.html", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "swagger")

	resp, body = f.do(t, http.MethodGet, "/reference", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `data-url="/swagger.json"`)

	resp, body = f.do(t, http.MethodGet, "/swagger.json", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, json.Valid([]byte(body)))
}

func TestCleanupRemovesRoute(t *testing.T) {
	f := newFixture(t, false)
	f.register(t, route.Route{
		Definition: route.Definition{Path: "/gone", Action: route.ActionGet},
		Handler:    echoParams,
	})
	resp, _ := f.do(t, http.MethodGet, "/gone", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	f.reg.CleanupOwner("users", nil)
	f.reg.Flush()

	resp, _ = f.do(t, http.MethodGet, "/gone", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEncodeBody(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, `{}`},
		{"json string", `[1,2]`, `[1,2]`},
		{"plain string", `hi`, `"hi"`},
		{"map", map[string]any{"a": 1}, `{"a":1}`},
		{"raw", json.RawMessage(`{"b":2}`), `{"b":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeBody(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}
