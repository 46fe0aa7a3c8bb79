package app_test

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ConduitPlatform/Conduit-sub006/adapters/sqlite"
	"github.com/ConduitPlatform/Conduit-sub006/app"
	"github.com/ConduitPlatform/Conduit-sub006/core/middleware"
	"github.com/ConduitPlatform/Conduit-sub006/core/registry"
	"github.com/ConduitPlatform/Conduit-sub006/core/rpc"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

type fixture struct {
	rest   *registry.Registry
	tools  *registry.Registry
	mws    *middleware.Registry
	store  *sqlite.RouteStore
	router *app.Router
	dials  atomic.Int32
}

// startService hosts an rpc.Server over an in-memory listener.
func startService(t *testing.T, srv *rpc.Server) *bufconn.Listener {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	srv.Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)
	return lis
}

func usersService() *rpc.Server {
	srv := rpc.NewServer(zerolog.Nop(), nil)
	srv.Handle("getUser", func(_ context.Context, rc *schema.RequestContext) (schema.Result, error) {
		return schema.Result{Body: map[string]any{"id": rc.Params["id"], "role": rc.Context["role"]}}, nil
	})
	srv.Handle("role", func(context.Context, *schema.RequestContext) (schema.Result, error) {
		return schema.Result{Body: map[string]any{"role": "admin"}}, nil
	})
	return srv
}

func newFixture(t *testing.T, lis *bufconn.Listener, db *sqlite.DB) *fixture {
	t.Helper()

	f := &fixture{
		rest:  registry.New(registry.Options{Name: "rest", Delay: time.Hour, Logger: zerolog.Nop()}),
		tools: registry.New(registry.Options{Name: "mcp", Delay: time.Hour, Logger: zerolog.Nop()}),
		mws:   middleware.NewRegistry(zerolog.Nop()),
	}
	t.Cleanup(func() {
		f.rest.Close()
		f.tools.Close()
	})

	if db == nil {
		var err error
		db, err = sqlite.Open(filepath.Join(t.TempDir(), "routes.db"))
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		require.NoError(t, db.Migrate(context.Background()))
	}
	f.store = sqlite.NewRouteStore(db)

	f.router = app.NewRouter(app.RouterOptions{
		REST:        f.rest,
		Tools:       f.tools,
		Middlewares: f.mws,
		Store:       f.store,
		Logger:      zerolog.Nop(),
		CallTimeout: 5 * time.Second,
		Dial: func(address, service string) (*rpc.Client, error) {
			f.dials.Add(1)
			conn, err := grpc.NewClient("passthrough:///"+address,
				grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
					return lis.DialContext(ctx)
				}),
				grpc.WithTransportCredentials(insecure.NewCredentials()),
				grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpc.CodecName)),
			)
			if err != nil {
				return nil, err
			}
			t.Cleanup(func() { conn.Close() })
			return rpc.NewClient(conn, service, zerolog.Nop(), nil), nil
		},
	})
	t.Cleanup(func() { f.router.Close() })
	return f
}

func userRoute(path string, tool bool) route.Definition {
	return route.Definition{
		Path:         path,
		Action:       route.ActionGet,
		URLParams:    schema.M(schema.String("id").Req()),
		Middlewares:  []string{"?isAdmin"},
		ToolEligible: tool,
		Function:     "getUser",
	}
}

func noop(context.Context, *schema.RequestContext) (schema.Result, error) {
	return schema.Result{}, nil
}

// -----------------------------------------------------------------------------
// Local registration
// -----------------------------------------------------------------------------

func TestRegisterRoute_ToolEligibility(t *testing.T) {
	f := newFixture(t, bufconn.Listen(1), nil)

	def := route.Definition{Path: "/admin/users/", Action: route.ActionGet, ToolEligible: true}
	change, err := f.router.RegisterRoute("users", def, noop)
	require.NoError(t, err)
	assert.Equal(t, registry.Added, change)

	_, ok := f.rest.Get("GET:/admin/users")
	assert.True(t, ok, "path is normalized and registered for REST")
	_, ok = f.tools.Get("GET:/admin/users")
	assert.True(t, ok, "tool-eligible route registered for tools")

	def.ToolEligible = false
	change, err = f.router.RegisterRoute("users", def, noop)
	require.NoError(t, err)
	assert.Equal(t, registry.Changed, change)
	_, ok = f.tools.Get("GET:/admin/users")
	assert.False(t, ok, "route withdrawn from tools")

	change, err = f.router.RegisterRoute("users", def, noop)
	require.NoError(t, err)
	assert.Equal(t, registry.Unchanged, change)
	assert.Equal(t, 1, f.rest.Len())
}

func TestRegisterRoute_InvalidDefinition(t *testing.T) {
	f := newFixture(t, bufconn.Listen(1), nil)

	_, err := f.router.RegisterRoute("users", route.Definition{Path: "/users/:id", Action: route.ActionGet}, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `path parameter "id"`)
	assert.Zero(t, f.rest.Len())
}

func TestRegisterRaw(t *testing.T) {
	f := newFixture(t, bufconn.Listen(1), nil)

	_, err := f.router.RegisterRaw("storage", route.ActionPost, "/storage/upload", http.NotFoundHandler())
	require.NoError(t, err)

	rt, ok := f.rest.Get("POST:/storage/upload")
	require.True(t, ok)
	assert.True(t, rt.IsRaw())
	assert.Zero(t, f.tools.Len())
}

func TestCleanupRoutes(t *testing.T) {
	f := newFixture(t, bufconn.Listen(1), nil)

	for _, p := range []string{"/a", "/b", "/c"} {
		_, err := f.router.RegisterRoute("svc", route.Definition{Path: p, Action: route.ActionGet, ToolEligible: true}, noop)
		require.NoError(t, err)
	}
	_, err := f.router.RegisterRoute("other", route.Definition{Path: "/d", Action: route.ActionGet}, noop)
	require.NoError(t, err)

	removed := f.router.CleanupRoutes("svc", []string{"GET:/b"})
	assert.Equal(t, []string{"GET:/a", "GET:/c"}, removed)
	assert.Equal(t, 2, f.rest.Len())
	assert.Equal(t, 1, f.tools.Len())
}

// -----------------------------------------------------------------------------
// Remote registration
// -----------------------------------------------------------------------------

func TestRegisterRoutes_ForwardsToService(t *testing.T) {
	lis := startService(t, usersService())
	f := newFixture(t, lis, nil)
	ctx := context.Background()

	resp, err := f.router.RegisterRoutes(ctx, &rpc.RegisterRoutesRequest{
		Service:     "users",
		Address:     "users:5000",
		Routes:      []route.Definition{userRoute("/users/:id", true)},
		Middlewares: []rpc.MiddlewareDef{{Name: "isAdmin", Function: "role"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Added)
	assert.Empty(t, resp.Errors)

	rt, ok := f.rest.Get("GET:/users/:id")
	require.True(t, ok)
	assert.Equal(t, "users", rt.Owner)

	rc := &schema.RequestContext{URLParams: map[string]any{"id": "u1"}}
	rc.MergeParams()
	require.NoError(t, f.mws.Run(ctx, rt.Middlewares, rc))
	assert.Equal(t, "admin", rc.Context["role"], "remote middleware merged its result")

	res, err := rt.Handler(ctx, rc)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "u1", "role": "admin"}, res.Body)

	_, ok = f.tools.Get("GET:/users/:id")
	assert.True(t, ok)
}

func TestRegisterRoutes_CompleteSetReplacesPrevious(t *testing.T) {
	lis := startService(t, usersService())
	f := newFixture(t, lis, nil)
	ctx := context.Background()

	req := &rpc.RegisterRoutesRequest{
		Service: "users",
		Address: "users:5000",
		Routes: []route.Definition{
			userRoute("/users/:id", false),
			userRoute("/admin/users/:id", true),
		},
	}
	_, err := f.router.RegisterRoutes(ctx, req)
	require.NoError(t, err)

	req.Routes = req.Routes[:1]
	resp, err := f.router.RegisterRoutes(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Added)
	assert.Equal(t, 1, resp.Unchanged)
	assert.Equal(t, 1, resp.Removed)
	assert.Equal(t, 1, f.rest.Len())
	assert.Zero(t, f.tools.Len())
	assert.Equal(t, int32(1), f.dials.Load(), "client reused for the same address")

	stored, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "GET:/users/:id", stored[0].Key())
	assert.Equal(t, "users:5000", stored[0].Address)
}

func TestRegisterRoutes_Errors(t *testing.T) {
	f := newFixture(t, startService(t, usersService()), nil)
	ctx := context.Background()

	_, err := f.router.RegisterRoutes(ctx, &rpc.RegisterRoutesRequest{Address: "x:1"})
	require.Error(t, err)
	_, err = f.router.RegisterRoutes(ctx, &rpc.RegisterRoutesRequest{Service: "x"})
	require.Error(t, err)

	noFunction := userRoute("/users/:id", false)
	noFunction.Function = ""
	invalid := route.Definition{Path: "/broken/:id", Action: route.ActionGet, Function: "getUser"}

	resp, err := f.router.RegisterRoutes(ctx, &rpc.RegisterRoutesRequest{
		Service: "users",
		Address: "users:5000",
		Routes:  []route.Definition{noFunction, invalid, userRoute("/ok/:id", false)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Added)
	require.Len(t, resp.Errors, 2)
	assert.Contains(t, resp.Errors[0], "function is required")
	assert.Contains(t, resp.Errors[1], "GET:/broken/:id")
}

func TestRegisterRoutes_MetaConflict(t *testing.T) {
	f := newFixture(t, startService(t, usersService()), nil)

	_, err := f.rest.RegisterMeta(route.Route{
		Definition: route.Definition{Path: "/health", Action: route.ActionGet},
		Owner:      "gateway",
		Handler:    noop,
	})
	require.NoError(t, err)

	def := route.Definition{Path: "/health", Action: route.ActionGet, Function: "getUser"}
	resp, err := f.router.RegisterRoutes(context.Background(), &rpc.RegisterRoutesRequest{
		Service: "users",
		Address: "users:5000",
		Routes:  []route.Definition{def},
	})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)

	rt, _ := f.rest.Get("GET:/health")
	assert.Equal(t, "gateway", rt.Owner)
}

func TestRegisterRoutes_CrossServiceConflict(t *testing.T) {
	f := newFixture(t, startService(t, usersService()), nil)
	ctx := context.Background()

	_, err := f.router.RegisterRoute("cms", route.Definition{Path: "/items", Action: route.ActionGet}, noop)
	require.NoError(t, err)

	resp, err := f.router.RegisterRoutes(ctx, &rpc.RegisterRoutesRequest{
		Service: "users",
		Address: "users:5000",
		Routes:  []route.Definition{{Path: "/items", Action: route.ActionGet, Function: "getUser"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Errors, 1)
	assert.Contains(t, resp.Errors[0], "GET:/items")
	assert.Zero(t, resp.Added+resp.Changed)

	rt, ok := f.rest.Get("GET:/items")
	require.True(t, ok)
	assert.Equal(t, "cms", rt.Owner)
}

func TestRecover(t *testing.T) {
	lis := startService(t, usersService())
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "routes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	first := newFixture(t, lis, db)
	_, err = first.router.RegisterRoutes(context.Background(), &rpc.RegisterRoutesRequest{
		Service: "users",
		Address: "users:5000",
		Routes:  []route.Definition{userRoute("/users/:id", true)},
	})
	require.NoError(t, err)

	second := newFixture(t, lis, db)
	require.NoError(t, second.router.Recover(context.Background()))

	rt, ok := second.rest.Get("GET:/users/:id")
	require.True(t, ok)
	assert.Equal(t, "users", rt.Owner)
	_, ok = second.tools.Get("GET:/users/:id")
	assert.True(t, ok)
	assert.Equal(t, []string{"users"}, second.router.Services())
}

func TestRegisterFile(t *testing.T) {
	f := newFixture(t, startService(t, usersService()), nil)

	path := filepath.Join(t.TempDir(), "cms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service: cms
routes:
  - path: /admin/items
    action: GET
    function: getUser
    toolEligible: true
`), 0644))

	resp, err := f.router.RegisterFile(context.Background(), "", "cms:5000", path)
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Added)

	rt, ok := f.rest.Get("GET:/admin/items")
	require.True(t, ok)
	assert.Equal(t, "cms", rt.Owner)

	stored, err := f.store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stored, "static services are not persisted")

	_, err = f.router.RegisterFile(context.Background(), "cms", "cms:5000", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestClose_Idempotent(t *testing.T) {
	f := newFixture(t, startService(t, usersService()), nil)

	_, err := f.router.RegisterRoutes(context.Background(), &rpc.RegisterRoutesRequest{
		Service: "users",
		Address: "users:5000",
		Routes:  []route.Definition{userRoute("/users/:id", false)},
	})
	require.NoError(t, err)

	require.NoError(t, f.router.Close())
	require.NoError(t, f.router.Close())

	_, err = f.router.RegisterRoutes(context.Background(), &rpc.RegisterRoutesRequest{Service: "users", Address: "users:5001"})
	assert.Error(t, err)
}
