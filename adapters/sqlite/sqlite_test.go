package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/adapters/sqlite"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
	"github.com/ConduitPlatform/Conduit-sub006/ports"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "conduit-test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func stored(owner, path string) ports.StoredRoute {
	return ports.StoredRoute{
		Owner:   owner,
		Address: owner + ":5000",
		Definition: route.Definition{
			Path:        path,
			Action:      route.ActionGet,
			QueryParams: schema.M(schema.Number("skip"), schema.String("sort")),
			ReturnType: route.ReturnType{
				Name:   "User",
				Fields: schema.M(schema.String("email").Req(), schema.Relation("team", "Team")),
			},
			Errors:       []route.ErrorDef{{ConduitCode: "USER_NOT_FOUND", Code: codes.NotFound, Message: "no user"}},
			Middlewares:  []string{"authMiddleware", "?rateLimit"},
			ToolEligible: true,
			CacheControl: "public, max-age=60",
			Function:     "getUser",
		},
	}
}

func fingerprint(d route.Definition) string {
	return route.Route{Definition: d}.Fingerprint()
}

// -----------------------------------------------------------------------------
// Migrations
// -----------------------------------------------------------------------------

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	before, err := db.Version(ctx)
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if before == 0 {
		t.Fatal("Version() = 0 after migrate")
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if after, _ := db.Version(ctx); after != before {
		t.Errorf("Version() = %d after second migrate, want %d", after, before)
	}
}

func TestMigrate_NewerSchema(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("expected error for schema newer than the build")
	}
}

func TestOpen_Memory(t *testing.T) {
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	routes, err := sqlite.NewRouteStore(db).List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(routes) != 0 {
		t.Errorf("List() = %d routes, want 0", len(routes))
	}
}

// -----------------------------------------------------------------------------
// RouteStore Tests
// -----------------------------------------------------------------------------

func TestRouteStore_SaveAndList(t *testing.T) {
	store := sqlite.NewRouteStore(setupTestDB(t))
	ctx := context.Background()

	want := stored("users", "/users/:id")
	want.Definition.URLParams = schema.M(schema.ObjectID("id").Req())
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("List() = %d routes, want 1", len(got))
	}

	r := got[0]
	if r.Owner != "users" || r.Address != "users:5000" {
		t.Errorf("owner/address = %s/%s", r.Owner, r.Address)
	}
	if r.Key() != "GET:/users/:id" {
		t.Errorf("Key() = %s", r.Key())
	}
	if r.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}
	if fingerprint(r.Definition) != fingerprint(want.Definition) {
		t.Errorf("definition changed across persistence:\n got %+v\nwant %+v", r.Definition, want.Definition)
	}
	if r.Definition.Errors[0].Code != codes.NotFound {
		t.Errorf("error code = %v, want NotFound", r.Definition.Errors[0].Code)
	}
	if names := r.Definition.QueryParams.Names(); len(names) != 2 || names[0] != "skip" {
		t.Errorf("query param order = %v", names)
	}
}

func TestRouteStore_SaveReplaces(t *testing.T) {
	store := sqlite.NewRouteStore(setupTestDB(t))
	ctx := context.Background()

	r := stored("users", "/users")
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	r.Address = "users-2:5000"
	r.Definition.Description = "changed"
	r.UpdatedAt = time.Now().Add(time.Minute).UTC()
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, _ := store.List(ctx)
	if len(got) != 1 {
		t.Fatalf("List() = %d routes, want 1", len(got))
	}
	if got[0].Address != "users-2:5000" || got[0].Definition.Description != "changed" {
		t.Errorf("route not replaced: %+v", got[0])
	}
}

func TestRouteStore_DeleteOwnerExcept(t *testing.T) {
	store := sqlite.NewRouteStore(setupTestDB(t))
	ctx := context.Background()

	for _, r := range []ports.StoredRoute{
		stored("users", "/users"),
		stored("users", "/users/me"),
		stored("users", "/users/count"),
		stored("chat", "/rooms"),
	} {
		if err := store.Save(ctx, r); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	n, err := store.DeleteOwnerExcept(ctx, "users", []string{"GET:/users", "GET:/rooms"})
	if err != nil {
		t.Fatalf("DeleteOwnerExcept() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteOwnerExcept() removed %d, want 2", n)
	}

	got, _ := store.List(ctx)
	var keys []string
	for _, r := range got {
		keys = append(keys, r.Owner+" "+r.Key())
	}
	want := []string{"chat GET:/rooms", "users GET:/users"}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Errorf("remaining = %v, want %v", keys, want)
	}

	n, err = store.DeleteOwnerExcept(ctx, "users", nil)
	if err != nil {
		t.Fatalf("DeleteOwnerExcept(nil) error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteOwnerExcept(nil) removed %d, want 1", n)
	}
}

func TestRouteStore_Delete(t *testing.T) {
	store := sqlite.NewRouteStore(setupTestDB(t))
	ctx := context.Background()

	if err := store.Save(ctx, stored("users", "/users")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Delete(ctx, "GET:/users"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "GET:/missing"); err != nil {
		t.Fatalf("Delete() of missing key error = %v", err)
	}
	got, _ := store.List(ctx)
	if len(got) != 0 {
		t.Errorf("List() = %d routes, want 0", len(got))
	}
}
