// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/ and core/.
package ports

import (
	"context"
	"time"

	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// StoredRoute is a route definition persisted with the service that owns it.
type StoredRoute struct {
	Owner      string
	Address    string // RPC address of the owning service
	Definition route.Definition
	UpdatedAt  time.Time
}

// Key returns the identity key of the stored definition.
func (s StoredRoute) Key() string {
	return s.Definition.Key()
}

// RouteStore persists remote route definitions so they survive restarts.
type RouteStore interface {
	// Save inserts or replaces a definition.
	Save(ctx context.Context, r StoredRoute) error

	// Delete removes a definition by key.
	Delete(ctx context.Context, key string) error

	// DeleteOwnerExcept removes an owner's definitions whose key is not in keep.
	DeleteOwnerExcept(ctx context.Context, owner string, keep []string) (int, error)

	// List returns all definitions ordered by owner and key.
	List(ctx context.Context) ([]StoredRoute, error)
}

// ResponseCache stores serialized responses by fingerprint.
type ResponseCache interface {
	// Get returns the stored value. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// -----------------------------------------------------------------------------
// Observability Ports
// -----------------------------------------------------------------------------

// Metrics records gateway measurements.
type Metrics interface {
	// RPCObserved records one call: its latency and outcome.
	RPCObserved(function, kind, status string, d time.Duration)

	// CacheLookup records a response cache hit or miss for a route key.
	CacheLookup(routeKey string, hit bool)

	// RegistryRebuilt records a rebuild broadcast of a controller's registry.
	RegistryRebuilt(controller string, routes int)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) RPCObserved(string, string, string, time.Duration) {}
func (NopMetrics) CacheLookup(string, bool)                          {}
func (NopMetrics) RegistryRebuilt(string, int)                       {}
