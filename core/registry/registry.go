// Package registry tracks the routes one protocol controller serves.
// It diffs re-registrations against what is already known, removes
// routes that owning services no longer declare, and coalesces bursts
// of changes into a single rebuild broadcast of an immutable snapshot.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

// DefaultDelay is the debounce window between the first change and the
// rebuild it triggers.
const DefaultDelay = 100 * time.Millisecond

// ErrClosed is returned by mutations after Close.
var ErrClosed = errors.New("registry closed")

// Change describes the effect of a registration.
type Change int

const (
	Unchanged Change = iota
	Added
	Changed
)

func (c Change) String() string {
	switch c {
	case Added:
		return "added"
	case Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// State is the lifecycle state of a single route.
type State int

const (
	// Registered routes are known but not yet part of a snapshot.
	Registered State = iota
	// Stale routes changed since the last snapshot.
	Stale
	// Rebuilt routes are served by the current snapshot.
	Rebuilt
)

func (s State) String() string {
	switch s {
	case Stale:
		return "stale"
	case Rebuilt:
		return "rebuilt"
	default:
		return "registered"
	}
}

// Snapshot is an immutable view of the registry at one rebuild.
type Snapshot struct {
	Version uint64
	Routes  []route.Route // registration order

	byKey map[string]int
}

// Get returns a route by identity key.
func (s *Snapshot) Get(key string) (route.Route, bool) {
	if s == nil {
		return route.Route{}, false
	}
	i, ok := s.byKey[key]
	if !ok {
		return route.Route{}, false
	}
	return s.Routes[i], true
}

// Len returns the number of routes in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Routes)
}

// Subscriber receives every rebuilt snapshot. Subscribers are called
// sequentially, outside the registry lock.
type Subscriber func(*Snapshot)

// Metrics is the subset of ports.Metrics the registry reports to.
type Metrics interface {
	RegistryRebuilt(controller string, routes int)
}

// Options configures a Registry.
type Options struct {
	// Name identifies the owning controller in logs and metrics.
	Name    string
	Delay   time.Duration
	Logger  zerolog.Logger
	Metrics Metrics
}

type entry struct {
	route       route.Route
	fingerprint string
	state       State
	seq         uint64
}

// Registry holds the routes of one protocol controller.
type Registry struct {
	name    string
	delay   time.Duration
	logger  zerolog.Logger
	metrics Metrics

	mu      sync.RWMutex
	entries map[string]*entry
	seq     uint64
	timer   *time.Timer
	subs    []Subscriber
	closed  bool

	// rebuildMu serializes rebuilds so subscribers see versions in order.
	rebuildMu sync.Mutex
	version   uint64
	snapshot  atomic.Pointer[Snapshot]
}

// New creates an empty registry whose current snapshot has no routes.
func New(opts Options) *Registry {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	r := &Registry{
		name:    opts.Name,
		delay:   opts.Delay,
		logger:  opts.Logger.With().Str("registry", opts.Name).Logger(),
		metrics: opts.Metrics,
		entries: make(map[string]*entry),
	}
	r.snapshot.Store(&Snapshot{byKey: map[string]int{}})
	return r
}

// Name returns the controller name the registry was created with.
func (r *Registry) Name() string {
	return r.name
}

// Subscribe adds fn to the rebuild broadcast.
func (r *Registry) Subscribe(fn Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, fn)
}

// Register adds or replaces a service route. Registering a definition
// identical to the current one is a no-op.
func (r *Registry) Register(rt route.Route) (Change, error) {
	rt.Meta = false
	return r.put(rt)
}

// RegisterMeta adds a route owned by the controller itself. Meta routes
// are never removed by cleanup and cannot be overridden by services.
func (r *Registry) RegisterMeta(rt route.Route) (Change, error) {
	rt.Meta = true
	return r.put(rt)
}

func (r *Registry) put(rt route.Route) (Change, error) {
	if rt.IsRaw() {
		if !strings.HasPrefix(rt.Path, "/") || !rt.Action.Valid() {
			return Unchanged, fmt.Errorf("raw route %s: invalid path or action", rt.Key())
		}
	} else if err := rt.Validate(); err != nil {
		return Unchanged, fmt.Errorf("route %s: %w", rt.Key(), err)
	}
	if rt.Handler == nil && rt.Raw == nil {
		return Unchanged, fmt.Errorf("route %s: no handler", rt.Key())
	}

	key := rt.Key()
	fp := rt.Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Unchanged, ErrClosed
	}

	existing, ok := r.entries[key]
	// A key belongs to its owner until that owner cleans it up.
	if ok && (existing.route.Meta && !rt.Meta || existing.route.Owner != rt.Owner) {
		return Unchanged, &ConflictError{Conflicts: []Conflict{{
			Key:      key,
			Existing: existing.route.Owner,
			Incoming: rt.Owner,
		}}}
	}
	if ok && existing.fingerprint == fp {
		return Unchanged, nil
	}

	r.seq++
	change := Added
	state := Registered
	if ok {
		change = Changed
		state = Stale
	}
	r.entries[key] = &entry{route: rt, fingerprint: fp, state: state, seq: r.seq}
	r.scheduleLocked()

	r.logger.Debug().
		Str("route", key).
		Str("owner", rt.Owner).
		Stringer("change", change).
		Msg("route registered")

	return change, nil
}

// Unregister removes a single route. It reports whether the route existed.
func (r *Registry) Unregister(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[key]; !ok || r.closed {
		return false
	}
	delete(r.entries, key)
	r.scheduleLocked()
	return true
}

// Cleanup removes every service route whose key is not in live. Meta
// routes are kept. It returns the removed keys, sorted.
func (r *Registry) Cleanup(live []string) []string {
	return r.cleanup(func(route.Route) bool { return true }, live)
}

// CleanupOwner is Cleanup restricted to the routes of one owner.
func (r *Registry) CleanupOwner(owner string, live []string) []string {
	return r.cleanup(func(rt route.Route) bool { return rt.Owner == owner }, live)
}

func (r *Registry) cleanup(match func(route.Route) bool, live []string) []string {
	keep := make(map[string]bool, len(live))
	for _, k := range live {
		keep[k] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	var removed []string
	for key, e := range r.entries {
		if e.route.Meta || keep[key] || !match(e.route) {
			continue
		}
		delete(r.entries, key)
		removed = append(removed, key)
	}
	if len(removed) == 0 {
		return nil
	}
	sort.Strings(removed)
	r.scheduleLocked()

	r.logger.Info().
		Strs("routes", removed).
		Msg("routes removed")

	return removed
}

// Get returns the registered route for key, including routes not yet
// rebuilt into a snapshot.
func (r *Registry) Get(key string) (route.Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return route.Route{}, false
	}
	return e.route, true
}

// State returns the lifecycle state of a route.
func (r *Registry) State(key string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[key]
	if !ok {
		return Registered, false
	}
	return e.state, true
}

// Len returns the number of registered routes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns the most recently rebuilt snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// Flush rebuilds immediately, cancelling any pending debounced rebuild.
func (r *Registry) Flush() *Snapshot {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	return r.rebuild()
}

// Close stops pending rebuilds and rejects further mutations. It is safe
// to call more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// scheduleLocked starts the debounce window unless one is already open.
// Changes arriving inside the window join the same rebuild.
func (r *Registry) scheduleLocked() {
	if r.timer != nil || r.closed {
		return
	}
	r.timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		r.timer = nil
		closed := r.closed
		r.mu.Unlock()
		if !closed {
			r.rebuild()
		}
	})
}

func (r *Registry) rebuild() *Snapshot {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
		e.state = Rebuilt
	}
	subs := append([]Subscriber(nil), r.subs...)
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	r.version++
	snap := &Snapshot{
		Version: r.version,
		Routes:  make([]route.Route, len(entries)),
		byKey:   make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		snap.Routes[i] = e.route
		snap.byKey[e.route.Key()] = i
	}
	r.snapshot.Store(snap)

	for _, fn := range subs {
		fn(snap)
	}
	if r.metrics != nil {
		r.metrics.RegistryRebuilt(r.name, len(snap.Routes))
	}

	r.logger.Debug().
		Uint64("version", snap.Version).
		Int("routes", len(snap.Routes)).
		Msg("registry rebuilt")

	return snap
}

// Conflict is an attempt by a service to claim a controller-owned route.
type Conflict struct {
	Key      string
	Existing string
	Incoming string
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%s is reserved by %q, cannot be claimed by %q", c.Key, c.Existing, c.Incoming)
}

// ConflictError represents one or more route conflicts.
type ConflictError struct {
	Conflicts []Conflict
}

// Error returns the conflict error message.
func (e *ConflictError) Error() string {
	var msgs []string
	for _, c := range e.Conflicts {
		msgs = append(msgs, c.Error())
	}
	return fmt.Sprintf("route conflicts detected:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasConflicts returns true if there are any conflicts.
func (e *ConflictError) HasConflicts() bool {
	return len(e.Conflicts) > 0
}
