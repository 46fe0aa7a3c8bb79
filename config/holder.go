package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// settleDelay groups the bursts of write events editors produce on save.
const settleDelay = 50 * time.Millisecond

// field names one config value and how to read it.
type field struct {
	name string
	get  func(*Config) any
}

var reloadable = []field{
	{"services", func(c *Config) any { return c.Services }},
	{"rate_limit.enabled", func(c *Config) any { return c.RateLimit.Enabled }},
	{"rate_limit.per_second", func(c *Config) any { return c.RateLimit.PerSecond }},
	{"rate_limit.burst", func(c *Config) any { return c.RateLimit.Burst }},
	{"logging.level", func(c *Config) any { return c.Logging.Level }},
}

var restartRequired = []field{
	{"server.host", func(c *Config) any { return c.Server.Host }},
	{"server.port", func(c *Config) any { return c.Server.Port }},
	{"grpc.enabled", func(c *Config) any { return c.GRPC.Enabled }},
	{"grpc.port", func(c *Config) any { return c.GRPC.Port }},
	{"router.rebuild_delay", func(c *Config) any { return c.Router.RebuildDelay }},
	{"mcp.enabled", func(c *Config) any { return c.MCP.Enabled }},
	{"mcp.path", func(c *Config) any { return c.MCP.Path }},
	{"cache.driver", func(c *Config) any { return c.Cache.Driver }},
	{"database.dsn", func(c *Config) any { return c.Database.DSN }},
	{"auth.jwt_secret", func(c *Config) any { return c.Auth.JWTSecret }},
	{"logging.format", func(c *Config) any { return c.Logging.Format }},
}

func names(fields []field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.name
	}
	return out
}

// changed lists the fields whose value differs between a and b.
func changed(fields []field, a, b *Config) []string {
	var out []string
	for _, f := range fields {
		if !reflect.DeepEqual(f.get(a), f.get(b)) {
			out = append(out, f.name)
		}
	}
	return out
}

// ReloadableFields returns which fields take effect without restart.
func ReloadableFields() []string { return names(reloadable) }

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string { return names(restartRequired) }

// Holder serves the live configuration and swaps it on reload.
type Holder struct {
	current atomic.Pointer[Config]
	path    string
	logger  zerolog.Logger

	mu        sync.Mutex
	listeners []func(*Config)
	observe   func(error)
	watcher   *fsnotify.Watcher

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads the initial configuration. An empty path holds a
// configuration built from defaults and environment only.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if path != "" {
		if path, err = filepath.Abs(path); err != nil {
			return nil, fmt.Errorf("resolve config path: %w", err)
		}
	}

	h := &Holder{
		path:   path,
		logger: logger.With().Str("component", "config").Logger(),
		stopCh: make(chan struct{}),
	}
	h.current.Store(cfg)
	return h, nil
}

// Get returns the current configuration. Callers must not modify it.
func (h *Holder) Get() *Config {
	return h.current.Load()
}

// Path returns the absolute config file path, or "" when none was given.
func (h *Holder) Path() string {
	return h.path
}

// OnChange registers fn to run after every successful reload.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Observe registers fn to be told the outcome of every reload attempt.
func (h *Holder) Observe(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observe = fn
}

// Reload loads the file again and notifies listeners. A config that fails to
// load or validate is rejected and the current one stays in place.
func (h *Holder) Reload() error {
	next, err := Load(h.path)

	h.mu.Lock()
	observe := h.observe
	listeners := append([]func(*Config){}, h.listeners...)
	h.mu.Unlock()

	if observe != nil {
		observe(err)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload rejected")
		return fmt.Errorf("reload config: %w", err)
	}

	prev := h.current.Swap(next)

	if fields := changed(restartRequired, prev, next); len(fields) > 0 {
		h.logger.Warn().Strs("fields", fields).Msg("changes take effect after restart")
	}
	h.logger.Info().
		Strs("applied", changed(reloadable, prev, next)).
		Int("services", len(next.Services)).
		Msg("config reloaded")

	for _, fn := range listeners {
		fn(next)
	}
	return nil
}

// WatchFile reloads whenever the config file is written or replaced. The
// parent directory is watched so atomic renames are seen.
func (h *Holder) WatchFile() error {
	if h.path == "" {
		return fmt.Errorf("watch config: no config file")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	if err := w.Add(filepath.Dir(h.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch config: %w", err)
	}

	h.mu.Lock()
	h.watcher = w
	h.mu.Unlock()

	go h.watchLoop(w)
	h.logger.Info().Str("path", h.path).Msg("watching config file")
	return nil
}

func (h *Holder) watchLoop(w *fsnotify.Watcher) {
	name := filepath.Base(h.path)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != name || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(settleDelay, func() {
				select {
				case <-h.stopCh:
				default:
					h.Reload()
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("config watcher")

		case <-h.stopCh:
			return
		}
	}
}

// WatchSignals reloads on SIGHUP until Stop.
func (h *Holder) WatchSignals() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-sig:
				h.logger.Info().Msg("SIGHUP received")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. Safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}
