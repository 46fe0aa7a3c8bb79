package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// Call kinds used in logs and metrics.
const (
	KindRequest = "request"
	KindEvent   = "event"
)

// Metrics is the subset of ports.Metrics the channel reports to.
type Metrics interface {
	RPCObserved(function, kind, status string, d time.Duration)
}

// Callback completes a call handled by a CallbackHandler.
type Callback func(res schema.Result, err error)

// CallbackHandler may complete a call through its return values or by
// invoking cb later. Returning (nil, nil) means the callback will fire.
type CallbackHandler func(ctx context.Context, rc *schema.RequestContext, cb Callback) (*schema.Result, error)

// EventHandler consumes a published event.
type EventHandler func(ctx context.Context, payload json.RawMessage) error

type outcome struct {
	res schema.Result
	err error
}

// Server hosts a service's route handlers on the module service.
type Server struct {
	logger  zerolog.Logger
	metrics Metrics

	mu        sync.RWMutex
	functions map[string]CallbackHandler
	events    map[string]EventHandler
}

var _ ModuleServer = (*Server)(nil)

// NewServer creates a server with no handlers. A nil metrics disables
// reporting.
func NewServer(logger zerolog.Logger, metrics Metrics) *Server {
	return &Server{
		logger:    logger,
		metrics:   metrics,
		functions: make(map[string]CallbackHandler),
		events:    make(map[string]EventHandler),
	}
}

// Handle registers a handler that completes by returning.
func (s *Server) Handle(function string, h schema.Handler) {
	s.HandleCallback(function, func(ctx context.Context, rc *schema.RequestContext, _ Callback) (*schema.Result, error) {
		res, err := h(ctx, rc)
		return &res, err
	})
}

// HandleCallback registers a handler that may complete through a callback.
func (s *Server) HandleCallback(function string, h CallbackHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[function] = h
}

// On registers an event consumer.
func (s *Server) On(event string, h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event] = h
}

// Register attaches the server to a grpc.Server.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&ModuleServiceDesc, s)
}

// Call implements ModuleServer.
func (s *Server) Call(ctx context.Context, env *Envelope) (reply *Reply, err error) {
	start := time.Now()
	defer func() { s.observe(env.Function, KindRequest, err, time.Since(start)) }()

	s.mu.RLock()
	h, ok := s.functions[env.Function]
	s.mu.RUnlock()
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "function %q is not registered", env.Function)
	}

	rc, err := Decode(env)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := s.invoke(ctx, env.Function, h, rc)
	if err != nil {
		return nil, toStatus(err)
	}

	reply, err = EncodeResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return reply, nil
}

// invoke runs h and waits for its single completion, from either its
// return values or its callback. Later completions are dropped.
func (s *Server) invoke(ctx context.Context, function string, h CallbackHandler, rc *schema.RequestContext) (schema.Result, error) {
	done := make(chan outcome, 1)
	var once sync.Once
	complete := func(res schema.Result, err error) {
		fired := false
		once.Do(func() {
			done <- outcome{res, err}
			fired = true
		})
		if !fired {
			s.logger.Warn().Str("function", function).Msg("duplicate completion dropped")
		}
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error().Str("function", function).Interface("panic", r).Msg("handler panicked")
				complete(schema.Result{}, apperr.New(codes.Internal, apperr.GenericMessage))
			}
		}()
		res, err := h(ctx, rc, complete)
		if res != nil || err != nil {
			var out schema.Result
			if res != nil {
				out = *res
			}
			complete(out, err)
		}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		return schema.Result{}, ctx.Err()
	}
}

// Publish implements ModuleServer. Events nobody consumes are acknowledged.
func (s *Server) Publish(ctx context.Context, ev *Event) (ack *Ack, err error) {
	start := time.Now()
	defer func() { s.observe(ev.Name, KindEvent, err, time.Since(start)) }()

	s.mu.RLock()
	h, ok := s.events[ev.Name]
	s.mu.RUnlock()
	if !ok {
		s.logger.Debug().Str("event", ev.Name).Msg("no consumer for event")
		return &Ack{}, nil
	}

	var payload json.RawMessage
	if ev.Payload != "" {
		payload = json.RawMessage(ev.Payload)
	}
	if err := h(ctx, payload); err != nil {
		return nil, toStatus(err)
	}
	return &Ack{}, nil
}

func (s *Server) observe(function, kind string, err error, d time.Duration) {
	code := codes.OK
	if err != nil {
		code = apperr.From(err).Code
	}
	if s.metrics != nil {
		s.metrics.RPCObserved(function, kind, code.String(), d)
	}

	ev := s.logger.Debug()
	if code == codes.Internal || code == codes.Unknown {
		ev = s.logger.Error().Err(err)
	}
	ev.Str("function", function).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", d).
		Msg("rpc handled")
}

// toStatus converts a handler error into a gRPC status error, keeping an
// application code in the details payload.
func toStatus(err error) error {
	e := apperr.From(err)
	if e.Code == codes.OK {
		e = apperr.New(codes.Unknown, err.Error())
	}
	return e.GRPCStatus().Err()
}
