package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

const tracerName = "github.com/ConduitPlatform/Conduit-sub006/core/rpc"

// Client calls the module service of one owning service.
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	service string
	logger  zerolog.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// Dial connects to a service's module endpoint. The connection is
// established lazily on the first call.
func Dial(address, service string, logger zerolog.Logger, metrics Metrics) (*Client, error) {
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s at %s: %w", service, address, err)
	}
	c := NewClient(conn, service, logger, metrics)
	c.closer = conn.Close
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface, service string, logger zerolog.Logger, metrics Metrics) *Client {
	return &Client{
		conn:    conn,
		service: service,
		logger:  logger.With().Str("service", service).Logger(),
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

// Service returns the name of the service the client calls.
func (c *Client) Service() string {
	return c.service
}

// Handler returns a route handler that forwards requests to function.
func (c *Client) Handler(function string) schema.Handler {
	return func(ctx context.Context, rc *schema.RequestContext) (res schema.Result, err error) {
		ctx, span := c.tracer.Start(ctx, "conduit.rpc/"+function,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("rpc.system", "grpc"),
				attribute.String("rpc.service", c.service),
				attribute.String("rpc.method", function),
			))
		start := time.Now()
		defer func() {
			c.observe(function, KindRequest, err, time.Since(start))
			if err != nil {
				span.RecordError(err)
				span.SetStatus(otelcodes.Error, err.Error())
			}
			span.End()
		}()

		env, err := Encode(function, rc)
		if err != nil {
			return schema.Result{}, apperr.New(codes.Internal, err.Error())
		}

		reply := new(Reply)
		if err := c.conn.Invoke(ctx, ModuleCallMethod, env, reply, grpc.CallContentSubtype(CodecName)); err != nil {
			return schema.Result{}, apperr.From(err)
		}

		res, err = DecodeResult(reply)
		if err != nil {
			return schema.Result{}, apperr.New(codes.Internal, err.Error())
		}
		return res, nil
	}
}

// Publish delivers an event to the service.
func (c *Client) Publish(ctx context.Context, event string, payload any) (err error) {
	start := time.Now()
	defer func() { c.observe(event, KindEvent, err, time.Since(start)) }()

	ev := &Event{Name: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", event, err)
		}
		ev.Payload = string(data)
	}

	if err := c.conn.Invoke(ctx, ModulePublishMethod, ev, new(Ack), grpc.CallContentSubtype(CodecName)); err != nil {
		return apperr.From(err)
	}
	return nil
}

// Close releases the connection if the client dialed it.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) observe(function, kind string, err error, d time.Duration) {
	code := codes.OK
	if err != nil {
		code = apperr.From(err).Code
	}
	if c.metrics != nil {
		c.metrics.RPCObserved(function, kind, code.String(), d)
	}
	c.logger.Debug().
		Str("function", function).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", d).
		Msg("rpc call")
}
