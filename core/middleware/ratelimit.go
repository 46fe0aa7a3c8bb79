package middleware

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// RateLimitName is the name routes use to enable per-client rate limiting.
const RateLimitName = "rateLimit"

type clientIPKey struct{}

// WithClientIP records the caller's network address for rate limiting.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIP returns the address stored by WithClientIP.
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

const idleAfter = 10 * time.Minute

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client.
type Limiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	clients   map[string]*client
	lastSweep time.Time
	now       func() time.Time
}

// NewLimiter allows perSecond requests per client with the given burst.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

// SetLimit changes the limit for every client, existing buckets included.
func (l *Limiter) SetLimit(perSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = rate.Limit(perSecond)
	l.burst = burst
	now := l.now()
	for _, c := range l.clients {
		c.limiter.SetLimitAt(now, l.limit)
		c.limiter.SetBurstAt(now, burst)
	}
}

// Allow consumes one token for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) > idleAfter {
		for k, c := range l.clients {
			if now.Sub(c.lastSeen) > idleAfter {
				delete(l.clients, k)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	l.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Middleware rejects clients over their budget with ResourceExhausted.
// Authenticated callers are keyed by user id, others by address.
func (l *Limiter) Middleware() Middleware {
	return func(ctx context.Context, rc *schema.RequestContext) error {
		if !l.Allow(clientKey(ctx, rc)) {
			return apperr.New(codes.ResourceExhausted, "rate limit exceeded")
		}
		return nil
	}
}

func clientKey(ctx context.Context, rc *schema.RequestContext) string {
	if id, ok := UserID(rc); ok {
		return "user:" + id
	}
	if fwd := rc.Header("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return "ip:" + strings.TrimSpace(first)
	}
	if ip := ClientIP(ctx); ip != "" {
		return "ip:" + ip
	}
	return "anonymous"
}
