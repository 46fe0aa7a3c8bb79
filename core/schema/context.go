package schema

import (
	"context"
	"net/http"
	"time"
)

// RequestContext is the normalized per-request value passed to handlers and
// middlewares.
type RequestContext struct {
	Headers map[string]string `json:"headers,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`

	// Context holds auth and session data added by middlewares.
	Context map[string]any `json:"context,omitempty"`

	Path        string         `json:"path"`
	URLParams   map[string]any `json:"urlParams,omitempty"`
	QueryParams map[string]any `json:"queryParams,omitempty"`
	BodyParams  map[string]any `json:"bodyParams,omitempty"`

	// Params is the merge of URLParams, QueryParams and BodyParams.
	Params map[string]any `json:"params,omitempty"`
}

// MergeParams rebuilds Params. Body values win over query values, which win
// over url values.
func (rc *RequestContext) MergeParams() {
	merged := make(map[string]any, len(rc.URLParams)+len(rc.QueryParams)+len(rc.BodyParams))
	for _, src := range []map[string]any{rc.URLParams, rc.QueryParams, rc.BodyParams} {
		for k, v := range src {
			merged[k] = v
		}
	}
	rc.Params = merged
}

// SetContext stores a value in the auth/session context.
func (rc *RequestContext) SetContext(key string, value any) {
	if rc.Context == nil {
		rc.Context = make(map[string]any)
	}
	rc.Context[key] = value
}

// Header returns a header value by canonical or lower-case name.
func (rc *RequestContext) Header(name string) string {
	if v, ok := rc.Headers[name]; ok {
		return v
	}
	if v, ok := rc.Headers[http.CanonicalHeaderKey(name)]; ok {
		return v
	}
	for k, v := range rc.Headers {
		if http.CanonicalHeaderKey(k) == http.CanonicalHeaderKey(name) {
			return v
		}
	}
	return ""
}

// CookieOptions mirrors the attributes a handler may set on a cookie.
type CookieOptions struct {
	Path     string     `json:"path,omitempty"`
	Domain   string     `json:"domain,omitempty"`
	MaxAge   int        `json:"maxAge,omitempty"`
	Expires  *time.Time `json:"expires,omitempty"`
	HTTPOnly bool       `json:"httpOnly,omitempty"`
	Secure   bool       `json:"secure,omitempty"`
	SameSite string     `json:"sameSite,omitempty"`
	Signed   bool       `json:"signed,omitempty"`
}

// Cookie is a cookie instruction returned by a handler.
type Cookie struct {
	Name    string        `json:"name"`
	Value   string        `json:"value,omitempty"`
	Options CookieOptions `json:"options"`
}

// Result is what a handler returns.
type Result struct {
	// Body is any JSON-serializable payload. A string body that holds JSON
	// is passed through verbatim.
	Body any `json:"result,omitempty"`

	Redirect      string   `json:"redirect,omitempty"`
	SetCookies    []Cookie `json:"setCookies,omitempty"`
	RemoveCookies []Cookie `json:"removeCookies,omitempty"`
}

// Text wraps a bare string result.
func Text(s string) Result {
	return Result{Body: s}
}

// Handler serves one route.
type Handler func(ctx context.Context, rc *RequestContext) (Result, error)
