package http

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// encodeBody serializes a handler body. Strings holding valid JSON are
// written verbatim, other strings as JSON strings, nil as an empty object.
func encodeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case nil:
		return []byte("{}"), nil
	case string:
		if json.Valid([]byte(v)) {
			return []byte(v), nil
		}
		return json.Marshal(v)
	case []byte:
		if json.Valid(v) {
			return v, nil
		}
		return json.Marshal(string(v))
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// applyCookies turns cookie instructions into Set-Cookie headers. Empty
// Path and Domain attributes are dropped.
func applyCookies(w http.ResponseWriter, res schema.Result) {
	for _, c := range res.SetCookies {
		http.SetCookie(w, toHTTPCookie(c, false))
	}
	for _, c := range res.RemoveCookies {
		http.SetCookie(w, toHTTPCookie(c, true))
	}
}

func toHTTPCookie(c schema.Cookie, remove bool) *http.Cookie {
	ck := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Options.Path,
		Domain:   c.Options.Domain,
		MaxAge:   c.Options.MaxAge,
		HttpOnly: c.Options.HTTPOnly,
		Secure:   c.Options.Secure,
		SameSite: sameSite(c.Options.SameSite),
	}
	if c.Options.Expires != nil {
		ck.Expires = *c.Options.Expires
	}
	if remove {
		ck.Value = ""
		ck.MaxAge = -1
	}
	return ck
}

func sameSite(s string) http.SameSite {
	switch strings.ToLower(s) {
	case "strict":
		return http.SameSiteStrictMode
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}
