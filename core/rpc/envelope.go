// Package rpc connects the gateway to the services that own its routes.
//
// Services run in their own processes and are reached over gRPC. Request
// fields cross the channel as JSON strings inside an Envelope; this package
// is the only place that encodes or decodes them, so handlers on both
// sides only ever see a parsed schema.RequestContext and schema.Result.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// Envelope is a request as it crosses the RPC channel.
type Envelope struct {
	Function    string `json:"function"`
	Path        string `json:"path,omitempty"`
	Context     string `json:"context,omitempty"`
	Params      string `json:"params,omitempty"`
	Cookies     string `json:"cookies,omitempty"`
	URLParams   string `json:"urlParams,omitempty"`
	QueryParams string `json:"queryParams,omitempty"`
	BodyParams  string `json:"bodyParams,omitempty"`
	Headers     string `json:"headers,omitempty"`
}

// Reply is a handler result as it crosses the RPC channel.
type Reply struct {
	Result        string `json:"result,omitempty"`
	Redirect      string `json:"redirect,omitempty"`
	SetCookies    string `json:"setCookies,omitempty"`
	RemoveCookies string `json:"removeCookies,omitempty"`
}

// Event is a fire-and-forget message delivered to a service.
type Event struct {
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"`
}

// Ack acknowledges an event.
type Ack struct{}

// Encode packs rc for function.
func Encode(function string, rc *schema.RequestContext) (*Envelope, error) {
	env := &Envelope{Function: function, Path: rc.Path}
	fields := []struct {
		name string
		dst  *string
		v    any
	}{
		{"context", &env.Context, rc.Context},
		{"params", &env.Params, rc.Params},
		{"cookies", &env.Cookies, rc.Cookies},
		{"urlParams", &env.URLParams, rc.URLParams},
		{"queryParams", &env.QueryParams, rc.QueryParams},
		{"bodyParams", &env.BodyParams, rc.BodyParams},
		{"headers", &env.Headers, rc.Headers},
	}
	for _, f := range fields {
		s, err := encodeField(f.v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.name, err)
		}
		*f.dst = s
	}
	return env, nil
}

func encodeField(v any) (string, error) {
	switch m := v.(type) {
	case map[string]any:
		if len(m) == 0 {
			return "", nil
		}
	case map[string]string:
		if len(m) == 0 {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decode unpacks an envelope. Params is rebuilt from the url, query and
// body params when the envelope does not carry it.
func Decode(env *Envelope) (*schema.RequestContext, error) {
	rc := &schema.RequestContext{Path: env.Path}
	fields := []struct {
		name string
		src  string
		dst  any
	}{
		{"context", env.Context, &rc.Context},
		{"params", env.Params, &rc.Params},
		{"cookies", env.Cookies, &rc.Cookies},
		{"urlParams", env.URLParams, &rc.URLParams},
		{"queryParams", env.QueryParams, &rc.QueryParams},
		{"bodyParams", env.BodyParams, &rc.BodyParams},
		{"headers", env.Headers, &rc.Headers},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.name, err)
		}
	}
	if rc.Params == nil {
		rc.MergeParams()
	}
	return rc, nil
}

// EncodeResult packs a handler result.
func EncodeResult(res schema.Result) (*Reply, error) {
	reply := &Reply{Redirect: res.Redirect}
	if res.Body != nil {
		data, err := json.Marshal(res.Body)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		reply.Result = string(data)
	}
	if len(res.SetCookies) > 0 {
		data, err := json.Marshal(res.SetCookies)
		if err != nil {
			return nil, fmt.Errorf("encode setCookies: %w", err)
		}
		reply.SetCookies = string(data)
	}
	if len(res.RemoveCookies) > 0 {
		data, err := json.Marshal(res.RemoveCookies)
		if err != nil {
			return nil, fmt.Errorf("encode removeCookies: %w", err)
		}
		reply.RemoveCookies = string(data)
	}
	return reply, nil
}

// DecodeResult unpacks a reply.
func DecodeResult(reply *Reply) (schema.Result, error) {
	res := schema.Result{Redirect: reply.Redirect}
	if reply.Result != "" {
		if err := json.Unmarshal([]byte(reply.Result), &res.Body); err != nil {
			return schema.Result{}, fmt.Errorf("decode result: %w", err)
		}
	}
	if reply.SetCookies != "" {
		if err := json.Unmarshal([]byte(reply.SetCookies), &res.SetCookies); err != nil {
			return schema.Result{}, fmt.Errorf("decode setCookies: %w", err)
		}
	}
	if reply.RemoveCookies != "" {
		if err := json.Unmarshal([]byte(reply.RemoveCookies), &res.RemoveCookies); err != nil {
			return schema.Result{}, fmt.Errorf("decode removeCookies: %w", err)
		}
	}
	return res, nil
}
