// Package validation checks request parameters against route models and
// coerces transport strings into their declared types.
// Validation runs before any middleware or handler sees the request.
package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

// FieldError is a single validation failure.
type FieldError struct {
	Field      string `json:"field"`
	Constraint string `json:"constraint"`
	Value      any    `json:"value,omitempty"`
	Message    string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError holds every failure found in one request.
type ValidationError struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationError) add(field, constraint string, value any, message string) {
	e.Errors = append(e.Errors, FieldError{
		Field:      field,
		Constraint: constraint,
		Value:      value,
		Message:    message,
	})
}

// Error returns a combined error message.
func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Error())
	}
	return strings.Join(msgs, "; ")
}

// GRPCStatus reports validation failures as InvalidArgument.
func (e *ValidationError) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, e.Error())
}

// Fields returns the qualified names of the failing fields.
func (e *ValidationError) Fields() []string {
	names := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		names = append(names, fe.Field)
	}
	return names
}

// Option adjusts how a request is checked.
type Option func(*options)

type options struct {
	optionalURLQuery bool
}

// OptionalURLAndQuery treats every url and query parameter as optional.
// Tool calls use it since agents pass a flat argument object.
func OptionalURLAndQuery() Option {
	return func(o *options) { o.optionalURLQuery = true }
}

// Request coerces and checks the url, query and body parameters of rc
// against def, replacing them with their coerced values and rebuilding
// rc.Params. It returns a *ValidationError listing every failure.
func Request(def route.Definition, rc *schema.RequestContext, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	urlModel, queryModel := def.URLParams, def.QueryParams
	if o.optionalURLQuery {
		urlModel, queryModel = urlModel.Optional(), queryModel.Optional()
	}

	verr := &ValidationError{}
	rc.URLParams = coerceModel(verr, "", urlModel, rc.URLParams)
	rc.QueryParams = coerceModel(verr, "", queryModel, rc.QueryParams)
	rc.BodyParams = coerceModel(verr, "", def.BodyParams, rc.BodyParams)
	rc.MergeParams()

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}

// Coerce checks in against model and returns a copy with coerced values.
// Keys the model does not declare are passed through unchanged.
func Coerce(model schema.Model, in map[string]any) (map[string]any, error) {
	verr := &ValidationError{}
	out := coerceModel(verr, "", model, in)
	if len(verr.Errors) > 0 {
		return out, verr
	}
	return out, nil
}

func coerceModel(verr *ValidationError, prefix string, model schema.Model, in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	for _, f := range model {
		path := qualify(prefix, f.Name)
		v, ok := in[f.Name]
		if !ok || v == nil {
			if f.Required {
				verr.add(path, "required", nil, "is required")
			}
			continue
		}
		out[f.Name] = coerceField(verr, path, f, v)
	}
	return out
}

func coerceField(verr *ValidationError, path string, f schema.Field, v any) any {
	if !f.Array {
		return coerceValue(verr, path, f, v)
	}

	var items []any
	switch list := v.(type) {
	case []any:
		items = list
	case []string:
		items = make([]any, len(list))
		for i, s := range list {
			items[i] = s
		}
	case string:
		// A JSON array may arrive as a single query value.
		var decoded []any
		if strings.HasPrefix(strings.TrimSpace(list), "[") && json.Unmarshal([]byte(list), &decoded) == nil {
			items = decoded
		} else {
			items = []any{list}
		}
	default:
		items = []any{v}
	}

	out := make([]any, len(items))
	for i, item := range items {
		out[i] = coerceValue(verr, fmt.Sprintf("%s[%d]", path, i), f, item)
	}
	return out
}

func coerceValue(verr *ValidationError, path string, f schema.Field, v any) any {
	switch f.Type {
	case schema.TypeString:
		switch s := v.(type) {
		case string:
			return s
		case float64, bool, int, int64, json.Number:
			return fmt.Sprint(s)
		}
		verr.add(path, "type", v, "must be a string")

	case schema.TypeNumber:
		if x, ok := toNumber(v); ok {
			return x
		}
		verr.add(path, "type", v, "must be a number")

	case schema.TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b
		case string:
			if x, err := strconv.ParseBool(b); err == nil {
				return x
			}
		}
		verr.add(path, "type", v, "must be a boolean")

	case schema.TypeDate:
		if t, ok := parseDate(v); ok {
			return t
		}
		verr.add(path, "type", v, "must be an ISO-8601 date or epoch milliseconds")

	case schema.TypeObjectID:
		if s, ok := v.(string); ok && isID(s) {
			return s
		}
		verr.add(path, "type", v, "must be an object id")

	case schema.TypeJSON:
		if s, ok := v.(string); ok {
			var decoded any
			if json.Unmarshal([]byte(s), &decoded) == nil {
				return decoded
			}
		}
		return v

	case schema.TypeObject:
		obj, ok := asObject(v)
		if !ok {
			verr.add(path, "type", v, "must be an object")
			return v
		}
		return coerceModel(verr, path, f.Fields, obj)

	case schema.TypeRelation:
		switch r := v.(type) {
		case string:
			if r != "" {
				return r
			}
		case map[string]any:
			return r
		}
		verr.add(path, "type", v, fmt.Sprintf("must be a %s id or object", f.Relation))
	}
	return v
}

func qualify(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func asObject(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case string:
		var decoded map[string]any
		if json.Unmarshal([]byte(o), &decoded) == nil {
			return decoded, true
		}
	}
	return nil, false
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case float64:
		return time.UnixMilli(int64(d)).UTC(), true
	case int64:
		return time.UnixMilli(d).UTC(), true
	case int:
		return time.UnixMilli(int64(d)).UTC(), true
	case string:
		s := strings.TrimSpace(d)
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

var objectIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// isID accepts 24-hex document ids and UUIDs.
func isID(s string) bool {
	if objectIDPattern.MatchString(s) {
		return true
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// toNumber accepts finite numbers only. NaN and the infinities have no JSON
// encoding.
func toNumber(v any) (float64, bool) {
	var x float64
	switch n := v.(type) {
	case float64:
		x = n
	case float32:
		x = float64(n)
	case int:
		x = float64(n)
	case int64:
		x = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		x = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		x = f
	default:
		return 0, false
	}
	return x, !math.IsNaN(x) && !math.IsInf(x, 0)
}
