// Package route provides the declarative route descriptor shared by every
// protocol controller, with its identity key and definition fingerprint.
package route

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/blake2b"
	"google.golang.org/grpc/codes"
	"gopkg.in/yaml.v3"

	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// Action is the HTTP verb of a route.
type Action string

const (
	ActionGet    Action = "GET"
	ActionPost   Action = "POST"
	ActionPut    Action = "PUT"
	ActionPatch  Action = "PATCH"
	ActionDelete Action = "DELETE"
)

// Valid reports whether a is a supported action.
func (a Action) Valid() bool {
	switch a {
	case ActionGet, ActionPost, ActionPut, ActionPatch, ActionDelete:
		return true
	}
	return false
}

// HasBody reports whether requests for this action carry a JSON body.
func (a Action) HasBody() bool {
	return a == ActionPost || a == ActionPut || a == ActionPatch
}

// ReturnType names the payload model a route responds with.
type ReturnType struct {
	Name   string       `json:"name" yaml:"name"`
	Fields schema.Model `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// ErrorDef documents an application error a route may return.
type ErrorDef struct {
	ConduitCode string     `json:"conduitCode" yaml:"conduitCode"`
	Code        codes.Code `json:"code" yaml:"-"`
	Message     string     `json:"message" yaml:"message"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// UnmarshalYAML accepts the status code by name ("PERMISSION_DENIED") or number.
func (e *ErrorDef) UnmarshalYAML(node *yaml.Node) error {
	type plain ErrorDef
	var raw struct {
		plain `yaml:",inline"`
		Code  string `yaml:"code"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*e = ErrorDef(raw.plain)
	if raw.Code == "" {
		return nil
	}
	arg := strings.ToUpper(raw.Code)
	if !isDigits(arg) {
		arg = `"` + arg + `"`
	}
	if err := e.Code.UnmarshalJSON([]byte(arg)); err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Definition is the declarative description of a route. It is the single
// source every protocol compiles from.
type Definition struct {
	Path        string       `json:"path" yaml:"path"`
	Action      Action       `json:"action" yaml:"action"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	URLParams   schema.Model `json:"urlParams,omitempty" yaml:"urlParams,omitempty"`
	QueryParams schema.Model `json:"queryParams,omitempty" yaml:"queryParams,omitempty"`
	BodyParams  schema.Model `json:"bodyParams,omitempty" yaml:"bodyParams,omitempty"`
	Middlewares []string     `json:"middlewares,omitempty" yaml:"middlewares,omitempty"`
	ReturnType  ReturnType   `json:"returnType" yaml:"returnType"`
	Errors      []ErrorDef   `json:"errors,omitempty" yaml:"errors,omitempty"`

	// ToolEligible exposes the route as an agent tool.
	ToolEligible bool `json:"toolEligible,omitempty" yaml:"toolEligible,omitempty"`

	// CacheControl marks a GET route cacheable, e.g. "public, max-age=60".
	CacheControl string `json:"cacheControl,omitempty" yaml:"cacheControl,omitempty"`

	// Function names the owning service's RPC handler.
	Function string `json:"function,omitempty" yaml:"function,omitempty"`
}

// Key returns the identity key "ACTION:path".
func (d Definition) Key() string {
	return Key(d.Action, d.Path)
}

// Key builds an identity key.
func Key(action Action, path string) string {
	return string(action) + ":" + path
}

// Validate checks the definition for structural errors.
func (d Definition) Validate() error {
	var errs []string

	if !strings.HasPrefix(d.Path, "/") {
		errs = append(errs, fmt.Sprintf("path %q must start with /", d.Path))
	}
	if !d.Action.Valid() {
		errs = append(errs, fmt.Sprintf("action %q is not one of GET, POST, PUT, PATCH, DELETE", d.Action))
	}

	for _, part := range []struct {
		name  string
		model schema.Model
	}{
		{"urlParams", d.URLParams},
		{"queryParams", d.QueryParams},
		{"bodyParams", d.BodyParams},
		{"returnType", d.ReturnType.Fields},
	} {
		if err := part.model.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", part.name, err))
		}
	}

	for _, name := range ParamNames(d.Path) {
		if _, ok := d.URLParams.Get(name); !ok {
			errs = append(errs, fmt.Sprintf("path parameter %q is not declared in urlParams", name))
		}
	}

	if len(d.ReturnType.Fields) > 0 && d.ReturnType.Name == "" {
		errs = append(errs, "returnType with fields must have a name")
	}
	if len(d.BodyParams) > 0 && !d.Action.HasBody() {
		errs = append(errs, fmt.Sprintf("%s routes cannot declare bodyParams", d.Action))
	}
	if d.CacheControl != "" && d.Action != ActionGet {
		errs = append(errs, "cacheControl is only allowed on GET routes")
	}
	for i, mw := range d.Middlewares {
		if strings.TrimPrefix(mw, "?") == "" {
			errs = append(errs, fmt.Sprintf("middleware %d has no name", i))
		}
	}
	for i, e := range d.Errors {
		if e.ConduitCode == "" {
			errs = append(errs, fmt.Sprintf("error %d has no conduitCode", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Route is a definition bound to the handler that serves it.
type Route struct {
	Definition

	// Owner is the service that registered the route.
	Owner string

	Handler schema.Handler

	// Raw routes bypass the declarative model and are served by Raw as-is.
	Raw http.Handler

	// Meta routes belong to the protocol controller and survive cleanup.
	Meta bool
}

// IsRaw reports whether the route is a passthrough route.
func (r Route) IsRaw() bool {
	return r.Raw != nil
}

// Fingerprint hashes everything that affects how the route is served apart
// from the handler itself.
func (r Route) Fingerprint() string {
	payload := struct {
		Definition
		Owner string `json:"owner"`
		Raw   bool   `json:"raw"`
		Meta  bool   `json:"meta"`
	}{r.Definition, r.Owner, r.IsRaw(), r.Meta}

	data, err := json.Marshal(payload)
	if err != nil {
		// Definitions only hold JSON-safe values.
		panic(fmt.Sprintf("route fingerprint: %v", err))
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
