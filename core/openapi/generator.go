package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/ConduitPlatform/Conduit-sub006/core/apperr"
	"github.com/ConduitPlatform/Conduit-sub006/core/compiler"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

// ErrorSchemaName is the component describing the REST error body.
const ErrorSchemaName = "ConduitError"

// AuthMiddleware is the middleware name that marks a route as bearer-protected.
const AuthMiddleware = "authMiddleware"

// Generator builds an OpenAPI document from routes.
type Generator struct {
	info    Info
	servers []Server
}

// NewGenerator creates a new OpenAPI generator.
func NewGenerator() *Generator {
	return &Generator{
		info: Info{
			Title:       "Conduit API",
			Version:     "1.0.0",
			Description: "Generated from the routes registered by Conduit services",
		},
	}
}

// SetInfo sets the API info.
func (g *Generator) SetInfo(info Info) {
	g.info = info
}

// AddServer adds a server URL.
func (g *Generator) AddServer(url, description string) {
	g.servers = append(g.servers, Server{URL: url, Description: description})
}

// Generate creates the document. Raw and meta routes are skipped.
func (g *Generator) Generate(routes []route.Route) *Spec {
	spec := &Spec{
		OpenAPI: "3.0.3",
		Info:    g.info,
		Servers: g.servers,
		Paths:   make(map[string]PathItem),
		Components: Components{
			Schemas: map[string]*Schema{
				ErrorSchemaName: errorSchema(),
			},
			SecuritySchemes: map[string]SecurityScheme{
				"bearerAuth": {
					Type:         "http",
					Scheme:       "bearer",
					BearerFormat: "JWT",
					Description:  "JWT authentication",
				},
			},
		},
	}

	sorted := make([]route.Route, 0, len(routes))
	for _, r := range routes {
		if r.IsRaw() || r.Meta {
			continue
		}
		sorted = append(sorted, r)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key() < sorted[j].Key() })

	returnTypes := make(map[string]schema.Model)
	for _, r := range sorted {
		if r.ReturnType.Name != "" {
			returnTypes[r.ReturnType.Name] = r.ReturnType.Fields
		}
	}
	known := compiler.Models(returnTypes)
	c := compiler.New[*Schema](NewEmitter(spec.Components.Schemas), func(n string) bool { return known[n] })

	tags := make(map[string]bool)
	for _, r := range sorted {
		tag := g.generateRoutePath(spec, c, r)
		tags[tag] = true
	}

	for name := range tags {
		spec.Tags = append(spec.Tags, Tag{Name: name})
	}
	sort.Slice(spec.Tags, func(i, j int) bool { return spec.Tags[i].Name < spec.Tags[j].Name })

	return spec
}

func (g *Generator) generateRoutePath(spec *Spec, c *compiler.Compiler[*Schema], r route.Route) string {
	openAPIPath := route.BracePath(r.Path)
	pathItem := spec.Paths[openAPIPath]
	operationID := route.OperationID(r.Action, r.Path)
	typeName := capitalize(operationID)

	params := make([]Parameter, 0, len(r.URLParams)+len(r.QueryParams))
	for _, f := range r.URLParams {
		params = append(params, Parameter{
			Name:        f.Name,
			In:          "path",
			Required:    true,
			Description: f.Description,
			Schema:      c.Field(typeName+"Params", f),
		})
	}
	for _, f := range r.QueryParams {
		params = append(params, Parameter{
			Name:        f.Name,
			In:          "query",
			Required:    f.Required,
			Description: f.Description,
			Schema:      c.Field(typeName+"Query", f),
		})
	}

	tag := r.Owner
	if tag == "" {
		tag = route.FirstSegment(r.Path, "")
	}

	op := &Operation{
		Tags:        []string{tag},
		Summary:     r.Description,
		OperationID: operationID,
		Parameters:  params,
		Responses:   make(map[string]Response),
	}

	if len(r.BodyParams) > 0 {
		op.RequestBody = &RequestBody{
			Required: true,
			Content: map[string]MediaType{
				"application/json": {Schema: c.Compile(typeName+"Request", r.BodyParams)},
			},
		}
	}

	op.Responses["200"] = Response{
		Description: "Successful response",
		Content: map[string]MediaType{
			"application/json": {Schema: returnSchema(c, r.ReturnType)},
		},
	}

	for code, resp := range errorResponses(r.Errors) {
		op.Responses[code] = resp
	}
	if _, ok := op.Responses["400"]; !ok && len(params)+len(r.BodyParams) > 0 {
		op.Responses["400"] = genericError(http.StatusBadRequest, "INVALID_ARGUMENTS", "Invalid parameters")
	}
	if _, ok := op.Responses["500"]; !ok {
		op.Responses["500"] = genericError(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", apperr.GenericMessage)
	}

	for _, mw := range r.Middlewares {
		if strings.TrimPrefix(mw, "?") == AuthMiddleware {
			op.Security = []SecurityRequirement{{"bearerAuth": {}}}
			if _, ok := op.Responses["401"]; !ok {
				op.Responses["401"] = genericError(http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid token")
			}
			break
		}
	}

	switch r.Action {
	case route.ActionGet:
		pathItem.Get = op
	case route.ActionPost:
		pathItem.Post = op
	case route.ActionPut:
		pathItem.Put = op
	case route.ActionPatch:
		pathItem.Patch = op
	case route.ActionDelete:
		pathItem.Delete = op
	}
	spec.Paths[openAPIPath] = pathItem
	return tag
}

// returnSchema compiles the return type once per name. A name that is a leaf
// type renders as that scalar.
func returnSchema(c *compiler.Compiler[*Schema], rt route.ReturnType) *Schema {
	if rt.Name == "" {
		return &Schema{Type: "object", AdditionalProperties: true}
	}
	if len(rt.Fields) == 0 {
		if t, ok := schema.ParseFieldType(rt.Name); ok && t.IsLeaf() {
			return NewEmitter(nil).EmitLeaf(t)
		}
	}
	return c.Compile(rt.Name, rt.Fields)
}

// errorResponses groups declared errors by HTTP status, then by conduit code.
// A status with one code gets an example; several codes get an examples map.
func errorResponses(errs []route.ErrorDef) map[string]Response {
	type group struct {
		status int
		codes  []string
		byCode map[string]route.ErrorDef
	}
	groups := make(map[int]*group)
	for _, e := range errs {
		row, _ := apperr.HTTP(e.Code)
		g, ok := groups[row.Status]
		if !ok {
			g = &group{status: row.Status, byCode: make(map[string]route.ErrorDef)}
			groups[row.Status] = g
		}
		if _, dup := g.byCode[e.ConduitCode]; dup {
			continue
		}
		g.byCode[e.ConduitCode] = e
		g.codes = append(g.codes, e.ConduitCode)
	}

	out := make(map[string]Response, len(groups))
	for status, g := range groups {
		media := MediaType{Schema: &Schema{Ref: componentPrefix + ErrorSchemaName}}
		descriptions := make([]string, 0, len(g.codes))
		if len(g.codes) == 1 {
			e := g.byCode[g.codes[0]]
			media.Example = exampleBody(e)
			descriptions = append(descriptions, describe(e))
		} else {
			media.Examples = make(map[string]Example, len(g.codes))
			for _, code := range g.codes {
				e := g.byCode[code]
				media.Examples[code] = Example{Summary: describe(e), Value: exampleBody(e)}
				descriptions = append(descriptions, describe(e))
			}
		}
		out[strconv.Itoa(status)] = Response{
			Description: strings.Join(descriptions, "; "),
			Content:     map[string]MediaType{"application/json": media},
		}
	}
	return out
}

func describe(e route.ErrorDef) string {
	if e.Description != "" {
		return e.Description
	}
	return e.Message
}

func exampleBody(e route.ErrorDef) apperr.Body {
	row, _ := apperr.HTTP(e.Code)
	return apperr.Body{Name: row.Name, Status: row.Status, Message: e.Message, ConduitCode: e.ConduitCode}
}

func genericError(status int, name, message string) Response {
	return Response{
		Description: message,
		Content: map[string]MediaType{
			"application/json": {
				Schema:  &Schema{Ref: componentPrefix + ErrorSchemaName},
				Example: apperr.Body{Name: name, Status: status, Message: message},
			},
		},
	}
}

func errorSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"name":        {Type: "string"},
			"status":      {Type: "number"},
			"message":     {Type: "string"},
			"conduitCode": {Type: "string"},
		},
		Required: []string{"name", "status", "message"},
	}
}

func capitalize(s string) string {
	return schema.Capitalize(s)
}
