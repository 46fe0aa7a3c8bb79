package graphql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/ConduitPlatform/Conduit-sub006/core/compiler"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
	"github.com/ConduitPlatform/Conduit-sub006/domain/route"
)

const scalars = "scalar Date\nscalar JSON\nscalar Number"

// Document is the SDL of a route set plus the relation fields that need
// resolvers.
type Document struct {
	SDL string

	// Resolvers maps type name to field name to related type name.
	Resolvers map[string]map[string]string

	// Dangling lists relation targets no route returns. They render as ID.
	Dangling []string
}

// Build renders routes as a schema: GET routes become Query fields, the rest
// Mutation fields. Raw and meta routes are skipped.
func Build(routes []route.Route) Document {
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
		if r.ReturnType.Name != "" && len(r.ReturnType.Fields) > 0 {
			returnTypes[r.ReturnType.Name] = r.ReturnType.Fields
		}
	}
	known := compiler.Models(returnTypes)

	types := NewEmitter(KindType)
	inputs := NewEmitter(KindInput)
	tc := compiler.New[string](types, func(n string) bool { return known[n] })
	ic := compiler.New[string](inputs, nil)

	resolvers := make(map[string]map[string]string)
	var queries, mutations []string

	for _, r := range sorted {
		name := route.OperationID(r.Action, r.Path)
		argPrefix := schema.Capitalize(name) + "Input"

		// A name declared in several places is one argument. The url param
		// comes first since the route cannot be served without it.
		var args []string
		seen := make(map[string]bool)
		for _, m := range []schema.Model{r.URLParams, r.QueryParams, r.BodyParams} {
			for _, f := range m {
				if seen[f.Name] {
					continue
				}
				seen[f.Name] = true
				typ := ic.Field(argPrefix, f)
				if f.Required {
					typ += "!"
				}
				args = append(args, fmt.Sprintf("%s: %s", f.Name, typ))
			}
		}

		ret := "JSON"
		if r.ReturnType.Name != "" {
			if len(r.ReturnType.Fields) == 0 {
				if t, ok := schema.ParseFieldType(r.ReturnType.Name); ok && t.IsLeaf() {
					ret = types.EmitLeaf(t)
				}
			} else {
				ret = tc.Compile(r.ReturnType.Name, r.ReturnType.Fields)
				for typ, fields := range Relations(r.ReturnType.Name, r.ReturnType.Fields) {
					resolvers[typ] = fields
				}
			}
		}

		field := "  " + name
		if len(args) > 0 {
			field += "(" + strings.Join(args, ", ") + ")"
		}
		field += ": " + ret
		if r.Description != "" {
			field = fmt.Sprintf("  %q\n%s", r.Description, field)
		}

		if r.Action == route.ActionGet {
			queries = append(queries, field)
		} else {
			mutations = append(mutations, field)
		}
	}

	parts := []string{scalars}
	parts = append(parts, types.Blocks()...)
	parts = append(parts, inputs.Blocks()...)
	if len(queries) == 0 {
		queries = append(queries, "  _empty: Boolean")
	}
	parts = append(parts, "type Query {\n"+strings.Join(queries, "\n")+"\n}")
	if len(mutations) > 0 {
		parts = append(parts, "type Mutation {\n"+strings.Join(mutations, "\n")+"\n}")
	}

	return Document{
		SDL:       strings.Join(parts, "\n\n") + "\n",
		Resolvers: resolvers,
		Dangling:  tc.Dangling(),
	}
}

// Validate parses the SDL and checks it as a complete schema.
func (d Document) Validate() (*ast.Schema, error) {
	s, err := gqlparser.LoadSchema(&ast.Source{Name: "conduit.graphql", Input: d.SDL})
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return s, nil
}
