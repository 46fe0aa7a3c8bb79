// Package graphql renders route models as GraphQL SDL.
package graphql

import (
	"fmt"
	"strings"

	"github.com/ConduitPlatform/Conduit-sub006/core/compiler"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// Kind selects between output types and input types.
type Kind string

const (
	KindType  Kind = "type"
	KindInput Kind = "input"
)

// Emitter builds type or input blocks as strings. The compiled value is the
// type expression without the non-null marker, which EmitObject adds for
// required fields.
type Emitter struct {
	kind   Kind
	blocks []string
}

// NewEmitter creates an emitter producing blocks of the given kind.
func NewEmitter(kind Kind) *Emitter {
	return &Emitter{kind: kind}
}

// EmitLeaf maps a scalar to a built-in or custom scalar name.
func (e *Emitter) EmitLeaf(t schema.FieldType) string {
	switch t {
	case schema.TypeString:
		return "String"
	case schema.TypeNumber:
		return "Number"
	case schema.TypeBoolean:
		return "Boolean"
	case schema.TypeDate:
		return "Date"
	case schema.TypeObjectID:
		return "ID"
	default:
		return "JSON"
	}
}

// EmitObject appends a block and returns its name.
func (e *Emitter) EmitObject(name string, props []compiler.Property[string]) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s {\n", e.kind, name)
	if len(props) == 0 {
		b.WriteString("  _empty: Boolean\n")
	}
	for _, p := range props {
		if p.Description != "" {
			fmt.Fprintf(&b, "  %q\n", p.Description)
		}
		typ := p.Type
		if p.Required {
			typ += "!"
		}
		fmt.Fprintf(&b, "  %s: %s\n", p.Name, typ)
	}
	b.WriteString("}")
	e.blocks = append(e.blocks, b.String())
	return name
}

// EmitArray wraps an item type in a list.
func (e *Emitter) EmitArray(item string) string {
	return "[" + item + "]"
}

// EmitRelation references the related type. Inputs take ids, and so does an
// output whose target is unknown.
func (e *Emitter) EmitRelation(model string, resolved bool) string {
	if e.kind == KindInput || !resolved {
		return "ID"
	}
	return model
}

// Blocks returns emitted blocks in emission order.
func (e *Emitter) Blocks() []string {
	return append([]string(nil), e.blocks...)
}

// ResolveRelation turns a raw relation value into the stub the typed field
// resolves to: an id becomes {id}, a list of ids a list of stubs. Populated
// documents pass through.
func ResolveRelation(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		return map[string]any{"id": v}
	case []string:
		out := make([]any, len(v))
		for i, id := range v {
			out[i] = map[string]any{"id": id}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ResolveRelation(item)
		}
		return out
	case map[string]any:
		if _, ok := v["id"]; !ok {
			if id, ok := v["_id"]; ok {
				c := make(map[string]any, len(v)+1)
				for k, val := range v {
					c[k] = val
				}
				c["id"] = id
				return c
			}
		}
		return v
	default:
		return map[string]any{"id": fmt.Sprint(v)}
	}
}

// Relations lists relation fields per type name, following the same nested
// naming as the compiler.
func Relations(name string, model schema.Model) map[string]map[string]string {
	out := make(map[string]map[string]string)
	var walk func(name string, m schema.Model)
	walk = func(name string, m schema.Model) {
		for _, f := range m {
			switch f.Type {
			case schema.TypeRelation:
				if out[name] == nil {
					out[name] = make(map[string]string)
				}
				out[name][f.Name] = f.Relation
			case schema.TypeObject:
				walk(schema.NestedName(name, f.Name), f.Fields)
			}
		}
	}
	walk(name, model)
	return out
}
