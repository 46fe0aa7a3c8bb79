// Package toolschema compiles models into the JSON Schema used as agent tool
// input, and validates tool arguments against it.
package toolschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ConduitPlatform/Conduit-sub006/core/compiler"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// Node is a JSON Schema fragment.
type Node map[string]any

// Emitter inlines nested objects. Tool schemas are self-contained documents,
// so a named object is emitted once and reused by value.
type Emitter struct{}

// EmitLeaf maps a scalar.
func (Emitter) EmitLeaf(t schema.FieldType) Node {
	switch t {
	case schema.TypeString, schema.TypeObjectID:
		return Node{"type": "string"}
	case schema.TypeNumber:
		return Node{"type": "number"}
	case schema.TypeBoolean:
		return Node{"type": "boolean"}
	case schema.TypeDate:
		return Node{"anyOf": []any{
			Node{"type": "string", "format": "date-time"},
			Node{"type": "integer"},
		}}
	case schema.TypeJSON:
		return Node{"type": "object", "additionalProperties": true}
	default:
		return Node{"type": "string"}
	}
}

// EmitObject builds an object node.
func (Emitter) EmitObject(_ string, props []compiler.Property[Node]) Node {
	properties := make(map[string]any, len(props))
	required := make([]string, 0, len(props))
	for _, p := range props {
		n := p.Type
		if p.Description != "" {
			c := make(Node, len(n)+1)
			for k, v := range n {
				c[k] = v
			}
			c["description"] = p.Description
			n = c
		}
		properties[p.Name] = n
		if p.Required {
			required = append(required, p.Name)
		}
	}
	obj := Node{"type": "object", "properties": properties}
	if len(required) > 0 {
		obj["required"] = required
	}
	return obj
}

// EmitArray wraps an item.
func (Emitter) EmitArray(item Node) Node {
	return Node{"type": "array", "items": item}
}

// EmitRelation takes the related document's id.
func (Emitter) EmitRelation(model string, _ bool) Node {
	return Node{"type": "string", "description": "Id of a " + model}
}

// Input compiles the agent-facing input of a route: body params keep their
// requiredness, url and query params are always optional.
func Input(name string, urlParams, queryParams, bodyParams schema.Model) Node {
	merged := make(schema.Model, 0, len(urlParams)+len(queryParams)+len(bodyParams))
	seen := make(map[string]bool)
	add := func(m schema.Model) {
		for _, f := range m {
			if seen[f.Name] {
				continue
			}
			seen[f.Name] = true
			merged = append(merged, f)
		}
	}
	add(bodyParams)
	add(urlParams.Optional())
	add(queryParams.Optional())

	c := compiler.New[Node](Emitter{}, nil)
	return c.Compile(name, merged)
}

// outputEmitter accepts a relation either as an id or as the populated
// document, since handlers may return both.
type outputEmitter struct{ Emitter }

func (outputEmitter) EmitRelation(model string, _ bool) Node {
	return Node{
		"description": "Id of a " + model + " or the " + model + " itself",
		"anyOf":       []any{Node{"type": "string"}, Node{"type": "object"}},
	}
}

// Output compiles a return type, or returns nil when there is none.
func Output(name string, fields schema.Model) Node {
	if name == "" || len(fields) == 0 {
		return nil
	}
	return compiler.New[Node](outputEmitter{}, nil).Compile(name, fields)
}

// Marshal encodes n.
func (n Node) Marshal() json.RawMessage {
	data, err := json.Marshal(n)
	if err != nil {
		panic(fmt.Sprintf("tool schema: %v", err))
	}
	return data
}

// Validator checks arguments against a compiled schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles raw into a validator.
func NewValidator(raw json.RawMessage) (*Validator, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile tool schema: %w", err)
	}
	return &Validator{schema: s}, nil
}

// Validate returns a joined error describing every violation.
func (v *Validator) Validate(args map[string]any) error {
	if err := v.check(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// ValidateResult checks a structured tool result.
func (v *Validator) ValidateResult(result map[string]any) error {
	if err := v.check(result); err != nil {
		return fmt.Errorf("result does not match output schema: %w", err)
	}
	return nil
}

func (v *Validator) check(doc map[string]any) error {
	if doc == nil {
		doc = map[string]any{}
	}
	res, err := v.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New(strings.Join(msgs, "; "))
}
