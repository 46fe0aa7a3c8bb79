package openapi

import (
	"github.com/ConduitPlatform/Conduit-sub006/core/compiler"
	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

const componentPrefix = "#/components/schemas/"

// Emitter writes named object types into a components map.
type Emitter struct {
	schemas map[string]*Schema
}

// NewEmitter creates an emitter that stores objects in schemas.
func NewEmitter(schemas map[string]*Schema) *Emitter {
	return &Emitter{schemas: schemas}
}

// EmitLeaf maps a scalar to its JSON Schema type.
func (e *Emitter) EmitLeaf(t schema.FieldType) *Schema {
	switch t {
	case schema.TypeString:
		return &Schema{Type: "string"}
	case schema.TypeNumber:
		return &Schema{Type: "number"}
	case schema.TypeBoolean:
		return &Schema{Type: "boolean"}
	case schema.TypeDate:
		return &Schema{Type: "string", Format: "date-time"}
	case schema.TypeObjectID:
		return &Schema{Type: "string", Format: "uuid"}
	case schema.TypeJSON:
		return &Schema{Type: "object", AdditionalProperties: true}
	default:
		return &Schema{Type: "string"}
	}
}

// EmitObject registers a component and returns a $ref to it.
func (e *Emitter) EmitObject(name string, props []compiler.Property[*Schema]) *Schema {
	obj := &Schema{Type: "object", Properties: make(map[string]*Schema, len(props))}
	for _, p := range props {
		s := p.Type
		// Siblings of $ref are ignored in 3.0.
		if p.Description != "" && s.Ref == "" {
			c := *s
			c.Description = p.Description
			s = &c
		}
		obj.Properties[p.Name] = s
		if p.Required {
			obj.Required = append(obj.Required, p.Name)
		}
	}
	e.schemas[name] = obj
	return &Schema{Ref: componentPrefix + name}
}

// EmitArray wraps an item schema.
func (e *Emitter) EmitArray(item *Schema) *Schema {
	return &Schema{Type: "array", Items: item}
}

// EmitRelation renders a relation as the related document's id.
func (e *Emitter) EmitRelation(model string, _ bool) *Schema {
	return &Schema{Type: "string", Format: "uuid", Description: "Reference to " + model}
}
