package schema

import "strings"

// FieldType represents the type of a model field.
type FieldType string

const (
	// Leaf types
	TypeString   FieldType = "String"
	TypeNumber   FieldType = "Number"
	TypeBoolean  FieldType = "Boolean"
	TypeDate     FieldType = "Date"
	TypeObjectID FieldType = "ObjectId"
	TypeJSON     FieldType = "JSON"

	// Structural types
	TypeObject   FieldType = "Object"   // Requires Fields
	TypeRelation FieldType = "Relation" // Requires Relation (target model name)
)

// IsLeaf reports whether t is a scalar type.
func (t FieldType) IsLeaf() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeObjectID, TypeJSON:
		return true
	}
	return false
}

// Valid reports whether t is a known type.
func (t FieldType) Valid() bool {
	return t.IsLeaf() || t == TypeObject || t == TypeRelation
}

// ParseFieldType resolves a type name case-insensitively.
func ParseFieldType(s string) (FieldType, bool) {
	for _, t := range []FieldType{TypeString, TypeNumber, TypeBoolean, TypeDate, TypeObjectID, TypeJSON, TypeObject, TypeRelation} {
		if strings.EqualFold(string(t), s) {
			return t, true
		}
	}
	return "", false
}

// Field is one node of a Model.
type Field struct {
	Name        string    `json:"name" yaml:"-"`
	Type        FieldType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Array       bool      `json:"array,omitempty" yaml:"array,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`

	// Fields is the nested model of an Object field.
	Fields Model `json:"fields,omitempty" yaml:"fields,omitempty"`

	// Relation names the target model of a Relation field.
	Relation string `json:"model,omitempty" yaml:"model,omitempty"`
}

// Optional returns a copy of f with Required cleared. Requiredness of nested
// fields is kept since it applies once the parent is present.
func (f Field) Optional() Field {
	f.Required = false
	return f
}

// String builds a String field.
func String(name string) Field { return Field{Name: name, Type: TypeString} }

// Number builds a Number field.
func Number(name string) Field { return Field{Name: name, Type: TypeNumber} }

// Boolean builds a Boolean field.
func Boolean(name string) Field { return Field{Name: name, Type: TypeBoolean} }

// Date builds a Date field.
func Date(name string) Field { return Field{Name: name, Type: TypeDate} }

// ObjectID builds an ObjectId field.
func ObjectID(name string) Field { return Field{Name: name, Type: TypeObjectID} }

// JSON builds a JSON field.
func JSON(name string) Field { return Field{Name: name, Type: TypeJSON} }

// Object builds a nested object field.
func Object(name string, fields ...Field) Field {
	return Field{Name: name, Type: TypeObject, Fields: fields}
}

// Relation builds a relation field pointing at model.
func Relation(name, model string) Field {
	return Field{Name: name, Type: TypeRelation, Relation: model}
}

// Req marks the field required.
func (f Field) Req() Field {
	f.Required = true
	return f
}

// List marks the field as an array.
func (f Field) List() Field {
	f.Array = true
	return f
}

// Describe sets the field description.
func (f Field) Describe(d string) Field {
	f.Description = d
	return f
}
