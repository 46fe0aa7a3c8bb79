package schema

import (
	"fmt"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Model is an ordered list of fields.
type Model []Field

// M builds a Model from fields in declaration order.
func M(fields ...Field) Model {
	return Model(fields)
}

// Get returns the field with the given name.
func (m Model) Get(name string) (Field, bool) {
	for _, f := range m {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns field names in declaration order.
func (m Model) Names() []string {
	names := make([]string, len(m))
	for i, f := range m {
		names[i] = f.Name
	}
	return names
}

// Optional returns a copy of m with every top-level field optional.
func (m Model) Optional() Model {
	if m == nil {
		return nil
	}
	out := make(Model, len(m))
	for i, f := range m {
		out[i] = f.Optional()
	}
	return out
}

// Capitalize upper-cases the first rune of s.
func Capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// NestedName derives the type name of a nested object field.
func NestedName(parent, field string) string {
	return parent + Capitalize(field)
}

// Validate checks field names and types recursively.
func (m Model) Validate() error {
	var errs []string
	m.collectErrors("", &errs)
	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (m Model) collectErrors(prefix string, errs *[]string) {
	seen := make(map[string]bool, len(m))
	for _, f := range m {
		path := prefix + f.Name
		if f.Name == "" {
			*errs = append(*errs, fmt.Sprintf("field in %q has no name", strings.TrimSuffix(prefix, ".")))
			continue
		}
		if seen[f.Name] {
			*errs = append(*errs, fmt.Sprintf("field %q declared twice", path))
		}
		seen[f.Name] = true

		if !f.Type.Valid() {
			*errs = append(*errs, fmt.Sprintf("field %q has unknown type %q", path, f.Type))
			continue
		}
		switch f.Type {
		case TypeObject:
			if len(f.Fields) == 0 {
				*errs = append(*errs, fmt.Sprintf("object field %q has no fields", path))
			}
			f.Fields.collectErrors(path+".", errs)
		case TypeRelation:
			if f.Relation == "" {
				*errs = append(*errs, fmt.Sprintf("relation field %q has no model", path))
			}
		}
	}
}

// UnmarshalYAML decodes a mapping node while keeping key order.
func (m *Model) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: model must be a mapping", node.Line)
	}
	out := make(Model, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var f Field
		if err := node.Content[i+1].Decode(&f); err != nil {
			return fmt.Errorf("field %q: %w", node.Content[i].Value, err)
		}
		f.Name = node.Content[i].Value
		out = append(out, f)
	}
	*m = out
	return nil
}

// MarshalYAML encodes the model as an ordered mapping.
func (m Model) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range m {
		var value yaml.Node
		if err := value.Encode(f); err != nil {
			return nil, err
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: f.Name},
			&value,
		)
	}
	return node, nil
}

// UnmarshalYAML accepts either the scalar shorthand ("String", "[Number]!")
// or the full mapping form.
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		parsed, err := parseShorthand(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*f = parsed
		return nil
	}

	type plain Field
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if t, ok := ParseFieldType(string(p.Type)); ok {
		p.Type = t
	}
	*f = Field(p)
	return nil
}

func parseShorthand(s string) (Field, error) {
	var f Field
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "!") {
		f.Required = true
		s = strings.TrimSuffix(s, "!")
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		f.Array = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	}
	t, ok := ParseFieldType(s)
	if !ok || !t.IsLeaf() {
		return Field{}, fmt.Errorf("unknown field type %q", s)
	}
	f.Type = t
	return f, nil
}
