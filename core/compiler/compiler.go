// Package compiler holds the traversal shared by every schema emitter.
//
// A Compiler walks a schema.Model in declaration order and dispatches each
// field to one of four emitter primitives. Nested objects are emitted once
// under a derived name and referenced afterwards. Relations always become
// references and are recorded as dependencies.
package compiler

import (
	"sort"

	"github.com/ConduitPlatform/Conduit-sub006/core/schema"
)

// Property is a compiled field handed to EmitObject.
type Property[T any] struct {
	Name        string
	Type        T
	Required    bool
	Description string
}

// SchemaEmitter translates compiled nodes into one target vocabulary.
type SchemaEmitter[T any] interface {
	// EmitLeaf returns the target type of a scalar.
	EmitLeaf(t schema.FieldType) T

	// EmitObject defines a named object type and returns a reference to it.
	EmitObject(name string, props []Property[T]) T

	// EmitArray wraps an item type.
	EmitArray(item T) T

	// EmitRelation returns a reference to a named model. resolved is false
	// when the model is not known, and the emitter must still produce a
	// well-formed reference.
	EmitRelation(model string, resolved bool) T
}

// Compiler is the generic driver.
type Compiler[T any] struct {
	emitter  SchemaEmitter[T]
	known    func(string) bool
	compiled map[string]T
	order    []string
	deps     map[string]bool
	dangling map[string]bool
}

// New creates a compiler. known reports whether a relation target exists; a
// nil func treats every target as resolved.
func New[T any](emitter SchemaEmitter[T], known func(string) bool) *Compiler[T] {
	return &Compiler[T]{
		emitter:  emitter,
		known:    known,
		compiled: make(map[string]T),
		deps:     make(map[string]bool),
		dangling: make(map[string]bool),
	}
}

// Compile emits model under name and returns the reference. A name that was
// already compiled is not emitted again.
func (c *Compiler[T]) Compile(name string, model schema.Model) T {
	if ref, ok := c.compiled[name]; ok {
		return ref
	}
	props := make([]Property[T], 0, len(model))
	for _, f := range model {
		props = append(props, Property[T]{
			Name:        f.Name,
			Type:        c.Field(name, f),
			Required:    f.Required,
			Description: f.Description,
		})
	}
	ref := c.emitter.EmitObject(name, props)
	c.compiled[name] = ref
	c.order = append(c.order, name)
	return ref
}

// Field compiles a single field whose enclosing type is parent.
func (c *Compiler[T]) Field(parent string, f schema.Field) T {
	var t T
	switch f.Type {
	case schema.TypeObject:
		t = c.Compile(schema.NestedName(parent, f.Name), f.Fields)
	case schema.TypeRelation:
		resolved := c.known == nil || c.known(f.Relation)
		c.deps[f.Relation] = true
		if !resolved {
			c.dangling[f.Relation] = true
		}
		t = c.emitter.EmitRelation(f.Relation, resolved)
	default:
		t = c.emitter.EmitLeaf(f.Type)
	}
	if f.Array {
		t = c.emitter.EmitArray(t)
	}
	return t
}

// Compiled reports whether name has been emitted.
func (c *Compiler[T]) Compiled(name string) bool {
	_, ok := c.compiled[name]
	return ok
}

// Names returns emitted type names in emission order.
func (c *Compiler[T]) Names() []string {
	return append([]string(nil), c.order...)
}

// Dependencies returns the sorted set of relation targets seen so far.
func (c *Compiler[T]) Dependencies() []string {
	return sortedKeys(c.deps)
}

// Dangling returns relation targets that were not known when referenced.
func (c *Compiler[T]) Dangling() []string {
	return sortedKeys(c.dangling)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Models collects every model name a set of definitions can reference: return
// types and the nested objects they contain.
func Models(returnTypes map[string]schema.Model) map[string]bool {
	known := make(map[string]bool, len(returnTypes))
	var walk func(name string, m schema.Model)
	walk = func(name string, m schema.Model) {
		known[name] = true
		for _, f := range m {
			if f.Type == schema.TypeObject {
				walk(schema.NestedName(name, f.Name), f.Fields)
			}
		}
	}
	for name, m := range returnTypes {
		walk(name, m)
	}
	return known
}
