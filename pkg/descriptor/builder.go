package descriptor

import "reflect"

// Builder provides a fluent, chainable construction of a Descriptor,
// mirroring the immutable-chain style of the SDK's IdentifierBuilder:
// each call returns the same builder (descriptors are built once at
// registration time, not re-used across goroutines, so the extra
// clone-per-call immutability of IdentifierBuilder isn't needed here).
// It is purely a construction-time convenience — Register ultimately
// stores the plain *Descriptor it produces, not the builder itself.
type Builder struct {
	d *Descriptor
}

// NewFor starts building a descriptor mapping entityType to indexType.
func NewFor(entityExample, indexExample interface{}) *Builder {
	return &Builder{
		d: &Descriptor{
			EntityType: elemType(entityExample),
			IndexType:  elemType(indexExample),
		},
	}
}

func elemType(v interface{}) reflect.Type {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// Named overrides the table name the index rows live in.
func (b *Builder) Named(name string) *Builder {
	b.d.IndexName = name
	return b
}

// MapWith sets the mapping function.
func (b *Builder) MapWith(fn func(entity interface{}) []interface{}) *Builder {
	b.d.Map = fn
	return b
}

// GroupBy sets the group-key field name. It is required for a reduce
// descriptor; whether a descriptor reduces is decided by ReduceWith alone.
func (b *Builder) GroupBy(field string) *Builder {
	b.d.GroupKey = field
	return b
}

// ReduceWith sets the reduce fold.
func (b *Builder) ReduceWith(fn func(g Grouping) interface{}) *Builder {
	b.d.Reduce = fn
	return b
}

// DeleteWith sets the delete fold.
func (b *Builder) DeleteWith(fn func(current interface{}, deleted []MapState) interface{}) *Builder {
	b.d.Delete = fn
	return b
}

// UpdateWith sets the update fold.
func (b *Builder) UpdateWith(fn func(current interface{}, updated []MapState) interface{}) *Builder {
	b.d.Update = fn
	return b
}

// Build returns the completed Descriptor.
func (b *Builder) Build() *Descriptor {
	return b.d
}
