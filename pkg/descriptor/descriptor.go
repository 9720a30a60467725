// Package descriptor implements the registry the spec calls the
// "Index descriptor registry" DSL: it declares, per (entity type, index
// type) pair, how an entity maps to index rows, which index field is
// the group key for a reduce, and the reduce/delete/update fold
// functions.
package descriptor

import (
	"reflect"

	"gorm.io/gorm/schema"
)

// MapStateKind is the per-MapState accumulator tag.
type MapStateKind int

const (
	// StateNew marks a MapState produced for a freshly persisted entity.
	StateNew MapStateKind = iota
	// StateUpdate marks a MapState handed to a descriptor's Update fold.
	// The session itself never produces one: a changed tracked entity is
	// re-mapped as a StateDelete of its prior value plus a StateNew of
	// its current value.
	StateUpdate
	// StateDelete marks a MapState produced by re-running the map on an
	// entity's prior value at delete/update time.
	StateDelete
)

func (k MapStateKind) String() string {
	switch k {
	case StateNew:
		return "New"
	case StateUpdate:
		return "Update"
	case StateDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// MapState is the (row, New|Update|Delete) record the pipeline
// accumulates per descriptor while a session is open, awaiting reduce
// finalization. DocumentIDs is the set of document ids this particular
// mapping contributed (normally a singleton — the document whose
// mapping produced Row).
type MapState struct {
	Row         interface{}
	Kind        MapStateKind
	DocumentIDs []int64
}

// Grouping is passed to a descriptor's Reduce/Delete/Update fold
// functions: every accumulated MapState sharing one group-key value.
type Grouping struct {
	Key    interface{}
	States []MapState
}

// Descriptor is the tagged, runtime-consumed record a registration
// produces. The typed fluent chain in builder.go is a construction-time
// convenience over this same struct — it is not itself part of the
// runtime core.
type Descriptor struct {
	// EntityType is the concrete (non-pointer) type this descriptor
	// maps from.
	EntityType reflect.Type

	// IndexType is the concrete (non-pointer) type of the rows this
	// descriptor produces. Its table name is resolved by TableName.
	IndexType reflect.Type

	// IndexName overrides the table name derived from IndexType, when
	// set.
	IndexName string

	// GroupKey is the name of the field on IndexType used to group
	// MapStates for reduce finalization. Required when Reduce is set.
	GroupKey string

	// Map produces zero or more index rows (pointers to IndexType) from
	// one entity value.
	Map func(entity interface{}) []interface{}

	// Reduce folds a Grouping into the aggregate row for its group. A
	// non-nil descriptor must return a non-nil result when invoked
	// against a non-empty Grouping — see InvalidOperation in §7.
	Reduce func(g Grouping) interface{}

	// Delete folds deleted rows into the current aggregate, returning
	// nil when the group has been emptied. Optional: pure map
	// descriptors, and reduce descriptors with no delete fold, instead
	// emit a DeleteMapIndexCommand for the whole document.
	//
	// Return a literal nil, not a typed nil pointer — the finalizer
	// compares the returned interface{} against nil directly, and a
	// typed nil (e.g. a nil *PersonByName boxed in the interface) is
	// never equal to it.
	Delete func(current interface{}, deleted []MapState) interface{}

	// Update folds updated rows into the current aggregate. Optional.
	Update func(current interface{}, updated []MapState) interface{}
}

// IsReduce reports whether this descriptor aggregates (has a Reduce
// fold) rather than behaving as a pure MapIndex.
func (d *Descriptor) IsReduce() bool {
	return d.Reduce != nil
}

// tabler mirrors gorm.io/gorm/schema.Tabler: a row type that names its
// own table.
type tabler interface {
	TableName() string
}

// TableName returns the table this descriptor's index rows live in.
// IndexName, when set, takes precedence. Otherwise it defers to the row
// type's own TableName() method when present — the same resolution GORM
// itself applies via schema.Tabler — and, failing that, to GORM's
// default pluralized-snake-case name for IndexType.
func (d *Descriptor) TableName() string {
	if d.IndexName != "" {
		return d.IndexName
	}
	if zero, ok := reflect.New(d.IndexType).Interface().(tabler); ok {
		return zero.TableName()
	}
	return schema.NamingStrategy{}.TableName(d.IndexType.Name())
}
