// Package types implements Holmes's dynamically-typed value system: a
// registry of named types, each of which knows its backend column
// representation, how to extract a value from a row cursor, how to bind a
// value as a query parameter, and how to compare its values for equality
// and order.
//
// Grounded on the teacher's internal/mangle predicate/arity bookkeeping
// (internal/mangle/schema_validator.go) for the registry shape, and on
// original_source/src/engine/types.rs for the built-in type list and the
// column-expanding representation rule.
package types

import "fmt"

// ColumnSpec describes one backend column a Type occupies.
type ColumnSpec struct {
	// Name is the column's logical name, before arg-index disambiguation
	// (the factdb backends assign the final argN_<Name> names).
	Name string
	// SQLType is the backend column type, e.g. "INTEGER", "TEXT", "BLOB".
	SQLType string
}

// Cursor yields raw column values in the order a Type's Repr() declares
// them. Both the SQL-backed and in-memory factdb implementations expose
// rows through this interface so a Type's Extract method never needs to
// know which backend produced the row.
type Cursor interface {
	// Next returns the next raw column value. The concrete Go type of the
	// value is driver-dependent (int64, float64, string, []byte, bool,
	// nil) but always one a database/sql.Rows.Scan(&v) into interface{}
	// would produce, or the exact Go value memstore stored.
	Next() (interface{}, error)
}

// ParamSink accumulates raw column values to bind as query parameters, in
// the order a Type's Repr() declares them.
type ParamSink interface {
	Put(v interface{})
}

// Type is the capability set every Holmes value's type satisfies: column
// representation, extraction, parameter binding, and structural equality.
// Built-in scalar types, Tuple and List are all Types; user types
// implement the same interface and register under a name.
type Type interface {
	// Name returns the registry name of a named type, or ("", false) for
	// a structural type (Tuple, List) that is identified by shape rather
	// than by name.
	Name() (string, bool)

	// Repr returns the ordered list of backend columns this type
	// occupies. A tuple of N typed fields occupies the concatenation of
	// each field's Repr(); the factdb layer is responsible for
	// flattening a predicate's fields into one row this way.
	Repr() []ColumnSpec

	// Extract consumes exactly len(Repr()) values off c, in order, and
	// builds the Value they represent. Extracting from a cursor whose
	// next column does not match the declared column type is a bug in
	// the caller (a schema/cursor mismatch) and Extract is free to panic
	// or return an *herrors.Error of kind Internal; it must never be
	// reached by host-supplied input, only by internal wiring errors.
	Extract(c Cursor) (Value, error)

	// Bind pushes the raw column values for v onto sink, in Repr() order.
	Bind(v Value, sink ParamSink) error

	// Equal reports whether t and this type have identical behavior:
	// same name (or both unnamed with the same shape) and same
	// representation.
	Equal(t Type) bool
}

// OrderedType is implemented by types whose values are totally orderable.
type OrderedType interface {
	Type
	// Less reports whether a < b. Both values must have this type.
	Less(a, b Value) bool
}

// Value is an immutable, polymorphic handle carrying a Type and its datum.
type Value struct {
	typ Type
	raw interface{}
}

// NewValue builds a Value of type t wrapping raw. Callers are responsible
// for raw being the representation t expects; built-in type constructors
// (Uint64Value, StringValue, ...) should be preferred over calling this
// directly.
func NewValue(t Type, raw interface{}) Value {
	return Value{typ: t, raw: raw}
}

// Type returns v's type.
func (v Value) Type() Type { return v.typ }

// Raw returns v's underlying Go datum. Its concrete type depends on v's
// Type (uint64, string, []byte, bool, float64, []Value for Tuple/List).
func (v Value) Raw() interface{} { return v.raw }

// IsZero reports whether v is the zero Value (no type assigned).
func (v Value) IsZero() bool { return v.typ == nil }

// Equal reports structural equality: same type, same datum.
func (v Value) Equal(o Value) bool {
	if v.typ == nil || o.typ == nil {
		return v.typ == nil && o.typ == nil
	}
	if !v.typ.Equal(o.typ) {
		return false
	}
	return rawEqual(v.raw, o.raw)
}

// Less reports whether v orders before o. ok is false if v's type is not
// orderable or the types differ.
func (v Value) Less(o Value) (less bool, ok bool) {
	if v.typ == nil || o.typ == nil || !v.typ.Equal(o.typ) {
		return false, false
	}
	ot, isOrdered := v.typ.(OrderedType)
	if !isOrdered {
		return false, false
	}
	return ot.Less(v, o), true
}

func (v Value) String() string {
	name, named := "", false
	if v.typ != nil {
		name, named = v.typ.Name()
	}
	if !named {
		name = "struct"
	}
	return fmt.Sprintf("%s(%v)", name, v.raw)
}

func rawEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case []Value:
		bv, ok := b.([]Value)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !av[i].Equal(bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
