package types

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// TupleType is a structural type: an ordered tuple of typed fields. It is
// column-expanding: it occupies the concatenation of each field's columns,
// exactly as a predicate's own field list does.
type TupleType struct {
	Elems []Type
}

// NewTupleType builds a Tuple type over the given element types.
func NewTupleType(elems ...Type) TupleType { return TupleType{Elems: elems} }

func (TupleType) Name() (string, bool) { return "", false }

func (t TupleType) Repr() []ColumnSpec {
	var cols []ColumnSpec
	for i, e := range t.Elems {
		for _, c := range e.Repr() {
			cols = append(cols, ColumnSpec{Name: fmt.Sprintf("e%d_%s", i, c.Name), SQLType: c.SQLType})
		}
	}
	return cols
}

func (t TupleType) Extract(c Cursor) (Value, error) {
	vals := make([]Value, len(t.Elems))
	for i, e := range t.Elems {
		v, err := e.Extract(c)
		if err != nil {
			return Value{}, fmt.Errorf("tuple elem %d: %w", i, err)
		}
		vals[i] = v
	}
	return NewValue(t, vals), nil
}

func (t TupleType) Bind(v Value, sink ParamSink) error {
	elems, ok := v.raw.([]Value)
	if !ok || len(elems) != len(t.Elems) {
		return fmt.Errorf("tuple.Bind: expected %d elements, got %v", len(t.Elems), v.raw)
	}
	for i, e := range t.Elems {
		if err := e.Bind(elems[i], sink); err != nil {
			return fmt.Errorf("tuple elem %d: %w", i, err)
		}
	}
	return nil
}

func (t TupleType) Equal(o Type) bool {
	ot, ok := o.(TupleType)
	if !ok || len(ot.Elems) != len(t.Elems) {
		return false
	}
	for i := range t.Elems {
		if !t.Elems[i].Equal(ot.Elems[i]) {
			return false
		}
	}
	return true
}

// TupleValue builds a Value of the given tuple type from its elements.
func TupleValue(t TupleType, elems ...Value) Value { return NewValue(t, elems) }

// ListType is a structural type: a homogeneous list of one element type.
// Because a predicate's field columns are fixed in number, a List column
// cannot itself be column-expanding (its length is unbounded at schema
// time); it is represented as a single encoded BLOB column, matching how
// the spec treats a LargeBytes value (opaque payload, one column).
type ListType struct {
	Elem Type
}

// NewListType builds a List type over the given element type.
func NewListType(elem Type) ListType { return ListType{Elem: elem} }

func (ListType) Name() (string, bool) { return "", false }

func (ListType) Repr() []ColumnSpec { return []ColumnSpec{{Name: "v", SQLType: "BLOB"}} }

func (t ListType) Extract(c Cursor) (Value, error) {
	raw, err := c.Next()
	if err != nil {
		return Value{}, err
	}
	b, ok := raw.([]byte)
	if !ok {
		return Value{}, fmt.Errorf("list: cannot convert %T", raw)
	}
	elems, err := decodeList(t.Elem, b)
	if err != nil {
		return Value{}, fmt.Errorf("list: %w", err)
	}
	return NewValue(t, elems), nil
}

func (t ListType) Bind(v Value, sink ParamSink) error {
	elems, ok := v.raw.([]Value)
	if !ok {
		return fmt.Errorf("list.Bind: value has raw type %T", v.raw)
	}
	b, err := encodeList(t.Elem, elems)
	if err != nil {
		return fmt.Errorf("list.Bind: %w", err)
	}
	sink.Put(b)
	return nil
}

func (t ListType) Equal(o Type) bool {
	ot, ok := o.(ListType)
	return ok && t.Elem.Equal(ot.Elem)
}

// ListValue builds a Value of the given list type from its elements, which
// must each have the list's element type.
func ListValue(t ListType, elems ...Value) Value { return NewValue(t, elems) }

// sliceSink / sliceCursor bridge a Type's Bind/Extract methods to an
// in-memory []interface{} row, used both for List encoding and for the
// in-memory factdb backend.

type sliceSink struct{ vals []interface{} }

func (s *sliceSink) Put(v interface{}) { s.vals = append(s.vals, v) }

// SliceCursor implements Cursor over a pre-materialized row.
type SliceCursor struct {
	vals []interface{}
	pos  int
}

// NewSliceCursor wraps a row of already-extracted raw column values.
func NewSliceCursor(vals []interface{}) *SliceCursor { return &SliceCursor{vals: vals} }

func (c *SliceCursor) Next() (interface{}, error) {
	if c.pos >= len(c.vals) {
		return nil, fmt.Errorf("slice cursor exhausted")
	}
	v := c.vals[c.pos]
	c.pos++
	return v, nil
}

// BindRow flattens v's columns into raw values via t.Bind, in Repr() order.
func BindRow(t Type, v Value) ([]interface{}, error) {
	sink := &sliceSink{}
	if err := t.Bind(v, sink); err != nil {
		return nil, err
	}
	return sink.vals, nil
}

func init() {
	// gob needs every concrete type that will flow through an
	// interface{} registered up front; these are exactly the raw
	// column types Bind ever Puts.
	gob.Register(int64(0))
	gob.Register("")
	gob.Register([]byte(nil))
	gob.Register(false)
	gob.Register(float64(0))
}

func encodeList(elem Type, elems []Value) ([]byte, error) {
	rows := make([][]interface{}, len(elems))
	for i, e := range elems {
		row, err := BindRow(elem, e)
		if err != nil {
			return nil, fmt.Errorf("encode elem %d: %w", i, err)
		}
		rows[i] = row
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeList(elem Type, b []byte) ([]Value, error) {
	var rows [][]interface{}
	if len(b) == 0 {
		return nil, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rows); err != nil {
		return nil, err
	}
	out := make([]Value, len(rows))
	for i, row := range rows {
		v, err := elem.Extract(NewSliceCursor(row))
		if err != nil {
			return nil, fmt.Errorf("decode elem %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
