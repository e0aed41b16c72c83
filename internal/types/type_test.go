package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, typ Type, v Value) Value {
	t.Helper()
	row, err := BindRow(typ, v)
	require.NoError(t, err)
	out, err := typ.Extract(NewSliceCursor(row))
	require.NoError(t, err)
	return out
}

func TestBuiltinRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		val  Value
	}{
		{"uint64", UInt64, Uint64Value(42)},
		{"string", String, StringValue("foo")},
		{"bytes", Bytes, BytesValue([]byte{3, 3, 3})},
		{"bool", Bool, BoolValue(true)},
		{"float64", Float64, Float64Value(3.25)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := roundTrip(t, c.typ, c.val)
			require.True(t, c.val.Equal(out), "expected %v, got %v", c.val, out)
		})
	}
}

func TestTupleRoundTrip(t *testing.T) {
	tt := NewTupleType(String, UInt64)
	v := TupleValue(tt, StringValue("bar"), Uint64Value(7))
	out := roundTrip(t, tt, v)
	require.True(t, v.Equal(out))
}

func TestListRoundTrip(t *testing.T) {
	lt := NewListType(UInt64)
	v := ListValue(lt, Uint64Value(1), Uint64Value(2), Uint64Value(3))
	out := roundTrip(t, lt, v)
	require.True(t, v.Equal(out))
}

func TestLargeBytesRoundTrip(t *testing.T) {
	store, err := NewBlobStore(t.TempDir(), 8)
	require.NoError(t, err)
	lb := NewLargeBytesType(store)
	v := LargeBytesValue(lb, []byte("a large payload, conceptually"))
	out := roundTrip(t, lb, v)
	require.True(t, v.Equal(out))
}

func TestUint64Ordering(t *testing.T) {
	a, b := Uint64Value(1), Uint64Value(2)
	less, ok := a.Less(b)
	require.True(t, ok)
	require.True(t, less)
}

func TestRegistryIdempotentAndRejectsStructural(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Add(UInt64)) // identical re-registration is a no-op

	other := NewTupleType(String)
	_ = other // structural types cannot register at all
	require.Error(t, r.Add(other))
}
