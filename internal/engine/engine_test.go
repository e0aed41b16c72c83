package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/factdb/memstore"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(memstore.New())
	require.NoError(t, err)
	return e
}

func mustNewPredicate(t *testing.T, e *Engine, name string, fieldTypes ...types.Type) {
	t.Helper()
	fields := make([]factdb.Field, len(fieldTypes))
	for i, ft := range fieldTypes {
		fields[i] = factdb.Field{Type: ft}
	}
	require.NoError(t, e.NewPredicate(factdb.Predicate{Name: name, Fields: fields}))
}

func TestEcho(t *testing.T) {
	e := newTestEngine(t)
	mustNewPredicate(t, e, "p", types.String, types.Bytes, types.UInt64)

	require.NoError(t, e.NewFact(factdb.Fact{Pred: "p", Args: []types.Value{
		types.StringValue("foo"), types.BytesValue([]byte{3, 3, 3}), types.Uint64Value(7),
	}}))

	results, err := e.Derive([]factdb.Clause{{
		Pred: "p",
		Slots: []factdb.MatchExpr{
			factdb.Const{Value: types.StringValue("foo")},
			factdb.Unbound{},
			factdb.Var{Index: 0},
		},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(7), results[0][0].Raw().(uint64))
}

func TestOneStepRule(t *testing.T) {
	e := newTestEngine(t)
	mustNewPredicate(t, e, "q", types.String, types.Bytes, types.UInt64)

	require.NoError(t, e.NewFact(factdb.Fact{Pred: "q", Args: []types.Value{
		types.StringValue("foo"), types.BytesValue([]byte{3, 3, 3}), types.Uint64Value(7),
	}}))

	rule := &Rule{
		Name: "q_bar",
		Head: factdb.Clause{Pred: "q", Slots: []factdb.MatchExpr{
			factdb.Const{Value: types.StringValue("bar")},
			factdb.Const{Value: types.BytesValue([]byte{2, 2})},
			factdb.Var{Index: 0},
		}},
		Body: []factdb.Clause{{Pred: "q", Slots: []factdb.MatchExpr{
			factdb.Const{Value: types.StringValue("foo")},
			factdb.Unbound{},
			factdb.Var{Index: 0},
		}}},
	}
	require.NoError(t, e.NewRule(rule))

	results, err := e.Derive([]factdb.Clause{{
		Pred: "q",
		Slots: []factdb.MatchExpr{
			factdb.Const{Value: types.StringValue("bar")},
			factdb.Unbound{},
			factdb.Var{Index: 0},
		},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(7), results[0][0].Raw().(uint64))
}

func TestTransitiveClosure(t *testing.T) {
	e := newTestEngine(t)
	mustNewPredicate(t, e, "reaches", types.String, types.String)

	for _, edge := range [][2]string{{"foo", "bar"}, {"bar", "baz"}, {"baz", "bang"}} {
		require.NoError(t, e.NewFact(factdb.Fact{Pred: "reaches", Args: []types.Value{
			types.StringValue(edge[0]), types.StringValue(edge[1]),
		}}))
	}

	rule := &Rule{
		Name: "transitive",
		Head: factdb.Clause{Pred: "reaches", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 2}}},
		Body: []factdb.Clause{
			{Pred: "reaches", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 1}}},
			{Pred: "reaches", Slots: []factdb.MatchExpr{factdb.Var{Index: 1}, factdb.Var{Index: 2}}},
		},
	}
	require.NoError(t, e.NewRule(rule))
	require.NoError(t, e.Quiesce(context.Background()))

	results, err := e.Derive([]factdb.Clause{{
		Pred:  "reaches",
		Slots: []factdb.MatchExpr{factdb.Const{Value: types.StringValue("foo")}, factdb.Var{Index: 0}},
	}})
	require.NoError(t, err)

	got := make(map[string]bool)
	for _, r := range results {
		got[r[0].Raw().(string)] = true
	}
	require.True(t, got["bar"])
	require.True(t, got["baz"])
	require.True(t, got["bang"])
}

func TestMultiHead(t *testing.T) {
	e := newTestEngine(t)
	mustNewPredicate(t, e, "inf", types.String)
	mustNewPredicate(t, e, "out_a", types.String)
	mustNewPredicate(t, e, "out_b", types.String)

	require.NoError(t, e.NewFact(factdb.Fact{Pred: "inf", Args: []types.Value{types.StringValue("foo")}}))

	mkRule := func(name, headPred string) *Rule {
		return &Rule{
			Name: name,
			Head: factdb.Clause{Pred: headPred, Slots: []factdb.MatchExpr{factdb.Var{Index: 0}}},
			Body: []factdb.Clause{{Pred: "inf", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}}}},
		}
	}
	require.NoError(t, e.NewRule(mkRule("to_a", "out_a")))
	require.NoError(t, e.NewRule(mkRule("to_b", "out_b")))

	for _, pred := range []string{"out_a", "out_b"} {
		results, err := e.Derive([]factdb.Clause{{Pred: pred, Slots: []factdb.MatchExpr{factdb.Var{Index: 0}}}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, "foo", results[0][0].Raw().(string))
	}
}

func TestWhereFunction(t *testing.T) {
	e := newTestEngine(t)
	mustNewPredicate(t, e, "p", types.String, types.Bytes, types.UInt64)

	require.NoError(t, e.RegFunc(&Function{
		Name:       "plus_two",
		InputType:  types.UInt64,
		OutputType: types.UInt64,
		Call: func(v types.Value) (types.Value, error) {
			return types.Uint64Value(v.Raw().(uint64) + 2), nil
		},
	}))

	rule := &Rule{
		Name: "bump",
		Head: factdb.Clause{Pred: "p", Slots: []factdb.MatchExpr{
			factdb.Const{Value: types.StringValue("bar")},
			factdb.Const{Value: types.BytesValue([]byte{2, 2})},
			factdb.Var{Index: 1},
		}},
		Body: []factdb.Clause{{Pred: "p", Slots: []factdb.MatchExpr{
			factdb.Const{Value: types.StringValue("foo")},
			factdb.Unbound{},
			factdb.Var{Index: 0},
		}}},
		Where: []WhereClause{{
			LHS: Normal{Slot: factdb.Var{Index: 1}},
			RHS: AppExpr{Func: "plus_two", Args: []Expr{VarExpr{Index: 0}}},
		}},
	}
	require.NoError(t, e.NewRule(rule))

	require.NoError(t, e.NewFact(factdb.Fact{Pred: "p", Args: []types.Value{
		types.StringValue("foo"), types.BytesValue([]byte{0}), types.Uint64Value(16),
	}}))
	require.NoError(t, e.Quiesce(context.Background()))

	results, err := e.Derive([]factdb.Clause{{
		Pred: "p",
		Slots: []factdb.MatchExpr{
			factdb.Const{Value: types.StringValue("bar")},
			factdb.Unbound{},
			factdb.Var{Index: 0},
		},
	}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(18), results[0][0].Raw().(uint64))
}

func TestSubstring(t *testing.T) {
	e := newTestEngine(t)
	mustNewPredicate(t, e, "t", types.UInt64, types.Bytes)
	mustNewPredicate(t, e, "sub", types.UInt64, types.Bytes)

	require.NoError(t, e.NewFact(factdb.Fact{Pred: "t", Args: []types.Value{types.Uint64Value(1), types.BytesValue([]byte{3, 2, 1})}}))
	require.NoError(t, e.NewFact(factdb.Fact{Pred: "t", Args: []types.Value{types.Uint64Value(2), types.BytesValue([]byte{1, 2, 3})}}))

	rule := &Rule{
		Name: "substring",
		Head: factdb.Clause{Pred: "sub", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 1}}},
		Body: []factdb.Clause{{Pred: "t", Slots: []factdb.MatchExpr{
			factdb.Var{Index: 0},
			factdb.SubStr{Var: 1, Lo: factdb.Lit(1), Hi: factdb.Lit(3)},
		}}},
	}
	require.NoError(t, e.NewRule(rule))

	for n, want := range map[uint64][]byte{1: {2, 1}, 2: {2, 3}} {
		results, err := e.Derive([]factdb.Clause{{
			Pred:  "sub",
			Slots: []factdb.MatchExpr{factdb.Const{Value: types.Uint64Value(n)}, factdb.Var{Index: 0}},
		}})
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, want, results[0][0].Raw().([]byte))
	}
}

func TestMisorderedJoinRegression(t *testing.T) {
	e := newTestEngine(t)
	mustNewPredicate(t, e, "out", types.String, types.UInt64, types.UInt64)
	mustNewPredicate(t, e, "assoc", types.String, types.UInt64, types.UInt64)
	mustNewPredicate(t, e, "look", types.String, types.UInt64, types.UInt64, types.UInt64)

	rule := &Rule{
		Name: "misordered",
		Head: factdb.Clause{Pred: "out", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 2}, factdb.Var{Index: 3}}},
		Body: []factdb.Clause{
			{Pred: "assoc", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Unbound{}, factdb.Var{Index: 1}}},
			{Pred: "look", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 2}, factdb.Unbound{}, factdb.Var{Index: 3}}},
			{Pred: "out", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 2}, factdb.Var{Index: 1}}},
		},
	}
	require.NoError(t, e.NewRule(rule))
}

func TestTimeoutAbortsQuiesce(t *testing.T) {
	e := newTestEngine(t)
	mustNewPredicate(t, e, "count", types.UInt64)

	require.NoError(t, e.RegFunc(&Function{
		Name:       "inc",
		InputType:  types.UInt64,
		OutputType: types.UInt64,
		Call: func(v types.Value) (types.Value, error) {
			return types.Uint64Value(v.Raw().(uint64) + 1), nil
		},
	}))

	rule := &Rule{
		Name: "increment",
		Head: factdb.Clause{Pred: "count", Slots: []factdb.MatchExpr{factdb.Var{Index: 1}}},
		Body: []factdb.Clause{{Pred: "count", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}}}},
		Where: []WhereClause{{
			LHS: Normal{Slot: factdb.Var{Index: 1}},
			RHS: AppExpr{Func: "inc", Args: []Expr{VarExpr{Index: 0}}},
		}},
	}
	e.LimitTime(50 * time.Millisecond)
	require.NoError(t, e.NewFact(factdb.Fact{Pred: "count", Args: []types.Value{types.Uint64Value(0)}}))
	require.NoError(t, e.NewRule(rule))

	start := time.Now()
	err := e.Quiesce(context.Background())
	elapsed := time.Since(start)

	require.Error(t, err)
	require.True(t, herrors.Is(err, herrors.Deadline))
	require.Less(t, elapsed, 2*time.Second)
}
