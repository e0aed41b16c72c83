// Package factdbtest is a backend-agnostic conformance suite: the same
// table of assertions run against memstore, manglestore, and sqlstore so
// the factdb.DB implementations stay behaviorally identical. Grounded on the
// Pieczasz-smf corpus's convention of parametrizing one test body over
// every dialect it supports, generalized here to parametrize over every
// factdb.DB backend instead of every SQL dialect.
package factdbtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/types"
)

// Run exercises every DB-level invariant from the spec's testable
// properties against a freshly built backend. newDB is called once per
// sub-test so backends that don't support dropping tables still get
// isolation.
func Run(t *testing.T, newDB func(t *testing.T) factdb.DB) {
	t.Run("InsertFactIsIdempotent", func(t *testing.T) { testInsertIdempotent(t, newDB(t)) })
	t.Run("PredicateReRegistration", func(t *testing.T) { testPredicateReRegistration(t, newDB(t)) })
	t.Run("RoundTripBuiltinTypes", func(t *testing.T) { testRoundTrip(t, newDB(t)) })
	t.Run("SearchFactsConjunctiveJoin", func(t *testing.T) { testSearchJoin(t, newDB(t)) })
	t.Run("SearchFactsConstAndUnbound", func(t *testing.T) { testSearchConstUnbound(t, newDB(t)) })
	t.Run("CacheExcludesSeenTuples", func(t *testing.T) { testCacheExclusion(t, newDB(t)) })
	t.Run("MisorderedJoinCompilesOnEmptyPredicates", func(t *testing.T) { testMisorderedJoin(t, newDB(t)) })
}

func mustAddPredicate(t *testing.T, db factdb.DB, name string, fields ...factdb.Field) {
	t.Helper()
	require.NoError(t, db.NewPredicate(factdb.Predicate{Name: name, Fields: fields}))
}

func field(t types.Type) factdb.Field { return factdb.Field{Type: t} }

func testInsertIdempotent(t *testing.T, db factdb.DB) {
	mustAddPredicate(t, db, "p", field(types.String), field(types.UInt64))
	fact := factdb.Fact{Pred: "p", Args: []types.Value{types.StringValue("foo"), types.Uint64Value(7)}}

	isNew, id1, err := db.InsertFact(fact)
	require.NoError(t, err)
	require.True(t, isNew)

	isNew, id2, err := db.InsertFact(fact)
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, id1, id2)
}

func testPredicateReRegistration(t *testing.T, db factdb.DB) {
	require.NoError(t, db.NewPredicate(factdb.Predicate{Name: "q", Fields: []factdb.Field{field(types.String)}}))
	require.NoError(t, db.NewPredicate(factdb.Predicate{Name: "q", Fields: []factdb.Field{field(types.String)}}))

	err := db.NewPredicate(factdb.Predicate{Name: "q", Fields: []factdb.Field{field(types.UInt64)}})
	require.Error(t, err)
}

func testRoundTrip(t *testing.T, db factdb.DB) {
	mustAddPredicate(t, db, "vals",
		field(types.UInt64), field(types.String), field(types.Bytes), field(types.Bool), field(types.Float64))

	want := factdb.Fact{Pred: "vals", Args: []types.Value{
		types.Uint64Value(42),
		types.StringValue("hello"),
		types.BytesValue([]byte{1, 2, 3}),
		types.BoolValue(true),
		types.Float64Value(3.5),
	}}
	_, _, err := db.InsertFact(want)
	require.NoError(t, err)

	results, err := db.SearchFacts([]factdb.Clause{{
		Pred: "vals",
		Slots: []factdb.MatchExpr{
			factdb.Var{Index: 0}, factdb.Var{Index: 1}, factdb.Var{Index: 2}, factdb.Var{Index: 3}, factdb.Var{Index: 4},
		},
	}}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	for i, v := range want.Args {
		require.True(t, v.Equal(results[0].Bindings[i]), "field %d: want %v got %v", i, v, results[0].Bindings[i])
	}
}

func testSearchJoin(t *testing.T, db factdb.DB) {
	mustAddPredicate(t, db, "edge", field(types.String), field(types.String))
	edges := [][2]string{{"foo", "bar"}, {"bar", "baz"}, {"baz", "bang"}}
	for _, e := range edges {
		_, _, err := db.InsertFact(factdb.Fact{Pred: "edge", Args: []types.Value{types.StringValue(e[0]), types.StringValue(e[1])}})
		require.NoError(t, err)
	}

	// two-hop join: edge(X,Y) & edge(Y,Z)
	results, err := db.SearchFacts([]factdb.Clause{
		{Pred: "edge", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 1}}},
		{Pred: "edge", Slots: []factdb.MatchExpr{factdb.Var{Index: 1}, factdb.Var{Index: 2}}},
	}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	got := map[[2]string]bool{}
	for _, r := range results {
		got[[2]string{r.Bindings[0].Raw().(string), r.Bindings[2].Raw().(string)}] = true
	}
	require.True(t, got[[2]string{"foo", "baz"}])
	require.True(t, got[[2]string{"bar", "bang"}])
}

func testSearchConstUnbound(t *testing.T, db factdb.DB) {
	mustAddPredicate(t, db, "p2", field(types.String), field(types.Bytes), field(types.UInt64))
	_, _, err := db.InsertFact(factdb.Fact{Pred: "p2", Args: []types.Value{
		types.StringValue("foo"), types.BytesValue([]byte{3, 3, 3}), types.Uint64Value(7),
	}})
	require.NoError(t, err)

	results, err := db.SearchFacts([]factdb.Clause{{
		Pred: "p2",
		Slots: []factdb.MatchExpr{
			factdb.Const{Value: types.StringValue("foo")},
			factdb.Unbound{},
			factdb.Var{Index: 0},
		},
	}}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, uint64(7), results[0].Bindings[0].Raw().(uint64))
}

func testCacheExclusion(t *testing.T, db factdb.DB) {
	mustAddPredicate(t, db, "c1", field(types.UInt64))
	for _, v := range []uint64{1, 2, 3} {
		_, _, err := db.InsertFact(factdb.Fact{Pred: "c1", Args: []types.Value{types.Uint64Value(v)}})
		require.NoError(t, err)
	}

	cacheID, err := db.NewRuleCache([]string{"c1"})
	require.NoError(t, err)

	body := []factdb.Clause{{Pred: "c1", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}}}}
	first, err := db.SearchFacts(body, &cacheID)
	require.NoError(t, err)
	require.Len(t, first, 3)

	for _, r := range first {
		require.NoError(t, db.CacheHit(cacheID, r.FactIds))
	}

	second, err := db.SearchFacts(body, &cacheID)
	require.NoError(t, err)
	require.Empty(t, second)

	// a fresh fact is still picked up past the existing cache entries.
	_, _, err = db.InsertFact(factdb.Fact{Pred: "c1", Args: []types.Value{types.Uint64Value(4)}})
	require.NoError(t, err)
	third, err := db.SearchFacts(body, &cacheID)
	require.NoError(t, err)
	require.Len(t, third, 1)
	require.Equal(t, uint64(4), third[0].Bindings[0].Raw().(uint64))
}

func testMisorderedJoin(t *testing.T, db factdb.DB) {
	mustAddPredicate(t, db, "out", field(types.String), field(types.UInt64), field(types.UInt64))
	mustAddPredicate(t, db, "assoc", field(types.String), field(types.UInt64), field(types.UInt64))
	mustAddPredicate(t, db, "look", field(types.String), field(types.UInt64), field(types.UInt64), field(types.UInt64))

	// assoc(N,_,T) & look(N,A,_,next) & out(N,A,T) — this ordering puts the
	// last clause's variables first bound in earlier clauses (N and T two
	// clauses earlier, A one clause earlier), which
	// is exactly the alias-visibility trap the WHERE-only join shape must
	// sidestep (spec section 4.3 point 4).
	body := []factdb.Clause{
		{Pred: "assoc", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Unbound{}, factdb.Var{Index: 1}}},
		{Pred: "look", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 2}, factdb.Unbound{}, factdb.Var{Index: 3}}},
		{Pred: "out", Slots: []factdb.MatchExpr{factdb.Var{Index: 0}, factdb.Var{Index: 2}, factdb.Var{Index: 1}}},
	}
	results, err := db.SearchFacts(body, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}
