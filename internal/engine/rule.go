// Package engine implements Holmes's Engine Core (spec section 4.4): the
// predicate registry mirror, function registry, rule index, and the
// extended binding evaluator that turns one search_facts answer into
// zero-or-more derived facts.
//
// Grounded on the teacher's internal/mangle engine shape (a single struct
// owning a fact store, a predicate index, and a cascading evaluation
// entry point) but built around Holmes's own search/bind/substitute
// pipeline rather than wrapping github.com/google/mangle.
package engine

import (
	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/types"
)

// Function is a registered native callable: pure, synchronous, one Value
// in, one Value out. Function names are unique within an Engine;
// re-registration is an error.
type Function struct {
	Name       string
	InputType  types.Type
	OutputType types.Type
	Call       func(types.Value) (types.Value, error)
}

// BindExpr is the left-hand side of a where-clause: spec section 3's
// Normal/Destructure/Iterate combinators.
type BindExpr interface {
	isBindExpr()
}

// Normal binds/filters a single MatchExpr slot against a scalar value.
// Only Unbound, Var, and Const are legal here; SubStr is illegal and
// fatal (spec section 4.5).
type Normal struct {
	Slot factdb.MatchExpr
}

func (Normal) isBindExpr() {}

// Destructure requires rhs to be a tuple or list of matching length and
// folds each element through the corresponding inner BindExpr in order.
type Destructure struct {
	Elems []BindExpr
}

func (Destructure) isBindExpr() {}

// Iterate requires rhs to be a list and branches the answer set once per
// element, recursively binding Inner against each.
type Iterate struct {
	Inner BindExpr
}

func (Iterate) isBindExpr() {}

// Expr is the right-hand side of a where-clause: spec section 3's
// Var/Val/App.
type Expr interface {
	isExpr()
}

// VarExpr reads a previously-bound variable.
type VarExpr struct {
	Index int
}

func (VarExpr) isExpr() {}

// ValExpr is a literal value.
type ValExpr struct {
	Value types.Value
}

func (ValExpr) isExpr() {}

// AppExpr calls a registered function. Multiple arguments are wrapped as
// a tuple value before the call, per spec section 4.5 and the function
// ABI's single-argument convention (spec section 6).
type AppExpr struct {
	Func string
	Args []Expr
}

func (AppExpr) isExpr() {}

// WhereClause is one `lhs := rhs` step of a rule body.
type WhereClause struct {
	LHS BindExpr
	RHS Expr
}

// Rule is a named derivation: a restricted head clause (slots must be Var
// or Const), a body of clauses, and an ordered list of where-clauses.
// Rules are immutable after registration.
type Rule struct {
	Name  string
	Head  factdb.Clause
	Body  []factdb.Clause
	Where []WhereClause
}
