package engine

import (
	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/types"
)

// eval computes the value of a where-clause's right-hand side against the
// current bindings, per spec section 4.5's eval rules.
func (e *Engine) eval(expr Expr, bindings []types.Value) (types.Value, error) {
	switch x := expr.(type) {
	case VarExpr:
		if x.Index < 0 || x.Index >= len(bindings) {
			return types.Value{}, herrors.New(herrors.Internal, "eval: variable %d out of range", x.Index)
		}
		return bindings[x.Index], nil
	case ValExpr:
		return x.Value, nil
	case AppExpr:
		fn, ok := e.funcs[x.Func]
		if !ok {
			return types.Value{}, herrors.New(herrors.Invalid, "unknown function %q", x.Func)
		}
		args := make([]types.Value, len(x.Args))
		for i, a := range x.Args {
			v, err := e.eval(a, bindings)
			if err != nil {
				return types.Value{}, err
			}
			args[i] = v
		}
		var in types.Value
		switch len(args) {
		case 0:
			return types.Value{}, herrors.New(herrors.Invalid, "function %q called with no arguments", x.Func)
		case 1:
			in = args[0]
		default:
			in = types.TupleValue(types.NewTupleType(typesOf(args)...), args...)
		}
		out, err := fn.Call(in)
		if err != nil {
			return types.Value{}, herrors.Wrap(herrors.Internal, err, "function %q", x.Func)
		}
		return out, nil
	default:
		return types.Value{}, herrors.New(herrors.Internal, "eval: unknown Expr %T", expr)
	}
}

func typesOf(vs []types.Value) []types.Type {
	out := make([]types.Type, len(vs))
	for i, v := range vs {
		out[i] = v.Type()
	}
	return out
}

// bind applies a BindExpr against rhs, extending state with any new
// variables and returning the (possibly several, possibly zero)
// surviving states, per spec section 4.5's bind rules.
func bind(lhs BindExpr, rhs types.Value, state []types.Value) ([][]types.Value, error) {
	switch l := lhs.(type) {
	case Normal:
		return bindNormal(l.Slot, rhs, state)
	case Destructure:
		elems, ok := rhs.Raw().([]types.Value)
		if !ok || len(elems) != len(l.Elems) {
			return nil, nil
		}
		states := [][]types.Value{state}
		for i, inner := range l.Elems {
			var next [][]types.Value
			for _, s := range states {
				out, err := bind(inner, elems[i], s)
				if err != nil {
					return nil, err
				}
				next = append(next, out...)
			}
			states = next
			if len(states) == 0 {
				return nil, nil
			}
		}
		return states, nil
	case Iterate:
		elems, ok := rhs.Raw().([]types.Value)
		if !ok {
			return nil, herrors.New(herrors.Internal, "bind: Iterate requires a list value, got %T", rhs.Raw())
		}
		var out [][]types.Value
		for _, elem := range elems {
			sub, err := bind(l.Inner, elem, state)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
		}
		return out, nil
	default:
		return nil, herrors.New(herrors.Internal, "bind: unknown BindExpr %T", lhs)
	}
}

func bindNormal(slot factdb.MatchExpr, rhs types.Value, state []types.Value) ([][]types.Value, error) {
	switch s := slot.(type) {
	case factdb.Unbound:
		return [][]types.Value{state}, nil
	case factdb.Var:
		switch {
		case s.Index < len(state):
			if !state[s.Index].Equal(rhs) {
				return nil, nil
			}
			return [][]types.Value{state}, nil
		case s.Index == len(state):
			next := append(append([]types.Value(nil), state...), rhs)
			return [][]types.Value{next}, nil
		default:
			return nil, herrors.New(herrors.Internal, "bind: variable %d used before variable %d is bound", s.Index, len(state))
		}
	case factdb.Const:
		if !s.Value.Equal(rhs) {
			return nil, nil
		}
		return [][]types.Value{state}, nil
	case factdb.SubStr:
		return nil, herrors.New(herrors.Internal, "bind: SubStr is not a legal where-clause bind target")
	default:
		return nil, herrors.New(herrors.Internal, "bind: unknown MatchExpr %T", slot)
	}
}

// substitute materializes a rule's head clause against a binding set.
// Var(v) becomes bindings[v]; Const(k) stays k; Unbound and SubStr are
// illegal in heads and fatal, per spec section 4.5.
func substitute(head factdb.Clause, bindings []types.Value) (factdb.Fact, error) {
	args := make([]types.Value, len(head.Slots))
	for i, slot := range head.Slots {
		switch s := slot.(type) {
		case factdb.Var:
			if s.Index < 0 || s.Index >= len(bindings) {
				return factdb.Fact{}, herrors.New(herrors.Internal, "substitute: head variable %d out of range", s.Index)
			}
			args[i] = bindings[s.Index]
		case factdb.Const:
			args[i] = s.Value
		default:
			return factdb.Fact{}, herrors.New(herrors.Internal, "substitute: head slot %d has illegal kind %T", i, slot)
		}
	}
	return factdb.Fact{Pred: head.Pred, Args: args}, nil
}
