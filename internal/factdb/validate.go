package factdb

import (
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/types"
)

// ValidateBody checks the structural invariants spec section 4.3 demands
// before a body is compiled: non-empty, every predicate registered,
// variable numbering sequential, and variable types unifying across
// occurrences. It returns the type of each variable, indexed by variable
// number.
func ValidateBody(lookup func(name string) (Predicate, bool), body []Clause) ([]types.Type, error) {
	if len(body) == 0 {
		return nil, herrors.New(herrors.Invalid, "query body must not be empty")
	}

	var varTypes []types.Type
	for ci, clause := range body {
		pred, ok := lookup(clause.Pred)
		if !ok {
			return nil, herrors.New(herrors.NotFound, "predicate %q is not registered", clause.Pred)
		}
		if len(clause.Slots) != len(pred.Fields) {
			return nil, herrors.New(herrors.Invalid, "clause %d: predicate %q expects %d fields, got %d slots",
				ci, clause.Pred, len(pred.Fields), len(clause.Slots))
		}
		for si, slot := range clause.Slots {
			fieldType := pred.Fields[si].Type
			switch s := slot.(type) {
			case Unbound:
				// nothing to check
			case Const:
				if !s.Value.Type().Equal(fieldType) {
					return nil, herrors.New(herrors.TypeMismatch,
						"clause %d slot %d: const has type %v, field has type %v", ci, si, s.Value.Type(), fieldType)
				}
			case Var:
				if err := bindVarType(&varTypes, s.Index, fieldType); err != nil {
					return nil, err
				}
			case SubStr:
				if err := checkOffset(varTypes, s.Lo); err != nil {
					return nil, err
				}
				if err := checkOffset(varTypes, s.Hi); err != nil {
					return nil, err
				}
				if err := bindVarType(&varTypes, s.Var, types.Bytes); err != nil {
					return nil, err
				}
			default:
				return nil, herrors.New(herrors.Internal, "clause %d slot %d: unknown MatchExpr %T", ci, si, slot)
			}
		}
	}
	return varTypes, nil
}

func checkOffset(varTypes []types.Type, off Offset) error {
	if !off.IsVar {
		return nil
	}
	if off.VarIdx < 0 || off.VarIdx >= len(varTypes) {
		return herrors.New(herrors.Invalid, "substring offset references unbound variable %d", off.VarIdx)
	}
	if !varTypes[off.VarIdx].Equal(types.UInt64) {
		return herrors.New(herrors.TypeMismatch, "substring offset variable %d must be uint64", off.VarIdx)
	}
	return nil
}

// bindVarType enforces spec section 3's sequential-numbering invariant: the
// first occurrence of Var(v) must have index == len(varTypes); later
// occurrences must match the type recorded at first use.
func bindVarType(varTypes *[]types.Type, idx int, t types.Type) error {
	switch {
	case idx == len(*varTypes):
		*varTypes = append(*varTypes, t)
		return nil
	case idx < len(*varTypes):
		if !(*varTypes)[idx].Equal(t) {
			return herrors.New(herrors.TypeMismatch, "variable %d used at incompatible types %v and %v", idx, (*varTypes)[idx], t)
		}
		return nil
	default:
		return herrors.New(herrors.Invalid, "variable %d used before variable %d is bound (non-sequential numbering)", idx, len(*varTypes))
	}
}
