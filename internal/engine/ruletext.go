package engine

import (
	"encoding/json"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/types"
)

// ruleText implements spec section 3's "rules persist as textual
// descriptors" lifecycle note: a JSON discriminated-union encoding of a
// Rule's head, body, and where-clauses, keyed by registered type name for
// every literal Const/ValExpr value. Grounded on the teacher's own
// json:"..." struct-tag convention for its serializable domain objects
// (Fact, Config, Stats, QueryResult in internal/mangle/engine.go).
//
// A rule containing a literal of an unnamed (structural Tuple/List) type
// cannot be encoded: spec's Non-goals say user types are not persisted and
// must be re-registered on reconnect, and an unnamed type has no name to
// re-resolve against on decode. NewRule logs a warning for such a rule and
// registers it without persisting it, so it does not survive a reboot.

type valueJSON struct {
	TypeName string          `json:"type"`
	Kind     string          `json:"kind"`
	Raw      json.RawMessage `json:"raw"`
}

func encodeValue(v types.Value) (valueJSON, error) {
	name, named := v.Type().Name()
	if !named {
		return valueJSON{}, herrors.New(herrors.Invalid, "literal value has an unnamed structural type; rules cannot persist a Tuple/List literal, use Var+Destructure instead")
	}

	var kind string
	switch v.Raw().(type) {
	case uint64:
		kind = "uint64"
	case string:
		kind = "string"
	case []byte:
		kind = "bytes"
	case bool:
		kind = "bool"
	case float64:
		kind = "float64"
	default:
		return valueJSON{}, herrors.New(herrors.Invalid, "literal value of type %q has an unsupported raw kind %T for persistence", name, v.Raw())
	}

	raw, err := json.Marshal(v.Raw())
	if err != nil {
		return valueJSON{}, herrors.Wrap(herrors.Internal, err, "marshal literal value of type %q", name)
	}
	return valueJSON{TypeName: name, Kind: kind, Raw: raw}, nil
}

func decodeValue(vj valueJSON, lookup func(string) (types.Type, bool)) (types.Value, error) {
	t, ok := lookup(vj.TypeName)
	if !ok {
		return types.Value{}, herrors.New(herrors.NotFound, "type %q is not registered", vj.TypeName)
	}

	switch vj.Kind {
	case "uint64":
		var u uint64
		if err := json.Unmarshal(vj.Raw, &u); err != nil {
			return types.Value{}, herrors.Wrap(herrors.Invalid, err, "decode uint64 literal")
		}
		return types.NewValue(t, u), nil
	case "string":
		var s string
		if err := json.Unmarshal(vj.Raw, &s); err != nil {
			return types.Value{}, herrors.Wrap(herrors.Invalid, err, "decode string literal")
		}
		return types.NewValue(t, s), nil
	case "bytes":
		var b []byte
		if err := json.Unmarshal(vj.Raw, &b); err != nil {
			return types.Value{}, herrors.Wrap(herrors.Invalid, err, "decode bytes literal")
		}
		return types.NewValue(t, b), nil
	case "bool":
		var b bool
		if err := json.Unmarshal(vj.Raw, &b); err != nil {
			return types.Value{}, herrors.Wrap(herrors.Invalid, err, "decode bool literal")
		}
		return types.NewValue(t, b), nil
	case "float64":
		var f float64
		if err := json.Unmarshal(vj.Raw, &f); err != nil {
			return types.Value{}, herrors.Wrap(herrors.Invalid, err, "decode float64 literal")
		}
		return types.NewValue(t, f), nil
	default:
		return types.Value{}, herrors.New(herrors.Invalid, "unknown literal kind %q", vj.Kind)
	}
}

type offsetJSON struct {
	IsVar   bool `json:"is_var,omitempty"`
	VarIdx  int  `json:"var_idx,omitempty"`
	Literal int  `json:"literal,omitempty"`
}

func encodeOffset(o factdb.Offset) offsetJSON {
	return offsetJSON{IsVar: o.IsVar, VarIdx: o.VarIdx, Literal: o.Literal}
}

func decodeOffset(oj offsetJSON) factdb.Offset {
	return factdb.Offset{IsVar: oj.IsVar, VarIdx: oj.VarIdx, Literal: oj.Literal}
}

type slotJSON struct {
	Kind  string `json:"kind"`
	Index int    `json:"index,omitempty"`

	Value *valueJSON `json:"value,omitempty"`

	SubStrVar int        `json:"substr_var,omitempty"`
	Lo        offsetJSON `json:"lo"`
	Hi        offsetJSON `json:"hi"`
}

func encodeSlot(m factdb.MatchExpr) (slotJSON, error) {
	switch s := m.(type) {
	case factdb.Unbound:
		return slotJSON{Kind: "unbound"}, nil
	case factdb.Var:
		return slotJSON{Kind: "var", Index: s.Index}, nil
	case factdb.Const:
		vj, err := encodeValue(s.Value)
		if err != nil {
			return slotJSON{}, err
		}
		return slotJSON{Kind: "const", Value: &vj}, nil
	case factdb.SubStr:
		return slotJSON{
			Kind:      "substr",
			SubStrVar: s.Var,
			Lo:        encodeOffset(s.Lo),
			Hi:        encodeOffset(s.Hi),
		}, nil
	default:
		return slotJSON{}, herrors.New(herrors.Internal, "unknown MatchExpr %T", m)
	}
}

func decodeSlot(sj slotJSON, lookup func(string) (types.Type, bool)) (factdb.MatchExpr, error) {
	switch sj.Kind {
	case "unbound":
		return factdb.Unbound{}, nil
	case "var":
		return factdb.Var{Index: sj.Index}, nil
	case "const":
		if sj.Value == nil {
			return nil, herrors.New(herrors.Invalid, "const slot missing value")
		}
		v, err := decodeValue(*sj.Value, lookup)
		if err != nil {
			return nil, err
		}
		return factdb.Const{Value: v}, nil
	case "substr":
		return factdb.SubStr{Var: sj.SubStrVar, Lo: decodeOffset(sj.Lo), Hi: decodeOffset(sj.Hi)}, nil
	default:
		return nil, herrors.New(herrors.Invalid, "unknown slot kind %q", sj.Kind)
	}
}

type clauseJSON struct {
	Pred  string     `json:"pred"`
	Slots []slotJSON `json:"slots"`
}

func encodeClause(c factdb.Clause) (clauseJSON, error) {
	cj := clauseJSON{Pred: c.Pred, Slots: make([]slotJSON, len(c.Slots))}
	for i, s := range c.Slots {
		sj, err := encodeSlot(s)
		if err != nil {
			return clauseJSON{}, herrors.Wrap(herrors.Invalid, err, "clause %q slot %d", c.Pred, i)
		}
		cj.Slots[i] = sj
	}
	return cj, nil
}

func decodeClause(cj clauseJSON, lookup func(string) (types.Type, bool)) (factdb.Clause, error) {
	slots := make([]factdb.MatchExpr, len(cj.Slots))
	for i, sj := range cj.Slots {
		s, err := decodeSlot(sj, lookup)
		if err != nil {
			return factdb.Clause{}, herrors.Wrap(herrors.Invalid, err, "clause %q slot %d", cj.Pred, i)
		}
		slots[i] = s
	}
	return factdb.Clause{Pred: cj.Pred, Slots: slots}, nil
}

type bindExprJSON struct {
	Kind  string         `json:"kind"`
	Slot  *slotJSON      `json:"slot,omitempty"`
	Elems []bindExprJSON `json:"elems,omitempty"`
	Inner *bindExprJSON  `json:"inner,omitempty"`
}

func encodeBindExpr(b BindExpr) (bindExprJSON, error) {
	switch v := b.(type) {
	case Normal:
		sj, err := encodeSlot(v.Slot)
		if err != nil {
			return bindExprJSON{}, err
		}
		return bindExprJSON{Kind: "normal", Slot: &sj}, nil
	case Destructure:
		elems := make([]bindExprJSON, len(v.Elems))
		for i, e := range v.Elems {
			ej, err := encodeBindExpr(e)
			if err != nil {
				return bindExprJSON{}, herrors.Wrap(herrors.Invalid, err, "destructure elem %d", i)
			}
			elems[i] = ej
		}
		return bindExprJSON{Kind: "destructure", Elems: elems}, nil
	case Iterate:
		inner, err := encodeBindExpr(v.Inner)
		if err != nil {
			return bindExprJSON{}, err
		}
		return bindExprJSON{Kind: "iterate", Inner: &inner}, nil
	default:
		return bindExprJSON{}, herrors.New(herrors.Internal, "unknown BindExpr %T", b)
	}
}

func decodeBindExpr(bj bindExprJSON, lookup func(string) (types.Type, bool)) (BindExpr, error) {
	switch bj.Kind {
	case "normal":
		if bj.Slot == nil {
			return nil, herrors.New(herrors.Invalid, "normal bind missing slot")
		}
		s, err := decodeSlot(*bj.Slot, lookup)
		if err != nil {
			return nil, err
		}
		return Normal{Slot: s}, nil
	case "destructure":
		elems := make([]BindExpr, len(bj.Elems))
		for i, ej := range bj.Elems {
			e, err := decodeBindExpr(ej, lookup)
			if err != nil {
				return nil, herrors.Wrap(herrors.Invalid, err, "destructure elem %d", i)
			}
			elems[i] = e
		}
		return Destructure{Elems: elems}, nil
	case "iterate":
		if bj.Inner == nil {
			return nil, herrors.New(herrors.Invalid, "iterate bind missing inner")
		}
		inner, err := decodeBindExpr(*bj.Inner, lookup)
		if err != nil {
			return nil, err
		}
		return Iterate{Inner: inner}, nil
	default:
		return nil, herrors.New(herrors.Invalid, "unknown bind kind %q", bj.Kind)
	}
}

type exprJSON struct {
	Kind  string     `json:"kind"`
	Index int        `json:"index,omitempty"`
	Value *valueJSON `json:"value,omitempty"`
	Func  string     `json:"func,omitempty"`
	Args  []exprJSON `json:"args,omitempty"`
}

func encodeExpr(e Expr) (exprJSON, error) {
	switch v := e.(type) {
	case VarExpr:
		return exprJSON{Kind: "var", Index: v.Index}, nil
	case ValExpr:
		vj, err := encodeValue(v.Value)
		if err != nil {
			return exprJSON{}, err
		}
		return exprJSON{Kind: "val", Value: &vj}, nil
	case AppExpr:
		args := make([]exprJSON, len(v.Args))
		for i, a := range v.Args {
			aj, err := encodeExpr(a)
			if err != nil {
				return exprJSON{}, herrors.Wrap(herrors.Invalid, err, "app %q arg %d", v.Func, i)
			}
			args[i] = aj
		}
		return exprJSON{Kind: "app", Func: v.Func, Args: args}, nil
	default:
		return exprJSON{}, herrors.New(herrors.Internal, "unknown Expr %T", e)
	}
}

func decodeExpr(ej exprJSON, lookup func(string) (types.Type, bool)) (Expr, error) {
	switch ej.Kind {
	case "var":
		return VarExpr{Index: ej.Index}, nil
	case "val":
		if ej.Value == nil {
			return nil, herrors.New(herrors.Invalid, "val expr missing value")
		}
		v, err := decodeValue(*ej.Value, lookup)
		if err != nil {
			return nil, err
		}
		return ValExpr{Value: v}, nil
	case "app":
		args := make([]Expr, len(ej.Args))
		for i, aj := range ej.Args {
			a, err := decodeExpr(aj, lookup)
			if err != nil {
				return nil, herrors.Wrap(herrors.Invalid, err, "app %q arg %d", ej.Func, i)
			}
			args[i] = a
		}
		return AppExpr{Func: ej.Func, Args: args}, nil
	default:
		return nil, herrors.New(herrors.Invalid, "unknown expr kind %q", ej.Kind)
	}
}

type whereClauseJSON struct {
	LHS bindExprJSON `json:"lhs"`
	RHS exprJSON     `json:"rhs"`
}

type ruleJSON struct {
	Head  clauseJSON        `json:"head"`
	Body  []clauseJSON      `json:"body"`
	Where []whereClauseJSON `json:"where"`
}

// encodeRuleText renders r's head, body, and where-clauses as a textual
// descriptor, or an error if r contains a literal of an unnamed structural
// type (spec section 3's persistence contract cannot name such a type on
// reconnect).
func encodeRuleText(r *Rule) (string, error) {
	head, err := encodeClause(r.Head)
	if err != nil {
		return "", herrors.Wrap(herrors.Invalid, err, "rule %q head", r.Name)
	}
	body := make([]clauseJSON, len(r.Body))
	for i, c := range r.Body {
		cj, err := encodeClause(c)
		if err != nil {
			return "", herrors.Wrap(herrors.Invalid, err, "rule %q body clause %d", r.Name, i)
		}
		body[i] = cj
	}
	where := make([]whereClauseJSON, len(r.Where))
	for i, w := range r.Where {
		lhs, err := encodeBindExpr(w.LHS)
		if err != nil {
			return "", herrors.Wrap(herrors.Invalid, err, "rule %q where clause %d", r.Name, i)
		}
		rhs, err := encodeExpr(w.RHS)
		if err != nil {
			return "", herrors.Wrap(herrors.Invalid, err, "rule %q where clause %d", r.Name, i)
		}
		where[i] = whereClauseJSON{LHS: lhs, RHS: rhs}
	}

	b, err := json.Marshal(ruleJSON{Head: head, Body: body, Where: where})
	if err != nil {
		return "", herrors.Wrap(herrors.Internal, err, "marshal rule %q", r.Name)
	}
	return string(b), nil
}

// decodeRuleText parses a textual descriptor produced by encodeRuleText
// back into a Rule named name, resolving every literal's type through
// lookup (ordinarily Engine.GetType). It fails with herrors.NotFound if a
// literal's type has not been re-registered yet.
func decodeRuleText(name, text string, lookup func(string) (types.Type, bool)) (*Rule, error) {
	var rj ruleJSON
	if err := json.Unmarshal([]byte(text), &rj); err != nil {
		return nil, herrors.Wrap(herrors.Invalid, err, "decode rule %q descriptor", name)
	}

	head, err := decodeClause(rj.Head, lookup)
	if err != nil {
		return nil, herrors.Wrap(herrors.Invalid, err, "rule %q head", name)
	}
	body := make([]factdb.Clause, len(rj.Body))
	for i, cj := range rj.Body {
		c, err := decodeClause(cj, lookup)
		if err != nil {
			return nil, herrors.Wrap(herrors.Invalid, err, "rule %q body clause %d", name, i)
		}
		body[i] = c
	}
	where := make([]WhereClause, len(rj.Where))
	for i, wj := range rj.Where {
		lhs, err := decodeBindExpr(wj.LHS, lookup)
		if err != nil {
			return nil, herrors.Wrap(herrors.Invalid, err, "rule %q where clause %d", name, i)
		}
		rhs, err := decodeExpr(wj.RHS, lookup)
		if err != nil {
			return nil, herrors.Wrap(herrors.Invalid, err, "rule %q where clause %d", name, i)
		}
		where[i] = WhereClause{LHS: lhs, RHS: rhs}
	}

	return &Rule{Name: name, Head: head, Body: body, Where: where}, nil
}
