// Package factdb defines the persistent store of predicates, facts, and
// rule caches that Holmes's engine compiles rule bodies against, plus the
// conjunctive-pattern query compiler (the "query compiler inside FactDB"
// of spec section 4.3). Three implementations satisfy DB: sqlstore (a
// relational backend), memstore (an in-memory backend for tests), and
// manglestore (an in-memory backend over google/mangle's fact store).
package factdb

import (
	"regexp"

	"github.com/maurer/holmes/internal/types"
)

// FactId is a monotonic per-predicate fact identifier.
type FactId uint64

// CacheId identifies a rule's persistent body-tuple fingerprint cache.
type CacheId uint64

// predicateNamePattern is the naming rule from spec section 4.2 and 6:
// predicate names are lowercase ASCII plus underscore.
var predicateNamePattern = regexp.MustCompile(`^[a-z_]+$`)

// ValidPredicateName reports whether name meets the [a-z_]+ naming rule.
func ValidPredicateName(name string) bool {
	return name != "" && predicateNamePattern.MatchString(name)
}

// Field is one named, typed column of a predicate.
type Field struct {
	Name        string
	Type        types.Type
	Description string
}

// Predicate is a named, typed relation schema.
type Predicate struct {
	Name   string
	Fields []Field
}

// Equal reports whether p and o declare the same field types in the same
// order (field Name/Description are documentation only and do not affect
// equality, matching spec section 4.2's "identical fields" no-op rule,
// which speaks to the type list).
func (p Predicate) Equal(o Predicate) bool {
	if p.Name != o.Name || len(p.Fields) != len(o.Fields) {
		return false
	}
	for i := range p.Fields {
		if !p.Fields[i].Type.Equal(o.Fields[i].Type) {
			return false
		}
	}
	return true
}

// Fact is a predicate name plus a tuple of values matching its fields.
type Fact struct {
	Pred string
	Args []types.Value
}

// MatchExpr is one slot of a body clause: Unbound, Var, Const, or SubStr.
type MatchExpr interface {
	isMatchExpr()
}

// Unbound ignores this slot.
type Unbound struct{}

func (Unbound) isMatchExpr() {}

// Var is a de Bruijn-like variable reference: the first occurrence (by
// sequential Index) defines the variable, later occurrences equate to it.
type Var struct {
	Index int
}

func (Var) isMatchExpr() {}

// Const matches this slot against a literal value.
type Const struct {
	Value types.Value
}

func (Const) isMatchExpr() {}

// Offset is a SubStr bound: either a literal or a reference to a
// previously-bound variable.
type Offset struct {
	IsVar   bool
	VarIdx  int
	Literal int
}

// Lit builds a literal Offset.
func Lit(n int) Offset { return Offset{Literal: n} }

// VarOffset builds a variable Offset.
func VarOffset(idx int) Offset { return Offset{IsVar: true, VarIdx: idx} }

// SubStr binds Var to the substring/slice view [Lo, Hi) of a bytes-typed
// column. Lo and Hi may reference previously-bound variables.
type SubStr struct {
	Var    int
	Lo, Hi Offset
}

func (SubStr) isMatchExpr() {}

// Clause is a predicate name plus an ordered list of MatchExprs, one per
// field.
type Clause struct {
	Pred  string
	Slots []MatchExpr
}

// SearchResult is one answer from SearchFacts: the FactId of the row
// matched in each body clause (in clause order) and the values bound to
// each variable (indexed by variable number).
type SearchResult struct {
	FactIds  []FactId
	Bindings []types.Value
}

// DB is the contract a factdb backend (relational or in-memory) must
// satisfy.
type DB interface {
	// AddType registers a user type. Idempotent if t equals the prior
	// definition under the same name; otherwise an error.
	AddType(t types.Type) error
	// GetType looks up a registered type by name.
	GetType(name string) (types.Type, bool)

	// NewPredicate creates storage for p. Re-declaration with identical
	// fields is a no-op; a field mismatch is an error.
	NewPredicate(p Predicate) error
	// GetPredicate looks up a registered predicate by name.
	GetPredicate(name string) (Predicate, bool)

	// InsertFact inserts f, returning whether the row was new (uniqueness
	// by full tuple) and the FactId assigned (the existing FactId if the
	// row was a duplicate).
	InsertFact(f Fact) (isNew bool, id FactId, err error)

	// NewRuleCache provisions a cache table keyed on the ordered list of
	// body predicate names (one FactId column per body clause).
	NewRuleCache(bodyPredicates []string) (CacheId, error)

	// SearchFacts compiles body into relational joins and returns every
	// answer: the FactIds of the row matched per clause and the
	// resulting variable bindings. If cache is non-nil, answers whose
	// FactId tuple is already recorded in that cache are excluded.
	SearchFacts(body []Clause, cache *CacheId) ([]SearchResult, error)

	// CacheHit idempotently records factIds as processed under cache.
	CacheHit(cache CacheId, factIds []FactId) error

	// SaveRule persists a rule's textual descriptor under name, per spec
	// section 3's "rules persist as textual descriptors" lifecycle note.
	// Backends with no cross-process persistence (memstore, manglestore)
	// accept the call and discard it.
	SaveRule(name, text string) error
	// LoadRules returns every persisted rule's name and textual
	// descriptor, for the engine to rehydrate and re-run on reopen.
	// Backends with no cross-process persistence return an empty set.
	LoadRules() (map[string]string, error)

	// Close releases backend resources.
	Close() error
}
