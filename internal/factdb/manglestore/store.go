// Package manglestore is a third factdb.DB backend, alongside sqlstore and
// memstore: an in-memory store whose physical fact storage is
// github.com/google/mangle's factstore.FactStore rather than a hand-rolled
// table, wiring the teacher's own Datalog fact-store dependency into
// Holmes's storage layer.
//
// Grounded on the teacher's internal/mangle/engine.go, which keeps facts in
// a factstore.FactStore of ast.Atom values built from
// factstore.NewSimpleInMemoryStore(), inserted with store.Add(atom) and
// retrieved with store.GetFacts(ast.NewQuery(sym), cb). Holmes's own
// search/bind/substitute rule evaluator (internal/engine/bindeval.go and
// rule_exec.go) is not
// replaced: manglestore only answers SearchFacts by reading rows back out
// of the Mangle store and running them through the same backtracking join
// memstore uses, so the join semantics and the SubStr/Destructure/Iterate
// binding sublanguage are unaffected by which backend holds the rows.
package manglestore

import (
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/google/mangle/ast"
	"github.com/google/mangle/factstore"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/types"
)

type mangleRow struct {
	id     factdb.FactId
	values []interface{}
	key    string
}

// predInfo is one predicate's schema plus the bookkeeping manglestore needs
// to recover a FactId and a flat value slice from an ast.Atom read back out
// of the shared Mangle fact store, which has no notion of either.
type predInfo struct {
	pred     factdb.Predicate
	sym      ast.PredicateSym
	offsets  []int // len(Fields)+1, same convention as memstore
	colKinds []string

	keys   map[string]factdb.FactId
	nextID factdb.FactId
}

// Store is the Mangle-factstore-backed factdb.DB implementation.
type Store struct {
	mu    sync.Mutex
	types *types.Registry
	preds map[string]*predInfo
	store factstore.FactStore

	caches      map[factdb.CacheId]*cacheEntry
	nextCacheID factdb.CacheId
}

type cacheEntry struct {
	seen map[string]struct{}
}

// New builds an empty store over a fresh Mangle in-memory fact store.
func New() *Store {
	return &Store{
		types: types.NewRegistry(),
		preds: make(map[string]*predInfo),
		store: factstore.NewSimpleInMemoryStore(),

		caches: make(map[factdb.CacheId]*cacheEntry),
	}
}

func (s *Store) AddType(t types.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.types.Add(t); err != nil {
		return herrors.Wrap(herrors.Invalid, err, "add type")
	}
	return nil
}

func (s *Store) GetType(name string) (types.Type, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.types.Lookup(name)
}

func (s *Store) NewPredicate(p factdb.Predicate) error {
	if !factdb.ValidPredicateName(p.Name) {
		return herrors.New(herrors.Invalid, "predicate name %q must match [a-z_]+", p.Name)
	}
	if len(p.Fields) == 0 {
		return herrors.New(herrors.Invalid, "predicate %q must declare at least one field", p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.preds[p.Name]; ok {
		if existing.pred.Equal(p) {
			return nil
		}
		return herrors.New(herrors.TypeMismatch, "predicate %q already registered with different fields", p.Name)
	}

	offsets := make([]int, len(p.Fields)+1)
	var colKinds []string
	for i, f := range p.Fields {
		offsets[i+1] = offsets[i] + len(f.Type.Repr())
		for _, c := range f.Type.Repr() {
			colKinds = append(colKinds, c.SQLType)
		}
	}

	s.preds[p.Name] = &predInfo{
		pred:     p,
		sym:      ast.PredicateSym{Symbol: p.Name, Arity: offsets[len(p.Fields)]},
		offsets:  offsets,
		colKinds: colKinds,
		keys:     make(map[string]factdb.FactId),
		nextID:   1,
	}
	return nil
}

func (s *Store) GetPredicate(name string) (factdb.Predicate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.preds[name]
	if !ok {
		return factdb.Predicate{}, false
	}
	return pi.pred, true
}

func rowKey(values []interface{}) string {
	var sb strings.Builder
	for _, v := range values {
		sb.WriteString(keyOf(v))
		sb.WriteByte('|')
	}
	return sb.String()
}

func keyOf(v interface{}) string {
	switch x := v.(type) {
	case []byte:
		return "B:" + string(x)
	default:
		return "V:" + toKeyString(x)
	}
}

func toKeyString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		if x {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func (s *Store) InsertFact(f factdb.Fact) (bool, factdb.FactId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pi, ok := s.preds[f.Pred]
	if !ok {
		return false, 0, herrors.New(herrors.NotFound, "predicate %q is not registered", f.Pred)
	}
	if len(f.Args) != len(pi.pred.Fields) {
		return false, 0, herrors.New(herrors.TypeMismatch, "predicate %q expects %d args, got %d", f.Pred, len(pi.pred.Fields), len(f.Args))
	}

	var flat []interface{}
	for i, arg := range f.Args {
		if !arg.Type().Equal(pi.pred.Fields[i].Type) {
			return false, 0, herrors.New(herrors.TypeMismatch, "predicate %q field %d: expected %v, got %v", f.Pred, i, pi.pred.Fields[i].Type, arg.Type())
		}
		row, err := types.BindRow(pi.pred.Fields[i].Type, arg)
		if err != nil {
			return false, 0, herrors.Wrap(herrors.Internal, err, "bind field %d", i)
		}
		flat = append(flat, row...)
	}
	key := rowKey(flat)

	if id, dup := pi.keys[key]; dup {
		return false, id, nil
	}

	args := make([]ast.BaseTerm, len(flat))
	for i, v := range flat {
		c, err := columnToConstant(v, pi.colKinds[i])
		if err != nil {
			return false, 0, herrors.Wrap(herrors.Internal, err, "predicate %q arg %d", f.Pred, i)
		}
		args[i] = c
	}
	atom := ast.Atom{Predicate: pi.sym, Args: args}
	if !s.store.Add(atom) {
		return false, 0, herrors.New(herrors.Internal, "predicate %q: mangle store rejected a fact manglestore had not seen before", f.Pred)
	}

	id := pi.nextID
	pi.nextID++
	pi.keys[key] = id
	return true, id, nil
}

func (s *Store) NewRuleCache(bodyPredicates []string) (factdb.CacheId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCacheID++
	id := s.nextCacheID
	s.caches[id] = &cacheEntry{seen: make(map[string]struct{})}
	return id, nil
}

func (s *Store) CacheHit(cache factdb.CacheId, factIds []factdb.FactId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.caches[cache]
	if !ok {
		return herrors.New(herrors.NotFound, "rule cache %d does not exist", cache)
	}
	c.seen[fingerprint(factIds)] = struct{}{}
	return nil
}

func fingerprint(ids []factdb.FactId) string {
	var sb strings.Builder
	for _, id := range ids {
		sb.WriteString(strconv.FormatUint(uint64(id), 10))
		sb.WriteByte('|')
	}
	return sb.String()
}

// allRows reads every fact Mangle holds for pi's predicate back out of the
// fact store, recovering each row's FactId from the key map InsertFact
// populated (the Mangle store itself carries no identifier, only atoms).
func (s *Store) allRows(pi *predInfo) ([]*mangleRow, error) {
	var rows []*mangleRow
	err := s.store.GetFacts(ast.NewQuery(pi.sym), func(atom ast.Atom) error {
		values := make([]interface{}, len(atom.Args))
		for i, arg := range atom.Args {
			c, ok := arg.(ast.Constant)
			if !ok {
				return herrors.New(herrors.Internal, "predicate %q: stored term is not a constant", pi.pred.Name)
			}
			v, err := constantToColumn(c, pi.colKinds[i])
			if err != nil {
				return herrors.Wrap(herrors.Internal, err, "predicate %q arg %d", pi.pred.Name, i)
			}
			values[i] = v
		}
		key := rowKey(values)
		id, ok := pi.keys[key]
		if !ok {
			return herrors.New(herrors.Internal, "predicate %q: mangle store returned a fact manglestore never assigned an id to", pi.pred.Name)
		}
		rows = append(rows, &mangleRow{id: id, values: values, key: key})
		return nil
	})
	if err != nil {
		return nil, herrors.Wrap(herrors.Backend, err, "scan predicate %q", pi.pred.Name)
	}
	return rows, nil
}

func (s *Store) SearchFacts(body []factdb.Clause, cache *factdb.CacheId) ([]factdb.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lookup := func(name string) (factdb.Predicate, bool) {
		pi, ok := s.preds[name]
		if !ok {
			return factdb.Predicate{}, false
		}
		return pi.pred, true
	}
	if _, err := factdb.ValidateBody(lookup, body); err != nil {
		return nil, err
	}

	var entry *cacheEntry
	if cache != nil {
		var ok bool
		entry, ok = s.caches[*cache]
		if !ok {
			return nil, herrors.New(herrors.NotFound, "rule cache %d does not exist", *cache)
		}
	}

	clauseRows := make([][]*mangleRow, len(body))
	for i, clause := range body {
		rows, err := s.allRows(s.preds[clause.Pred])
		if err != nil {
			return nil, err
		}
		clauseRows[i] = rows
	}

	var results []factdb.SearchResult
	var search func(idx int, factIds []factdb.FactId, bindings []types.Value) error
	search = func(idx int, factIds []factdb.FactId, bindings []types.Value) error {
		if idx == len(body) {
			if entry != nil {
				if _, seen := entry.seen[fingerprint(factIds)]; seen {
					return nil
				}
			}
			fidsCopy := append([]factdb.FactId(nil), factIds...)
			bindCopy := append([]types.Value(nil), bindings...)
			results = append(results, factdb.SearchResult{FactIds: fidsCopy, Bindings: bindCopy})
			return nil
		}
		clause := body[idx]
		pi := s.preds[clause.Pred]
		for _, row := range clauseRows[idx] {
			newBindings := append([]types.Value(nil), bindings...)
			ok, err := matchRow(pi, clause, row, &newBindings)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := search(idx+1, append(factIds, row.id), newBindings); err != nil {
				return err
			}
		}
		return nil
	}
	if err := search(0, nil, nil); err != nil {
		return nil, err
	}
	return results, nil
}

// matchRow attempts to unify clause's slots against row, extending
// bindings in place. It returns false (no error) if the row does not
// satisfy the clause's constants/variable equalities. Identical in shape
// to memstore's matchRow: the join algorithm does not depend on where the
// row's values came from.
func matchRow(pi *predInfo, clause factdb.Clause, row *mangleRow, bindings *[]types.Value) (bool, error) {
	for si, slot := range clause.Slots {
		fieldType := pi.pred.Fields[si].Type
		seg := row.values[pi.offsets[si]:pi.offsets[si+1]]

		switch s := slot.(type) {
		case factdb.Unbound:
			continue
		case factdb.Const:
			v, err := fieldType.Extract(types.NewSliceCursor(append([]interface{}(nil), seg...)))
			if err != nil {
				return false, herrors.Wrap(herrors.Internal, err, "extract field %d", si)
			}
			if !v.Equal(s.Value) {
				return false, nil
			}
		case factdb.Var:
			v, err := fieldType.Extract(types.NewSliceCursor(append([]interface{}(nil), seg...)))
			if err != nil {
				return false, herrors.Wrap(herrors.Internal, err, "extract field %d", si)
			}
			if ok, err := bindVar(bindings, s.Index, v); err != nil || !ok {
				return ok, err
			}
		case factdb.SubStr:
			if len(seg) != 1 {
				return false, herrors.New(herrors.Internal, "substr slot %d: field is not a single-column bytes type", si)
			}
			b, ok := seg[0].([]byte)
			if !ok {
				return false, herrors.New(herrors.Internal, "substr slot %d: underlying column is not bytes", si)
			}
			lo, err := resolveOffset(*bindings, s.Lo)
			if err != nil {
				return false, err
			}
			hi, err := resolveOffset(*bindings, s.Hi)
			if err != nil {
				return false, err
			}
			if lo < 0 || hi > len(b) || lo > hi {
				return false, nil
			}
			sub := append([]byte(nil), b[lo:hi]...)
			if ok, err := bindVar(bindings, s.Var, types.BytesValue(sub)); err != nil || !ok {
				return ok, err
			}
		default:
			return false, herrors.New(herrors.Internal, "unknown MatchExpr %T", slot)
		}
	}
	return true, nil
}

func resolveOffset(bindings []types.Value, off factdb.Offset) (int, error) {
	if !off.IsVar {
		return off.Literal, nil
	}
	if off.VarIdx >= len(bindings) {
		return 0, herrors.New(herrors.Internal, "substring offset references unbound variable %d", off.VarIdx)
	}
	u, ok := bindings[off.VarIdx].Raw().(uint64)
	if !ok {
		return 0, herrors.New(herrors.TypeMismatch, "substring offset variable %d is not uint64", off.VarIdx)
	}
	return int(u), nil
}

func bindVar(bindings *[]types.Value, idx int, v types.Value) (bool, error) {
	switch {
	case idx == len(*bindings):
		*bindings = append(*bindings, v)
		return true, nil
	case idx < len(*bindings):
		return (*bindings)[idx].Equal(v), nil
	default:
		return false, herrors.New(herrors.Internal, "variable %d used before it is bound", idx)
	}
}

// columnToConstant converts one flat column value (always int64, string,
// []byte, bool, or float64, per types/structural.go's gob registrations)
// into the ast.Constant kind matching Holmes's column type, following the
// teacher's convertValueToTypedTerm conversion table. BLOB columns are
// carried as ast.String, since the corpus never exercises mangle's byte
// constant constructor; the SQLType kind recorded at NewPredicate time is
// what recovers the []byte on the way back out.
func columnToConstant(v interface{}, kind string) (ast.BaseTerm, error) {
	switch kind {
	case "INTEGER":
		iv, ok := v.(int64)
		if !ok {
			return nil, herrors.New(herrors.Internal, "INTEGER column holds %T, not int64", v)
		}
		return ast.Number(iv), nil
	case "DOUBLE":
		fv, ok := v.(float64)
		if !ok {
			return nil, herrors.New(herrors.Internal, "DOUBLE column holds %T, not float64", v)
		}
		return ast.Float64(fv), nil
	case "TEXT":
		sv, ok := v.(string)
		if !ok {
			return nil, herrors.New(herrors.Internal, "TEXT column holds %T, not string", v)
		}
		return ast.String(sv), nil
	case "BLOB":
		bv, ok := v.([]byte)
		if !ok {
			return nil, herrors.New(herrors.Internal, "BLOB column holds %T, not []byte", v)
		}
		return ast.String(string(bv)), nil
	case "BOOLEAN":
		bv, ok := v.(bool)
		if !ok {
			return nil, herrors.New(herrors.Internal, "BOOLEAN column holds %T, not bool", v)
		}
		if bv {
			return ast.TrueConstant, nil
		}
		return ast.FalseConstant, nil
	default:
		return nil, herrors.New(herrors.Internal, "unknown column kind %q", kind)
	}
}

// constantToColumn is columnToConstant's inverse, decoding an ast.Constant
// read back out of the Mangle store. The Float64 decode mirrors the
// teacher's constantToInterface, which recovers a float from NumValue via
// math.Float64frombits.
func constantToColumn(c ast.Constant, kind string) (interface{}, error) {
	switch kind {
	case "INTEGER":
		if c.Type != ast.NumberType {
			return nil, herrors.New(herrors.Internal, "INTEGER column holds constant type %v, not NumberType", c.Type)
		}
		return c.NumValue, nil
	case "DOUBLE":
		if c.Type != ast.Float64Type {
			return nil, herrors.New(herrors.Internal, "DOUBLE column holds constant type %v, not Float64Type", c.Type)
		}
		return math.Float64frombits(uint64(c.NumValue)), nil
	case "TEXT":
		if c.Type != ast.StringType {
			return nil, herrors.New(herrors.Internal, "TEXT column holds constant type %v, not StringType", c.Type)
		}
		return c.Symbol, nil
	case "BLOB":
		if c.Type != ast.StringType {
			return nil, herrors.New(herrors.Internal, "BLOB column holds constant type %v, not StringType", c.Type)
		}
		return []byte(c.Symbol), nil
	case "BOOLEAN":
		switch c {
		case ast.TrueConstant:
			return true, nil
		case ast.FalseConstant:
			return false, nil
		default:
			return nil, herrors.New(herrors.Internal, "BOOLEAN column holds unrecognized constant %v", c)
		}
	default:
		return nil, herrors.New(herrors.Internal, "unknown column kind %q", kind)
	}
}

// SaveRule is a no-op: manglestore, like memstore, holds no state across a
// process restart, so there is nothing to persist a rule descriptor into.
func (s *Store) SaveRule(name, text string) error { return nil }

// LoadRules always returns an empty set, per the no-persistence contract
// above.
func (s *Store) LoadRules() (map[string]string, error) { return map[string]string{}, nil }

func (s *Store) Close() error { return nil }
