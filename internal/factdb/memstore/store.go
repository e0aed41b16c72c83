// Package memstore is factdb's in-memory backend: a parallel
// implementation of the same DB contract the relational sqlstore backend
// satisfies, for tests that don't want a real database. Facts are kept in
// per-predicate hashicorp/go-memdb tables (an id index and a tuple-equality
// index), mirroring the id+uniqueness shape of a SQL fact table, and
// SearchFacts evaluates the join as an explicit backtracking search over
// those tables rather than generated SQL.
package memstore

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/types"
)

type memRow struct {
	id     factdb.FactId
	values []interface{}
	key    string
}

type idIndexer struct{}

func (idIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	id, ok := args[0].(factdb.FactId)
	if !ok {
		return nil, fmt.Errorf("id index: argument must be factdb.FactId")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf, nil
}

func (i idIndexer) FromObject(raw interface{}) (bool, []byte, error) {
	row := raw.(*memRow)
	b, err := i.FromArgs(row.id)
	return true, b, err
}

type tupleIndexer struct{}

func (tupleIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	key, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("tuple index: argument must be string")
	}
	return []byte(key), nil
}

func (tupleIndexer) FromObject(raw interface{}) (bool, []byte, error) {
	row := raw.(*memRow)
	return true, []byte(row.key), nil
}

type predTable struct {
	pred    factdb.Predicate
	offsets []int // len(Fields)+1; field i occupies values[offsets[i]:offsets[i+1]]
	db      *memdb.MemDB
	nextID  factdb.FactId
}

// Store is the in-memory factdb.DB implementation.
type Store struct {
	mu     sync.Mutex
	types  *types.Registry
	preds  map[string]*predTable
	caches map[factdb.CacheId]*cacheEntry
	nextCacheID factdb.CacheId
}

type cacheEntry struct {
	bodyPredicates []string
	seen           map[string]struct{}
}

// New builds an empty in-memory store preloaded with the built-in types.
func New() *Store {
	return &Store{
		types:  types.NewRegistry(),
		preds:  make(map[string]*predTable),
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
	for i, f := range p.Fields {
		offsets[i+1] = offsets[i] + len(f.Type.Repr())
	}

	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			"facts": {
				Name: "facts",
				Indexes: map[string]*memdb.IndexSchema{
					"id":    {Name: "id", Unique: true, Indexer: idIndexer{}},
					"tuple": {Name: "tuple", Unique: true, Indexer: tupleIndexer{}},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return herrors.Wrap(herrors.Backend, err, "create table for predicate %q", p.Name)
	}

	s.preds[p.Name] = &predTable{pred: p, offsets: offsets, db: db, nextID: 1}
	return nil
}

func (s *Store) GetPredicate(name string) (factdb.Predicate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt, ok := s.preds[name]
	if !ok {
		return factdb.Predicate{}, false
	}
	return pt.pred, true
}

func rowKey(values []interface{}) string {
	var sb strings.Builder
	for _, v := range values {
		fmt.Fprintf(&sb, "%T:%v|", v, v)
	}
	return sb.String()
}

func (s *Store) InsertFact(f factdb.Fact) (bool, factdb.FactId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pt, ok := s.preds[f.Pred]
	if !ok {
		return false, 0, herrors.New(herrors.NotFound, "predicate %q is not registered", f.Pred)
	}
	if len(f.Args) != len(pt.pred.Fields) {
		return false, 0, herrors.New(herrors.TypeMismatch, "predicate %q expects %d args, got %d", f.Pred, len(pt.pred.Fields), len(f.Args))
	}

	var flat []interface{}
	for i, arg := range f.Args {
		if !arg.Type().Equal(pt.pred.Fields[i].Type) {
			return false, 0, herrors.New(herrors.TypeMismatch, "predicate %q field %d: expected %v, got %v", f.Pred, i, pt.pred.Fields[i].Type, arg.Type())
		}
		row, err := types.BindRow(pt.pred.Fields[i].Type, arg)
		if err != nil {
			return false, 0, herrors.Wrap(herrors.Internal, err, "bind field %d", i)
		}
		flat = append(flat, row...)
	}
	key := rowKey(flat)

	txn := pt.db.Txn(true)
	if existing, err := txn.First("facts", "tuple", key); err != nil {
		txn.Abort()
		return false, 0, herrors.Wrap(herrors.Backend, err, "lookup existing fact")
	} else if existing != nil {
		txn.Abort()
		return false, existing.(*memRow).id, nil
	}

	id := pt.nextID
	pt.nextID++
	row := &memRow{id: id, values: flat, key: key}
	if err := txn.Insert("facts", row); err != nil {
		txn.Abort()
		return false, 0, herrors.Wrap(herrors.Backend, err, "insert fact")
	}
	txn.Commit()
	return true, id, nil
}

func (s *Store) NewRuleCache(bodyPredicates []string) (factdb.CacheId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextCacheID++
	id := s.nextCacheID
	s.caches[id] = &cacheEntry{bodyPredicates: bodyPredicates, seen: make(map[string]struct{})}
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
		fmt.Fprintf(&sb, "%d|", id)
	}
	return sb.String()
}

// allRows returns every row currently stored for a predicate table.
func allRows(pt *predTable) ([]*memRow, error) {
	txn := pt.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get("facts", "id")
	if err != nil {
		return nil, err
	}
	var rows []*memRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*memRow))
	}
	return rows, nil
}

func (s *Store) SearchFacts(body []factdb.Clause, cache *factdb.CacheId) ([]factdb.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lookup := func(name string) (factdb.Predicate, bool) {
		pt, ok := s.preds[name]
		if !ok {
			return factdb.Predicate{}, false
		}
		return pt.pred, true
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

	clauseRows := make([][]*memRow, len(body))
	for i, clause := range body {
		pt := s.preds[clause.Pred]
		rows, err := allRows(pt)
		if err != nil {
			return nil, herrors.Wrap(herrors.Backend, err, "scan predicate %q", clause.Pred)
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
		pt := s.preds[clause.Pred]
		for _, row := range clauseRows[idx] {
			newBindings := append([]types.Value(nil), bindings...)
			ok, err := matchRow(pt, clause, row, &newBindings)
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
// satisfy the clause's constants/variable equalities.
func matchRow(pt *predTable, clause factdb.Clause, row *memRow, bindings *[]types.Value) (bool, error) {
	for si, slot := range clause.Slots {
		fieldType := pt.pred.Fields[si].Type
		seg := row.values[pt.offsets[si]:pt.offsets[si+1]]

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

// SaveRule is a no-op: memstore holds no state across a process restart,
// per spec section 6's note that the in-memory backend substitutes maps
// for the relational metadata tables without a persistence guarantee.
func (s *Store) SaveRule(name, text string) error { return nil }

// LoadRules always returns an empty set, per the no-persistence contract
// above.
func (s *Store) LoadRules() (map[string]string, error) { return map[string]string{}, nil }

func (s *Store) Close() error { return nil }
