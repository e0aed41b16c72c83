// Package sqlstore is factdb's relational backend: one fact table per
// predicate, one cache table per rule, and metadata tables for the
// predicate field map and serialized rule text, per spec section 6.
//
// Grounded on the teacher's internal/store/local_core.go (database/sql
// connection setup, PRAGMA tuning, idempotent schema bootstrap) and
// internal/store/migrations.go (versioned, idempotent migrations),
// generalized from a single sqlite-only store to a driver-parametric one
// (sqlite3, sqlite, mysql) behind the Dialect abstraction.
package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/logging"
	"github.com/maurer/holmes/internal/types"
)

// predInfo caches a registered predicate's schema so InsertFact and the
// query compiler don't re-look it up per call.
type predInfo struct {
	pred factdb.Predicate
}

// Store is the relational factdb.DB implementation.
type Store struct {
	mu      sync.Mutex
	db      *sql.DB
	dialect Dialect
	types   *types.Registry
	preds   map[string]*predInfo
}

// Open opens (creating if needed) a relational factdb store. driver is one
// of "sqlite3", "sqlite", "mysql"; dsn is the database/sql data source
// name for that driver.
func Open(driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, herrors.Wrap(herrors.Invalid, err, "open factdb")
	}

	log := logging.Get(logging.CategoryFactDB)
	log.Infow("opening factdb", "driver", d.DriverName(), "dsn", dsn)

	db, err := sql.Open(d.DriverName(), dsn)
	if err != nil {
		return nil, herrors.Wrap(herrors.Backend, err, "open database")
	}
	if d.DriverName() == "sqlite3" || d.DriverName() == "sqlite" {
		// A single writer connection avoids SQLITE_BUSY without needing
		// a busy-timeout retry loop; Holmes is single-writer by design
		// (spec section 5).
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			log.Debugw("set busy_timeout failed", "err", err)
		}
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			log.Debugw("set journal_mode failed", "err", err)
		}
	}

	if err := bootstrap(db, d); err != nil {
		db.Close()
		return nil, herrors.Wrap(herrors.Backend, err, "bootstrap schema")
	}

	s := &Store{
		db:      db,
		dialect: d,
		types:   types.NewRegistry(),
		preds:   make(map[string]*predInfo),
	}
	if err := s.loadPredicates(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// loadPredicates reconstructs the in-memory predicate field map from the
// predicates metadata table on reopen. Per spec's Non-goals, user types
// are not persisted, so a field whose type name isn't yet registered in
// this process is skipped (the predicate becomes usable again once its
// types are re-registered).
func (s *Store) loadPredicates() error {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT %s, %s, %s FROM %s ORDER BY %s, %s`,
		s.dialect.Quote("pred_name"), s.dialect.Quote("ordinal"), s.dialect.Quote("type"),
		s.dialect.Quote("predicates"), s.dialect.Quote("pred_name"), s.dialect.Quote("ordinal")))
	if err != nil {
		return herrors.Wrap(herrors.Backend, err, "load predicates")
	}
	defer rows.Close()

	order := make([]string, 0)
	fields := make(map[string][]factdb.Field)
	for rows.Next() {
		var name, typeName string
		var ordinal int
		if err := rows.Scan(&name, &ordinal, &typeName); err != nil {
			return herrors.Wrap(herrors.Backend, err, "scan predicate metadata")
		}
		t, ok := s.types.Lookup(typeName)
		if !ok {
			continue
		}
		if _, seen := fields[name]; !seen {
			order = append(order, name)
		}
		fields[name] = append(fields[name], factdb.Field{Name: fmt.Sprintf("arg%d", ordinal), Type: t})
	}
	for _, name := range order {
		s.registerLoadedPredicate(factdb.Predicate{Name: name, Fields: fields[name]})
	}
	return nil
}

func (s *Store) registerLoadedPredicate(p factdb.Predicate) {
	s.preds[p.Name] = &predInfo{pred: p}
}

func (s *Store) factsTable(pred string) string { return "facts_" + pred }

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

func (s *Store) GetPredicate(name string) (factdb.Predicate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pi, ok := s.preds[name]
	if !ok {
		return factdb.Predicate{}, false
	}
	return pi.pred, true
}

// NewPredicate creates the fact table for p and persists its field map.
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

	cols, uniqueCols := s.columnDefs(p)
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s,\n\t%s,\n\tUNIQUE(%s)\n)",
		s.dialect.Quote(s.factsTable(p.Name)), s.dialect.AutoIncrementPK(), cols, uniqueCols)
	if _, err := s.db.Exec(ddl); err != nil {
		return herrors.Wrap(herrors.Backend, err, "create fact table for %q", p.Name)
	}

	for i, f := range p.Fields {
		name, _ := f.Type.Name()
		if name == "" {
			return herrors.New(herrors.Invalid, "predicate %q field %d: structural types cannot be persisted as a top-level field", p.Name, i)
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?)",
			s.dialect.Quote("predicates"), s.dialect.Quote("pred_name"), s.dialect.Quote("ordinal"), s.dialect.Quote("type"))
		if _, err := s.db.Exec(stmt, p.Name, i, name); err != nil {
			return herrors.Wrap(herrors.Backend, err, "persist predicate metadata for %q", p.Name)
		}
	}

	s.registerLoadedPredicate(p)
	return nil
}

func (s *Store) columnDefs(p factdb.Predicate) (cols string, uniqueCols string) {
	var colDefs, colNames []string
	for i, f := range p.Fields {
		for _, c := range f.Type.Repr() {
			colName := fmt.Sprintf("arg%d_%s", i, c.Name)
			colDefs = append(colDefs, fmt.Sprintf("%s %s", s.dialect.Quote(colName), c.SQLType))
			colNames = append(colNames, colName)
		}
	}
	cols = ""
	for i, d := range colDefs {
		if i > 0 {
			cols += ",\n\t"
		}
		cols += d
	}
	uniqueCols = joinQuoted(s.dialect, colNames)
	return cols, uniqueCols
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

	var flatCols []string
	var flatVals []interface{}
	for i, arg := range f.Args {
		if !arg.Type().Equal(pi.pred.Fields[i].Type) {
			return false, 0, herrors.New(herrors.TypeMismatch, "predicate %q field %d: expected %v, got %v", f.Pred, i, pi.pred.Fields[i].Type, arg.Type())
		}
		row, err := types.BindRow(pi.pred.Fields[i].Type, arg)
		if err != nil {
			return false, 0, herrors.Wrap(herrors.Internal, err, "bind field %d", i)
		}
		for j := range row {
			flatCols = append(flatCols, fmt.Sprintf("arg%d_%s", i, pi.pred.Fields[i].Type.Repr()[j].Name))
		}
		flatVals = append(flatVals, row...)
	}

	table := s.factsTable(f.Pred)
	where := make([]string, len(flatCols))
	for i, c := range flatCols {
		where[i] = fmt.Sprintf("%s = ?", s.dialect.Quote(c))
	}
	selectStmt := fmt.Sprintf("SELECT id FROM %s WHERE %s", s.dialect.Quote(table), joinAnd(where))
	var existingID int64
	err := s.db.QueryRow(selectStmt, flatVals...).Scan(&existingID)
	if err == nil {
		return false, factdb.FactId(existingID), nil
	}
	if err != sql.ErrNoRows {
		return false, 0, herrors.Wrap(herrors.Backend, err, "lookup existing fact for %q", f.Pred)
	}

	insertStmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.dialect.Quote(table), joinQuoted(s.dialect, flatCols), placeholders(len(flatCols)))
	res, err := s.db.Exec(insertStmt, flatVals...)
	if err != nil {
		return false, 0, herrors.Wrap(herrors.Backend, err, "insert fact into %q", f.Pred)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, 0, herrors.Wrap(herrors.Backend, err, "read inserted id for %q", f.Pred)
	}
	return true, factdb.FactId(id), nil
}

func joinAnd(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

func (s *Store) NewRuleCache(bodyPredicates []string) (factdb.CacheId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)",
		s.dialect.Quote("rule_caches"), s.dialect.Quote("body_predicates")), strings.Join(bodyPredicates, ","))
	if err != nil {
		return 0, herrors.Wrap(herrors.Backend, err, "allocate cache id")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, herrors.Wrap(herrors.Backend, err, "read allocated cache id")
	}
	cacheID := factdb.CacheId(id)

	var cols []string
	for i := range bodyPredicates {
		cols = append(cols, fmt.Sprintf("id%d INTEGER NOT NULL", i))
	}
	var colNames []string
	for i := range bodyPredicates {
		colNames = append(colNames, fmt.Sprintf("id%d", i))
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s,\n\tPRIMARY KEY (%s)\n)",
		s.dialect.Quote(cacheTableName(cacheID)), joinDefs(cols), joinQuoted(s.dialect, colNames))
	if _, err := s.db.Exec(ddl); err != nil {
		return 0, herrors.Wrap(herrors.Backend, err, "create cache table")
	}
	return cacheID, nil
}

func joinDefs(defs []string) string {
	out := ""
	for i, d := range defs {
		if i > 0 {
			out += ",\n\t"
		}
		out += d
	}
	return out
}

func cacheTableName(id factdb.CacheId) string { return fmt.Sprintf("cache_rule%d", id) }

func (s *Store) CacheHit(cache factdb.CacheId, factIds []factdb.FactId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cols []string
	var vals []interface{}
	for i, id := range factIds {
		cols = append(cols, fmt.Sprintf("id%d", i))
		vals = append(vals, int64(id))
	}
	stmt := s.dialect.InsertIgnore(cacheTableName(cache), cols)
	if _, err := s.db.Exec(stmt, vals...); err != nil {
		return herrors.Wrap(herrors.Backend, err, "record cache hit")
	}
	return nil
}

// SaveRule persists a rule's textual descriptor, per spec section 3's
// "rules persist as textual descriptors" lifecycle note.
func (s *Store) SaveRule(name, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?)", s.dialect.Quote("rules"), s.dialect.Quote("rule"))
	if _, err := s.db.Exec(stmt, name+"\x00"+text); err != nil {
		return herrors.Wrap(herrors.Backend, err, "persist rule %q", name)
	}
	return nil
}

// LoadRules returns every persisted rule's name and textual descriptor.
func (s *Store) LoadRules() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s FROM %s", s.dialect.Quote("rule"), s.dialect.Quote("rules")))
	if err != nil {
		return nil, herrors.Wrap(herrors.Backend, err, "load rules")
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var packed string
		if err := rows.Scan(&packed); err != nil {
			return nil, herrors.Wrap(herrors.Backend, err, "scan rule row")
		}
		for i := 0; i < len(packed); i++ {
			if packed[i] == 0 {
				out[packed[:i]] = packed[i+1:]
				break
			}
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return herrors.Wrap(herrors.Backend, err, "close database")
	}
	return nil
}
