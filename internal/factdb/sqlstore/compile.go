package sqlstore

import (
	"fmt"
	"strings"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/types"
)

// clauseLayout records, for one body clause, the SQL alias of its fact
// table and the flat raw-column names of each of its slots (parallel to
// the predicate's flattened Repr()).
type clauseLayout struct {
	clause  factdb.Clause
	pred    factdb.Predicate
	alias   string
	slotCol [][]string // slotCol[slotIdx] = flat column names for that field
}

// varOut describes how to decode one output variable's columns from a
// scanned row: either a direct Type.Extract over numCols flat columns, or
// (when subStr is set) a source-bytes column plus Lo/Hi columns sliced
// client-side.
type varOut struct {
	varIdx  int
	subStr  *factdb.SubStr
	typ     types.Type
	numCols int
}

// SearchFacts compiles body into a single SQL query joining one instance
// of each clause's fact table per spec section 4.3, and returns every
// answer.
//
// The join shape follows the spec's regression fix exactly: every
// equality this query needs — const-equality, var-equality across
// clauses, and the cache anti-join — is pushed into WHERE, and FROM is a
// plain comma-separated list of the clause aliases. Building ON conditions
// incrementally as clauses are visited left-to-right is tempting but
// wrong whenever a later clause's join key refers to a variable first
// bound by an even-later clause; putting everything in WHERE sidesteps
// alias-visibility ordering entirely.
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
	varTypes, err := factdb.ValidateBody(lookup, body)
	if err != nil {
		return nil, err
	}

	layouts := make([]clauseLayout, len(body))
	for i, clause := range body {
		pred := s.preds[clause.Pred].pred
		alias := fmt.Sprintf("c%d", i)
		slotCol := make([][]string, len(pred.Fields))
		for fi, f := range pred.Fields {
			for _, c := range f.Type.Repr() {
				slotCol[fi] = append(slotCol[fi], fmt.Sprintf("arg%d_%s", fi, c.Name))
			}
		}
		layouts[i] = clauseLayout{clause: clause, pred: pred, alias: alias, slotCol: slotCol}
	}

	var from []string
	for _, l := range layouts {
		from = append(from, fmt.Sprintf("%s AS %s", s.dialect.Quote(s.factsTable(l.clause.Pred)), l.alias))
	}

	var where []string
	var params []interface{}

	// firstOccurrence[varIdx] = (clauseIdx, slotIdx, column) of the first
	// slot binding that variable; later occurrences equate back to it
	// column by column.
	type varSite struct {
		clause, slot int
		cols         []string
	}
	firstOccurrence := make(map[int]varSite)

	for ci, l := range layouts {
		for si, slot := range l.clause.Slots {
			cols := l.slotCol[si]
			switch m := slot.(type) {
			case factdb.Unbound:
				// no constraint
			case factdb.Const:
				row, err := types.BindRow(l.pred.Fields[si].Type, m.Value)
				if err != nil {
					return nil, herrors.Wrap(herrors.Internal, err, "bind const for clause %d slot %d", ci, si)
				}
				for k, col := range cols {
					where = append(where, fmt.Sprintf("%s.%s = ?", l.alias, s.dialect.Quote(col)))
					params = append(params, row[k])
				}
			case factdb.Var:
				if site, seen := firstOccurrence[m.Index]; seen {
					for k := range cols {
						where = append(where, fmt.Sprintf("%s.%s = %s.%s",
							l.alias, s.dialect.Quote(cols[k]),
							layouts[site.clause].alias, s.dialect.Quote(site.cols[k])))
					}
				} else {
					firstOccurrence[m.Index] = varSite{clause: ci, slot: si, cols: cols}
				}
			case factdb.SubStr:
				// SubStr constrains the derived substring value, not the
				// stored column directly; the raw bytes column itself is
				// unconstrained here and the substring is computed after
				// extraction, matching memstore's post-hoc slicing. The
				// Var it binds is handled as an ordinary output column
				// below, using the clause's own bytes column as the
				// extraction source.
				if site, seen := firstOccurrence[m.Var]; seen {
					_ = site
					return nil, herrors.New(herrors.Invalid, "substring variable %d rebound at clause %d slot %d", m.Var, ci, si)
				}
				firstOccurrence[m.Var] = varSite{clause: ci, slot: si, cols: cols}
			default:
				return nil, herrors.New(herrors.Internal, "clause %d slot %d: unknown MatchExpr %T", ci, si, slot)
			}
		}
	}

	if cache != nil {
		var idCols []string
		for i := range layouts {
			idCols = append(idCols, fmt.Sprintf("%s.id", layouts[i].alias))
		}
		table := s.dialect.Quote(cacheTableName(*cache))
		cacheCols := make([]string, len(layouts))
		for i := range layouts {
			cacheCols[i] = s.dialect.Quote(fmt.Sprintf("id%d", i))
		}
		eqs := make([]string, len(layouts))
		for i := range layouts {
			eqs[i] = fmt.Sprintf("%s.%s = %s", table, cacheCols[i], idCols[i])
		}
		where = append(where, fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s WHERE %s)", table, strings.Join(eqs, " AND ")))
	}

	// Select list: each clause's fact id, then one flat value expression
	// per variable, in variable-number order. A SubStr-bound variable's
	// "expression" is its source bytes column plus the raw Lo/Hi
	// expressions, all resolved client-side after the row comes back,
	// since slicing bytes is not portable SQL across dialects.
	var selectCols []string
	for i := range layouts {
		selectCols = append(selectCols, fmt.Sprintf("%s.id", layouts[i].alias))
	}
	var varOuts []varOut
	for vi := 0; vi < len(varTypes); vi++ {
		site, ok := firstOccurrence[vi]
		if !ok {
			return nil, herrors.New(herrors.Internal, "variable %d never bound", vi)
		}
		slot := layouts[site.clause].clause.Slots[site.slot]
		if ss, isSub := slot.(factdb.SubStr); isSub {
			selectCols = append(selectCols, fmt.Sprintf("%s.%s", layouts[site.clause].alias, s.dialect.Quote(site.cols[0])))
			for _, off := range []factdb.Offset{ss.Lo, ss.Hi} {
				if off.IsVar {
					offSite := firstOccurrence[off.VarIdx]
					selectCols = append(selectCols, fmt.Sprintf("%s.%s", layouts[offSite.clause].alias, s.dialect.Quote(offSite.cols[0])))
				} else {
					selectCols = append(selectCols, "NULL")
				}
			}
			varOuts = append(varOuts, varOut{varIdx: vi, subStr: &ss, typ: varTypes[vi]})
			continue
		}
		for _, col := range site.cols {
			selectCols = append(selectCols, fmt.Sprintf("%s.%s", layouts[site.clause].alias, s.dialect.Quote(col)))
		}
		varOuts = append(varOuts, varOut{varIdx: vi, typ: varTypes[vi], numCols: len(site.cols)})
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectCols, ", "), strings.Join(from, ", "))
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, herrors.Wrap(herrors.Backend, err, "execute compiled query")
	}
	defer rows.Close()

	var results []factdb.SearchResult
	for rows.Next() {
		scanTargets := make([]interface{}, len(selectCols))
		scanPtrs := make([]interface{}, len(selectCols))
		for i := range scanTargets {
			scanPtrs[i] = &scanTargets[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return nil, herrors.Wrap(herrors.Backend, err, "scan compiled query row")
		}

		factIds := make([]factdb.FactId, len(layouts))
		for i := range layouts {
			id, err := asInt64(scanTargets[i])
			if err != nil {
				return nil, herrors.Wrap(herrors.Internal, err, "scan fact id for clause %d", i)
			}
			factIds[i] = factdb.FactId(id)
		}

		bindings, inRange, err := extractBindings(varOuts, scanTargets, len(layouts))
		if err != nil {
			return nil, err
		}
		if !inRange {
			continue
		}
		results = append(results, factdb.SearchResult{FactIds: factIds, Bindings: bindings})
	}
	if err := rows.Err(); err != nil {
		return nil, herrors.Wrap(herrors.Backend, err, "iterate compiled query rows")
	}
	return results, nil
}

// extractBindings decodes the variable-output columns of one scanned row.
// inRange is false (no error) when a SubStr bound falls outside the
// stored bytes column, matching memstore's silent row rejection for an
// out-of-range substring.
func extractBindings(varOuts []varOut, scanTargets []interface{}, idCols int) ([]types.Value, bool, error) {
	bindings := make([]types.Value, len(varOuts))
	pos := idCols
	for oi, vo := range varOuts {
		if vo.subStr != nil {
			b, ok := scanTargets[pos].([]byte)
			if !ok {
				if str, isStr := scanTargets[pos].(string); isStr {
					b = []byte(str)
				} else {
					return nil, false, herrors.New(herrors.Internal, "substring source column is not bytes")
				}
			}
			lo, err := resolveSQLOffset(vo.subStr.Lo, scanTargets[pos+1])
			if err != nil {
				return nil, false, err
			}
			hi, err := resolveSQLOffset(vo.subStr.Hi, scanTargets[pos+2])
			if err != nil {
				return nil, false, err
			}
			if lo < 0 || hi > len(b) || lo > hi {
				return nil, false, nil
			}
			bindings[oi] = types.BytesValue(append([]byte(nil), b[lo:hi]...))
			pos += 3
			continue
		}
		v, err := vo.typ.Extract(types.NewSliceCursor(scanTargets[pos : pos+vo.numCols]))
		if err != nil {
			return nil, false, herrors.Wrap(herrors.Internal, err, "extract variable %d", vo.varIdx)
		}
		bindings[oi] = v
		pos += vo.numCols
	}
	return bindings, true, nil
}

func asInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("expected integer id, got %T", v)
	}
}

func resolveSQLOffset(off factdb.Offset, scanned interface{}) (int, error) {
	if !off.IsVar {
		return off.Literal, nil
	}
	n, err := asInt64(scanned)
	if err != nil {
		return 0, fmt.Errorf("substring offset: %w", err)
	}
	return int(n), nil
}
