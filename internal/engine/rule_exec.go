package engine

import (
	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/logging"
	"github.com/maurer/holmes/internal/types"
)

// runRule executes one rule activation per spec section 4.5: search
// against the rule's cache, expand the answer set through each
// where-clause in order, then for every surviving state record the cache
// hit and assert the substituted head fact.
func (e *Engine) runRule(entry *ruleEntry) error {
	log := logging.Get(logging.CategoryEngine)

	answers, err := e.db.SearchFacts(entry.rule.Body, &entry.cacheID)
	if err != nil {
		return err
	}
	if len(answers) == 0 {
		return nil
	}
	log.Debugw("rule activation", "rule", entry.rule.Name, "answers", len(answers))

	type state struct {
		factIds  []factdb.FactId
		bindings []types.Value
	}
	states := make([]state, len(answers))
	for i, a := range answers {
		states[i] = state{factIds: a.FactIds, bindings: a.Bindings}
	}

	for _, w := range entry.rule.Where {
		var next []state
		for _, s := range states {
			rhs, err := e.eval(w.RHS, s.bindings)
			if err != nil {
				return err
			}
			expanded, err := bind(w.LHS, rhs, s.bindings)
			if err != nil {
				return err
			}
			for _, b := range expanded {
				next = append(next, state{factIds: s.factIds, bindings: b})
			}
		}
		states = next
		if len(states) == 0 {
			break
		}
	}

	for _, s := range states {
		if err := e.db.CacheHit(entry.cacheID, s.factIds); err != nil {
			return err
		}
		fact, err := substitute(entry.rule.Head, s.bindings)
		if err != nil {
			return err
		}
		if err := e.NewFact(fact); err != nil {
			return err
		}
	}
	return nil
}
