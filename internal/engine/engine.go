package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/logging"
	"github.com/maurer/holmes/internal/scheduler"
	"github.com/maurer/holmes/internal/types"
)

// ruleEntry is a registered rule plus the persistent cache its body
// fingerprints are checked and recorded against.
type ruleEntry struct {
	id      scheduler.RuleID
	rule    *Rule
	cacheID factdb.CacheId
}

// Engine is Holmes's Engine Core: the predicate registry mirror, function
// registry, rule list indexed by body predicate, and the scheduler that
// drives cascading derivations to a fixpoint.
type Engine struct {
	db    factdb.DB
	sched *scheduler.Scheduler

	funcs map[string]*Function

	rules      map[scheduler.RuleID]*ruleEntry
	nextRuleID scheduler.RuleID
	byPred     map[string][]scheduler.RuleID
}

// New builds an Engine over an already-open factdb.DB, then rehydrates and
// re-runs every rule db.LoadRules returns, per spec section 4.4's "hydrate
// from persistence, then recompute" boot sequence (grounded on the
// teacher's WarmFromPersistence, internal/mangle/engine.go). Rehydration is
// lenient, mirroring sqlstore.loadPredicates's own skip-what-can't-resolve-yet
// idiom: a descriptor that cannot be decoded (for instance because a
// literal's type is not registered yet) is logged and skipped. A decoded
// rule is registered before its first run; if that run fails (an unknown
// predicate, or a where-clause calling a native function that is not
// registered yet, which only happens when the body already has answers),
// the failure is logged and the rule stays registered, so later
// activations run it again. Native functions are never persisted; a host
// registers them with RegFunc after New returns.
func New(db factdb.DB) (*Engine, error) {
	e := &Engine{
		db:     db,
		funcs:  make(map[string]*Function),
		rules:  make(map[scheduler.RuleID]*ruleEntry),
		byPred: make(map[string][]scheduler.RuleID),
	}
	e.sched = scheduler.New(e.runActivation)

	saved, err := db.LoadRules()
	if err != nil {
		return nil, herrors.Wrap(herrors.Backend, err, "load persisted rules")
	}
	log := logging.Get(logging.CategoryEngine)
	for name, text := range saved {
		rule, err := decodeRuleText(name, text, e.GetType)
		if err != nil {
			log.Warnw("skipping persisted rule: cannot decode descriptor", "rule", name, "err", err)
			continue
		}
		if err := e.newRule(rule, false); err != nil {
			log.Warnw("skipping persisted rule: cannot rehydrate", "rule", name, "err", err)
		}
	}
	return e, nil
}

// LimitTime installs a wall-clock deadline consulted by Quiesce, per spec
// section 4.4.
func (e *Engine) LimitTime(d time.Duration) {
	e.sched.SetDeadline(d)
}

// Quiesce drains the scheduler's queue to a fixpoint or until the
// installed deadline elapses.
func (e *Engine) Quiesce(ctx context.Context) error {
	return e.sched.Quiesce(ctx)
}

// AddType registers a user type, delegating to FactDB.
func (e *Engine) AddType(t types.Type) error {
	return e.db.AddType(t)
}

// GetType looks up a registered type by name, delegating to FactDB.
func (e *Engine) GetType(name string) (types.Type, bool) {
	return e.db.GetType(name)
}

// NewPredicate forwards to FactDB, rejecting an empty field list per spec
// section 4.4.
func (e *Engine) NewPredicate(p factdb.Predicate) error {
	if len(p.Fields) == 0 {
		return herrors.New(herrors.Invalid, "predicate %q must declare at least one field", p.Name)
	}
	return e.db.NewPredicate(p)
}

// NewFact validates and inserts f; on a new insertion it cascades by
// enqueuing every rule registered under f.Pred, snapshotting the rule
// list before cascading so a where-function registering new rules
// (which it cannot, per the pure-function ABI) would not affect this
// cascade.
func (e *Engine) NewFact(f factdb.Fact) error {
	pred, ok := e.db.GetPredicate(f.Pred)
	if !ok {
		return herrors.New(herrors.NotFound, "predicate %q is not registered", f.Pred)
	}
	if len(f.Args) != len(pred.Fields) {
		return herrors.New(herrors.TypeMismatch, "predicate %q expects %d args, got %d", f.Pred, len(pred.Fields), len(f.Args))
	}
	for i, arg := range f.Args {
		if !arg.Type().Equal(pred.Fields[i].Type) {
			return herrors.New(herrors.TypeMismatch, "predicate %q field %d: expected %v, got %v", f.Pred, i, pred.Fields[i].Type, arg.Type())
		}
	}

	isNew, _, err := e.db.InsertFact(f)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}

	ids := append([]scheduler.RuleID(nil), e.byPred[f.Pred]...)
	for _, id := range ids {
		e.sched.Enqueue(id)
	}
	return nil
}

// NewRule registers r: indexes it by every body-clause predicate,
// provisions its cache, persists its textual descriptor, and immediately
// runs it once against existing facts, per spec section 4.4. An unnamed
// rule is assigned a generated name so log lines, cache tables, and the
// persisted descriptor always have a stable identifier.
func (e *Engine) NewRule(r *Rule) error {
	return e.newRule(r, true)
}

// newRule is NewRule's shared implementation. persist is false only during
// boot rehydration (New), where the rule's descriptor is already sitting
// in the backend and re-saving it would duplicate it (sqlstore's rules
// table has no uniqueness constraint on name).
func (e *Engine) newRule(r *Rule, persist bool) error {
	if r.Name == "" {
		r.Name = uuid.NewString()
	}
	bodyPreds := make([]string, len(r.Body))
	for i, c := range r.Body {
		bodyPreds[i] = c.Pred
	}
	for _, slot := range r.Head.Slots {
		switch slot.(type) {
		case factdb.Var, factdb.Const:
		default:
			return herrors.New(herrors.Invalid, "rule %q: head slots must be Var or Const", r.Name)
		}
	}

	if persist {
		text, err := encodeRuleText(r)
		if err != nil {
			log := logging.Get(logging.CategoryEngine)
			log.Warnw("rule will not survive a reboot: cannot serialize descriptor", "rule", r.Name, "err", err)
		} else if err := e.db.SaveRule(r.Name, text); err != nil {
			return herrors.Wrap(herrors.Backend, err, "persist rule %q", r.Name)
		}
	}

	cacheID, err := e.db.NewRuleCache(bodyPreds)
	if err != nil {
		return err
	}

	e.nextRuleID++
	id := e.nextRuleID
	entry := &ruleEntry{id: id, rule: r, cacheID: cacheID}
	e.rules[id] = entry
	for _, p := range bodyPreds {
		e.byPred[p] = append(e.byPred[p], id)
	}

	return e.runActivation(context.Background(), id)
}

// Derive delegates to search_facts with no cache filter and returns only
// the bindings, per spec section 4.4.
func (e *Engine) Derive(body []factdb.Clause) ([][]types.Value, error) {
	results, err := e.db.SearchFacts(body, nil)
	if err != nil {
		return nil, err
	}
	out := make([][]types.Value, len(results))
	for i, r := range results {
		out[i] = r.Bindings
	}
	return out, nil
}

// RegFunc registers fn under its own name. Re-registration is an error,
// per the Open Question decision recorded in DESIGN.md.
func (e *Engine) RegFunc(fn *Function) error {
	if _, exists := e.funcs[fn.Name]; exists {
		return herrors.New(herrors.Invalid, "function %q is already registered", fn.Name)
	}
	e.funcs[fn.Name] = fn
	return nil
}

func (e *Engine) runActivation(ctx context.Context, id scheduler.RuleID) error {
	entry, ok := e.rules[id]
	if !ok {
		return herrors.New(herrors.Internal, "scheduler activated unknown rule id %d", id)
	}
	return e.runRule(entry)
}
