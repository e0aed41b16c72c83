// Package holmes is the embeddable deductive database described by this
// module: a typed fact store plus a rule engine that derives new facts by
// saturating a rule set to a fixpoint.
//
// Holmes is a thin facade over internal/engine and internal/factdb, exactly
// analogous in spirit to the teacher's pkg/mangle shim but composing one
// engine and one store rather than re-exporting an entire package surface.
package holmes

import (
	"context"
	"fmt"
	"time"

	"github.com/maurer/holmes/internal/engine"
	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/factdb/manglestore"
	"github.com/maurer/holmes/internal/factdb/memstore"
	"github.com/maurer/holmes/internal/factdb/sqlstore"
	"github.com/maurer/holmes/internal/herrors"
	"github.com/maurer/holmes/internal/holmesconfig"
	"github.com/maurer/holmes/internal/logging"
	"github.com/maurer/holmes/internal/types"

	"go.uber.org/zap/zapcore"
)

// Predicate, Fact, Clause, Field, and the MatchExpr family are re-exported
// so a host never has to import internal/factdb directly.
type (
	Predicate = factdb.Predicate
	Field     = factdb.Field
	Fact      = factdb.Fact
	Clause    = factdb.Clause
	MatchExpr = factdb.MatchExpr
	Unbound   = factdb.Unbound
	Var       = factdb.Var
	Const     = factdb.Const
	SubStr    = factdb.SubStr
	Offset    = factdb.Offset
)

// Rule, Function, and the where-clause binding language are re-exported
// from internal/engine.
type (
	Rule        = engine.Rule
	Function    = engine.Function
	WhereClause = engine.WhereClause
	BindExpr    = engine.BindExpr
	Normal      = engine.Normal
	Destructure = engine.Destructure
	Iterate     = engine.Iterate
	Expr        = engine.Expr
	VarExpr     = engine.VarExpr
	ValExpr     = engine.ValExpr
	AppExpr     = engine.AppExpr
)

// Value and Type are re-exported from internal/types, along with the
// built-in type set and value constructors a host needs to build facts.
type (
	Value = types.Value
	Type  = types.Type
)

var (
	UInt64  = types.UInt64
	String  = types.String
	Bytes   = types.Bytes
	Bool    = types.Bool
	Float64 = types.Float64

	Uint64Value  = types.Uint64Value
	StringValue  = types.StringValue
	BytesValue   = types.BytesValue
	BoolValue    = types.BoolValue
	Float64Value = types.Float64Value
	TupleValue   = types.TupleValue
	ListValue    = types.ListValue
	NewTupleType = types.NewTupleType
	NewListType  = types.NewListType
)

// Is classifies err against one of herrors's Kind values (Invalid,
// TypeMismatch, NotFound, Backend, Internal, Deadline).
func Is(err error, kind herrors.Kind) bool { return herrors.Is(err, kind) }

// Kind re-exports herrors.Kind so hosts can name a class without importing
// internal/herrors.
type Kind = herrors.Kind

const (
	Invalid      = herrors.Invalid
	TypeMismatch = herrors.TypeMismatch
	NotFound     = herrors.NotFound
	Backend      = herrors.Backend
	Internal     = herrors.Internal
	Deadline     = herrors.Deadline
)

// Config is Holmes's embedding configuration, re-exported from
// internal/holmesconfig.
type Config = holmesconfig.Config

// DefaultConfig returns the default embedding configuration: an on-disk
// sqlite3 database and a warn-level logger.
func DefaultConfig() *Config { return holmesconfig.DefaultConfig() }

// LoadConfig reads a YAML configuration file written by SaveConfig (or by
// hand), layering it onto DefaultConfig.
func LoadConfig(path string) (*Config, error) { return holmesconfig.Load(path) }

// SaveConfig writes cfg as YAML to path.
func SaveConfig(path string, cfg *Config) error { return holmesconfig.Save(path, cfg) }

// Holmes composes one Engine Core with one FactDB backend, per spec
// section 4.7. A Holmes value is not safe for concurrent use by multiple
// goroutines without external synchronization, matching the single-writer
// model of section 5.
type Holmes struct {
	db     factdb.DB
	engine *engine.Engine
	blobs  *types.BlobStore
}

// New opens or creates the store named by dbDescriptor under cfg. For the
// sqlite3/sqlite/mysql drivers, dbDescriptor is used as the DSN when
// cfg.SQL.DSN is empty, letting the common case (one on-disk database per
// descriptor) skip a separate DSN field. Passing a nil cfg is equivalent to
// DefaultConfig().
func New(dbDescriptor string, cfg *Config) (*Holmes, error) {
	if cfg == nil {
		cfg = holmesconfig.DefaultConfig()
	}
	if cfg.Logging.Level != "" {
		if lvl, err := parseLevel(cfg.Logging.Level); err == nil {
			logging.SetLevel(lvl)
		}
	}

	var db factdb.DB
	switch cfg.SQL.Driver {
	case "memory":
		db = memstore.New()
	case "mangle":
		db = manglestore.New()
	default:
		dsn := cfg.SQL.DSN
		if dsn == "" {
			dsn = dbDescriptor
		}
		s, err := sqlstore.Open(cfg.SQL.Driver, dsn)
		if err != nil {
			return nil, herrors.Wrap(herrors.Backend, err, "open database %q", dbDescriptor)
		}
		db = s
	}

	e, err := engine.New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if cfg.Saturation.Deadline > 0 {
		e.LimitTime(cfg.Saturation.Deadline)
	}

	h := &Holmes{db: db, engine: e}
	if cfg.Blob.Dir != "" {
		bs, err := types.NewBlobStore(cfg.Blob.Dir, cfg.Blob.OpenHandleCacheSize)
		if err != nil {
			_ = db.Close()
			return nil, herrors.Wrap(herrors.Backend, err, "open blob store %q", cfg.Blob.Dir)
		}
		h.blobs = bs
	}
	return h, nil
}

// Destroy tears h down, dropping its backend connection. dbDescriptor is
// accepted for symmetry with New and to let future backends key
// descriptor-scoped cleanup (e.g. deleting an on-disk file) off it; the
// current backends need only close their connection.
func (h *Holmes) Destroy(dbDescriptor string) error {
	return h.db.Close()
}

// NewLargeBytesType returns the large-blob type backed by h's configured
// blob store. It returns an Invalid error if no Blob.Dir was configured.
func (h *Holmes) NewLargeBytesType() (Type, error) {
	if h.blobs == nil {
		return nil, herrors.New(herrors.Invalid, "no blob store configured")
	}
	return types.NewLargeBytesType(h.blobs), nil
}

// NewType registers a user type, delegating to the Engine Core.
func (h *Holmes) NewType(t Type) error { return h.engine.AddType(t) }

// RegType looks up a registered type by name.
func (h *Holmes) RegType(name string) (Type, bool) { return h.engine.GetType(name) }

// NewPredicate declares a predicate's schema.
func (h *Holmes) NewPredicate(p Predicate) error { return h.engine.NewPredicate(p) }

// NewFact asserts f, cascading any rules registered against its predicate.
func (h *Holmes) NewFact(f Fact) error { return h.engine.NewFact(f) }

// NewRule registers r and runs it once against facts already present.
func (h *Holmes) NewRule(r *Rule) error { return h.engine.NewRule(r) }

// Derive runs body as a one-shot query, returning every matching binding
// tuple with no caching or persistence.
func (h *Holmes) Derive(body []Clause) ([][]Value, error) { return h.engine.Derive(body) }

// RegFunc registers a native function for use in where-clauses.
func (h *Holmes) RegFunc(fn *Function) error { return h.engine.RegFunc(fn) }

// Quiesce drains the scheduler to a fixpoint or until ctx is done or the
// installed deadline elapses.
func (h *Holmes) Quiesce(ctx context.Context) error { return h.engine.Quiesce(ctx) }

// LimitTime installs a saturation wall-clock budget consulted by Quiesce.
func (h *Holmes) LimitTime(d time.Duration) { h.engine.LimitTime(d) }

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.Set(level); err != nil {
		return 0, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	return l, nil
}
