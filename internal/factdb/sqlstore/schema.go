package sqlstore

import (
	"database/sql"
	"fmt"

	"github.com/maurer/holmes/internal/logging"
)

// bootstrap creates the metadata tables every Holmes database needs:
// predicates (the predicate field map), rules (serialized rule text), and
// rule_caches (the allocator of cache ids and their body predicates),
// matching spec section 6's storage schema. Grounded on the teacher's
// internal/store/local_core.go initialize() step: idempotent
// CREATE TABLE IF NOT EXISTS statements run once at open time.
func bootstrap(db *sql.DB, d Dialect) error {
	log := logging.Get(logging.CategoryFactDB)
	log.Debug("bootstrapping metadata tables")

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s TEXT NOT NULL,
			%s INTEGER NOT NULL,
			%s TEXT NOT NULL,
			PRIMARY KEY (%s, %s)
		)`, d.Quote("predicates"),
			d.Quote("pred_name"), d.Quote("ordinal"), d.Quote("type"),
			d.Quote("pred_name"), d.Quote("ordinal")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s,
			%s TEXT NOT NULL
		)`, d.Quote("rules"), d.AutoIncrementPK(), d.Quote("rule")),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			%s,
			%s TEXT NOT NULL
		)`, d.Quote("rule_caches"), d.AutoIncrementPK(), d.Quote("body_predicates")),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("bootstrap metadata: %w", err)
		}
	}
	return nil
}
