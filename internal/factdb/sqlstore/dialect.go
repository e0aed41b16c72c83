package sqlstore

import "fmt"

// Dialect hides the handful of syntax differences between the
// database/sql drivers sqlstore supports: sqlite3 (mattn/go-sqlite3, the
// default), sqlite (modernc.org/sqlite, pure Go), and mysql
// (go-sql-driver/mysql). All three share "?" placeholders, which keeps the
// query compiler (compile.go) driver-agnostic; only DDL and upsert syntax
// differ.
type Dialect interface {
	// DriverName is the database/sql driver name to pass to sql.Open.
	DriverName() string
	// Quote wraps an identifier in the dialect's quoting syntax.
	Quote(ident string) string
	// AutoIncrementPK returns the column definition for a single-column
	// auto-incrementing integer primary key named "id".
	AutoIncrementPK() string
	// InsertIgnore returns an INSERT statement that is a silent no-op on
	// a uniqueness conflict, used for idempotent cache-hit recording.
	InsertIgnore(table string, cols []string) string
}

func dialectFor(driver string) (Dialect, error) {
	switch driver {
	case "sqlite3", "":
		return sqliteDialect{driver: "sqlite3"}, nil
	case "sqlite":
		return sqliteDialect{driver: "sqlite"}, nil
	case "mysql":
		return mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

// sqliteDialect serves both sqlite drivers; driver is the database/sql
// name ("sqlite3" for mattn, "sqlite" for modernc), empty meaning "sqlite3".
type sqliteDialect struct{ driver string }

func (d sqliteDialect) DriverName() string {
	if d.driver == "" {
		return "sqlite3"
	}
	return d.driver
}

func (sqliteDialect) Quote(ident string) string { return `"` + ident + `"` }

func (sqliteDialect) AutoIncrementPK() string { return "id INTEGER PRIMARY KEY AUTOINCREMENT" }

func (d sqliteDialect) InsertIgnore(table string, cols []string) string {
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)",
		d.Quote(table), joinQuoted(d, cols), placeholders(len(cols)))
}

type mysqlDialect struct{}

func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) Quote(ident string) string { return "`" + ident + "`" }

func (mysqlDialect) AutoIncrementPK() string { return "id BIGINT PRIMARY KEY AUTO_INCREMENT" }

func (d mysqlDialect) InsertIgnore(table string, cols []string) string {
	return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)",
		d.Quote(table), joinQuoted(d, cols), placeholders(len(cols)))
}

func joinQuoted(d Dialect, idents []string) string {
	out := ""
	for i, id := range idents {
		if i > 0 {
			out += ", "
		}
		out += d.Quote(id)
	}
	return out
}

func placeholders(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += ", "
		}
		out += "?"
	}
	return out
}
