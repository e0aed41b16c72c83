package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/factdb/factdbtest"
)

func TestConformance(t *testing.T) {
	factdbtest.Run(t, func(t *testing.T) factdb.DB {
		s, err := Open("sqlite3", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestDialectSelection(t *testing.T) {
	if _, err := dialectFor("postgres"); err == nil {
		t.Fatal("expected unsupported driver error")
	}
	if d, err := dialectFor("mysql"); err != nil || d.DriverName() != "mysql" {
		t.Fatalf("mysql dialect: %v, %v", d, err)
	}
}
