//go:build integration

package sqlstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/factdb/factdbtest"
)

// TestMySQLConformance runs the full backend-agnostic conformance suite
// against a real MySQL server, exercising the mysql Dialect's quoting and
// INSERT IGNORE idioms that sqlite never touches. Skipped in short mode
// since it needs a Docker daemon.
func TestMySQLConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcmysql.Run(ctx, "mysql:8.0",
		tcmysql.WithDatabase("holmes"),
		tcmysql.WithUsername("root"),
		tcmysql.WithPassword("holmes"),
	)
	require.NoError(t, err, "failed to start mysql container")
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate mysql container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err)

	factdbtest.Run(t, func(t *testing.T) factdb.DB {
		t.Helper()
		s, err := Open("mysql", dsn)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}
