package memstore

import (
	"testing"

	"github.com/maurer/holmes/internal/factdb"
	"github.com/maurer/holmes/internal/factdb/factdbtest"
)

func TestConformance(t *testing.T) {
	factdbtest.Run(t, func(t *testing.T) factdb.DB {
		return New()
	})
}
