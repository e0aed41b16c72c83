package herrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAndIs(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(Backend, cause, "insert fact into %s", "p")

	require.True(t, Is(err, Backend))
	require.False(t, Is(err, Internal))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "connection reset")
}

func TestNewHasNoCause(t *testing.T) {
	err := New(Invalid, "predicate name %q is empty", "")
	require.True(t, Is(err, Invalid))
	require.Nil(t, err.Unwrap())
}
