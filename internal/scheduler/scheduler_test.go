package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maurer/holmes/internal/herrors"
)

func TestQuiesceDrainsQueue(t *testing.T) {
	var ran []RuleID
	s := New(func(ctx context.Context, id RuleID) error {
		ran = append(ran, id)
		return nil
	})
	s.Enqueue(1)
	s.Enqueue(2)
	s.Enqueue(1) // dedup: already pending

	require.NoError(t, s.Quiesce(context.Background()))
	require.Equal(t, []RuleID{1, 2}, ran)
	require.Equal(t, 0, s.Pending())
}

func TestQuiesceReenqueuesDuringRun(t *testing.T) {
	var ran []RuleID
	s := New(func(ctx context.Context, id RuleID) error {
		ran = append(ran, id)
		if id == 1 {
			s.Enqueue(2)
		}
		return nil
	})
	s.Enqueue(1)

	require.NoError(t, s.Quiesce(context.Background()))
	require.Equal(t, []RuleID{1, 2}, ran)
}

func TestQuiesceRespectsDeadline(t *testing.T) {
	s := New(func(ctx context.Context, id RuleID) error {
		s.Enqueue(id + 1)
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	s.SetDeadline(20 * time.Millisecond)
	s.Enqueue(0)

	err := s.Quiesce(context.Background())
	require.Error(t, err)
	require.True(t, herrors.Is(err, herrors.Deadline))
}

func TestQuiescePropagatesRunError(t *testing.T) {
	want := herrors.New(herrors.Internal, "boom")
	s := New(func(ctx context.Context, id RuleID) error {
		return want
	})
	s.Enqueue(1)

	err := s.Quiesce(context.Background())
	require.ErrorIs(t, err, want)
}
