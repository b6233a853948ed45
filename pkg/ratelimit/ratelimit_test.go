package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSlidingWindowAdmitsUpToLimit(t *testing.T) {
	w := New(3, time.Minute)
	require.NoError(t, w.Acquire())
	require.NoError(t, w.Acquire())
	require.NoError(t, w.Acquire())
	require.Error(t, w.Acquire())
}

func TestSlidingWindowEvictsExpired(t *testing.T) {
	fakeNow := time.Now()
	w := New(1, time.Second)
	w.now = func() time.Time { return fakeNow }

	require.NoError(t, w.Acquire())
	require.Error(t, w.Acquire())

	fakeNow = fakeNow.Add(2 * time.Second)
	require.NoError(t, w.Acquire())
}

func TestRemainingReflectsEviction(t *testing.T) {
	fakeNow := time.Now()
	w := New(2, time.Minute)
	w.now = func() time.Time { return fakeNow }
	require.Equal(t, 2, w.Remaining())
	require.NoError(t, w.Acquire())
	require.Equal(t, 1, w.Remaining())

	fakeNow = fakeNow.Add(2 * time.Minute)
	require.Equal(t, 2, w.Remaining())
}
