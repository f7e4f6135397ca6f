package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootLocksExclusive(t *testing.T) {
	l := newRootLocks()
	release, err := l.acquire(context.Background(), "R")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.acquire(ctx, "R")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.acquire(context.Background(), "S")
	require.NoError(t, err, "different roots do not block each other")
	other()

	release()
	assert.Equal(t, 0, l.held())

	again, err := l.acquire(context.Background(), "R")
	require.NoError(t, err)
	again()
}
