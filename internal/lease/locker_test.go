package lease

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilLockerGrantsLocally(t *testing.T) {
	var locker *Locker
	assert.False(t, locker.Enabled())

	token, ok, err := locker.TryAcquire(context.Background(), "gigpay:sweep", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)
	assert.NoError(t, locker.Release(context.Background(), "gigpay:sweep", token))
}

func TestTryAcquireValidatesInput(t *testing.T) {
	locker := NewLocker(nil)

	_, _, err := locker.TryAcquire(context.Background(), "", time.Second)
	assert.ErrorIs(t, err, ErrEmptyKey)

	_, _, err = locker.TryAcquire(context.Background(), "k", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}
