package redisclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSlotLockKey(t *testing.T) {
	doctorID := uuid.MustParse("7b0e0c1e-3c44-4f7a-9f0e-2f7b2a1d9c10")
	slot := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "lock:slot:7b0e0c1e-3c44-4f7a-9f0e-2f7b2a1d9c10:1709287200000", SlotLockKey(doctorID, slot))
	assert.Equal(t, SlotLockKey(doctorID, slot), SlotLockKey(doctorID, slot.In(time.FixedZone("X", 7200))))
}

func TestWithSlotLock_RunsAndReleases(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)

	doctorID := uuid.New()
	slot := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	key := SlotLockKey(doctorID, slot)

	ran := false
	err := locker.WithSlotLock(context.Background(), doctorID, slot, func(ctx context.Context) error {
		ran = true
		assert.True(t, mr.Exists(key))
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(key))
}

func TestWithSlotLock_HeldByAnother(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)

	doctorID := uuid.New()
	slot := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	key := SlotLockKey(doctorID, slot)
	require.NoError(t, mr.Set(key, "someone-else"))

	err := locker.WithSlotLock(context.Background(), doctorID, slot, func(ctx context.Context) error {
		t.Fatal("fn must not run without the lock")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockNotAcquired)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestWithSlotLock_ReleasesOnError(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)

	doctorID := uuid.New()
	slot := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	err := locker.WithSlotLock(context.Background(), doctorID, slot, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists(SlotLockKey(doctorID, slot)))
}

func TestWithSlotLock_DoesNotReleaseForeignToken(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 5*time.Second)

	doctorID := uuid.New()
	slot := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	key := SlotLockKey(doctorID, slot)

	err := locker.WithSlotLock(context.Background(), doctorID, slot, func(ctx context.Context) error {
		// simulate expiry and takeover while fn is still running
		mr.Del(key)
		return mr.Set(key, "new-owner")
	})
	require.NoError(t, err)

	got, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "new-owner", got)
}

func TestWithSlotLock_SetsTTL(t *testing.T) {
	mr, client := newTestClient(t)
	locker := NewRedisSlotLocker(client, 3*time.Second)

	doctorID := uuid.New()
	slot := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	err := locker.WithSlotLock(context.Background(), doctorID, slot, func(ctx context.Context) error {
		assert.Equal(t, 3*time.Second, mr.TTL(SlotLockKey(doctorID, slot)))
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		return nil
	})
	require.NoError(t, err)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = NewRedisClient(context.Background(), "127.0.0.1:1", "", "")
	assert.Error(t, err)
}
