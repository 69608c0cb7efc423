package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryLockoutStore applies the same threshold rule as the SQL store
type memoryLockoutStore struct {
	attempts    int
	lockedUntil *time.Time
}

func (s *memoryLockoutStore) RecordFailedLogin(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	s.attempts++
	if s.attempts >= threshold {
		until := now.Add(lockFor)
		s.lockedUntil = &until
	}
	return s.attempts, s.lockedUntil, nil
}

func (s *memoryLockoutStore) ResetFailedLogins(ctx context.Context, id string) error {
	s.attempts = 0
	s.lockedUntil = nil
	return nil
}

func TestLockoutPolicy_LocksAtThreshold(t *testing.T) {
	store := &memoryLockoutStore{}
	policy := NewLockoutPolicy(store, 3, 15*time.Minute, discardLogger(), testAuditLogger())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy.now = func() time.Time { return now }

	user := &models.User{ID: "user_123"}

	for i := 0; i < 2; i++ {
		require.NoError(t, policy.RecordFailure(context.Background(), user, testClient))
		user.LockedUntil = store.lockedUntil
		assert.NoError(t, policy.CheckLock(user), "attempt %d must not lock", i+1)
	}

	require.NoError(t, policy.RecordFailure(context.Background(), user, testClient))
	user.LockedUntil = store.lockedUntil

	err := policy.CheckLock(user)
	require.ErrorIs(t, err, models.ErrAccountLocked)
	var locked *models.AccountLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, now.Add(15*time.Minute), locked.Until)
}

func TestLockoutPolicy_LockExpires(t *testing.T) {
	policy := NewLockoutPolicy(&memoryLockoutStore{}, 3, 15*time.Minute, discardLogger(), testAuditLogger())
	until := time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC)
	user := &models.User{ID: "user_123", LockedUntil: &until}

	policy.now = func() time.Time { return until.Add(-time.Second) }
	assert.Error(t, policy.CheckLock(user))

	policy.now = func() time.Time { return until }
	assert.NoError(t, policy.CheckLock(user))
}

func TestLockoutPolicy_RecordSuccessAndUnlock(t *testing.T) {
	store := &memoryLockoutStore{attempts: 4}
	policy := NewLockoutPolicy(store, 5, time.Minute, discardLogger(), testAuditLogger())

	require.NoError(t, policy.RecordSuccess(context.Background(), &models.User{ID: "user_123"}))
	assert.Zero(t, store.attempts)

	until := time.Now().Add(time.Hour)
	store.attempts, store.lockedUntil = 5, &until
	require.NoError(t, policy.Unlock(context.Background(), "user_123"))
	assert.Zero(t, store.attempts)
	assert.Nil(t, store.lockedUntil)
}

func TestLockoutPolicy_StoreFailurePropagates(t *testing.T) {
	users := &MockUserRepository{
		RecordFailedLoginFunc: func(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
			return 0, nil, models.ErrUnavailable
		},
	}
	policy := NewLockoutPolicy(users, 5, time.Minute, discardLogger(), testAuditLogger())

	err := policy.RecordFailure(context.Background(), &models.User{ID: "user_123"}, testClient)
	assert.ErrorIs(t, err, models.ErrUnavailable)
}
