package services

import (
	"context"
	"fmt"
	"runtime"

	pkgauth "github.com/BradenHooton/lineage-auth/pkg/auth"
	"golang.org/x/sync/semaphore"
)

// dummyPassword is hashed once per Hasher so unknown-user logins pay the same bcrypt cost
const dummyPassword = "lineage-auth-dummy-password"

// Hasher runs bcrypt on a bounded pool so hashing cannot monopolise request goroutines
type Hasher struct {
	sem       *semaphore.Weighted
	cost      int
	dummyHash string
}

// NewHasher creates a Hasher allowing workers concurrent hash operations.
// A non-positive workers value uses GOMAXPROCS.
func NewHasher(workers, cost int) (*Hasher, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	dummy, err := pkgauth.HashPassword(dummyPassword, cost)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &Hasher{
		sem:       semaphore.NewWeighted(int64(workers)),
		cost:      cost,
		dummyHash: dummy,
	}, nil
}

// Hash hashes password once a worker slot is free
func (h *Hasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	return pkgauth.HashPassword(password, h.cost)
}

// Verify reports whether password matches hash. An error is returned only
// when ctx ends before a worker slot frees up.
func (h *Hasher) Verify(ctx context.Context, hash, password string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	return pkgauth.VerifyPassword(hash, password), nil
}

// VerifyDummy burns one comparison against a fixed hash
func (h *Hasher) VerifyDummy(ctx context.Context, password string) {
	_, _ = h.Verify(ctx, h.dummyHash, password)
}

// MatchAny returns the first hash that password matches, or "" when none does
func (h *Hasher) MatchAny(ctx context.Context, hashes []string, password string) (string, error) {
	for _, hash := range hashes {
		ok, err := h.Verify(ctx, hash, password)
		if err != nil {
			return "", err
		}
		if ok {
			return hash, nil
		}
	}
	return "", nil
}
