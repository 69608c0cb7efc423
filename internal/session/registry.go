// Package session keeps the ephemeral registry of authenticated clients in Redis.
//
// Three key families are maintained together:
//
//	session:<id>            JSON session record
//	user_sessions:<user_id> set of session ids
//	active_token:<jti>      session id the refresh token belongs to
//
// Every key carries the refresh-token lifetime as TTL. Mutations touching more
// than one key run under WATCH/MULTI/EXEC and are retried on contention.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/BradenHooton/lineage-auth/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	sessionPrefix     = "session:"
	userSessionPrefix = "user_sessions:"
	activeTokenPrefix = "active_token:"

	// maxTxRetries bounds optimistic transaction attempts under contention
	maxTxRetries = 4

	DefaultMaxSessions = 5
)

// Security check warnings
const (
	WarningIPChanged        = "ip_address_changed"
	WarningUserAgentChanged = "user_agent_changed"
)

// Config controls session lifetime and the per-user cap
type Config struct {
	TTL         time.Duration
	MaxSessions int
}

// Registry stores sessions in Redis
type Registry struct {
	rdb         redis.UniversalClient
	ttl         time.Duration
	maxSessions int
	logger      *slog.Logger
	now         func() time.Time
}

// NewRegistry creates a Registry. A non-positive MaxSessions falls back to DefaultMaxSessions.
func NewRegistry(rdb redis.UniversalClient, cfg Config, logger *slog.Logger) *Registry {
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Registry{
		rdb:         rdb,
		ttl:         cfg.TTL,
		maxSessions: maxSessions,
		logger:      logger,
		now:         time.Now,
	}
}

// CreateParams describes the session opened by a successful login
type CreateParams struct {
	UserID      string
	Email       string
	Role        string
	Client      models.ClientInfo
	RefreshJTI  string
	MFAVerified bool
	// MaxSessions overrides the registry cap for this user when positive
	MaxSessions int
}

// reader is satisfied by both the client and a WATCH transaction
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func sessionKey(id string) string      { return sessionPrefix + id }
func userSessionsKey(uid string) string { return userSessionPrefix + uid }
func activeTokenKey(jti string) string  { return activeTokenPrefix + jti }

// Ping reports whether Redis is reachable
func (r *Registry) Ping(ctx context.Context) error {
	return mapRedisError(r.rdb.Ping(ctx).Err())
}

// CreateSession stores a new session and indexes it by user and refresh JTI.
// Dangling ids are pruned from the user's set, and the oldest sessions are
// evicted once the user is at the cap.
func (r *Registry) CreateSession(ctx context.Context, p CreateParams) (*models.Session, error) {
	now := r.now().UTC()
	sess := &models.Session{
		SessionID:    uuid.NewString(),
		UserID:       p.UserID,
		Email:        p.Email,
		Role:         p.Role,
		IPAddress:    p.Client.IPAddress,
		UserAgent:    p.Client.UserAgent,
		RefreshJTI:   p.RefreshJTI,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(r.ttl),
		MFAVerified:  p.MFAVerified,
	}
	blob, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}

	limit := r.maxSessions
	if p.MaxSessions > 0 {
		limit = p.MaxSessions
	}
	uk := userSessionsKey(p.UserID)

	err = r.withTx(ctx, func(tx *redis.Tx) error {
		live, dangling, err := r.loadUserSessions(ctx, tx, p.UserID)
		if err != nil {
			return err
		}

		// oldest first
		sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
		var evicted []*models.Session
		for len(live) >= limit {
			evicted = append(evicted, live[0])
			live = live[1:]
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range dangling {
				pipe.SRem(ctx, uk, id)
			}
			for _, old := range evicted {
				removeSession(ctx, pipe, old)
			}
			pipe.Set(ctx, sessionKey(sess.SessionID), blob, r.ttl)
			pipe.SAdd(ctx, uk, sess.SessionID)
			pipe.Expire(ctx, uk, r.ttl)
			if sess.RefreshJTI != "" {
				pipe.Set(ctx, activeTokenKey(sess.RefreshJTI), sess.SessionID, r.ttl)
			}
			return nil
		})
		if err == nil {
			for _, old := range evicted {
				r.logger.Info("evicted oldest session at concurrent session cap",
					slog.String("user_id", p.UserID),
					slog.String("session_id", old.SessionID),
					slog.Int("limit", limit),
				)
			}
		}
		return err
	}, uk)
	if err != nil {
		return nil, err
	}

	return sess, nil
}

// GetSession returns the session, or models.ErrNotFound when missing or expired
func (r *Registry) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return r.getSession(ctx, r.rdb, id)
}

// GetSessionByRefreshJTI resolves the session a refresh token belongs to
func (r *Registry) GetSessionByRefreshJTI(ctx context.Context, jti string) (*models.Session, error) {
	id, err := r.rdb.Get(ctx, activeTokenKey(jti)).Result()
	if err != nil {
		return nil, mapRedisError(err)
	}
	return r.getSession(ctx, r.rdb, id)
}

// UpdateActivity refreshes last_activity. An IP change is recorded in
// previous_ip and logged as drift; it never fails the request.
func (r *Registry) UpdateActivity(ctx context.Context, id string, client models.ClientInfo) error {
	key := sessionKey(id)

	return r.withTx(ctx, func(tx *redis.Tx) error {
		sess, err := r.getSession(ctx, tx, id)
		if err != nil {
			return err
		}

		sess.LastActivity = r.now().UTC()
		if client.IPAddress != "" && client.IPAddress != sess.IPAddress {
			r.logger.Warn("session ip drift",
				slog.String("user_id", sess.UserID),
				slog.String("session_id", sess.SessionID),
				slog.String("previous_ip", sess.IPAddress),
				slog.String("current_ip", client.IPAddress),
			)
			sess.PreviousIP = sess.IPAddress
			sess.IPAddress = client.IPAddress
		}

		blob, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, redis.KeepTTL)
			return nil
		})
		return err
	}, key)
}

// ValidateSecurity compares the request's client with the session. IP and
// User-Agent mismatches are warnings; a missing or expired session is invalid.
func (r *Registry) ValidateSecurity(ctx context.Context, id, ip, userAgent string) (models.SecurityCheck, error) {
	sess, err := r.GetSession(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return models.SecurityCheck{Valid: false, Warnings: []string{}, Reason: "session not found or expired"}, nil
	}
	if err != nil {
		return models.SecurityCheck{}, err
	}

	check := models.SecurityCheck{Valid: true, Warnings: []string{}}
	if ip != "" && ip != sess.IPAddress {
		check.Warnings = append(check.Warnings, WarningIPChanged)
	}
	if userAgent != "" && userAgent != sess.UserAgent {
		check.Warnings = append(check.Warnings, WarningUserAgentChanged)
	}
	return check, nil
}

// RevokeSession removes the session from every index. Revoking an unknown
// session is a no-op.
func (r *Registry) RevokeSession(ctx context.Context, id string) error {
	key := sessionKey(id)

	return r.withTx(ctx, func(tx *redis.Tx) error {
		sess, err := r.getSession(ctx, tx, id)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			removeSession(ctx, pipe, sess)
			return nil
		})
		return err
	}, key)
}

// RevokeAllForUser removes every session of userID except exceptSessionID
// (when non-empty) and returns how many live sessions were removed
func (r *Registry) RevokeAllForUser(ctx context.Context, userID, exceptSessionID string) (int, error) {
	uk := userSessionsKey(userID)
	var revoked int

	err := r.withTx(ctx, func(tx *redis.Tx) error {
		live, dangling, err := r.loadUserSessions(ctx, tx, userID)
		if err != nil {
			return err
		}

		revoked = 0
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range dangling {
				pipe.SRem(ctx, uk, id)
			}
			for _, sess := range live {
				if sess.SessionID == exceptSessionID {
					continue
				}
				removeSession(ctx, pipe, sess)
				revoked++
			}
			return nil
		})
		return err
	}, uk)
	if err != nil {
		return 0, err
	}
	return revoked, nil
}

// ListActiveSessions returns redacted summaries, most recently active first
func (r *Registry) ListActiveSessions(ctx context.Context, userID string) ([]models.SessionSummary, error) {
	live, _, err := r.loadUserSessions(ctx, r.rdb, userID)
	if err != nil {
		return nil, err
	}

	sort.Slice(live, func(i, j int) bool { return live[i].LastActivity.After(live[j].LastActivity) })
	summaries := make([]models.SessionSummary, 0, len(live))
	for _, sess := range live {
		summaries = append(summaries, sess.Summary())
	}
	return summaries, nil
}

// CountActive returns the number of live sessions of userID
func (r *Registry) CountActive(ctx context.Context, userID string) (int, error) {
	live, _, err := r.loadUserSessions(ctx, r.rdb, userID)
	if err != nil {
		return 0, err
	}
	return len(live), nil
}

// RotateRefreshJTI re-points the session from oldJTI to newJTI and extends it
// to a full lifetime. It fails with models.ErrConflict when the session no
// longer references oldJTI.
func (r *Registry) RotateRefreshJTI(ctx context.Context, sessionID, oldJTI, newJTI string) error {
	key := sessionKey(sessionID)

	return r.withTx(ctx, func(tx *redis.Tx) error {
		sess, err := r.getSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if sess.RefreshJTI != oldJTI {
			return fmt.Errorf("%w: session %s no longer holds the presented refresh token", models.ErrConflict, sessionID)
		}

		now := r.now().UTC()
		sess.RefreshJTI = newJTI
		sess.LastActivity = now
		sess.ExpiresAt = now.Add(r.ttl)
		blob, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("failed to encode session: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, r.ttl)
			pipe.Del(ctx, activeTokenKey(oldJTI))
			pipe.Set(ctx, activeTokenKey(newJTI), sessionID, r.ttl)
			pipe.Expire(ctx, userSessionsKey(sess.UserID), r.ttl)
			return nil
		})
		return err
	}, key)
}

// removeSession queues deletion of a session from all three indices
func removeSession(ctx context.Context, pipe redis.Pipeliner, sess *models.Session) {
	pipe.Del(ctx, sessionKey(sess.SessionID))
	if sess.RefreshJTI != "" {
		pipe.Del(ctx, activeTokenKey(sess.RefreshJTI))
	}
	pipe.SRem(ctx, userSessionsKey(sess.UserID), sess.SessionID)
}

// withTx runs fn under WATCH on keys, retrying when a watched key changes
func (r *Registry) withTx(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := r.rdb.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return mapRedisError(err)
	}
	return fmt.Errorf("%w: session registry contention on %v", models.ErrUnavailable, keys)
}

func (r *Registry) getSession(ctx context.Context, c reader, id string) (*models.Session, error) {
	blob, err := c.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		return nil, mapRedisError(err)
	}
	sess, ok := r.decode(id, blob)
	if !ok || !r.now().Before(sess.ExpiresAt) {
		return nil, models.ErrNotFound
	}
	return sess, nil
}

// loadUserSessions returns the live sessions of userID and the set members
// whose session key no longer exists
func (r *Registry) loadUserSessions(ctx context.Context, c reader, userID string) ([]*models.Session, []string, error) {
	ids, err := c.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, nil, mapRedisError(err)
	}
	if len(ids) == 0 {
		return nil, nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = sessionKey(id)
	}
	blobs, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, mapRedisError(err)
	}

	now := r.now()
	live := make([]*models.Session, 0, len(ids))
	var dangling []string
	for i, raw := range blobs {
		s, isString := raw.(string)
		if !isString {
			dangling = append(dangling, ids[i])
			continue
		}
		sess, ok := r.decode(ids[i], []byte(s))
		if !ok || !now.Before(sess.ExpiresAt) {
			dangling = append(dangling, ids[i])
			continue
		}
		live = append(live, sess)
	}
	return live, dangling, nil
}

func (r *Registry) decode(id string, blob []byte) (*models.Session, bool) {
	var sess models.Session
	if err := json.Unmarshal(blob, &sess); err != nil {
		r.logger.Error("corrupt session record", slog.String("session_id", id), slog.String("error", err.Error()))
		return nil, false
	}
	return &sess, true
}

// mapRedisError converts redis.Nil into models.ErrNotFound and every other
// client failure into models.ErrUnavailable. Model errors pass through.
func mapRedisError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return models.ErrNotFound
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrConflict), errors.Is(err, models.ErrUnavailable):
		return err
	default:
		return fmt.Errorf("%w: %v", models.ErrUnavailable, err)
	}
}
