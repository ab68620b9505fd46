package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authflow/kv"
)

// ErrResetSessionExpired is returned when saving a session that has already
// expired.
var ErrResetSessionExpired = errors.New("reset session expired")

// ResetSession is the short-lived authorization to change a password that a
// confirmed recovery code yields.
type ResetSession struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the session can still authorize a reset at now.
func (r *ResetSession) Valid(now time.Time) bool {
	return r != nil && r.Token != "" && now.Before(r.ExpiresAt)
}

// ResetSessionStore keeps the reset session in the session-scoped store.
type ResetSessionStore struct {
	kv     kv.Store
	prefix string
	now    func() time.Time
}

// NewResetSessionStore creates a store over a session-scoped kv.Store.
func NewResetSessionStore(store kv.Store, prefix string, now func() time.Time) *ResetSessionStore {
	if prefix == "" {
		prefix = "authflow"
	}
	if now == nil {
		now = time.Now
	}
	return &ResetSessionStore{
		kv:     store,
		prefix: prefix,
		now:    now,
	}
}

func (s *ResetSessionStore) key(flowID string) string {
	return s.prefix + ":reset-session:" + flowID
}

// Save stores session with a TTL matching its remaining lifetime.
func (s *ResetSessionStore) Save(ctx context.Context, flowID string, session ResetSession) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrResetSessionExpired
	}

	encoded, err := encodeResetSession(&session)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key(flowID), encoded, ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Load returns the held session or nil. Expired or unreadable sessions are
// deleted and reported as absent.
func (s *ResetSessionStore) Load(ctx context.Context, flowID string) (*ResetSession, error) {
	data, err := s.kv.Get(ctx, s.key(flowID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	session, err := decodeResetSession(data)
	if err != nil || !session.Valid(s.now()) {
		if clearErr := s.Clear(ctx, flowID); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}
	return session, nil
}

// Clear removes the session.
func (s *ResetSessionStore) Clear(ctx context.Context, flowID string) error {
	if err := s.kv.Delete(ctx, s.key(flowID)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
