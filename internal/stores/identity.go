package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authflow/kv"
)

// IdentityStore keeps the signed-in email in the session-scoped store for
// display. Passwords and tokens never pass through it.
type IdentityStore struct {
	kv  kv.Store
	key string
}

// NewIdentityStore creates an identity store.
func NewIdentityStore(store kv.Store, prefix string) *IdentityStore {
	if prefix == "" {
		prefix = "authflow"
	}
	return &IdentityStore{kv: store, key: prefix + ":session:email"}
}

func (s *IdentityStore) SaveEmail(ctx context.Context, email string) error {
	if err := s.kv.Set(ctx, s.key, []byte(email), 0); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Email returns the stored email or "" when none is held.
func (s *IdentityStore) Email(ctx context.Context) (string, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return string(data), nil
}

func (s *IdentityStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
