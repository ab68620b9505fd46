package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authflow/kv"
)

// Stage is the persisted position of a code-sending flow.
type Stage uint8

const (
	StageIdle Stage = iota
	StageCodeSent
)

func (s Stage) String() string {
	switch s {
	case StageCodeSent:
		return "code_sent"
	default:
		return "idle"
	}
}

// ErrStoreUnavailable wraps persistence backend failures.
var ErrStoreUnavailable = errors.New("flow store unavailable")

// ThrottleRecord is the persisted resend cooldown of one flow.
type ThrottleRecord struct {
	FlowID        string
	CooldownUntil time.Time
	Stage         Stage
	// Email is the address the code was sent to. It lives under its own key
	// with the same lifetime as the cooldown.
	Email string
}

// Remaining returns cooldownUntil - now, never negative.
func (r *ThrottleRecord) Remaining(now time.Time) time.Duration {
	if r == nil {
		return 0
	}
	d := r.CooldownUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ThrottleStore persists one cooldown per flow so that a restart resumes the
// remaining wait instead of granting a fresh one.
type ThrottleStore struct {
	kv     kv.Store
	prefix string
	now    func() time.Time
}

// NewThrottleStore creates a throttle store over a persistent kv.Store.
func NewThrottleStore(store kv.Store, prefix string, now func() time.Time) *ThrottleStore {
	if prefix == "" {
		prefix = "authflow"
	}
	if now == nil {
		now = time.Now
	}
	return &ThrottleStore{
		kv:     store,
		prefix: prefix,
		now:    now,
	}
}

func (s *ThrottleStore) recordKey(flowID string) string {
	return s.prefix + ":throttle:" + flowID
}

func (s *ThrottleStore) emailKey(flowID string) string {
	return s.prefix + ":flow-email:" + flowID
}

// StartCooldown persists {now+d, CodeSent} for flowID, replacing any active
// cooldown, and records the target email when non-empty.
func (s *ThrottleStore) StartCooldown(ctx context.Context, flowID, email string, d time.Duration) (*ThrottleRecord, error) {
	if d <= 0 {
		return nil, fmt.Errorf("cooldown must be positive, got %v", d)
	}

	record := &ThrottleRecord{
		FlowID:        flowID,
		CooldownUntil: s.now().Add(d),
		Stage:         StageCodeSent,
		Email:         email,
	}

	encoded, err := encodeThrottleRecord(record)
	if err != nil {
		return nil, err
	}
	if err := s.kv.Set(ctx, s.recordKey(flowID), encoded, d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if email != "" {
		if err := s.kv.Set(ctx, s.emailKey(flowID), []byte(email), d); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	return record, nil
}

// Restore returns the active cooldown for flowID, or nil. An expired or
// unreadable record is deleted so that no stale CodeSent stage survives.
func (s *ThrottleStore) Restore(ctx context.Context, flowID string) (*ThrottleRecord, error) {
	data, err := s.kv.Get(ctx, s.recordKey(flowID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	record, err := decodeThrottleRecord(flowID, data)
	if err != nil || !record.CooldownUntil.After(s.now()) {
		if clearErr := s.Clear(ctx, flowID); clearErr != nil {
			return nil, clearErr
		}
		return nil, nil
	}

	email, err := s.kv.Get(ctx, s.emailKey(flowID))
	switch {
	case err == nil:
		record.Email = string(email)
	case errors.Is(err, kv.ErrNotFound):
	default:
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return record, nil
}

// Clear removes the cooldown and email for flowID.
func (s *ThrottleStore) Clear(ctx context.Context, flowID string) error {
	if err := s.kv.Delete(ctx, s.recordKey(flowID), s.emailKey(flowID)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func unixMilli(ms int64) time.Time {
	return time.UnixMilli(ms)
}
