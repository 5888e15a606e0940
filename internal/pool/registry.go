// Package pool implements the credential pool: failure bookkeeping,
// freshness-weighted account selection, and the retry/failover policy
// that ties request execution to account health.
package pool

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
)

const resetDateLayout = "2006-01-02"

// FailureRegistry tracks accounts temporarily excluded from selection.
// The set clears itself lazily once per UTC calendar day; that daily reset
// is the only recovery path for quota-exceeded accounts (no per-entry TTL).
//
// Multiple instances may race on the reset; clearing twice is the same as
// clearing once, and a lost update readmits at most one day's failures.
type FailureRegistry struct {
	store store.Store
	now   func() time.Time
}

func NewFailureRegistry(st store.Store) *FailureRegistry {
	return &FailureRegistry{store: st, now: time.Now}
}

// resetIfStale clears the failed set when the stored reset date is not
// today (UTC). Runs before every read.
func (r *FailureRegistry) resetIfStale(ctx context.Context) error {
	today := r.now().UTC().Format(resetDateLayout)
	stored, err := r.store.GetLastResetDate(ctx)
	if err != nil {
		return fmt.Errorf("read reset date: %w", err)
	}
	if stored == today {
		return nil
	}
	if err := r.store.SetFailedSet(ctx, nil); err != nil {
		return fmt.Errorf("clear failed set: %w", err)
	}
	if err := r.store.SetLastResetDate(ctx, today); err != nil {
		return fmt.Errorf("store reset date: %w", err)
	}
	log.Printf("🔄 Failed-account set cleared for %s (was %q)", today, stored)
	return nil
}

// IsFailed reports whether an account is currently excluded.
func (r *FailureRegistry) IsFailed(ctx context.Context, accountID string) (bool, error) {
	ids, err := r.ListFailed(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == accountID {
			return true, nil
		}
	}
	return false, nil
}

// MarkFailed adds an account to the excluded set. No-op if already present.
func (r *FailureRegistry) MarkFailed(ctx context.Context, accountID string) error {
	ids, err := r.ListFailed(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == accountID {
			return nil
		}
	}
	ids = append(ids, accountID)
	if err := r.store.SetFailedSet(ctx, ids); err != nil {
		return fmt.Errorf("store failed set: %w", err)
	}
	log.Printf("🚫 Account %s marked failed (%d excluded)", accountID, len(ids))
	return nil
}

// ListFailed returns the excluded account ids after the daily reset check.
func (r *FailureRegistry) ListFailed(ctx context.Context) ([]string, error) {
	if err := r.resetIfStale(ctx); err != nil {
		return nil, err
	}
	return r.store.GetFailedSet(ctx)
}
