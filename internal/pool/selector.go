package pool

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sort"
	"time"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
)

// ErrNoAccountsAvailable means every known account is excluded or has no
// loadable credential. Fatal to the request.
var ErrNoAccountsAvailable = errors.New("no accounts available")

// TokenRefresher is the refresh dependency; satisfied by *token.Refresher.
type TokenRefresher interface {
	Refresh(ctx context.Context, accountID, refreshToken string) (*store.Credential, error)
}

// Selection is the per-request account choice threaded through the
// executor's retry loop. Never shared across requests.
type Selection struct {
	AccountID  string
	Credential *store.Credential
}

// Selector picks one account per request with a freshness-weighted random
// draw. The bias concentrates most traffic on the freshest token (avoiding
// parallel refreshes across instances) while the 10% weight on expired
// accounts keeps a trickle of traffic refreshing aging tokens before the
// whole pool expires at once.
type Selector struct {
	store     store.Store
	registry  *FailureRegistry
	refresher TokenRefresher
	randFn    func() float64
	now       func() time.Time
}

func NewSelector(st store.Store, registry *FailureRegistry, refresher TokenRefresher) *Selector {
	return &Selector{
		store:     st,
		registry:  registry,
		refresher: refresher,
		randFn:    rand.Float64,
		now:       time.Now,
	}
}

type candidate struct {
	id          string
	cred        *store.Credential
	minutesLeft float64
	weight      float64
}

// selectionWeight is the exact probability table, first matching rule
// wins. The weights are intentionally not normalized: renormalizing would
// change observable selection behavior, so the cumulative walk in Select
// carries a first-candidate fallback instead.
func selectionWeight(minutesLeft, maxFreshness float64) float64 {
	switch {
	case minutesLeft < 0:
		return 0.10
	case minutesLeft == maxFreshness:
		return 0.85
	case minutesLeft > 30:
		return 0.70
	case minutesLeft > 20:
		return 0.50
	case minutesLeft > 10:
		return 0.30
	case minutesLeft > 5:
		return 0.10
	default:
		return 0.05
	}
}

// Select chooses one usable account. An expired pick is refreshed
// proactively before being returned; if that refresh fails the selector
// falls back to the freshest non-expired candidate (expiry alone is not a
// quota/auth failure, so the account is not marked failed).
func (s *Selector) Select(ctx context.Context) (*Selection, error) {
	ids, err := s.store.ListAccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := s.registry.ListFailed(ctx)
	if err != nil {
		return nil, err
	}
	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
	}

	// Stable enumeration order: the KV backends return keys in scan order.
	sort.Strings(ids)

	now := s.now()
	var candidates []candidate
	for _, id := range ids {
		if failedSet[id] {
			continue
		}
		cred, err := s.store.GetCredential(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("⚠️ Skipping account %s: %v", id, err)
			}
			continue
		}
		candidates = append(candidates, candidate{
			id:          id,
			cred:        cred,
			minutesLeft: cred.MinutesLeft(now),
		})
	}
	if len(candidates) == 0 {
		return nil, ErrNoAccountsAvailable
	}

	maxFreshness := candidates[0].minutesLeft
	for _, c := range candidates[1:] {
		if c.minutesLeft > maxFreshness {
			maxFreshness = c.minutesLeft
		}
	}
	for i := range candidates {
		candidates[i].weight = selectionWeight(candidates[i].minutesLeft, maxFreshness)
	}

	picked := candidates[0]
	draw := s.randFn()
	cumulative := 0.0
	for _, c := range candidates {
		cumulative += c.weight
		if cumulative >= draw {
			picked = c
			break
		}
	}

	if picked.minutesLeft >= 0 {
		return &Selection{AccountID: picked.id, Credential: picked.cred}, nil
	}

	// Expired pick: refresh before handing it out.
	log.Printf("⚠️ Selected account %s has an expired token, refreshing proactively", picked.id)
	refreshed, err := s.refresher.Refresh(ctx, picked.id, picked.cred.RefreshToken)
	if err == nil {
		return &Selection{AccountID: picked.id, Credential: refreshed}, nil
	}
	log.Printf("⚠️ Proactive refresh for %s failed, falling back to freshest account: %v", picked.id, err)

	var fallback *candidate
	for i := range candidates {
		c := &candidates[i]
		if c.minutesLeft < 0 {
			continue
		}
		if fallback == nil || c.minutesLeft > fallback.minutesLeft {
			fallback = c
		}
	}
	if fallback == nil {
		return nil, ErrNoAccountsAvailable
	}
	return &Selection{AccountID: fallback.id, Credential: fallback.cred}, nil
}
