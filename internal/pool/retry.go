package pool

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/upstream"
)

// ErrorKind buckets a provider call failure for the retry policy.
type ErrorKind int

const (
	KindUnauthorized ErrorKind = iota
	KindQuotaExceeded
	KindProviderUnavailable
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindProviderUnavailable:
		return "provider_unavailable"
	default:
		return "other"
	}
}

// Classify maps a provider call failure to a kind. A typed upstream.Error
// carries the status observed when the response was read and wins;
// message substrings remain as fallback for transport errors that never
// produced a response.
func Classify(err error) ErrorKind {
	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		switch upErr.StatusCode {
		case http.StatusUnauthorized:
			return KindUnauthorized
		case http.StatusTooManyRequests:
			return KindQuotaExceeded
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout:
			return KindProviderUnavailable
		default:
			return KindOther
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unauthorized"):
		return KindUnauthorized
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"):
		return KindQuotaExceeded
	default:
		return KindOther
	}
}

// Decision tells the executor what to do with a failed attempt.
type Decision struct {
	Retry         bool
	ForceReselect bool
	// Refreshed is set when a 401 was recovered in place; the retry
	// reuses the same account with this credential.
	Refreshed *store.Credential
}

// RetryCoordinator applies the failure policy: refresh-in-place for a
// first 401, mark-failed for quota and unrecoverable auth errors, and at
// most one retry per logical request regardless of kind.
type RetryCoordinator struct {
	registry  *FailureRegistry
	refresher TokenRefresher
}

func NewRetryCoordinator(registry *FailureRegistry, refresher TokenRefresher) *RetryCoordinator {
	return &RetryCoordinator{registry: registry, refresher: refresher}
}

// Handle decides whether the executor retries after callErr on the given
// account. attempt is zero-based; anything past the first attempt is
// final to bound latency, but the failure bookkeeping still runs so a
// quota-exhausted or unauthorized account is excluded from later requests
// no matter which attempt exposed it.
func (c *RetryCoordinator) Handle(ctx context.Context, accountID string, cred *store.Credential, callErr error, attempt int) Decision {
	kind := Classify(callErr)
	final := attempt >= 1
	if final {
		log.Printf("❌ Account %s failed again (%s), giving up", accountID, kind)
	}

	switch kind {
	case KindUnauthorized:
		// The refresh network call only happens inside the retry budget;
		// on the final attempt the account is excluded outright.
		if !final && cred != nil && cred.RefreshToken != "" {
			if refreshed, err := c.refresher.Refresh(ctx, accountID, cred.RefreshToken); err == nil {
				log.Printf("🔄 Recovered 401 for account %s with a token refresh", accountID)
				return Decision{Retry: true, Refreshed: refreshed}
			}
		}
		c.markFailed(ctx, accountID, kind)
		return Decision{Retry: !final, ForceReselect: !final}

	case KindQuotaExceeded:
		c.markFailed(ctx, accountID, kind)
		return Decision{Retry: !final, ForceReselect: !final}

	case KindProviderUnavailable:
		// Server-side trouble is not the account's fault; no registry write.
		return Decision{Retry: !final, ForceReselect: !final}

	default:
		return Decision{Retry: !final, ForceReselect: !final}
	}
}

func (c *RetryCoordinator) markFailed(ctx context.Context, accountID string, kind ErrorKind) {
	if err := c.registry.MarkFailed(ctx, accountID); err != nil {
		log.Printf("⚠️ Failed to mark account %s as failed (%s): %v", accountID, kind, err)
	}
}
