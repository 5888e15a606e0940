// Package store persists per-account OAuth credentials and the shared
// failed-account bookkeeping behind a flat key/value layout, so the same
// logical schema works against Redis (shared, multi-instance) and SQLite
// (local, single-instance).
//
// The store is deliberately lock-free: concurrent writers to the same key
// race and the last writer wins. Running many stateless proxy instances
// against one shared store without coordination is the point of the
// design; the selection policy keeps the collision probability low rather
// than eliminating it.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Key layout shared by all backends.
const (
	accountKeyPrefix   = "ACCOUNT:"
	failedAccountsKey  = "FAILED_ACCOUNTS"
	lastFailedResetKey = "LAST_FAILED_RESET_DATE"
)

// ErrNotFound is returned when no credential exists for an account id.
var ErrNotFound = errors.New("store: credential not found")

// Credential is one provider account's OAuth state as stored on the wire.
// ExpiryDate is Unix milliseconds (wall clock after which the access token
// must be treated as unusable without a refresh).
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	ExpiryDate   int64  `json:"expiry_date"`
	ResourceURL  string `json:"resource_url,omitempty"`
}

// ExpiresAt converts the stored millisecond timestamp to wall-clock time.
func (c *Credential) ExpiresAt() time.Time {
	return time.UnixMilli(c.ExpiryDate)
}

// MinutesLeft reports how many minutes of validity remain at now.
// Negative values mean the token is already expired.
func (c *Credential) MinutesLeft(now time.Time) float64 {
	return float64(c.ExpiryDate-now.UnixMilli()) / 60000.0
}

// Store is the durable credential backend used by the pool. Implementations
// must tolerate concurrent writers (last writer wins, no errors on
// overwrite races).
type Store interface {
	// GetCredential loads one account's credential. Returns ErrNotFound
	// when the account has no stored credential.
	GetCredential(ctx context.Context, accountID string) (*Credential, error)

	// PutCredential overwrites one account's credential (idempotent).
	PutCredential(ctx context.Context, accountID string, cred *Credential) error

	// DeleteCredential removes one account. Used by the provisioning CLI
	// only; the proxy core never deletes.
	DeleteCredential(ctx context.Context, accountID string) error

	// ListAccountIDs enumerates all known account ids.
	ListAccountIDs(ctx context.Context) ([]string, error)

	// GetFailedSet returns the account ids currently excluded from
	// selection. An absent key reads as the empty set.
	GetFailedSet(ctx context.Context) ([]string, error)

	// SetFailedSet overwrites the failed-account set.
	SetFailedSet(ctx context.Context, ids []string) error

	// GetLastResetDate returns the UTC calendar date (YYYY-MM-DD) the
	// failed set was last cleared, or "" when never set.
	GetLastResetDate(ctx context.Context) (string, error)

	// SetLastResetDate records the UTC calendar date of the last clear.
	SetLastResetDate(ctx context.Context, date string) error

	// Close releases the underlying connection.
	Close() error
}

// AccountKey builds the storage key for one account id.
func AccountKey(accountID string) string {
	return accountKeyPrefix + accountID
}

func encodeFailedSet(ids []string) string {
	return strings.Join(ids, ",")
}

func decodeFailedSet(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
