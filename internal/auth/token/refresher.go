// Package token exchanges refresh tokens for fresh access tokens and
// persists the result.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/auth/qwen"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
)

// refreshTimeout bounds one refresh grant; the caller's context may carry
// a tighter deadline.
const refreshTimeout = 30 * time.Second

// RefreshError reports a failed refresh-token grant. StatusCode is the
// token endpoint's HTTP status when one was received, 0 for transport
// failures.
type RefreshError struct {
	AccountID  string
	StatusCode int
	Err        error
}

func (e *RefreshError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("token refresh failed for account %s (status %d): %v", e.AccountID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("token refresh failed for account %s: %v", e.AccountID, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// Refresher performs synchronous refresh-token grants against the Qwen
// token endpoint. It has no retry loop: repeating a refresh against the
// same refresh token either succeeds again or fails again, and the caller
// owns the fallback policy.
type Refresher struct {
	store store.Store
	cfg   *oauth2.Config
	// httpClient performs the grant; injected onto the per-call context
	// via oauth2.HTTPClient so cancellation still comes from the caller.
	httpClient *http.Client
}

// NewRefresher builds a refresher over the given store using the standard
// Qwen OAuth config.
func NewRefresher(st store.Store) *Refresher {
	return NewRefresherWithConfig(st, qwen.GetOAuthConfig(), nil)
}

// NewRefresherWithConfig allows tests to point the grant at a fake token
// endpoint and swap the HTTP client.
func NewRefresherWithConfig(st store.Store, cfg *oauth2.Config, httpClient *http.Client) *Refresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: refreshTimeout}
	}
	return &Refresher{store: st, cfg: cfg, httpClient: httpClient}
}

// Refresh exchanges refreshToken for a new access token, persists the new
// credential and returns it. The refresh token is replaced only when the
// provider rotates it; the per-account resource_url survives refreshes
// that omit it.
func (r *Refresher) Refresh(ctx context.Context, accountID, refreshToken string) (*store.Credential, error) {
	// The grant inherits the caller's deadline and cancellation.
	callCtx := context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	src := r.cfg.TokenSource(callCtx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		refreshErr := &RefreshError{AccountID: accountID, Err: err}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			refreshErr.StatusCode = retrieveErr.Response.StatusCode
		}
		log.Printf("❌ Refresh token failed for account %s: %v", accountID, err)
		return nil, refreshErr
	}

	cred := qwen.CredentialFromToken(tok)
	if cred.RefreshToken == "" {
		cred.RefreshToken = refreshToken
	} else if cred.RefreshToken != refreshToken {
		log.Printf("🔄 Rotating refresh token for account %s", accountID)
	}

	// Carry forward fields the refresh response may omit.
	if prior, err := r.store.GetCredential(ctx, accountID); err == nil {
		if cred.ResourceURL == "" {
			cred.ResourceURL = prior.ResourceURL
		}
		if cred.Scope == "" {
			cred.Scope = prior.Scope
		}
	}

	if err := r.store.PutCredential(ctx, accountID, cred); err != nil {
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}

	log.Printf("✅ Refreshed token for account %s (expires %s)", accountID, cred.ExpiresAt().Format("15:04:05"))
	return cred, nil
}
