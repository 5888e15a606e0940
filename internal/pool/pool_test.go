package pool

import (
	"context"
	"errors"
	"sync"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
)

// fakeStore is an in-memory store.Store for pool tests.
type fakeStore struct {
	mu        sync.Mutex
	creds     map[string]*store.Credential
	orphanIDs []string
	failed    []string
	resetDate string
}

func newFakeStore() *fakeStore {
	return &fakeStore{creds: make(map[string]*store.Credential)}
}

func (f *fakeStore) GetCredential(ctx context.Context, accountID string) (*store.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *cred
	return &cp, nil
}

func (f *fakeStore) PutCredential(ctx context.Context, accountID string, cred *store.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *cred
	f.creds[accountID] = &cp
	return nil
}

func (f *fakeStore) DeleteCredential(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creds, accountID)
	return nil
}

func (f *fakeStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.creds)+len(f.orphanIDs))
	for id := range f.creds {
		ids = append(ids, id)
	}
	ids = append(ids, f.orphanIDs...)
	return ids, nil
}

func (f *fakeStore) GetFailedSet(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.failed...), nil
}

func (f *fakeStore) SetFailedSet(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append([]string(nil), ids...)
	return nil
}

func (f *fakeStore) GetLastResetDate(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resetDate, nil
}

func (f *fakeStore) SetLastResetDate(ctx context.Context, date string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetDate = date
	return nil
}

func (f *fakeStore) Close() error { return nil }

// fakeRefresher records refresh calls and returns a canned result.
type fakeRefresher struct {
	mu     sync.Mutex
	calls  []string
	result *store.Credential
	err    error
}

func (f *fakeRefresher) Refresh(ctx context.Context, accountID, refreshToken string) (*store.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, accountID)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		cp := *f.result
		return &cp, nil
	}
	return nil, errors.New("fakeRefresher: no result configured")
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
