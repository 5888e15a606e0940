package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newRedisTestStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := NewRedisStoreFromClient(rdb)
	t.Cleanup(func() { st.Close() })
	return st
}

// backends runs the same conformance checks against every Store
// implementation.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"sqlite": newSQLiteTestStore(t),
		"redis":  newRedisTestStore(t),
	}
}

func TestCredentialRoundTrip(t *testing.T) {
	cred := &Credential{
		AccessToken:  "at-123",
		RefreshToken: "rt-456",
		Scope:        "openid profile email model.completion",
		TokenType:    "Bearer",
		ExpiryDate:   1735689600000,
		ResourceURL:  "portal.qwen.ai",
	}

	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.PutCredential(ctx, "acc-1", cred); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, err := st.GetCredential(ctx, "acc-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !reflect.DeepEqual(got, cred) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, cred)
			}
		})
	}
}

func TestCredentialWireFormat(t *testing.T) {
	cred := &Credential{
		AccessToken:  "at",
		RefreshToken: "rt",
		Scope:        "openid",
		TokenType:    "Bearer",
		ExpiryDate:   42,
		ResourceURL:  "portal.qwen.ai",
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"access_token":"at","refresh_token":"rt","scope":"openid","token_type":"Bearer","expiry_date":42,"resource_url":"portal.qwen.ai"}`
	if string(raw) != want {
		t.Fatalf("wire format mismatch:\n got %s\nwant %s", raw, want)
	}

	// resource_url is optional and must vanish when empty.
	cred.ResourceURL = ""
	raw, _ = json.Marshal(cred)
	if string(raw) != `{"access_token":"at","refresh_token":"rt","scope":"openid","token_type":"Bearer","expiry_date":42}` {
		t.Fatalf("empty resource_url should be omitted, got %s", raw)
	}
}

func TestGetCredentialAbsent(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.GetCredential(context.Background(), "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestPutCredentialOverwrites(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.PutCredential(ctx, "acc-1", &Credential{AccessToken: "old"}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := st.PutCredential(ctx, "acc-1", &Credential{AccessToken: "new"}); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := st.GetCredential(ctx, "acc-1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.AccessToken != "new" {
				t.Fatalf("expected last writer to win, got %q", got.AccessToken)
			}
		})
	}
}

func TestListAccountIDs(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ids, err := st.ListAccountIDs(ctx)
			if err != nil {
				t.Fatalf("list empty: %v", err)
			}
			if len(ids) != 0 {
				t.Fatalf("expected no accounts, got %v", ids)
			}

			for _, id := range []string{"b", "a", "c"} {
				if err := st.PutCredential(ctx, id, &Credential{AccessToken: id}); err != nil {
					t.Fatalf("put %s: %v", id, err)
				}
			}
			// The failed set and reset date must not leak into the listing.
			if err := st.SetFailedSet(ctx, []string{"a"}); err != nil {
				t.Fatalf("set failed set: %v", err)
			}
			if err := st.SetLastResetDate(ctx, "2026-08-28"); err != nil {
				t.Fatalf("set reset date: %v", err)
			}

			ids, err = st.ListAccountIDs(ctx)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			sort.Strings(ids)
			if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
				t.Fatalf("expected [a b c], got %v", ids)
			}
		})
	}
}

func TestFailedSet(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			got, err := st.GetFailedSet(ctx)
			if err != nil {
				t.Fatalf("get absent: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("absent set should read empty, got %v", got)
			}

			if err := st.SetFailedSet(ctx, []string{"a", "b"}); err != nil {
				t.Fatalf("set: %v", err)
			}
			got, err = st.GetFailedSet(ctx)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if !reflect.DeepEqual(got, []string{"a", "b"}) {
				t.Fatalf("expected [a b], got %v", got)
			}

			// Clearing writes the empty string, which reads back empty.
			if err := st.SetFailedSet(ctx, nil); err != nil {
				t.Fatalf("clear: %v", err)
			}
			got, err = st.GetFailedSet(ctx)
			if err != nil {
				t.Fatalf("get cleared: %v", err)
			}
			if len(got) != 0 {
				t.Fatalf("cleared set should be empty, got %v", got)
			}
		})
	}
}

func TestLastResetDate(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			date, err := st.GetLastResetDate(ctx)
			if err != nil {
				t.Fatalf("get absent: %v", err)
			}
			if date != "" {
				t.Fatalf("absent date should read empty, got %q", date)
			}
			if err := st.SetLastResetDate(ctx, "2026-08-27"); err != nil {
				t.Fatalf("set: %v", err)
			}
			date, err = st.GetLastResetDate(ctx)
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if date != "2026-08-27" {
				t.Fatalf("expected 2026-08-27, got %q", date)
			}
		})
	}
}

func TestDeleteCredential(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := st.PutCredential(ctx, "acc-1", &Credential{AccessToken: "at"}); err != nil {
				t.Fatalf("put: %v", err)
			}
			if err := st.DeleteCredential(ctx, "acc-1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := st.GetCredential(ctx, "acc-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
		})
	}
}

func TestMinutesLeft(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		expiry time.Time
		want   float64
	}{
		{name: "one hour left", expiry: now.Add(time.Hour), want: 60},
		{name: "expired", expiry: now.Add(-30 * time.Minute), want: -30},
		{name: "exactly now", expiry: now, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := &Credential{ExpiryDate: tt.expiry.UnixMilli()}
			if got := cred.MinutesLeft(now); got != tt.want {
				t.Fatalf("expected %v minutes, got %v", tt.want, got)
			}
		})
	}
}
