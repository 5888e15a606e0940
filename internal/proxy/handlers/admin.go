package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/pool"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
)

// accountStatus is the operator view of one pooled account.
type accountStatus struct {
	ID              string  `json:"id"`
	ExpiresAt       string  `json:"expires_at"`
	MinutesLeft     float64 `json:"minutes_left"`
	Expired         bool    `json:"expired"`
	Failed          bool    `json:"failed"`
	HasRefreshToken bool    `json:"has_refresh_token"`
	ResourceURL     string  `json:"resource_url,omitempty"`
}

// AccountsHandler handles /admin/accounts: credential expiry state merged
// with the failed set, for debugging the pool.
func AccountsHandler(st store.Store, registry *pool.FailureRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ids, err := st.ListAccountIDs(ctx)
		if err != nil {
			writeOpenAIError(w, "Failed to list accounts: "+err.Error(), http.StatusInternalServerError)
			return
		}
		failed, err := registry.ListFailed(ctx)
		if err != nil {
			writeOpenAIError(w, "Failed to read failed set: "+err.Error(), http.StatusInternalServerError)
			return
		}
		failedSet := make(map[string]bool, len(failed))
		for _, id := range failed {
			failedSet[id] = true
		}

		sort.Strings(ids)
		now := time.Now()
		statuses := make([]accountStatus, 0, len(ids))
		for _, id := range ids {
			cred, err := st.GetCredential(ctx, id)
			if err != nil {
				if !errors.Is(err, store.ErrNotFound) {
					log.Printf("⚠️ Admin listing: account %s unreadable: %v", id, err)
				}
				continue
			}
			minutesLeft := cred.MinutesLeft(now)
			statuses = append(statuses, accountStatus{
				ID:              id,
				ExpiresAt:       cred.ExpiresAt().UTC().Format(time.RFC3339),
				MinutesLeft:     minutesLeft,
				Expired:         minutesLeft < 0,
				Failed:          failedSet[id],
				HasRefreshToken: cred.RefreshToken != "",
				ResourceURL:     cred.ResourceURL,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"accounts":     statuses,
			"failed_count": len(failed),
		})
	}
}
