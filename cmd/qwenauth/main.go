// Command qwenauth provisions pooled accounts: it runs the OAuth device
// flow against chat.qwen.ai and writes the resulting credential into the
// proxy's credential store.
//
// Usage:
//
//	qwenauth login              # authorize a new account
//	qwenauth list               # list stored accounts
//	qwenauth remove <accountID> # delete a stored account
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/auth/qwen"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/config"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
)

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		return store.NewRedisStore(cfg.RedisURL)
	default:
		return store.NewSQLiteStore(cfg.SQLitePath)
	}
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch os.Args[1] {
	case "login":
		result, err := qwen.DeviceLogin(ctx, st)
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		fmt.Printf("Account %s stored in %s backend\n", result.AccountID, cfg.StoreBackend)

	case "list":
		ids, err := st.ListAccountIDs(ctx)
		if err != nil {
			log.Fatalf("Failed to list accounts: %v", err)
		}
		if len(ids) == 0 {
			fmt.Println("No accounts stored. Run `qwenauth login` first.")
			return
		}
		sort.Strings(ids)
		now := time.Now()
		for _, id := range ids {
			cred, err := st.GetCredential(ctx, id)
			if err != nil {
				fmt.Printf("%s  (unreadable: %v)\n", id, err)
				continue
			}
			state := "valid"
			if cred.MinutesLeft(now) < 0 {
				state = "expired"
			}
			fmt.Printf("%s  %s  expires %s\n", id, state, cred.ExpiresAt().UTC().Format(time.RFC3339))
		}

	case "remove":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		if err := st.DeleteCredential(ctx, os.Args[2]); err != nil {
			log.Fatalf("Failed to remove account: %v", err)
		}
		fmt.Printf("Account %s removed\n", os.Args[2])

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: qwenauth <login|list|remove> [accountID]")
}
