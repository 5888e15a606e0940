package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/auth/token"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/config"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/models"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/pool"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/proxy/handlers"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/proxy/middleware"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/store"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/upstream"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/version"
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
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer st.Close()

	catalog, err := models.Load(cfg.ModelsFile)
	if err != nil {
		log.Fatalf("Failed to load model catalog: %v", err)
	}

	refresher := token.NewRefresher(st)
	registry := pool.NewFailureRegistry(st)
	selector := pool.NewSelector(st, registry, refresher)
	retry := pool.NewRetryCoordinator(registry, refresher)
	executor := pool.NewExecutor(selector, upstream.NewClient(), retry)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", handlers.HealthHandler())

	// OpenAI-compatible API
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIKey))
		r.Post("/chat/completions", handlers.ChatCompletionsHandler(executor))
		r.Get("/models", handlers.ModelsHandler(catalog))
	})

	// Debug introspection (protected if PROXY_ADMIN_PASSWORD is set)
	optionalAdminAuth := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminPassword == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || pass != cfg.AdminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="Qwen Proxy Admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(optionalAdminAuth)
		r.Get("/accounts", handlers.AccountsHandler(st, registry))
	})

	addr := cfg.Addr()
	log.Printf("🚀 qwen-worker-proxy %s starting on http://%s", version.Version, addr)
	log.Printf("🔌 OpenAI API: http://%s/v1 (store: %s)", addr, cfg.StoreBackend)
	if cfg.APIKey == "" {
		log.Printf("⚠️ PROXY_API_KEY is not set, /v1 is open to anyone who can reach %s", addr)
	}

	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
