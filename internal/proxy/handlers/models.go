package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/models"
)

// ModelsHandler handles /v1/models with the advertised catalog.
func ModelsHandler(catalog []models.Model) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"object": "list",
			"data":   catalog,
		})
	}
}

// HealthHandler handles /health.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
