// Package handlers is the thin OpenAI-compatible HTTP surface over the
// credential pool. Request and response bodies pass through unchanged;
// routing failures and pool errors are rendered as OpenAI error JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/aptdnfapt/qwen-worker-proxy/internal/logging"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/pool"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/relay"
	"github.com/aptdnfapt/qwen-worker-proxy/internal/upstream"
)

// ChatCompletionsHandler handles /v1/chat/completions. The body is
// forwarded verbatim; the executor owns account choice and retry.
func ChatCompletionsHandler(exec *pool.Executor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeOpenAIError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		if err := json.Unmarshal(bodyBytes, &req); err != nil {
			writeOpenAIError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			writeOpenAIError(w, "Missing model", http.StatusBadRequest)
			return
		}

		requestID := GetOrGenerateRequestID(r)
		ctx := logging.WithRequestID(r.Context(), requestID)

		result, err := exec.Execute(ctx, bodyBytes, req.Stream)
		if err != nil {
			writeExecuteError(w, requestID, err)
			return
		}
		defer result.Response.Body.Close()

		if req.Stream {
			SetSSEHeaders(w)
			rl := relay.New(req.Model, w)
			if err := rl.Run(ctx, result.Response.Body); err != nil {
				log.Printf("⚠️ [%s] Stream relay ended with error after %d chunks: %v", requestID, rl.ChunksEmitted(), err)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := io.Copy(w, result.Response.Body); err != nil {
			log.Printf("⚠️ [%s] Response copy error: %v", requestID, err)
		}
	}
}

// writeExecuteError translates pool errors into OpenAI error responses.
// Upstream errors keep their original status; the body is surfaced
// verbatim so clients see the provider's own message.
func writeExecuteError(w http.ResponseWriter, requestID string, err error) {
	if errors.Is(err, pool.ErrNoAccountsAvailable) {
		log.Printf("❌ [%s] %v", requestID, err)
		writeOpenAIError(w, "No accounts available. All accounts may have exceeded quota or have invalid credentials.", http.StatusServiceUnavailable)
		return
	}

	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		log.Printf("❌ [%s] Upstream error (status %d)", requestID, upErr.StatusCode)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(upErr.StatusCode)
		if json.Valid([]byte(upErr.Body)) {
			w.Write([]byte(upErr.Body))
		} else {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{
					"message": upErr.Body,
					"type":    "upstream_error",
					"code":    upErr.StatusCode,
				},
			})
		}
		return
	}

	log.Printf("❌ [%s] Provider call failed: %v", requestID, err)
	writeOpenAIError(w, "Upstream error: "+err.Error(), http.StatusBadGateway)
}
