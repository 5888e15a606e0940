// Package relay re-frames the provider's server-sent-event stream into an
// OpenAI chat.completion.chunk stream. It tolerates event frames split
// across arbitrary read boundaries and guarantees the output is always
// terminated by a `data: [DONE]` sentinel, even when the upstream fails
// mid-stream.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dataPrefix = "data: "

// Relay is per-streaming-request state: one relay per upstream response,
// destroyed when the source stream closes or the request is cancelled.
type Relay struct {
	model   string
	id      string
	created int64

	w       io.Writer
	flusher http.Flusher

	buf       string
	doneSent  bool
	chunksOut int
}

// New builds a relay for one request. model is the client's requested
// model, used to fill chunks the upstream leaves incomplete.
func New(model string, w io.Writer) *Relay {
	r := &Relay{
		model:   model,
		id:      "chatcmpl-" + uuid.New().String(),
		created: time.Now().Unix(),
		w:       w,
	}
	if f, ok := w.(http.Flusher); ok {
		r.flusher = f
	}
	return r
}

// Run consumes src until the terminal sentinel, an error, or ctx
// cancellation. Any abnormal end synthesizes one error-carrying chunk
// followed by the sentinel, so consumers always observe a well-formed,
// terminated stream. Returns the upstream read error, if any, for logging.
func (r *Relay) Run(ctx context.Context, src io.Reader) error {
	chunk := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			r.finishWithError("stream cancelled")
			return err
		}

		n, err := src.Read(chunk)
		if n > 0 {
			if r.feed(string(chunk[:n])) {
				return nil
			}
		}
		if err != nil {
			if err == io.EOF {
				// Upstream closed without [DONE].
				r.finishWithError("stream ended unexpectedly")
				return nil
			}
			r.finishWithError("upstream read error: " + err.Error())
			return err
		}
	}
}

// feed appends decoded text to the frame buffer and processes every
// complete line, holding back the trailing partial segment. Returns true
// once the terminal sentinel has been emitted.
func (r *Relay) feed(text string) bool {
	r.buf += text
	lines := strings.Split(r.buf, "\n")
	r.buf = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		if r.processLine(strings.TrimSuffix(line, "\r")) {
			return true
		}
	}
	return false
}

func (r *Relay) processLine(line string) bool {
	if strings.TrimSpace(line) == "" {
		return false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		// Comment lines and other SSE fields are not part of the
		// provider's framing; skip them.
		return false
	}
	payload := strings.TrimPrefix(line, dataPrefix)
	if strings.TrimSpace(payload) == "[DONE]" {
		r.writeDone()
		return true
	}

	var body map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &body); err != nil {
		// Malformed frame; drop it and keep relaying.
		return false
	}
	r.emit(r.normalize(body))
	return false
}

// normalize re-wraps an upstream payload into the outward envelope,
// filling in fields the upstream omits.
func (r *Relay) normalize(body map[string]interface{}) map[string]interface{} {
	body["object"] = "chat.completion.chunk"
	if id, ok := body["id"].(string); !ok || id == "" {
		body["id"] = r.id
	}
	if _, ok := body["created"]; !ok {
		body["created"] = r.created
	}
	if model, ok := body["model"].(string); !ok || model == "" {
		body["model"] = r.model
	}
	if _, ok := body["choices"]; !ok {
		body["choices"] = []interface{}{}
	}
	return body
}

func (r *Relay) emit(body map[string]interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	fmt.Fprintf(r.w, "data: %s\n\n", data)
	if r.flusher != nil {
		r.flusher.Flush()
	}
	r.chunksOut++
}

// finishWithError emits one synthetic error chunk and the terminal
// sentinel. No-op when the stream already terminated cleanly.
func (r *Relay) finishWithError(message string) {
	if r.doneSent {
		return
	}
	log.Printf("⚠️ Stream relay terminated abnormally after %d chunks: %s", r.chunksOut, message)
	r.emit(map[string]interface{}{
		"id":      r.id,
		"object":  "chat.completion.chunk",
		"created": r.created,
		"model":   r.model,
		"choices": []interface{}{
			map[string]interface{}{
				"index":         0,
				"delta":         map[string]interface{}{},
				"finish_reason": "error",
			},
		},
		"error": map[string]interface{}{
			"message": message,
			"type":    "relay_error",
		},
	})
	r.writeDone()
}

func (r *Relay) writeDone() {
	if r.doneSent {
		return
	}
	fmt.Fprint(r.w, "data: [DONE]\n\n")
	if r.flusher != nil {
		r.flusher.Flush()
	}
	r.doneSent = true
}

// ChunksEmitted reports how many chunks were written to the output,
// including a synthetic error chunk if one was needed.
func (r *Relay) ChunksEmitted() int { return r.chunksOut }
