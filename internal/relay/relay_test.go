package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

// chunkedReader hands out the source in fixed-size reads so tests can
// exercise frames split across arbitrary boundaries.
type chunkedReader struct {
	data []byte
	size int
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

// errAfterReader serves its data, then fails instead of returning EOF.
type errAfterReader struct {
	data []byte
	err  error
}

func (e *errAfterReader) Read(p []byte) (int, error) {
	if len(e.data) == 0 {
		return 0, e.err
	}
	n := copy(p, e.data)
	e.data = e.data[n:]
	return n, nil
}

func parseEvents(t *testing.T, out string) []map[string]interface{} {
	t.Helper()
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Fatalf("output not terminated by the [DONE] sentinel:\n%s", out)
	}
	var events []map[string]interface{}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var body map[string]interface{}
		if err := json.Unmarshal([]byte(payload), &body); err != nil {
			t.Fatalf("emitted frame is not valid JSON: %q: %v", payload, err)
		}
		events = append(events, body)
	}
	return events
}

const happyStream = `data: {"id":"u1","choices":[{"index":0,"delta":{"content":"hel"}}]}

data: {"id":"u1","choices":[{"index":0,"delta":{"content":"lo"}}]}

data: [DONE]

`

func TestRunRelaysChunksInOrder(t *testing.T) {
	// Sweep the read size so every possible split point inside a frame
	// is covered, including mid-"data: " and mid-JSON.
	for size := 1; size <= len(happyStream); size++ {
		var out bytes.Buffer
		r := New("qwen3-coder-plus", &out)
		src := &chunkedReader{data: []byte(happyStream), size: size}
		if err := r.Run(context.Background(), src); err != nil {
			t.Fatalf("size %d: Run: %v", size, err)
		}

		events := parseEvents(t, out.String())
		if len(events) != 2 {
			t.Fatalf("size %d: expected 2 chunks, got %d", size, len(events))
		}
		first, _ := events[0]["choices"].([]interface{})[0].(map[string]interface{})
		delta, _ := first["delta"].(map[string]interface{})
		if delta["content"] != "hel" {
			t.Fatalf("size %d: chunks out of order: %v", size, events)
		}
		if r.ChunksEmitted() != 2 {
			t.Fatalf("size %d: ChunksEmitted = %d, want 2", size, r.ChunksEmitted())
		}
	}
}

func TestRunNormalizesIncompleteChunks(t *testing.T) {
	src := strings.NewReader("data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":\"x\"}}]}\n\ndata: [DONE]\n\n")
	var out bytes.Buffer
	r := New("qwen3-coder-plus", &out)
	if err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}

	events := parseEvents(t, out.String())
	if len(events) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(events))
	}
	ev := events[0]
	if ev["object"] != "chat.completion.chunk" {
		t.Fatalf("object = %v", ev["object"])
	}
	id, _ := ev["id"].(string)
	if !strings.HasPrefix(id, "chatcmpl-") {
		t.Fatalf("id = %q, expected generated chatcmpl id", id)
	}
	if ev["model"] != "qwen3-coder-plus" {
		t.Fatalf("model = %v", ev["model"])
	}
	if _, ok := ev["created"]; !ok {
		t.Fatal("created not filled in")
	}
}

func TestRunDropsMalformedFrames(t *testing.T) {
	src := strings.NewReader("data: not-json\n\n: keepalive comment\n\ndata: {\"choices\":[]}\n\ndata: [DONE]\n\n")
	var out bytes.Buffer
	r := New("m", &out)
	if err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events := parseEvents(t, out.String())
	if len(events) != 1 {
		t.Fatalf("malformed and comment frames must be dropped, got %d chunks", len(events))
	}
}

func TestRunAbruptCloseEmitsErrorChunk(t *testing.T) {
	// Upstream dies mid-frame, no [DONE].
	src := strings.NewReader("data: {\"choices\":[]}\n\ndata: {\"choi")
	var out bytes.Buffer
	r := New("m", &out)
	if err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("EOF without sentinel is not a relay error: %v", err)
	}

	events := parseEvents(t, out.String())
	if len(events) != 2 {
		t.Fatalf("expected relayed chunk plus error chunk, got %d", len(events))
	}
	last := events[len(events)-1]
	errObj, ok := last["error"].(map[string]interface{})
	if !ok || errObj["type"] != "relay_error" {
		t.Fatalf("expected synthetic error chunk, got %v", last)
	}
	choices, _ := last["choices"].([]interface{})
	if len(choices) != 1 {
		t.Fatalf("error chunk choices = %v", choices)
	}
	if fr := choices[0].(map[string]interface{})["finish_reason"]; fr != "error" {
		t.Fatalf("finish_reason = %v", fr)
	}
}

func TestRunReadErrorSurfacesAndTerminates(t *testing.T) {
	readErr := errors.New("connection reset")
	src := &errAfterReader{data: []byte("data: {\"choices\":[]}\n\n"), err: readErr}
	var out bytes.Buffer
	r := New("m", &out)
	if err := r.Run(context.Background(), src); !errors.Is(err, readErr) {
		t.Fatalf("expected read error surfaced, got %v", err)
	}
	events := parseEvents(t, out.String())
	if _, ok := events[len(events)-1]["error"]; !ok {
		t.Fatalf("expected trailing error chunk, got %v", events)
	}
}

func TestRunCancellationTerminatesStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	r := New("m", &out)
	if err := r.Run(ctx, strings.NewReader("data: {\"choices\":[]}\n\n")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	events := parseEvents(t, out.String())
	if len(events) != 1 {
		t.Fatalf("expected only the error chunk, got %d", len(events))
	}
}

func TestRunStopsReadingAfterDone(t *testing.T) {
	src := strings.NewReader("data: [DONE]\n\ndata: {\"choices\":[]}\n\n")
	var out bytes.Buffer
	r := New("m", &out)
	if err := r.Run(context.Background(), src); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := r.ChunksEmitted(); got != 0 {
		t.Fatalf("frames after the sentinel must not be relayed, got %d chunks", got)
	}
	if !strings.HasSuffix(out.String(), "data: [DONE]\n\n") {
		t.Fatalf("missing sentinel:\n%s", out.String())
	}
}
